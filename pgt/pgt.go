//
// Copyright: (C) 2020 Nestybox Inc.  All rights reserved.
//

// Package pgt implements the page-table component: HAL-backed page
// tables with parent/child refcount accounting, narrowable-permission
// mapping, and nested sub-table construction/destruction.
package pgt

import (
	"github.com/nestybox/rmekernel/atomics"
	"github.com/nestybox/rmekernel/capability"
	"github.com/nestybox/rmekernel/hal"
	"github.com/nestybox/rmekernel/kernelerr"
	"github.com/pkg/errors"
)

// Table is one page table: the HAL-owned hardware state plus the
// in-kernel construction-link counters the HAL never sees.
type Table struct {
	arch hal.Arch
	hw   hal.Pgtbl

	baseAddr  uint64
	isTop     bool
	sizeOrder uint
	numOrder  uint

	parentCount uint32 // incremented by Con on a parent, decremented by Des
	childCount  uint32 // incremented by Con on a child, decremented by Des
}

// Per-operation bits for a Pgt capability's Flag. Add/Rem/Con/Des gate
// this package's own page-mapping operations (distinct from
// capability.FlagRemovable, which gates un-delegating the Pgt
// capability itself via Cpt_Rem); Del/Frz gate the table's own
// capability lifecycle.
const (
	FlagAdd uint32 = 1 << iota
	FlagRem
	FlagCon
	FlagDes
	FlagDel
	FlagFrz
)

// Crt creates a new page table in the empty dst slot.
// (size_order + num_order) must fit a machine word, checked by the
// HAL; top-level tables get kernel mappings merged in at init.
func Crt(dst *capability.Slot, arch hal.Arch, baseAddr uint64, isTop bool, sizeOrder, numOrder uint, now uint64) (*Table, error) {
	if err := arch.PgtCheck(sizeOrder, numOrder); err != nil {
		return nil, kernelerr.New(kernelerr.PgtHw, err.Error())
	}
	if !dst.Occupy() {
		return nil, kernelerr.New(kernelerr.CptExist, "destination slot is occupied")
	}

	hw, err := arch.PgtInit(sizeOrder, numOrder)
	if err != nil {
		dst.Rollback()
		return nil, errors.Wrap(kernelerr.New(kernelerr.PgtOpfail, "HAL page-table init failed"), err.Error())
	}
	if isTop {
		if err := arch.KomInit(hw); err != nil {
			dst.Rollback()
			return nil, errors.Wrap(kernelerr.New(kernelerr.PgtOpfail, "HAL kernel-mapping merge failed"), err.Error())
		}
	}

	tbl := &Table{
		arch:      arch,
		hw:        hw,
		baseAddr:  baseAddr,
		isTop:     isTop,
		sizeOrder: sizeOrder,
		numOrder:  numOrder,
	}
	dst.Object = tbl
	dst.Flag = FlagAdd | FlagRem | FlagCon | FlagDes | FlagDel | FlagFrz | capability.FlagRemovable
	dst.Publish(capability.TypePgt, capability.AttrRoot, now)
	return tbl, nil
}

// Del deletes a frozen page table: its HAL state must have no mappings
// left, and neither parent nor child construction link may be
// outstanding.
func Del(slot *capability.Slot, now, quieTime uint64) error {
	if slot.Type() != capability.TypePgt {
		return kernelerr.New(kernelerr.CptNull, "no such page table")
	}
	if err := slot.CheckFlagSubset(FlagDel); err != nil {
		return err
	}
	tbl, ok := slot.Object.(*Table)
	if !ok {
		return kernelerr.New(kernelerr.CptNull, "slot does not hold a page table")
	}
	if atomics.AcquireLoad32(&tbl.parentCount) != 0 || atomics.AcquireLoad32(&tbl.childCount) != 0 {
		return kernelerr.New(kernelerr.PgtMap, "page table still has construction links")
	}
	if err := tbl.arch.PgtDelCheck(tbl.hw); err != nil {
		return kernelerr.New(kernelerr.PgtMap, err.Error())
	}
	if slot.Status() != capability.Frozen {
		return kernelerr.New(kernelerr.CptFrozen, "page table is not frozen")
	}
	return slot.Delete(capability.TypePgt, capability.AttrRoot, now, quieTime)
}

// Frz freezes a page-table slot.
func Frz(slot *capability.Slot, now uint64) error {
	if _, err := resolve(slot, FlagFrz); err != nil {
		return err
	}
	return slot.Freeze(capability.TypePgt, capability.AttrRoot, now)
}

// Add maps a physical sub-frame at index into the table named by
// slot, narrowing the permission bits (read/write/execute subset of
// the capability's own grant) against want.
func Add(slot *capability.Slot, index, phys uint64, want hal.PermBits) error {
	tbl, err := resolve(slot, FlagAdd)
	if err != nil {
		return err
	}
	if uint32(want)&^slot.Flag != 0 {
		return kernelerr.New(kernelerr.PgtPerm, "requested permission not granted by capability")
	}
	if err := tbl.arch.PageMap(tbl.hw, index, phys, want); err != nil {
		return kernelerr.New(kernelerr.PgtAddr, err.Error())
	}
	return nil
}

// Rem unmaps a physical sub-frame from the table named by slot.
func Rem(slot *capability.Slot, index uint64) error {
	tbl, err := resolve(slot, FlagRem)
	if err != nil {
		return err
	}
	if err := tbl.arch.PageUnmap(tbl.hw, index); err != nil {
		return kernelerr.New(kernelerr.PgtAddr, err.Error())
	}
	return nil
}

// Con nests child into parent at index: a page-directory entry rather
// than a leaf mapping. Both tables' construction-link counts are
// incremented so neither can be destroyed while connected.
func Con(parentSlot, childSlot *capability.Slot, index uint64) error {
	parent, err := resolve(parentSlot, FlagCon)
	if err != nil {
		return err
	}
	child, err := resolve(childSlot, FlagCon)
	if err != nil {
		return err
	}
	if parent.arch.PgtCheck(child.sizeOrder, child.numOrder) != nil {
		return kernelerr.New(kernelerr.PgtHw, "child page table incompatible with parent HAL")
	}
	if err := parent.arch.PgdirMap(parent.hw, index, child.hw); err != nil {
		return kernelerr.New(kernelerr.PgtMap, err.Error())
	}
	atomics.FetchAdd32(&parent.childCount, 1)
	atomics.FetchAdd32(&child.parentCount, 1)
	return nil
}

// Des tears down a nesting created by Con, decrementing both tables'
// construction-link counts.
func Des(parentSlot, childSlot *capability.Slot, index uint64) error {
	parent, err := resolve(parentSlot, FlagDes)
	if err != nil {
		return err
	}
	child, err := resolve(childSlot, FlagDes)
	if err != nil {
		return err
	}
	if err := parent.arch.PgdirUnmap(parent.hw, index); err != nil {
		return kernelerr.New(kernelerr.PgtMap, err.Error())
	}
	atomics.FetchAdd32(&parent.childCount, -1)
	atomics.FetchAdd32(&child.parentCount, -1)
	return nil
}

// Lookup resolves index to its mapped physical address and
// permissions, used by the fault path and introspection tooling.
func Lookup(slot *capability.Slot, index uint64) (uint64, hal.PermBits, error) {
	// Read-only traversal (used by the fault path and introspection), so
	// no operation-specific bit is required.
	tbl, err := resolve(slot, 0)
	if err != nil {
		return 0, 0, err
	}
	phys, perm, ok := tbl.arch.Lookup(tbl.hw, index)
	if !ok {
		return 0, 0, kernelerr.New(kernelerr.PgtAddr, "index not mapped")
	}
	return phys, perm, nil
}

func resolve(slot *capability.Slot, wantFlags uint32) (*Table, error) {
	if err := capability.GetTyped(slot, capability.TypePgt, wantFlags); err != nil {
		return nil, err
	}
	tbl, ok := slot.Object.(*Table)
	if !ok {
		return nil, kernelerr.New(kernelerr.CptNull, "slot does not hold a page table")
	}
	return tbl, nil
}

// FromSlot resolves a capability slot into its Table, for callers
// outside this package that only hold the slot and are navigating to
// it rather than performing a gated operation on it.
func FromSlot(slot *capability.Slot) (*Table, error) {
	return resolve(slot, 0)
}
