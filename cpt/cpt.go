//
// Copyright: (C) 2020 Nestybox Inc.  All rights reserved.
//

// Package cpt implements the capability table component: a
// fixed-size array of capability.Slot plus the five syscall handlers
// (Crt/Del/Frz/Add/Rem) that create, destroy, freeze and delegate
// entries within it.
package cpt

import (
	"github.com/nestybox/rmekernel/atomics"
	"github.com/nestybox/rmekernel/capability"
	"github.com/nestybox/rmekernel/kernelerr"
	"github.com/nestybox/rmekernel/kot"
	"github.com/pkg/errors"
)

// Table is one capability table: a fixed-size array of slots plus the
// slot header describing the table itself as a capability (so a Cpt
// can be named and delegated like any other kernel object).
type Table struct {
	capability.Slot // this table's own header, when it is itself a capability

	Entries []capability.Slot
	addr    uint64 // KOT-marked backing address
	size    uint64 // KOT-marked backing size
}

// entrySize is the KOT accounting unit per capability-table slot.
const entrySize = 64

// Per-operation bits for a Cpt capability's Flag. Del/Frz gate this
// package's own Cpt_Del/Cpt_Frz; Cpt_Add/Cpt_Rem are gated generically
// by capability.Delegate/Undelegate instead (Add checks the source
// capability's own Flag regardless of type, Rem checks
// capability.FlagRemovable).
const (
	FlagDel uint32 = 1 << iota
	FlagFrz
	FlagAdd
	FlagRem
)

// Crt creates a new capability table of n entries inside the empty
// dst slot, backed by memory marked in kot. entryMax bounds n (read
// from config.Params.CptEntryMax by the caller) so later deletion scans
// stay bounded.
func Crt(dst *capability.Slot, k *kot.Table, n uint32, entryMax uint32, clock *atomics.Clock) (*Table, error) {
	if n == 0 || n > entryMax {
		return nil, kernelerr.New(kernelerr.CptRange, "entry count out of bounds")
	}
	if !dst.Occupy() {
		return nil, kernelerr.New(kernelerr.CptExist, "destination slot is occupied")
	}

	size := uint64(n) * entrySize
	addr, err := k.Alloc(size)
	if err != nil {
		dst.Rollback()
		return nil, kernelerr.Newf(kernelerr.CptKot, "KOT allocation failed: %s", err)
	}

	tbl := &Table{
		Entries: make([]capability.Slot, n),
		addr:    addr,
		size:    size,
	}
	dst.Object = tbl
	dst.Flag = FlagDel | FlagFrz | FlagAdd | FlagRem | capability.FlagRemovable
	dst.Publish(capability.TypeCpt, capability.AttrRoot, clock.Now())
	return tbl, nil
}

// Del deletes a capability table: the slot must already be frozen and
// quiescent, its refcnt zero, and every entry inside empty.
func Del(slot *capability.Slot, k *kot.Table, quieTime uint64, now uint64) error {
	if slot.Type() != capability.TypeCpt {
		return kernelerr.New(kernelerr.CptNull, "no such capability table")
	}
	if err := slot.CheckFlagSubset(FlagDel); err != nil {
		return err
	}
	if slot.Status() != capability.Frozen {
		return kernelerr.New(kernelerr.CptFrozen, "capability table is not frozen")
	}
	tbl, ok := slot.Object.(*Table)
	if !ok {
		return kernelerr.New(kernelerr.CptNull, "slot does not hold a capability table")
	}
	for i := range tbl.Entries {
		if tbl.Entries[i].Status() != capability.Empty {
			return kernelerr.New(kernelerr.CptExist, "capability table still has live entries")
		}
	}
	if err := slot.Delete(capability.TypeCpt, capability.AttrRoot, now, quieTime); err != nil {
		return err
	}
	if err := k.Erase(tbl.addr, tbl.size); err != nil {
		return errors.Wrap(err, "KOT erase after capability-table delete")
	}
	return nil
}

// Frz freezes a capability table slot, the first step before Del.
func Frz(slot *capability.Slot, now uint64) error {
	if err := capability.GetTyped(slot, capability.TypeCpt, FlagFrz); err != nil {
		return err
	}
	return slot.Freeze(capability.TypeCpt, capability.AttrRoot, now)
}

// Add delegates a capability from src into the empty dst slot of this
// table, narrowing its flags (and range, where applicable).
func Add(src, dst *capability.Slot, narrowFlags, rangeLo, rangeHi uint32, now uint64) error {
	return capability.Delegate(src, dst, narrowFlags, rangeLo, rangeHi, now)
}

// Rem un-delegates a leaf capability entry, running it through the
// same freeze/quiescence/delete path as a root delete.
func Rem(slot *capability.Slot, clock *atomics.Clock, quieTime uint64) error {
	return capability.Undelegate(slot, clock, quieTime)
}

// EntryAt returns a pointer to the table's nth slot, used by the
// dispatcher to resolve the inner slot of a 2-level capability ID.
func (t *Table) EntryAt(n uint32) (*capability.Slot, error) {
	if n >= uint32(len(t.Entries)) {
		return nil, kernelerr.New(kernelerr.CptNull, "entry index out of range")
	}
	return &t.Entries[n], nil
}

// Len returns the table's fixed entry count.
func (t *Table) Len() int {
	return len(t.Entries)
}

// FromSlot resolves a capability slot into its Table, for the
// dispatcher to reach a process's Cpt entries from its Cpt capability.
// This is pure navigation (no operation is performed on the table
// itself), so it requires no particular Flag bit.
func FromSlot(slot *capability.Slot) (*Table, error) {
	if err := capability.GetTyped(slot, capability.TypeCpt, 0); err != nil {
		return nil, err
	}
	tbl, ok := slot.Object.(*Table)
	if !ok {
		return nil, kernelerr.New(kernelerr.CptNull, "slot does not hold a capability table")
	}
	return tbl, nil
}
