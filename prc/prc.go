//
// Copyright: (C) 2020 Nestybox Inc.  All rights reserved.
//

// Package prc implements the process component: a binding of exactly
// one capability table and one page table, each held by reference so
// neither can be torn down while a process still names it.
package prc

import (
	"unsafe"

	"github.com/nestybox/rmekernel/atomics"
	"github.com/nestybox/rmekernel/capability"
	"github.com/nestybox/rmekernel/kernelerr"
)

// Process binds one Cpt and one Pgt capability. Cpt/Pgt are stored as
// unsafe.Pointer to *capability.Slot so Prc_Cpt/Prc_Pgt can CAS-swap
// them without this package importing cpt/pgt (which would create an
// import cycle, since both depend on capability, not on prc).
type Process struct {
	cptSlot unsafe.Pointer // *capability.Slot
	pgtSlot unsafe.Pointer // *capability.Slot
}

// Per-operation bits for a Prc capability's Flag.
const (
	FlagSetCpt uint32 = 1 << iota
	FlagSetPgt
	FlagDel
	FlagFrz
)

// Crt creates a new process in the empty dst slot, bound to cpt and
// pgt; both are referenced via AddRef so neither's root can be frozen
// or deleted while this process still names it.
func Crt(dst *capability.Slot, cpt, pgt *capability.Slot, now uint64) (*Process, error) {
	if cpt.Status() != capability.Valid || cpt.Type() != capability.TypeCpt {
		return nil, kernelerr.New(kernelerr.CptNull, "cpt capability not valid")
	}
	if pgt.Status() != capability.Valid || pgt.Type() != capability.TypePgt {
		return nil, kernelerr.New(kernelerr.CptNull, "pgt capability not valid")
	}
	if !dst.Occupy() {
		return nil, kernelerr.New(kernelerr.CptExist, "destination slot is occupied")
	}

	cpt.AddRef()
	pgt.AddRef()

	p := &Process{
		cptSlot: unsafe.Pointer(cpt),
		pgtSlot: unsafe.Pointer(pgt),
	}
	dst.Object = p
	dst.Flag = FlagSetCpt | FlagSetPgt | FlagDel | FlagFrz | capability.FlagRemovable
	dst.Publish(capability.TypePrc, capability.AttrRoot, now)
	return p, nil
}

// Del deletes a frozen process; its Cpt and Pgt references are released.
func Del(slot *capability.Slot, now, quieTime uint64) error {
	if slot.Type() != capability.TypePrc {
		return kernelerr.New(kernelerr.CptNull, "no such process")
	}
	if err := slot.CheckFlagSubset(FlagDel); err != nil {
		return err
	}
	if slot.Status() != capability.Frozen {
		return kernelerr.New(kernelerr.CptFrozen, "process is not frozen")
	}
	p, ok := slot.Object.(*Process)
	if !ok {
		return kernelerr.New(kernelerr.CptNull, "slot does not hold a process")
	}
	if err := slot.Delete(capability.TypePrc, capability.AttrRoot, now, quieTime); err != nil {
		return err
	}
	p.Cpt().DropRef()
	p.Pgt().DropRef()
	return nil
}

// Frz freezes a process slot.
func Frz(slot *capability.Slot, now uint64) error {
	if _, err := resolve(slot, FlagFrz); err != nil {
		return err
	}
	return slot.Freeze(capability.TypePrc, capability.AttrRoot, now)
}

// Cpt returns the process's bound capability-table slot.
func (p *Process) Cpt() *capability.Slot {
	return (*capability.Slot)(atomics.LoadPointer(&p.cptSlot))
}

// Pgt returns the process's bound page-table slot.
func (p *Process) Pgt() *capability.Slot {
	return (*capability.Slot)(atomics.LoadPointer(&p.pgtSlot))
}

// SetCpt implements Prc_Cpt: CAS-replaces the process's Cpt binding.
// The loser of a concurrent replace gets PTH_CONFLICT; the winner's
// new capability is increffed before the old one is decreffed so the
// old table is never observably unreferenced mid-swap.
func SetCpt(slot *capability.Slot, newCpt *capability.Slot) error {
	p, err := resolve(slot, FlagSetCpt)
	if err != nil {
		return err
	}
	if newCpt.Status() != capability.Valid || newCpt.Type() != capability.TypeCpt {
		return kernelerr.New(kernelerr.CptNull, "replacement cpt capability not valid")
	}
	old := p.Cpt()
	newCpt.AddRef()
	if !atomics.CASPointer(&p.cptSlot, unsafe.Pointer(old), unsafe.Pointer(newCpt)) {
		newCpt.DropRef()
		return kernelerr.New(kernelerr.PthConflict, "concurrent Prc_Cpt replace")
	}
	old.DropRef()
	return nil
}

// SetPgt implements Prc_Pgt: CAS-replaces the process's Pgt binding.
func SetPgt(slot *capability.Slot, newPgt *capability.Slot) error {
	p, err := resolve(slot, FlagSetPgt)
	if err != nil {
		return err
	}
	if newPgt.Status() != capability.Valid || newPgt.Type() != capability.TypePgt {
		return kernelerr.New(kernelerr.CptNull, "replacement pgt capability not valid")
	}
	old := p.Pgt()
	newPgt.AddRef()
	if !atomics.CASPointer(&p.pgtSlot, unsafe.Pointer(old), unsafe.Pointer(newPgt)) {
		newPgt.DropRef()
		return kernelerr.New(kernelerr.PthConflict, "concurrent Prc_Pgt replace")
	}
	old.DropRef()
	return nil
}

func resolve(slot *capability.Slot, wantFlags uint32) (*Process, error) {
	if err := capability.GetTyped(slot, capability.TypePrc, wantFlags); err != nil {
		return nil, err
	}
	p, ok := slot.Object.(*Process)
	if !ok {
		return nil, kernelerr.New(kernelerr.CptNull, "slot does not hold a process")
	}
	return p, nil
}

// FromSlot resolves a capability slot into its Process, for the
// dispatcher to reach a thread's Cpt/Pgt bindings from its process
// capability. This is pure navigation, so no operation bit is
// required.
func FromSlot(slot *capability.Slot) (*Process, error) {
	return resolve(slot, 0)
}
