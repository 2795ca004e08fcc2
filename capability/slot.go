//
// Copyright: (C) 2020 Nestybox Inc.  All rights reserved.
//

package capability

import (
	"sync/atomic"

	"github.com/nestybox/rmekernel/atomics"
	"github.com/nestybox/rmekernel/kernelerr"
)

// Slot is the common header every capability carries. Type-specific
// components (cpt, pgt, prc, thd, sig, inv, kfn) embed a
// Slot and store their own backing object behind the Object field.
type Slot struct {
	typeStat uint32 // packed Type|Status|Attr, published with a single store

	refcnt uint32 // root only: outstanding leaf count + usage count
	root   *Slot  // leaf only: pointer to the owning root, set before publish

	Object interface{} // backing kernel object, nil for type-only caps
	Flag   uint32       // per-type operation permission bitmask
	RangeLo uint32      // sub-range low bound (Pgt/Kfn range caps only)
	RangeHi uint32      // sub-range high bound (Pgt/Kfn range caps only)

	Timestamp uint64 // sampled on every state transition, for quiescence
}

// Status returns the slot's current status with an acquire-load, safe
// to call without any other synchronization.
func (s *Slot) Status() Status {
	_, stat, _ := unpack(atomics.AcquireLoad32(&s.typeStat))
	return stat
}

// Type returns the slot's type tag.
func (s *Slot) Type() Type {
	typ, _, _ := unpack(atomics.AcquireLoad32(&s.typeStat))
	return typ
}

// IsLeaf reports whether the slot is a delegated (non-owning) copy.
func (s *Slot) IsLeaf() bool {
	_, _, attr := unpack(atomics.AcquireLoad32(&s.typeStat))
	return attr == AttrLeaf
}

// Root returns the slot's root for a leaf, or s itself for a root.
func (s *Slot) Root() *Slot {
	if s.IsLeaf() {
		return s.root
	}
	return s
}

// Refcnt returns the root's current reference count (0 for a leaf).
func (s *Slot) Refcnt() uint32 {
	return atomic.LoadUint32(&s.refcnt)
}

// Occupy attempts the empty -> creating transition via CAS. It's the
// first step of both Create and Add (delegate-into-empty-slot).
func (s *Slot) Occupy() bool {
	return atomics.CAS32(&s.typeStat, pack(TypeInvalid, Empty, AttrRoot), pack(TypeInvalid, Creating, AttrRoot))
}

// Publish completes a create: the caller has already set Object, Flag,
// RangeLo/RangeHi and — for a leaf — root, and now releases the slot
// as Valid so other cores may observe it. now is the clock's current
// timestamp, sampled at publish.
func (s *Slot) Publish(typ Type, attr Attr, now uint64) {
	s.Timestamp = now
	if attr == AttrLeaf && typ != TypeKom && typ != TypeKfn {
		atomics.FetchAdd32(&s.root.refcnt, 1)
	}
	atomics.ReleaseStore32(&s.typeStat, pack(typ, Valid, attr))
}

// Rollback undoes an Occupy that didn't reach Publish (creating ->
// empty). Plain write is sufficient: no other core can be racing a
// slot still in the Creating state since only the occupier may act
// on it.
func (s *Slot) Rollback() {
	*s = Slot{}
}

// Freeze performs the valid -> frozen transition. For a root slot,
// the caller must already have verified Refcnt() == 0; Freeze itself
// re-checks it under the CAS to close the race against a concurrent
// Add.
func (s *Slot) Freeze(typ Type, attr Attr, now uint64) error {
	if attr == AttrRoot && atomic.LoadUint32(&s.refcnt) != 0 {
		return kernelerr.New(kernelerr.CptRefcnt, "root capability still referenced")
	}
	from := pack(typ, Valid, attr)
	to := pack(typ, Frozen, attr)
	if !atomics.CAS32(&s.typeStat, from, to) {
		cur := Status(atomics.AcquireLoad32(&s.typeStat) >> 16 & 0xff)
		if cur == Frozen {
			return kernelerr.New(kernelerr.CptFrozen, "already frozen")
		}
		return kernelerr.New(kernelerr.PthConflict, "concurrent modification")
	}
	s.Timestamp = now
	return nil
}

// Delete performs the frozen -> empty transition once quiescence has
// elapsed. For a root, the caller must have verified Refcnt() == 0 and
// (for Cpt) that every entry inside is empty; Delete re-verifies
// quiescence and refcnt under the CAS.
func (s *Slot) Delete(typ Type, attr Attr, now, quieTime uint64) error {
	if !atomics.Quiescent(now, s.Timestamp, quieTime) {
		return kernelerr.New(kernelerr.CptQuie, "quiescence period has not elapsed")
	}
	if attr == AttrRoot && atomic.LoadUint32(&s.refcnt) != 0 {
		return kernelerr.New(kernelerr.CptRefcnt, "root capability still referenced")
	}
	from := pack(typ, Frozen, attr)
	to := pack(TypeInvalid, Empty, AttrRoot)
	if !atomics.CAS32(&s.typeStat, from, to) {
		return kernelerr.New(kernelerr.PthConflict, "concurrent modification")
	}
	if attr == AttrLeaf && typ != TypeKom && typ != TypeKfn {
		atomics.FetchAdd32(&s.root.refcnt, -1)
	}
	*s = Slot{}
	return nil
}

// RemoveLeaf decrements the root's refcnt for a leaf capability that's
// being un-delegated (Cpt_Rem / Pgt_Rem), without transitioning the
// slot itself — the caller owns clearing the slot afterward.
func (s *Slot) RemoveLeaf() {
	if s.IsLeaf() {
		atomics.FetchAdd32(&s.root.refcnt, -1)
	}
}

// AddRef increments s's root refcnt directly; used by components that
// hold a standing reference to a capability (e.g. a process's bound
// Cpt/Pgt) without delegating a leaf copy of it.
func (s *Slot) AddRef() {
	root := s.Root()
	atomics.FetchAdd32(&root.refcnt, 1)
}

// DropRef decrements s's root refcnt, undoing a prior AddRef.
func (s *Slot) DropRef() {
	root := s.Root()
	atomics.FetchAdd32(&root.refcnt, -1)
}

// CheckFlagSubset verifies that want is a bitwise subset of the
// slot's granted Flag — validation required before any operation on
// the capability proceeds.
func (s *Slot) CheckFlagSubset(want uint32) error {
	if want&^s.Flag != 0 {
		return kernelerr.New(kernelerr.CptFlag, "requested operation not granted by capability flags")
	}
	return nil
}

// CheckRangeSubset verifies [lo,hi] is within the slot's own
// [RangeLo,RangeHi] — used by page-table and kernel-function range
// capabilities.
func (s *Slot) CheckRangeSubset(lo, hi uint32) error {
	if lo > hi || lo < s.RangeLo || hi > s.RangeHi {
		return kernelerr.New(kernelerr.CptRange, "sub-range exceeds source capability's range")
	}
	return nil
}

// GetTyped resolves a slot for use: the slot must be Valid, of the
// expected type, and want must be a subset of its granted flags.
func GetTyped(s *Slot, want Type, wantFlags uint32) error {
	typ, stat, _ := unpack(atomics.AcquireLoad32(&s.typeStat))
	if stat != Valid {
		if stat == Empty {
			return kernelerr.New(kernelerr.CptNull, "no such capability")
		}
		return kernelerr.New(kernelerr.CptFrozen, "capability not valid")
	}
	if typ != want {
		return kernelerr.New(kernelerr.CptNull, "capability type mismatch")
	}
	return s.CheckFlagSubset(wantFlags)
}
