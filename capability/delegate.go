//
// Copyright: (C) 2020 Nestybox Inc.  All rights reserved.
//

package capability

import (
	"github.com/nestybox/rmekernel/atomics"
	"github.com/nestybox/rmekernel/kernelerr"
)

// Delegate implements Cpt_Add: atomically copy src into the empty dst
// slot, narrowing its flags (and, for range capabilities, its
// sub-range) to a subset of src's own grant.
func Delegate(src, dst *Slot, narrowFlags, rangeLo, rangeHi uint32, now uint64) error {
	if src.Status() != Valid {
		return kernelerr.New(kernelerr.CptNull, "source capability is not valid")
	}
	if err := src.CheckFlagSubset(narrowFlags); err != nil {
		return err
	}

	typ := src.Type()
	hasRange := typ == TypePgt || typ == TypeKfn || typ == TypeKom
	if hasRange {
		if err := src.CheckRangeSubset(rangeLo, rangeHi); err != nil {
			return err
		}
	}

	if !dst.Occupy() {
		return kernelerr.New(kernelerr.CptExist, "destination slot is occupied")
	}

	dst.Object = src.Object
	dst.Flag = narrowFlags
	if hasRange {
		dst.RangeLo, dst.RangeHi = rangeLo, rangeHi
	}
	dst.root = src.Root()
	dst.Publish(typ, AttrLeaf, now)
	return nil
}

// Undelegate implements Cpt_Rem: removes a leaf capability, running it
// through the same frozen-then-quiescent-then-empty transitions as a
// root delete, decrementing the root's refcnt once the slot actually
// empties.
func Undelegate(dst *Slot, clock *atomics.Clock, quieTime uint64) error {
	if !dst.IsLeaf() {
		return kernelerr.New(kernelerr.CptNull, "slot is not a leaf capability")
	}
	if err := dst.CheckFlagSubset(FlagRemovable); err != nil {
		return err
	}
	typ := dst.Type()
	// A leaf already frozen by an earlier call that failed quiescence
	// goes straight on to the delete attempt.
	if err := dst.Freeze(typ, AttrLeaf, clock.Now()); err != nil && !kernelerr.Is(err, kernelerr.CptFrozen) {
		return err
	}
	return dst.Delete(typ, AttrLeaf, clock.Now(), quieTime)
}
