//
// Copyright: (C) 2020 Nestybox Inc.  All rights reserved.
//

package capability

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/nestybox/rmekernel/kernelerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLifecycleRootCreateFreezeDelete(t *testing.T) {
	var s Slot
	require.True(t, s.Occupy())
	require.False(t, s.Occupy()) // already creating: can't occupy twice

	s.Object = "backing-object"
	s.Flag = 0b111
	s.Publish(TypeCpt, AttrRoot, 1)

	assert.Equal(t, Valid, s.Status())
	assert.Equal(t, TypeCpt, s.Type())
	assert.False(t, s.IsLeaf())

	require.NoError(t, s.Freeze(TypeCpt, AttrRoot, 1))
	assert.Equal(t, Frozen, s.Status())

	// second freeze must fail CPT_FROZEN
	err := s.Freeze(TypeCpt, AttrRoot, 1)
	require.Error(t, err)
	ke, ok := kernelerr.AsErr(err)
	require.True(t, ok)
	assert.Equal(t, kernelerr.CptFrozen, ke.Code)

	// delete before quiescence fails
	err = s.Delete(TypeCpt, AttrRoot, 2, 10)
	require.Error(t, err)
	ke, _ = kernelerr.AsErr(err)
	assert.Equal(t, kernelerr.CptQuie, ke.Code)

	// delete after quiescence succeeds
	require.NoError(t, s.Delete(TypeCpt, AttrRoot, 20, 10))
	assert.Equal(t, Empty, s.Status())
}

func TestRootCannotFreezeWithOutstandingRefs(t *testing.T) {
	var root, leaf Slot
	require.True(t, root.Occupy())
	root.Publish(TypeCpt, AttrRoot, 1)

	require.True(t, leaf.Occupy())
	leaf.root = &root
	leaf.Publish(TypeCpt, AttrLeaf, 1)

	assert.Equal(t, uint32(1), root.Refcnt())

	err := root.Freeze(TypeCpt, AttrRoot, 2)
	require.Error(t, err)
	ke, _ := kernelerr.AsErr(err)
	assert.Equal(t, kernelerr.CptRefcnt, ke.Code)

	// once the leaf is removed, freeze succeeds (round-trip law).
	leaf.RemoveLeaf()
	assert.Equal(t, uint32(0), root.Refcnt())
	require.NoError(t, root.Freeze(TypeCpt, AttrRoot, 2))
}

func TestAddThenRemRestoresRefcnt(t *testing.T) {
	var root, leaf Slot
	require.True(t, root.Occupy())
	root.Publish(TypeCpt, AttrRoot, 1)

	require.True(t, leaf.Occupy())
	leaf.root = &root
	leaf.Flag = 0b01
	leaf.Publish(TypeCpt, AttrLeaf, 1)
	assert.Equal(t, uint32(1), root.Refcnt())

	require.NoError(t, leaf.Freeze(TypeCpt, AttrLeaf, 1))
	require.NoError(t, leaf.Delete(TypeCpt, AttrLeaf, 100, 10))
	assert.Equal(t, uint32(0), root.Refcnt())
	assert.Equal(t, Empty, leaf.Status())
}

func TestCheckFlagSubset(t *testing.T) {
	s := Slot{Flag: 0b0110}
	assert.NoError(t, s.CheckFlagSubset(0b0100))
	assert.NoError(t, s.CheckFlagSubset(0b0110))
	err := s.CheckFlagSubset(0b1000)
	require.Error(t, err)
	ke, _ := kernelerr.AsErr(err)
	assert.Equal(t, kernelerr.CptFlag, ke.Code)
}

func TestCheckRangeSubset(t *testing.T) {
	s := Slot{RangeLo: 10, RangeHi: 20}
	assert.NoError(t, s.CheckRangeSubset(12, 18))
	assert.Error(t, s.CheckRangeSubset(5, 18))
	assert.Error(t, s.CheckRangeSubset(12, 25))
	assert.Error(t, s.CheckRangeSubset(18, 12))
}

func TestGetTyped(t *testing.T) {
	var s Slot
	require.True(t, s.Occupy())
	s.Flag = 0b11
	s.Publish(TypeThd, AttrRoot, 1)

	assert.NoError(t, GetTyped(&s, TypeThd, 0b01))
	assert.Error(t, GetTyped(&s, TypePrc, 0b01))
	assert.Error(t, GetTyped(&s, TypeThd, 0b100))

	var empty Slot
	err := GetTyped(&empty, TypeThd, 0)
	ke, _ := kernelerr.AsErr(err)
	assert.Equal(t, kernelerr.CptNull, ke.Code)
}

// TestOccupyIsLinearisable checks that only one of many concurrent
// Occupy() callers on the same empty slot may win.
func TestOccupyIsLinearisable(t *testing.T) {
	var s Slot
	var wins int32
	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if s.Occupy() {
				atomic.AddInt32(&wins, 1)
			}
		}()
	}
	wg.Wait()
	assert.EqualValues(t, 1, wins)
}
