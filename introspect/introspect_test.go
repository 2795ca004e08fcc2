package introspect

import (
	"testing"

	"github.com/docker/docker/api/types/filters"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nestybox/rmekernel/atomics"
	"github.com/nestybox/rmekernel/capability"
	"github.com/nestybox/rmekernel/config"
	"github.com/nestybox/rmekernel/cpt"
	"github.com/nestybox/rmekernel/hal/simarch"
	"github.com/nestybox/rmekernel/kot"
	"github.com/nestybox/rmekernel/pgt"
	"github.com/nestybox/rmekernel/prc"
	"github.com/nestybox/rmekernel/thd"
)

func newTestThread(t *testing.T) *thd.Thread {
	t.Helper()
	cfg := config.Default()
	arch := simarch.New(1)
	clock := &atomics.Clock{}

	kotTbl, err := kot.NewTable(kot.NewHeapRegion(1<<20), cfg.SlotOrder)
	require.NoError(t, err)

	var pgtSlot capability.Slot
	_, err = pgt.Crt(&pgtSlot, arch, 0, true, 4, 4, clock.Now())
	require.NoError(t, err)

	var cptSlot capability.Slot
	_, err = cpt.Crt(&cptSlot, kotTbl, 8, cfg.CptEntryMax, clock)
	require.NoError(t, err)

	var procSlot capability.Slot
	_, err = prc.Crt(&procSlot, &cptSlot, &pgtSlot, clock.Now())
	require.NoError(t, err)

	var thdSlot capability.Slot
	thread, err := thd.Crt(&thdSlot, &procSlot, 0, false, cfg.NumPriorities-1, 5, arch, clock.Now())
	require.NoError(t, err)
	return thread
}

func TestSnapshotMatchesAllWithNoFilter(t *testing.T) {
	reg := NewRegistry()
	reg.AddProcess("init", []*thd.Thread{newTestThread(t)})

	snap := reg.Snapshot(filters.NewArgs())
	require.Len(t, snap.Processes, 1)
	assert.Equal(t, "init", snap.Processes[0].Name)
	assert.Len(t, snap.Processes[0].Threads, 1)
}

func TestSnapshotFiltersByName(t *testing.T) {
	reg := NewRegistry()
	reg.AddProcess("init", []*thd.Thread{newTestThread(t)})
	reg.AddProcess("worker", []*thd.Thread{newTestThread(t)})

	snap := reg.Snapshot(filters.NewArgs(filters.Arg("name", "worker")))
	require.Len(t, snap.Processes, 1)
	assert.Equal(t, "worker", snap.Processes[0].Name)
}

func TestSnapshotFiltersByThreadState(t *testing.T) {
	reg := NewRegistry()
	reg.AddProcess("init", []*thd.Thread{newTestThread(t)})

	snap := reg.Snapshot(filters.NewArgs(filters.Arg("state", "timeout")))
	require.Len(t, snap.Processes, 1)

	snap = reg.Snapshot(filters.NewArgs(filters.Arg("state", "running")))
	assert.Len(t, snap.Processes, 0)
}
