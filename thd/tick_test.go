package thd

import (
	"testing"

	"github.com/nestybox/rmekernel/config"
	"github.com/nestybox/rmekernel/hal/simarch"
	"github.com/stretchr/testify/assert"
)

func TestElapseDecrementsRunningSlice(t *testing.T) {
	arch := simarch.New(1)
	cfg := config.Default()
	cpu := NewCPU(0, 16)
	cur := newThread(t, arch, 5)
	cur.cpu = 0
	cur.state = Running
	cur.slice = 10
	cpu.Current = cur

	hit := Elapse(cpu, cfg, false)
	assert.False(t, hit)
	assert.EqualValues(t, 9, cur.Slice())
}

func TestElapseZeroingSetsTimeoutAndNotifies(t *testing.T) {
	arch := simarch.New(1)
	cfg := config.Default()
	cpu := NewCPU(0, 16)
	parent := newThread(t, arch, 5)
	parent.TID = 99

	cur := newThread(t, arch, 5)
	cur.cpu = 0
	cur.state = Running
	cur.slice = 1
	cur.schedParent = parent
	cpu.Current = cur

	hit := Elapse(cpu, cfg, false)
	assert.True(t, hit)
	assert.Equal(t, Timeout, cur.State())
	assert.EqualValues(t, 0, cur.Slice())

	n, err := SchedRcv(parent)
	assert.NoError(t, err)
	assert.EqualValues(t, cur.TID, n.TID)
}

func TestElapseWithFloorNeverZeros(t *testing.T) {
	arch := simarch.New(1)
	cfg := config.Default()
	cpu := NewCPU(0, 16)
	cur := newThread(t, arch, 5)
	cur.cpu = 0
	cur.state = Running
	cur.slice = 1
	cpu.Current = cur

	hit := Elapse(cpu, cfg, true)
	assert.False(t, hit)
	assert.EqualValues(t, 1, cur.Slice())
	assert.Equal(t, Running, cur.State())
}

func TestElapseLeavesInfiniteBudgetUntouched(t *testing.T) {
	arch := simarch.New(1)
	cfg := config.Default()
	cpu := NewCPU(0, 16)
	cur := newThread(t, arch, 5)
	cur.cpu = 0
	cur.state = Running
	cur.slice = cfg.InfTime
	cpu.Current = cur

	Elapse(cpu, cfg, false)
	assert.EqualValues(t, cfg.InfTime, cur.Slice())
}

func TestScheduleHighestSwitchesOnStrictlyHigherPriority(t *testing.T) {
	arch := simarch.New(1)
	cpu := NewCPU(0, 16)
	cur := newThread(t, arch, 10)
	cur.cpu = 0
	cur.prio = 3
	cur.state = Running
	cpu.Current = cur

	high := newThread(t, arch, 10)
	high.cpu = 0
	high.prio = 7
	high.rqElem = cpu.RQ.Push(7, high)
	high.state = Ready

	ScheduleHighest(cpu)
	assert.Same(t, high, cpu.Current)
	assert.Equal(t, Running, high.State())
}

func TestScheduleHighestLeavesEqualPriorityRunning(t *testing.T) {
	arch := simarch.New(1)
	cpu := NewCPU(0, 16)
	cur := newThread(t, arch, 10)
	cur.cpu = 0
	cur.prio = 5
	cur.state = Running
	cpu.Current = cur

	same := newThread(t, arch, 10)
	same.cpu = 0
	same.prio = 5
	same.rqElem = cpu.RQ.Push(5, same)
	same.state = Ready

	ScheduleHighest(cpu)
	assert.Same(t, cur, cpu.Current)
	assert.Equal(t, Running, cur.State())
}

func TestScheduleHighestSwitchesWhenCurrentNotRunnable(t *testing.T) {
	arch := simarch.New(1)
	cpu := NewCPU(0, 16)
	cur := newThread(t, arch, 10)
	cur.cpu = 0
	cur.prio = 9
	cur.state = Timeout
	cpu.Current = cur

	next := newThread(t, arch, 10)
	next.cpu = 0
	next.prio = 1
	next.rqElem = cpu.RQ.Push(1, next)
	next.state = Ready

	ScheduleHighest(cpu)
	assert.Same(t, next, cpu.Current)
}
