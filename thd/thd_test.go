package thd

import (
	"testing"

	"github.com/nestybox/rmekernel/atomics"
	"github.com/nestybox/rmekernel/capability"
	"github.com/nestybox/rmekernel/config"
	"github.com/nestybox/rmekernel/hal/simarch"
	"github.com/nestybox/rmekernel/kernelerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newProc(t *testing.T) *capability.Slot {
	t.Helper()
	var s capability.Slot
	require.True(t, s.Occupy())
	s.Publish(capability.TypePrc, capability.AttrRoot, 1)
	return &s
}

func newThread(t *testing.T, arch *simarch.Sim, maxPrio uint32) *Thread {
	t.Helper()
	var slot capability.Slot
	th, err := Crt(&slot, newProc(t), 0, false, maxPrio, maxPrio, arch, 1)
	require.NoError(t, err)
	return th
}

func TestCrtStartsFreeAndTimeout(t *testing.T) {
	arch := simarch.New(1)
	th := newThread(t, arch, 10)
	assert.Equal(t, FreeCPU, th.CPU())
	assert.Equal(t, Timeout, th.State())
}

func TestSchedBindRejectsPriorityAboveParent(t *testing.T) {
	arch := simarch.New(1)
	cpu := NewCPU(0, 16)
	parent := newThread(t, arch, 5)
	parent.cpu = 0
	child := newThread(t, arch, 10)

	cfg := struct {
		HypRegionBase uint64
		HypRegionLen  uint64
	}{}
	err := SchedBind(cpu, child, parent, nil, 6, 0, cfg, arch)
	require.Error(t, err)
}

func TestSchedBindThenFreeRoundTrip(t *testing.T) {
	arch := simarch.New(1)
	cpu := NewCPU(0, 16)
	parent := newThread(t, arch, 5)
	parent.cpu = 0
	child := newThread(t, arch, 5)

	cfg := struct {
		HypRegionBase uint64
		HypRegionLen  uint64
	}{}
	require.NoError(t, SchedBind(cpu, child, parent, nil, 3, 0, cfg, arch))
	assert.EqualValues(t, 0, child.CPU())
	assert.EqualValues(t, 1, parent.schedRef)

	require.NoError(t, SchedFree(cpu, child))
	assert.Equal(t, FreeCPU, child.CPU())
	assert.EqualValues(t, 0, parent.schedRef)
}

func TestSchedFreeRejectsWhileChildrenRegistered(t *testing.T) {
	arch := simarch.New(1)
	cpu := NewCPU(0, 16)
	parent := newThread(t, arch, 5)
	parent.cpu = 0
	child := newThread(t, arch, 5)

	cfg := struct {
		HypRegionBase uint64
		HypRegionLen  uint64
	}{}
	require.NoError(t, SchedBind(cpu, child, parent, nil, 3, 0, cfg, arch))
	err := SchedFree(cpu, parent)
	require.Error(t, err)
}

func TestSchedRcvReturnsNotifOnEmpty(t *testing.T) {
	arch := simarch.New(1)
	parent := newThread(t, arch, 5)
	_, err := SchedRcv(parent)
	require.Error(t, err)
}

func TestSchedRcvDeliversChildNotification(t *testing.T) {
	arch := simarch.New(1)
	parent := newThread(t, arch, 5)
	parent.TID = 7

	parent.Notify(42, true)
	n, err := SchedRcv(parent)
	require.NoError(t, err)
	assert.EqualValues(t, 42, n.TID)
	assert.True(t, n.Fault)

	_, err = SchedRcv(parent)
	require.Error(t, err)
}

func TestSchedPrioReordersReadyThread(t *testing.T) {
	arch := simarch.New(1)
	cpu := NewCPU(0, 16)
	parent := newThread(t, arch, 10)
	parent.cpu = 0
	child := newThread(t, arch, 10)

	cfg := struct {
		HypRegionBase uint64
		HypRegionLen  uint64
	}{}
	require.NoError(t, SchedBind(cpu, child, parent, nil, 4, 0, cfg, arch))
	child.mu.Lock()
	readyInsert(cpu, child)
	child.mu.Unlock()

	old, err := SchedPrio(cpu, []*Thread{child}, []uint32{8})
	require.NoError(t, err)
	assert.EqualValues(t, []uint32{4}, old)
	assert.EqualValues(t, 8, child.Prio())

	prio, item, ok := cpu.RQ.Highest()
	require.True(t, ok)
	assert.EqualValues(t, 8, prio)
	assert.Same(t, child, item.(*Thread))
}

func TestTimeXferNormalMovesBudget(t *testing.T) {
	arch := simarch.New(1)
	cpu := NewCPU(0, 16)
	cfg := config.Default()
	a := newThread(t, arch, 5)
	b := newThread(t, arch, 5)
	a.cpu, b.cpu = 0, 0
	a.slice = 100

	require.NoError(t, TimeXfer(cpu, b, a, 40, cfg))
	assert.EqualValues(t, 60, a.Slice())
	assert.EqualValues(t, 40, b.Slice())
}

func TestTimeXferRejectsInsufficientSource(t *testing.T) {
	arch := simarch.New(1)
	cpu := NewCPU(0, 16)
	cfg := config.Default()
	a := newThread(t, arch, 5)
	b := newThread(t, arch, 5)
	a.cpu, b.cpu = 0, 0
	a.slice = 10

	err := TimeXfer(cpu, b, a, 40, cfg)
	require.Error(t, err)
}

func TestTimeXferInfinitePolicyLeavesSourceUntouched(t *testing.T) {
	arch := simarch.New(1)
	cpu := NewCPU(0, 16)
	cfg := config.Default()
	a := newThread(t, arch, 5)
	b := newThread(t, arch, 5)
	a.cpu, b.cpu = 0, 0
	a.slice = 100

	require.NoError(t, TimeXfer(cpu, b, a, cfg.InfTime, cfg))
	assert.EqualValues(t, 100, a.Slice())
	assert.EqualValues(t, cfg.InfTime, b.Slice())
}

func TestTimeXferNormalPolicyRejectsOverflowLeavingBothUnchanged(t *testing.T) {
	arch := simarch.New(1)
	cpu := NewCPU(0, 16)
	cfg := config.Default()
	a := newThread(t, arch, 5)
	b := newThread(t, arch, 5)
	a.cpu, b.cpu = 0, 0
	a.slice = 100
	b.slice = cfg.MaxTime // already at the ceiling: any further transfer overflows

	err := TimeXfer(cpu, b, a, 1, cfg)
	require.Error(t, err)
	ke, ok := kernelerr.AsErr(err)
	require.True(t, ok)
	assert.Equal(t, kernelerr.PthOverflow, ke.Code)
	assert.EqualValues(t, 100, a.Slice())
	assert.EqualValues(t, cfg.MaxTime, b.Slice())
}

func TestTimeXferRevokePolicyDrainsSourceAndPinsDest(t *testing.T) {
	arch := simarch.New(1)
	cpu := NewCPU(0, 16)
	cfg := config.Default()
	a := newThread(t, arch, 5)
	b := newThread(t, arch, 5)
	a.cpu, b.cpu = 0, 0
	a.slice = 100

	require.NoError(t, TimeXfer(cpu, b, a, cfg.InitTime, cfg))
	assert.EqualValues(t, 0, a.Slice())
	assert.EqualValues(t, cfg.InitTime, b.Slice())
}

func TestSwtPicksHighestWhenNoTargetGiven(t *testing.T) {
	arch := simarch.New(1)
	cpu := NewCPU(0, 16)
	caller := newThread(t, arch, 10)
	caller.cpu = 0
	caller.state = Running
	cpu.Current = caller

	low := newThread(t, arch, 10)
	low.cpu = 0
	low.prio = 2
	low.rqElem = cpu.RQ.Push(2, low)
	low.state = Ready

	high := newThread(t, arch, 10)
	high.cpu = 0
	high.prio = 7
	high.rqElem = cpu.RQ.Push(7, high)
	high.state = Ready

	picked, err := Swt(cpu, caller, nil, false)
	require.NoError(t, err)
	assert.Same(t, high, picked)
	assert.Equal(t, Running, high.State())
	assert.Same(t, high, cpu.Current)
}

func TestExecSetClearsExcPend(t *testing.T) {
	arch := simarch.New(1)
	th := newThread(t, arch, 5)
	th.state = ExcPend

	require.NoError(t, ExecSet(th, 0x1000, 0x2000, 99))
	assert.Equal(t, Timeout, th.State())
	assert.EqualValues(t, 0x1000, th.Regs.Entry)
	assert.EqualValues(t, 99, th.Regs.Param)
}

func TestExecSetRejectsRunningThread(t *testing.T) {
	arch := simarch.New(1)
	th := newThread(t, arch, 5)
	th.state = Running

	err := ExecSet(th, 0x1000, 0x2000, 0)
	require.Error(t, err)
}

func TestDelegatedLeafWithoutFrzBitRejectsFrz(t *testing.T) {
	arch := simarch.New(1)
	var rootSlot capability.Slot
	_, err := Crt(&rootSlot, newProc(t), 0, false, 5, 5, arch, 1)
	require.NoError(t, err)

	var leaf capability.Slot
	var clock atomics.Clock
	require.NoError(t, capability.Delegate(&rootSlot, &leaf, FlagDel, 0, 0, clock.Now()))

	err = Frz(&leaf, clock.Now())
	require.Error(t, err)
	ke, _ := kernelerr.AsErr(err)
	assert.Equal(t, kernelerr.CptFlag, ke.Code)
}

func TestDelegatedLeafWithoutDelBitRejectsDel(t *testing.T) {
	arch := simarch.New(1)
	var rootSlot capability.Slot
	_, err := Crt(&rootSlot, newProc(t), 0, false, 5, 5, arch, 1)
	require.NoError(t, err)

	var leaf capability.Slot
	var clock atomics.Clock
	require.NoError(t, capability.Delegate(&rootSlot, &leaf, FlagFrz, 0, 0, clock.Now()))

	err = Del(&leaf, clock.Now(), 0)
	require.Error(t, err)
	ke, _ := kernelerr.AsErr(err)
	assert.Equal(t, kernelerr.CptFlag, ke.Code)
}

func TestInvocationFrameStack(t *testing.T) {
	arch := simarch.New(1)
	th := newThread(t, arch, 5)
	assert.Nil(t, th.TopFrame())

	proc2 := newProc(t)
	th.PushFrame(proc2, "payload", nil)
	assert.Equal(t, proc2, th.EffectiveProcess())

	f := th.PopFrame()
	require.NotNil(t, f)
	assert.Equal(t, "payload", f.Payload)
	assert.Nil(t, th.TopFrame())
}
