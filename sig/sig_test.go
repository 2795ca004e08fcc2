package sig

import (
	"testing"

	"github.com/nestybox/rmekernel/atomics"
	"github.com/nestybox/rmekernel/capability"
	"github.com/nestybox/rmekernel/config"
	"github.com/nestybox/rmekernel/hal/simarch"
	"github.com/nestybox/rmekernel/kernelerr"
	"github.com/nestybox/rmekernel/thd"
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

// newBootThread creates and pins cpu's boot thread with an
// always-schedulable INIT_TIME budget, the root of every other
// thread's scheduler-parent chain on that core.
func newBootThread(t *testing.T, arch *simarch.Sim, cpu *thd.CPU, cfg config.Params) *thd.Thread {
	t.Helper()
	var slot capability.Slot
	boot, err := thd.Crt(&slot, newProc(t), 0, false, cfg.NumPriorities-1, cfg.NumPriorities-1, arch, 1)
	require.NoError(t, err)
	require.NoError(t, thd.BindBoot(cpu, boot, 0, cfg.InitTime))
	return boot
}

// newThread creates a thread, binds it under boot as scheduler
// parent, and grants it slice budget via a real Time_Xfer from boot.
func newThread(t *testing.T, arch *simarch.Sim, cpu *thd.CPU, boot *thd.Thread, cfg config.Params, prio uint32, slice uint64) *thd.Thread {
	t.Helper()
	var slot capability.Slot
	th, err := thd.Crt(&slot, newProc(t), 0, false, prio, prio, arch, 1)
	require.NoError(t, err)

	bindCfg := struct {
		HypRegionBase uint64
		HypRegionLen  uint64
	}{cfg.HypRegionBase, cfg.HypRegionLen}
	require.NoError(t, thd.SchedBind(cpu, th, boot, nil, prio, 0, bindCfg, arch))

	if slice > 0 {
		require.NoError(t, thd.TimeXfer(cpu, th, boot, slice, cfg))
	}
	return th
}

func TestSndIncrementsCounterWhenNoBlockedThread(t *testing.T) {
	var slot capability.Slot
	ep, err := Crt(&slot, 1)
	require.NoError(t, err)

	preempt, err := Snd(nil, ep, 0, 5, true, 10)
	require.NoError(t, err)
	assert.False(t, preempt)
	assert.EqualValues(t, 1, ep.sigNum)
}

func TestSndSaturatesAtMaxSigNum(t *testing.T) {
	var slot capability.Slot
	ep, err := Crt(&slot, 1)
	require.NoError(t, err)
	ep.sigNum = 3

	_, err = Snd(nil, ep, 0, 5, true, 3)
	require.Error(t, err)
	ke, ok := kernelerr.AsErr(err)
	require.True(t, ok)
	assert.Equal(t, kernelerr.SivFull, ke.Code)
}

func TestRcvNonBlockingEmptyReturnsSivEmpty(t *testing.T) {
	var slot capability.Slot
	ep, err := Crt(&slot, 1)
	require.NoError(t, err)

	cfg := config.Default()
	arch := simarch.New(1)
	cpu := thd.NewCPU(0, cfg.NumPriorities)
	boot := newBootThread(t, arch, cpu, cfg)
	self := newThread(t, arch, cpu, boot, cfg, 5, 100)

	_, blocked, err := Rcv(cpu, self, ep, NS, cfg.InitTime)
	require.Error(t, err)
	assert.False(t, blocked)
	ke, ok := kernelerr.AsErr(err)
	require.True(t, ok)
	assert.Equal(t, kernelerr.SivEmpty, ke.Code)
}

func TestRcvConsumesOneInSingleMode(t *testing.T) {
	var slot capability.Slot
	ep, err := Crt(&slot, 1)
	require.NoError(t, err)
	ep.sigNum = 3

	cfg := config.Default()
	arch := simarch.New(1)
	cpu := thd.NewCPU(0, cfg.NumPriorities)
	boot := newBootThread(t, arch, cpu, cfg)
	self := newThread(t, arch, cpu, boot, cfg, 5, 100)

	count, blocked, err := Rcv(cpu, self, ep, BS, cfg.InitTime)
	require.NoError(t, err)
	assert.False(t, blocked)
	assert.EqualValues(t, 1, count)
	assert.EqualValues(t, 2, ep.sigNum)
}

func TestRcvDrainsAllInMultiMode(t *testing.T) {
	var slot capability.Slot
	ep, err := Crt(&slot, 1)
	require.NoError(t, err)
	ep.sigNum = 5

	cfg := config.Default()
	arch := simarch.New(1)
	cpu := thd.NewCPU(0, cfg.NumPriorities)
	boot := newBootThread(t, arch, cpu, cfg)
	self := newThread(t, arch, cpu, boot, cfg, 5, 100)

	count, blocked, err := Rcv(cpu, self, ep, NM, cfg.InitTime)
	require.NoError(t, err)
	assert.False(t, blocked)
	assert.EqualValues(t, 5, count)
	assert.EqualValues(t, 0, ep.sigNum)
}

func TestRcvBlocksWhenEmptyThenSndWakesIt(t *testing.T) {
	var slot capability.Slot
	ep, err := Crt(&slot, 1)
	require.NoError(t, err)

	cfg := config.Default()
	arch := simarch.New(1)
	cpu := thd.NewCPU(0, cfg.NumPriorities)
	boot := newBootThread(t, arch, cpu, cfg)
	a := newThread(t, arch, cpu, boot, cfg, 10, 100)
	b := newThread(t, arch, cpu, boot, cfg, 11, 100)

	_, blocked, err := Rcv(cpu, a, ep, BS, cfg.InitTime)
	require.NoError(t, err)
	assert.True(t, blocked)
	assert.Equal(t, thd.Blocked, a.State())

	preempt, err := Snd(cpu, ep, a.CPU(), b.Prio(), true, cfg.MaxSigNum)
	require.NoError(t, err)
	assert.False(t, preempt) // a (prio 10) does not outrank the sender b (prio 11)
	assert.EqualValues(t, 1, a.Regs.Retval)
	assert.Equal(t, thd.Ready, a.State())
}

func TestDelegatedLeafWithoutRcvBitRejectsRcv(t *testing.T) {
	var rootSlot capability.Slot
	ep, err := Crt(&rootSlot, 1)
	require.NoError(t, err)
	ep.sigNum = 1

	var leaf capability.Slot
	var clock atomics.Clock
	require.NoError(t, capability.Delegate(&rootSlot, &leaf, FlagSnd, 0, 0, clock.Now()))

	leafEp, err := FromSlot(&leaf, FlagRcv)
	require.Error(t, err)
	assert.Nil(t, leafEp)
	ke, _ := kernelerr.AsErr(err)
	assert.Equal(t, kernelerr.CptFlag, ke.Code)

	leafEp, err = FromSlot(&leaf, FlagSnd)
	require.NoError(t, err)
	assert.Same(t, ep, leafEp)
}

func TestRcvRejectsInitThreadBlocking(t *testing.T) {
	var slot capability.Slot
	ep, err := Crt(&slot, 1)
	require.NoError(t, err)

	cfg := config.Default()
	arch := simarch.New(1)
	cpu := thd.NewCPU(0, cfg.NumPriorities)
	boot := newBootThread(t, arch, cpu, cfg)

	_, blocked, err := Rcv(cpu, boot, ep, BS, cfg.InitTime)
	require.Error(t, err)
	assert.False(t, blocked)
	ke, ok := kernelerr.AsErr(err)
	require.True(t, ok)
	assert.Equal(t, kernelerr.SivBoot, ke.Code)
}
