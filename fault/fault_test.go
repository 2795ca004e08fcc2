package fault

import (
	"testing"

	"github.com/nestybox/rmekernel/capability"
	"github.com/nestybox/rmekernel/config"
	"github.com/nestybox/rmekernel/hal/simarch"
	"github.com/nestybox/rmekernel/inv"
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

func newBootThread(t *testing.T, arch *simarch.Sim, cpu *thd.CPU, cfg config.Params) *thd.Thread {
	t.Helper()
	var slot capability.Slot
	boot, err := thd.Crt(&slot, newProc(t), 0, false, cfg.NumPriorities-1, cfg.NumPriorities-1, arch, 1)
	require.NoError(t, err)
	require.NoError(t, thd.BindBoot(cpu, boot, 0, cfg.InitTime))
	return boot
}

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

func TestEnterKillsThreadWithNoActiveInvocation(t *testing.T) {
	cfg := config.Default()
	arch := simarch.New(1)
	cpu := thd.NewCPU(0, cfg.NumPriorities)
	boot := newBootThread(t, arch, cpu, cfg)
	victim := newThread(t, arch, cpu, boot, cfg, 5, 100)
	thd.Switch(cpu, victim)

	absorbed := Enter(cpu, victim, arch, 0, cfg)
	assert.False(t, absorbed)
	assert.Equal(t, thd.ExcPend, victim.State())
	assert.EqualValues(t, 0, victim.Slice())

	n, err := thd.SchedRcv(boot)
	require.NoError(t, err)
	assert.EqualValues(t, victim.TID, n.TID)
	assert.True(t, n.Fault)
}

func TestEnterAbsorbsFaultThroughExcRetPort(t *testing.T) {
	cfg := config.Default()
	arch := simarch.New(1)
	cpu := thd.NewCPU(0, cfg.NumPriorities)
	boot := newBootThread(t, arch, cpu, cfg)
	caller := newThread(t, arch, cpu, boot, cfg, 5, 100)
	thd.Switch(cpu, caller)

	var portSlot capability.Slot
	port, err := inv.Crt(&portSlot, newProc(t), 0x1000, 0x2000, true, 1)
	require.NoError(t, err)
	require.NoError(t, inv.Call(port, caller, arch, 0))

	absorbed := Enter(cpu, caller, arch, 7, cfg)
	assert.True(t, absorbed)
	assert.EqualValues(t, 7, caller.Regs.Retval)
	assert.False(t, port.Active())
	assert.Equal(t, thd.Running, caller.State())
}

func TestEnterKillsWhenPortForbidsFaultReturn(t *testing.T) {
	cfg := config.Default()
	arch := simarch.New(1)
	cpu := thd.NewCPU(0, cfg.NumPriorities)
	boot := newBootThread(t, arch, cpu, cfg)
	caller := newThread(t, arch, cpu, boot, cfg, 5, 100)
	thd.Switch(cpu, caller)

	var portSlot capability.Slot
	port, err := inv.Crt(&portSlot, newProc(t), 0x1000, 0x2000, false, 1)
	require.NoError(t, err)
	require.NoError(t, inv.Call(port, caller, arch, 0))

	absorbed := Enter(cpu, caller, arch, 7, cfg)
	assert.False(t, absorbed)
	assert.Equal(t, thd.ExcPend, caller.State())
	assert.True(t, port.Active()) // frame left in place, per the invariant
}

func TestEnterPanicsOnBootThread(t *testing.T) {
	cfg := config.Default()
	arch := simarch.New(1)
	cpu := thd.NewCPU(0, cfg.NumPriorities)
	boot := newBootThread(t, arch, cpu, cfg)
	thd.Switch(cpu, boot)

	assert.Panics(t, func() {
		Enter(cpu, boot, arch, 0, cfg)
	})
}
