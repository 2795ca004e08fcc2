//
// Copyright: (C) 2020 Nestybox Inc.  All rights reserved.
//

// Package fault implements the kernel fault handler: the same
// try-the-graceful-path-then-report-a-typed-failure shape a Docker
// client wraps a raw daemon error in before deciding whether the
// caller can recover or the connection has to be torn down.
package fault

import (
	"github.com/nestybox/rmekernel/config"
	"github.com/nestybox/rmekernel/hal"
	"github.com/nestybox/rmekernel/inv"
	"github.com/nestybox/rmekernel/sig"
	"github.com/nestybox/rmekernel/thd"
)

// Enter handles a fatal fault on thread t, currently running on cpu.
// It first attempts an invocation return with the fault flag set,
// stamping faultCode as the call-site's retval; if t has no active
// invocation, or the port it's in forbids a fault-forced return, the
// fault instead kills t: slice zeroed, state ExcPend, removed from the
// run queue, scheduler parent notified, parent's signal endpoint (if
// any) kernel-sent, and the highest-priority runnable thread on cpu
// scheduled in. Reports whether the fault was absorbed by an
// invocation return (true) or killed the thread (false).
func Enter(cpu *thd.CPU, t *thd.Thread, arch hal.Arch, faultCode uint64, cfg config.Params) bool {
	if err := inv.Return(t, faultCode, true, arch); err == nil {
		return true
	}

	thd.Kill(cpu, t, arch)

	if slot := t.SchedSig(); slot != nil {
		// Kernel-internal notify, not a user Sig_Snd: bypasses the
		// operation-bit gate.
		if ep, err := sig.FromSlot(slot, 0); err == nil {
			_, _ = sig.Snd(cpu, ep, cpu.ID, 0, false, cfg.MaxSigNum)
		}
	}

	thd.ScheduleHighest(cpu)
	return false
}
