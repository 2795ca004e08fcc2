//
// Copyright: (C) 2020 Nestybox Inc.  All rights reserved.
//

// Package timer wires a CPU's periodic tick into the scheduler: slice
// decrement, timeout notification, a kernel-send to the CPU's tick
// signal endpoint, and a final reschedule pass — the same
// ticker-driven poll-and-act loop a file monitor runs against its own
// watch table on every interval, but driving schedule bookkeeping
// instead of stat() calls.
package timer

import (
	"github.com/nestybox/rmekernel/config"
	"github.com/nestybox/rmekernel/sig"
	"github.com/nestybox/rmekernel/thd"
)

// Tick performs one timer interrupt's worth of bookkeeping for cpu:
// decrements the current thread's slice (unless infinite), moving it
// to Timeout and notifying its scheduler parent if the budget is
// exhausted; unconditionally kernel-sends tickEP if one is installed
// on this CPU; and finally reschedules the highest-priority runnable
// thread if it strictly outranks whatever is current now.
func Tick(cpu *thd.CPU, tickEP *sig.Endpoint, cfg config.Params) {
	thd.Elapse(cpu, cfg, false)
	if tickEP != nil {
		// A thread the send wakes is picked up by the reschedule pass
		// below rather than acted on here directly.
		_, _ = sig.Snd(cpu, tickEP, cpu.ID, 0, false, cfg.MaxSigNum)
	}
	thd.ScheduleHighest(cpu)
}

// Elapse accounts for the passage of time without generating a tick:
// the current thread's slice is never allowed to reach zero (floor of
// 1), so accounting time mid-syscall never evicts the syscall's own
// caller before it can return.
func Elapse(cpu *thd.CPU, cfg config.Params) {
	thd.Elapse(cpu, cfg, true)
}
