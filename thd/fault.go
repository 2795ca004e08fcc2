//
// Copyright: (C) 2020 Nestybox Inc.  All rights reserved.
//

package thd

import (
	"github.com/nestybox/rmekernel/atomics"
	"github.com/nestybox/rmekernel/hal"
)

// Kill implements the scheduling half of the fault path's kill branch:
// zeroes the thread's slice, transitions it to ExcPend, pulls it off
// the run queue, and notifies its scheduler parent with the fault flag
// set. A boot thread (one with no scheduler parent) can never legally
// fault this way; hitting one is a HAL/board bring-up bug, not a user
// error, so it panics through arch rather than returning a kernel
// error code.
//
// The caller (the fault package) is responsible for the preceding
// invocation-return-on-fault attempt, for kernel-sending the thread's
// scheduler signal endpoint if any, and for the final reschedule
// (ScheduleHighest) once any endpoint send has run its course — all
// three require importing packages thd must not import back.
func Kill(cpu *CPU, t *Thread, arch hal.Arch) {
	t.mu.Lock()
	parent := t.schedParent
	if parent == nil {
		t.mu.Unlock()
		arch.Panic("fault on a boot thread")
		return
	}

	atomics.ReleaseStore64(&t.slice, 0)
	t.state = ExcPend
	readyRemove(cpu, t)
	t.mu.Unlock()

	parent.Notify(t.TID, true)
}
