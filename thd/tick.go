//
// Copyright: (C) 2020 Nestybox Inc.  All rights reserved.
//

package thd

import (
	"github.com/nestybox/rmekernel/atomics"
	"github.com/nestybox/rmekernel/config"
)

// Elapse accounts one unit of elapsed time against cpu's current
// thread, unless its budget is infinite. With floor set, the slice
// is never allowed to reach zero (clamped to 1) — the form used to
// account time without generating an interrupt tick, preserving the
// invariant that a syscall's own caller is still current on syscall
// exit. Without floor, reaching zero transitions the thread to
// Timeout and notifies its scheduler parent; it reports whether that
// happened.
func Elapse(cpu *CPU, cfg config.Params, floor bool) bool {
	cur := cpu.Current
	if cur == nil {
		return false
	}

	hitZero := false
	cur.mu.Lock()
	slice := atomics.AcquireLoad64(&cur.slice)
	if slice != cfg.InfTime && slice > 0 {
		next := slice - 1
		if floor && next == 0 {
			next = 1
		}
		atomics.ReleaseStore64(&cur.slice, next)
		if next == 0 {
			cur.state = Timeout
			hitZero = true
		}
	}
	cur.mu.Unlock()

	if hitZero {
		if parent := cur.schedParent; parent != nil {
			parent.Notify(cur.TID, false)
		}
	}
	return hitZero
}

// ScheduleHighest compares cpu's current thread against the run
// queue's highest-priority entry and context-switches only if the
// high thread strictly outranks it, or if the current thread is no
// longer Running/Ready (e.g. it just hit Timeout via Elapse).
func ScheduleHighest(cpu *CPU) {
	high := PickHighest(cpu)
	if high == nil {
		return
	}

	cur := cpu.Current
	if cur == nil {
		Switch(cpu, high)
		return
	}

	cur.mu.Lock()
	curState := cur.state
	curPrio := cur.prio
	cur.mu.Unlock()

	if curState != Running && curState != Ready {
		Switch(cpu, high)
		return
	}
	if high.Prio() > curPrio {
		Switch(cpu, high)
	}
}
