//
// Copyright: (C) 2020 Nestybox Inc.  All rights reserved.
//

package thd

import (
	"github.com/nestybox/rmekernel/atomics"
	"github.com/nestybox/rmekernel/config"
	"github.com/nestybox/rmekernel/kernelerr"
)

// TimeXfer implements Thd_Time_Xfer: moves time-slice budget from src
// to dst, both bound to cpu. The policy is carried by amount itself,
// the same way the syscall ABI packs it as a plain word rather than a
// separate parameter:
//
//   - amount == cfg.InfTime: Infinite policy. dst's slice becomes
//     infinite; src is left untouched (an infinite-budget thread can
//     lend an unlimited budget to another without losing its own).
//   - amount == cfg.InitTime: Revoke policy. src is drained to zero
//     and dst's slice is set to InitTime (elevated to the pinned,
//     always-schedulable level), regardless of src's and dst's prior
//     values.
//   - otherwise: Normal policy. amount is moved from src to dst; src
//     must hold at least that much, and dst's resulting slice must not
//     exceed cfg.MaxTime.
func TimeXfer(cpu *CPU, dst, src *Thread, amount uint64, cfg config.Params) error {
	if dst.CPU() != cpu.ID || src.CPU() != cpu.ID {
		return kernelerr.New(kernelerr.PthInvstate, "both threads must be bound to this CPU")
	}

	switch amount {
	case cfg.InfTime:
		atomics.ReleaseStore64(&dst.slice, cfg.InfTime)
	case cfg.InitTime:
		atomics.ReleaseStore64(&src.slice, 0)
		atomics.ReleaseStore64(&dst.slice, cfg.InitTime)
	default:
		srcSlice := atomics.AcquireLoad64(&src.slice)
		if srcSlice == cfg.InfTime {
			return kernelerr.New(kernelerr.PthInvstate, "cannot take a finite amount from an infinite-budget thread")
		}
		if amount > srcSlice {
			return kernelerr.New(kernelerr.PthInvstate, "source does not hold enough budget")
		}
		dstSlice := atomics.AcquireLoad64(&dst.slice)
		if dstSlice == cfg.InfTime || dstSlice == cfg.InitTime {
			return kernelerr.New(kernelerr.PthInvstate, "destination already holds a sentinel budget")
		}
		if dstSlice > cfg.MaxTime-amount {
			return kernelerr.New(kernelerr.PthOverflow, "transfer would exceed MAX_TIME")
		}
		atomics.ReleaseStore64(&src.slice, srcSlice-amount)
		atomics.ReleaseStore64(&dst.slice, dstSlice+amount)
	}

	dst.mu.Lock()
	if dst.state == Timeout && atomics.AcquireLoad64(&dst.slice) > 0 {
		readyInsert(cpu, dst)
	}
	dst.mu.Unlock()

	if atomics.AcquireLoad64(&src.slice) == 0 {
		src.mu.Lock()
		if src.rqElem != nil {
			readyRemove(cpu, src)
		}
		if src.state != ExcPend {
			src.state = Timeout
		}
		src.mu.Unlock()
		if parent := src.schedParent; parent != nil {
			parent.Notify(src.TID, false)
		}
	}
	return nil
}

// Swt implements Thd_Swt: a voluntary, in-place reschedule. If target
// is non-nil it must be Ready on cpu at the caller's own priority;
// control passes to it directly. If yield is set, the caller donates
// its entire remaining slice to target and goes Timeout itself. With
// target nil, the highest-priority Ready thread on cpu is picked.
func Swt(cpu *CPU, caller, target *Thread, yield bool) (*Thread, error) {
	if target != nil {
		if target.CPU() != cpu.ID {
			return nil, kernelerr.New(kernelerr.PthInvstate, "switch target is not bound to this CPU")
		}
		target.mu.Lock()
		if target.state != Ready && target.state != Running {
			target.mu.Unlock()
			return nil, kernelerr.New(kernelerr.PthInvstate, "switch target is not runnable")
		}
		if target.prio != caller.Prio() {
			target.mu.Unlock()
			return nil, kernelerr.New(kernelerr.PthPrio, "switch target is not at the caller's priority")
		}
		target.mu.Unlock()

		if yield {
			donated := atomics.AcquireLoad64(&caller.slice)
			atomics.ReleaseStore64(&caller.slice, 0)
			cur := atomics.AcquireLoad64(&target.slice)
			if cur != donated {
				atomics.ReleaseStore64(&target.slice, cur+donated)
			}
			caller.mu.Lock()
			caller.state = Timeout
			caller.mu.Unlock()
			if parent := caller.schedParent; parent != nil {
				parent.Notify(caller.TID, false)
			}
		}
		Switch(cpu, target)
		return target, nil
	}

	next := PickHighest(cpu)
	if next == nil {
		return nil, kernelerr.New(kernelerr.PthInvstate, "no other runnable thread on this CPU")
	}
	Switch(cpu, next)
	return next, nil
}

// PickHighest returns the highest-priority Ready thread on cpu without
// switching to it, or nil if the run queue is empty.
func PickHighest(cpu *CPU) *Thread {
	_, item, ok := cpu.RQ.Highest()
	if !ok {
		return nil
	}
	return item.(*Thread)
}

// Switch makes to the running thread on cpu: removes it from the run
// queue, marks the previously-current thread Ready (if it still has
// budget) or Timeout, and installs to as Current.
func Switch(cpu *CPU, to *Thread) {
	if prev := cpu.Current; prev != nil && prev != to {
		prev.mu.Lock()
		if prev.state == Running {
			if atomics.AcquireLoad64(&prev.slice) > 0 {
				readyInsert(cpu, prev)
			} else {
				prev.state = Timeout
			}
		}
		prev.mu.Unlock()
	}

	to.mu.Lock()
	readyRemove(cpu, to)
	to.state = Running
	to.mu.Unlock()
	cpu.Current = to
}

// ExecSet implements Exec_Set: resets an Timeout/Ready thread's user
// entry point, stack, and first parameter register, pulling it out of
// ExcPend if a fault had been pending (the thread is being respawned
// by its scheduler, not resumed).
func ExecSet(thread *Thread, entry, stack uintptr, param uint64) error {
	thread.mu.Lock()
	defer thread.mu.Unlock()
	if thread.state == Running {
		return kernelerr.New(kernelerr.PthInvstate, "cannot Exec_Set a running thread")
	}
	thread.Regs.Entry = entry
	thread.Regs.Stack = stack
	thread.Regs.Param = param
	if thread.state == ExcPend {
		thread.state = Timeout
	}
	return nil
}
