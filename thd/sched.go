//
// Copyright: (C) 2020 Nestybox Inc.  All rights reserved.
//

package thd

import (
	"github.com/nestybox/rmekernel/atomics"
	"github.com/nestybox/rmekernel/capability"
	"github.com/nestybox/rmekernel/hal"
	"github.com/nestybox/rmekernel/kernelerr"
	"github.com/nestybox/rmekernel/runqueue"
)

// CPU is one core's local scheduling block: its current thread and
// ready queue. Mutated only by the goroutine representing that core;
// cross-CPU effects (Sched_Free of a remote thread, priority raise of
// a running thread elsewhere) flow through the run-queue's CAS-backed
// siblings in capability/atomics rather than locking this struct.
type CPU struct {
	ID      uint32
	RQ      *runqueue.Queue
	Current *Thread
}

// NewCPU builds a CPU with an empty run-queue of numPriorities buckets.
func NewCPU(id uint32, numPriorities uint) *CPU {
	return &CPU{ID: id, RQ: runqueue.New(numPriorities)}
}

// BindBoot pins a CPU's first thread directly, with no scheduler
// parent: every other thread reaches a CPU through Sched_Bind, which
// requires an already-bound parent, so each core's boot/idle thread
// needs this one carve-out to get the chain started. slice is
// typically cfg.InitTime, the always-schedulable pinned budget real
// boot threads run with.
func BindBoot(cpu *CPU, t *Thread, prio uint32, slice uint64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cpu != FreeCPU {
		return kernelerr.New(kernelerr.PthInvstate, "thread is already bound")
	}
	if prio > t.maxPrio {
		return kernelerr.New(kernelerr.PthPrio, "priority exceeds thread's own max")
	}
	t.cpu = cpu.ID
	t.prio = prio
	atomics.ReleaseStore64(&t.slice, slice)
	if slice > 0 {
		readyInsert(cpu, t)
	} else {
		t.state = Timeout
	}
	return nil
}

// readyInsert puts t on cpu's run queue at its current priority and
// marks it Ready; must be called with t already bound to cpu.
func readyInsert(cpu *CPU, t *Thread) {
	t.state = Ready
	t.rqElem = cpu.RQ.Push(t.prio, t)
}

// readyRemove takes t off cpu's run queue, if it's on it.
func readyRemove(cpu *CPU, t *Thread) {
	if t.rqElem != nil {
		cpu.RQ.Remove(t.prio, t.rqElem)
		t.rqElem = nil
	}
}

// SchedBind implements Thd_Sched_Bind: attaches thread to a scheduler
// parent on cpu, at prio (bounded by the parent's own max), optionally
// naming a signal endpoint the parent will be notified through.
func SchedBind(cpu *CPU, thread, parent *Thread, sig *capability.Slot, prio uint32, haddr uintptr, cfg struct {
	HypRegionBase uint64
	HypRegionLen  uint64
}, arch hal.Arch) error {
	thread.mu.Lock()
	defer thread.mu.Unlock()
	if thread.cpu != FreeCPU {
		return kernelerr.New(kernelerr.PthInvstate, "thread is already bound")
	}
	if thread == parent {
		return kernelerr.New(kernelerr.PthInvstate, "a thread cannot be its own scheduler parent")
	}

	parent.mu.Lock()
	parentCPU, parentMaxPrio := parent.cpu, parent.maxPrio
	parent.mu.Unlock()
	if parentCPU != cpu.ID {
		return kernelerr.New(kernelerr.PthInvstate, "scheduler parent is not bound to this CPU")
	}
	if prio > parentMaxPrio {
		return kernelerr.New(kernelerr.PthPrio, "priority exceeds scheduler parent's max")
	}

	if thread.isHyp {
		base, length := cfg.HypRegionBase, cfg.HypRegionLen
		if length == 0 || uint64(haddr) < base || uint64(haddr) >= base+length || uint64(haddr)%8 != 0 {
			return kernelerr.New(kernelerr.PthHaddr, "hypervisor register address out of range")
		}
	} else if haddr != 0 {
		return kernelerr.New(kernelerr.PthHaddr, "register address given for a non-hypervisor thread")
	}

	if thread.copAttr != 0 && !arch.CopCheck(thread.copAttr) {
		return kernelerr.New(kernelerr.PthInvstate, "co-processor state incompatible with this CPU")
	}

	thread.cpu = cpu.ID
	thread.prio = prio
	thread.schedParent = parent
	thread.hypHaddr = haddr
	if sig != nil {
		sig.AddRef()
		thread.schedSig = sig
	}
	atomics.FetchAdd32(&parent.schedRef, 1)

	thread.state = Timeout
	return nil
}

// SchedPrio implements Thd_Sched_Prio: reprioritizes up to three
// threads bound to cpu in one call, returning their prior priorities.
// A thread currently Ready is removed and reinserted at its new
// priority; a Running thread just has its field updated (the caller
// is responsible for rescheduling afterward if that dropped it below
// another Ready thread).
func SchedPrio(cpu *CPU, threads []*Thread, newPrios []uint32) ([]uint32, error) {
	if len(threads) == 0 || len(threads) > 3 || len(threads) != len(newPrios) {
		return nil, kernelerr.New(kernelerr.PthPrio, "between 1 and 3 threads required, one priority each")
	}
	old := make([]uint32, len(threads))
	for i, t := range threads {
		t.mu.Lock()
		if t.cpu != cpu.ID {
			t.mu.Unlock()
			return nil, kernelerr.New(kernelerr.PthInvstate, "thread is not bound to this CPU")
		}
		if newPrios[i] > t.maxPrio {
			t.mu.Unlock()
			return nil, kernelerr.New(kernelerr.PthPrio, "priority exceeds thread's own max")
		}
		t.mu.Unlock()
	}

	for i, t := range threads {
		t.mu.Lock()
		old[i] = t.prio
		wasReady := t.rqElem != nil
		if wasReady {
			readyRemove(cpu, t)
		}
		t.prio = newPrios[i]
		if wasReady {
			readyInsert(cpu, t)
		}
		t.mu.Unlock()
	}
	return old, nil
}

// SchedFree implements Thd_Sched_Free: detaches thread from cpu and
// its scheduler parent. The thread must have no children of its own
// still registered as scheduler (schedRef == 0). If the thread is
// Blocked, whatever it's parked on is freed first (with SIV_FREE
// rather than a normal wakeup value) so that side's own bookkeeping
// (e.g. a signal endpoint's blocked field) doesn't dangle; this has to
// happen with thread.mu unlocked, since Free's own unblock path
// re-locks it.
func SchedFree(cpu *CPU, thread *Thread) error {
	thread.mu.Lock()
	if thread.cpu != cpu.ID {
		thread.mu.Unlock()
		return kernelerr.New(kernelerr.PthInvstate, "thread is not bound to this CPU")
	}
	if atomics.AcquireLoad32(&thread.schedRef) != 0 {
		thread.mu.Unlock()
		return kernelerr.New(kernelerr.PthRefcnt, "thread still has children registered as its scheduler")
	}
	wasBlocked := thread.state == Blocked
	blockedOn := thread.blockedOn
	thread.mu.Unlock()

	if wasBlocked && blockedOn != nil {
		blockedOn.Free(cpu, thread)
	}

	thread.mu.Lock()
	defer thread.mu.Unlock()

	readyRemove(cpu, thread)
	if cpu.Current == thread {
		cpu.Current = nil
	}
	if thread.schedSig != nil {
		thread.schedSig.DropRef()
		thread.schedSig = nil
	}
	if parent := thread.schedParent; parent != nil {
		atomics.FetchAdd32(&parent.schedRef, -1)
		parent.clearNotify(thread.TID)
		thread.schedParent = nil
	}

	thread.cpu = FreeCPU
	thread.state = Timeout
	thread.prio = 0
	thread.hypHaddr = 0
	thread.blockedOn = nil
	return nil
}

// SchedRcv implements Thd_Sched_Rcv: pops the oldest pending
// notification for thread, or returns PTH_NOTIF if none is pending.
// Never blocks.
func SchedRcv(thread *Thread) (Notification, error) {
	thread.notifyMu.Lock()
	defer thread.notifyMu.Unlock()
	if len(thread.notifyQueue) == 0 {
		return Notification{}, kernelerr.New(kernelerr.PthNotif, "no pending notification")
	}
	n := thread.notifyQueue[0]
	thread.notifyQueue = thread.notifyQueue[1:]
	delete(thread.notifyOf, n.TID)
	return n, nil
}

// Notify pushes a notification about child onto its scheduler parent's
// queue, unless one is already pending for that TID (a thread has at
// most one outstanding notification on its parent at a time). Used by
// the timer and fault paths when a child times out or excepts.
func (parent *Thread) Notify(childTID uint64, fault bool) {
	parent.notifyMu.Lock()
	defer parent.notifyMu.Unlock()
	if parent.notifyOf[childTID] {
		return
	}
	parent.notifyOf[childTID] = true
	parent.notifyQueue = append(parent.notifyQueue, Notification{TID: childTID, Fault: fault})
}

// Unblock resumes a thread a signal endpoint had parked: writes retval
// into its syscall return register, then either reinserts it Ready
// (if it still has budget) or sets it Timeout (its parent was already
// notified when the budget ran out). Used by sig.Snd's unblock path.
func Unblock(cpu *CPU, t *Thread, retval uint64) {
	t.mu.Lock()
	t.Regs.Retval = retval
	t.blockedOn = nil
	hasSlice := atomics.AcquireLoad64(&t.slice) > 0
	if hasSlice {
		readyInsert(cpu, t)
	} else {
		t.state = Timeout
	}
	t.mu.Unlock()
}

// Block takes a Running thread off the CPU (it must already not be in
// the run queue) and marks it Blocked, for a signal endpoint's
// blocking receive with nothing to consume. on is what can later free
// the thread out of this wait (e.g. the signal endpoint itself), so
// Sched_Free can unblock it correctly rather than just forcing its
// scheduling state.
func Block(t *Thread, on Freeable) {
	t.mu.Lock()
	t.state = Blocked
	t.blockedOn = on
	t.mu.Unlock()
}

func (parent *Thread) clearNotify(childTID uint64) {
	parent.notifyMu.Lock()
	defer parent.notifyMu.Unlock()
	if parent.notifyOf[childTID] {
		delete(parent.notifyOf, childTID)
		for i, n := range parent.notifyQueue {
			if n.TID == childTID {
				parent.notifyQueue = append(parent.notifyQueue[:i], parent.notifyQueue[i+1:]...)
				break
			}
		}
	}
}
