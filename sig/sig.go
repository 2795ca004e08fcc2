//
// Copyright: (C) 2020 Nestybox Inc.  All rights reserved.
//

// Package sig implements the signal endpoint: a saturating counter
// mutually exclusive with at most one blocked thread, the way
// pidmonitor pairs a polled event counter with a channel a single
// waiter drains, and pidfd.SendSignal targets another execution
// context by a guarded handle rather than a raw PID.
package sig

import (
	"sync"

	"github.com/nestybox/rmekernel/capability"
	"github.com/nestybox/rmekernel/kernelerr"
	"github.com/nestybox/rmekernel/thd"
)

// Mode selects Rcv's blocking/draining behavior.
type Mode uint8

const (
	// BS blocks if empty, else consumes exactly one.
	BS Mode = iota
	// BM blocks if empty, else consumes and returns the whole counter.
	BM
	// NS never blocks: consumes one if present, else SIV_EMPTY.
	NS
	// NM never blocks: consumes and returns the whole counter, else SIV_EMPTY.
	NM
)

func (m Mode) blocks() bool     { return m == BS || m == BM }
func (m Mode) drainsAll() bool  { return m == BM || m == NM }

// Per-operation bits for a Sig capability's Flag.
const (
	FlagSnd uint32 = 1 << iota
	FlagRcv
	FlagDel
	FlagFrz
)

// Endpoint holds the counter/blocked-thread pair. mu serializes the
// pair's joint invariant (sigNum > 0 XOR blocked != nil); Go has no
// portable multi-word CAS, so the "CAS to claim the blocked slot"
// rule is realized as claiming under mu instead of a free-standing
// atomic — any racing claimant still observes a definitive winner,
// the property the spec's CAS language is after.
type Endpoint struct {
	mu      sync.Mutex
	sigNum  uint32
	blocked *thd.Thread
}

// Crt creates a new, empty signal endpoint (counter 0, no blocked
// thread) in the empty dst slot.
func Crt(dst *capability.Slot, now uint64) (*Endpoint, error) {
	if !dst.Occupy() {
		return nil, kernelerr.New(kernelerr.CptExist, "destination slot is occupied")
	}
	ep := &Endpoint{}
	dst.Object = ep
	dst.Flag = FlagSnd | FlagRcv | FlagDel | FlagFrz | capability.FlagRemovable
	dst.Publish(capability.TypeSig, capability.AttrRoot, now)
	return ep, nil
}

// Del deletes an endpoint's frozen slot; it must have no blocked thread.
func Del(slot *capability.Slot, now, quieTime uint64) error {
	if slot.Type() != capability.TypeSig {
		return kernelerr.New(kernelerr.CptNull, "no such signal endpoint")
	}
	if err := slot.CheckFlagSubset(FlagDel); err != nil {
		return err
	}
	ep, ok := slot.Object.(*Endpoint)
	if !ok {
		return kernelerr.New(kernelerr.CptNull, "slot does not hold a signal endpoint")
	}
	ep.mu.Lock()
	blocked := ep.blocked
	ep.mu.Unlock()
	if blocked != nil {
		return kernelerr.New(kernelerr.PthInvstate, "endpoint still has a blocked thread")
	}
	if slot.Status() != capability.Frozen {
		return kernelerr.New(kernelerr.CptFrozen, "signal endpoint is not frozen")
	}
	return slot.Delete(capability.TypeSig, capability.AttrRoot, now, quieTime)
}

// Frz freezes an endpoint's slot ahead of deletion.
func Frz(slot *capability.Slot, now uint64) error {
	if _, err := resolve(slot, FlagFrz); err != nil {
		return err
	}
	return slot.Freeze(capability.TypeSig, capability.AttrRoot, now)
}

func resolve(slot *capability.Slot, wantFlags uint32) (*Endpoint, error) {
	if err := capability.GetTyped(slot, capability.TypeSig, wantFlags); err != nil {
		return nil, err
	}
	ep, ok := slot.Object.(*Endpoint)
	if !ok {
		return nil, kernelerr.New(kernelerr.CptNull, "slot does not hold a signal endpoint")
	}
	return ep, nil
}

// FromSlot resolves a capability slot into its Endpoint, for callers
// outside this package (e.g. the fault path, kernel-sending a thread's
// registered scheduler signal endpoint) that only hold the slot a
// thread was bound with. want is the operation bit the caller is about
// to perform (0 for the kernel-internal scheduler-notify path, which
// bypasses the user-facing Sig_Snd/Sig_Rcv gate).
func FromSlot(slot *capability.Slot, want uint32) (*Endpoint, error) {
	return resolve(slot, want)
}

// Snd implements Sig_Snd. callerCPU is the sender's bound CPU; cpu
// must be that same CPU's local block, since an in-kernel unblock can
// only happen on the blocked thread's own core. fromUser distinguishes
// a user syscall send (which may request direct preemption of the
// caller by a higher-priority woken thread) from a kernel-originated
// one (the ISR path, which never preempts directly — it calls
// thd.PickHighest itself at the end of its handler). preempt reports
// whether the caller should yield to a higher-priority thread it just
// woke.
func Snd(cpu *thd.CPU, ep *Endpoint, callerCPU uint32, callerPrio uint32, fromUser bool, maxSigNum uint32) (preempt bool, err error) {
	ep.mu.Lock()
	target := ep.blocked
	if target != nil && target.CPU() == callerCPU {
		ep.blocked = nil
		ep.mu.Unlock()

		thd.Unblock(cpu, target, 1)
		if fromUser && target.Prio() > callerPrio {
			return true, nil
		}
		return false, nil
	}

	if ep.sigNum >= maxSigNum {
		ep.mu.Unlock()
		return false, kernelerr.New(kernelerr.SivFull, "signal counter saturated")
	}
	ep.sigNum++
	ep.mu.Unlock()
	return false, nil
}

// Rcv implements Sig_Rcv. self is the calling thread; an init thread
// (slice == INIT_TIME) may never block. When the call blocks, Rcv
// returns (0, true, nil): the dispatcher must not write a syscall
// retval (the wakeup path does that later) and must reschedule, the
// same way a yield does.
func Rcv(cpu *thd.CPU, self *thd.Thread, ep *Endpoint, mode Mode, initTime uint64) (count uint32, blocked bool, err error) {
	ep.mu.Lock()

	if ep.sigNum > 0 {
		if mode.drainsAll() {
			count = ep.sigNum
			ep.sigNum = 0
		} else {
			count = 1
			ep.sigNum--
		}
		ep.mu.Unlock()
		return count, false, nil
	}

	if !mode.blocks() {
		ep.mu.Unlock()
		return 0, false, kernelerr.New(kernelerr.SivEmpty, "nothing to receive")
	}
	if self.Slice() == initTime {
		ep.mu.Unlock()
		return 0, false, kernelerr.New(kernelerr.SivBoot, "init threads may not block")
	}
	if ep.blocked != nil {
		ep.mu.Unlock()
		return 0, false, kernelerr.New(kernelerr.SivConflict, "another thread already claimed this endpoint")
	}
	ep.blocked = self
	ep.mu.Unlock()

	thd.Block(self, ep)
	return 0, true, nil
}

// Free implements the endpoint side of Thd_Sched_Free and satisfies
// thd.Freeable: if the freed thread is the one parked here, it's
// unblocked with SIV_FREE instead of a normal signal value.
func (ep *Endpoint) Free(cpu *thd.CPU, t *thd.Thread) {
	ep.mu.Lock()
	if ep.blocked != t {
		ep.mu.Unlock()
		return
	}
	ep.blocked = nil
	ep.mu.Unlock()
	thd.Unblock(cpu, t, uint64(int64(kernelerr.SivFree)))
}
