//
// Copyright: (C) 2020 Nestybox Inc.  All rights reserved.
//

// Package thd implements the thread and per-CPU scheduler component:
// scheduling state, the invocation stack anchor, parent/child
// notification bookkeeping, and the run-queue mutations that
// Sched_Bind/Sched_Prio/Sched_Free/Time_Xfer/Swt perform. Grounded on
// the same event-table-plus-mutex shape a pid-event monitor uses to
// let one goroutine poll for what happened to others.
package thd

import (
	"container/list"
	"sync"

	"github.com/nestybox/rmekernel/atomics"
	"github.com/nestybox/rmekernel/capability"
	"github.com/nestybox/rmekernel/hal"
	"github.com/nestybox/rmekernel/kernelerr"
)

// State is a thread's position in the scheduling state machine.
type State uint8

const (
	Running State = iota
	Ready
	Blocked
	Timeout
	ExcPend
)

func (s State) String() string {
	switch s {
	case Running:
		return "running"
	case Ready:
		return "ready"
	case Blocked:
		return "blocked"
	case Timeout:
		return "timeout"
	case ExcPend:
		return "excpend"
	}
	return "invalid"
}

// FreeCPU is the BoundCPU sentinel for a thread not yet bound to any
// core (set at creation, restored by Sched_Free).
const FreeCPU = ^uint32(0)

// FlagDel and FlagFrz gate Thd_Del/Thd_Frz. The remaining bits of a
// thread capability's Flag are reserved for the other thread/scheduler
// operations (Exec_Set, Sched_Bind, Sched_Prio, Sched_Free, Sched_Rcv,
// Time_Xfer, Swt), which reach their target thread directly via
// FromSlot rather than through this package's own resolve, and so are
// not yet individually bit-gated.
const (
	FlagDel uint32 = 1 << iota
	FlagFrz
)

// Freeable is whatever a Blocked thread is parked on: something that
// can be told to release it, without thd needing to import the
// package that implements it (sig, currently the only blocker).
// Sched_Free uses this to unblock a thread out from under whatever it
// was waiting for instead of just forcing its scheduling state, which
// would leave the blocker's own bookkeeping (e.g. a signal endpoint's
// blocked field) dangling.
type Freeable interface {
	Free(cpu *CPU, t *Thread)
}

// Notification is one entry in a scheduler thread's event list: its
// child's TID, and whether the event was a fault (ExcPend) rather
// than a plain timeout.
type Notification struct {
	TID   uint64
	Fault bool
}

// InvFrame is one entry of a thread's invocation stack. The inv
// package owns frame contents (saved registers, owning port, prior
// process); thd only maintains the linked list and exposes the
// process in effect at the top of the stack.
type InvFrame struct {
	Prev    *InvFrame
	Process *capability.Slot // page table in effect while this frame is active
	Payload interface{}      // inv-package-owned frame data
	Release func()           // clears the owning port's active-caller slot
}

// Thread is one schedulable context.
type Thread struct {
	TID uint64

	mu        sync.Mutex // guards the fields below; owned by the thread's bound CPU
	slice     uint64
	state     State
	prio      uint32
	maxPrio   uint32
	cpu       uint32
	blockedOn Freeable // set while state == Blocked, cleared by Unblock

	schedParent *Thread
	schedSig    *capability.Slot
	schedRef    uint32

	notifyMu    sync.Mutex
	notifyQueue []Notification
	notifyOf    map[uint64]bool // TIDs with a pending notification, for the "unless already present" rule

	proc *capability.Slot

	Regs    hal.Regs
	Cop     hal.CopState
	copAttr uint32 // requested co-processor feature bits, 0 if none

	rqElem *list.Element
	invTop *InvFrame

	hypHaddr uintptr // external register-save address, HYP threads only
	isHyp    bool
}

// Crt creates a new thread in the empty dst slot: Free/Timeout, zero
// slice, no invocation stack, maxPrio bounded by creator's own.
// copAttr is 0 if the thread uses no co-processor state, else the
// feature bits it requires (checked against the binding CPU at
// Sched_Bind time, since co-processor availability can be CPU-local).
func Crt(dst *capability.Slot, proc *capability.Slot, copAttr uint32, isHyp bool, creatorMaxPrio uint32, maxPrio uint32, arch hal.Arch, now uint64) (*Thread, error) {
	if maxPrio > creatorMaxPrio {
		return nil, kernelerr.New(kernelerr.PthPrio, "max_prio exceeds creator's own")
	}
	if proc.Status() != capability.Valid || proc.Type() != capability.TypePrc {
		return nil, kernelerr.New(kernelerr.CptNull, "process capability not valid")
	}
	if !dst.Occupy() {
		return nil, kernelerr.New(kernelerr.CptExist, "destination slot is occupied")
	}

	t := &Thread{
		state:    Timeout,
		cpu:      FreeCPU,
		maxPrio:  maxPrio,
		proc:     proc,
		notifyOf: make(map[uint64]bool),
		copAttr:  copAttr,
		isHyp:    isHyp,
	}
	if copAttr != 0 {
		arch.CopInit(&t.Cop)
	}
	proc.AddRef()

	dst.Object = t
	dst.Flag = 0b111111111 | capability.FlagRemovable // all thread operations granted to the creator
	dst.Publish(capability.TypeThd, capability.AttrRoot, now)
	return t, nil
}

// Del deletes a frozen thread slot; the thread must already be Free
// (unbound). A non-empty invocation stack does not block the delete:
// every frame is released instead (see InvFrame.Release).
func Del(slot *capability.Slot, now, quieTime uint64) error {
	if slot.Type() != capability.TypeThd {
		return kernelerr.New(kernelerr.CptNull, "no such thread")
	}
	if err := slot.CheckFlagSubset(FlagDel); err != nil {
		return err
	}
	if slot.Status() != capability.Frozen {
		return kernelerr.New(kernelerr.CptFrozen, "thread capability is not frozen")
	}
	t, ok := slot.Object.(*Thread)
	if !ok {
		return kernelerr.New(kernelerr.CptNull, "slot does not hold a thread")
	}
	t.mu.Lock()
	if t.cpu != FreeCPU {
		t.mu.Unlock()
		return kernelerr.New(kernelerr.PthInvstate, "thread is still bound to a CPU")
	}
	invTop := t.invTop
	t.invTop = nil
	t.mu.Unlock()

	// A thread may be deleted with a non-empty invocation stack: every
	// frame is released (its port's active-caller slot cleared) rather
	// than rejecting the delete.
	for f := invTop; f != nil; f = f.Prev {
		if f.Release != nil {
			f.Release()
		}
	}

	if err := slot.Delete(capability.TypeThd, capability.AttrRoot, now, quieTime); err != nil {
		return err
	}
	t.proc.DropRef()
	return nil
}

// Frz freezes a thread slot, the first step before Del.
func Frz(slot *capability.Slot, now uint64) error {
	if _, err := resolve(slot, FlagFrz); err != nil {
		return err
	}
	return slot.Freeze(capability.TypeThd, capability.AttrRoot, now)
}

func resolve(slot *capability.Slot, wantFlags uint32) (*Thread, error) {
	if err := capability.GetTyped(slot, capability.TypeThd, wantFlags); err != nil {
		return nil, err
	}
	t, ok := slot.Object.(*Thread)
	if !ok {
		return nil, kernelerr.New(kernelerr.CptNull, "slot does not hold a thread")
	}
	return t, nil
}

// FromSlot resolves a capability slot into its Thread, for the
// dispatcher to turn a syscall's capability ID into a *Thread before
// calling a scheduling operation that takes one directly. This is pure
// navigation (the scheduling operation itself does its own checking),
// so no operation bit is required here.
func FromSlot(slot *capability.Slot) (*Thread, error) {
	return resolve(slot, 0)
}

// State returns the thread's current scheduling state.
func (t *Thread) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// CPU returns the thread's bound CPU, or FreeCPU.
func (t *Thread) CPU() uint32 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cpu
}

// Prio returns the thread's current (mutable) priority.
func (t *Thread) Prio() uint32 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.prio
}

// MaxPrio returns the thread's immutable priority ceiling.
func (t *Thread) MaxPrio() uint32 {
	return t.maxPrio
}

// Slice returns the thread's remaining time-slice budget.
func (t *Thread) Slice() uint64 {
	return atomics.AcquireLoad64(&t.slice)
}

// Process returns the capability slot of the process this thread runs
// in outside of any invocation (the fallback when its invocation stack
// is empty).
func (t *Thread) Process() *capability.Slot {
	return t.proc
}

// SchedSig returns the scheduler-parent signal endpoint slot bound via
// Sched_Bind, or nil if none was given.
func (t *Thread) SchedSig() *capability.Slot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.schedSig
}

// PushFrame pushes a new invocation frame and returns it; inv owns
// payload contents. release, if non-nil, is called by Del to clear
// the owning port's active-caller slot when the thread is deleted out
// from under a non-empty invocation stack.
func (t *Thread) PushFrame(proc *capability.Slot, payload interface{}, release func()) *InvFrame {
	t.mu.Lock()
	defer t.mu.Unlock()
	f := &InvFrame{Prev: t.invTop, Process: proc, Payload: payload, Release: release}
	t.invTop = f
	return f
}

// PopFrame removes and returns the top invocation frame, or nil if
// the stack is empty.
func (t *Thread) PopFrame() *InvFrame {
	t.mu.Lock()
	defer t.mu.Unlock()
	f := t.invTop
	if f == nil {
		return nil
	}
	t.invTop = f.Prev
	return f
}

// TopFrame returns the current top invocation frame without removing
// it, or nil if the stack is empty.
func (t *Thread) TopFrame() *InvFrame {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.invTop
}

// EffectiveProcess returns the process whose page table is in effect:
// the top invocation frame's process, or the thread's own if the
// invocation stack is empty.
func (t *Thread) EffectiveProcess() *capability.Slot {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.invTop != nil {
		return t.invTop.Process
	}
	return t.proc
}
