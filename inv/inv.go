//
// Copyright: (C) 2020 Nestybox Inc.  All rights reserved.
//

// Package inv implements the synchronous invocation port: a
// guarded, single-active-caller handle referencing another thread's
// entry point, the same shape pidfd.go gives a reference to another
// execution context guarded by a single syscall-numbered operation.
package inv

import (
	"sync/atomic"
	"unsafe"

	"github.com/nestybox/rmekernel/capability"
	"github.com/nestybox/rmekernel/hal"
	"github.com/nestybox/rmekernel/kernelerr"
	"github.com/nestybox/rmekernel/thd"
)

// Port is a synchronous invocation target: calling it activates
// entry/stack in proc's context on the calling thread; at most one
// caller may be active in it at a time.
type Port struct {
	thdAct   unsafe.Pointer // *thd.Thread, CAS-guarded: nil <-> active caller
	proc     *capability.Slot
	entry    uintptr
	stack    uintptr
	isExcRet bool
}

// frame is one invocation-stack entry: the caller's registers at the
// moment of the call, and the port that was entered, so Return knows
// both what to restore and whether a fault-forced return is allowed.
type frame struct {
	saved hal.Regs
	port  *Port
}

// Per-operation bits for an Inv capability's Flag.
const (
	FlagAct uint32 = 1 << iota
	FlagDel
	FlagFrz
)

// Crt creates a port targeting proc's entry/stack. isExcRet permits a
// fault to force a return through this port instead of killing the
// caller (see the fault path).
func Crt(dst *capability.Slot, proc *capability.Slot, entry, stack uintptr, isExcRet bool, now uint64) (*Port, error) {
	if proc.Status() != capability.Valid || proc.Type() != capability.TypePrc {
		return nil, kernelerr.New(kernelerr.CptNull, "process capability not valid")
	}
	if !dst.Occupy() {
		return nil, kernelerr.New(kernelerr.CptExist, "destination slot is occupied")
	}
	proc.AddRef()
	p := &Port{proc: proc, entry: entry, stack: stack, isExcRet: isExcRet}
	dst.Object = p
	dst.Flag = FlagAct | FlagDel | FlagFrz | capability.FlagRemovable
	dst.Publish(capability.TypeInv, capability.AttrRoot, now)
	return p, nil
}

// Del deletes a port's frozen slot; thd_act must be null (no active
// caller).
func Del(slot *capability.Slot, now, quieTime uint64) error {
	if slot.Type() != capability.TypeInv {
		return kernelerr.New(kernelerr.CptNull, "no such invocation port")
	}
	if err := slot.CheckFlagSubset(FlagDel); err != nil {
		return err
	}
	p, ok := slot.Object.(*Port)
	if !ok {
		return kernelerr.New(kernelerr.CptNull, "slot does not hold an invocation port")
	}
	if atomic.LoadPointer(&p.thdAct) != nil {
		return kernelerr.New(kernelerr.SivAct, "port has an active caller")
	}
	if slot.Status() != capability.Frozen {
		return kernelerr.New(kernelerr.CptFrozen, "invocation port is not frozen")
	}
	if err := slot.Delete(capability.TypeInv, capability.AttrRoot, now, quieTime); err != nil {
		return err
	}
	p.proc.DropRef()
	return nil
}

// Frz freezes a port's slot ahead of deletion.
func Frz(slot *capability.Slot, now uint64) error {
	if _, err := resolve(slot, FlagFrz); err != nil {
		return err
	}
	return slot.Freeze(capability.TypeInv, capability.AttrRoot, now)
}

func resolve(slot *capability.Slot, wantFlags uint32) (*Port, error) {
	if err := capability.GetTyped(slot, capability.TypeInv, wantFlags); err != nil {
		return nil, err
	}
	p, ok := slot.Object.(*Port)
	if !ok {
		return nil, kernelerr.New(kernelerr.CptNull, "slot does not hold an invocation port")
	}
	return p, nil
}

// FromSlot resolves a capability slot into its Port, for the
// dispatcher's Inv_Act/Inv_Ret hot path. want is the operation bit the
// caller is about to perform.
func FromSlot(slot *capability.Slot, want uint32) (*Port, error) {
	return resolve(slot, want)
}

// Call implements the invocation call path: CAS-claims port for
// caller (loser gets SIV_ACT), pushes an invocation frame saving
// caller's current registers, then re-initializes caller's registers
// to the port's entry/stack with param and switches its effective
// process to the port's. The syscall itself reports success (0); the
// eventual Return supplies the real result.
func Call(port *Port, caller *thd.Thread, arch hal.Arch, param uint64) error {
	if !atomic.CompareAndSwapPointer(&port.thdAct, nil, unsafe.Pointer(caller)) {
		return kernelerr.New(kernelerr.SivAct, "invocation port is already active")
	}

	saved := caller.Regs
	caller.PushFrame(port.proc, &frame{saved: saved, port: port}, func() {
		atomic.StorePointer(&port.thdAct, nil)
	})
	arch.RegInit(&caller.Regs, port.entry, port.stack, param)
	caller.Regs.Retval = 0
	return nil
}

// Return implements the invocation return path: pops the top frame,
// restores the caller's saved registers, stamps the call-site retval
// with retval, and releases the port. isFaultForced must be false for
// an ordinary user return; a fault-forced return is only honored if
// the port was created with isExcRet, else SIV_FAULT is returned and
// the frame is left in place for the fault path to act on.
func Return(caller *thd.Thread, retval uint64, isFaultForced bool, arch hal.Arch) error {
	top := caller.TopFrame()
	if top == nil {
		return kernelerr.New(kernelerr.PthInvstate, "no active invocation to return from")
	}
	f, ok := top.Payload.(*frame)
	if !ok {
		return kernelerr.New(kernelerr.PthInvstate, "invocation frame is malformed")
	}
	if isFaultForced && !f.port.isExcRet {
		return kernelerr.New(kernelerr.SivFault, "port does not permit a fault-forced return")
	}

	caller.PopFrame()
	arch.RegCopy(&caller.Regs, &f.saved)
	caller.Regs.Retval = retval
	atomic.StorePointer(&f.port.thdAct, nil)
	return nil
}

// Active reports whether port currently has an active caller.
func (p *Port) Active() bool {
	return atomic.LoadPointer(&p.thdAct) != nil
}
