//
// Copyright: (C) 2020 Nestybox Inc.  All rights reserved.
//

// Package dispatch implements the syscall dispatcher: it decodes a
// trapped thread's packed syscall word through the HAL, resolves
// whatever capability IDs the call names against the caller's own
// capability table, and routes to the owning component's handler. The
// shape mirrors linuxUtils' two-stage decode-then-switch and
// formatter's small single-purpose per-case helpers: one case per
// syscall number, each just unpacking its own parameter convention and
// calling straight through to the component function that already
// does the real work.
package dispatch

import (
	"github.com/sirupsen/logrus"

	"github.com/nestybox/rmekernel/atomics"
	"github.com/nestybox/rmekernel/capability"
	"github.com/nestybox/rmekernel/config"
	"github.com/nestybox/rmekernel/cpt"
	"github.com/nestybox/rmekernel/hal"
	"github.com/nestybox/rmekernel/idfmt"
	"github.com/nestybox/rmekernel/kernelerr"
	"github.com/nestybox/rmekernel/kot"
	"github.com/nestybox/rmekernel/prc"
	"github.com/nestybox/rmekernel/thd"
)

var log = logrus.WithField("comp", "dispatch")

// Syscall is the 6-bit operation number carried in the low bits of the
// packed syscall word. Numbers are part of the kernel ABI and must
// stay stable across reboots: new operations are appended, never
// inserted.
type Syscall uint32

const (
	CptCrt Syscall = iota
	CptDel
	CptFrz
	CptAdd
	CptRem

	PgtCrt
	PgtDel
	PgtAdd
	PgtRem
	PgtCon
	PgtDes

	PrcCrt
	PrcDel
	PrcCpt
	PrcPgt

	ThdCrt
	ThdDel
	ThdExecSet
	ThdSchedBind
	ThdSchedRcv
	ThdSchedPrio
	ThdSchedFree
	ThdTimeXfer
	ThdSwt

	SigCrt
	SigDel
	SigSnd
	SigRcv

	InvCrt
	InvDel
	InvAct
	InvRet

	KfnAct
)

// Env bundles the allocation-time dependencies a single Dispatch call
// may need beyond the trapping thread's own registers: the KOT for
// Cpt/Pgt-backed object creation and a clock for every quiescence
// timestamp a component handler samples.
type Env struct {
	KOT   *kot.Table
	Clock *atomics.Clock
	Cfg   config.Params
}

// noTarget is the Thd_Swt sentinel for "no thread", since 0
// is a legitimate table index.
const noTarget = ^uint64(0)

// resolveCap resolves idx against the caller's own capability table:
// its effective process's bound Cpt, indexed directly. Nested
// (multi-level) capability IDs are out of scope here — every operand
// a syscall names is an index into the caller's own table, not a
// second-level table reached through it.
func resolveCap(caller *thd.Thread, idx uint64) (*capability.Slot, error) {
	proc, err := prc.FromSlot(caller.EffectiveProcess())
	if err != nil {
		return nil, err
	}
	tbl, err := cpt.FromSlot(proc.Cpt())
	if err != nil {
		return nil, err
	}
	return tbl.EntryAt(uint32(idx))
}

// retvalOf converts a handler result into the packed syscall retval:
// an unwrapped kernelerr.Code's negative value on failure, the
// caller-supplied success value otherwise.
func retvalOf(success uint64, err error) uint64 {
	if err == nil {
		return success
	}
	if ke, ok := kernelerr.AsErr(err); ok {
		return uint64(int64(ke.Code))
	}
	return uint64(int64(kernelerr.DspUnknown))
}

// Dispatch decodes cpu's current thread's trapped syscall and routes
// it to a handler. Invocation return/activation are handled first and
// do not fall through to either switch below. Syscalls that may
// context-switch the CPU (signal send/receive, kernel function,
// thread scheduling operations) write their own retval before any
// switch occurs; everything else is written generically on return
// from dispatchNonSwitching.
func Dispatch(cpu *thd.CPU, arch hal.Arch, env Env) {
	caller := cpu.Current
	if caller == nil {
		return
	}
	svc, capID, p1, p2, p3 := arch.SyscallArgs(&caller.Regs)
	sc := Syscall(svc)

	log.WithFields(logrus.Fields{
		"cpu":    idfmt.Core(uint64(cpu.ID)),
		"thread": idfmt.Thread(caller.TID),
		"svc":    sc,
		"cap":    capID,
	}).Trace("syscall")

	switch sc {
	case InvAct:
		handleInvAct(caller, arch, capID, p1, p2, p3)
		return
	case InvRet:
		handleInvRet(caller, arch, p1)
		return
	}

	switch sc {
	case SigSnd, SigRcv, KfnAct,
		ThdSchedPrio, ThdSchedFree, ThdTimeXfer, ThdSwt:
		dispatchSwitching(cpu, caller, arch, env, sc, capID, p1, p2, p3)
		return
	}

	retval := retvalOf(dispatchNonSwitching(cpu, caller, arch, env, sc, capID, p1, p2, p3))
	arch.SetRetval(&caller.Regs, retval)
}
