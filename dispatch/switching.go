//
// Copyright: (C) 2020 Nestybox Inc.  All rights reserved.
//

package dispatch

import (
	"github.com/nestybox/rmekernel/capability"
	"github.com/nestybox/rmekernel/hal"
	"github.com/nestybox/rmekernel/kernelerr"
	"github.com/nestybox/rmekernel/kfn"
	"github.com/nestybox/rmekernel/sig"
	"github.com/nestybox/rmekernel/thd"
)

// dispatchSwitching handles every syscall that may reschedule cpu:
// each case writes its own retval (into the trapping caller's own
// register set, which stays valid regardless of which thread ends up
// Current) before triggering whatever reschedule its operation calls
// for, rather than leaving the write to a shared post-switch step.
func dispatchSwitching(cpu *thd.CPU, caller *thd.Thread, arch hal.Arch, env Env, sc Syscall, capID, p1, p2, p3 uint64) {
	switch sc {
	case SigSnd:
		handleSigSnd(cpu, caller, arch, env, capID)
	case SigRcv:
		handleSigRcv(cpu, caller, arch, env, capID, p1)
	case KfnAct:
		handleKfnAct(caller, arch, capID, p1, p2, p3)
	case ThdSchedPrio:
		handleThdSchedPrio(cpu, caller, arch, capID, p1)
	case ThdSchedFree:
		handleThdSchedFree(cpu, caller, arch, capID)
	case ThdTimeXfer:
		handleThdTimeXfer(cpu, caller, arch, env, capID, p1, p2)
	case ThdSwt:
		handleThdSwt(cpu, caller, arch, capID, p1)
	default:
		arch.SetRetval(&caller.Regs, retvalOf(0, kernelerr.New(kernelerr.DspUnknown, "no such syscall number")))
	}
}

func handleSigSnd(cpu *thd.CPU, caller *thd.Thread, arch hal.Arch, env Env, capID uint64) {
	slot, err := resolveCap(caller, capID)
	if err == nil {
		var ep *sig.Endpoint
		ep, err = sig.FromSlot(slot, sig.FlagSnd)
		if err == nil {
			var preempt bool
			preempt, err = sig.Snd(cpu, ep, cpu.ID, caller.Prio(), true, env.Cfg.MaxSigNum)
			arch.SetRetval(&caller.Regs, retvalOf(0, err))
			if err == nil && preempt {
				thd.ScheduleHighest(cpu)
			}
			return
		}
	}
	arch.SetRetval(&caller.Regs, retvalOf(0, err))
}

func handleSigRcv(cpu *thd.CPU, caller *thd.Thread, arch hal.Arch, env Env, capID, mode uint64) {
	slot, err := resolveCap(caller, capID)
	if err != nil {
		arch.SetRetval(&caller.Regs, retvalOf(0, err))
		return
	}
	ep, err := sig.FromSlot(slot, sig.FlagRcv)
	if err != nil {
		arch.SetRetval(&caller.Regs, retvalOf(0, err))
		return
	}
	count, blocked, err := sig.Rcv(cpu, caller, ep, sig.Mode(mode), env.Cfg.InitTime)
	if blocked {
		// caller was just taken off the run queue; its retval is
		// written later, by whichever Sig_Snd eventually unblocks it.
		thd.ScheduleHighest(cpu)
		return
	}
	arch.SetRetval(&caller.Regs, retvalOf(uint64(count), err))
}

func handleKfnAct(caller *thd.Thread, arch hal.Arch, capID, p1, p2, p3 uint64) {
	// Kernel functions name no capability, so the word's cap-ID field
	// doubles as the function number instead of a table index.
	ret, err := kfn.Call(arch, kfn.Func(capID), p1, p2, p3)
	arch.SetRetval(&caller.Regs, retvalOf(ret, err))
}

func handleThdSchedPrio(cpu *thd.CPU, caller *thd.Thread, arch hal.Arch, capID, newPrio uint64) {
	slot, err := resolveCap(caller, capID)
	if err == nil {
		var target *thd.Thread
		target, err = thd.FromSlot(slot)
		if err == nil {
			var old []uint32
			old, err = thd.SchedPrio(cpu, []*thd.Thread{target}, []uint32{uint32(newPrio)})
			if err == nil {
				arch.SetRetval(&caller.Regs, uint64(old[0]))
				thd.ScheduleHighest(cpu)
				return
			}
		}
	}
	arch.SetRetval(&caller.Regs, retvalOf(0, err))
}

func handleThdSchedFree(cpu *thd.CPU, caller *thd.Thread, arch hal.Arch, capID uint64) {
	slot, err := resolveCap(caller, capID)
	if err == nil {
		var target *thd.Thread
		target, err = thd.FromSlot(slot)
		if err == nil {
			err = thd.SchedFree(cpu, target)
			if err == nil {
				arch.SetRetval(&caller.Regs, 0)
				thd.ScheduleHighest(cpu)
				return
			}
		}
	}
	arch.SetRetval(&caller.Regs, retvalOf(0, err))
}

func handleThdTimeXfer(cpu *thd.CPU, caller *thd.Thread, arch hal.Arch, env Env, capID, srcID, amount uint64) {
	dstSlot, err := resolveCap(caller, capID)
	if err == nil {
		var dst *thd.Thread
		dst, err = thd.FromSlot(dstSlot)
		if err == nil {
			var srcSlot *capability.Slot
			srcSlot, err = resolveCap(caller, srcID)
			if err == nil {
				var src *thd.Thread
				src, err = thd.FromSlot(srcSlot)
				if err == nil {
					err = thd.TimeXfer(cpu, dst, src, amount, env.Cfg)
					if err == nil {
						arch.SetRetval(&caller.Regs, 0)
						thd.ScheduleHighest(cpu)
						return
					}
				}
			}
		}
	}
	arch.SetRetval(&caller.Regs, retvalOf(0, err))
}

func handleThdSwt(cpu *thd.CPU, caller *thd.Thread, arch hal.Arch, capID, yieldFlag uint64) {
	var target *thd.Thread
	var err error
	if capID != noTarget {
		var slot, resolveErr = resolveCap(caller, capID)
		if resolveErr != nil {
			err = resolveErr
		} else {
			target, err = thd.FromSlot(slot)
		}
	}
	if err != nil {
		arch.SetRetval(&caller.Regs, retvalOf(0, err))
		return
	}
	if _, err = thd.Swt(cpu, caller, target, yieldFlag != 0); err != nil {
		arch.SetRetval(&caller.Regs, retvalOf(0, err))
		return
	}
	arch.SetRetval(&caller.Regs, 0)
}
