//
// Copyright: (C) 2020 Nestybox Inc.  All rights reserved.
//

package dispatch

import (
	"github.com/nestybox/rmekernel/capability"
	"github.com/nestybox/rmekernel/cpt"
	"github.com/nestybox/rmekernel/hal"
	"github.com/nestybox/rmekernel/inv"
	"github.com/nestybox/rmekernel/kernelerr"
	"github.com/nestybox/rmekernel/pgt"
	"github.com/nestybox/rmekernel/prc"
	"github.com/nestybox/rmekernel/sig"
	"github.com/nestybox/rmekernel/thd"
)

// dispatchNonSwitching handles every syscall that never context-switches
// the CPU: the caller that trapped in is always the caller that
// resumes, so the dispatcher can write its retval generically once the
// handler returns instead of each case owning the write.
//
// Every non-Cpt type's Del here does its own freeze immediately before
// deleting rather than requiring a separate Frz syscall first: only
// Cpt exposes Frz as its own dispatched operation (a capability table
// is long-lived enough that freezing it ahead of an eventual delete is
// useful on its own), while a leaf-ish object like a page table,
// process, thread, endpoint or port has no use for being frozen but
// not yet deleted.
func dispatchNonSwitching(cpu *thd.CPU, caller *thd.Thread, arch hal.Arch, env Env, sc Syscall, capID, p1, p2, p3 uint64) (uint64, error) {
	switch sc {
	case CptCrt:
		dst, err := resolveCap(caller, capID)
		if err != nil {
			return 0, err
		}
		_, err = cpt.Crt(dst, env.KOT, uint32(p1), env.Cfg.CptEntryMax, env.Clock)
		return 0, err

	case CptDel:
		slot, err := resolveCap(caller, capID)
		if err != nil {
			return 0, err
		}
		return 0, cpt.Del(slot, env.KOT, env.Cfg.QuieTime, env.Clock.Now())

	case CptFrz:
		slot, err := resolveCap(caller, capID)
		if err != nil {
			return 0, err
		}
		return 0, cpt.Frz(slot, env.Clock.Now())

	case CptAdd:
		src, err := resolveCap(caller, capID)
		if err != nil {
			return 0, err
		}
		dst, err := resolveCap(caller, p1)
		if err != nil {
			return 0, err
		}
		rangeLo, rangeHi := uint32(p3), uint32(p3>>32)
		return 0, cpt.Add(src, dst, uint32(p2), rangeLo, rangeHi, env.Clock.Now())

	case CptRem:
		slot, err := resolveCap(caller, capID)
		if err != nil {
			return 0, err
		}
		return 0, cpt.Rem(slot, env.Clock, env.Cfg.QuieTime)

	case PgtCrt:
		dst, err := resolveCap(caller, capID)
		if err != nil {
			return 0, err
		}
		isTop := p1&1 != 0
		baseAddr := p1 &^ 1
		_, err = pgt.Crt(dst, arch, baseAddr, isTop, uint(p2), uint(p3), env.Clock.Now())
		return 0, err

	case PgtDel:
		slot, err := resolveCap(caller, capID)
		if err != nil {
			return 0, err
		}
		if err := pgt.Frz(slot, env.Clock.Now()); err != nil && !kernelerr.Is(err, kernelerr.CptFrozen) {
			return 0, err
		}
		return 0, pgt.Del(slot, env.Clock.Now(), env.Cfg.QuieTime)

	case PgtAdd:
		slot, err := resolveCap(caller, capID)
		if err != nil {
			return 0, err
		}
		return 0, pgt.Add(slot, p1, p2, hal.PermBits(p3))

	case PgtRem:
		slot, err := resolveCap(caller, capID)
		if err != nil {
			return 0, err
		}
		return 0, pgt.Rem(slot, p1)

	case PgtCon:
		parent, err := resolveCap(caller, capID)
		if err != nil {
			return 0, err
		}
		child, err := resolveCap(caller, p1)
		if err != nil {
			return 0, err
		}
		return 0, pgt.Con(parent, child, p2)

	case PgtDes:
		parent, err := resolveCap(caller, capID)
		if err != nil {
			return 0, err
		}
		child, err := resolveCap(caller, p1)
		if err != nil {
			return 0, err
		}
		return 0, pgt.Des(parent, child, p2)

	case PrcCrt:
		dst, err := resolveCap(caller, capID)
		if err != nil {
			return 0, err
		}
		cptSlot, err := resolveCap(caller, p1)
		if err != nil {
			return 0, err
		}
		pgtSlot, err := resolveCap(caller, p2)
		if err != nil {
			return 0, err
		}
		_, err = prc.Crt(dst, cptSlot, pgtSlot, env.Clock.Now())
		return 0, err

	case PrcDel:
		slot, err := resolveCap(caller, capID)
		if err != nil {
			return 0, err
		}
		if err := prc.Frz(slot, env.Clock.Now()); err != nil && !kernelerr.Is(err, kernelerr.CptFrozen) {
			return 0, err
		}
		return 0, prc.Del(slot, env.Clock.Now(), env.Cfg.QuieTime)

	case PrcCpt:
		slot, err := resolveCap(caller, capID)
		if err != nil {
			return 0, err
		}
		newCpt, err := resolveCap(caller, p1)
		if err != nil {
			return 0, err
		}
		return 0, prc.SetCpt(slot, newCpt)

	case PrcPgt:
		slot, err := resolveCap(caller, capID)
		if err != nil {
			return 0, err
		}
		newPgt, err := resolveCap(caller, p1)
		if err != nil {
			return 0, err
		}
		return 0, prc.SetPgt(slot, newPgt)

	case ThdCrt:
		dst, err := resolveCap(caller, capID)
		if err != nil {
			return 0, err
		}
		procSlot, err := resolveCap(caller, p1)
		if err != nil {
			return 0, err
		}
		copAttr := uint32(p2)
		isHyp := p2>>32 != 0
		_, err = thd.Crt(dst, procSlot, copAttr, isHyp, caller.MaxPrio(), uint32(p3), arch, env.Clock.Now())
		return 0, err

	case ThdDel:
		slot, err := resolveCap(caller, capID)
		if err != nil {
			return 0, err
		}
		if err := thd.Frz(slot, env.Clock.Now()); err != nil && !kernelerr.Is(err, kernelerr.CptFrozen) {
			return 0, err
		}
		return 0, thd.Del(slot, env.Clock.Now(), env.Cfg.QuieTime)

	case ThdExecSet:
		slot, err := resolveCap(caller, capID)
		if err != nil {
			return 0, err
		}
		target, err := thd.FromSlot(slot)
		if err != nil {
			return 0, err
		}
		return 0, thd.ExecSet(target, uintptr(p1), uintptr(p2), p3)

	case ThdSchedBind:
		slot, err := resolveCap(caller, capID)
		if err != nil {
			return 0, err
		}
		target, err := thd.FromSlot(slot)
		if err != nil {
			return 0, err
		}
		parentSlot, err := resolveCap(caller, p1)
		if err != nil {
			return 0, err
		}
		parent, err := thd.FromSlot(parentSlot)
		if err != nil {
			return 0, err
		}
		var sigSlot *capability.Slot
		if sigIdx := uint32(p2); sigIdx != noSigIndex {
			if sigSlot, err = resolveCap(caller, uint64(sigIdx)); err != nil {
				return 0, err
			}
		}
		prio := uint32(p2 >> 32)
		hypCfg := struct {
			HypRegionBase uint64
			HypRegionLen  uint64
		}{env.Cfg.HypRegionBase, env.Cfg.HypRegionLen}
		return 0, thd.SchedBind(cpu, target, parent, sigSlot, prio, uintptr(p3), hypCfg, arch)

	case ThdSchedRcv:
		slot, err := resolveCap(caller, capID)
		if err != nil {
			return 0, err
		}
		target, err := thd.FromSlot(slot)
		if err != nil {
			return 0, err
		}
		n, err := thd.SchedRcv(target)
		if err != nil {
			return 0, err
		}
		retval := n.TID
		if n.Fault {
			retval |= 1 << 63
		}
		return retval, nil

	case SigCrt:
		dst, err := resolveCap(caller, capID)
		if err != nil {
			return 0, err
		}
		_, err = sig.Crt(dst, env.Clock.Now())
		return 0, err

	case SigDel:
		slot, err := resolveCap(caller, capID)
		if err != nil {
			return 0, err
		}
		if err := sig.Frz(slot, env.Clock.Now()); err != nil && !kernelerr.Is(err, kernelerr.CptFrozen) {
			return 0, err
		}
		return 0, sig.Del(slot, env.Clock.Now(), env.Cfg.QuieTime)

	case InvCrt:
		dst, err := resolveCap(caller, capID)
		if err != nil {
			return 0, err
		}
		procSlot, err := resolveCap(caller, p1)
		if err != nil {
			return 0, err
		}
		isExcRet := p3&1 != 0
		stack := uintptr(p3 &^ 1)
		_, err = inv.Crt(dst, procSlot, uintptr(p2), stack, isExcRet, env.Clock.Now())
		return 0, err

	case InvDel:
		slot, err := resolveCap(caller, capID)
		if err != nil {
			return 0, err
		}
		if err := inv.Frz(slot, env.Clock.Now()); err != nil && !kernelerr.Is(err, kernelerr.CptFrozen) {
			return 0, err
		}
		return 0, inv.Del(slot, env.Clock.Now(), env.Cfg.QuieTime)

	default:
		return 0, kernelerr.New(kernelerr.DspUnknown, "no such syscall number")
	}
}

// noSigIndex marks Thd_Sched_Bind's p2 low word as "no signal
// endpoint given", since 0 is a legitimate table index.
const noSigIndex = ^uint32(0)
