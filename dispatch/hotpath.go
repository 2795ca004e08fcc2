//
// Copyright: (C) 2020 Nestybox Inc.  All rights reserved.
//

package dispatch

import (
	"github.com/nestybox/rmekernel/hal"
	"github.com/nestybox/rmekernel/inv"
	"github.com/nestybox/rmekernel/thd"
)

// handleInvAct implements Inv_Act. p1 carries the single user
// parameter the spec's own example passes through a call (p2, p3 are
// unused: entry/stack are fixed at Inv_Crt time, not per-call). On
// success inv.Call has already written the new context's registers,
// including a zeroed retval, so there is nothing left to write here;
// on failure the caller's own (unmodified) registers get the negative
// code.
func handleInvAct(caller *thd.Thread, arch hal.Arch, capID, p1, p2, p3 uint64) {
	slot, err := resolveCap(caller, capID)
	if err == nil {
		var port *inv.Port
		port, err = inv.FromSlot(slot, inv.FlagAct)
		if err == nil {
			err = inv.Call(port, caller, arch, p1)
		}
	}
	if err != nil {
		arch.SetRetval(&caller.Regs, retvalOf(0, err))
	}
}

// handleInvRet implements Inv_Ret. A user-issued return is never
// fault-forced — that variant is only ever invoked internally, by the
// fault path. On success inv.Return has already restored the caller's
// saved registers and stamped the call-site retval; on failure the
// caller's current (still-active-invocation) registers get the
// negative code instead.
func handleInvRet(caller *thd.Thread, arch hal.Arch, retval uint64) {
	if err := inv.Return(caller, retval, false, arch); err != nil {
		arch.SetRetval(&caller.Regs, retvalOf(0, err))
	}
}
