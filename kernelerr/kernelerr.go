//
// Copyright 2019-2020 Nestybox, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//

// Package kernelerr defines the kernel's error taxonomy. Every failure
// a syscall handler can return is one of the Code values below; all
// are negative so a caller can distinguish them from a success/TID
// value without a second return.
package kernelerr

import "fmt"

// Code identifies one failure class. Values are negative so they can
// share a return slot with a non-negative success value.
type Code int32

const (
	// Capability-table
	CptNull   Code = -1  // no such capability
	CptFrozen Code = -2  // slot is frozen
	CptExist  Code = -3  // destination slot occupied
	CptKot    Code = -4  // KOT memory allocation failed
	CptRefcnt Code = -5  // still referenced
	CptFlag   Code = -6  // flag/range violation
	CptQuie   Code = -7  // not yet quiescent
	CptRange  Code = -8  // out of range

	// Page-table
	PgtHw     Code = -9  // HAL rejected the operation
	PgtAddr   Code = -10 // bad address/alignment
	PgtMap    Code = -11 // mapping conflict
	PgtPerm   Code = -12 // permission not a subset
	PgtOpfail Code = -13 // HAL operation failed

	// Thread/Scheduler
	PthPrio     Code = -14 // priority violation
	PthInvstate Code = -15 // invalid thread state for this op
	PthConflict Code = -16 // CAS loss / concurrent modification
	PthNotif    Code = -17 // no pending notification
	PthRefcnt   Code = -18 // scheduler refcount nonzero
	PthHaddr    Code = -19 // bad hypervisor register address
	PthExc      Code = -20 // thread has an exception pending
	PthOverflow Code = -21 // time-transfer would overflow MAX_TIME

	// Signal/Invocation
	SivAct      Code = -22 // invocation port busy/active
	SivFull     Code = -23 // signal counter saturated
	SivEmpty    Code = -24 // nothing to receive (non-blocking)
	SivFree     Code = -25 // thread freed while blocked
	SivConflict Code = -26 // CAS loss claiming the blocked-thread slot
	SivBoot     Code = -27 // init threads may not block
	SivFault    Code = -28 // invocation-return-on-fault declined

	// KOT
	KotBmp Code = -29 // bitmap mark/erase failed

	// Kernel function
	KfnUnknown Code = -30 // no such kernel function number

	// Dispatcher
	DspUnknown Code = -31 // no such syscall number
)

var names = map[Code]string{
	CptNull:     "CPT_NULL",
	CptFrozen:   "CPT_FROZEN",
	CptExist:    "CPT_EXIST",
	CptKot:      "CPT_KOT",
	CptRefcnt:   "CPT_REFCNT",
	CptFlag:     "CPT_FLAG",
	CptQuie:     "CPT_QUIE",
	CptRange:    "CPT_RANGE",
	PgtHw:       "PGT_HW",
	PgtAddr:     "PGT_ADDR",
	PgtMap:      "PGT_MAP",
	PgtPerm:     "PGT_PERM",
	PgtOpfail:   "PGT_OPFAIL",
	PthPrio:     "PTH_PRIO",
	PthInvstate: "PTH_INVSTATE",
	PthConflict: "PTH_CONFLICT",
	PthNotif:    "PTH_NOTIF",
	PthRefcnt:   "PTH_REFCNT",
	PthHaddr:    "PTH_HADDR",
	PthExc:      "PTH_EXC",
	PthOverflow: "PTH_OVERFLOW",
	SivAct:      "SIV_ACT",
	SivFull:     "SIV_FULL",
	SivEmpty:    "SIV_EMPTY",
	SivFree:     "SIV_FREE",
	SivConflict: "SIV_CONFLICT",
	SivBoot:     "SIV_BOOT",
	SivFault:    "SIV_FAULT",
	KotBmp:      "KOT_BMP",
	KfnUnknown:  "KFN_UNKNOWN",
	DspUnknown:  "DSP_UNKNOWN",
}

func (c Code) String() string {
	if n, ok := names[c]; ok {
		return n
	}
	return fmt.Sprintf("KERR_UNKNOWN(%d)", int32(c))
}

// Err is the concrete error type returned by every kernel operation
// that can fail. It carries the taxonomy Code plus a human-readable
// message so logs stay useful while dispatch still only needs Code.
type Err struct {
	Code Code
	msg  string
}

func New(code Code, msg string) *Err {
	return &Err{Code: code, msg: msg}
}

func Newf(code Code, format string, args ...interface{}) *Err {
	return &Err{Code: code, msg: fmt.Sprintf(format, args...)}
}

func (e *Err) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.msg)
}

// Is reports whether err is a kernel Err of the given code, unwrapping
// github.com/pkg/errors-wrapped causes along the way.
func Is(err error, code Code) bool {
	ke, ok := AsErr(err)
	return ok && ke.Code == code
}

// AsErr unwraps err (following Cause()) down to a *Err, if any.
func AsErr(err error) (*Err, bool) {
	type causer interface{ Cause() error }
	for err != nil {
		if ke, ok := err.(*Err); ok {
			return ke, true
		}
		c, ok := err.(causer)
		if !ok {
			return nil, false
		}
		err = c.Cause()
	}
	return nil, false
}
