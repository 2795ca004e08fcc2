//
// Copyright: (C) 2020 Nestybox Inc.  All rights reserved.
//

// Package kfn implements the kernel function syscall: a thin, guarded
// switch from a numbered function ID to a HAL-defined operation, the
// same shape a pidfd syscall number picks one of a small fixed set of
// operations on a guarded handle.
package kfn

import (
	"github.com/nestybox/rmekernel/hal"
	"github.com/nestybox/rmekernel/kernelerr"
)

// Func identifies one kernel function number.
type Func uint64

const (
	// Putchar writes p1's low byte to the debug console.
	Putchar Func = iota
	// NumCPU returns the number of CPUs the HAL was built for.
	NumCPU
)

// Call dispatches fn to its HAL-defined operation. Unknown numbers
// return KFN_UNKNOWN rather than silently doing nothing.
func Call(arch hal.Arch, fn Func, p1, p2, p3 uint64) (uint64, error) {
	switch fn {
	case Putchar:
		arch.Putchar(byte(p1))
		return 0, nil
	case NumCPU:
		return uint64(arch.NumCPU()), nil
	default:
		return 0, kernelerr.New(kernelerr.KfnUnknown, "no such kernel function number")
	}
}
