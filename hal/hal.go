//
// Copyright: (C) 2020 Nestybox Inc.  All rights reserved.
//

// Package hal defines the hardware-abstraction-layer contract every
// architecture port must provide: register-set manipulation,
// co-processor state, page-table leaf operations, a CPU count, a
// timer, debug output and a fatal-error panic. A real
// architecture port is out of scope for this repository; hal/simarch
// is a reference implementation used by tests and cmd/kerneld, not a
// hardware port.
package hal

// Regs is the minimum viable register subset: enough to
// activate/return from an invocation and to decode a syscall. Other
// user registers are caller-saved by user convention and are outside
// the kernel's concern.
type Regs struct {
	Entry  uintptr
	Stack  uintptr
	Param  uint64
	Retval uint64

	// svc carries the packed syscall word for the duration of one
	// dispatch; it's not part of invocation save/restore.
	Svc  uint32
	Cap  uint64
	P1   uint64
	P2   uint64
	P3   uint64
}

// CopState is an opaque co-processor (e.g. FPU) context blob; only
// architectures that enable co-processor support give it contents.
type CopState struct {
	Enabled bool
	Blob    []byte
}

// PermBits is a bitmask of leaf permissions (read/write/execute),
// narrowable-only on delegation.
type PermBits uint32

const (
	PermRead PermBits = 1 << iota
	PermWrite
	PermExec
)

// Pgtbl is the HAL-owned hardware page-directory state backing one
// pgt.PageTable. Its internals are architecture-specific; the core
// never looks inside it.
type Pgtbl interface {
	// marker method, implemented by each Arch's own Pgtbl type
	isPgtbl()
}

// Arch is the contract every architecture port must satisfy. Methods
// are grouped by subsystem: registers, co-processor, page table, then
// core/platform.
type Arch interface {
	// Registers
	RegInit(r *Regs, entry, stack uintptr, param uint64)
	RegCopy(dst, src *Regs)
	SyscallArgs(r *Regs) (svc uint32, capID uint64, p1, p2, p3 uint64)
	SetRetval(r *Regs, v uint64)

	// Co-processor
	CopInit(cs *CopState)
	CopSwap(dst, src *CopState)
	CopCheck(attr uint32) bool

	// Page table
	PgtInit(baseOrder, numOrder uint) (Pgtbl, error)
	PgtCheck(baseOrder, numOrder uint) error
	PgtDelCheck(pt Pgtbl) error
	PageMap(pt Pgtbl, index uint64, phys uint64, perm PermBits) error
	PageUnmap(pt Pgtbl, index uint64) error
	PgdirMap(parent Pgtbl, index uint64, child Pgtbl) error
	PgdirUnmap(parent Pgtbl, index uint64) error
	Lookup(pt Pgtbl, index uint64) (phys uint64, perm PermBits, ok bool)
	Walk(pt Pgtbl) []uint64
	KomInit(pt Pgtbl) error

	// Core/platform. There is deliberately no "current CPU" getter:
	// per-CPU locality is realized here by passing the owning CPU id
	// explicitly through runqueue/thd call chains instead of inferring
	// it from goroutine-local state, which Go doesn't provide natively
	// and which would be no more faithful to a real HAL than an
	// explicit parameter.
	NumCPU() uint
	TimerInit(cpu uint, onTick func())
	Putchar(b byte)
	Panic(msg string)
}
