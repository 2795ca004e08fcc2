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

// Package atomics provides the primitives every architecture must
// offer: CAS, fetch-and-add, fetch-and-and, and a wrap-safe monotonic
// timestamp used for capability quiescence.
//
// On a real HAL these degrade to interrupt-disabled sequences on
// single-processor builds; here they're a thin, explicit wrapper
// around sync/atomic so call sites read the same regardless of which
// a given build needs.
package atomics

import (
	"sync/atomic"
	"unsafe"
)

// CAS32 performs a compare-and-swap on *addr, returning whether it
// succeeded.
func CAS32(addr *uint32, old, new uint32) bool {
	return atomic.CompareAndSwapUint32(addr, old, new)
}

// CAS64 performs a compare-and-swap on *addr, returning whether it
// succeeded.
func CAS64(addr *uint64, old, new uint64) bool {
	return atomic.CompareAndSwapUint64(addr, old, new)
}

// FetchAdd32 atomically adds delta to *addr and returns the
// pre-addition value.
func FetchAdd32(addr *uint32, delta int32) uint32 {
	return atomic.AddUint32(addr, uint32(delta)) - uint32(delta)
}

// FetchAdd64 atomically adds delta to *addr and returns the
// pre-addition value.
func FetchAdd64(addr *uint64, delta int64) uint64 {
	return atomic.AddUint64(addr, uint64(delta)) - uint64(delta)
}

// FetchAnd32 atomically ANDs *addr with mask and returns the pre-AND
// value. sync/atomic has no native fetch-and-and, so it's built from
// a CAS retry loop, same as a HAL would on hardware lacking the op.
func FetchAnd32(addr *uint32, mask uint32) uint32 {
	for {
		old := atomic.LoadUint32(addr)
		if atomic.CompareAndSwapUint32(addr, old, old&mask) {
			return old
		}
	}
}

// FetchAnd64 atomically ANDs *addr with mask and returns the pre-AND
// value.
func FetchAnd64(addr *uint64, mask uint64) uint64 {
	for {
		old := atomic.LoadUint64(addr)
		if atomic.CompareAndSwapUint64(addr, old, old&mask) {
			return old
		}
	}
}

// AcquireLoad32 is an acquire-load: use before touching any other
// field of a structure whose publication is signaled by this word.
func AcquireLoad32(addr *uint32) uint32 {
	return atomic.LoadUint32(addr)
}

// AcquireLoad64 is an acquire-load counterpart of AcquireLoad32.
func AcquireLoad64(addr *uint64) uint64 {
	return atomic.LoadUint64(addr)
}

// ReleaseStore32 is a release-store: use after every other field of a
// structure has been written, to publish it to other cores.
func ReleaseStore32(addr *uint32, val uint32) {
	atomic.StoreUint32(addr, val)
}

// ReleaseStore64 is the release-store counterpart of ReleaseStore32.
func ReleaseStore64(addr *uint64, val uint64) {
	atomic.StoreUint64(addr, val)
}

// CASPointer performs a compare-and-swap on *addr, returning whether
// it succeeded. Used by components that CAS-replace an owned
// capability reference (e.g. a process's bound Cpt/Pgt slot pointer).
func CASPointer(addr *unsafe.Pointer, old, new unsafe.Pointer) bool {
	return atomic.CompareAndSwapPointer(addr, old, new)
}

// LoadPointer is an acquire-load of a pointer-sized word.
func LoadPointer(addr *unsafe.Pointer) unsafe.Pointer {
	return atomic.LoadPointer(addr)
}

// Clock is a monotonically increasing timestamp counter, sampled on
// every capability slot state change and used to measure quiescence
// between a freeze and the matching delete.
type Clock struct {
	tick uint64
}

// Now returns the current timestamp and advances the clock by one.
// A real HAL would instead read a free-running hardware tick counter;
// this is the in-process stand-in used by hal/simarch.
func (c *Clock) Now() uint64 {
	return atomic.AddUint64(&c.tick, 1)
}

// Peek returns the current timestamp without advancing it.
func (c *Clock) Peek() uint64 {
	return atomic.LoadUint64(&c.tick)
}

// Advance fast-forwards the clock by n ticks; used by tests that need
// to cross a quiescence threshold without looping Now() that many times.
func (c *Clock) Advance(n uint64) {
	atomic.AddUint64(&c.tick, n)
}

// Distance computes the wrap-safe distance between two timestamps:
// min(a-b, b-a) over the wraparound arithmetic of the counter's width.
func Distance(a, b uint64) uint64 {
	d1 := a - b
	d2 := b - a
	if d1 < d2 {
		return d1
	}
	return d2
}

// Quiescent reports whether at least quieTime ticks have elapsed
// between now and sampled, accounting for wraparound.
func Quiescent(now, sampled, quieTime uint64) bool {
	return Distance(now, sampled) >= quieTime
}
