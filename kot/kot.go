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

// Package kot implements the Kernel Object Table: a densely-packed
// bitmap over the kernel-memory region. Every bit marks one allocation
// slot; memory is never returned to a heap allocator — the KOT marks
// and clears a range rather than allocating and freeing one.
package kot

import (
	"fmt"

	"github.com/nestybox/rmekernel/atomics"
	"github.com/nestybox/rmekernel/kernelerr"
)

const wordBits = 64

// Table is a bitmap over a byte region, one bit per 1<<SlotOrder
// bytes.
type Table struct {
	region    Region
	slotOrder uint
	words     []uint64
	bump      uint64 // next address Alloc will try
}

// NewTable creates a KOT over region, which must be backed by
// exactly len(region.Bytes()) bytes; slotOrder is the log2 of the
// smallest allocation unit (the kernel-object slot size order).
func NewTable(region Region, slotOrder uint) (*Table, error) {
	size := len(region.Bytes())
	slotSize := uint64(1) << slotOrder
	if uint64(size)%slotSize != 0 {
		return nil, fmt.Errorf("kot: region size %d is not a multiple of slot size %d", size, slotSize)
	}
	nslots := uint64(size) / slotSize
	nwords := (nslots + wordBits - 1) / wordBits
	return &Table{
		region:    region,
		slotOrder: slotOrder,
		words:     make([]uint64, nwords),
	}, nil
}

// span describes one word touched by a [addr,addr+size) range.
type spanKind int

const (
	spanSingle spanKind = iota
	spanFirst
	spanInterior
	spanLast
)

type span struct {
	word uint64
	mask uint64
	kind spanKind
}

// spans decomposes [addr, addr+size) into the ordered sequence of
// (word index, mask, kind) tuples describing each word touched by the
// range.
func (t *Table) spans(addr, size uint64) ([]span, error) {
	slotSize := uint64(1) << t.slotOrder
	if addr%slotSize != 0 || size%slotSize != 0 || size == 0 {
		return nil, kernelerr.New(kernelerr.KotBmp, "address or size not slot-aligned")
	}

	firstBit := addr / slotSize
	lastBit := firstBit + size/slotSize - 1
	firstWord := firstBit / wordBits
	lastWord := lastBit / wordBits

	if lastWord >= uint64(len(t.words)) {
		return nil, kernelerr.New(kernelerr.KotBmp, "range exceeds KOT-managed region")
	}

	if firstWord == lastWord {
		mask := fullMask(firstBit%wordBits, lastBit%wordBits)
		return []span{{firstWord, mask, spanSingle}}, nil
	}

	spans := make([]span, 0, lastWord-firstWord+1)
	spans = append(spans, span{firstWord, fullMask(firstBit%wordBits, wordBits-1), spanFirst})
	for w := firstWord + 1; w < lastWord; w++ {
		spans = append(spans, span{w, ^uint64(0), spanInterior})
	}
	spans = append(spans, span{lastWord, fullMask(0, lastBit%wordBits), spanLast})
	return spans, nil
}

func fullMask(lo, hi uint64) uint64 {
	if hi >= wordBits-1 {
		return ^uint64(0) << lo
	}
	return (^uint64(0) << lo) &^ (^uint64(0) << (hi + 1))
}

// Mark atomically claims [addr, addr+size); it fails with KOT_BMP if
// any bit in the range is already set, leaving the bitmap unchanged:
// a failed mark never mutates state.
func (t *Table) Mark(addr, size uint64) error {
	spans, err := t.spans(addr, size)
	if err != nil {
		return err
	}

	var done []span
	rollback := func() {
		for _, sp := range done {
			switch sp.kind {
			case spanSingle, spanFirst, spanLast:
				atomics.FetchAnd64(&t.words[sp.word], ^sp.mask)
			case spanInterior:
				t.words[sp.word] = 0
			}
		}
	}

	for _, sp := range spans {
		switch sp.kind {
		case spanSingle, spanFirst, spanLast:
			old := atomics.AcquireLoad64(&t.words[sp.word])
			for {
				if old&sp.mask != 0 {
					rollback()
					return kernelerr.New(kernelerr.KotBmp, "range already marked")
				}
				if atomics.CAS64(&t.words[sp.word], old, old|sp.mask) {
					break
				}
				old = atomics.AcquireLoad64(&t.words[sp.word])
			}
		case spanInterior:
			if !atomics.CAS64(&t.words[sp.word], 0, ^uint64(0)) {
				rollback()
				return kernelerr.New(kernelerr.KotBmp, "range already marked")
			}
		}
		done = append(done, sp)
	}
	return nil
}

// Erase clears [addr, addr+size), which must already be fully marked.
// No CAS is needed on the forward path: only the holder of a
// capability ever erases its backing slot.
func (t *Table) Erase(addr, size uint64) error {
	spans, err := t.spans(addr, size)
	if err != nil {
		return err
	}

	for _, sp := range spans {
		w := atomics.AcquireLoad64(&t.words[sp.word])
		if w&sp.mask != sp.mask {
			return kernelerr.New(kernelerr.KotBmp, "range not fully marked")
		}
	}

	for _, sp := range spans {
		switch sp.kind {
		case spanSingle, spanFirst, spanLast:
			atomics.FetchAnd64(&t.words[sp.word], ^sp.mask)
		case spanInterior:
			t.words[sp.word] = 0
		}
	}
	return nil
}

// Alloc finds the next free slot-aligned run of size bytes starting
// from the table's high-water mark, marks it, and returns its
// address. It's a simple bump allocator rather than a best-fit search:
// callers that delete objects reuse freed space only via an explicit
// Mark at a chosen address, never through Alloc re-scanning from zero.
func (t *Table) Alloc(size uint64) (uint64, error) {
	slotSize := uint64(1) << t.slotOrder
	if size == 0 || size%slotSize != 0 {
		return 0, kernelerr.New(kernelerr.KotBmp, "alloc size not slot-aligned")
	}

	regionSize := uint64(len(t.region.Bytes()))
	for addr := t.bump; addr+size <= regionSize; addr += slotSize {
		if err := t.Mark(addr, size); err != nil {
			continue
		}
		t.bump = addr + size
		return addr, nil
	}
	return 0, kernelerr.New(kernelerr.KotBmp, "no free space for allocation")
}

// Bytes exposes the backing region for type-specific components to
// carve their object storage out of.
func (t *Table) Bytes() []byte {
	return t.region.Bytes()
}

// SlotOrder returns the log2 slot size the table was created with.
func (t *Table) SlotOrder() uint {
	return t.slotOrder
}
