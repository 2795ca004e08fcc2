//
// Copyright: (C) 2020 Nestybox Inc.  All rights reserved.
//

// Package simarch is an illustrative, non-hardware implementation of
// hal.Arch: register sets, page directories and co-processor state
// are modeled as plain Go data instead of real machine state. It lets
// the core run end-to-end in tests and in cmd/kerneld without a real
// architecture port, which is out of scope for this repository.
package simarch

import (
	"fmt"
	"sync"
	"time"

	"github.com/nestybox/rmekernel/hal"
	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("comp", "simarch")

// Sim is a reference hal.Arch: numCPU independent timer goroutines,
// page tables backed by a Go map instead of real page-directory
// entries.
type Sim struct {
	numCPU uint

	mu      sync.Mutex
	timers  map[uint]*time.Ticker
	stopChs map[uint]chan struct{}
}

func New(numCPU uint) *Sim {
	return &Sim{
		numCPU:  numCPU,
		timers:  make(map[uint]*time.Ticker),
		stopChs: make(map[uint]chan struct{}),
	}
}

func (s *Sim) RegInit(r *hal.Regs, entry, stack uintptr, param uint64) {
	r.Entry = entry
	r.Stack = stack
	r.Param = param
	r.Retval = 0
}

func (s *Sim) RegCopy(dst, src *hal.Regs) {
	*dst = *src
}

func (s *Sim) SyscallArgs(r *hal.Regs) (svc uint32, capID uint64, p1, p2, p3 uint64) {
	return r.Svc, r.Cap, r.P1, r.P2, r.P3
}

func (s *Sim) SetRetval(r *hal.Regs, v uint64) {
	r.Retval = v
}

func (s *Sim) CopInit(cs *hal.CopState) {
	cs.Enabled = true
	cs.Blob = nil
}

func (s *Sim) CopSwap(dst, src *hal.CopState) {
	*dst = *src
}

func (s *Sim) CopCheck(attr uint32) bool {
	return true
}

// simPgtbl is the map-backed stand-in for a hardware page directory.
type simPgtbl struct {
	mu         sync.RWMutex
	baseOrder  uint
	numOrder   uint
	leaves     map[uint64]leafEntry
	subtables  map[uint64]*simPgtbl
}

type leafEntry struct {
	phys uint64
	perm hal.PermBits
}

func (*simPgtbl) isPgtbl() {}

func (s *Sim) PgtInit(baseOrder, numOrder uint) (hal.Pgtbl, error) {
	if err := s.PgtCheck(baseOrder, numOrder); err != nil {
		return nil, err
	}
	return &simPgtbl{
		baseOrder: baseOrder,
		numOrder:  numOrder,
		leaves:    make(map[uint64]leafEntry),
		subtables: make(map[uint64]*simPgtbl),
	}, nil
}

// PgtCheck validates (size_order + num_order) against a simulated
// machine word width, the way a real HAL validates against its own.
func (s *Sim) PgtCheck(baseOrder, numOrder uint) error {
	const machineWordBits = 64
	if baseOrder+numOrder > machineWordBits {
		return fmt.Errorf("simarch: size_order(%d)+num_order(%d) exceeds machine word bits", baseOrder, numOrder)
	}
	return nil
}

func (s *Sim) PgtDelCheck(pt hal.Pgtbl) error {
	p := pt.(*simPgtbl)
	p.mu.RLock()
	defer p.mu.RUnlock()
	if len(p.leaves) != 0 || len(p.subtables) != 0 {
		return fmt.Errorf("simarch: page table still has mappings")
	}
	return nil
}

func (s *Sim) PageMap(pt hal.Pgtbl, index uint64, phys uint64, perm hal.PermBits) error {
	p := pt.(*simPgtbl)
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := p.leaves[index]; exists {
		return fmt.Errorf("simarch: index %d already mapped", index)
	}
	if _, exists := p.subtables[index]; exists {
		return fmt.Errorf("simarch: index %d holds a sub-table", index)
	}
	p.leaves[index] = leafEntry{phys: phys, perm: perm}
	return nil
}

func (s *Sim) PageUnmap(pt hal.Pgtbl, index uint64) error {
	p := pt.(*simPgtbl)
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := p.leaves[index]; !exists {
		return fmt.Errorf("simarch: index %d not mapped", index)
	}
	delete(p.leaves, index)
	return nil
}

func (s *Sim) PgdirMap(parent hal.Pgtbl, index uint64, child hal.Pgtbl) error {
	p := parent.(*simPgtbl)
	c := child.(*simPgtbl)
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := p.leaves[index]; exists {
		return fmt.Errorf("simarch: index %d holds a leaf mapping", index)
	}
	if _, exists := p.subtables[index]; exists {
		return fmt.Errorf("simarch: index %d already has a sub-table", index)
	}
	p.subtables[index] = c
	return nil
}

func (s *Sim) PgdirUnmap(parent hal.Pgtbl, index uint64) error {
	p := parent.(*simPgtbl)
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := p.subtables[index]; !exists {
		return fmt.Errorf("simarch: index %d has no sub-table", index)
	}
	delete(p.subtables, index)
	return nil
}

func (s *Sim) Lookup(pt hal.Pgtbl, index uint64) (uint64, hal.PermBits, bool) {
	p := pt.(*simPgtbl)
	p.mu.RLock()
	defer p.mu.RUnlock()
	e, ok := p.leaves[index]
	return e.phys, e.perm, ok
}

func (s *Sim) Walk(pt hal.Pgtbl) []uint64 {
	p := pt.(*simPgtbl)
	p.mu.RLock()
	defer p.mu.RUnlock()
	indices := make([]uint64, 0, len(p.leaves))
	for idx := range p.leaves {
		indices = append(indices, idx)
	}
	return indices
}

func (s *Sim) KomInit(pt hal.Pgtbl) error {
	// No real kernel-mapping merge in simulation: nothing to do.
	return nil
}

func (s *Sim) NumCPU() uint {
	return s.numCPU
}

func (s *Sim) TimerInit(cpu uint, onTick func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ticker := time.NewTicker(time.Millisecond)
	stop := make(chan struct{})
	s.timers[cpu] = ticker
	s.stopChs[cpu] = stop

	go func() {
		for {
			select {
			case <-stop:
				ticker.Stop()
				return
			case <-ticker.C:
				onTick()
			}
		}
	}()
}

// StopTimer halts the tick goroutine started for cpu by TimerInit; it
// exists so tests and cmd/kerneld can shut down cleanly.
func (s *Sim) StopTimer(cpu uint) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if stop, ok := s.stopChs[cpu]; ok {
		close(stop)
		delete(s.stopChs, cpu)
		delete(s.timers, cpu)
	}
}

func (s *Sim) Putchar(b byte) {
	log.Debugf("putchar: %q", b)
}

func (s *Sim) Panic(msg string) {
	log.Errorf("simarch panic: %s", msg)
	panic(msg)
}

var _ hal.Arch = (*Sim)(nil)
