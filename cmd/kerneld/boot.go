//
// Copyright: (C) 2020 Nestybox Inc.  All rights reserved.
//

package main

import (
	"fmt"

	"github.com/nestybox/rmekernel/atomics"
	"github.com/nestybox/rmekernel/bootcfg"
	"github.com/nestybox/rmekernel/capability"
	"github.com/nestybox/rmekernel/config"
	"github.com/nestybox/rmekernel/cpt"
	"github.com/nestybox/rmekernel/hal/simarch"
	"github.com/nestybox/rmekernel/introspect"
	"github.com/nestybox/rmekernel/kot"
	"github.com/nestybox/rmekernel/pgt"
	"github.com/nestybox/rmekernel/prc"
	"github.com/nestybox/rmekernel/sig"
	"github.com/nestybox/rmekernel/thd"
	"github.com/nestybox/rmekernel/timer"
)

// kernel bundles one booted reference instance: a single CPU hosting
// every boot-pinned process bootcfg describes (a multi-core balancer
// is out of scope for this reference bring-up; every process binds
// onto cpu 0), plus the registry cmd/kctl reads from.
type kernel struct {
	cfg      config.Params
	arch     *simarch.Sim
	cpu      *thd.CPU
	registry *introspect.Registry
}

func (k *kernel) stop() {
	k.arch.StopTimer(uint(k.cpu.ID))
}

// boot installs doc's processes/threads into freshly-allocated
// capability slots and starts the CPU's scheduler and timer.
func boot(cfg config.Params, kotTbl *kot.Table, doc bootcfg.Document) (*kernel, error) {
	arch := simarch.New(1)
	cpu := thd.NewCPU(0, cfg.NumPriorities)
	clock := &atomics.Clock{}
	registry := introspect.NewRegistry()

	var boot *thd.Thread

	// bootCptEntries sizes each boot-pinned process's own capability
	// table generously enough for its threads plus whatever it grants
	// at runtime, without claiming the full configured ceiling for
	// every process.
	const bootCptEntries = 32

	for _, procSpec := range doc.Process {
		var pgtSlot capability.Slot
		isTop := true
		if _, err := pgt.Crt(&pgtSlot, arch, procSpec.Pgt.BaseAddr, isTop, procSpec.Pgt.SizeOrder, procSpec.Pgt.NumOrder, clock.Now()); err != nil {
			return nil, fmt.Errorf("boot %s: pgt: %w", procSpec.Name, err)
		}

		var cptSlot capability.Slot
		if _, err := cpt.Crt(&cptSlot, kotTbl, bootCptEntries, cfg.CptEntryMax, clock); err != nil {
			return nil, fmt.Errorf("boot %s: cpt: %w", procSpec.Name, err)
		}

		var procSlot capability.Slot
		if _, err := prc.Crt(&procSlot, &cptSlot, &pgtSlot, clock.Now()); err != nil {
			return nil, fmt.Errorf("boot %s: prc: %w", procSpec.Name, err)
		}

		threads := make([]*thd.Thread, 0, len(procSpec.Threads))
		for i, thSpec := range procSpec.Threads {
			var thdSlot capability.Slot
			t, err := thd.Crt(&thdSlot, &procSlot, 0, false, thSpec.MaxPrio, thSpec.Priority, arch, clock.Now())
			if err != nil {
				return nil, fmt.Errorf("boot %s: thread %d: %w", procSpec.Name, i, err)
			}
			if err := thd.ExecSet(t, thSpec.Entry, thSpec.Stack, 0); err != nil {
				return nil, fmt.Errorf("boot %s: thread %d: exec set: %w", procSpec.Name, i, err)
			}

			switch {
			case boot == nil:
				// The very first thread booted anywhere becomes the
				// CPU's boot thread: it has no scheduler parent.
				if err := thd.BindBoot(cpu, t, thSpec.Priority, thSpec.TimeBudget(cfg.InitTime)); err != nil {
					return nil, fmt.Errorf("boot %s: bind boot thread: %w", procSpec.Name, err)
				}
				boot = t
			default:
				hypCfg := struct {
					HypRegionBase uint64
					HypRegionLen  uint64
				}{cfg.HypRegionBase, cfg.HypRegionLen}
				if err := thd.SchedBind(cpu, t, boot, nil, thSpec.Priority, 0, hypCfg, arch); err != nil {
					return nil, fmt.Errorf("boot %s: thread %d: sched bind: %w", procSpec.Name, i, err)
				}
				if err := thd.TimeXfer(cpu, t, boot, thSpec.TimeBudget(cfg.InitTime), cfg); err != nil {
					return nil, fmt.Errorf("boot %s: thread %d: time xfer: %w", procSpec.Name, i, err)
				}
			}
			threads = append(threads, t)
		}

		registry.AddProcess(procSpec.Name, threads)
	}

	if boot == nil {
		return nil, fmt.Errorf("boot: layout describes no threads")
	}
	thd.Switch(cpu, boot)

	var tickSlot capability.Slot
	tickEP, err := sig.Crt(&tickSlot, clock.Now())
	if err != nil {
		return nil, fmt.Errorf("boot: tick endpoint: %w", err)
	}
	arch.TimerInit(0, func() { timer.Tick(cpu, tickEP, cfg) })

	return &kernel{cfg: cfg, arch: arch, cpu: cpu, registry: registry}, nil
}
