//
// Copyright: (C) 2020 Nestybox Inc.  All rights reserved.
//

// Package introspect builds a read-only snapshot of a running kernel's
// live processes and threads for cmd/kctl, filtered with the same
// field/value matching docker/docker/api/types/filters gives `docker
// ps --filter`: a process or thread is kept only if it matches every
// filter key the caller supplied, and a key nobody asked to filter on
// is never a reason to exclude anything.
package introspect

import (
	"sync"

	"github.com/docker/docker/api/types/filters"

	"github.com/nestybox/rmekernel/idfmt"
	"github.com/nestybox/rmekernel/thd"
)

// ThreadInfo is one thread's read-only view.
type ThreadInfo struct {
	ID       string `json:"id"`
	TID      uint64 `json:"tid"`
	State    string `json:"state"`
	Priority uint32 `json:"priority"`
	CPU      uint32 `json:"cpu"`
}

// ProcessInfo is one process's read-only view: its name (from the
// boot layout that created it) and the threads bound under it.
type ProcessInfo struct {
	Name    string       `json:"name"`
	Threads []ThreadInfo `json:"threads"`
}

// Snapshot is the full point-in-time listing cmd/kctl requests.
type Snapshot struct {
	Processes []ProcessInfo `json:"processes"`
}

// Registry accumulates the (name, threads) pairs cmd/kerneld installs
// at boot, so a later Snapshot call can be served without reaching
// back into capability slots cmd/kctl has no business touching.
type Registry struct {
	mu        sync.RWMutex
	processes []ProcessInfo
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// AddProcess records name's live thread set, rendering each Thread's
// current state. The caller is responsible for calling this again
// (e.g. on a refresh tick) if a thread's state changes after boot —
// Registry holds a snapshot, not a live view.
func (r *Registry) AddProcess(name string, threads []*thd.Thread) {
	infos := make([]ThreadInfo, 0, len(threads))
	for _, t := range threads {
		infos = append(infos, ThreadInfo{
			ID:       idfmt.Thread(t.TID).String(),
			TID:      t.TID,
			State:    t.State().String(),
			Priority: t.Prio(),
			CPU:      t.CPU(),
		})
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.processes = append(r.processes, ProcessInfo{Name: name, Threads: infos})
}

// Snapshot returns every registered process, filtered by args. A nil
// or empty args matches everything. Supported filter keys: "name"
// (process name, exact) and "state" (thread state, exact) — a process
// survives a "state" filter if at least one of its threads matches.
func (r *Registry) Snapshot(args filters.Args) Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := Snapshot{}
	for _, p := range r.processes {
		if !args.Match("name", p.Name) {
			continue
		}

		threads := p.Threads
		if args.Contains("state") {
			threads = nil
			for _, th := range p.Threads {
				if args.Match("state", th.State) {
					threads = append(threads, th)
				}
			}
			if len(threads) == 0 {
				continue
			}
		}

		out.Processes = append(out.Processes, ProcessInfo{Name: p.Name, Threads: threads})
	}
	return out
}
