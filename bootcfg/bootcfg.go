//
// Copyright: (C) 2020 Nestybox Inc.  All rights reserved.
//

// Package bootcfg decodes the boot-time process/thread layout
// cmd/kerneld installs before starting the scheduler. The document
// shape borrows from an OCI runtime-spec Process: a thread's initial
// time budget rides in a POSIXRlimit the way a container's CPU quota
// does, and a process's initial capability grants ride in a
// LinuxCapabilities bounding set the way a container's allowed
// capability set does — reusing the same two struct shapes rather than
// inventing parallel ones, the way containerdUtils decodes straight
// into a search-path-resolved config file.
package bootcfg

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
	specs "github.com/opencontainers/runtime-spec/specs-go"
)

// PgtSpec sizes the top-level page table a process boots with.
type PgtSpec struct {
	BaseAddr  uint64 `toml:"base_addr"`
	SizeOrder uint   `toml:"size_order"`
	NumOrder  uint   `toml:"num_order"`
}

// ThreadSpec describes one thread a process starts with. Rlimits
// reuses the OCI RLIMIT_CPU convention (Soft, in ticks) as the
// thread's initial Time_Xfer budget; an absent RLIMIT_CPU entry
// leaves the caller's default in place.
type ThreadSpec struct {
	Entry    uintptr             `toml:"entry"`
	Stack    uintptr             `toml:"stack"`
	Priority uint32              `toml:"priority"`
	MaxPrio  uint32              `toml:"max_priority"`
	Rlimits  []specs.POSIXRlimit `toml:"rlimit"`
}

// TimeBudget returns the RLIMIT_CPU soft limit as the thread's initial
// time-slice budget, or def if the document gives none.
func (t ThreadSpec) TimeBudget(def uint64) uint64 {
	for _, rl := range t.Rlimits {
		if rl.Type == "RLIMIT_CPU" {
			return rl.Soft
		}
	}
	return def
}

// ProcessSpec describes one boot-pinned process: the page table it
// starts with, the threads bound under it, and the capabilities its
// own table is seeded with. Grants reuses LinuxCapabilities' bounding
// set purely as a named string list — each name is resolved by
// cmd/kerneld against the well-known boot-time capability objects
// (e.g. "kfn", "timer-sig"), not a Linux capability bit.
type ProcessSpec struct {
	Name    string                   `toml:"name"`
	Pgt     PgtSpec                  `toml:"pgt"`
	Threads []ThreadSpec             `toml:"thread"`
	Grants  *specs.LinuxCapabilities `toml:"grants"`
}

// Document is the full boot layout: every process cmd/kerneld installs
// into boot-pinned slots before starting the per-CPU schedulers.
type Document struct {
	Process []ProcessSpec `toml:"process"`
}

// Load decodes a boot layout document from path.
func Load(path string) (Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return Document{}, err
	}
	defer f.Close()

	var doc Document
	if _, err := toml.NewDecoder(f).Decode(&doc); err != nil {
		return Document{}, fmt.Errorf("bootcfg: failed to decode %s: %w", path, err)
	}
	return doc, nil
}
