//
// Copyright: (C) 2020 Nestybox Inc.  All rights reserved.
//

// Package config holds the kernel's compile-time-equivalent tuning
// parameters: word bit order, maximum capability-table size, priority
// count, kernel-object slot size order, the quiescence window, and the
// hypervisor register-context region. It reads them from an optional
// TOML file, falling back to sane in-tree defaults when none of the
// search paths has one — the way containerdUtils.GetDataRoot falls
// back to a compiled-in default data root.
package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/spf13/afero"
)

var searchPath = []string{
	"/etc/rmekernel/kernel.toml",
	"/etc/rmekernel.toml",
	"./kernel.toml",
}

// fs is the filesystem Load reads search-path candidates from, an
// afero.Fs so tests can swap in an in-memory one rather than
// depending on real paths under /etc.
var fs afero.Fs = afero.NewOsFs()

// Params is the full set of tunables a running kernel instance needs.
type Params struct {
	WordBits      uint   `toml:"word_bits"`
	CptEntryMax   uint32 `toml:"cpt_entry_max"`
	NumPriorities uint   `toml:"num_priorities"`
	SlotOrder     uint   `toml:"slot_order"`
	QuieTime      uint64 `toml:"quie_time"`
	MaxSigNum     uint32 `toml:"max_sig_num"`
	InitTime      uint64 `toml:"init_time"`
	InfTime       uint64 `toml:"inf_time"`
	MaxTime       uint64 `toml:"max_time"`
	HypRegionBase uint64 `toml:"hyp_region_base"`
	HypRegionLen  uint64 `toml:"hyp_region_len"`
}

// Default returns the kernel's built-in parameter set, used whenever
// no on-disk configuration file is found.
func Default() Params {
	return Params{
		WordBits:      64,
		CptEntryMax:   4096,
		NumPriorities: 64,
		SlotOrder:     6, // 64-byte slots
		QuieTime:      64,
		MaxSigNum:     1<<31 - 1,
		InitTime:      ^uint64(0) - 1, // INIT_TIME: pinned, just under INF_TIME
		InfTime:       ^uint64(0),     // INF_TIME: sentinel for "never runs out"
		MaxTime:       1<<63 - 1,
		HypRegionBase: 0,
		HypRegionLen:  0,
	}
}

// Load reads kernel parameters from the first existing file among
// searchPath, falling back to Default if none exist.
func Load() (Params, error) {
	for _, path := range searchPath {
		p, err := parse(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return Params{}, fmt.Errorf("config: failed to read %s: %w", path, err)
		}
		return p, nil
	}
	return Default(), nil
}

func parse(path string) (Params, error) {
	f, err := fs.Open(path)
	if err != nil {
		return Params{}, err
	}
	defer f.Close()

	p := Default()
	if _, err := toml.NewDecoder(f).Decode(&p); err != nil {
		return Params{}, fmt.Errorf("could not decode %s: %w", path, err)
	}
	return p, nil
}
