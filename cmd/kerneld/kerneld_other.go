//
// Copyright: (C) 2020 Nestybox Inc.  All rights reserved.
//

//go:build !linux

package main

import (
	"fmt"

	"github.com/nestybox/rmekernel/config"
	"github.com/nestybox/rmekernel/kot"
)

const kotRegionSize = 1 << 24

// allocKOT falls back to a plain heap-backed region on non-Linux
// builds: there is no portable anonymous-mmap syscall to reach for,
// and kot.NewHeapRegion already exists for exactly this (tests use it
// too).
func allocKOT(cfg config.Params) (*kot.Table, kot.Region, error) {
	region := kot.NewHeapRegion(kotRegionSize)
	tbl, err := kot.NewTable(region, cfg.SlotOrder)
	if err != nil {
		return nil, nil, err
	}
	return tbl, region, nil
}

func dropPrivileges(uid, gid int) error {
	return fmt.Errorf("privilege drop is only supported on linux")
}
