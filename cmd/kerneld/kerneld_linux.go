//
// Copyright: (C) 2020 Nestybox Inc.  All rights reserved.
//

//go:build linux

package main

import (
	"fmt"
	"runtime"

	setxid "gopkg.in/hlandau/service.v1/daemon/setuid"

	"github.com/nestybox/rmekernel/config"
	"github.com/nestybox/rmekernel/kot"
)

// kotRegionSize is the anonymous mmap size backing the KOT bitmap: one
// bit per SlotOrder-sized slot, rounded up generously for a reference
// bring-up rather than sized to an exact boot layout.
const kotRegionSize = 1 << 24

func allocKOT(cfg config.Params) (*kot.Table, kot.Region, error) {
	region, err := kot.NewMmapRegion(kotRegionSize)
	if err != nil {
		return nil, nil, err
	}
	tbl, err := kot.NewTable(region, cfg.SlotOrder)
	if err != nil {
		region.Close()
		return nil, nil, err
	}
	return tbl, region, nil
}

// dropPrivileges gives up root once the KOT's mmap'd region is open,
// the same elevate-then-relinquish order shiftfs.go uses around a
// privileged mount — except here the privileged step comes first and
// this just lets it go rather than ever re-acquiring it.
func dropPrivileges(uid, gid int) error {
	runtime.LockOSThread()

	if gid >= 0 {
		if err := setxid.Setresgid(gid, gid, gid); err != nil {
			return fmt.Errorf("setresgid(%d): %w", gid, err)
		}
	}
	if err := setxid.Setresuid(uid, uid, uid); err != nil {
		return fmt.Errorf("setresuid(%d): %w", uid, err)
	}
	return nil
}
