//
// Copyright: (C) 2020 Nestybox Inc.  All rights reserved.
//

// Package idfmt formats kernel object identities for logging, the way
// formatter.ContainerID wraps a container's long ID for short display.
// A thread, process, or capability table is addressed internally by a
// raw uint64 TID/PID/table-ID; idfmt renders that as a stable,
// truncated hex tag so log lines stay short without losing the
// ability to correlate across events.
package idfmt

import (
	"fmt"

	"github.com/docker/docker/pkg/stringid"
)

// Kind tags which kernel object an ID names.
type Kind string

const (
	Thd Kind = "Thd"
	Prc Kind = "Prc"
	Cpt Kind = "Cpt"
	Pgt Kind = "Pgt"
	Sig Kind = "Sig"
	Inv Kind = "Inv"
	Cpu Kind = "Cpu"
)

// ID pairs a Kind with the raw 64-bit value the kernel uses internally.
type ID struct {
	Kind Kind
	Val  uint64
}

// Thread, Process, Table, PageTable, Signal, Port, Core build an ID of the
// matching Kind from a raw value.
func Thread(tid uint64) ID  { return ID{Thd, tid} }
func Process(pid uint64) ID { return ID{Prc, pid} }
func Table(id uint64) ID    { return ID{Cpt, id} }
func PageTable(id uint64) ID { return ID{Pgt, id} }
func Signal(id uint64) ID   { return ID{Sig, id} }
func Port(id uint64) ID     { return ID{Inv, id} }
func Core(id uint64) ID     { return ID{Cpu, id} }

// LongID is the zero-padded 16-digit hex form of Val.
func (id ID) LongID() string {
	return fmt.Sprintf("%016x", id.Val)
}

// ShortID truncates LongID the same way stringid.TruncateID shortens a
// container's full hex digest.
func (id ID) ShortID() string {
	return stringid.TruncateID(id.LongID())
}

// String renders "Kind#shortid", e.g. "Thd#a1b2c3d4e5f6".
func (id ID) String() string {
	return fmt.Sprintf("%s#%s", id.Kind, id.ShortID())
}
