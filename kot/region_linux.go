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

//go:build linux

package kot

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// mmapRegion backs a Region with an anonymous, non-file-mapped
// allocation so the kernel-memory region survives independent of any
// single goroutine's stack or heap generation.
type mmapRegion struct {
	buf []byte
}

// NewMmapRegion allocates size bytes via mmap(MAP_ANONYMOUS|MAP_PRIVATE),
// the production backing for cmd/kerneld's KOT.
func NewMmapRegion(size int) (Region, error) {
	buf, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANONYMOUS|unix.MAP_PRIVATE)
	if err != nil {
		return nil, fmt.Errorf("kot: mmap %d bytes: %w", size, err)
	}
	return &mmapRegion{buf: buf}, nil
}

func (r *mmapRegion) Bytes() []byte { return r.buf }

func (r *mmapRegion) Close() error {
	return unix.Munmap(r.buf)
}
