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

package kot

import (
	"fmt"
	"os"

	"github.com/spf13/afero"
)

// Region is the raw byte-addressable memory the KOT bitmap tracks.
// Backing it with an anonymous mmap (see region_linux.go) means the
// region is never returned to a heap allocator: the backing memory is
// never freed to a general heap, the KOT itself is the allocator.
type Region interface {
	Bytes() []byte
	Close() error
}

// heapRegion is the non-Linux / unit-test fallback: a plain Go byte
// slice. It satisfies the same Region contract without requiring an
// mmap syscall, keeping an in-memory stand-in available alongside the
// real one for tests.
type heapRegion struct {
	buf []byte
}

// NewHeapRegion allocates size bytes of plain Go memory as a Region.
// Used by tests and by non-Linux builds of cmd/kerneld.
func NewHeapRegion(size int) Region {
	return &heapRegion{buf: make([]byte, size)}
}

func (r *heapRegion) Bytes() []byte { return r.buf }
func (r *heapRegion) Close() error  { return nil }

// fileRegion backs a Region with a file on an afero.Fs: size bytes are
// read into memory at open (or zero-filled if the file is shorter/new)
// so Bytes() can hand out a plain slice the same way heapRegion does,
// and the buffer is written back to the file on Close. Used where the
// KOT's backing store needs to persist across process restarts without
// requiring an mmap-capable OS. Only tests use it; no cmd/kerneld
// build selects it.
type fileRegion struct {
	f   afero.File
	buf []byte
}

// NewFileRegion opens (creating if needed) path on fsys and returns a
// Region of size bytes backed by it.
func NewFileRegion(fsys afero.Fs, path string, size int) (Region, error) {
	f, err := fsys.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("kot: opening region file %s: %w", path, err)
	}

	buf := make([]byte, size)
	n, err := f.ReadAt(buf, 0)
	if err != nil && n == 0 {
		// New or empty file: start from a zeroed buffer.
	} else if err != nil && n < size {
		f.Close()
		return nil, fmt.Errorf("kot: reading region file %s: %w", path, err)
	}

	if err := f.Truncate(int64(size)); err != nil {
		f.Close()
		return nil, fmt.Errorf("kot: sizing region file %s: %w", path, err)
	}

	return &fileRegion{f: f, buf: buf}, nil
}

func (r *fileRegion) Bytes() []byte { return r.buf }

func (r *fileRegion) Close() error {
	if _, err := r.f.WriteAt(r.buf, 0); err != nil {
		r.f.Close()
		return fmt.Errorf("kot: writing back region file: %w", err)
	}
	return r.f.Close()
}
