// Copyright 2015 Google Inc. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package hostfs provides the scoped open/close and full-content-copy
// primitives the session manager builds on. Production code talks to the
// real file system; tests inject an in-memory fake (see fake.go) so the
// lifecycle engine's concurrency logic can be exercised without touching
// disk.
package hostfs

import (
	"io"
	"os"

	fallocate "github.com/detailyang/go-fallocate"
)

// copySlabSize is the scratch buffer size used by BulkCopy. 512 bytes is
// sufficient per the spec; it is not tuned for throughput.
const copySlabSize = 512

// Handle is an open host file. *os.File satisfies it.
type Handle interface {
	io.ReaderAt
	io.WriterAt
	io.Closer
	Name() string
	Truncate(size int64) error
}

// FS opens and copies host files. The zero value of the production
// implementation (OS) is ready to use.
type FS interface {
	// Open opens or creates the named host file with host semantics. If
	// wantFD is set the returned fd is the descriptor number visible in the
	// calling process's table (fuse-wanting callers); otherwise fd is -1.
	Open(path string, flags int, mode os.FileMode, wantFD bool) (handle Handle, fd int, err error)

	// BulkCopy streams the entire content of src into dst from offset 0,
	// truncating dst to zero length first. It allocates one
	// slab-sized scratch buffer and must not be called concurrently with
	// another BulkCopy sharing the same dst.
	BulkCopy(dst, src Handle) error
}

// OS is the production FS backed by the real file system.
type OS struct{}

var _ FS = OS{}

// Open implements FS.
func (OS) Open(path string, flags int, mode os.FileMode, wantFD bool) (Handle, int, error) {
	f, err := os.OpenFile(path, flags, mode)
	if err != nil {
		return nil, -1, err
	}

	if !wantFD {
		return f, -1, nil
	}

	return f, int(f.Fd()), nil
}

// BulkCopy implements FS.
func (OS) BulkCopy(dst, src Handle) error {
	return bulkCopy(dst, src)
}

func bulkCopy(dst, src Handle) error {
	var size int64
	if f, ok := src.(interface{ Stat() (os.FileInfo, error) }); ok {
		if fi, err := f.Stat(); err == nil {
			size = fi.Size()
		}
	}

	if err := dst.Truncate(0); err != nil {
		return err
	}

	// Best-effort preallocation of the destination's eventual size. Some
	// file systems don't support fallocate(2); that failure is not fatal to
	// the copy, only to the optimization.
	if size > 0 {
		if f, ok := dst.(*os.File); ok {
			_ = fallocate.Fallocate(f, 0, size)
		}
	}

	buf := make([]byte, copySlabSize)
	var off int64
	for {
		n, rerr := src.ReadAt(buf, off)
		if n > 0 {
			if _, werr := dst.WriteAt(buf[:n], off); werr != nil {
				return werr
			}
			off += int64(n)
		}

		if rerr == io.EOF {
			return nil
		}
		if rerr != nil {
			return rerr
		}
	}
}
