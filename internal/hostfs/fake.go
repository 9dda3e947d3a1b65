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

package hostfs

import (
	"io"
	"os"
	"sync"
)

// Fake is an in-memory FS for tests. It never touches disk and supports
// O_EXCL/O_CREAT semantics closely enough for the lifecycle engine's tests.
type Fake struct {
	mu    sync.Mutex
	files map[string]*fakeFile
	nextFD int
}

// NewFake returns a ready-to-use Fake.
func NewFake() *Fake {
	return &Fake{files: make(map[string]*fakeFile)}
}

var _ FS = (*Fake)(nil)

type fakeFile struct {
	mu       sync.Mutex
	name     string
	contents []byte
	closed   bool
}

func (f *fakeFile) Name() string { return f.name }

func (f *fakeFile) ReadAt(p []byte, off int64) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if off >= int64(len(f.contents)) {
		return 0, io.EOF
	}

	n := copy(p, f.contents[off:])
	if off+int64(n) >= int64(len(f.contents)) {
		return n, io.EOF
	}
	return n, nil
}

func (f *fakeFile) WriteAt(p []byte, off int64) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	end := off + int64(len(p))
	if end > int64(len(f.contents)) {
		grown := make([]byte, end)
		copy(grown, f.contents)
		f.contents = grown
	}
	copy(f.contents[off:end], p)
	return len(p), nil
}

func (f *fakeFile) Truncate(size int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if size <= int64(len(f.contents)) {
		f.contents = f.contents[:size]
		return nil
	}
	grown := make([]byte, size)
	copy(grown, f.contents)
	f.contents = grown
	return nil
}

func (f *fakeFile) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

// Contents returns a snapshot of path's current bytes, for assertions.
func (fk *Fake) Contents(path string) ([]byte, bool) {
	fk.mu.Lock()
	defer fk.mu.Unlock()

	f, ok := fk.files[path]
	if !ok {
		return nil, false
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]byte, len(f.contents))
	copy(out, f.contents)
	return out, true
}

// Open implements FS.
func (fk *Fake) Open(path string, flags int, mode os.FileMode, wantFD bool) (Handle, int, error) {
	fk.mu.Lock()
	defer fk.mu.Unlock()

	f, exists := fk.files[path]
	if exists && flags&os.O_EXCL != 0 && flags&os.O_CREATE != 0 {
		return nil, -1, os.ErrExist
	}

	if !exists {
		if flags&os.O_CREATE == 0 {
			return nil, -1, os.ErrNotExist
		}
		f = &fakeFile{name: path}
		fk.files[path] = f
	}

	fd := -1
	if wantFD {
		fk.nextFD++
		fd = fk.nextFD
	}

	return f, fd, nil
}

// BulkCopy implements FS.
func (fk *Fake) BulkCopy(dst, src Handle) error {
	return bulkCopy(dst, src)
}

// FailingBulkCopy wraps a Fake so BulkCopy always fails, for testing
// copy-on-open / copy-on-close error paths.
type FailingBulkCopy struct {
	*Fake
	Err error
}

// BulkCopy implements FS, always returning Err.
func (f FailingBulkCopy) BulkCopy(dst, src Handle) error {
	return f.Err
}
