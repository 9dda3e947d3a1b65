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

package sessionfs

import (
	"errors"
	"os"
	"syscall"

	"github.com/go-sessionfs/sessionfs/internal/hostfs"
	"github.com/go-sessionfs/sessionfs/internal/procprobe"
	"github.com/jacobsa/timeutil"
)

// engine implements create(), close(), and sweep() against a registry. It
// holds no state of its own beyond its dependencies; Core embeds one.
type engine struct {
	reg    *registry
	fs     hostfs.FS
	prober procprobe.Prober
	clock  timeutil.Clock
}

// createResult is what create() hands back to the caller: the fd the
// caller will see, and the copy-on-open status (0 valid, <0 corrupt).
type createResult struct {
	fd     int
	status int32
}

// create implements spec §4.5's create(path, flags, pid, mode) algorithm.
// flags must already have the session opt-in bit stripped by the caller
// (Core.Open does this).
func (e *engine) create(path string, flags int, pid int, mode os.FileMode) (createResult, error) {
	s := e.reg.find(path)

	if s == nil {
		var err error
		s, err = e.createSession(path, flags, mode)
		if err != nil {
			return createResult{}, err
		}
	}

	// Step 2: create incarnation under the session's read lock.
	s.lock.RLock()
	if !s.valid.Load() {
		s.lock.RUnlock()
		s.dropRef()
		return createResult{}, ErrRetry
	}

	incPath := newIncarnationPath(path, pid, e.clock.Now().UnixNano())

	// Step 3: open the incarnation file.
	handle, fd, err := e.fs.Open(incPath, flags|os.O_CREATE, mode, true)
	if err != nil {
		s.lock.RUnlock()
		s.dropRef()
		return createResult{}, err
	}

	inc := &incarnation{
		ownerPID: pid,
		fd:       fd,
		path:     incPath,
		handle:   handle,
	}

	// Step 4: copy-on-open. A failure here does not abort creation; it is
	// carried in inc.status so the caller can still close the (corrupt)
	// incarnation cleanly (invariant I5).
	if cerr := e.fs.BulkCopy(handle, s.handle); cerr != nil {
		inc.status.Store(copyErrStatus(cerr))
	}

	// Step 5: publish and release.
	s.publish(inc)
	s.lock.RUnlock()
	s.dropRef()

	return createResult{fd: inc.fd, status: inc.status.Load()}, nil
}

// createSession implements spec §4.5 step 1's miss path: double-checked
// lookup under the registry spinlock, then open-and-insert.
func (e *engine) createSession(path string, flags int, mode os.FileMode) (*session, error) {
	e.reg.lockSpin()
	defer e.reg.unlockSpin()

	if s := e.reg.find(path); s != nil {
		return s, nil
	}

	// The original is always opened read-write regardless of the caller's
	// intent, so write-back can proceed later; O_EXCL/O_CREAT are honored
	// verbatim.
	originalFlags := (flags &^ os.O_RDONLY &^ os.O_WRONLY) | os.O_RDWR
	handle, _, err := e.fs.Open(path, originalFlags, mode, false)
	if err != nil {
		return nil, err
	}

	s := newSession(path, handle)
	e.reg.insert(s)
	return s, nil
}

// closeResult is what close() reports for the observability/control-channel
// surface (spec §6's CLOSE outputs are empty; the error classifies).
type closeResult struct{}

// close implements spec §4.5's close(path, fd, pid) algorithm.
func (e *engine) close(path string, fd, pid int) (closeResult, error) {
	s, inc := e.reg.findByOwner(pid, fd)
	if s == nil {
		return closeResult{}, ErrBadFD
	}

	s.lock.Lock()

	var copyErr error
	if s.valid.Load() && !inc.corrupt() {
		copyErr = e.fs.BulkCopy(s.handle, inc.handle)
	}

	s.removeByKey(pid, fd)

	var tornDown bool
	if s.empty() && s.refcount.Load() == 1 && s.valid.Load() {
		s.valid.Store(false)
		tornDown = true

		e.reg.lockSpin()
		e.reg.unlink(s)
		e.reg.unlockSpin()
	}

	s.lock.Unlock()

	atFloor := s.dropRef()
	if tornDown && atFloor {
		s.handle.Close()
	}

	state, perr := e.prober.Probe(pid)
	if perr == nil && state.Dead() {
		return closeResult{}, ErrOwnerGone
	}
	if copyErr != nil {
		return closeResult{}, copyErr
	}

	return closeResult{}, nil
}

// sweep implements spec §4.5's sweep(): reap incarnations whose owner is
// dead (absent, zombie, traced, or stopped), report the count that
// survives, and unlink sessions left empty by the pass.
func (e *engine) sweep() int {
	active := 0

	for _, s := range e.reg.sessions() {
		s.addRef()

		s.lock.Lock()
		collection := s.snapshotIncarnations()

		var survivors []*incarnation
		for _, inc := range collection {
			state, err := e.prober.Probe(inc.ownerPID)
			if err == nil && state.Dead() {
				// The host already released the owner's descriptor table
				// on process death; we only drop our bookkeeping.
				continue
			}
			survivors = append(survivors, inc)
			active++
		}
		s.restoreIncarnations(survivors)

		var tornDown bool
		if len(survivors) == 0 && s.valid.Load() {
			s.valid.Store(false)
			tornDown = true

			e.reg.lockSpin()
			e.reg.unlink(s)
			e.reg.unlockSpin()
		}
		s.lock.Unlock()

		atFloor := s.dropRef()
		if tornDown && atFloor {
			s.handle.Close()
		}
	}

	return active
}

// copyErrStatus maps a host I/O error to the negative status code carried
// by a corrupt incarnation: the negated errno when err wraps a
// syscall.Errno, otherwise -1. The exact negative value is not otherwise
// interpreted by this package.
func copyErrStatus(err error) int32 {
	if err == nil {
		return 0
	}
	var errno syscall.Errno
	if errors.As(err, &errno) && errno != 0 {
		return -int32(errno)
	}
	return -1
}
