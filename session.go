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
	"sync"
	"sync/atomic"

	"github.com/go-sessionfs/sessionfs/internal/hostfs"
)

// session is the per-original aggregation of live incarnations plus the
// open handle on the original (spec §3).
//
// The session lock's read side guards observation and creation of
// incarnations; its write side guards destruction of an incarnation and any
// write-back over the original (spec §4.3). refcount and valid are updated
// under the registry, or by callers that arrived via a registry-protected
// find().
type session struct {
	// path is the original pathname; it is the registry key and never
	// changes after construction.
	path   string
	handle hostfs.Handle

	// lock serializes copy-on-open (read side) against copy-on-close and
	// incarnation-collection teardown (write side).
	lock sync.RWMutex

	// refcount starts at 1 in newSession, the reference charged to the
	// creator, and is incremented by find() on every hit; decremented by
	// every caller that drops its reference. The session may be reclaimed once
	// this reaches zero and valid is false.
	refcount atomic.Int64

	// valid is true for exactly as long as the session is (or is about to
	// be) reachable from the registry under its key.
	valid atomic.Bool

	// incMu guards incarnations. It is distinct from lock: multiple
	// appenders may run concurrently under lock's read side, so the slice
	// itself needs its own short-lived mutex (spec §9's "plain Vec under
	// an atomic published flag" re-architecture note).
	incMu        sync.Mutex
	incarnations []*incarnation
}

func newSession(path string, handle hostfs.Handle) *session {
	s := &session{path: path, handle: handle}
	s.refcount.Store(1)
	s.valid.Store(true)
	return s
}

// addRef increments the reference count. Called by the registry's find()
// and findByOwner() on a hit, and by sweep() for the session it is reaping.
func (s *session) addRef() {
	s.refcount.Add(1)
}

// dropRef decrements the reference count and reports whether it reached the
// floor (zero), at which point the caller may attempt reclamation.
func (s *session) dropRef() (atFloor bool) {
	return s.refcount.Add(-1) == 0
}

// publish appends inc to the collection. The caller must hold s.lock for
// reading (per create()'s step 5).
func (s *session) publish(inc *incarnation) {
	s.incMu.Lock()
	defer s.incMu.Unlock()
	s.incarnations = append(s.incarnations, inc)
}

// removeByKey removes and returns the incarnation matching (pid, fd). The
// caller must hold s.lock for writing.
func (s *session) removeByKey(pid, fd int) *incarnation {
	s.incMu.Lock()
	defer s.incMu.Unlock()

	for i, inc := range s.incarnations {
		p, f := inc.key()
		if p == pid && f == fd {
			s.incarnations = append(s.incarnations[:i], s.incarnations[i+1:]...)
			return inc
		}
	}
	return nil
}

// find returns the incarnation matching (pid, fd), or nil. The caller must
// hold s.lock (read side suffices; it only observes).
func (s *session) find(pid, fd int) *incarnation {
	s.incMu.Lock()
	defer s.incMu.Unlock()

	for _, inc := range s.incarnations {
		p, f := inc.key()
		if p == pid && f == fd {
			return inc
		}
	}
	return nil
}

// empty reports whether the incarnation collection currently has no
// members. The caller must hold s.lock.
func (s *session) empty() bool {
	s.incMu.Lock()
	defer s.incMu.Unlock()
	return len(s.incarnations) == 0
}

// snapshotIncarnations returns, and replaces with an empty collection, the
// current incarnation slice. Used by sweep() to extract the collection en
// masse under the write lock (spec §4.5's sweep algorithm).
func (s *session) snapshotIncarnations() []*incarnation {
	s.incMu.Lock()
	defer s.incMu.Unlock()
	out := s.incarnations
	s.incarnations = nil
	return out
}

// restoreIncarnations reinstalls survivors after a sweep pass.
func (s *session) restoreIncarnations(survivors []*incarnation) {
	s.incMu.Lock()
	defer s.incMu.Unlock()
	s.incarnations = survivors
}
