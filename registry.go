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
	"sync/atomic"

	"github.com/jacobsa/syncutil"
)

// registry is the set of all live sessions, keyed by original pathname
// (spec §4.4). At most one valid session exists per key; invalid sessions
// flagged pending removal may transiently coexist with a new valid one
// during the last stages of teardown.
//
// Readers traverse a lock-free snapshot loaded from snap; writers
// (insert/unlink) copy-on-write a new snapshot under spin. This is the
// idiomatic-Go rendition of the RCU-style registry spec.md §9 calls for: Go's
// garbage collector reclaims an old snapshot once the last reader holding it
// drops the reference, which is exactly the deferred-reclamation contract
// invariant I4 requires, without a dedicated epoch library.
type registry struct {
	snap atomic.Pointer[map[string]*session]

	// spin serializes insert/unlink against each other. Its invariant
	// checker verifies that a snapshot is installed and that every session
	// is stored under its own path, mirroring the
	// syncutil.InvariantMutex idiom samples/memfs uses for its own
	// structural invariants.
	spin syncutil.InvariantMutex
}

func newRegistry() *registry {
	r := &registry{}
	empty := make(map[string]*session)
	r.snap.Store(&empty)
	r.spin = syncutil.NewInvariantMutex(r.checkInvariants)
	return r
}

func (r *registry) checkInvariants() {
	m := r.snap.Load()
	if m == nil {
		panic("registry: nil snapshot")
	}
	for path, s := range *m {
		if s.path != path {
			panic("registry: key/path mismatch")
		}
	}
}

// find looks up path and, on a hit, increments the session's refcount
// before returning it — the caller owns that reference and must drop it
// with dropRef(). Invalid sessions are skipped as though absent, matching
// spec §4.4's "search skips invalid ones".
func (r *registry) find(path string) *session {
	m := r.snap.Load()
	s, ok := (*m)[path]
	if !ok {
		return nil
	}

	// Increment first, then inspect validity, per spec §4.4: on a miss
	// (invalid), undo the increment before reporting absence.
	s.addRef()
	if !s.valid.Load() {
		s.dropRef()
		return nil
	}

	return s
}

// insert adds s to the registry. The caller must hold spin, and must have
// just re-checked find(s.path) under that same critical section (the
// double-checked pattern in create()'s step 1).
func (r *registry) insert(s *session) {
	old := r.snap.Load()
	next := make(map[string]*session, len(*old)+1)
	for k, v := range *old {
		next[k] = v
	}
	next[s.path] = s
	r.snap.Store(&next)
}

// unlink removes s from the registry by key. The caller must hold spin and
// s.lock for writing.
func (r *registry) unlink(s *session) {
	old := r.snap.Load()
	if (*old)[s.path] != s {
		return
	}

	next := make(map[string]*session, len(*old))
	for k, v := range *old {
		if k != s.path {
			next[k] = v
		}
	}
	r.snap.Store(&next)
}

// lockSpin and unlockSpin wrap the registry spinlock so callers don't need
// to import syncutil themselves.
func (r *registry) lockSpin()   { r.spin.Lock() }
func (r *registry) unlockSpin() { r.spin.Unlock() }

// sessions returns the current snapshot's sessions. Used by sweep() and the
// observability surface, both of which only need a consistent read-side
// view, never a lock.
func (r *registry) sessions() []*session {
	m := r.snap.Load()
	out := make([]*session, 0, len(*m))
	for _, s := range *m {
		out = append(out, s)
	}
	return out
}

// findByOwner locates the session containing an incarnation owned by
// (pid, fd), scanning every live session's collection under its read lock,
// per spec §4.4's (fd,pid)-keyed find. On a hit, the session's refcount has
// been incremented exactly as in find(path).
func (r *registry) findByOwner(pid, fd int) (*session, *incarnation) {
	for _, s := range r.sessions() {
		s.addRef()
		if !s.valid.Load() {
			s.dropRef()
			continue
		}

		s.lock.RLock()
		inc := s.find(pid, fd)
		s.lock.RUnlock()

		if inc != nil {
			return s, inc
		}
		s.dropRef()
	}
	return nil, nil
}

// Quiescence note: in this Go rendition, quiescence is provided by the
// garbage collector rather than an explicit grace-period wait. Once
// unlink() installs a new snapshot, no new reader can observe the removed
// session, and existing readers that still hold the old snapshot keep it
// alive only until they return it — there is no moment at which a reader
// observes freed memory (invariant I4).
