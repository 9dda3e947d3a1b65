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

import "sync/atomic"

// shutdownCoordinator implements the two-phase drain protocol of spec §5/§6:
// disable new entries, then succeed only if no operation is in flight and
// sweep() reports zero active incarnations; otherwise re-enable.
//
// inFlight mirrors the role fuseops.commonOp.opsInFlight's *sync.WaitGroup
// plays in the teacher — counting operations as they enter and leave the
// core — but uses a plain atomic counter instead of a WaitGroup because the
// coordinator needs to peek the count without blocking, which WaitGroup
// does not support (see DESIGN.md).
type shutdownCoordinator struct {
	disabled atomic.Bool
	inFlight atomic.Int64
}

// enter is called at the top of every entry point. It returns false (and
// does not count the caller as in-flight) if the core is disabled.
func (c *shutdownCoordinator) enter() bool {
	if c.disabled.Load() {
		return false
	}
	c.inFlight.Add(1)
	return true
}

// leave is called when an entry point that enter() counted returns; it
// undoes that increment. Callers do not call it after a false enter().
func (c *shutdownCoordinator) leave() {
	c.inFlight.Add(-1)
}

// attempt runs the two-phase protocol. sweep is called with no operation
// counted as in-flight by the shutdown attempt itself.
func (c *shutdownCoordinator) attempt(sweep func() int) (active int, err error) {
	if !c.disabled.CompareAndSwap(false, true) {
		// Already permanently disabled by an earlier successful shutdown;
		// the protocol's postcondition (no further state change) already
		// holds.
		return 0, nil
	}

	if c.inFlight.Load() != 0 {
		c.disabled.Store(false)
		return 0, ErrBusy
	}

	active = sweep()
	if active != 0 {
		c.disabled.Store(false)
		return active, ErrBusy
	}

	return 0, nil
}
