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
	"fmt"
	"sync/atomic"

	"github.com/go-sessionfs/sessionfs/internal/hostfs"
)

// maxPathLen bounds incarnation pathname construction; beyond it the
// fallback /var/tmp/<pid>_<ts> scheme is used (see newIncarnationPath).
const maxPathLen = 4096

// incarnation is one process's private copy of an original file.
//
// Incarnations are created exclusively by the lifecycle engine's create()
// and destroyed only by close() or sweep(). Their owning session is fixed
// for their whole lifetime (invariant I1); they are owned exclusively by
// that session.
type incarnation struct {
	// Constant for the lifetime of the incarnation.
	ownerPID int
	fd       int
	path     string
	handle   hostfs.Handle

	// status is 0 if copy-on-open succeeded, or a negative value carrying
	// the host error that occurred. status < 0 means the incarnation is
	// corrupt: its close path must never write back (invariant I5).
	status atomic.Int32
}

// key returns the (owner-pid, fd) pair that must be unique within a
// session's incarnation collection (invariant I2).
func (in *incarnation) key() (pid, fd int) {
	return in.ownerPID, in.fd
}

// corrupt reports whether copy-on-open failed for this incarnation.
func (in *incarnation) corrupt() bool {
	return in.status.Load() < 0
}

// newIncarnationPath constructs the unique incarnation pathname for a
// creation on original at the given clock reading. If the natural name
// would overflow the host path limit, it falls back to a /var/tmp name
// scoped by pid and the same monotonic reading, per spec §3.
func newIncarnationPath(original string, pid int, nowNanos int64) string {
	natural := fmt.Sprintf("%s_incarnation_%d_%d", original, pid, nowNanos)
	if len(natural) <= maxPathLen {
		return natural
	}
	return fmt.Sprintf("/var/tmp/%d_%d", pid, nowNanos)
}
