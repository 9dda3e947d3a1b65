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
	"strings"

	"github.com/go-sessionfs/sessionfs/internal/procprobe"
)

// sessionKey applies the slash-for-dash pathname transform spec §6 uses to
// key each live session in the observability surface.
func sessionKey(path string) string {
	return strings.ReplaceAll(path, "/", "-")
}

// incarnationKey is the <pid>_<fd> key spec §6 uses for each live
// incarnation under a session.
func incarnationKey(pid, fd int) string {
	return fmt.Sprintf("%d_%d", pid, fd)
}

// ActiveSessionCount implements sessions.active_count().
func (c *Core) ActiveSessionCount() int {
	count := 0
	for _, s := range c.reg.sessions() {
		if s.valid.Load() {
			count++
		}
	}
	return count
}

// SessionIncarnationCount implements, for a session keyed by path,
// incarnations.count(). ok is false if no live valid session has that key.
func (c *Core) SessionIncarnationCount(path string) (count int, ok bool) {
	for _, s := range c.reg.sessions() {
		if sessionKey(s.path) != sessionKey(path) || !s.valid.Load() {
			continue
		}

		s.incMu.Lock()
		n := len(s.incarnations)
		s.incMu.Unlock()
		return n, true
	}
	return 0, false
}

// IncarnationOwnerName implements incarnation.owner_name(): a short
// description of the owning process, looked up at read time, or the
// sentinel "<gone>" if the owner can no longer be resolved.
func (c *Core) IncarnationOwnerName(pid, fd int) string {
	return procprobe.Name(pid)
}

// IncarnationKeys lists the <pid>_<fd> keys published under the session
// keyed by path, for the observability surface to enumerate.
func (c *Core) IncarnationKeys(path string) []string {
	for _, s := range c.reg.sessions() {
		if sessionKey(s.path) != sessionKey(path) || !s.valid.Load() {
			continue
		}

		s.incMu.Lock()
		defer s.incMu.Unlock()

		keys := make([]string, len(s.incarnations))
		for i, inc := range s.incarnations {
			keys[i] = incarnationKey(inc.ownerPID, inc.fd)
		}
		return keys
	}
	return nil
}
