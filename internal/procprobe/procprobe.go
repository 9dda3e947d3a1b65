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

// Package procprobe abstracts "is this pid still a live owner" behind a
// Prober interface, the way sweep() needs it. The real implementation
// combines kill(pid, 0) with a read of /proc/<pid>/status, following the
// same technique fuseops.reportWhenPIDGone uses for the kill(2) half.
package procprobe

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"golang.org/x/sys/unix"
)

// State describes the liveness of a process as observed by sweep().
type State int

const (
	// Alive means the process is running and not in a state sweep should
	// treat as dead.
	Alive State = iota
	// Zombie means the process has exited but not yet been reaped by its
	// parent.
	Zombie
	// Stopped means the process is job-control stopped.
	Stopped
	// Traced means the process is ptrace-stopped.
	Traced
	// Gone means the process no longer exists.
	Gone
)

// Dead reports whether sweep should reap incarnations owned by a process in
// this state: absent, zombie, traced, or stopped, per spec.
func (s State) Dead() bool {
	return s != Alive
}

func (s State) String() string {
	switch s {
	case Alive:
		return "alive"
	case Zombie:
		return "zombie"
	case Stopped:
		return "stopped"
	case Traced:
		return "traced"
	case Gone:
		return "gone"
	default:
		return "unknown"
	}
}

// Prober probes process liveness. Tests inject a scripted fake.
type Prober interface {
	Probe(pid int) (State, error)
}

// Unix is the production Prober, using kill(2) and /proc.
type Unix struct{}

var _ Prober = Unix{}

// Probe implements Prober.
func (Unix) Probe(pid int) (State, error) {
	err := unix.Kill(pid, 0)
	if err == unix.ESRCH {
		return Gone, nil
	}
	if err == unix.EPERM {
		// We can see the pid exists (kill(2) checked permissions, not
		// existence) but can't introspect it further; treat as alive.
		return Alive, nil
	}
	if err != nil {
		return Alive, fmt.Errorf("kill(%d, 0): %w", pid, err)
	}

	return statusState(pid)
}

func statusState(pid int) (State, error) {
	f, err := os.Open(fmt.Sprintf("/proc/%d/status", pid))
	if os.IsNotExist(err) {
		return Gone, nil
	}
	if err != nil {
		return Alive, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "State:") {
			continue
		}

		fields := strings.Fields(line)
		if len(fields) < 2 {
			return Alive, nil
		}

		switch fields[1] {
		case "Z":
			return Zombie, nil
		case "t":
			return Traced, nil
		case "T":
			if strings.Contains(line, "tracing stop") {
				return Traced, nil
			}
			return Stopped, nil
		default:
			return Alive, nil
		}
	}

	return Alive, scanner.Err()
}

// Name returns a short, human-readable description of pid's process image,
// or the sentinel "<gone>" if it can no longer be resolved. This backs the
// observability surface's incarnation.owner_name() getter.
func Name(pid int) string {
	b, err := os.ReadFile(fmt.Sprintf("/proc/%d/comm", pid))
	if err != nil {
		return "<gone>"
	}
	return strings.TrimSpace(string(b))
}
