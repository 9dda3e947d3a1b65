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
	"context"
	"fmt"
	"os"

	"github.com/go-sessionfs/sessionfs/internal/hostfs"
	"github.com/go-sessionfs/sessionfs/internal/pathgate"
	"github.com/go-sessionfs/sessionfs/internal/procprobe"
	"github.com/jacobsa/reqtrace"
	"github.com/jacobsa/timeutil"
)

// SessionOptIn is the flag bit a caller must set in OpenRequest.Flags to
// request session semantics; the core strips it before forwarding flags to
// the host open (spec §6).
const SessionOptIn = 1 << 30

// OpenRequest carries the OPEN control message's inputs (spec §6).
type OpenRequest struct {
	Path  string
	Flags int
	Mode  os.FileMode
	PID   int
}

// OpenResponse carries the OPEN control message's outputs.
type OpenResponse struct {
	FD     int
	Status int32
}

// CloseRequest carries the CLOSE control message's inputs.
type CloseRequest struct {
	Path string
	FD   int
	PID  int
}

// CloseResponse carries the CLOSE control message's outputs (empty; the
// error return classifies the outcome).
type CloseResponse struct{}

// ShutdownResponse carries the SHUTDOWN control message's outputs.
type ShutdownResponse struct {
	ActiveIncarnations int
}

// Core is the session manager: the registry, lifecycle engine, shutdown
// coordinator, and path gate, wired together behind the three control
// messages of spec §6. The zero value is not usable; construct with New.
type Core struct {
	gate   *pathgate.Gate
	reg    *registry
	engine engine
	sd     shutdownCoordinator
}

// New returns a Core ready to serve Open/Close/Shutdown, using the real
// host file system and process-liveness prober.
func New() *Core {
	return newCore(hostfs.OS{}, procprobe.Unix{}, timeutil.RealClock())
}

// newCore builds a Core over injected dependencies, for tests.
func newCore(fs hostfs.FS, prober procprobe.Prober, clk timeutil.Clock) *Core {
	reg := newRegistry()
	return &Core{
		gate: pathgate.New(),
		reg:  reg,
		engine: engine{
			reg:    reg,
			fs:     fs,
			prober: prober,
			clock:  clk,
		},
	}
}

// GetRoot returns the current session root.
func (c *Core) GetRoot() string {
	return c.gate.Root()
}

// SetRoot replaces the session root. It fails with ErrInvalid, without
// mutating state, if path is not absolute.
func (c *Core) SetRoot(path string) error {
	if err := c.gate.SetRoot(path); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return nil
}

// Open implements the OPEN control message: create() a fresh incarnation of
// req.Path for req.PID.
func (c *Core) Open(ctx context.Context, req OpenRequest) (OpenResponse, error) {
	if !c.sd.enter() {
		return OpenResponse{}, ErrDisabled
	}
	defer c.sd.leave()

	ctx, report := reqtrace.StartSpan(ctx, "sessionfs.Open")
	var err error
	defer func() { report(err) }()

	if under, gerr := c.gate.Under(req.Path); gerr != nil || under != pathgate.Under {
		err = ErrInvalid
		return OpenResponse{}, err
	}

	flags := req.Flags &^ SessionOptIn

	result, cerr := c.engine.create(req.Path, flags, req.PID, req.Mode)
	if cerr != nil {
		err = cerr
		getLogger().Printf("Open(%s, pid=%d): %v", req.Path, req.PID, cerr)
		return OpenResponse{}, cerr
	}

	return OpenResponse{FD: result.fd, Status: result.status}, nil
}

// Close implements the CLOSE control message: write back (if valid and not
// corrupt) and tear down the incarnation for (req.Path, req.FD, req.PID).
func (c *Core) Close(ctx context.Context, req CloseRequest) (CloseResponse, error) {
	if !c.sd.enter() {
		return CloseResponse{}, ErrDisabled
	}
	defer c.sd.leave()

	_, report := reqtrace.StartSpan(ctx, "sessionfs.Close")
	var err error
	defer func() { report(err) }()

	_, cerr := c.engine.close(req.Path, req.FD, req.PID)
	if cerr != nil && cerr != ErrOwnerGone {
		err = cerr
		getLogger().Printf("Close(%s, fd=%d, pid=%d): %v", req.Path, req.FD, req.PID, cerr)
	}

	return CloseResponse{}, cerr
}

// Shutdown implements the SHUTDOWN control message: the two-phase drain
// protocol of spec §5.
func (c *Core) Shutdown(ctx context.Context) (ShutdownResponse, error) {
	_, report := reqtrace.StartSpan(ctx, "sessionfs.Shutdown")
	var err error
	defer func() { report(err) }()

	active, serr := c.sd.attempt(c.engine.sweep)
	if serr != nil {
		err = serr
		return ShutdownResponse{ActiveIncarnations: active}, serr
	}

	return ShutdownResponse{}, nil
}

// Sweep runs a reap pass directly, outside the SHUTDOWN protocol. The
// external collaborator that owns process-death notification would call
// this periodically; it is also what SHUTDOWN calls internally.
func (c *Core) Sweep() int {
	return c.engine.sweep()
}
