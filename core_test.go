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
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/go-sessionfs/sessionfs/internal/hostfs"
	"github.com/go-sessionfs/sessionfs/internal/procprobe"
	"github.com/jacobsa/timeutil"
	"github.com/kylelemons/godebug/pretty"
)

func newTestCore(t *testing.T) (*Core, *hostfs.Fake, *procprobe.Fake) {
	t.Helper()
	fk := hostfs.NewFake()
	probe := procprobe.NewFake()
	c := newCore(fk, probe, timeutil.RealClock())
	if err := c.SetRoot("/mnt"); err != nil {
		t.Fatalf("SetRoot: %v", err)
	}
	return c, fk, probe
}

func diff(want, got []byte) string {
	return pretty.Compare(want, got)
}

// peekIncarnation looks up the incarnation for (pid, fd) without holding a
// lasting reference on its session, for tests that just want to write
// through the handle the way the (out-of-scope) libc shim would.
func peekIncarnation(c *Core, pid, fd int) *incarnation {
	s, inc := c.reg.findByOwner(pid, fd)
	if s != nil {
		s.dropRef()
	}
	return inc
}

// Scenario 1: first open of a nonexistent file creates it empty, with a
// valid (status == 0), empty incarnation.
func TestScenario1_CreateNewFile(t *testing.T) {
	c, fk, _ := newTestCore(t)

	resp, err := c.Open(context.Background(), OpenRequest{
		Path: "/mnt/a.txt", Flags: os.O_RDWR | os.O_CREATE | SessionOptIn, PID: 100, Mode: 0644,
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if resp.Status != 0 {
		t.Fatalf("Status = %d, want 0", resp.Status)
	}
	if resp.FD < 0 {
		t.Fatalf("FD = %d, want >= 0", resp.FD)
	}

	original, ok := fk.Contents("/mnt/a.txt")
	if !ok {
		t.Fatalf("original file missing")
	}
	if len(original) != 0 {
		t.Fatalf("original contents = %q, want empty", original)
	}
}

// Scenario 2: writing to the incarnation and closing flushes the bytes back
// over the original.
func TestScenario2_WriteThenClose(t *testing.T) {
	c, fk, _ := newTestCore(t)

	resp, err := c.Open(context.Background(), OpenRequest{
		Path: "/mnt/a.txt", Flags: os.O_RDWR | os.O_CREATE | SessionOptIn, PID: 100, Mode: 0644,
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	// The external collaborator writes directly to the incarnation file via
	// the fd; simulate that by finding the incarnation handle through the
	// registry's owner index and writing through it.
	inc := peekIncarnation(c, 100, resp.FD)
	if inc == nil {
		t.Fatalf("incarnation not found after Open")
	}
	if _, err := inc.handle.WriteAt([]byte{0x41, 0x42, 0x43}, 0); err != nil {
		t.Fatalf("WriteAt: %v", err)
	}

	if _, err := c.Close(context.Background(), CloseRequest{Path: "/mnt/a.txt", FD: resp.FD, PID: 100}); err != nil {
		t.Fatalf("Close: %v", err)
	}

	got, _ := fk.Contents("/mnt/a.txt")
	if d := diff([]byte{0x41, 0x42, 0x43}, got); d != "" {
		t.Fatalf("original contents diff (-want +got):\n%s", d)
	}
}

// Scenario 3: two concurrent incarnations of the same original; last closer
// wins.
func TestScenario3_LastCloserWins(t *testing.T) {
	c, fk, _ := newTestCore(t)
	ctx := context.Background()

	respA, err := c.Open(ctx, OpenRequest{Path: "/mnt/a.txt", Flags: os.O_RDWR | os.O_CREATE | SessionOptIn, PID: 100, Mode: 0644})
	if err != nil {
		t.Fatalf("Open A: %v", err)
	}
	respB, err := c.Open(ctx, OpenRequest{Path: "/mnt/a.txt", Flags: os.O_RDWR | SessionOptIn, PID: 200, Mode: 0644})
	if err != nil {
		t.Fatalf("Open B: %v", err)
	}
	if respA.FD == respB.FD {
		t.Fatalf("expected distinct fds, both got %d", respA.FD)
	}

	incA := peekIncarnation(c, 100, respA.FD)
	incB := peekIncarnation(c, 200, respB.FD)
	incA.handle.WriteAt([]byte{0x01}, 0)
	incB.handle.WriteAt([]byte{0x02}, 0)

	if _, err := c.Close(ctx, CloseRequest{Path: "/mnt/a.txt", FD: respA.FD, PID: 100}); err != nil {
		t.Fatalf("Close A: %v", err)
	}
	if _, err := c.Close(ctx, CloseRequest{Path: "/mnt/a.txt", FD: respB.FD, PID: 200}); err != nil {
		t.Fatalf("Close B: %v", err)
	}

	got, _ := fk.Contents("/mnt/a.txt")
	if d := diff([]byte{0x02}, got); d != "" {
		t.Fatalf("original contents diff (-want +got):\n%s", d)
	}

	if n := c.ActiveSessionCount(); n != 0 {
		t.Fatalf("ActiveSessionCount() = %d, want 0 after both closed", n)
	}
}

// Two concurrent creators of the same pathname observe exactly one session
// insertion.
func TestConcurrentCreatorsSingleSession(t *testing.T) {
	c, _, _ := newTestCore(t)
	ctx := context.Background()

	const n = 16
	var wg sync.WaitGroup
	sessions := make([]*session, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := c.Open(ctx, OpenRequest{
				Path: "/mnt/shared.txt", Flags: os.O_RDWR | os.O_CREATE | SessionOptIn, PID: 1000 + i, Mode: 0644,
			}); err != nil {
				t.Errorf("Open %d: %v", i, err)
				return
			}
			sessions[i] = c.reg.find("/mnt/shared.txt")
		}(i)
	}
	wg.Wait()

	first := sessions[0]
	for i, s := range sessions {
		if s != first {
			t.Fatalf("creator %d observed a different session object than creator 0", i)
		}
	}
}

// Scenario 4: sweep reaps a dead owner's incarnation without flushing.
func TestScenario4_SweepReapsDeadOwner(t *testing.T) {
	c, fk, probe := newTestCore(t)
	ctx := context.Background()

	resp, err := c.Open(ctx, OpenRequest{Path: "/mnt/a.txt", Flags: os.O_RDWR | os.O_CREATE | SessionOptIn, PID: 100, Mode: 0644})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	inc := peekIncarnation(c, 100, resp.FD)
	inc.handle.WriteAt([]byte{0xff}, 0)

	probe.Set(100, procprobe.Gone)

	active := c.Sweep()
	if active != 0 {
		t.Fatalf("Sweep() active = %d, want 0", active)
	}

	got, _ := fk.Contents("/mnt/a.txt")
	if len(got) != 0 {
		t.Fatalf("original contents = %q, want unchanged (empty)", got)
	}
}

// R1 / Scenario 5: SetRoot validation.
func TestScenario5_SetRootValidation(t *testing.T) {
	c, _, _ := newTestCore(t)

	if err := c.SetRoot("relative/path"); !errors.Is(err, ErrInvalid) {
		t.Fatalf("SetRoot(relative) error = %v, want ErrInvalid", err)
	}
	if got := c.GetRoot(); got != "/mnt" {
		t.Fatalf("GetRoot() = %q, want unchanged /mnt", got)
	}

	if err := c.SetRoot("/tmp/sess"); err != nil {
		t.Fatalf("SetRoot: %v", err)
	}
	if got := c.GetRoot(); got != "/tmp/sess" {
		t.Fatalf("GetRoot() = %q, want /tmp/sess", got)
	}
}

// Scenario 6: SHUTDOWN is BUSY while a session is open, then OK once closed.
func TestScenario6_ShutdownBusyThenOK(t *testing.T) {
	c, _, _ := newTestCore(t)
	ctx := context.Background()

	resp, err := c.Open(ctx, OpenRequest{Path: "/mnt/a.txt", Flags: os.O_RDWR | os.O_CREATE | SessionOptIn, PID: 100, Mode: 0644})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	if _, err := c.Shutdown(ctx); !errors.Is(err, ErrBusy) {
		t.Fatalf("Shutdown while open = %v, want ErrBusy", err)
	}

	if _, err := c.Close(ctx, CloseRequest{Path: "/mnt/a.txt", FD: resp.FD, PID: 100}); err != nil {
		t.Fatalf("Close: %v", err)
	}

	shutdownResp, err := c.Shutdown(ctx)
	if err != nil {
		t.Fatalf("Shutdown after close: %v", err)
	}
	if shutdownResp.ActiveIncarnations != 0 {
		t.Fatalf("ActiveIncarnations = %d, want 0", shutdownResp.ActiveIncarnations)
	}

	if _, err := c.Open(ctx, OpenRequest{Path: "/mnt/b.txt", Flags: os.O_RDWR | os.O_CREATE | SessionOptIn, PID: 101, Mode: 0644}); !errors.Is(err, ErrDisabled) {
		t.Fatalf("Open after shutdown = %v, want ErrDisabled", err)
	}
}

// Boundary: an oversized incarnation name falls back to /var/tmp.
func TestIncarnationPathFallback(t *testing.T) {
	longOriginal := "/mnt/" + stringsRepeat("x", maxPathLen)
	got := newIncarnationPath(longOriginal, 42, 1)
	want := "/var/tmp/42_1"
	if got != want {
		t.Fatalf("newIncarnationPath(overflow) = %q, want %q", got, want)
	}
}

func TestIncarnationPathNatural(t *testing.T) {
	got := newIncarnationPath("/mnt/a.txt", 100, 12345)
	want := "/mnt/a.txt_incarnation_100_12345"
	if got != want {
		t.Fatalf("newIncarnationPath = %q, want %q", got, want)
	}
}

func stringsRepeat(s string, n int) string {
	out := make([]byte, 0, n*len(s))
	for i := 0; i < n; i++ {
		out = append(out, s...)
	}
	return string(out)
}

// R2: create then immediate close with no writes leaves the original
// byte-identical to its pre-create state.
func TestRoundTripNoWrites(t *testing.T) {
	c, fk, _ := newTestCore(t)
	ctx := context.Background()

	resp, err := c.Open(ctx, OpenRequest{Path: "/mnt/a.txt", Flags: os.O_RDWR | os.O_CREATE | SessionOptIn, PID: 100, Mode: 0644})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := c.Close(ctx, CloseRequest{Path: "/mnt/a.txt", FD: resp.FD, PID: 100}); err != nil {
		t.Fatalf("Close: %v", err)
	}

	got, _ := fk.Contents("/mnt/a.txt")
	if len(got) != 0 {
		t.Fatalf("contents = %q, want empty", got)
	}
}

// A close for an unknown (path, fd, pid) returns ErrBadFD.
func TestCloseUnknownReturnsBadFD(t *testing.T) {
	c, _, _ := newTestCore(t)
	_, err := c.Close(context.Background(), CloseRequest{Path: "/mnt/nope.txt", FD: 9, PID: 1})
	if !errors.Is(err, ErrBadFD) {
		t.Fatalf("Close(unknown) = %v, want ErrBadFD", err)
	}
}

// Opening outside the session root is rejected.
func TestOpenOutsideRootRejected(t *testing.T) {
	c, _, _ := newTestCore(t)
	_, err := c.Open(context.Background(), OpenRequest{
		Path: "/etc/passwd", Flags: os.O_RDWR | SessionOptIn, PID: 1, Mode: 0644,
	})
	if !errors.Is(err, ErrInvalid) {
		t.Fatalf("Open(outside root) = %v, want ErrInvalid", err)
	}
}

// Copy-on-open failure still returns an open, corrupt incarnation rather
// than aborting creation.
func TestCopyOnOpenFailureMarksCorrupt(t *testing.T) {
	fk := hostfs.NewFake()
	probe := procprobe.NewFake()
	failing := hostfs.FailingBulkCopy{Fake: fk, Err: errInjected}
	c := newCore(failing, probe, timeutil.RealClock())
	c.SetRoot("/mnt")

	resp, err := c.Open(context.Background(), OpenRequest{
		Path: "/mnt/a.txt", Flags: os.O_RDWR | os.O_CREATE | SessionOptIn, PID: 100, Mode: 0644,
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if resp.Status == 0 {
		t.Fatalf("Status = 0, want nonzero (corrupt)")
	}

	// Closing a corrupt incarnation must not write back.
	if _, err := c.Close(context.Background(), CloseRequest{Path: "/mnt/a.txt", FD: resp.FD, PID: 100}); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

var errInjected = errors.New("injected copy failure")

func TestIncarnationPathDistinctAcrossTimestamps(t *testing.T) {
	// Sanity check that two creations at different times produce distinct
	// incarnation paths even for the same pid.
	a := newIncarnationPath("/mnt/a.txt", 1, time.Now().UnixNano())
	time.Sleep(time.Microsecond)
	b := newIncarnationPath("/mnt/a.txt", 1, time.Now().UnixNano())
	if a == b {
		t.Fatalf("expected distinct incarnation paths, got %q twice", a)
	}
}
