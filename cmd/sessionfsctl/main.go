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

// sessionfsctl is a small demonstration CLI that drives a Core directly,
// standing in for the out-of-scope control channel collaborator during
// manual testing. It is not a replacement for the real ioctl/char-device
// bridge described in spec §6.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/go-sessionfs/sessionfs"
)

var (
	fRoot = flag.String("root", "/mnt", "Session root to configure before any operation.")
	fPath = flag.String("path", "", "Absolute path of the original file to act on.")
	fOp   = flag.String("op", "", "One of: open, close, shutdown, stat.")
	fFD   = flag.Int("fd", -1, "Incarnation fd to act on for -op=close.")
)

func main() {
	flag.Parse()

	core := sessionfs.New()
	if err := core.SetRoot(*fRoot); err != nil {
		log.Fatalf("SetRoot(%q): %v", *fRoot, err)
	}

	ctx := context.Background()
	pid := os.Getpid()

	switch *fOp {
	case "open":
		resp, err := core.Open(ctx, sessionfs.OpenRequest{
			Path:  *fPath,
			Flags: os.O_RDWR | os.O_CREATE | sessionfs.SessionOptIn,
			Mode:  0644,
			PID:   pid,
		})
		if err != nil {
			log.Fatalf("Open: %v", err)
		}
		fmt.Printf("fd=%d status=%d\n", resp.FD, resp.Status)

	case "close":
		if *fFD < 0 {
			log.Fatalf("-fd is required for -op=close")
		}
		if _, err := core.Close(ctx, sessionfs.CloseRequest{Path: *fPath, FD: *fFD, PID: pid}); err != nil {
			log.Fatalf("Close: %v", err)
		}

	case "shutdown":
		resp, err := core.Shutdown(ctx)
		if err != nil {
			log.Fatalf("Shutdown: %v (active=%d)", err, resp.ActiveIncarnations)
		}
		fmt.Println("shutdown ok")

	case "stat":
		fmt.Printf("active sessions: %d\n", core.ActiveSessionCount())
		if n, ok := core.SessionIncarnationCount(*fPath); ok {
			fmt.Printf("incarnations for %s: %d\n", *fPath, n)
		}

	default:
		log.Fatalf("unknown -op %q; want one of open, close, shutdown, stat", *fOp)
	}
}
