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

// Package sessionfs provides Unix-style session semantics as an overlay on
// top of an ordinary file system: opening a file in session mode hands the
// caller a private, copy-on-open incarnation; closing it flushes the
// incarnation's contents back over the original in one step, last closer
// wins.
//
// The primary elements of interest are:
//
//   - Core, the entry point wiring the session registry, the lifecycle
//     engine, and the shutdown coordinator behind Open/Close/Shutdown.
//
//   - The registry and session/incarnation records, which implement the
//     concurrent bookkeeping: RCU-style reclamation for the registry,
//     per-original read-write locking for copy-on-open/copy-on-close
//     ordering.
//
// The control channel that would carry OPEN/CLOSE/SHUTDOWN messages from
// user space, and the virtual file system that would expose the
// observability getters, are external collaborators outside this package's
// scope; Core's exported methods are the contract they would call through.
package sessionfs
