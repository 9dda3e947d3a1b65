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

// CoreError is the taxonomy of errors the core returns, as distinct from
// host errno values that are passed through verbatim (see §7 of the spec).
type CoreError string

func (e CoreError) Error() string { return string(e) }

const (
	// ErrInvalid marks an argument error: no state changed.
	ErrInvalid = CoreError("sessionfs: invalid argument")
	// ErrNoMem marks a resource error: allocation failed, no state changed
	// beyond anything already rolled back.
	ErrNoMem = CoreError("sessionfs: out of memory")
	// ErrBadFD means close() found no matching incarnation.
	ErrBadFD = CoreError("sessionfs: no such incarnation")
	// ErrBusy is returned only from Shutdown, when in-flight operations or
	// live incarnations remain.
	ErrBusy = CoreError("sessionfs: busy")
	// ErrOwnerGone means close() found that the owning process had died
	// between open and close; the incarnation is still torn down.
	ErrOwnerGone = CoreError("sessionfs: owner process is gone")
	// ErrRetry is returned only from create(), when the parent session went
	// invalid between lookup and the read-lock acquisition.
	ErrRetry = CoreError("sessionfs: stale session, retry")
	// ErrDisabled means the core is disabled: either a shutdown has
	// succeeded (permanent) or a shutdown attempt is in progress (the core
	// is re-enabled if that attempt fails).
	ErrDisabled = CoreError("sessionfs: core is disabled")
)
