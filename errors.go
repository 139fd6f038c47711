// Copyright 2026 The CaptureFile Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package capturefile

import "errors"

// The error kinds below are the observable error kinds named in the
// CaptureFile format's external interface. They are sentinels, not wrapped
// types, so callers compare with errors.Is.
var (
	// ErrNotOpen is returned by any method other than Close called on a
	// Handle that has already been closed; Close itself returns nil.
	ErrNotOpen = errors.New("capturefile: not open")

	// ErrAlreadyOpen is returned by Open when another Handle in this
	// process already holds the write lock for the same path.
	ErrAlreadyOpen = errors.New("capturefile: already open")

	// ErrNotOpenForWrite is returned by AddRecord, Commit, and SetMetadata
	// when the Handle was opened read-only.
	ErrNotOpenForWrite = errors.New("capturefile: not open for write")

	// ErrInvalidCaptureFile is returned when the file's magic is wrong,
	// its version is unsupported, or neither master slot validates.
	ErrInvalidCaptureFile = errors.New("capturefile: invalid capture file")

	// ErrOutOfRange is returned by RecordAt for n < 1 or n > RecordCount.
	ErrOutOfRange = errors.New("capturefile: record number out of range")

	// ErrRecordTooLarge is returned by AddRecord and SetMetadata for
	// payloads longer than math.MaxUint32 bytes.
	ErrRecordTooLarge = errors.New("capturefile: record too large")

	// errInternalInconsistent marks a bug: the on-disk accounting no
	// longer matches what the code above assumed. It should never
	// surface outside this package's own tests.
	errInternalInconsistent = errors.New("capturefile: internal error: inconsistent state")
)
