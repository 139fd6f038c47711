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

// Package capturefile implements an append-only, transactional,
// compressed record-log file format. A capture file stores an ordered
// sequence of opaque binary records, each addressed by its 1-based
// sequence number, plus a single replaceable blob of user metadata.
// Writers append records and commit them atomically; readers fetch a
// record in O(log N) seeks, even across files with trillions of
// records. One writer and many concurrent readers, across goroutines,
// threads or processes, may share a file.
//
// The on-disk format keeps two alternating master-node regions so that
// a commit is a single atomic slot write: a crash can tear at most the
// non-current slot, and the previous commit remains fully intact. The
// record index is a right-spine-only tree: everything except the
// current, partially-full rightmost path of each level is immutable
// once written, so it lives inside compressed blocks without ever
// being rewritten.
package capturefile

import "fmt"

const (
	fileMagic         = "MioCapture\x00"
	fileHeaderSize    = 32
	fileFormatVersion = 2

	defaultPageSize             = 4096
	defaultCompressionBlockSize = 32768
	defaultFanOut               = 32

	// initialFilePages is how many pages a freshly created capture file
	// is padded to, regardless of how small its data region would
	// otherwise be.
	initialFilePages = 100
)

// fileHeader is the 32-byte fixed region at the start of every capture
// file: magic, format version, and the three per-file constants chosen
// at creation time.
type fileHeader struct {
	version               uint32
	pageSize              uint32
	compressionBlockSize  uint32
	fanOut                uint32
}

func encodeFileHeader(h fileHeader) []byte {
	buf := make([]byte, fileHeaderSize)
	copy(buf, fileMagic)
	putU32LE(buf[12:], h.version)
	putU32LE(buf[16:], h.pageSize)
	putU32LE(buf[20:], h.compressionBlockSize)
	putU32LE(buf[24:], h.fanOut)
	return buf
}

func decodeFileHeader(buf []byte) (fileHeader, error) {
	if len(buf) < fileHeaderSize {
		return fileHeader{}, fmt.Errorf("capturefile: %w", ErrInvalidCaptureFile)
	}
	if string(buf[:11]) != fileMagic[:11] || buf[11] != 0 {
		return fileHeader{}, fmt.Errorf("capturefile: %w", ErrInvalidCaptureFile)
	}
	h := fileHeader{
		version:              u32LE(buf[12:]),
		pageSize:             u32LE(buf[16:]),
		compressionBlockSize: u32LE(buf[20:]),
		fanOut:               u32LE(buf[24:]),
	}
	if h.version != fileFormatVersion {
		return fileHeader{}, fmt.Errorf("capturefile: %w", ErrInvalidCaptureFile)
	}
	if h.pageSize == 0 || h.compressionBlockSize == 0 || h.fanOut < 2 {
		return fileHeader{}, fmt.Errorf("capturefile: %w", ErrInvalidCaptureFile)
	}
	return h, nil
}

// dataRegionStart is the first byte offset past the header and the two
// master-node slots, where records and index nodes are actually stored.
func dataRegionStart(pageSize, blockSize int64) int64 {
	return 2*pageSize + 2*masterSlotSize(pageSize, blockSize)
}

// Options configures Open. There is no flags or config-file layer: the
// caller builds one of these directly, the way the rest of this
// library's ecosystem favors exported struct fields over a builder or
// functional-options API for a handful of independent knobs.
type Options struct {
	// Write opens the file for appending records and committing. Only
	// one write-mode Handle per path may be open within a process, and
	// (if UseOSLocking is set) across processes.
	Write bool

	// InitialMetadata, if non-nil, is committed as the file's metadata
	// when Open creates a brand new file. Ignored when opening an
	// existing file.
	InitialMetadata []byte

	// ForceNewEmptyFile truncates and recreates the file at path even if
	// one already exists.
	ForceNewEmptyFile bool

	// CompressionBlockSize overrides the default compression block size
	// when Open creates a brand new file. Ignored when opening an
	// existing file, since the value is a per-file constant fixed at
	// creation.
	CompressionBlockSize uint32

	// UseOSLocking additionally takes an advisory OS file lock: exclusive
	// for a write-mode open, shared for a read-mode open. Off by
	// default, since the intra-process mutex already prevents two
	// write-mode Handles on the same path within one process.
	UseOSLocking bool
}
