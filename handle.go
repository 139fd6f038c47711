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

import (
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"

	"github.com/google/renameio"
)

// Handle is an open capture file: either a single write-mode handle, or
// one of any number of independent read-mode handles. A Handle is owned
// by a single goroutine, or externally synchronized by the caller; the
// package only serializes writer contention across Handles.
type Handle struct {
	path      string
	write     bool
	useOSLock bool

	f         *os.File
	pageSize  int64
	blockSize int64
	fanOut    int

	pf  *pageFile
	bb  *blockBuffer
	bc  *blockCache
	idx *index

	currentSlot int
	serial      uint32
	recordCount uint64
	metadataPtr dataCoordinate

	closed bool
}

// Open opens the capture file at path. In write mode it creates the file
// first if it does not exist (or if opts.ForceNewEmptyFile removed it); a
// read-mode Open of a missing file returns an error.
func Open(path string, opts Options) (*Handle, error) {
	path, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("capturefile: open: %w", err)
	}

	if opts.ForceNewEmptyFile {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("capturefile: open: %w", err)
		}
	}

	justCreated := false
	if _, err := os.Stat(path); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("capturefile: open: %w", err)
		}
		if !opts.Write {
			return nil, fmt.Errorf("capturefile: open: %w", err)
		}
		if err := createEmptyFile(path, opts); err != nil {
			return nil, err
		}
		justCreated = true
	}

	if opts.Write {
		if err := acquireWriterSlot(path); err != nil {
			return nil, err
		}
	}

	flag := os.O_RDONLY
	if opts.Write {
		flag = os.O_RDWR
	}
	f, err := os.OpenFile(path, flag, 0o644)
	if err != nil {
		if opts.Write {
			releaseWriterSlot(path)
		}
		return nil, fmt.Errorf("capturefile: open: %w", err)
	}

	if opts.UseOSLocking {
		if err := flockFile(f, opts.Write); err != nil {
			f.Close()
			if opts.Write {
				releaseWriterSlot(path)
			}
			return nil, err
		}
	}

	h, err := loadHandle(f, path, opts)
	if err != nil {
		f.Close()
		if opts.UseOSLocking {
			funlockFile(f)
		}
		if opts.Write {
			releaseWriterSlot(path)
		}
		return nil, err
	}

	if justCreated && opts.InitialMetadata != nil {
		if err := h.SetMetadata(opts.InitialMetadata); err != nil {
			h.Close()
			return nil, err
		}
		if err := h.Commit(); err != nil {
			h.Close()
			return nil, err
		}
	}
	return h, nil
}

// createEmptyFile atomically materializes a brand new, empty capture
// file: the fixed header, an initial valid master in slot 0 (slot 1
// stays zeroed and invalid until the first real commit), and padding up
// to the larger of the data region start and the initial page count.
func createEmptyFile(path string, opts Options) error {
	pageSize := int64(defaultPageSize)
	blockSize := int64(opts.CompressionBlockSize)
	if blockSize == 0 {
		blockSize = defaultCompressionBlockSize
	}
	fanOut := uint32(defaultFanOut)

	dataStart := dataRegionStart(pageSize, blockSize)
	totalSize := int64(initialFilePages) * pageSize
	if dataStart > totalSize {
		totalSize = dataStart
	}

	buf := make([]byte, totalSize)
	copy(buf, encodeFileHeader(fileHeader{
		version:              fileFormatVersion,
		pageSize:             uint32(pageSize),
		compressionBlockSize: uint32(blockSize),
		fanOut:               fanOut,
	}))

	empty := masterNode{
		serial:      1,
		fileLimit:   dataStart,
		partialPage: make([]byte, pageSize),
		block:       make([]byte, blockSize),
	}
	slot0, err := serializeMaster(pageSize, blockSize, empty)
	if err != nil {
		return fmt.Errorf("capturefile: create: %w", err)
	}
	copy(buf[masterSlotOffset(0, pageSize, blockSize):], slot0)

	w, err := renameio.TempFile("", path)
	if err != nil {
		return fmt.Errorf("capturefile: create: %w", err)
	}
	defer w.Cleanup()
	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("capturefile: create: %w", err)
	}
	if err := w.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("capturefile: create: %w", err)
	}
	return nil
}

func loadHandle(f *os.File, path string, opts Options) (*Handle, error) {
	hdrBuf := make([]byte, fileHeaderSize)
	if _, err := f.ReadAt(hdrBuf, 0); err != nil {
		return nil, fmt.Errorf("capturefile: open: %w", err)
	}
	hdr, err := decodeFileHeader(hdrBuf)
	if err != nil {
		return nil, err
	}

	pageSize := int64(hdr.pageSize)
	blockSize := int64(hdr.compressionBlockSize)
	fanOut := int(hdr.fanOut)

	m0, ok0 := readMasterSlot(f, 0, pageSize, blockSize)
	m1, ok1 := readMasterSlot(f, 1, pageSize, blockSize)
	current, slot, err := pickCurrentMaster(m0, m1, ok0, ok1)
	if err != nil {
		return nil, err
	}

	var wf *os.File
	if opts.Write {
		wf = f
	}
	tailLen := current.fileLimit % pageSize
	pf := newPageFile(f, wf, pageSize, current.fileLimit, current.partialPage[:tailLen])
	if opts.Write {
		if err := pf.rewriteNaturalPosition(); err != nil {
			return nil, err
		}
	}

	bb := newBlockBuffer(pf, blockSize, current.block[:current.compressionBlockLen])
	bc := newBlockCache(pf, blockSize)
	idx := newIndex(fanOut, bb, bc)
	idx.levels = current.levels

	return &Handle{
		path: path, write: opts.Write, useOSLock: opts.UseOSLocking,
		f: f, pageSize: pageSize, blockSize: blockSize, fanOut: fanOut,
		pf: pf, bb: bb, bc: bc, idx: idx,
		currentSlot: slot, serial: current.serial,
		recordCount: idx.recordCount(), metadataPtr: current.metadataPtr,
	}, nil
}

// Close discards any uncommitted state and releases whatever locks this
// Handle holds. It never writes a master; the only way to persist work
// is Commit.
func (h *Handle) Close() error {
	if h.closed {
		return nil
	}
	h.closed = true
	var err error
	if h.useOSLock {
		if e := funlockFile(h.f); e != nil && err == nil {
			err = e
		}
	}
	if e := h.f.Close(); e != nil && err == nil {
		err = e
	}
	if h.write {
		releaseWriterSlot(h.path)
	}
	return err
}

// AddRecord appends a record and returns the new record count. The
// record is not visible to any other Handle, nor durable, until Commit.
func (h *Handle) AddRecord(data []byte) (uint64, error) {
	if h.closed {
		return 0, fmt.Errorf("capturefile: %w", ErrNotOpen)
	}
	if !h.write {
		return 0, fmt.Errorf("capturefile: %w", ErrNotOpenForWrite)
	}
	if uint64(len(data)) > math.MaxUint32 {
		return 0, fmt.Errorf("capturefile: %w", ErrRecordTooLarge)
	}
	coord, err := h.bb.append(lengthPrefixed(data))
	if err != nil {
		return 0, err
	}
	if err := h.idx.insertRecord(coord); err != nil {
		return 0, err
	}
	h.recordCount++
	return h.recordCount, nil
}

// Commit makes every record added (and any metadata change) since the
// last commit durable and visible to readers that Refresh afterward, by
// flushing the in-flight data and writing a new master to the
// currently-non-current slot.
func (h *Handle) Commit() error {
	if h.closed {
		return fmt.Errorf("capturefile: %w", ErrNotOpen)
	}
	if !h.write {
		return fmt.Errorf("capturefile: %w", ErrNotOpenForWrite)
	}
	if err := h.f.Sync(); err != nil {
		return fmt.Errorf("capturefile: commit: %w", err)
	}

	next := masterNode{
		serial:              h.serial + 1,
		fileLimit:           h.pf.fileLimit,
		compressionBlockLen: uint32(len(h.bb.buf)),
		metadataPtr:         h.metadataPtr,
		levels:              h.idx.levels,
		partialPage:         h.pf.partialPage(),
		block:               h.bb.buf,
	}
	nextSlot := 1 - h.currentSlot
	if err := writeMasterSlot(h.f, nextSlot, h.pageSize, h.blockSize, next); err != nil {
		return err
	}
	h.currentSlot = nextSlot
	h.serial = next.serial
	return nil
}

// RecordCount reports the number of records visible to this Handle: for
// a write-mode Handle this includes records added but not yet
// committed; for a read-mode Handle it reflects the state at Open or
// the last Refresh.
func (h *Handle) RecordCount() (uint64, error) {
	if h.closed {
		return 0, fmt.Errorf("capturefile: %w", ErrNotOpen)
	}
	return h.recordCount, nil
}

// RecordAt returns the bytes of the n'th record (1-based).
func (h *Handle) RecordAt(n uint64) ([]byte, error) {
	if h.closed {
		return nil, fmt.Errorf("capturefile: %w", ErrNotOpen)
	}
	if n < 1 || n > h.recordCount {
		return nil, fmt.Errorf("capturefile: %w", ErrOutOfRange)
	}
	coord, err := h.idx.recordAt(n - 1)
	if err != nil {
		return nil, err
	}
	return h.readLengthPrefixed(coord)
}

func (h *Handle) readLengthPrefixed(coord dataCoordinate) ([]byte, error) {
	lenBuf, next, err := h.bc.readSpanFrom(h.bb, coord, 4)
	if err != nil {
		return nil, err
	}
	l := u32LE(lenBuf)
	return h.bc.readSpan(h.bb, next, int(l))
}

// GetMetadata returns the file's current metadata blob, or nil if no
// metadata is set (never set, or cleared with SetMetadata(nil)).
func (h *Handle) GetMetadata() ([]byte, error) {
	if h.closed {
		return nil, fmt.Errorf("capturefile: %w", ErrNotOpen)
	}
	if h.metadataPtr.isZero() {
		return nil, nil
	}
	return h.readLengthPrefixed(h.metadataPtr)
}

// SetMetadata replaces the file's metadata blob, or clears it when data
// is nil. The change is staged like a record, but carries no record
// number and does not affect RecordCount; it becomes durable on Commit.
func (h *Handle) SetMetadata(data []byte) error {
	if h.closed {
		return fmt.Errorf("capturefile: %w", ErrNotOpen)
	}
	if !h.write {
		return fmt.Errorf("capturefile: %w", ErrNotOpenForWrite)
	}
	if data == nil {
		h.metadataPtr = zeroCoordinate
		return nil
	}
	if uint64(len(data)) > math.MaxUint32 {
		return fmt.Errorf("capturefile: %w", ErrRecordTooLarge)
	}
	coord, err := h.bb.append(lengthPrefixed(data))
	if err != nil {
		return err
	}
	h.metadataPtr = coord
	return nil
}

// Refresh re-reads both master slots and, if a newer commit has landed
// since Open or the last Refresh, rebuilds this Handle's view of the
// file: its rightmost path, record count, metadata pointer, and
// decompression cache. It is a no-op if nothing has changed.
func (h *Handle) Refresh() error {
	if h.closed {
		return fmt.Errorf("capturefile: %w", ErrNotOpen)
	}
	m0, ok0 := readMasterSlot(h.f, 0, h.pageSize, h.blockSize)
	m1, ok1 := readMasterSlot(h.f, 1, h.pageSize, h.blockSize)
	current, slot, err := pickCurrentMaster(m0, m1, ok0, ok1)
	if err != nil {
		return err
	}
	if current.serial == h.serial {
		return nil
	}

	var wf *os.File
	if h.write {
		wf = h.f
	}
	tailLen := current.fileLimit % h.pageSize
	h.pf = newPageFile(h.f, wf, h.pageSize, current.fileLimit, current.partialPage[:tailLen])
	h.bb = newBlockBuffer(h.pf, h.blockSize, current.block[:current.compressionBlockLen])
	h.bc = newBlockCache(h.pf, h.blockSize)
	h.idx = newIndex(h.fanOut, h.bb, h.bc)
	h.idx.levels = current.levels
	h.currentSlot = slot
	h.serial = current.serial
	h.recordCount = h.idx.recordCount()
	h.metadataPtr = current.metadataPtr
	return nil
}

// RecordGenerator is a one-shot, pull-based sequence of record bytes,
// bounded by the record count at the moment it was created. It does not
// observe records added or committed afterward, and is not safe for use
// from more than one goroutine.
type RecordGenerator struct {
	h     *Handle
	next  uint64
	limit uint64
}

// RecordGenerator starts a lazy sequence of record bytes from start
// (1-based; 0 means start at 1) through the record count captured at
// this call.
func (h *Handle) RecordGenerator(start uint64) (*RecordGenerator, error) {
	if h.closed {
		return nil, fmt.Errorf("capturefile: %w", ErrNotOpen)
	}
	if start == 0 {
		start = 1
	}
	return &RecordGenerator{h: h, next: start, limit: h.recordCount}, nil
}

// Next returns the next record's bytes, or io.EOF once the sequence's
// bound (captured when the generator was created) is exhausted.
func (g *RecordGenerator) Next() ([]byte, error) {
	if g.next > g.limit {
		return nil, io.EOF
	}
	b, err := g.h.RecordAt(g.next)
	if err != nil {
		return nil, err
	}
	g.next++
	return b, nil
}
