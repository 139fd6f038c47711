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
	"os"
)

// pageFile is the data-region view of a capture file: a page-aligned
// append stream, plus the in-memory tail that has not yet reached a full
// page boundary.
//
// fileLimit is the byte offset one past the last logical byte handed to
// append (its starting value plus every byte appended since), which need
// not itself be a multiple of pageSize: everything strictly
// before the start of the current page has been written to the backing
// file at its natural offset; the current (at most pageSize-1 byte)
// prefix of the last page lives only in tail, until a later append
// completes that page. A master-node commit copies tail into the
// zero-padded "last partial data page" region so it survives a restart
// even though it was never written to its natural file offset.
//
// Do not modify its exported fields (there are none); a pageFile is
// mutated only through its methods.
type pageFile struct {
	// ra is where committed, full-page data is read from: the owning
	// Handle's own file. An *os.File's ReadAt is safe for concurrent use,
	// so the pageFile values a Handle builds over time (one per Refresh),
	// each with its own fileLimit/tail snapshot, can share it.
	ra io.ReaderAt

	// wf is non-nil only for the single write-mode Handle. Appends and
	// the recovery rewrite go through it; read-only Handles never write.
	wf *os.File

	pageSize  int64
	fileLimit int64
	tail      []byte // len(tail) == int(fileLimit % pageSize)
}

func newPageFile(ra io.ReaderAt, wf *os.File, pageSize, fileLimit int64, tail []byte) *pageFile {
	tailLen := int(fileLimit % pageSize)
	t := make([]byte, tailLen)
	copy(t, tail)
	return &pageFile{ra: ra, wf: wf, pageSize: pageSize, fileLimit: fileLimit, tail: t}
}

func (p *pageFile) tailStart() int64 { return p.fileLimit - int64(len(p.tail)) }

// append writes b's page-aligned prefix directly to the backing file (at
// the page boundary where the current tail starts) and keeps the new,
// still-incomplete suffix as the tail, advancing fileLimit by len(b). It
// returns only an error; callers that need the position of b's first
// byte read fileLimit before calling append.
func (p *pageFile) append(b []byte) error {
	if p.wf == nil {
		return fmt.Errorf("capturefile: %w", ErrNotOpenForWrite)
	}
	if len(b) == 0 {
		return nil
	}
	combined := make([]byte, len(p.tail)+len(b))
	copy(combined, p.tail)
	copy(combined[len(p.tail):], b)

	fullPages := int64(len(combined)) / p.pageSize
	nWrite := fullPages * p.pageSize
	if nWrite > 0 {
		if _, err := p.wf.WriteAt(combined[:nWrite], p.tailStart()); err != nil {
			return fmt.Errorf("capturefile: page write: %w", err)
		}
	}
	rest := combined[nWrite:]
	p.tail = append(p.tail[:0:0], rest...)
	p.fileLimit += int64(len(b))
	return nil
}

// readExact reads exactly n bytes starting at offset, transparently
// serving bytes that fall within the not-yet-durable tail page from
// memory instead of the backing file.
func (p *pageFile) readExact(offset int64, n int) ([]byte, error) {
	if n == 0 {
		return nil, nil
	}
	end := offset + int64(n)
	ts := p.tailStart()

	out := make([]byte, n)
	switch {
	case end <= ts:
		if _, err := p.ra.ReadAt(out, offset); err != nil {
			return nil, fmt.Errorf("capturefile: page read: %w", err)
		}
	case offset >= ts:
		idx := offset - ts
		if idx < 0 || idx+int64(n) > int64(len(p.tail)) {
			return nil, fmt.Errorf("capturefile: %w", errInternalInconsistent)
		}
		copy(out, p.tail[idx:idx+int64(n)])
	default:
		diskLen := ts - offset
		if _, err := p.ra.ReadAt(out[:diskLen], offset); err != nil {
			return nil, fmt.Errorf("capturefile: page read: %w", err)
		}
		tailLen := int64(n) - diskLen
		if tailLen > int64(len(p.tail)) {
			return nil, fmt.Errorf("capturefile: %w", errInternalInconsistent)
		}
		copy(out[diskLen:], p.tail[:tailLen])
	}
	return out, nil
}

// partialPage returns the current tail, right-padded with zeroes to a
// full page, as stored in a master node's trailing data-page region.
func (p *pageFile) partialPage() []byte {
	buf := make([]byte, p.pageSize)
	copy(buf, p.tail)
	return buf
}

// rewriteNaturalPosition physically writes the tail page to its natural
// offset in the file. This is the write-mode-only recovery step run once
// at Open: it repairs any torn bytes a prior crashed commit may have left
// at that offset, so that future page reads there are correct without
// needing the in-memory tail fallback. It must never run on a read-only
// Handle (readers never write).
func (p *pageFile) rewriteNaturalPosition() error {
	if p.wf == nil {
		return fmt.Errorf("capturefile: %w", ErrNotOpenForWrite)
	}
	if _, err := p.wf.WriteAt(p.partialPage(), p.tailStart()); err != nil {
		return fmt.Errorf("capturefile: recovery rewrite: %w", err)
	}
	return nil
}

func (p *pageFile) sync() error {
	if p.wf == nil {
		return nil
	}
	return p.wf.Sync()
}
