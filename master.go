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

	"github.com/orcaman/writerseeker"
)

// masterFixedHeaderSize is crc32(4) + serial(4) + fileLimit(8) +
// compressionBlockLen(4) + metadataPtr(12) + reserved(4).
const masterFixedHeaderSize = 36

// masterNode is the in-memory form of one of the two alternating
// commit records. Exactly one of the two on-disk slots is "current" at
// any time; the other holds the previous commit (or is corrupt and
// ignored).
type masterNode struct {
	serial              uint32
	fileLimit           int64
	compressionBlockLen uint32
	metadataPtr         dataCoordinate
	levels              []indexLevel
	partialPage         []byte // exactly pageSize bytes
	block               []byte // exactly blockSize bytes, first compressionBlockLen valid
}

func masterSlotSize(pageSize, blockSize int64) int64 {
	return 2*pageSize + blockSize
}

func masterSlotOffset(slot int, pageSize, blockSize int64) int64 {
	return pageSize + int64(slot)*masterSlotSize(pageSize, blockSize)
}

// serializeMaster lays the slot out as: page 0 holds the fixed header
// followed by the serialized rightmost path, zero-padded to pageSize;
// page 1 holds a verbatim copy of the current partial data page; the
// trailing blockSize bytes hold the in-memory compression block. The
// CRC is computed over everything in the slot after the CRC field
// itself, which is why the field is written as a zero placeholder first
// and patched in afterwards, in the style of a seek-back length or
// checksum patch over a streamed write.
func serializeMaster(pageSize, blockSize int64, m masterNode) ([]byte, error) {
	rp := serializeRightmostPathBytes(m.levels)
	if int64(len(rp)) > pageSize-masterFixedHeaderSize {
		return nil, fmt.Errorf("capturefile: rightmost path too large for page size: %w", errInternalInconsistent)
	}

	var ws writerseeker.WriterSeeker
	if _, err := ws.Write(make([]byte, 4)); err != nil { // CRC placeholder
		return nil, fmt.Errorf("capturefile: master serialize: %w", err)
	}
	fixed := make([]byte, masterFixedHeaderSize-4)
	putU32LE(fixed, m.serial)
	putU64LE(fixed[4:], uint64(m.fileLimit))
	putU32LE(fixed[12:], m.compressionBlockLen)
	putDataCoordinate(fixed[16:], m.metadataPtr)
	if _, err := ws.Write(fixed); err != nil {
		return nil, fmt.Errorf("capturefile: master serialize: %w", err)
	}
	if _, err := ws.Write(rp); err != nil {
		return nil, fmt.Errorf("capturefile: master serialize: %w", err)
	}
	page0Written := masterFixedHeaderSize + len(rp)
	if _, err := ws.Write(make([]byte, int(pageSize)-page0Written)); err != nil {
		return nil, fmt.Errorf("capturefile: master serialize: %w", err)
	}

	pp := make([]byte, pageSize)
	copy(pp, m.partialPage)
	if _, err := ws.Write(pp); err != nil {
		return nil, fmt.Errorf("capturefile: master serialize: %w", err)
	}

	blk := make([]byte, blockSize)
	copy(blk, m.block)
	if _, err := ws.Write(blk); err != nil {
		return nil, fmt.Errorf("capturefile: master serialize: %w", err)
	}

	buf, err := io.ReadAll(ws.Reader())
	if err != nil {
		return nil, fmt.Errorf("capturefile: master serialize: %w", err)
	}
	crc := crc32IEEE(buf[4:])
	putU32LE(buf, crc)
	if _, err := ws.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("capturefile: master serialize: %w", err)
	}
	if _, err := ws.Write(buf[:4]); err != nil {
		return nil, fmt.Errorf("capturefile: master serialize: %w", err)
	}
	return buf, nil
}

func serializeRightmostPathBytes(levels []indexLevel) []byte {
	idx := &index{levels: levels}
	return idx.serializeRightmostPath()
}

// parseMaster validates a slot's CRC and, if it checks out, decodes it.
func parseMaster(buf []byte, pageSize, blockSize int64) (masterNode, bool) {
	if int64(len(buf)) != masterSlotSize(pageSize, blockSize) {
		return masterNode{}, false
	}
	storedCRC := u32LE(buf)
	if storedCRC != crc32IEEE(buf[4:]) {
		return masterNode{}, false
	}

	var m masterNode
	m.serial = u32LE(buf[4:])
	m.fileLimit = int64(u64LE(buf[8:]))
	m.compressionBlockLen = u32LE(buf[16:])
	m.metadataPtr = getDataCoordinate(buf[20:])

	levels, err := parseRightmostPath(buf[masterFixedHeaderSize:pageSize])
	if err != nil {
		return masterNode{}, false
	}
	m.levels = levels
	m.partialPage = append([]byte(nil), buf[pageSize:2*pageSize]...)
	m.block = append([]byte(nil), buf[2*pageSize:2*pageSize+blockSize]...)
	return m, true
}

func readMasterSlot(ra io.ReaderAt, slot int, pageSize, blockSize int64) (masterNode, bool) {
	buf := make([]byte, masterSlotSize(pageSize, blockSize))
	if _, err := ra.ReadAt(buf, masterSlotOffset(slot, pageSize, blockSize)); err != nil {
		return masterNode{}, false
	}
	return parseMaster(buf, pageSize, blockSize)
}

func writeMasterSlot(wf *os.File, slot int, pageSize, blockSize int64, m masterNode) error {
	buf, err := serializeMaster(pageSize, blockSize, m)
	if err != nil {
		return err
	}
	if _, err := wf.WriteAt(buf, masterSlotOffset(slot, pageSize, blockSize)); err != nil {
		return fmt.Errorf("capturefile: master write: %w", err)
	}
	if err := wf.Sync(); err != nil {
		return fmt.Errorf("capturefile: master sync: %w", err)
	}
	return nil
}

// serialNewer reports whether a is a newer commit than b under
// wrap-aware modulo-2^32 comparison: a is newer iff (a-b) mod 2^32 lies
// strictly between 0 and 2^31, which uint32 wraparound subtraction
// gives for free.
func serialNewer(a, b uint32) bool {
	diff := a - b
	return diff != 0 && diff < (1<<31)
}

// pickCurrentMaster chooses the current slot between two read attempts,
// per the masters' CRC validity and, when both validate, their serial
// ordering. It returns the chosen node and the slot index it came from;
// a following commit writes to the other slot.
func pickCurrentMaster(m0, m1 masterNode, ok0, ok1 bool) (current masterNode, currentSlot int, err error) {
	switch {
	case ok0 && ok1:
		if serialNewer(m1.serial, m0.serial) {
			return m1, 1, nil
		}
		return m0, 0, nil
	case ok0:
		return m0, 0, nil
	case ok1:
		return m1, 1, nil
	default:
		return masterNode{}, -1, fmt.Errorf("capturefile: %w", ErrInvalidCaptureFile)
	}
}
