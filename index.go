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

import "fmt"

// indexEntry is one child slot of a tree node: where the child lives, and
// the height of the subtree it roots (0 means the child is a record
// itself, not a subtree).
type indexEntry struct {
	coord  dataCoordinate
	height uint8
}

const indexEntrySize = dataCoordinateSize + 1

// indexLevel is one level of the right spine: the slice of entries
// accumulated at that height that have not yet filled up and been
// promoted into a persisted node one level up. height 1 holds records
// directly; height > 1 holds pointers to persisted subtrees of height-1.
type indexLevel struct {
	height  int
	entries []indexEntry
}

// index is the right-spine tree that maps a zero-based record number to
// the dataCoordinate of its bytes. Every level below the top of the
// spine, and the left siblings of every node on the spine, are
// immutable once persisted: only the spine itself (idx.levels) is held
// in memory, which is what keeps the resident size of an open
// CaptureFile bounded regardless of how many records it holds.
type index struct {
	fanOut int
	bb     *blockBuffer
	bc     *blockCache
	levels []indexLevel
}

func newIndex(fanOut int, bb *blockBuffer, bc *blockCache) *index {
	return &index{fanOut: fanOut, bb: bb, bc: bc}
}

// insertRecord appends a new record's coordinate as the next leaf,
// cascading promotions up the spine as levels fill.
func (idx *index) insertRecord(coord dataCoordinate) error {
	return idx.insertAt(0, indexEntry{coord: coord, height: 0})
}

func (idx *index) insertAt(levelIdx int, entry indexEntry) error {
	if levelIdx == len(idx.levels) {
		idx.levels = append(idx.levels, indexLevel{height: levelIdx + 1})
	}
	lvl := &idx.levels[levelIdx]
	lvl.entries = append(lvl.entries, entry)
	if len(lvl.entries) < idx.fanOut {
		return nil
	}

	nodeCoord, err := idx.persistNode(lvl.entries)
	if err != nil {
		return err
	}
	lvl.entries = lvl.entries[:0]
	return idx.insertAt(levelIdx+1, indexEntry{coord: nodeCoord, height: uint8(levelIdx + 1)})
}

// persistNode serializes a full (fanOut entries) node and appends it
// through the compression block buffer, returning the coordinate of its
// first byte, which is also the coordinate by which it is later read
// back with descendPersisted.
func (idx *index) persistNode(entries []indexEntry) (dataCoordinate, error) {
	buf := make([]byte, idx.fanOut*indexEntrySize)
	for i, e := range entries {
		off := i * indexEntrySize
		putDataCoordinate(buf[off:], e.coord)
		buf[off+dataCoordinateSize] = e.height
	}
	return idx.bb.append(buf)
}

// recordCount returns how many records the spine currently accounts for.
func (idx *index) recordCount() uint64 {
	if len(idx.levels) == 0 {
		return 0
	}
	var n uint64
	for height := len(idx.levels); height >= 1; height-- {
		lvl := idx.levels[height-1]
		span := ipow(uint64(idx.fanOut), height-1)
		n += uint64(len(lvl.entries)) * span
	}
	return n
}

// recordAt returns the dataCoordinate of the zero-based k'th record.
// Phase one walks the in-memory spine top-down: at each level, k's share
// of the span either lands on an already-promoted entry (i < occupancy,
// in which case the search either resolves at a leaf or must continue
// inside a persisted subtree via descendPersisted) or falls past every
// promoted entry at every level down to the leaves, in which case the
// record is itself still sitting directly in the in-memory leaf level.
func (idx *index) recordAt(k uint64) (dataCoordinate, error) {
	for height := len(idx.levels); height >= 1; height-- {
		lvl := idx.levels[height-1]
		span := ipow(uint64(idx.fanOut), height-1)
		i := k / span
		rem := k % span
		occupancy := uint64(len(lvl.entries))
		switch {
		case i < occupancy:
			if height == 1 {
				return lvl.entries[i].coord, nil
			}
			return idx.descendPersisted(lvl.entries[i].coord, height-1, rem)
		case i > occupancy:
			return dataCoordinate{}, fmt.Errorf("capturefile: %w", ErrOutOfRange)
		}
		// i == occupancy: k's record is still further down the spine.
		// The promoted children at this level already account for
		// occupancy*span records, so the search continues one level
		// down with exactly the remainder.
		k = rem
	}
	return dataCoordinate{}, fmt.Errorf("capturefile: %w", ErrOutOfRange)
}

// descendPersisted reads a persisted full node of the given height and
// walks down through however many further persisted nodes it takes to
// reach the literal record coordinate for k within that subtree. The
// per-entry height byte stored on disk is never trusted for this walk;
// height is carried explicitly by the caller, since every child of one
// persisted node shares the same height by construction.
func (idx *index) descendPersisted(coord dataCoordinate, height int, k uint64) (dataCoordinate, error) {
	for {
		buf, err := idx.bc.readSpan(idx.bb, coord, idx.fanOut*indexEntrySize)
		if err != nil {
			return dataCoordinate{}, err
		}
		span := ipow(uint64(idx.fanOut), height-1)
		i := k / span
		rem := k % span
		off := int(i) * indexEntrySize
		if off+indexEntrySize > len(buf) {
			return dataCoordinate{}, fmt.Errorf("capturefile: %w", errInternalInconsistent)
		}
		child := getDataCoordinate(buf[off:])
		if height == 1 {
			return child, nil
		}
		coord, height, k = child, height-1, rem
	}
}

// serializeRightmostPath encodes the in-memory spine root-first (from
// the top of the spine down to the leaves), as stored in a master node:
// a u32 level count N, then per level a height byte, a u32 occupancy,
// and occupancy entries of indexEntrySize bytes each.
func (idx *index) serializeRightmostPath() []byte {
	out := make([]byte, 0, 4+len(idx.levels)*(5+idx.fanOut*indexEntrySize))
	countBuf := make([]byte, 4)
	putU32LE(countBuf, uint32(len(idx.levels)))
	out = append(out, countBuf...)
	for i := len(idx.levels) - 1; i >= 0; i-- {
		lvl := idx.levels[i]
		occBuf := make([]byte, 4)
		putU32LE(occBuf, uint32(len(lvl.entries)))
		out = append(out, byte(lvl.height))
		out = append(out, occBuf...)
		for _, e := range lvl.entries {
			eb := make([]byte, indexEntrySize)
			putDataCoordinate(eb, e.coord)
			eb[dataCoordinateSize] = e.height
			out = append(out, eb...)
		}
	}
	return out
}

// parseRightmostPath is serializeRightmostPath's inverse. It returns the
// parsed levels (leaf-first, ready to assign to index.levels).
func parseRightmostPath(b []byte) ([]indexLevel, error) {
	if len(b) < 4 {
		return nil, fmt.Errorf("capturefile: %w", ErrInvalidCaptureFile)
	}
	count := int(u32LE(b))
	b = b[4:]
	levels := make([]indexLevel, count)
	for i := count - 1; i >= 0; i-- {
		if len(b) < 5 {
			return nil, fmt.Errorf("capturefile: %w", ErrInvalidCaptureFile)
		}
		height := int(b[0])
		occ := int(u32LE(b[1:]))
		b = b[5:]
		entries := make([]indexEntry, occ)
		for j := 0; j < occ; j++ {
			if len(b) < indexEntrySize {
				return nil, fmt.Errorf("capturefile: %w", ErrInvalidCaptureFile)
			}
			entries[j] = indexEntry{coord: getDataCoordinate(b), height: b[dataCoordinateSize]}
			b = b[indexEntrySize:]
		}
		levels[i] = indexLevel{height: height, entries: entries}
	}
	return levels, nil
}
