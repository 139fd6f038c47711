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

	"github.com/klauspost/compress/flate"
)

// blockCache holds the single most recently decompressed compression
// block, keyed by its blockFilePos. There is deliberately only one slot:
// record access in this format is either sequential (in which case one
// slot is all a reader ever needs) or random (in which case caching more
// than one block rarely pays for the memory it costs).
type blockCache struct {
	pf        *pageFile
	blockSize int64

	valid       bool
	pos         int64
	data        []byte
	compressedN int64 // bytes of the compressed stream this block consumed
}

func newBlockCache(pf *pageFile, blockSize int64) *blockCache {
	return &blockCache{pf: pf, blockSize: blockSize}
}

func (bc *blockCache) invalidate() {
	bc.valid = false
}

// blockAt returns the decompressed bytes of the block whose compressed
// form starts at pos, along with the number of compressed bytes it
// occupies (so the caller can find where the next block begins).
func (bc *blockCache) blockAt(pos int64) (data []byte, compressedN int64, err error) {
	if bc.valid && bc.pos == pos {
		return bc.data, bc.compressedN, nil
	}
	data, compressedN, err = decompressBlock(bc.pf, pos, bc.blockSize)
	if err != nil {
		return nil, 0, err
	}
	bc.valid = true
	bc.pos = pos
	bc.data = data
	bc.compressedN = compressedN
	return data, compressedN, nil
}

// readSpan reads n logical (decompressed) bytes starting at start,
// transparently walking across however many compression blocks the span
// crosses. Once it reaches the block currently being staged (identified
// by blockFilePos == pf.fileLimit), it is served straight out of live
// rather than decompressed, since it was never compressed to begin with.
func (bc *blockCache) readSpan(live *blockBuffer, start dataCoordinate, n int) ([]byte, error) {
	data, _, err := bc.readSpanFrom(live, start, n)
	return data, err
}

// readSpanFrom is readSpan plus the dataCoordinate immediately following
// the bytes read, so a caller that reads a length prefix can locate the
// payload that follows it without re-deriving the walk.
func (bc *blockCache) readSpanFrom(live *blockBuffer, start dataCoordinate, n int) ([]byte, dataCoordinate, error) {
	out := make([]byte, 0, n)
	pos := start.blockFilePos
	off := int(start.offsetInBlock)

	for len(out) < n {
		var block []byte
		if pos == bc.pf.fileLimit {
			block = live.buf
		} else {
			data, _, err := bc.blockAt(pos)
			if err != nil {
				return nil, dataCoordinate{}, err
			}
			block = data
		}
		if off > len(block) {
			return nil, dataCoordinate{}, fmt.Errorf("capturefile: %w", errInternalInconsistent)
		}
		avail := block[off:]
		take := n - len(out)
		if take > len(avail) {
			take = len(avail)
		}
		out = append(out, avail[:take]...)
		off += take
		if len(out) == n {
			break
		}
		if pos == bc.pf.fileLimit {
			// Reached the staging block and still short: the data this
			// span describes does not exist yet.
			return nil, dataCoordinate{}, fmt.Errorf("capturefile: %w", errInternalInconsistent)
		}
		_, compressedN, err := bc.blockAt(pos)
		if err != nil {
			return nil, dataCoordinate{}, err
		}
		pos += compressedN
		off = 0
	}
	return out, dataCoordinate{blockFilePos: pos, offsetInBlock: uint32(off)}, nil
}

// countingReader adapts a pageFile region, starting at offset, to
// io.Reader and io.ByteReader. Implementing ByteReader matters: both
// compress/flate and klauspost/compress/flate skip their own internal
// buffering when the source already satisfies io.ByteReader, so the
// decompressor consumes exactly the compressed bytes of one deflate
// stream and nothing past its end block. n tracks that exact count,
// which is how the cache learns where the next compression block starts
// without the format needing to store a length field anywhere.
type countingReader struct {
	pf     *pageFile
	offset int64
	n      int64
}

func (r *countingReader) available() int64 {
	return r.pf.fileLimit - (r.offset + r.n)
}

func (r *countingReader) Read(p []byte) (int, error) {
	avail := r.available()
	if avail <= 0 {
		return 0, io.EOF
	}
	want := int64(len(p))
	if want > avail {
		want = avail
	}
	b, err := r.pf.readExact(r.offset+r.n, int(want))
	if err != nil {
		return 0, err
	}
	copy(p, b)
	r.n += int64(len(b))
	return len(b), nil
}

func (r *countingReader) ReadByte() (byte, error) {
	if r.available() <= 0 {
		return 0, io.EOF
	}
	b, err := r.pf.readExact(r.offset+r.n, 1)
	if err != nil {
		return 0, err
	}
	r.n++
	return b[0], nil
}

// decompressBlock inflates one compression block starting at pos, and
// reports how many compressed bytes it consumed.
func decompressBlock(pf *pageFile, pos int64, blockSize int64) ([]byte, int64, error) {
	cr := &countingReader{pf: pf, offset: pos}
	fr := flate.NewReader(cr)
	defer fr.Close()

	out := make([]byte, 0, blockSize)
	buf := make([]byte, 4096)
	for {
		n, err := fr.Read(buf)
		out = append(out, buf[:n]...)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, 0, fmt.Errorf("capturefile: decompress: %w", err)
		}
	}
	return out, cr.n, nil
}
