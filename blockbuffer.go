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
	"bytes"
	"fmt"

	"github.com/klauspost/compress/flate"
)

// blockBuffer is the in-memory accumulator of uncompressed bytes (records
// and index nodes alike) described as the compression block buffer. Its
// nominal disk position, while a block is still being staged, is always
// the enclosing pageFile's current fileLimit: file_limit never advances
// except by flushing a full block's compressed bytes as one atomic
// pageFile.append, so a coordinate taken mid-block stays valid once the
// block is eventually flushed.
type blockBuffer struct {
	pf        *pageFile
	blockSize int64
	buf       []byte // len(buf) < blockSize between calls to append
}

func newBlockBuffer(pf *pageFile, blockSize int64, restored []byte) *blockBuffer {
	buf := make([]byte, len(restored))
	copy(buf, restored)
	return &blockBuffer{pf: pf, blockSize: blockSize, buf: buf}
}

// append adds data to the buffer, flushing (and compressing) as many full
// blocks as data's size requires. It returns the dataCoordinate of data's
// first byte.
func (bb *blockBuffer) append(data []byte) (dataCoordinate, error) {
	coord := dataCoordinate{blockFilePos: bb.pf.fileLimit, offsetInBlock: uint32(len(bb.buf))}
	bb.buf = append(bb.buf, data...)
	for int64(len(bb.buf)) >= bb.blockSize {
		if err := bb.flushOneBlock(); err != nil {
			return dataCoordinate{}, err
		}
	}
	return coord, nil
}

func (bb *blockBuffer) flushOneBlock() error {
	block := bb.buf[:bb.blockSize]
	compressed, err := deflateCompress(block)
	if err != nil {
		return err
	}
	if err := bb.pf.append(compressed); err != nil {
		return err
	}
	rest := make([]byte, len(bb.buf)-int(bb.blockSize))
	copy(rest, bb.buf[bb.blockSize:])
	bb.buf = rest
	return nil
}

// deflateCompress compresses b as a single, self-terminated raw DEFLATE
// stream (RFC 1951, no zlib/gzip wrapper), using klauspost/compress's
// faster drop-in for compress/flate. The output is byte-for-byte a valid
// deflate stream regardless of which conformant implementation produced
// it, which is what keeps capture files interchangeable.
func deflateCompress(b []byte) ([]byte, error) {
	var out bytes.Buffer
	w, err := flate.NewWriter(&out, flate.DefaultCompression)
	if err != nil {
		return nil, fmt.Errorf("capturefile: compress: %w", err)
	}
	if _, err := w.Write(b); err != nil {
		return nil, fmt.Errorf("capturefile: compress: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("capturefile: compress: %w", err)
	}
	return out.Bytes(), nil
}
