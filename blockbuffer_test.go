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
	"testing"
)

// TestBlockBufferRoundTrip appends enough data to flush several
// compression blocks, then reads every byte back through the
// decompression cache, including spans that straddle block boundaries.
func TestBlockBufferRoundTrip(t *testing.T) {
	f := newTestFile(t)
	const pageSize = 16
	const blockSize = 32
	pf := newPageFile(f, f, pageSize, 0, nil)
	bb := newBlockBuffer(pf, blockSize, nil)
	bc := newBlockCache(pf, blockSize)

	var want bytes.Buffer
	var coords []dataCoordinate
	var lens []int
	for i := 0; i < 20; i++ {
		chunk := bytes.Repeat([]byte{byte('A' + i)}, 7) // 7 bytes each, crosses 32-byte blocks unevenly
		coord, err := bb.append(chunk)
		if err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
		coords = append(coords, coord)
		lens = append(lens, len(chunk))
		want.Write(chunk)
	}

	for i, coord := range coords {
		got, err := bc.readSpan(bb, coord, lens[i])
		if err != nil {
			t.Fatalf("readSpan %d: %v", i, err)
		}
		wantChunk := bytes.Repeat([]byte{byte('A' + i)}, lens[i])
		if !bytes.Equal(got, wantChunk) {
			t.Fatalf("chunk %d = %q, want %q", i, got, wantChunk)
		}
	}
}

func TestDeflateCompressRoundTrip(t *testing.T) {
	f := newTestFile(t)
	pf := newPageFile(f, f, 16, 0, nil)
	bb := newBlockBuffer(pf, 32, nil)
	bc := newBlockCache(pf, 32)

	payload := bytes.Repeat([]byte("the quick brown fox "), 10)
	coord, err := bb.append(payload)
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	// Force the block to flush by appending past the threshold.
	if _, err := bb.append(make([]byte, 64)); err != nil {
		t.Fatalf("append padding: %v", err)
	}
	got, err := bc.readSpan(bb, coord, len(payload))
	if err != nil {
		t.Fatalf("readSpan: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("round trip mismatch: got %d bytes, want %d", len(got), len(payload))
	}
}
