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

// dataCoordinate locates a byte within the decompressed stream of record
// and index-node bytes: the file offset of the compression block it falls
// in, plus that block's own offset once decompressed.
//
// By convention, while a compression block is still being staged in
// memory, its blockFilePos is the pageFile's current fileLimit: the
// position the block will occupy once flushed. Coordinates taken during
// staging are therefore stable across the flush, without rewriting.
type dataCoordinate struct {
	blockFilePos  int64
	offsetInBlock uint32
}

// zeroCoordinate is the "no metadata" / "no child" sentinel.
var zeroCoordinate = dataCoordinate{}

func (c dataCoordinate) isZero() bool { return c == zeroCoordinate }

const dataCoordinateSize = 12 // 8 (u64) + 4 (u32)

func putDataCoordinate(b []byte, c dataCoordinate) {
	putU64LE(b, uint64(c.blockFilePos))
	putU32LE(b[8:], c.offsetInBlock)
}

func getDataCoordinate(b []byte) dataCoordinate {
	return dataCoordinate{
		blockFilePos:  int64(u64LE(b)),
		offsetInBlock: u32LE(b[8:]),
	}
}

// ipow returns base raised to the (non-negative) exponent exp, using
// uint64 arithmetic. The index never needs this for anything beyond
// fanOut^height, both of which are small enough that this never
// overflows for any file this library can address.
func ipow(base uint64, exp int) uint64 {
	result := uint64(1)
	for ; exp > 0; exp-- {
		result *= base
	}
	return result
}
