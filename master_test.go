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

import "testing"

func TestSerialNewer(t *testing.T) {
	cases := []struct {
		a, b uint32
		want bool
	}{
		{1, 0, true},
		{0, 1, false},
		{0, 0, false},
		{0, 0xFFFFFFFF, true},        // wraparound: 0 is newer than the max serial
		{0xFFFFFFFF, 0, false},
		{5, 5, false},
	}
	for _, c := range cases {
		if got := serialNewer(c.a, c.b); got != c.want {
			t.Errorf("serialNewer(%d, %d) = %v, want %v", c.a, c.b, got, c.want)
		}
	}
}

func TestMasterSerializeParseRoundTrip(t *testing.T) {
	const pageSize = 512
	const blockSize = 128

	m := masterNode{
		serial:              7,
		fileLimit:           1234,
		compressionBlockLen: 10,
		metadataPtr:         dataCoordinate{blockFilePos: 99, offsetInBlock: 3},
		levels: []indexLevel{
			{height: 1, entries: []indexEntry{{coord: dataCoordinate{blockFilePos: 1, offsetInBlock: 2}, height: 0}}},
		},
		partialPage: make([]byte, pageSize),
		block:       make([]byte, blockSize),
	}
	copy(m.partialPage, []byte("partial page contents"))
	copy(m.block, []byte("block contents"))

	buf, err := serializeMaster(pageSize, blockSize, m)
	if err != nil {
		t.Fatalf("serializeMaster: %v", err)
	}
	if int64(len(buf)) != masterSlotSize(pageSize, blockSize) {
		t.Fatalf("len(buf) = %d, want %d", len(buf), masterSlotSize(pageSize, blockSize))
	}

	got, ok := parseMaster(buf, pageSize, blockSize)
	if !ok {
		t.Fatal("parseMaster reported invalid CRC")
	}
	if got.serial != m.serial {
		t.Errorf("serial = %d, want %d", got.serial, m.serial)
	}
	if got.fileLimit != m.fileLimit {
		t.Errorf("fileLimit = %d, want %d", got.fileLimit, m.fileLimit)
	}
	if got.compressionBlockLen != m.compressionBlockLen {
		t.Errorf("compressionBlockLen = %d, want %d", got.compressionBlockLen, m.compressionBlockLen)
	}
	if got.metadataPtr != m.metadataPtr {
		t.Errorf("metadataPtr = %+v, want %+v", got.metadataPtr, m.metadataPtr)
	}
	if len(got.levels) != 1 || len(got.levels[0].entries) != 1 {
		t.Fatalf("levels = %+v", got.levels)
	}
}

func TestParseMasterRejectsCorruptCRC(t *testing.T) {
	const pageSize = 512
	const blockSize = 128
	m := masterNode{serial: 1, partialPage: make([]byte, pageSize), block: make([]byte, blockSize)}
	buf, err := serializeMaster(pageSize, blockSize, m)
	if err != nil {
		t.Fatalf("serializeMaster: %v", err)
	}
	buf[100] ^= 0xFF // corrupt a byte outside the CRC field
	if _, ok := parseMaster(buf, pageSize, blockSize); ok {
		t.Error("parseMaster accepted a corrupted slot")
	}
}
