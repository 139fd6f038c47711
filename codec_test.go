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

func TestU32LERoundTrip(t *testing.T) {
	for _, v := range []uint32{0, 1, 0xFF, 0x1234, 0xFFFFFFFF} {
		b := make([]byte, 4)
		putU32LE(b, v)
		if got := u32LE(b); got != v {
			t.Errorf("u32LE(putU32LE(%#x)) = %#x", v, got)
		}
	}
}

func TestU64LERoundTrip(t *testing.T) {
	for _, v := range []uint64{0, 1, 0xFF, 0x123456789A, 0xFFFFFFFFFFFFFFFF} {
		b := make([]byte, 8)
		putU64LE(b, v)
		if got := u64LE(b); got != v {
			t.Errorf("u64LE(putU64LE(%#x)) = %#x", v, got)
		}
	}
}

func TestU32LEByteOrder(t *testing.T) {
	b := make([]byte, 4)
	putU32LE(b, 0x04030201)
	want := []byte{0x01, 0x02, 0x03, 0x04}
	if !bytes.Equal(b, want) {
		t.Errorf("putU32LE(0x04030201) = % x, want % x", b, want)
	}
}

func TestCRC32IEEEKnownVector(t *testing.T) {
	// The canonical "123456789" check value for this CRC variant.
	if got := crc32IEEE([]byte("123456789")); got != 0xCBF43926 {
		t.Errorf("crc32IEEE(123456789) = %#x, want %#x", got, 0xCBF43926)
	}
}

func TestLengthPrefixed(t *testing.T) {
	b := lengthPrefixed([]byte("hello"))
	if got, want := u32LE(b), uint32(5); got != want {
		t.Fatalf("length prefix = %d, want %d", got, want)
	}
	if got, want := string(b[4:]), "hello"; got != want {
		t.Fatalf("payload = %q, want %q", got, want)
	}
}
