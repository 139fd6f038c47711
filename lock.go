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
	"sync"
)

// writerRegistry is the only process-wide state this package keeps: the
// set of absolute paths currently held open for writing, guarded by a
// plain mutex since contention on it is rare and never held across I/O.
var writerRegistry = struct {
	mu    sync.Mutex
	paths map[string]bool
}{paths: make(map[string]bool)}

func acquireWriterSlot(path string) error {
	writerRegistry.mu.Lock()
	defer writerRegistry.mu.Unlock()
	if writerRegistry.paths[path] {
		return fmt.Errorf("capturefile: %w", ErrAlreadyOpen)
	}
	writerRegistry.paths[path] = true
	return nil
}

func releaseWriterSlot(path string) {
	writerRegistry.mu.Lock()
	defer writerRegistry.mu.Unlock()
	delete(writerRegistry.paths, path)
}
