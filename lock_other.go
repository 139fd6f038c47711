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

//go:build !(linux || darwin || freebsd || netbsd || openbsd)

package capturefile

import "os"

// flockFile is a no-op on platforms without flock support; UseOSLocking
// silently has no effect there, the same way it would for any advisory
// lock this package cannot express on a given OS.
func flockFile(f *os.File, exclusive bool) error { return nil }

func funlockFile(f *os.File) error { return nil }
