/*
 * Copyright 2024 Hewlett Packard Enterprise Development LP
 * Other additional copyright holders may be indicated within.
 *
 * The entirety of this work is licensed under the Apache License,
 * Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.
 *
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package image loads firmware images and applies the pre-flight
// checks the staging mailbox requires. Validation of the image
// contents (signatures, revision checks) happens upstream; this
// package only guarantees the buffer can be framed onto the wire.
package image

import (
	"fmt"
	"math"
	"os"
)

// Image is an immutable firmware image ready for staging. The staging
// code reads slices of Data and never mutates it.
type Image struct {
	Data []byte
}

// Size returns the image size for the staging byte budget.
func (i *Image) Size() uint32 {
	return uint32(len(i.Data))
}

// Load reads a firmware image from path. Mailbox framing is
// dword-granular and offsets are 32-bit, so the image size must be a
// multiple of 4 and fit in a uint32.
func Load(path string) (*Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("unable to read image: %w", err)
	}

	if err := Check(data); err != nil {
		return nil, fmt.Errorf("image %s: %w", path, err)
	}

	return &Image{Data: data}, nil
}

// Check verifies that a buffer can be framed for the mailbox.
func Check(data []byte) error {
	if uint64(len(data)) > math.MaxUint32 {
		return fmt.Errorf("image of %d bytes exceeds the 32-bit offset space", len(data))
	}
	if len(data)%4 != 0 {
		return fmt.Errorf("image of %d bytes is not dword aligned", len(data))
	}

	return nil
}
