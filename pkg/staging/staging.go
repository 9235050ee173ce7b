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

// Package staging transfers a firmware image into a device's staging
// area through a memory-mapped mailbox, one page-bounded chunk per
// transaction. The device answers each chunk with the offset it wants
// next, so the host walks the image at the device's pace until the
// device reports the terminal offset.
package staging

import "errors"

// ErrDeviceError marks failures the device itself reported, as opposed
// to the device going silent.
var ErrDeviceError = errors.New("device reported an error")

// Outcome is the result of one staging run.
type Outcome int

const (
	// OutcomeOK means the device acknowledged the full image.
	OutcomeOK Outcome = iota

	// OutcomeTimeout means the device went silent mid-transfer, or the
	// transfer exceeded its byte budget without reaching the terminal
	// offset.
	OutcomeTimeout

	// OutcomeError means the device reported a failure, either in the
	// status register or in a response.
	OutcomeError
)

func (o Outcome) String() string {
	switch o {
	case OutcomeOK:
		return "ok"
	case OutcomeTimeout:
		return "timeout"
	case OutcomeError:
		return "error"
	}

	return "unknown"
}
