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

// Package mmio provides word-granular access to small memory-mapped
// device register windows.
package mmio

// RegisterBlock is a window of 32-bit device registers. Every access is
// an ordered, uncached, side-effecting operation against device state;
// implementations must not cache, combine, or reorder reads and writes.
//
// Offsets are in bytes from the start of the window and must be
// word-aligned and within the window mapped at creation time.
type RegisterBlock interface {
	// ReadWord reads the 32-bit register at the given byte offset.
	ReadWord(offset uint32) uint32

	// WriteWord writes the 32-bit register at the given byte offset.
	WriteWord(offset uint32, value uint32)

	// Close releases the mapping. The block must not be used afterwards.
	Close() error
}
