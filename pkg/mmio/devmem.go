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

package mmio

import (
	"fmt"
	"os"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"
)

const devMemPath = "/dev/mem"

// DevMem is a RegisterBlock mapped from physical address space through
// /dev/mem. The file is opened with O_SYNC so the mapping is uncached,
// and each word access goes through sync/atomic so the compiler cannot
// elide, combine, or reorder register operations.
type DevMem struct {
	file   *os.File
	mapped []byte
	window []byte
}

var _ RegisterBlock = &DevMem{}

// MapDevMem maps size bytes of physical address space starting at base.
// The mmap itself must be page aligned; the window returned to the
// caller starts exactly at base.
func MapDevMem(base uint64, size uint32) (*DevMem, error) {
	pageSize := uint64(os.Getpagesize())
	alignedBase := base &^ (pageSize - 1)
	mapLen := int(uint64(size) + (base - alignedBase))

	file, err := os.OpenFile(devMemPath, os.O_RDWR|os.O_SYNC, 0)
	if err != nil {
		return nil, fmt.Errorf("unable to open %s: %w", devMemPath, err)
	}

	mapped, err := unix.Mmap(int(file.Fd()), int64(alignedBase), mapLen,
		unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("unable to map %#x length %d: %w", base, size, err)
	}

	return &DevMem{
		file:   file,
		mapped: mapped,
		window: mapped[base-alignedBase : base-alignedBase+uint64(size)],
	}, nil
}

func (d *DevMem) word(offset uint32) *uint32 {
	return (*uint32)(unsafe.Pointer(&d.window[offset]))
}

func (d *DevMem) ReadWord(offset uint32) uint32 {
	return atomic.LoadUint32(d.word(offset))
}

func (d *DevMem) WriteWord(offset uint32, value uint32) {
	atomic.StoreUint32(d.word(offset), value)
}

func (d *DevMem) Close() error {
	if err := unix.Munmap(d.mapped); err != nil {
		d.file.Close()
		return fmt.Errorf("unable to unmap register window: %w", err)
	}

	return d.file.Close()
}
