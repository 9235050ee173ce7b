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

// MockRegisterBlock is an in-memory register file. A device model can
// attach OnRead/OnWrite hooks to react to accesses the way hardware
// would; without hooks it behaves as plain backing store.
type MockRegisterBlock struct {
	Words map[uint32]uint32

	// OnRead, if set, produces the value returned for a read. The
	// backing store is not consulted.
	OnRead func(offset uint32) uint32

	// OnWrite, if set, observes every write after the backing store
	// is updated.
	OnWrite func(offset uint32, value uint32)

	Closed bool
}

var _ RegisterBlock = &MockRegisterBlock{}

func NewMockRegisterBlock() *MockRegisterBlock {
	return &MockRegisterBlock{Words: make(map[uint32]uint32)}
}

func (m *MockRegisterBlock) ReadWord(offset uint32) uint32 {
	if m.OnRead != nil {
		return m.OnRead(offset)
	}

	return m.Words[offset]
}

func (m *MockRegisterBlock) WriteWord(offset uint32, value uint32) {
	m.Words[offset] = value
	if m.OnWrite != nil {
		m.OnWrite(offset, value)
	}
}

func (m *MockRegisterBlock) Close() error {
	m.Closed = true
	return nil
}
