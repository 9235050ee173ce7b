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

// Package mailbox implements the request/response handshake registers
// used to stage firmware into a device. The mailbox is a block of four
// 32-bit registers: control and write-data are written by the host,
// status and read-data are written by the device.
package mailbox

import (
	"context"
	"time"

	"github.com/NearNodeFlash/nnf-staging/pkg/mmio"
)

// Register byte offsets within the mailbox window.
const (
	ControlOffset   = 0x0
	StatusOffset    = 0x4
	WriteDataOffset = 0x8
	ReadDataOffset  = 0xc

	RegisterCount = 4
	RegisterSize  = 4

	// RegionSize is the size of the full mailbox register window.
	RegionSize = RegisterCount * RegisterSize
)

// Control and status register bits.
const (
	ControlAbort = uint32(1) << 0
	ControlGo    = uint32(1) << 31

	StatusError = uint32(1) << 2
	StatusReady = uint32(1) << 31
)

// PollResult classifies the device status at the end of a poll window.
type PollResult int

const (
	PollReady PollResult = iota
	PollError
	PollTimeout
)

func (r PollResult) String() string {
	switch r {
	case PollReady:
		return "ready"
	case PollError:
		return "error"
	case PollTimeout:
		return "timeout"
	}

	return "unknown"
}

// Mailbox drives one mailbox register window. It owns no policy beyond
// the register-level choreography: abort, data in/out with the required
// read acknowledgment, and status polling.
type Mailbox struct {
	regs mmio.RegisterBlock
}

func New(regs mmio.RegisterBlock) *Mailbox {
	return &Mailbox{regs: regs}
}

// Abort clears any transaction a previous, possibly failed, run left
// in flight. It must be issued once before the first request of a run.
func (m *Mailbox) Abort() {
	m.regs.WriteWord(ControlOffset, ControlAbort)
}

// Go starts the transaction that has been loaded through WriteData.
func (m *Mailbox) Go() {
	m.regs.WriteWord(ControlOffset, ControlGo)
}

// WriteData pushes one request word to the device.
func (m *Mailbox) WriteData(value uint32) {
	m.regs.WriteWord(WriteDataOffset, value)
}

// ReadData pulls one response word from the device. Reading the
// read-data register is a read-acknowledge operation: the device holds
// the current word until the host writes zero back, so every read is
// paired with the acknowledgment before any other mailbox access.
func (m *Mailbox) ReadData() uint32 {
	value := m.regs.ReadWord(ReadDataOffset)
	m.regs.WriteWord(ReadDataOffset, 0)

	return value
}

// PollStatus waits for the device to finish the current transaction,
// sleeping interval between status reads for up to the window duration.
// The final classification reads the status register once more: ERROR
// takes priority over READY, and neither bit set means the device never
// completed.
//
// Context cancellation ends the wait early and is reported as a
// timeout; the protocol itself has no cancel signal.
func (m *Mailbox) PollStatus(ctx context.Context, window, interval time.Duration) PollResult {
	for remaining := window; remaining > 0; remaining -= interval {
		select {
		case <-ctx.Done():
			return PollTimeout
		case <-time.After(interval):
		}

		if m.regs.ReadWord(StatusOffset)&StatusReady != 0 {
			break
		}
	}

	status := m.regs.ReadWord(StatusOffset)
	if status&StatusError != 0 {
		return PollError
	}
	if status&StatusReady == 0 {
		return PollTimeout
	}

	return PollReady
}
