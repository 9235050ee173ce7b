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

package staging

import (
	"encoding/binary"
	"fmt"

	"github.com/NearNodeFlash/nnf-staging/pkg/mailbox"
	"github.com/NearNodeFlash/nnf-staging/pkg/mmio"
)

// DeviceSimConfig shapes the behavior of a simulated staging device.
type DeviceSimConfig struct {
	// ImageSize is the number of payload bytes the device expects
	// before it reports the terminal offset.
	ImageSize uint32

	// ReadyDelay is how many status reads the device stays busy for
	// after each request before asserting READY.
	ReadyDelay int

	// NeverReady keeps the status register clear forever.
	NeverReady bool

	// StatusError asserts the ERROR status bit instead of READY.
	StatusError bool

	// FlagError sets the ERROR flag in every response.
	FlagError bool

	// EchoMismatch corrupts the header echo in every response.
	EchoMismatch bool

	// LengthEchoMismatch corrupts the length echo in every response.
	LengthEchoMismatch bool

	// ReplayOffset makes the device ask for offset zero after every
	// chunk, never progressing.
	ReplayOffset bool
}

// DeviceSim is a device-side model of the staging mailbox, attached
// where hardware would be. It accepts request words through the
// write-data register, processes a transaction when GO is set, and
// serves the four-word response through the read-data register with
// the read-acknowledge contract enforced.
type DeviceSim struct {
	cfg DeviceSimConfig

	request  []uint32
	response []uint32
	busy     bool
	busyFor  int
	received uint32

	awaitingAck bool

	// Observability for tests and bring-up.
	Aborts     int
	Starts     int
	Requests   [][]uint32
	ChunkSizes []uint32
	Image      []byte
	Violations []string

	Closed bool
}

var _ mmio.RegisterBlock = &DeviceSim{}

func NewDeviceSim(cfg DeviceSimConfig) *DeviceSim {
	return &DeviceSim{cfg: cfg}
}

func (d *DeviceSim) violate(format string, args ...interface{}) {
	d.Violations = append(d.Violations, fmt.Sprintf(format, args...))
}

func (d *DeviceSim) ReadWord(offset uint32) uint32 {
	switch offset {
	case mailbox.StatusOffset:
		return d.status()

	case mailbox.ReadDataOffset:
		if d.awaitingAck {
			d.violate("read-data read without acknowledging the previous word")
		}
		if len(d.response) == 0 {
			d.violate("read-data read with no response pending")
			return 0
		}

		word := d.response[0]
		d.response = d.response[1:]
		d.awaitingAck = true
		return word

	default:
		d.violate("read of write-only register %#x", offset)
		return 0
	}
}

func (d *DeviceSim) WriteWord(offset uint32, value uint32) {
	if d.awaitingAck && !(offset == mailbox.ReadDataOffset && value == 0) {
		d.violate("register %#x accessed before read acknowledge", offset)
	}

	switch offset {
	case mailbox.ControlOffset:
		if value&mailbox.ControlAbort != 0 {
			d.Aborts++
			d.request = nil
			d.response = nil
			d.busy = false
			d.awaitingAck = false
		}
		if value&mailbox.ControlGo != 0 {
			d.Starts++
			d.process()
		}

	case mailbox.WriteDataOffset:
		d.request = append(d.request, value)

	case mailbox.ReadDataOffset:
		if value != 0 {
			d.violate("non-zero write %#x to read-data", value)
		}
		if !d.awaitingAck {
			d.violate("read acknowledge with no read outstanding")
		}
		d.awaitingAck = false

	default:
		d.violate("write of %#x to read-only register %#x", value, offset)
	}
}

func (d *DeviceSim) Close() error {
	d.Closed = true
	return nil
}

func (d *DeviceSim) status() uint32 {
	if !d.busy {
		return 0
	}
	if d.cfg.NeverReady {
		return 0
	}
	if d.cfg.StatusError {
		return mailbox.StatusError
	}
	if d.busyFor > 0 {
		d.busyFor--
		return 0
	}

	return mailbox.StatusReady
}

// process consumes one queued request and builds the response the
// device will serve once READY.
func (d *DeviceSim) process() {
	if d.Aborts == 0 {
		d.violate("transaction started without an abort")
	}
	if len(d.request) < headerDwords {
		d.violate("transaction started with a short request of %d words", len(d.request))
		d.request = nil
		return
	}

	d.Requests = append(d.Requests, append([]uint32(nil), d.request...))

	header, length := d.request[0], d.request[1]
	if header != WireHeader {
		d.violate("unexpected request header %#x", header)
	}
	if d.request[2] != CommandLoad {
		d.violate("unexpected command %#x", d.request[2])
	}
	if length != uint32(len(d.request)) {
		d.violate("request length %d does not match %d words received", length, len(d.request))
	}

	payload := d.request[headerDwords:]
	for _, word := range payload {
		d.Image = binary.LittleEndian.AppendUint32(d.Image, word)
	}
	d.received += uint32(4 * len(payload))
	d.ChunkSizes = append(d.ChunkSizes, uint32(4*len(payload)))
	d.request = nil

	next := d.received
	flags := ResponseSuccess | ResponseProgress
	switch {
	case d.cfg.ReplayOffset:
		next = 0
	case d.received >= d.cfg.ImageSize:
		next = OffsetSentinel
		flags = ResponseSuccess
	}
	if d.cfg.FlagError {
		flags = ResponseError
	}

	echo := WireHeader
	if d.cfg.EchoMismatch {
		echo = ^WireHeader
	}
	lengthEcho := length
	if d.cfg.LengthEchoMismatch {
		lengthEcho = ^length
	}

	d.response = []uint32{echo, lengthEcho, next, flags}
	d.busy = true
	d.busyFor = d.cfg.ReadyDelay
}
