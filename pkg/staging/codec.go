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
	"bytes"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/HewlettPackard/structex"
	"github.com/go-logr/logr"

	"github.com/NearNodeFlash/nnf-staging/pkg/mailbox"
	"github.com/NearNodeFlash/nnf-staging/pkg/staging/metrics"
)

// Codec serializes staging requests onto a mailbox and deserializes
// the device's replies. The coordinator drives exactly one codec per
// run; implementations carry no state across transactions.
type Codec interface {
	// Request loads one chunk of the image into the mailbox and starts
	// the transaction. len(chunk) must be a multiple of 4.
	Request(chunk []byte) error

	// Response reads the device's reply and returns the offset of the
	// next chunk the device wants, OffsetSentinel once the device has
	// the whole image.
	Response() (uint32, error)
}

type wireCodec struct {
	mbox *mailbox.Mailbox
	log  logr.Logger

	// lastLength is the DwordLength of the request in flight, kept to
	// verify the length echo in the response.
	lastLength uint32
}

var _ Codec = &wireCodec{}

// NewWireCodec returns the production codec for the staging wire
// format.
func NewWireCodec(mbox *mailbox.Mailbox, log logr.Logger) Codec {
	return &wireCodec{mbox: mbox, log: log}
}

func (c *wireCodec) Request(chunk []byte) error {
	if len(chunk)%4 != 0 {
		return fmt.Errorf("chunk of %d bytes is not dword aligned", len(chunk))
	}

	header := wireRequest{
		Header:      WireHeader,
		DwordLength: uint32(len(chunk)/4) + headerDwords,
		Command:     CommandLoad,
	}

	raw, err := structex.EncodeByteBuffer(header)
	if err != nil {
		return fmt.Errorf("unable to encode request header: %w", err)
	}

	c.lastLength = header.DwordLength

	for i := 0; i < len(raw); i += 4 {
		c.mbox.WriteData(binary.LittleEndian.Uint32(raw[i:]))
	}
	for i := 0; i < len(chunk); i += 4 {
		c.mbox.WriteData(binary.LittleEndian.Uint32(chunk[i:]))
	}

	c.mbox.Go()

	return nil
}

func (c *wireCodec) Response() (uint32, error) {
	raw := make([]byte, 0, 4*mailbox.RegisterSize)
	for i := 0; i < 4; i++ {
		raw = binary.LittleEndian.AppendUint32(raw, c.mbox.ReadData())
	}

	response := wireResponse{}
	if err := structex.DecodeByteBuffer(bytes.NewBuffer(raw), &response); err != nil {
		return 0, fmt.Errorf("unable to decode response: %w", err)
	}

	// A stale echo is tolerated; the device may complete a transaction
	// while the previous reply is still being drained. Surface it for
	// diagnostics and keep going.
	if response.HeaderEcho != WireHeader || response.LengthEcho != c.lastLength {
		metrics.StagingEchoMismatchesTotal.Inc()
		c.log.Info("Response echo mismatch",
			"header", fmt.Sprintf("%#x", response.HeaderEcho),
			"expectedHeader", fmt.Sprintf("%#x", WireHeader),
			"length", response.LengthEcho,
			"expectedLength", c.lastLength)
	}

	if response.Flags&ResponseError != 0 {
		return 0, fmt.Errorf("response flags %#x: %w", response.Flags, ErrDeviceError)
	}

	return response.NextOffset, nil
}

type stubCodec struct {
	log  logr.Logger
	once sync.Once
}

var _ Codec = &stubCodec{}

// NewStubCodec returns a codec that accepts requests without touching
// the mailbox and fails every response. It stands in for the wire
// codec on hardware whose staging protocol is not yet enabled.
func NewStubCodec(log logr.Logger) Codec {
	return &stubCodec{log: log}
}

func (c *stubCodec) Request(chunk []byte) error {
	c.once.Do(func() {
		c.log.V(1).Info("Staging mailbox request encoding is not implemented")
	})

	return nil
}

func (c *stubCodec) Response() (uint32, error) {
	return 0, fmt.Errorf("staging response handling is not implemented: %w", ErrDeviceError)
}
