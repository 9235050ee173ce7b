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
	"context"
	"fmt"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/NearNodeFlash/nnf-staging/pkg/mailbox"
	"github.com/NearNodeFlash/nnf-staging/pkg/mmio"
	"github.com/NearNodeFlash/nnf-staging/pkg/staging/metrics"
	"github.com/NearNodeFlash/nnf-staging/pkg/token"
)

func testImage(size int) []byte {
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i)
	}

	return data
}

// newTestStager attaches the given register block in place of the
// /dev/mem mapping and shortens the poll window so timeout scenarios
// finish quickly.
func newTestStager(regs mmio.RegisterBlock, opts Options) *Stager {
	opts.Map = func(base uint64, size uint32) (mmio.RegisterBlock, error) {
		return regs, nil
	}
	if opts.PollWindow == 0 {
		opts.PollWindow = 100 * time.Millisecond
	}
	if opts.PollInterval == 0 {
		opts.PollInterval = 100 * time.Microsecond
	}

	return NewStager(0, logr.Discard(), opts)
}

var _ = Describe("Staging Coordinator", func() {

	var ctx context.Context

	BeforeEach(func() {
		ctx = context.Background()
	})

	Describe("staging a single-chunk image", func() {
		var sim *DeviceSim
		image := testImage(4096)

		BeforeEach(func() {
			sim = NewDeviceSim(DeviceSimConfig{ImageSize: 4096})
			Expect(newTestStager(sim, Options{}).Stage(ctx, image)).To(BeTrue())
		})

		It("transfers the image in one transaction", func() {
			Expect(sim.ChunkSizes).To(Equal([]uint32{4096}))
			Expect(sim.Image).To(Equal(image))
		})

		It("aborts exactly once, before the first request", func() {
			Expect(sim.Aborts).To(Equal(1))
			Expect(sim.Violations).To(BeEmpty())
		})

		It("releases the register window", func() {
			Expect(sim.Closed).To(BeTrue())
		})
	})

	Describe("staging a multi-chunk image", func() {
		It("splits the image at page boundaries", func() {
			sim := NewDeviceSim(DeviceSimConfig{ImageSize: 10000})
			image := testImage(10000)

			Expect(newTestStager(sim, Options{}).Stage(ctx, image)).To(BeTrue())
			Expect(sim.ChunkSizes).To(Equal([]uint32{4096, 4096, 1808}))
			Expect(sim.Image).To(Equal(image))
			Expect(sim.Violations).To(BeEmpty())
		})

		It("tolerates a slow device within the poll window", func() {
			sim := NewDeviceSim(DeviceSimConfig{ImageSize: 8192, ReadyDelay: 5})
			image := testImage(8192)

			Expect(newTestStager(sim, Options{}).Stage(ctx, image)).To(BeTrue())
			Expect(sim.ChunkSizes).To(Equal([]uint32{4096, 4096}))
		})

		It("clamps an over-page chunk size to one page", func() {
			sim := NewDeviceSim(DeviceSimConfig{ImageSize: 8192})

			Expect(newTestStager(sim, Options{ChunkSize: 8192}).Stage(ctx, testImage(8192))).To(BeTrue())
			Expect(sim.ChunkSizes).To(Equal([]uint32{4096, 4096}))
		})
	})

	Describe("staging an empty image", func() {
		It("performs a single header-only transaction", func() {
			sim := NewDeviceSim(DeviceSimConfig{ImageSize: 0})

			Expect(newTestStager(sim, Options{}).Stage(ctx, []byte{})).To(BeTrue())
			Expect(sim.Starts).To(Equal(1))
			Expect(sim.ChunkSizes).To(Equal([]uint32{0}))
			Expect(sim.Requests[0]).To(HaveLen(4))
			Expect(sim.Violations).To(BeEmpty())
		})
	})

	Describe("request framing", func() {
		It("frames the header and little-endian payload words", func() {
			sim := NewDeviceSim(DeviceSimConfig{ImageSize: 8})
			image := []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08}

			Expect(newTestStager(sim, Options{}).Stage(ctx, image)).To(BeTrue())
			Expect(sim.Requests).To(HaveLen(1))
			Expect(sim.Requests[0]).To(Equal([]uint32{
				WireHeader, 6, CommandLoad, 0,
				0x04030201, 0x08070605,
			}))
		})
	})

	Describe("device misbehavior", func() {
		It("reports timeout when the device never becomes ready", func() {
			sim := NewDeviceSim(DeviceSimConfig{ImageSize: 4096, NeverReady: true})

			Expect(newTestStager(sim, Options{}).Stage(ctx, testImage(4096))).To(BeFalse())
			Expect(sim.Starts).To(Equal(1))
			Expect(sim.Closed).To(BeTrue())
		})

		It("reports error when the status register raises ERROR", func() {
			sim := NewDeviceSim(DeviceSimConfig{ImageSize: 4096, StatusError: true})

			Expect(newTestStager(sim, Options{}).Stage(ctx, testImage(4096))).To(BeFalse())
			Expect(sim.Starts).To(Equal(1))
		})

		It("stops after the first response that carries the ERROR flag", func() {
			sim := NewDeviceSim(DeviceSimConfig{ImageSize: 10000, FlagError: true})

			Expect(newTestStager(sim, Options{}).Stage(ctx, testImage(10000))).To(BeFalse())
			Expect(sim.Starts).To(Equal(1))
			Expect(sim.Closed).To(BeTrue())
		})

		It("caps a non-progressing transfer at twice the image size", func() {
			sim := NewDeviceSim(DeviceSimConfig{ImageSize: 4096, ReplayOffset: true})

			Expect(newTestStager(sim, Options{}).Stage(ctx, testImage(4096))).To(BeFalse())

			// The budget trips before any register traffic for the
			// third chunk.
			Expect(sim.Starts).To(Equal(2))

			transferred := uint32(0)
			for _, size := range sim.ChunkSizes {
				transferred += size
			}
			Expect(transferred).To(Equal(uint32(2 * 4096)))
		})

		It("rejects a next offset beyond the image", func() {
			regs := mmio.NewMockRegisterBlock()
			regs.Words[mailbox.StatusOffset] = mailbox.StatusReady

			codec := &scriptedCodec{offsets: []uint32{8192}}
			stager := newTestStager(regs, Options{
				Codec: func(*mailbox.Mailbox, logr.Logger) Codec { return codec },
			})

			Expect(stager.Stage(ctx, testImage(4096))).To(BeFalse())
			Expect(codec.requests).To(Equal(1))
		})

		It("continues past a header echo mismatch and surfaces it", func() {
			sim := NewDeviceSim(DeviceSimConfig{ImageSize: 4096, EchoMismatch: true})
			before := testutil.ToFloat64(metrics.StagingEchoMismatchesTotal)

			Expect(newTestStager(sim, Options{}).Stage(ctx, testImage(4096))).To(BeTrue())
			Expect(testutil.ToFloat64(metrics.StagingEchoMismatchesTotal)).To(Equal(before + 1))
		})

		It("continues past a length echo mismatch and surfaces it", func() {
			sim := NewDeviceSim(DeviceSimConfig{ImageSize: 4096, LengthEchoMismatch: true})
			before := testutil.ToFloat64(metrics.StagingEchoMismatchesTotal)

			Expect(newTestStager(sim, Options{}).Stage(ctx, testImage(4096))).To(BeTrue())
			Expect(testutil.ToFloat64(metrics.StagingEchoMismatchesTotal)).To(Equal(before + 1))
		})
	})

	Describe("resource handling", func() {
		It("fails without register traffic when the mapping fails", func() {
			stager := NewStager(0, logr.Discard(), Options{
				Map: func(base uint64, size uint32) (mmio.RegisterBlock, error) {
					return nil, fmt.Errorf("no such address")
				},
			})

			Expect(stager.Stage(ctx, testImage(4096))).To(BeFalse())
		})

		It("rejects an image that cannot be framed, before any register traffic", func() {
			sim := NewDeviceSim(DeviceSimConfig{ImageSize: 8})

			Expect(newTestStager(sim, Options{}).Stage(ctx, testImage(6))).To(BeFalse())
			Expect(sim.Aborts).To(BeZero())
			Expect(sim.Starts).To(BeZero())
		})

		It("fails fast while another run holds the mailbox token", func() {
			tok := token.New()
			session, err := tok.Acquire()
			Expect(err).NotTo(HaveOccurred())

			sim := NewDeviceSim(DeviceSimConfig{ImageSize: 4096})
			stager := newTestStager(sim, Options{Token: tok})

			Expect(stager.Stage(ctx, testImage(4096))).To(BeFalse())
			Expect(sim.Aborts).To(BeZero())

			session.Release()
			Expect(stager.Stage(ctx, testImage(4096))).To(BeTrue())
		})

		It("gives up when the context is canceled", func() {
			canceled, cancel := context.WithCancel(context.Background())
			cancel()

			sim := NewDeviceSim(DeviceSimConfig{ImageSize: 4096})
			Expect(newTestStager(sim, Options{}).Stage(canceled, testImage(4096))).To(BeFalse())
		})
	})

	Describe("the stub codec", func() {
		It("fails the run without mailbox data traffic", func() {
			writes := []uint32{}
			regs := mmio.NewMockRegisterBlock()
			regs.Words[mailbox.StatusOffset] = mailbox.StatusReady
			regs.OnWrite = func(offset uint32, value uint32) {
				writes = append(writes, offset)
			}

			stager := newTestStager(regs, Options{
				Codec: func(mbox *mailbox.Mailbox, log logr.Logger) Codec {
					return NewStubCodec(log)
				},
			})

			Expect(stager.Stage(ctx, testImage(4096))).To(BeFalse())

			// Only the initial abort reaches the registers.
			Expect(writes).To(Equal([]uint32{mailbox.ControlOffset}))
		})
	})
})

// scriptedCodec feeds the coordinator a canned sequence of next
// offsets.
type scriptedCodec struct {
	offsets  []uint32
	requests int
}

func (c *scriptedCodec) Request(chunk []byte) error {
	c.requests++
	return nil
}

func (c *scriptedCodec) Response() (uint32, error) {
	next := c.offsets[0]
	c.offsets = c.offsets[1:]

	return next, nil
}
