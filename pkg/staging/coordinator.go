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
	"time"

	"github.com/go-logr/logr"

	"github.com/NearNodeFlash/nnf-staging/pkg/image"
	"github.com/NearNodeFlash/nnf-staging/pkg/mailbox"
	"github.com/NearNodeFlash/nnf-staging/pkg/mmio"
	"github.com/NearNodeFlash/nnf-staging/pkg/staging/metrics"
	"github.com/NearNodeFlash/nnf-staging/pkg/token"
)

const (
	// DefaultPollWindow bounds how long the device may take to finish
	// one transaction.
	DefaultPollWindow = 10 * time.Second

	// DefaultPollInterval is the sleep between status reads while the
	// device works. A cooperative wait, not a tight spin.
	DefaultPollInterval = time.Millisecond
)

// MapFunc maps the mailbox register window at a physical base address.
type MapFunc func(base uint64, size uint32) (mmio.RegisterBlock, error)

// CodecFunc builds the codec a run will use on its freshly mapped
// mailbox.
type CodecFunc func(mbox *mailbox.Mailbox, log logr.Logger) Codec

// Options adjusts a Stager. The zero value selects production
// defaults: /dev/mem mapping, the wire codec, and the fixed protocol
// timeouts.
type Options struct {
	PollWindow   time.Duration
	PollInterval time.Duration
	ChunkSize    uint32
	Map          MapFunc
	Codec        CodecFunc
	Token        *token.Token
}

// Stager drives complete staging runs against one mailbox. Runs are
// serialized by the exclusive-access token: the mailbox is a singleton
// hardware resource, and a second concurrent run fails fast rather
// than queue.
type Stager struct {
	base  uint64
	log   logr.Logger
	token *token.Token

	pollWindow   time.Duration
	pollInterval time.Duration
	chunkSize    uint32

	mapRegisters MapFunc
	newCodec     CodecFunc
}

// NewStager returns a Stager for the mailbox register block at the
// given physical base address.
func NewStager(base uint64, log logr.Logger, opts Options) *Stager {
	s := &Stager{
		base:         base,
		log:          log,
		token:        opts.Token,
		pollWindow:   opts.PollWindow,
		pollInterval: opts.PollInterval,
		chunkSize:    opts.ChunkSize,
		mapRegisters: opts.Map,
		newCodec:     opts.Codec,
	}

	if s.token == nil {
		s.token = token.New()
	}
	if s.pollWindow == 0 {
		s.pollWindow = DefaultPollWindow
	}
	if s.pollInterval == 0 {
		s.pollInterval = DefaultPollInterval
	}
	if s.chunkSize > PageSize {
		// One page per transaction is a protocol limit, not a tunable.
		log.Info("Requested chunk size exceeds one page, clamping",
			"requested", s.chunkSize, "limit", PageSize)
		s.chunkSize = PageSize
	}
	if s.chunkSize == 0 {
		s.chunkSize = PageSize
	}
	if s.mapRegisters == nil {
		s.mapRegisters = func(base uint64, size uint32) (mmio.RegisterBlock, error) {
			return mmio.MapDevMem(base, size)
		}
	}
	if s.newCodec == nil {
		s.newCodec = NewWireCodec
	}

	return s
}

// Stage transfers data into the device's staging area and reports
// whether the device acknowledged the complete image. The register
// window is mapped for the duration of the run and released on every
// exit path. A mapping failure, or an image that cannot be framed for
// the mailbox, is fatal before any register is touched.
func (s *Stager) Stage(ctx context.Context, data []byte) bool {
	session, err := s.token.Acquire()
	if err != nil {
		s.log.Error(err, "Staging run already in flight")
		return false
	}
	defer session.Release()

	log := s.log.WithValues("session", session.ID(), "totalSize", len(data))
	metrics.StagingRunsTotal.Inc()

	if err := image.Check(data); err != nil {
		log.Error(err, "Image failed pre-flight checks")
		return false
	}

	regs, err := s.mapRegisters(s.base, mailbox.RegionSize)
	if err != nil {
		log.Error(err, "Unable to map mailbox registers", "base", s.base)
		return false
	}
	defer regs.Close()

	start := time.Now()
	outcome := s.run(ctx, mailbox.New(regs), log, data)
	metrics.StagingDurationSeconds.Observe(time.Since(start).Seconds())

	switch outcome {
	case OutcomeTimeout:
		metrics.StagingTimeoutsTotal.Inc()
	case OutcomeError:
		metrics.StagingErrorsTotal.Inc()
	}

	if outcome != OutcomeOK {
		log.Info("Staging failed", "outcome", outcome.String())
		return false
	}

	log.Info("Staging complete", "duration", time.Since(start).String())
	return true
}

// run is the transaction loop. The device dictates the walk by
// returning the next offset it wants; the host enforces two safety
// caps, the per-transaction poll window and the cumulative byte
// budget of twice the image size, so a misbehaving device cannot keep
// the transfer alive forever.
func (s *Stager) run(ctx context.Context, mbox *mailbox.Mailbox, log logr.Logger, data []byte) Outcome {
	codec := s.newCodec(mbox, log)
	totalSize := uint32(len(data))
	budget := 2 * uint64(totalSize)

	// Clear any transaction left behind by a previous, possibly
	// failed, run.
	mbox.Abort()

	transferred := uint64(0)
	sentEmpty := false

	for offset := uint32(0); offset != OffsetSentinel; {
		if offset > totalSize {
			log.Info("Device requested an offset beyond the image", "offset", offset)
			return OutcomeError
		}

		chunkSize := totalSize - offset
		if chunkSize > s.chunkSize {
			chunkSize = s.chunkSize
		}

		// The budget check comes before any register traffic for the
		// chunk. An empty chunk carries no bytes against the budget,
		// so it is allowed once; a device that keeps asking for the
		// image tail is making no progress.
		if transferred+uint64(chunkSize) > budget {
			log.Info("Transfer budget exhausted",
				"transferred", transferred, "budget", budget)
			return OutcomeTimeout
		}
		if chunkSize == 0 {
			if sentEmpty {
				log.Info("Device is not consuming data", "offset", offset)
				return OutcomeTimeout
			}
			sentEmpty = true
		}

		if err := codec.Request(data[offset : offset+chunkSize]); err != nil {
			log.Error(err, "Unable to issue staging request", "offset", offset)
			return OutcomeError
		}

		if result := mbox.PollStatus(ctx, s.pollWindow, s.pollInterval); result != mailbox.PollReady {
			log.Info("Transaction did not complete", "offset", offset, "result", result.String())
			if result == mailbox.PollError {
				return OutcomeError
			}
			return OutcomeTimeout
		}

		transferred += uint64(chunkSize)
		metrics.StagingChunksTotal.Inc()

		next, err := codec.Response()
		if err != nil {
			log.Error(err, "Staging response failed", "offset", offset)
			return OutcomeError
		}

		offset = next
	}

	log.V(1).Info("Transfer finished", "bytes", transferred)
	return OutcomeOK
}
