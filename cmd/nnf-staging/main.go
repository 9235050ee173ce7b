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

// nnf-staging stages a firmware image into a device over its
// memory-mapped mailbox and exits 0 only if the device accepted the
// complete image.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ghodss/yaml"
	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/NearNodeFlash/nnf-staging/cmd/nnf-staging/version"
	"github.com/NearNodeFlash/nnf-staging/pkg/image"
	"github.com/NearNodeFlash/nnf-staging/pkg/mmio"
	"github.com/NearNodeFlash/nnf-staging/pkg/staging"
)

// config is the YAML config file schema. Command line flags override
// anything set here.
type config struct {
	Base                     string `json:"base"`
	Image                    string `json:"image"`
	PollWindowMilliseconds   int    `json:"pollWindowMilliseconds"`
	PollIntervalMilliseconds int    `json:"pollIntervalMilliseconds"`
	ChunkSize                uint32 `json:"chunkSize"`
	MetricsAddr              string `json:"metricsAddr"`
}

type options struct {
	configPath   string
	base         string
	imagePath    string
	pollWindow   time.Duration
	pollInterval time.Duration
	chunkSize    uint
	metricsAddr  string
	mock         bool
	development  bool
}

func getOptions() *options {
	opts := &options{}

	flag.StringVar(&opts.configPath, "config", "", "path to a YAML config file")
	flag.StringVar(&opts.base, "base", "", "physical base address of the mailbox register block, hex")
	flag.StringVar(&opts.imagePath, "image", "", "path to the firmware image to stage")
	flag.DurationVar(&opts.pollWindow, "timeout", 0, "per-transaction wait for the device, e.g. 10s")
	flag.DurationVar(&opts.pollInterval, "poll-interval", 0, "sleep between status reads, e.g. 1ms")
	flag.UintVar(&opts.chunkSize, "chunk-size", 0, "bytes per transaction, at most one page")
	flag.StringVar(&opts.metricsAddr, "metrics-addr", "", "serve prometheus metrics on this address while staging")
	flag.BoolVar(&opts.mock, "mock", false, "stage against a simulated device instead of hardware")
	flag.BoolVar(&opts.development, "development", false, "development logger with debug output")
	flag.Parse()

	return opts
}

func (opts *options) merge(cfg *config) {
	if opts.base == "" {
		opts.base = cfg.Base
	}
	if opts.imagePath == "" {
		opts.imagePath = cfg.Image
	}
	if opts.pollWindow == 0 {
		opts.pollWindow = time.Duration(cfg.PollWindowMilliseconds) * time.Millisecond
	}
	if opts.pollInterval == 0 {
		opts.pollInterval = time.Duration(cfg.PollIntervalMilliseconds) * time.Millisecond
	}
	if opts.chunkSize == 0 {
		opts.chunkSize = uint(cfg.ChunkSize)
	}
	if opts.metricsAddr == "" {
		opts.metricsAddr = cfg.MetricsAddr
	}
}

func loadConfig(path string) (*config, error) {
	cfg := &config{}
	if path == "" {
		return cfg, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("unable to read config: %w", err)
	}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("unable to parse config: %w", err)
	}

	return cfg, nil
}

func parseBase(s string) (uint64, error) {
	return strconv.ParseUint(strings.TrimPrefix(strings.ToLower(s), "0x"), 16, 64)
}

func newLogger(development bool) (logr.Logger, error) {
	newZap := zap.NewProduction
	if development {
		newZap = zap.NewDevelopment
	}

	zapLog, err := newZap()
	if err != nil {
		return logr.Logger{}, err
	}

	return zapr.NewLogger(zapLog), nil
}

func serveMetrics(addr string, log logr.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil {
			log.Error(err, "Metrics endpoint failed", "addr", addr)
		}
	}()
}

func main() {
	opts := getOptions()

	log, err := newLogger(opts.development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "unable to create logger: %v\n", err)
		os.Exit(1)
	}

	log.Info("NNF Firmware Staging", "version", version.BuildVersion())

	cfg, err := loadConfig(opts.configPath)
	if err != nil {
		log.Error(err, "Unable to load config", "path", opts.configPath)
		os.Exit(1)
	}
	opts.merge(cfg)

	if opts.imagePath == "" {
		log.Info("No firmware image given; use -image")
		os.Exit(1)
	}

	img, err := image.Load(opts.imagePath)
	if err != nil {
		log.Error(err, "Unable to load firmware image")
		os.Exit(1)
	}

	stagingOpts := staging.Options{
		PollWindow:   opts.pollWindow,
		PollInterval: opts.pollInterval,
		ChunkSize:    uint32(opts.chunkSize),
	}

	base := uint64(0)
	if opts.mock {
		// Bring-up mode: attach the device model where the register
		// window would be.
		sim := staging.NewDeviceSim(staging.DeviceSimConfig{ImageSize: img.Size()})
		stagingOpts.Map = func(base uint64, size uint32) (mmio.RegisterBlock, error) {
			return sim, nil
		}
	} else {
		if opts.base == "" {
			log.Info("No mailbox base address given; use -base")
			os.Exit(1)
		}

		base, err = parseBase(opts.base)
		if err != nil {
			log.Error(err, "Unable to parse mailbox base address", "base", opts.base)
			os.Exit(1)
		}
	}

	if opts.metricsAddr != "" {
		serveMetrics(opts.metricsAddr, log)
	}

	stager := staging.NewStager(base, log, stagingOpts)
	if !stager.Stage(context.Background(), img.Data) {
		os.Exit(1)
	}
}
