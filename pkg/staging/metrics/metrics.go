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

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	StagingRunsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "nnf_staging_runs_total",
			Help: "Number of staging runs started",
		},
	)

	StagingChunksTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "nnf_staging_chunks_total",
			Help: "Number of chunks the device accepted",
		},
	)

	StagingTimeoutsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "nnf_staging_timeouts_total",
			Help: "Number of staging runs that ended in a timeout",
		},
	)

	StagingErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "nnf_staging_errors_total",
			Help: "Number of staging runs that ended in a device error",
		},
	)

	StagingEchoMismatchesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "nnf_staging_echo_mismatches_total",
			Help: "Number of responses whose header echo did not match the request",
		},
	)

	StagingDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "nnf_staging_duration_seconds",
			Help:    "Wall time of complete staging runs",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
		},
	)
)

func init() {
	prometheus.MustRegister(
		StagingRunsTotal,
		StagingChunksTotal,
		StagingTimeoutsTotal,
		StagingErrorsTotal,
		StagingEchoMismatchesTotal,
		StagingDurationSeconds,
	)
}
