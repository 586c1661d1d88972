/*
   Copyright The Soci Snapshotter Authors.

   Licensed under the Apache License, Version 2.0 (the "License");
   you may not use this file except in compliance with the License.
   You may obtain a copy of the License at

       http://www.apache.org/licenses/LICENSE-2.0

   Unless required by applicable law or agreed to in writing, software
   distributed under the License is distributed on an "AS IS" BASIS,
   WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
   See the License for the specific language governing permissions and
   limitations under the License.
*/

package commonmetrics

import (
	"sync"
	"time"

	"github.com/awslabs/soci-inflate/compression"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	// OperationLatencyKeyMilliseconds is the key for operation latency metrics in milliseconds.
	OperationLatencyKeyMilliseconds = "operation_duration_milliseconds"

	// BytesDecodedKey is the key for the number of decompressed bytes produced.
	BytesDecodedKey = "bytes_decoded_total"

	// BlocksKey is the key for the number of DEFLATE blocks decoded.
	BlocksKey = "blocks_total"

	// MembersKey is the key for the number of gzip members verified.
	MembersKey = "members_total"

	// ErrorsKey is the key for the number of decode errors.
	ErrorsKey = "errors_total"

	namespace = "soci"
	subsystem = "inflate"
)

// Lists all operation labels.
const (
	Decompress = "decompress"
	Test       = "test"
	BuildIndex = "build_index"
	Extract    = "extract"
	Fetch      = "remote_fetch"
)

var (
	// Buckets for OperationLatency metrics.
	latencyBucketsMilliseconds = []float64{1, 2, 4, 8, 16, 32, 64, 128, 256, 512, 1024, 2048, 4096, 8192, 16384} // in milliseconds

	// operationLatencyMilliseconds collects operation latency numbers in milliseconds grouped by
	// operation.
	operationLatencyMilliseconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      OperationLatencyKeyMilliseconds,
			Help:      "Latency in milliseconds of decompression operations. Broken down by operation type.",
			Buckets:   latencyBucketsMilliseconds,
		},
		[]string{"operation_type"},
	)

	bytesDecoded = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      BytesDecodedKey,
			Help:      "The number of decompressed bytes produced.",
		},
	)

	blocks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      BlocksKey,
			Help:      "The number of DEFLATE blocks decoded. Broken down by block type.",
		},
		[]string{"type"},
	)

	members = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      MembersKey,
			Help:      "The number of gzip members whose trailer was verified.",
		},
	)

	decodeErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      ErrorsKey,
			Help:      "The number of decode errors. Broken down by error class.",
		},
		[]string{"class"},
	)
)

var register sync.Once

// sinceInMilliseconds gets the time since the specified start in milliseconds.
// The division is made to have the milliseconds value as floating point number, since the native method
// .Milliseconds() returns an integer value and you can lose precision for sub-millisecond values.
func sinceInMilliseconds(start time.Time) float64 {
	return float64(time.Since(start).Nanoseconds()) / float64(time.Millisecond/time.Nanosecond)
}

// Register registers metrics with the default prometheus registry. This is always called only once.
// The counters are updated whether or not they are registered.
func Register() {
	register.Do(func() {
		prometheus.MustRegister(operationLatencyMilliseconds)
		prometheus.MustRegister(bytesDecoded)
		prometheus.MustRegister(blocks)
		prometheus.MustRegister(members)
		prometheus.MustRegister(decodeErrors)
	})
}

// MeasureLatencyInMilliseconds wraps the labels attachment as well as calling Observe into a single method.
func MeasureLatencyInMilliseconds(operation string, start time.Time) {
	operationLatencyMilliseconds.WithLabelValues(operation).Observe(sinceInMilliseconds(start))
}

// AddBytesDecoded adds n to the decompressed byte count.
func AddBytesDecoded(n int) {
	bytesDecoded.Add(float64(n))
}

// IncBlockCount counts one decoded block of the given type.
func IncBlockCount(blockType string) {
	blocks.WithLabelValues(blockType).Inc()
}

// IncMemberCount counts one verified gzip member.
func IncMemberCount() {
	members.Inc()
}

// IncErrorCount counts err under its error class. Errors that are not decode
// errors are counted as "io".
func IncErrorCount(err error) {
	class := compression.ErrorClass(err)
	if class == "" {
		class = "io"
	}
	decodeErrors.WithLabelValues(class).Inc()
}
