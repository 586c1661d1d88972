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

package framework

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/containerd/log"
	"github.com/montanaflynn/stats"
)

// BenchmarkFramework runs every driver over the same compressed input and
// collects timing statistics.
type BenchmarkFramework struct {
	Input            string                `json:"input"`
	CompressedSize   int64                 `json:"compressedSize"`
	UncompressedSize int64                 `json:"uncompressedSize"`
	Drivers          []BenchmarkTestDriver `json:"benchmarkTests"`
}

type BenchmarkTestStats struct {
	BenchmarkTimes []float64 `json:"BenchmarkTimes"`
	StdDev         float64   `json:"stdDev"`
	Mean           float64   `json:"mean"`
	Min            float64   `json:"min"`
	Pct25          float64   `json:"pct25"`
	Pct50          float64   `json:"pct50"`
	Pct75          float64   `json:"pct75"`
	Pct90          float64   `json:"pct90"`
	Max            float64   `json:"max"`
}

// DecodeFunc decompresses r completely and returns the number of
// uncompressed bytes it produced.
type DecodeFunc func(ctx context.Context, r io.Reader) (int64, error)

type BenchmarkTestDriver struct {
	TestName      string             `json:"testName"`
	NumberOfTests int                `json:"numberOfTests"`
	Decode        DecodeFunc         `json:"-"`
	TestStats     BenchmarkTestStats `json:"testStats"`
	// ThroughputStats holds uncompressed MiB per second for each run.
	ThroughputStats BenchmarkTestStats `json:"throughputStats"`
}

// Run decodes data NumberOfTests times with each driver. Every run must
// produce the same number of bytes.
func (frame *BenchmarkFramework) Run(ctx context.Context, data []byte) error {
	frame.CompressedSize = int64(len(data))
	for i := 0; i < len(frame.Drivers); i++ {
		testDriver := &frame.Drivers[i]
		for j := 0; j < testDriver.NumberOfTests; j++ {
			if err := ctx.Err(); err != nil {
				return err
			}
			log.G(ctx).WithField("test_name", testDriver.TestName).Debugf("run %d of %d", j+1, testDriver.NumberOfTests)
			start := time.Now()
			n, err := testDriver.Decode(ctx, bytes.NewReader(data))
			elapsed := time.Since(start).Seconds()
			if err != nil {
				return fmt.Errorf("%s: %w", testDriver.TestName, err)
			}
			if frame.UncompressedSize == 0 {
				frame.UncompressedSize = n
			} else if n != frame.UncompressedSize {
				return fmt.Errorf("%s: decoded %d bytes, expected %d", testDriver.TestName, n, frame.UncompressedSize)
			}
			testDriver.TestStats.BenchmarkTimes = append(testDriver.TestStats.BenchmarkTimes, elapsed)
			if elapsed > 0 {
				testDriver.ThroughputStats.BenchmarkTimes = append(testDriver.ThroughputStats.BenchmarkTimes, float64(n)/(1<<20)/elapsed)
			}
		}
		testDriver.TestStats.calculate(ctx)
		testDriver.ThroughputStats.calculate(ctx)
	}
	return nil
}

// WriteResults writes the results as indented JSON.
func (frame *BenchmarkFramework) WriteResults(w io.Writer) error {
	j, err := json.MarshalIndent(frame, "", " ")
	if err != nil {
		return err
	}
	j = append(j, '\n')
	_, err = w.Write(j)
	return err
}

func (s *BenchmarkTestStats) calculate(ctx context.Context) {
	data := stats.Float64Data(s.BenchmarkTimes)
	for _, stat := range []struct {
		name string
		dst  *float64
		fn   func() (float64, error)
	}{
		{"std dev", &s.StdDev, func() (float64, error) { return stats.StandardDeviation(data) }},
		{"mean", &s.Mean, func() (float64, error) { return stats.Mean(data) }},
		{"min", &s.Min, func() (float64, error) { return stats.Min(data) }},
		{"pct25", &s.Pct25, func() (float64, error) { return stats.Percentile(data, 25) }},
		{"pct50", &s.Pct50, func() (float64, error) { return stats.Percentile(data, 50) }},
		{"pct75", &s.Pct75, func() (float64, error) { return stats.Percentile(data, 75) }},
		{"pct90", &s.Pct90, func() (float64, error) { return stats.Percentile(data, 90) }},
		{"max", &s.Max, func() (float64, error) { return stats.Max(data) }},
	} {
		v, err := stat.fn()
		if err != nil {
			log.G(ctx).WithError(err).Warnf("error calculating %s", stat.name)
			v = -1
		}
		*stat.dst = v
	}
}
