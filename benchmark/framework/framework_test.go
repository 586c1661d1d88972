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
	"io"
	"testing"

	"github.com/awslabs/soci-inflate/util/testutil"
	"github.com/stretchr/testify/require"
)

func TestBenchmarkFrameworkRun(t *testing.T) {
	data := testutil.NewTestRand(t).CompressibleData(256 << 10)
	gz := testutil.GzipCompress(data, 6, "bench")

	frame := BenchmarkFramework{
		Input:   "bench.gz",
		Drivers: []BenchmarkTestDriver{InflateDriver(3), KlauspostDriver(3)},
	}
	require.NoError(t, frame.Run(testutil.TestContext(t), gz))
	require.EqualValues(t, len(gz), frame.CompressedSize)
	require.EqualValues(t, len(data), frame.UncompressedSize)

	for _, d := range frame.Drivers {
		require.Len(t, d.TestStats.BenchmarkTimes, 3, d.TestName)
		require.LessOrEqual(t, d.TestStats.Min, d.TestStats.Pct50, d.TestName)
		require.LessOrEqual(t, d.TestStats.Pct50, d.TestStats.Max, d.TestName)
		require.GreaterOrEqual(t, d.TestStats.StdDev, 0.0, d.TestName)
	}

	var buf bytes.Buffer
	require.NoError(t, frame.WriteResults(&buf))
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	require.Len(t, decoded["benchmarkTests"], 2)
}

func TestBenchmarkFrameworkRunErrors(t *testing.T) {
	gz := testutil.GzipCompress([]byte("hello, world"), 6, "")

	frame := BenchmarkFramework{
		Drivers: []BenchmarkTestDriver{InflateDriver(1)},
	}
	err := frame.Run(context.Background(), gz[:len(gz)-3])
	require.Error(t, err)

	short := BenchmarkTestDriver{
		TestName:      "short",
		NumberOfTests: 1,
		Decode: func(_ context.Context, r io.Reader) (int64, error) {
			return 1, nil
		},
	}
	frame = BenchmarkFramework{
		Drivers: []BenchmarkTestDriver{InflateDriver(1), short},
	}
	require.ErrorContains(t, frame.Run(context.Background(), gz), "decoded 1 bytes")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	frame = BenchmarkFramework{
		Drivers: []BenchmarkTestDriver{InflateDriver(1)},
	}
	require.ErrorIs(t, frame.Run(ctx, gz), context.Canceled)
}
