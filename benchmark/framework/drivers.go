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
	"context"
	"io"

	"github.com/awslabs/soci-inflate/compression/gzip"
	kgzip "github.com/klauspost/compress/gzip"
)

// InflateDriver benchmarks this module's gzip reader.
func InflateDriver(iterations int) BenchmarkTestDriver {
	return BenchmarkTestDriver{
		TestName:      "soci-inflate",
		NumberOfTests: iterations,
		Decode: func(ctx context.Context, r io.Reader) (int64, error) {
			zr, err := gzip.NewReader(r, gzip.WithContext(ctx))
			if err != nil {
				return 0, err
			}
			return io.Copy(io.Discard, zr)
		},
	}
}

// KlauspostDriver benchmarks github.com/klauspost/compress/gzip as a
// reference decoder.
func KlauspostDriver(iterations int) BenchmarkTestDriver {
	return BenchmarkTestDriver{
		TestName:      "klauspost-gzip",
		NumberOfTests: iterations,
		Decode: func(_ context.Context, r io.Reader) (int64, error) {
			zr, err := kgzip.NewReader(r)
			if err != nil {
				return 0, err
			}
			defer zr.Close()
			return io.Copy(io.Discard, zr)
		},
	}
}
