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

package internal

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/awslabs/soci-inflate/compression"
	"github.com/awslabs/soci-inflate/compression/flate"
	"github.com/awslabs/soci-inflate/compression/gzip"
	"github.com/awslabs/soci-inflate/config"
	commonmetrics "github.com/awslabs/soci-inflate/metrics/common"
	"github.com/awslabs/soci-inflate/util/ioutils"
	"github.com/containerd/log"
	"github.com/opencontainers/go-digest"
)

// Result describes one decompressed input.
type Result struct {
	Compressed   int64
	Uncompressed int64
	Members      int
	Digest       digest.Digest
}

// Ratio is the space saving of the compressed input, as gzip -l reports it.
func (r Result) Ratio() float64 {
	if r.Uncompressed == 0 {
		return 0
	}
	return 100 * (1 - float64(r.Compressed)/float64(r.Uncompressed))
}

// AutoFormat picks gzip when the input starts with the gzip magic and raw
// DEFLATE otherwise.
const AutoFormat = "auto"

// ParseFormat validates the value of a --format flag.
func ParseFormat(format string) (string, error) {
	switch format {
	case compression.Gzip, compression.Deflate, AutoFormat:
		return format, nil
	}
	return "", fmt.Errorf("unknown format %q, expected %s, %s or %s", format, compression.Gzip, compression.Deflate, AutoFormat)
}

type decoder interface {
	io.Reader
	Discard(n int64) (int64, error)
	TotalOut() int64
}

// Decode decompresses r, a gzip or raw DEFLATE stream, into w. A nil w only
// verifies the stream. The returned Result is valid up to the point of
// failure.
func Decode(ctx context.Context, cfg *config.Config, operation, format string, r io.Reader, w io.Writer, withDigest bool) (Result, error) {
	start := time.Now()
	defer commonmetrics.MeasureLatencyInMilliseconds(operation, start)

	var res Result
	pt := ioutils.NewPositionTrackerReader(r)
	if format == AutoFormat {
		// A short or failing peek leaves the error to the decoder.
		prefix, _ := pt.Peek(2)
		format = compression.DetectFormat(prefix)
		if format == compression.Unknown {
			format = compression.Deflate
		}
		log.G(ctx).WithField("format", format).Debug("detected input format")
	}

	var (
		dec decoder
		zr  *gzip.Reader
		err error
	)
	if format == compression.Deflate {
		dec = flate.NewReader(pt)
	} else {
		zr, err = gzip.NewReader(pt, gzip.WithContext(ctx))
		if err != nil {
			res.Compressed = pt.CurrentPos()
			return res, err
		}
		zr.Multistream(cfg.Multistream)
		dec = zr
	}

	var digester digest.Digester
	var writers []io.Writer
	if w != nil {
		writers = append(writers, w)
	}
	if withDigest {
		digester = digest.Canonical.Digester()
		writers = append(writers, digester.Hash())
	}

	if len(writers) == 0 {
		err = discardAll(dec, cfg.BufferSize)
	} else {
		bw := bufio.NewWriterSize(io.MultiWriter(writers...), int(cfg.BufferSize))
		_, err = io.Copy(bw, dec)
		// Bytes decoded before a failure are still handed out.
		if ferr := bw.Flush(); err == nil {
			err = ferr
		}
	}

	res.Compressed = pt.CurrentPos()
	res.Uncompressed = dec.TotalOut()
	if zr != nil {
		res.Members = zr.Members()
	}
	if err == nil && digester != nil {
		res.Digest = digester.Digest()
	}
	return res, err
}

func discardAll(dec decoder, chunk int64) error {
	for {
		if _, err := dec.Discard(chunk); err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
	}
}
