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

package index

import (
	"fmt"
	"os"
	"time"

	"github.com/awslabs/soci-inflate/cmd/soci-gunzip/internal"
	"github.com/awslabs/soci-inflate/compression/gzindex"
	commonmetrics "github.com/awslabs/soci-inflate/metrics/common"
	"github.com/containerd/log"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"
)

const spanSizeFlag = "span-size"

var buildCommand = cli.Command{
	Name:      "build",
	Usage:     "build a span index of a single member gzip file",
	ArgsUsage: "[flags] <file> <index>",
	Flags: []cli.Flag{
		cli.Int64Flag{
			Name:  spanSizeFlag,
			Usage: "uncompressed bytes between checkpoints (defaults to the configured span size)",
		},
	},
	Action: func(cliContext *cli.Context) error {
		if len(cliContext.Args()) != 2 {
			return fmt.Errorf("expected a gzip file and an index path")
		}
		file, out := cliContext.Args().Get(0), cliContext.Args().Get(1)
		ctx := internal.AppContext(cliContext)
		cfg, err := internal.Config(ctx)
		if err != nil {
			return err
		}
		spanSize := cliContext.Int64(spanSizeFlag)
		if spanSize == 0 {
			spanSize = cfg.SpanSize
		}

		start := time.Now()
		idx, err := gzindex.BuildFromFile(ctx, file, spanSize)
		commonmetrics.MeasureLatencyInMilliseconds(commonmetrics.BuildIndex, start)
		if err != nil {
			return fmt.Errorf("%s: %w", file, err)
		}
		defer idx.Close()

		b, err := idx.Bytes()
		if err != nil {
			return err
		}
		if err := os.WriteFile(out, b, 0644); err != nil {
			return err
		}
		log.G(ctx).WithFields(logrus.Fields{
			"file":      file,
			"index":     out,
			"spans":     idx.MaxSpanID() + 1,
			"span_size": spanSize,
		}).Info("index built")
		return nil
	},
}
