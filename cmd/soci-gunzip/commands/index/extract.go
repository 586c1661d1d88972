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
	"time"

	"github.com/awslabs/soci-inflate/cmd/soci-gunzip/internal"
	"github.com/awslabs/soci-inflate/compression"
	commonmetrics "github.com/awslabs/soci-inflate/metrics/common"
	"github.com/containerd/log"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"
)

const (
	offsetFlag = "offset"
	sizeFlag   = "size"
)

var extractCommand = cli.Command{
	Name:      "extract",
	Usage:     "write a range of the uncompressed data to stdout using a span index",
	ArgsUsage: "[flags] <file> <index>",
	Flags: []cli.Flag{
		cli.Int64Flag{
			Name:  offsetFlag,
			Usage: "uncompressed offset of the first byte",
		},
		cli.Int64Flag{
			Name:  sizeFlag,
			Usage: "number of bytes to extract",
		},
	},
	Action: func(cliContext *cli.Context) error {
		if len(cliContext.Args()) != 2 {
			return fmt.Errorf("expected a gzip file and an index path")
		}
		file, indexPath := cliContext.Args().Get(0), cliContext.Args().Get(1)
		offset := compression.Offset(cliContext.Int64(offsetFlag))
		size := compression.Offset(cliContext.Int64(sizeFlag))
		if offset < 0 || size <= 0 {
			return fmt.Errorf("--%s must not be negative and --%s must be positive", offsetFlag, sizeFlag)
		}
		ctx := internal.AppContext(cliContext)

		idx, err := loadIndex(indexPath)
		if err != nil {
			return err
		}
		defer idx.Close()

		start := time.Now()
		data, err := idx.ExtractDataFromFile(file, size, offset)
		commonmetrics.MeasureLatencyInMilliseconds(commonmetrics.Extract, start)
		if err != nil {
			return fmt.Errorf("%s: %w", file, err)
		}
		log.G(ctx).WithFields(logrus.Fields{
			"file":   file,
			"offset": offset,
			"size":   size,
			"span":   idx.UncompressedOffsetToSpanID(offset),
		}).Debug("extracted range")
		_, err = cliContext.App.Writer.Write(data)
		return err
	},
}
