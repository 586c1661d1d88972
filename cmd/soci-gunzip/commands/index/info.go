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
	"encoding/json"
	"fmt"
	"os"

	"github.com/awslabs/soci-inflate/compression"
	"github.com/awslabs/soci-inflate/compression/gzindex"
	"github.com/urfave/cli"
)

type Info struct {
	SpanSize compression.Offset `json:"span_size"`
	NumSpans compression.SpanID `json:"num_spans"`
	Spans    []SpanInfo         `json:"spans"`
}

type SpanInfo struct {
	ID                compression.SpanID `json:"id"`
	CompressedStart   compression.Offset `json:"compressed_start"`
	UncompressedStart compression.Offset `json:"uncompressed_start"`
}

var infoCommand = cli.Command{
	Name:      "info",
	Usage:     "print the checkpoints of a span index",
	ArgsUsage: "<index>",
	Action: func(cliContext *cli.Context) error {
		if len(cliContext.Args()) != 1 {
			return fmt.Errorf("expected an index path")
		}
		idx, err := loadIndex(cliContext.Args().First())
		if err != nil {
			return err
		}
		defer idx.Close()

		info := Info{
			SpanSize: idx.SpanSize(),
			NumSpans: idx.MaxSpanID() + 1,
		}
		for id := compression.SpanID(0); id <= idx.MaxSpanID(); id++ {
			info.Spans = append(info.Spans, SpanInfo{
				ID:                id,
				CompressedStart:   idx.StartCompressedOffset(id),
				UncompressedStart: idx.StartUncompressedOffset(id),
			})
		}
		j, err := json.MarshalIndent(info, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(cliContext.App.Writer, string(j))
		return nil
	},
}

func loadIndex(path string) (*gzindex.Index, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	idx, err := gzindex.Unmarshal(b)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return idx, nil
}
