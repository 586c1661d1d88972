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

package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/awslabs/soci-inflate/cmd/soci-gunzip/internal"
	"github.com/awslabs/soci-inflate/compression/flate"
	"github.com/awslabs/soci-inflate/compression/gzip"
	"github.com/awslabs/soci-inflate/util/ioutils"
	"github.com/urfave/cli"
)

type Info struct {
	File             string       `json:"file"`
	CompressedSize   int64        `json:"compressed_size"`
	UncompressedSize int64        `json:"uncompressed_size"`
	Ratio            float64      `json:"ratio"`
	Blocks           BlockInfo    `json:"blocks"`
	Members          []MemberInfo `json:"members"`
}

type MemberInfo struct {
	Offset           int64     `json:"offset"`
	CompressedSize   int64     `json:"compressed_size"`
	UncompressedSize int64     `json:"uncompressed_size"`
	Name             string    `json:"name,omitempty"`
	Comment          string    `json:"comment,omitempty"`
	ModTime          time.Time `json:"mod_time"`
	OS               byte      `json:"os"`
	ExtraSize        int       `json:"extra_size,omitempty"`
	Blocks           BlockInfo `json:"blocks"`
}

type BlockInfo struct {
	Stored  int64 `json:"stored"`
	Fixed   int64 `json:"fixed"`
	Dynamic int64 `json:"dynamic"`
}

func (b *BlockInfo) add(o BlockInfo) {
	b.Stored += o.Stored
	b.Fixed += o.Fixed
	b.Dynamic += o.Dynamic
}

// InfoCommand prints the members of a gzip file as JSON.
var InfoCommand = cli.Command{
	Name:      "info",
	Usage:     "get detailed info about the members of a gzip file",
	ArgsUsage: "<file>",
	Action: func(cliContext *cli.Context) error {
		if len(cliContext.Args()) != 1 {
			return fmt.Errorf("expected exactly one file")
		}
		name := cliContext.Args().First()
		ctx := internal.AppContext(cliContext)

		in, err := internal.OpenInput(name, os.Stdin)
		if err != nil {
			return err
		}
		defer in.Close()

		info, err := gzipInfo(ctx, in)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		info.File = name

		j, err := json.MarshalIndent(info, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(cliContext.App.Writer, string(j))
		return nil
	},
}

// gzipInfo reads the members of r one at a time so each header can be
// reported with its own sizes.
func gzipInfo(ctx context.Context, r io.Reader) (Info, error) {
	var info Info
	pt := ioutils.NewPositionTrackerReader(r)
	for {
		start := pt.CurrentPos()
		zr, err := gzip.NewReader(pt, gzip.WithContext(ctx))
		if err != nil {
			return info, err
		}
		zr.Multistream(false)
		n, err := io.Copy(io.Discard, zr)
		if err != nil {
			return info, err
		}

		m := MemberInfo{
			Offset:           start,
			CompressedSize:   pt.CurrentPos() - start,
			UncompressedSize: n,
			Name:             zr.Name,
			Comment:          zr.Comment,
			ModTime:          zr.ModTime,
			OS:               zr.OS,
			ExtraSize:        len(zr.Extra),
			Blocks: BlockInfo{
				Stored:  zr.BlockCount(flate.StoredBlock),
				Fixed:   zr.BlockCount(flate.FixedHuffmanBlock),
				Dynamic: zr.BlockCount(flate.DynamicHuffmanBlock),
			},
		}
		info.Members = append(info.Members, m)
		info.CompressedSize += m.CompressedSize
		info.UncompressedSize += m.UncompressedSize
		info.Blocks.add(m.Blocks)

		eof, err := pt.AtEOF()
		if err != nil {
			return info, err
		}
		if eof {
			break
		}
	}
	info.Ratio = internal.Result{Compressed: info.CompressedSize, Uncompressed: info.UncompressedSize}.Ratio()
	return info, nil
}
