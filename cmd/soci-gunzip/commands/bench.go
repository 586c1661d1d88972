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
	"fmt"
	"io"
	"os"

	"github.com/awslabs/soci-inflate/benchmark/framework"
	"github.com/awslabs/soci-inflate/cmd/soci-gunzip/internal"
	"github.com/urfave/cli"
)

// BenchCommand compares decode throughput against klauspost/compress.
var BenchCommand = cli.Command{
	Name:      "bench",
	Usage:     "measure decompression throughput of a gzip file",
	ArgsUsage: "[flags] <file>",
	Flags: []cli.Flag{
		cli.IntFlag{
			Name:  "count",
			Usage: "number of runs per decoder",
			Value: 5,
		},
	},
	Action: func(cliContext *cli.Context) error {
		if len(cliContext.Args()) != 1 {
			return fmt.Errorf("expected exactly one file")
		}
		count := cliContext.Int("count")
		if count < 1 {
			return fmt.Errorf("count must be positive")
		}
		name := cliContext.Args().First()
		ctx := internal.AppContext(cliContext)

		in, err := internal.OpenInput(name, os.Stdin)
		if err != nil {
			return err
		}
		data, err := io.ReadAll(in)
		in.Close()
		if err != nil {
			return err
		}

		frame := framework.BenchmarkFramework{
			Input: name,
			Drivers: []framework.BenchmarkTestDriver{
				framework.InflateDriver(count),
				framework.KlauspostDriver(count),
			},
		}
		if err := frame.Run(ctx, data); err != nil {
			return err
		}
		return frame.WriteResults(cliContext.App.Writer)
	},
}
