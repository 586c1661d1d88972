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
	"errors"
	"fmt"
	"os"

	"github.com/awslabs/soci-inflate/cmd/soci-gunzip/internal"
	commonmetrics "github.com/awslabs/soci-inflate/metrics/common"
	"github.com/containerd/log"
	"github.com/urfave/cli"
	"golang.org/x/sync/errgroup"
)

// TestCommand verifies gzip files without writing anything, like gzip -t.
var TestCommand = cli.Command{
	Name:      "test",
	Aliases:   []string{"t"},
	Usage:     "verify the integrity of gzip files",
	ArgsUsage: "<file>...",
	Flags: []cli.Flag{
		cli.BoolFlag{
			Name:  "verbose, v",
			Usage: "print a line for every file",
		},
		formatCliFlag,
	},
	Action: func(cliContext *cli.Context) error {
		ctx := internal.AppContext(cliContext)
		cfg, err := internal.Config(ctx)
		if err != nil {
			return err
		}
		format, err := internal.ParseFormat(cliContext.String(formatFlag))
		if err != nil {
			return err
		}
		files := []string(cliContext.Args())
		if len(files) == 0 {
			files = []string{internal.StdinName}
		}
		verbose := cliContext.Bool("verbose")

		results := make([]internal.Result, len(files))
		errs := make([]error, len(files))
		eg := errgroup.Group{}
		eg.SetLimit(cfg.Concurrency)
		for i, name := range files {
			eg.Go(func() error {
				in, err := internal.OpenInput(name, os.Stdin)
				if err != nil {
					errs[i] = err
					return nil
				}
				defer in.Close()
				results[i], err = internal.Decode(ctx, cfg, commonmetrics.Test, format, in, nil, false)
				internal.CountFile(commonmetrics.Test, err)
				if err != nil {
					log.G(ctx).WithError(err).WithField("file", name).Debug("verification failed")
					errs[i] = fmt.Errorf("%s: %w", name, err)
				}
				return nil
			})
		}
		if err := eg.Wait(); err != nil {
			return err
		}

		// Report in argument order.
		for i, name := range files {
			if !verbose {
				continue
			}
			if errs[i] != nil {
				fmt.Fprintf(cliContext.App.Writer, "%s:\tFAILED\n", name)
				continue
			}
			res := results[i]
			fmt.Fprintf(cliContext.App.Writer, "%s:\tOK\t%d -> %d bytes\t%.1f%%\n", name, res.Compressed, res.Uncompressed, res.Ratio())
		}
		return errors.Join(errs...)
	},
}
