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
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/awslabs/soci-inflate/cmd/soci-gunzip/internal"
	"github.com/awslabs/soci-inflate/compression"
	"github.com/awslabs/soci-inflate/config"
	commonmetrics "github.com/awslabs/soci-inflate/metrics/common"
	"github.com/containerd/log"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"
	"golang.org/x/sync/errgroup"
)

const (
	stdoutFlag  = "stdout"
	keepFlag    = "keep"
	urlFlag     = "url"
	digestFlag  = "digest"
	discardFlag = "discard"
	formatFlag  = "format"
)

var formatCliFlag = cli.StringFlag{
	Name:  formatFlag,
	Usage: "input format: gzip, deflate (raw RFC 1951 data) or auto",
	Value: compression.Gzip,
}

// outputMu serializes digest lines of concurrently decompressed files.
var outputMu sync.Mutex

type decompressOptions struct {
	stdout  bool
	keep    bool
	digest  bool
	discard bool
	format  string
}

// DecompressCommand decompresses gzip files, like gunzip.
var DecompressCommand = cli.Command{
	Name:      "decompress",
	Aliases:   []string{"d"},
	Usage:     "decompress gzip files",
	ArgsUsage: "[flags] [<file>...]",
	Description: `Decompresses each FILE.gz to FILE and removes the input unless --keep is set.
With no file, or when a file is -, reads standard input and writes standard output.`,
	Flags: []cli.Flag{
		cli.BoolFlag{
			Name:  stdoutFlag + ", c",
			Usage: "write to standard output and keep the input files",
		},
		cli.BoolFlag{
			Name:  keepFlag + ", k",
			Usage: "keep the input files",
		},
		cli.StringFlag{
			Name:  urlFlag,
			Usage: "fetch the gzip input from an http(s) url instead of local files",
		},
		cli.BoolFlag{
			Name:  digestFlag,
			Usage: "print the sha256 digest of the decompressed data",
		},
		cli.BoolFlag{
			Name:  discardFlag,
			Usage: "decompress and verify without writing any output",
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
		opts := decompressOptions{
			format:  format,
			stdout:  cliContext.Bool(stdoutFlag),
			keep:    cliContext.Bool(keepFlag) || cfg.KeepInput,
			digest:  cliContext.Bool(digestFlag),
			discard: cliContext.Bool(discardFlag),
		}
		app := cliContext.App

		if rawURL := cliContext.String(urlFlag); rawURL != "" {
			if len(cliContext.Args()) > 0 {
				return fmt.Errorf("--%s cannot be combined with file arguments", urlFlag)
			}
			return decompressURL(ctx, cfg, app, rawURL, opts)
		}

		files := []string(cliContext.Args())
		if len(files) == 0 {
			files = []string{internal.StdinName}
		}

		// Concatenated output must keep the argument order.
		limit := cfg.Concurrency
		if opts.stdout {
			limit = 1
		}

		errs := make([]error, len(files))
		eg := errgroup.Group{}
		eg.SetLimit(limit)
		for i, name := range files {
			eg.Go(func() error {
				err := decompressFile(ctx, cfg, app, name, opts)
				internal.CountFile(commonmetrics.Decompress, err)
				if err != nil {
					log.G(ctx).WithError(err).WithField("file", name).Debug("decompression failed")
					errs[i] = err
				}
				return nil
			})
		}
		if err := eg.Wait(); err != nil {
			return err
		}
		return errors.Join(errs...)
	},
}

func decompressFile(ctx context.Context, cfg *config.Config, app *cli.App, name string, opts decompressOptions) error {
	ctx = log.WithLogger(ctx, log.G(ctx).WithField("file", name))

	in, err := internal.OpenInput(name, os.Stdin)
	if err != nil {
		return err
	}
	defer in.Close()

	if name == internal.StdinName || opts.stdout || opts.discard {
		var w io.Writer
		if !opts.discard {
			w = app.Writer
		}
		res, err := internal.Decode(ctx, cfg, commonmetrics.Decompress, opts.format, in, w, opts.digest)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		return report(app, name, res, opts, w != nil)
	}

	target, err := internal.OutputName(name, cfg.Suffix)
	if err != nil {
		return err
	}
	res, err := decodeToFile(ctx, cfg, in, target, opts)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	if !opts.keep {
		in.Close()
		if err := os.Remove(name); err != nil {
			return err
		}
	}
	return report(app, name, res, opts, false)
}

func decompressURL(ctx context.Context, cfg *config.Config, app *cli.App, rawURL string, opts decompressOptions) error {
	ctx = log.WithLogger(ctx, log.G(ctx).WithField("url", rawURL))
	in, err := internal.OpenURL(ctx, cfg, rawURL)
	if err != nil {
		return err
	}
	defer in.Close()

	var res internal.Result
	switch {
	case opts.discard:
		res, err = internal.Decode(ctx, cfg, commonmetrics.Decompress, opts.format, in, nil, opts.digest)
	case opts.stdout:
		res, err = internal.Decode(ctx, cfg, commonmetrics.Decompress, opts.format, in, app.Writer, opts.digest)
	default:
		var target string
		target, err = internal.URLOutputName(rawURL, cfg.Suffix)
		if err != nil {
			return err
		}
		res, err = decodeToFile(ctx, cfg, in, target, opts)
	}
	internal.CountFile(commonmetrics.Decompress, err)
	if err != nil {
		return err
	}
	return report(app, rawURL, res, opts, opts.stdout && !opts.discard)
}

// decodeToFile writes into a temporary file next to target and renames it
// into place only once the whole stream has been verified.
func decodeToFile(ctx context.Context, cfg *config.Config, in io.Reader, target string, opts decompressOptions) (internal.Result, error) {
	if _, err := os.Lstat(target); err == nil {
		return internal.Result{}, fmt.Errorf("%s already exists", target)
	}
	out, err := os.CreateTemp(filepath.Dir(target), ".soci-gunzip-*")
	if err != nil {
		return internal.Result{}, err
	}
	defer os.Remove(out.Name())

	res, err := internal.Decode(ctx, cfg, commonmetrics.Decompress, opts.format, in, out, opts.digest)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return res, err
	}
	if err := os.Rename(out.Name(), target); err != nil {
		return res, err
	}
	log.G(ctx).WithFields(logrus.Fields{
		"target":       target,
		"compressed":   res.Compressed,
		"uncompressed": res.Uncompressed,
		"members":      res.Members,
	}).Debug("decompressed")
	return res, nil
}

// report prints the digest of the decompressed data. It goes to stderr when
// stdout carries the data itself.
func report(app *cli.App, name string, res internal.Result, opts decompressOptions, dataOnStdout bool) error {
	if !opts.digest {
		return nil
	}
	w := app.Writer
	if dataOnStdout {
		w = app.ErrWriter
	}
	outputMu.Lock()
	defer outputMu.Unlock()
	_, err := fmt.Fprintf(w, "%s  %s\n", res.Digest, name)
	return err
}
