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

package main

import (
	"fmt"
	"os"

	"github.com/awslabs/soci-inflate/cmd/soci-gunzip/commands"
	"github.com/awslabs/soci-inflate/cmd/soci-gunzip/commands/global"
	"github.com/awslabs/soci-inflate/cmd/soci-gunzip/commands/index"
	"github.com/awslabs/soci-inflate/cmd/soci-gunzip/internal"
	"github.com/awslabs/soci-inflate/version"
	"github.com/urfave/cli"
)

func newApp() *cli.App {
	app := cli.NewApp()
	app.Name = "soci-gunzip"
	app.Usage = "streaming gzip and DEFLATE decompression"
	app.Version = fmt.Sprintf("%s %s", version.Version, version.Revision)
	app.Flags = global.Flags
	app.Commands = []cli.Command{
		commands.DecompressCommand,
		commands.TestCommand,
		commands.InfoCommand,
		commands.BenchCommand,
		index.Command,
	}
	app.Before = internal.Before
	app.After = internal.After
	return app
}

func main() {
	app := newApp()
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "soci-gunzip: %v\n", err)
		os.Exit(internal.ExitCode(err))
	}
}
