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

package global

import (
	"github.com/awslabs/soci-inflate/config"
	"github.com/urfave/cli"
)

// Global flags for soci-gunzip

const (
	ConfigFlag         = "config"
	DebugFlag          = "debug"
	MetricsAddressFlag = "metrics-address"
)

var Flags = []cli.Flag{
	cli.StringFlag{
		Name:   ConfigFlag,
		Usage:  "path to the configuration file",
		Value:  config.DefaultConfigPath,
		EnvVar: "SOCI_GUNZIP_CONFIG",
	},
	cli.BoolFlag{
		Name:  DebugFlag,
		Usage: "enable debug output",
	},
	cli.StringFlag{
		Name:  MetricsAddressFlag,
		Usage: "serve prometheus metrics on this address while the command runs",
	},
}
