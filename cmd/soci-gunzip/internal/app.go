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
	"context"
	"fmt"

	cmdcontext "github.com/awslabs/soci-inflate/cmd/internal/context"
	"github.com/awslabs/soci-inflate/cmd/soci-gunzip/commands/global"
	"github.com/awslabs/soci-inflate/config"
	"github.com/containerd/log"
	"github.com/rs/xid"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"
)

const (
	contextKey     = "context"
	stopMetricsKey = "stop-metrics"
)

// Before loads the configuration, sets up a session logger and starts the
// metrics endpoint if one is configured. It is installed as the app's
// Before hook.
func Before(cliContext *cli.Context) error {
	cfg, err := config.NewConfigFromToml(cliContext.String(global.ConfigFlag))
	if err != nil {
		return err
	}
	if cliContext.Bool(global.DebugFlag) {
		cfg.LogLevel = logrus.DebugLevel.String()
	}
	if addr := cliContext.String(global.MetricsAddressFlag); addr != "" {
		cfg.MetricsAddress = addr
	}

	lvl, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	logger := logrus.New()
	logger.SetOutput(cliContext.App.ErrWriter)
	logger.SetLevel(lvl)

	session := xid.New().String()
	entry := logrus.NewEntry(logger).WithField(cmdcontext.SessionKey, session)
	ctx := log.WithLogger(context.Background(), entry)
	ctx = cmdcontext.WithValue(ctx, cmdcontext.ConfigKey, cfg)
	ctx = cmdcontext.WithValue(ctx, cmdcontext.SessionKey, session)

	if cliContext.App.Metadata == nil {
		cliContext.App.Metadata = make(map[string]interface{})
	}
	cliContext.App.Metadata[contextKey] = ctx

	if cfg.MetricsAddress != "" && !cfg.NoPrometheus {
		stop, err := ServeMetrics(ctx, cfg.MetricsNetwork, cfg.MetricsAddress)
		if err != nil {
			return err
		}
		cliContext.App.Metadata[stopMetricsKey] = stop
	}
	return nil
}

// After stops the metrics endpoint started by Before.
func After(cliContext *cli.Context) error {
	if stop, ok := cliContext.App.Metadata[stopMetricsKey].(func()); ok {
		stop()
	}
	return nil
}

// AppContext returns the context created by Before.
func AppContext(cliContext *cli.Context) context.Context {
	if ctx, ok := cliContext.App.Metadata[contextKey].(context.Context); ok {
		return ctx
	}
	return context.Background()
}

// Config returns the configuration loaded by Before.
func Config(ctx context.Context) (*config.Config, error) {
	return cmdcontext.GetValue[*config.Config](ctx, cmdcontext.ConfigKey)
}
