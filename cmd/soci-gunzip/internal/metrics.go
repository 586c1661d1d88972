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
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	commonmetrics "github.com/awslabs/soci-inflate/metrics/common"
	"github.com/containerd/log"
	metrics "github.com/docker/go-metrics"
)

var (
	ns = metrics.NewNamespace("soci", "gunzip", nil)

	// filesProcessed counts the files handled by each command, by result.
	filesProcessed = ns.NewLabeledCounter("files", "The number of files processed", "command", "result")

	registerOnce sync.Once
)

// CountFile records the outcome of one file handled by command.
func CountFile(command string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	filesProcessed.WithValues(command, result).Inc()
}

// ServeMetrics serves prometheus metrics at /metrics on the given address.
// The returned function shuts the server down.
func ServeMetrics(ctx context.Context, network, address string) (func(), error) {
	registerOnce.Do(func() {
		commonmetrics.Register()
		metrics.Register(ns)
	})

	l, err := net.Listen(network, address)
	if err != nil {
		return nil, fmt.Errorf("failed to get listener for metrics endpoint: %w", err)
	}
	m := http.NewServeMux()
	m.Handle("/metrics", metrics.Handler())
	srv := &http.Server{
		Handler:           m,
		ReadHeaderTimeout: 5 * time.Second,
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := srv.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.G(ctx).WithError(err).Errorf("error on serving metrics via %q", address)
		}
	}()
	log.G(ctx).WithField("address", l.Addr().String()).Debug("serving metrics")

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.G(ctx).WithError(err).Warn("failed to shut down metrics server")
		}
		<-done
	}, nil
}
