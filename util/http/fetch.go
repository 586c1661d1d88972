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

package http

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	commonmetrics "github.com/awslabs/soci-inflate/metrics/common"
	logutil "github.com/awslabs/soci-inflate/util/http/log"
	"github.com/containerd/log"
)

// Fetch issues a GET for rawURL and returns the response body. The caller
// must close it. Any status other than 200 is an error.
func Fetch(ctx context.Context, client *http.Client, rawURL string) (io.ReadCloser, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid url: %w", logutil.RedactError(err))
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported url scheme %q", u.Scheme)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}

	redacted := logutil.RedactURL(u)
	start := time.Now()
	resp, err := client.Do(req)
	commonmetrics.MeasureLatencyInMilliseconds(commonmetrics.Fetch, start)
	if err != nil {
		return nil, logutil.RedactError(err)
	}
	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxDrainBytes))
		resp.Body.Close()
		return nil, fmt.Errorf("GET %q: unexpected status %s", redacted, resp.Status)
	}

	log.G(ctx).WithField("url", redacted).WithField("length", resp.ContentLength).Debug("fetching remote input")
	return resp.Body, nil
}
