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
	"math/rand"
	"net"
	"net/http"
	"time"

	"github.com/awslabs/soci-inflate/config"
	logutil "github.com/awslabs/soci-inflate/util/http/log"
	"github.com/containerd/log"
	rhttp "github.com/hashicorp/go-retryablehttp"
	"github.com/sirupsen/logrus"
)

// maxDrainBytes bounds how much of an abandoned response body is read
// so the connection can be reused.
const maxDrainBytes = 4096

// NewRetryableClientConfig creates a new config with default values.
// Users of `NewRetryableClient` should use this method to get a new
// config and then overwrite values if desired.
func NewRetryableClientConfig() config.RetryableHTTPClientConfig {
	return config.NewConfig().RetryableHTTPClientConfig
}

// NewRetryableClient creates a go http.Client which will automatically
// retry on non-fatal errors
func NewRetryableClient(cfg config.RetryableHTTPClientConfig) *http.Client {
	rhttpClient := rhttp.NewClient()
	// Don't log every request
	rhttpClient.Logger = nil

	// set retry config
	rhttpClient.RetryMax = cfg.MaxRetries
	rhttpClient.RetryWaitMin = time.Duration(cfg.MinWaitMsec) * time.Millisecond
	rhttpClient.RetryWaitMax = time.Duration(cfg.MaxWaitMsec) * time.Millisecond
	rhttpClient.Backoff = BackoffStrategy
	rhttpClient.CheckRetry = RetryStrategy
	rhttpClient.ErrorHandler = HandleHTTPError
	rhttpClient.HTTPClient.Timeout = time.Duration(cfg.RequestTimeoutMsec) * time.Millisecond

	// set timeouts
	innerTransport := rhttpClient.HTTPClient.Transport
	if t, ok := innerTransport.(*http.Transport); ok {
		t.DialContext = (&net.Dialer{
			Timeout: time.Duration(cfg.DialTimeoutMsec) * time.Millisecond,
		}).DialContext
		t.ResponseHeaderTimeout = time.Duration(cfg.ResponseHeaderTimeoutMsec) * time.Millisecond
	}

	return rhttpClient.StandardClient()
}

// Jitter returns a number in the range duration to duration+(duration/divisor)-1, inclusive
func Jitter(duration time.Duration, divisor int64) time.Duration {
	return time.Duration(rand.Int63n(int64(duration)/divisor) + int64(duration))
}

// BackoffStrategy extends retryablehttp's DefaultBackoff to add a random jitter to avoid
// overwhelming the remote endpoint when it comes back online
// DefaultBackoff either tries to parse the 'Retry-After' header of the response; or, it uses an
// exponential backoff 2 ^ numAttempts, limited by max
func BackoffStrategy(min, max time.Duration, attemptNum int, resp *http.Response) time.Duration {
	delayTime := rhttp.DefaultBackoff(min, max, attemptNum, resp)
	if delayTime < 8 {
		return delayTime
	}
	return Jitter(delayTime, 8)
}

// RetryStrategy extends retryablehttp's DefaultRetryPolicy to log the error and response when retrying
// DefaultRetryPolicy retries whenever err is non-nil (except for some url errors) or if returned
// status code is 429 or 5xx (except 501)
func RetryStrategy(ctx context.Context, resp *http.Response, err error) (bool, error) {
	retry, err2 := rhttp.DefaultRetryPolicy(ctx, resp, err)
	if retry {
		fields := logrus.Fields{
			"error": logutil.RedactError(err),
		}
		if resp != nil {
			fields["status"] = resp.StatusCode
		}
		log.G(ctx).WithFields(fields).Debug("retrying request")
	}
	return retry, err2
}

// HandleHTTPError is the retryablehttp ErrorHandler. It runs once all
// attempts are exhausted, drains and closes the last response body and
// returns an error naming the request with its query values redacted.
func HandleHTTPError(resp *http.Response, err error, attempts int) (*http.Response, error) {
	method, url := "unknown", "unknown"
	if resp != nil {
		if resp.Request != nil {
			method = resp.Request.Method
			if resp.Request.URL != nil {
				url = logutil.RedactURL(resp.Request.URL)
			}
		}
		if resp.Body != nil {
			_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxDrainBytes))
			resp.Body.Close()
		}
	}

	if err == nil {
		return nil, fmt.Errorf("%s %q: giving up request after %d attempt(s)", method, url, attempts)
	}
	err = logutil.RedactError(err)
	return nil, fmt.Errorf("%s %q: giving up request after %d attempt(s): %w", method, url, attempts, err)
}
