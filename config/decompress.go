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

/*
   Copyright The containerd Authors.

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

package config

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var (
	sizeRegex = regexp.MustCompile(`(?i)^\s*(\d+(\.\d+)?)(\s*(gb|mb|kb|b)?)?\s*$`)

	unitMultipliers = map[string]float64{
		"":   1, // no unit specified, treat as bytes
		"b":  1,
		"kb": 1024,
		"mb": 1024 * 1024,
		"gb": 1024 * 1024 * 1024,
	}
)

// DecompressConfig controls the decompress and test commands.
type DecompressConfig struct {
	// BufferSize is the size of the copy buffer between the decoder and the
	// output, e.g. "128kb".
	BufferSizeStr string `toml:"buffer_size"`
	BufferSize    int64  `toml:"-"`

	// Multistream reads concatenated gzip members as one stream. Defaults to true.
	Multistream bool `toml:"multistream"`

	// Concurrency is the maximum number of files decompressed at once.
	// Each file gets its own decoder.
	Concurrency int `toml:"concurrency"`

	// KeepInput keeps the .gz file after it has been decompressed to disk.
	KeepInput bool `toml:"keep_input"`

	// Suffix is the file name suffix stripped from inputs to name outputs.
	Suffix string `toml:"suffix"`
}

// IndexConfig controls span index generation.
type IndexConfig struct {
	// SpanSize is the amount of uncompressed data between checkpoints,
	// e.g. "4mb".
	SpanSizeStr string `toml:"span_size"`
	SpanSize    int64  `toml:"-"`
}

// RetryConfig represents the settings for retries in a retryable http client.
type RetryConfig struct {
	// MaxRetries is the maximum number of retries before giving up on a retryable request.
	// This does not include the initial request so the total number of attempts will be MaxRetries + 1.
	MaxRetries int `toml:"max_retries"`
	// MinWait is the minimum wait time between attempts. The actual wait time is governed by the BackoffStrategy,
	// but the wait time will never be shorter than this duration.
	MinWaitMsec int64 `toml:"min_wait_msec"`
	// MaxWait is the maximum wait time between attempts. The actual wait time is governed by the BackoffStrategy,
	// but the wait time will never be longer than this duration.
	MaxWaitMsec int64 `toml:"max_wait_msec"`
}

// TimeoutConfig represents the settings for timeout at various points in a request lifecycle in a retryable http client.
type TimeoutConfig struct {
	// DialTimeout is the maximum duration that connection can take before a request attempt is timed out.
	DialTimeoutMsec int64 `toml:"dial_timeout_msec"`
	// ResponseHeaderTimeout is the maximum duration waiting for response headers before a request attempt is timed out.
	// This starts after the entire request body is uploaded to the remote endpoint and stops when the request headers
	// are fully read. It does not include reading the body.
	ResponseHeaderTimeoutMsec int64 `toml:"response_header_timeout_msec"`
	// RequestTimeout is the maximum duration before the entire request attempt is timed out. This starts when the
	// client starts the connection attempt and ends when the entire response body is read.
	RequestTimeoutMsec int64 `toml:"request_timeout_msec"`
}

// RetryableHTTPClientConfig is the complete config for a retryable http client
type RetryableHTTPClientConfig struct {
	TimeoutConfig
	RetryConfig
}

func parseDecompressConfig(cfg *Config) error {
	size, err := parseSize(cfg.BufferSizeStr, defaultBufferSize)
	if err != nil {
		return fmt.Errorf("buffer_size: %w", err)
	}
	cfg.BufferSize = size
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	if cfg.Suffix == "" {
		cfg.Suffix = defaultSuffix
	}
	return nil
}

func parseIndexConfig(cfg *Config) error {
	size, err := parseSize(cfg.SpanSizeStr, defaultSpanSize)
	if err != nil {
		return fmt.Errorf("span_size: %w", err)
	}
	cfg.SpanSize = size
	return nil
}

func parseRetryableHTTPClientConfig(cfg *Config) error {
	if cfg.DialTimeoutMsec == 0 {
		cfg.DialTimeoutMsec = defaultDialTimeoutMsec
	}
	if cfg.ResponseHeaderTimeoutMsec == 0 {
		cfg.ResponseHeaderTimeoutMsec = defaultResponseHeaderTimeoutMsec
	}
	if cfg.RequestTimeoutMsec == 0 {
		cfg.RequestTimeoutMsec = defaultRequestTimeoutMsec
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	if cfg.MinWaitMsec == 0 {
		cfg.MinWaitMsec = defaultMinWaitMsec
	}
	if cfg.MaxWaitMsec == 0 {
		cfg.MaxWaitMsec = defaultMaxWaitMsec
	}
	return nil
}

// parseSize parses a size such as "512", "64kb" or "1.5 MB". Empty and
// zero sizes yield def.
func parseSize(sizeStr string, def int64) (int64, error) {
	if sizeStr == "" {
		return def, nil // use default value for empty string
	}

	matches := sizeRegex.FindStringSubmatch(sizeStr)
	if matches == nil {
		return 0, fmt.Errorf("invalid size format: %s", sizeStr)
	}

	numStr, unitStr := matches[1], strings.ToLower(strings.TrimSpace(matches[4]))
	num, err := strconv.ParseFloat(numStr, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse size number: %v", err)
	}

	multiplier, ok := unitMultipliers[unitStr]
	if !ok {
		return 0, fmt.Errorf("unknown size unit: %s", unitStr)
	}

	size := int64(num * multiplier)
	if size == 0 {
		size = def // use default value for zero size
	}

	return size, nil
}
