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
	"os"

	"github.com/pelletier/go-toml/v2"
)

const (
	// DefaultConfigPath is the default filesystem path for the soci-gunzip configuration file.
	DefaultConfigPath = "/etc/soci-inflate/config.toml"
)

type Config struct {
	// LogLevel is the logrus level name used by the command line tool.
	LogLevel string `toml:"log_level"`

	// MetricsAddress is address for the metrics API
	MetricsAddress string `toml:"metrics_address"`

	// MetricsNetwork is the type of network for the metrics API (e.g. tcp or unix)
	MetricsNetwork string `toml:"metrics_network"`

	// NoPrometheus is a flag to disable the emission of the metrics
	NoPrometheus bool `toml:"no_prometheus"`

	DecompressConfig          `toml:"decompress"`
	IndexConfig               `toml:"index"`
	RetryableHTTPClientConfig `toml:"http"`
}

type configParser func(*Config) error

var parsers = []configParser{parseRootConfig, parseDecompressConfig, parseIndexConfig, parseRetryableHTTPClientConfig}

// NewConfig returns an initialized Config with default values set.
func NewConfig() *Config {
	cfg := &Config{}

	// Set any defaults which do not align with Go zero values.
	cfg.Multistream = true
	if err := parseConfig(cfg); err != nil {
		panic("impossible: default config does not parse: " + err.Error())
	}
	return cfg
}

// NewConfigFromToml reads the config at cfgPath. A missing file at the
// default path yields the default config.
func NewConfigFromToml(cfgPath string) (*Config, error) {
	f, err := os.Open(cfgPath)
	if err != nil {
		if os.IsNotExist(err) && cfgPath == DefaultConfigPath {
			return NewConfig(), nil
		}
		return nil, fmt.Errorf("failed to open config file %q: %w", cfgPath, err)
	}
	defer f.Close()

	cfg := &Config{}
	cfg.Multistream = true
	// Get configuration from specified file
	if err = toml.NewDecoder(f).DisallowUnknownFields().Decode(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config file %q: %w", cfgPath, err)
	}
	if err := parseConfig(cfg); err != nil {
		return nil, fmt.Errorf("invalid config file %q: %w", cfgPath, err)
	}
	return cfg, nil
}

func parseConfig(cfg *Config) error {
	for _, p := range parsers {
		if err := p(cfg); err != nil {
			return err
		}
	}
	return nil
}

func parseRootConfig(cfg *Config) error {
	if cfg.LogLevel == "" {
		cfg.LogLevel = defaultLogLevel
	}
	if cfg.MetricsNetwork == "" {
		cfg.MetricsNetwork = defaultMetricsNetwork
	}
	return nil
}
