// Copyright (C) 2025 sage-x-project
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.

// SPDX-License-Identifier: LGPL-3.0-or-later

// Package config provides configuration management for msgcore.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the main configuration structure.
type Config struct {
	Environment  string              `yaml:"environment" json:"environment"`
	Link         *LinkConfig         `yaml:"link" json:"link"`
	API          *APIConfig          `yaml:"api" json:"api"`
	KeyStore     *KeyStoreConfig     `yaml:"keystore" json:"keystore"`
	Logging      *LoggingConfig      `yaml:"logging" json:"logging"`
	Metrics      *MetricsConfig      `yaml:"metrics" json:"metrics"`
	Jobs         *JobsConfig         `yaml:"jobs" json:"jobs"`
	Provisioning *ProvisioningConfig `yaml:"provisioning" json:"provisioning"`
}

// LinkConfig configures the persistent websocket link to the server.
type LinkConfig struct {
	URL              string        `yaml:"url" json:"url"`
	Subprotocol      string        `yaml:"subprotocol" json:"subprotocol"`
	ReconnectMinWait time.Duration `yaml:"reconnect_min_wait" json:"reconnect_min_wait"`
	ReconnectMaxWait time.Duration `yaml:"reconnect_max_wait" json:"reconnect_max_wait"`
	WriteTimeout     time.Duration `yaml:"write_timeout" json:"write_timeout"`
}

// APIConfig configures the plain HTTP API client used for conversation/user
// sync and other REST collaborators.
type APIConfig struct {
	BaseURL string        `yaml:"base_url" json:"base_url"`
	Timeout time.Duration `yaml:"timeout" json:"timeout"`
}

// KeyStoreConfig configures where Signal identity/prekey material lives.
type KeyStoreConfig struct {
	Type      string `yaml:"type" json:"type"`
	Directory string `yaml:"directory" json:"directory"`
}

// LoggingConfig represents logging configuration.
type LoggingConfig struct {
	Level    string `yaml:"level" json:"level"`
	Format   string `yaml:"format" json:"format"`
	Output   string `yaml:"output" json:"output"`
	FilePath string `yaml:"file_path" json:"file_path"`
}

// MetricsConfig represents metrics configuration.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Port    int    `yaml:"port" json:"port"`
	Path    string `yaml:"path" json:"path"`
}

// JobsConfig configures the category job runners.
type JobsConfig struct {
	TickInterval time.Duration `yaml:"tick_interval" json:"tick_interval"`
}

// ProvisioningConfig configures the device-linking poll loop.
type ProvisioningConfig struct {
	PollInterval time.Duration `yaml:"poll_interval" json:"poll_interval"`
	PollTimeout  time.Duration `yaml:"poll_timeout" json:"poll_timeout"`
}

// LoadFromFile loads configuration from a file, accepting either YAML or
// JSON regardless of extension.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Config{}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file (tried YAML and JSON): %w", err)
		}
	}

	setDefaults(cfg)

	return cfg, nil
}

// SaveToFile saves configuration to a file, choosing the format by
// extension (".json" for JSON, otherwise YAML).
func SaveToFile(cfg *Config, path string) error {
	var data []byte
	var err error

	if len(path) >= 5 && path[len(path)-5:] == ".json" {
		data, err = json.MarshalIndent(cfg, "", "  ")
	} else {
		data, err = yaml.Marshal(cfg)
	}

	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// setDefaults fills in zero-valued fields with sane defaults, allocating
// any missing sub-config so every field is always safe to dereference.
func setDefaults(cfg *Config) {
	if cfg.Environment == "" {
		cfg.Environment = "development"
	}

	if cfg.Link == nil {
		cfg.Link = &LinkConfig{}
	}
	if cfg.API == nil {
		cfg.API = &APIConfig{}
	}
	if cfg.KeyStore == nil {
		cfg.KeyStore = &KeyStoreConfig{}
	}
	if cfg.Logging == nil {
		cfg.Logging = &LoggingConfig{}
	}
	if cfg.Metrics == nil {
		cfg.Metrics = &MetricsConfig{}
	}
	if cfg.Jobs == nil {
		cfg.Jobs = &JobsConfig{}
	}
	if cfg.Provisioning == nil {
		cfg.Provisioning = &ProvisioningConfig{}
	}

	if cfg.Link != nil {
		if cfg.Link.Subprotocol == "" {
			cfg.Link.Subprotocol = "Mixin-Blaze-1"
		}
		if cfg.Link.ReconnectMinWait == 0 {
			cfg.Link.ReconnectMinWait = 1 * time.Second
		}
		if cfg.Link.ReconnectMaxWait == 0 {
			cfg.Link.ReconnectMaxWait = 30 * time.Second
		}
		if cfg.Link.WriteTimeout == 0 {
			cfg.Link.WriteTimeout = 10 * time.Second
		}
	}

	if cfg.API != nil {
		if cfg.API.Timeout == 0 {
			cfg.API.Timeout = 15 * time.Second
		}
	}

	if cfg.KeyStore != nil {
		if cfg.KeyStore.Type == "" {
			cfg.KeyStore.Type = "file"
		}
		if cfg.KeyStore.Directory == "" {
			cfg.KeyStore.Directory = ".msgcore/keys"
		}
	}

	if cfg.Logging != nil {
		if cfg.Logging.Level == "" {
			cfg.Logging.Level = "info"
		}
		if cfg.Logging.Format == "" {
			cfg.Logging.Format = "json"
		}
		if cfg.Logging.Output == "" {
			cfg.Logging.Output = "stdout"
		}
	}

	if cfg.Metrics != nil {
		if cfg.Metrics.Port == 0 {
			cfg.Metrics.Port = 9090
		}
		if cfg.Metrics.Path == "" {
			cfg.Metrics.Path = "/metrics"
		}
	}

	if cfg.Jobs != nil {
		if cfg.Jobs.TickInterval == 0 {
			cfg.Jobs.TickInterval = 42 * time.Second
		}
	}

	if cfg.Provisioning != nil {
		if cfg.Provisioning.PollInterval == 0 {
			cfg.Provisioning.PollInterval = 3 * time.Second
		}
		if cfg.Provisioning.PollTimeout == 0 {
			cfg.Provisioning.PollTimeout = 5 * time.Minute
		}
	}
}
