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

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadFromFile_YAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	content := `
environment: staging
link:
  url: wss://example.test/blaze
keystore:
  directory: /tmp/keys
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write fixture: %v", err)
	}

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile() error = %v", err)
	}

	if cfg.Environment != "staging" {
		t.Errorf("Environment = %q, want staging", cfg.Environment)
	}
	if cfg.Link.URL != "wss://example.test/blaze" {
		t.Errorf("Link.URL = %q, want wss://example.test/blaze", cfg.Link.URL)
	}
	if cfg.Link.Subprotocol != "Mixin-Blaze-1" {
		t.Errorf("Link.Subprotocol default not applied: %q", cfg.Link.Subprotocol)
	}
}

func TestLoadFromFile_MissingFile(t *testing.T) {
	if _, err := LoadFromFile("/nonexistent/path/config.yaml"); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")

	cfg := &Config{
		Environment: "production",
		Jobs:        &JobsConfig{TickInterval: 42 * time.Second},
	}

	if err := SaveToFile(cfg, path); err != nil {
		t.Fatalf("SaveToFile() error = %v", err)
	}

	loaded, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile() error = %v", err)
	}

	if loaded.Environment != "production" {
		t.Errorf("Environment = %q, want production", loaded.Environment)
	}
	if loaded.Jobs.TickInterval != 42*time.Second {
		t.Errorf("Jobs.TickInterval = %v, want 42s", loaded.Jobs.TickInterval)
	}
}

func TestSetDefaults(t *testing.T) {
	cfg := &Config{
		Link:         &LinkConfig{},
		API:          &APIConfig{},
		KeyStore:     &KeyStoreConfig{},
		Logging:      &LoggingConfig{},
		Metrics:      &MetricsConfig{},
		Jobs:         &JobsConfig{},
		Provisioning: &ProvisioningConfig{},
	}

	setDefaults(cfg)

	if cfg.Environment != "development" {
		t.Errorf("Environment default = %q, want development", cfg.Environment)
	}
	if cfg.Link.ReconnectMinWait != time.Second {
		t.Errorf("Link.ReconnectMinWait default = %v, want 1s", cfg.Link.ReconnectMinWait)
	}
	if cfg.KeyStore.Directory != ".msgcore/keys" {
		t.Errorf("KeyStore.Directory default = %q", cfg.KeyStore.Directory)
	}
	if cfg.Jobs.TickInterval != 42*time.Second {
		t.Errorf("Jobs.TickInterval default = %v, want 42s", cfg.Jobs.TickInterval)
	}
	if cfg.Provisioning.PollInterval != 3*time.Second {
		t.Errorf("Provisioning.PollInterval default = %v, want 3s", cfg.Provisioning.PollInterval)
	}
}
