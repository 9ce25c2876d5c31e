// Copyright 2025 KrakLabs
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.
//
// For commercial licensing, contact: licensing@kraklabs.com
//
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config loads forge's server configuration (spec §6): a YAML
// file supplying defaults, with environment variables overriding any
// field whose value is meaningful as a secret or deployment-specific
// override (API tokens, graph-DB URI and password, clone root, listen
// address, approval flag).
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is forge's top-level server configuration (spec §6).
type Config struct {
	ApprovalRequired   bool          `yaml:"approval_required"`
	TestTimeoutSeconds int           `yaml:"test_timeout_seconds"`
	PKGFanThreshold    int           `yaml:"pkg_fan_threshold"`
	CloneRoot          string        `yaml:"clone_root"`
	GraphDB            GraphDBConfig `yaml:"graph_db"`
	LLM                LLMConfig     `yaml:"llm"`
	GitUserName        string        `yaml:"git_user_name"`
	GitUserEmail       string        `yaml:"git_user_email"`
	HostAPIToken       string        `yaml:"host_api_token"`
	ListenAddr         string        `yaml:"listen_addr"`
}

// GraphDBConfig addresses the graph database backing pkg/graphdb.
// URI/User/Password/Database are carried for spec completeness but are
// not consumed by pkg/graphdb.Connect: that package embeds a pure-Go
// Datalog engine (google/mangle) in-process rather than dialing a remote
// server, so there is nothing for those fields to configure today. They
// stay on the struct so a future remote-backed graphdb implementation
// has somewhere to read them from without a config-surface change.
// MaxRetries/RetryDelay/BatchSize map directly onto graphdb.Config.
type GraphDBConfig struct {
	URI              string `yaml:"uri,omitempty"`
	User             string `yaml:"user,omitempty"`
	Password         string `yaml:"password,omitempty"`
	Database         string `yaml:"database,omitempty"`
	MaxRetries       int    `yaml:"max_retries"`
	RetryDelayMillis int    `yaml:"retry_delay_ms"`
	BatchSize        int    `yaml:"batch_size"`
}

// RetryDelay returns RetryDelayMillis as a time.Duration.
func (c GraphDBConfig) RetryDelay() time.Duration {
	return time.Duration(c.RetryDelayMillis) * time.Millisecond
}

// LLMConfig configures the shared provider every LLM-consuming
// component (pkg/intent, pkg/queryhandler, pkg/diagram, pkg/planner,
// pkg/editor) wires against.
type LLMConfig struct {
	Provider    string  `yaml:"provider"`
	Model       string  `yaml:"model"`
	Temperature float64 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
	APIKey      string  `yaml:"api_key"`
	BaseURL     string  `yaml:"base_url,omitempty"`
}

// Default returns spec §6's documented defaults.
func Default() Config {
	return Config{
		ApprovalRequired:   true,
		TestTimeoutSeconds: 300,
		PKGFanThreshold:    3,
		CloneRoot:          "./cloned_repos",
		ListenAddr:         ":9191",
		GraphDB: GraphDBConfig{
			MaxRetries:       5,
			RetryDelayMillis: 200,
			BatchSize:        1000,
		},
		LLM: LLMConfig{
			Provider:    "anthropic",
			Temperature: 0.2,
			MaxTokens:   4096,
		},
	}
}

// Load reads path as YAML over Default(), then applies environment
// overrides. A missing path is not an error: Default() plus environment
// overrides alone is a valid configuration.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("parse config %s: %w", path, err)
			}
		case os.IsNotExist(err):
			// fall through to defaults + environment
		default:
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	applyEnvOverrides(&cfg)
	return cfg, nil
}

// TestTimeout returns TestTimeoutSeconds as a time.Duration, defaulting
// to 300s if unset or non-positive.
func (c Config) TestTimeout() time.Duration {
	if c.TestTimeoutSeconds <= 0 {
		return 300 * time.Second
	}
	return time.Duration(c.TestTimeoutSeconds) * time.Second
}

// applyEnvOverrides lets deployment-specific and secret values be
// supplied without editing the YAML file on disk, following the same
// "env wins if set" convention used throughout the example pack's own
// configuration loaders.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("FORGE_HOST_API_TOKEN"); v != "" {
		cfg.HostAPIToken = v
	}
	if v := os.Getenv("FORGE_LLM_API_KEY"); v != "" {
		cfg.LLM.APIKey = v
	}
	if v := os.Getenv("FORGE_GRAPH_DB_URI"); v != "" {
		cfg.GraphDB.URI = v
	}
	if v := os.Getenv("FORGE_GRAPH_DB_PASSWORD"); v != "" {
		cfg.GraphDB.Password = v
	}
	if v := os.Getenv("FORGE_CLONE_ROOT"); v != "" {
		cfg.CloneRoot = v
	}
	if v := os.Getenv("FORGE_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("FORGE_APPROVAL_REQUIRED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.ApprovalRequired = b
		}
	}
}
