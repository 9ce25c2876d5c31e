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

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_ParsesYAMLOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "forge.yaml")
	contents := []byte(`
approval_required: false
pkg_fan_threshold: 7
clone_root: /srv/forge/repos
llm:
  provider: openai
  model: gpt-4o
  temperature: 0.5
`)
	require.NoError(t, os.WriteFile(path, contents, 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.False(t, cfg.ApprovalRequired)
	assert.Equal(t, 7, cfg.PKGFanThreshold)
	assert.Equal(t, "/srv/forge/repos", cfg.CloneRoot)
	assert.Equal(t, "openai", cfg.LLM.Provider)
	assert.Equal(t, "gpt-4o", cfg.LLM.Model)
	assert.InDelta(t, 0.5, cfg.LLM.Temperature, 0.0001)
	// Unset fields keep their Default() value.
	assert.Equal(t, 300, cfg.TestTimeoutSeconds)
}

func TestLoad_EnvOverridesWinOverYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "forge.yaml")
	require.NoError(t, os.WriteFile(path, []byte("host_api_token: from-yaml\n"), 0o644))

	t.Setenv("FORGE_HOST_API_TOKEN", "from-env")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.HostAPIToken)
}

func TestLoad_InvalidYAMLReturnsError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "forge.yaml")
	require.NoError(t, os.WriteFile(path, []byte("approval_required: [not a bool"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestConfig_TestTimeoutDefaultsWhenUnset(t *testing.T) {
	cfg := Config{}
	assert.Equal(t, 300*time.Second, cfg.TestTimeout())
}

func TestConfig_TestTimeoutHonorsConfiguredSeconds(t *testing.T) {
	cfg := Config{TestTimeoutSeconds: 60}
	assert.Equal(t, 60*time.Second, cfg.TestTimeout())
}
