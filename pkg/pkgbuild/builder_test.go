// Copyright 2025 KrakLabs
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//
// SPDX-License-Identifier: Apache-2.0

package pkgbuild

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestBuild_ProducesValidPKG(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "src/services/widget.ts", `
import { Base } from './base'

export function createWidget() {
  return helper()
}

function helper() {
  return 1
}
`)
	writeFile(t, root, "src/services/base.ts", `
export class Base {}
`)
	writeFile(t, root, "src/routes/api.ts", `
app.get('/widgets', createWidget)
`)

	b := New(nil)
	pkg, err := b.Build(context.Background(), Config{RootPath: root})
	require.NoError(t, err)
	require.NoError(t, pkg.Validate())

	assert.NotEmpty(t, pkg.Modules)
	assert.Equal(t, pkgmodelCurrentVersion(), pkg.Version)
	assert.NotEmpty(t, pkg.Endpoints)

	var apiModule bool
	for _, ep := range pkg.Endpoints {
		if ep.Path == "/widgets" {
			apiModule = true
			assert.Equal(t, "GET", ep.Method)
		}
	}
	assert.True(t, apiModule, "expected a /widgets endpoint")
}

func TestBuild_FanThresholdAttachesSummaries(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "src/a.ts", `import { shared } from './shared'`)
	writeFile(t, root, "src/b.ts", `import { shared } from './shared'`)
	writeFile(t, root, "src/c.ts", `import { shared } from './shared'`)
	writeFile(t, root, "src/shared.ts", `export function shared() { return 1 }`)

	b := New(nil)
	pkg, err := b.Build(context.Background(), Config{RootPath: root, FanThreshold: 3})
	require.NoError(t, err)

	var sharedSymbol *string
	for _, s := range pkg.Symbols {
		if s.Name == "shared" {
			sharedSymbol = &s.Summary
		}
	}
	require.NotNil(t, sharedSymbol)
	assert.NotEmpty(t, *sharedSymbol, "expected a summary on a symbol in a high fan-in module")
}

func TestBuild_FeaturesFromFolderPrefixes(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "src/billing/invoice.ts", `export function total() { return 1 }`)

	b := New(nil)
	pkg, err := b.Build(context.Background(), Config{RootPath: root})
	require.NoError(t, err)

	var found bool
	for _, f := range pkg.Features {
		if f.Name == "billing" {
			found = true
			assert.NotEmpty(t, f.ModuleIDs)
		}
	}
	assert.True(t, found, "expected a billing feature derived from the folder path")
}

func pkgmodelCurrentVersion() string {
	return "1.0.0"
}
