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

package graphdb

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kraklabs/forge/pkg/pkgmodel"
)

func TestConnect_CompilesSchema(t *testing.T) {
	store, err := Connect(nil, DefaultConfig())
	require.NoError(t, err)
	require.NotNil(t, store)
	defer store.Close()
}

func TestWritePKG_RoundTripsFacts(t *testing.T) {
	store, err := Connect(nil, DefaultConfig())
	require.NoError(t, err)
	defer store.Close()

	pkg := &pkgmodel.PKG{
		Project: pkgmodel.Project{ID: "demo", Name: "demo", RootPath: "/repo"},
		Modules: []pkgmodel.Module{
			{ID: "mod:src/a.ts", Path: "src/a.ts", Hash: "deadbeef"},
		},
		Symbols: []pkgmodel.Symbol{
			{ID: "sym:mod:src/a.ts:run", ModuleID: "mod:src/a.ts", Name: "run", Kind: pkgmodel.SymbolFunction},
		},
		Edges: []pkgmodel.Edge{
			{From: "mod:src/a.ts", To: "mod:src/b.ts", Type: pkgmodel.EdgeImports, Weight: 1},
		},
	}

	require.NoError(t, store.WritePKG(context.Background(), pkg))

	modules, err := store.GetFacts("module")
	require.NoError(t, err)
	assert.Len(t, modules, 1)

	imports, err := store.GetFacts("edge_imports")
	require.NoError(t, err)
	assert.Len(t, imports, 1)
}

func TestWriteEdges_BatchesLargeSets(t *testing.T) {
	store, err := Connect(nil, Config{MaxRetries: 1, BatchSize: 10})
	require.NoError(t, err)
	defer store.Close()

	var edges []pkgmodel.Edge
	for i := 0; i < 25; i++ {
		edges = append(edges, pkgmodel.Edge{
			From: "mod:a", To: "mod:b", Type: pkgmodel.EdgeCalls, Weight: 1,
		})
	}
	require.NoError(t, store.WriteEdges(context.Background(), edges))
}

func TestClear_RemovesFacts(t *testing.T) {
	store, err := Connect(nil, DefaultConfig())
	require.NoError(t, err)
	defer store.Close()

	pkg := &pkgmodel.PKG{
		Project: pkgmodel.Project{ID: "demo", Name: "demo"},
		Modules: []pkgmodel.Module{{ID: "mod:a", Path: "a.ts", Hash: "x"}},
	}
	require.NoError(t, store.WritePKG(context.Background(), pkg))
	store.Clear()

	modules, err := store.GetFacts("module")
	require.NoError(t, err)
	assert.Empty(t, modules)
}
