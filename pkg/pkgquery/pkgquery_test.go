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

package pkgquery

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kraklabs/forge/pkg/graphdb"
	"github.com/kraklabs/forge/pkg/pkgmodel"
)

func samplePKG() *pkgmodel.PKG {
	return &pkgmodel.PKG{
		Project: pkgmodel.Project{ID: "demo"},
		Modules: []pkgmodel.Module{
			{ID: "mod:src/main.ts", Path: "src/main.ts", Kind: []string{"module"}},
			{ID: "mod:src/services/widget.ts", Path: "src/services/widget.ts", Kind: []string{"service"}},
			{ID: "mod:src/services/base.ts", Path: "src/services/base.ts", Kind: []string{"service"}},
			{ID: "mod:src/app/app.component.ts", Path: "src/app/app.component.ts", Kind: []string{"component"}},
			{ID: "mod:src/controllers/widget.controller.ts", Path: "src/controllers/widget.controller.ts", Kind: []string{"controller"}},
		},
		Symbols: []pkgmodel.Symbol{
			{ID: "sym:mod:src/services/widget.ts:createWidget", ModuleID: "mod:src/services/widget.ts", Name: "createWidget", Kind: pkgmodel.SymbolFunction},
			{ID: "sym:mod:src/services/base.ts:Base", ModuleID: "mod:src/services/base.ts", Name: "Base", Kind: pkgmodel.SymbolClass},
		},
		Endpoints: []pkgmodel.Endpoint{
			{ID: "ep:/widgets#GET", Path: "/widgets", Method: "GET", HandlerModuleID: "mod:src/controllers/widget.controller.ts"},
			{ID: "ep:/widgets/:id#GET", Path: "/widgets/:id", Method: "GET", HandlerModuleID: "mod:src/controllers/widget.controller.ts"},
		},
		Edges: []pkgmodel.Edge{
			{From: "mod:src/services/widget.ts", To: "mod:src/services/base.ts", Type: pkgmodel.EdgeImports, Weight: 1},
			{From: "mod:src/controllers/widget.controller.ts", To: "mod:src/services/widget.ts", Type: pkgmodel.EdgeImports, Weight: 1},
			{From: "mod:src/controllers/widget.controller.ts", To: "mod:src/services/widget.ts", Type: pkgmodel.EdgeCalls, Weight: 1},
		},
	}
}

func TestModulesByTag_CaseInsensitiveSubstring(t *testing.T) {
	e := New(samplePKG(), nil)
	mods := e.ModulesByTag("SERV")
	assert.Len(t, mods, 2)
}

func TestModulesByPathPattern_StarGlob(t *testing.T) {
	e := New(samplePKG(), nil)
	mods := e.ModulesByPathPattern("src/services/*")
	assert.Len(t, mods, 2)
}

func TestModulesByKind_ExactCaseInsensitive(t *testing.T) {
	e := New(samplePKG(), nil)
	mods := e.ModulesByKind("COMPONENT")
	assert.Len(t, mods, 1)
	assert.Equal(t, "src/app/app.component.ts", mods[0].Path)
}

func TestModulesByFilename_ExactAndSubstring(t *testing.T) {
	e := New(samplePKG(), nil)
	assert.Len(t, e.ModulesByFilename("widget.ts"), 1)
	assert.Len(t, e.ModulesByFilename("widget"), 2)
}

func TestEndpointsByPath_Glob(t *testing.T) {
	e := New(samplePKG(), nil)
	eps := e.EndpointsByPath("/widgets*")
	assert.Len(t, eps, 2)
}

func TestSymbolsByName_Wildcard(t *testing.T) {
	e := New(samplePKG(), nil)
	syms := e.SymbolsByName("create*")
	assert.Len(t, syms, 1)
	assert.Equal(t, "createWidget", syms[0].Name)
}

func TestDependencies_CallersCalleesAndFanCounts(t *testing.T) {
	e := New(samplePKG(), nil)
	deps := e.Dependencies("mod:src/services/widget.ts")
	assert.Len(t, deps.Callers, 1)
	assert.Equal(t, "mod:src/controllers/widget.controller.ts", deps.Callers[0].ID)
	assert.Len(t, deps.Callees, 1)
	assert.Equal(t, "mod:src/services/base.ts", deps.Callees[0].ID)
	assert.Equal(t, 1, deps.FanIn)
	assert.Equal(t, 1, deps.FanOut)
}

func TestImpactedModules_BFSRespectsDepth(t *testing.T) {
	e := New(samplePKG(), nil)

	depth1 := e.ImpactedModules([]string{"mod:src/controllers/widget.controller.ts"}, 1)
	assert.Contains(t, depth1.ModuleIDs, "mod:src/services/widget.ts")
	assert.NotContains(t, depth1.ModuleIDs, "mod:src/services/base.ts")

	depth2 := e.ImpactedModules([]string{"mod:src/controllers/widget.controller.ts"}, 2)
	assert.Contains(t, depth2.ModuleIDs, "mod:src/services/base.ts")
	assert.Equal(t, "src/services/base.ts", depth2.Paths["mod:src/services/base.ts"])
}

func TestEntryPointModules_ClosedBasenameList(t *testing.T) {
	e := New(samplePKG(), nil)
	mods := e.EntryPointModules()
	assert.Len(t, mods, 1)
	assert.Equal(t, "src/main.ts", mods[0].Path)
}

func TestAppComponentModules_BasenameOrPathHeuristic(t *testing.T) {
	e := New(samplePKG(), nil)
	mods := e.AppComponentModules()
	assert.Len(t, mods, 1)
	assert.Equal(t, "src/app/app.component.ts", mods[0].Path)
}

func TestResolveSeedModules_PrefersFilenameOverOtherTiers(t *testing.T) {
	e := New(samplePKG(), nil)
	matches := e.ResolveSeedModules("widget.ts")
	require.NotEmpty(t, matches)
	assert.Equal(t, "filename", matches[0].MatchKind)
	assert.Equal(t, 100, matches[0].Confidence)
}

func TestResolveSeedModules_FallsBackToSymbolMatch(t *testing.T) {
	e := New(samplePKG(), nil)
	matches := e.ResolveSeedModules("createWidget")
	require.NotEmpty(t, matches)
	assert.Equal(t, "symbol", matches[0].MatchKind)
	assert.Equal(t, 40, matches[0].Confidence)
}

func newPopulatedGraphStore(t *testing.T, pkg *pkgmodel.PKG) *graphdb.Store {
	t.Helper()
	store, err := graphdb.Connect(nil, graphdb.Config{})
	require.NoError(t, err)
	require.NoError(t, store.WritePKG(context.Background(), pkg))
	return store
}

func TestGraphBackedModulesByTag_UsesDatalogModuleTagFacts(t *testing.T) {
	pkg := samplePKG()
	store := newPopulatedGraphStore(t, pkg)
	e := New(pkg, store)

	mods := e.ModulesByTag("service")
	assert.Len(t, mods, 2)

	ids, err := store.ModulesByTagGraph(pkg.Project.ID, "service")
	require.NoError(t, err)
	assert.Len(t, ids, 2)
}

func TestGraphBackedImpactedModules_UsesConnectedRule(t *testing.T) {
	pkg := samplePKG()
	store := newPopulatedGraphStore(t, pkg)
	e := New(pkg, store)

	adjacency, err := store.ConnectedAdjacency(pkg.Project.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, adjacency)

	graphResult := e.ImpactedModules([]string{"mod:src/controllers/widget.controller.ts"}, 2)
	assert.Contains(t, graphResult.ModuleIDs, "mod:src/services/base.ts")
}

// TestGraphBackedEngine_FallsBackToMemoryOnMiss exercises spec §4.7's
// fallback-transparency guarantee: an Engine built over a populated
// *graphdb.Store is queried through the graph path, then the graph path is
// disabled mid-session, and the results before and after must be
// deep-equal.
func TestGraphBackedEngine_FallsBackToMemoryOnMiss(t *testing.T) {
	pkg := samplePKG()
	store := newPopulatedGraphStore(t, pkg)
	e := New(pkg, store)

	before := e.ModulesByTag("service")
	require.Len(t, before, 2)
	beforeImpact := e.ImpactedModules([]string{"mod:src/controllers/widget.controller.ts"}, 2)

	e.DisableGraph()

	after := e.ModulesByTag("service")
	afterImpact := e.ImpactedModules([]string{"mod:src/controllers/widget.controller.ts"}, 2)

	assert.Equal(t, before, after)
	assert.Equal(t, beforeImpact, afterImpact)
}

func TestGraphBackedEngine_MissingProjectFallsBackToMemory(t *testing.T) {
	pkg := samplePKG()
	store, err := graphdb.Connect(nil, graphdb.Config{})
	require.NoError(t, err)

	withoutGraph := New(pkg, nil)
	withGraph := New(pkg, store)

	assert.Equal(t, withoutGraph.ModulesByTag("service"), withGraph.ModulesByTag("service"))
}
