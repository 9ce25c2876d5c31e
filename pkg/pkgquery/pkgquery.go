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

// Package pkgquery implements the PKG Query Engine (spec component C7): a
// read-side API over a built PKG's modules, symbols, endpoints, and edges.
// Every operation has an in-memory implementation operating directly on a
// *pkgmodel.PKG; when a graph-database backend is attached, each operation
// first attempts a graph-DB path and transparently falls back to the
// in-memory path on any failure, so callers never observe a graph-DB
// outage as an error.
package pkgquery

import (
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/kraklabs/forge/pkg/graphdb"
	"github.com/kraklabs/forge/pkg/pkgmodel"
)

// entryPointBasenames is the closed list of basenames (spec §4.7) that
// identify an application's entry module.
var entryPointBasenames = map[string]bool{
	"main.ts": true, "main.js": true, "main.tsx": true, "main.jsx": true,
	"app.py": true, "main.py": true, "__main__.py": true,
	"main.java": true, "application.java": true,
	"program.cs": true, "main.cs": true,
	"main.cpp": true, "main.c": true,
}

// appComponentBasenameRe matches the closed set of "app root component"
// basename patterns from spec §4.7.
var appComponentBasenameRe = regexp.MustCompile(`(?i)^(app\.component\.(tsx?|jsx?)|app\..+|main\.component\.ts|root\.component\.ts)$`)

// Dependencies is the result of a dependencies(moduleId) query.
type Dependencies struct {
	Callers []pkgmodel.Module
	Callees []pkgmodel.Module
	FanIn   int
	FanOut  int
}

// ImpactResult is the result of an impactedModules(seedIds, depth) query.
type ImpactResult struct {
	ModuleIDs []string
	Paths     map[string]string
}

// Engine answers read queries over a PKG, transparently preferring a
// graph-database backend when one is attached (spec §4.7: "falls back
// from graph-DB to in-memory transparently").
type Engine struct {
	pkg      *pkgmodel.PKG
	graph    *graphdb.Store // nil disables the graph-DB path entirely
	disabled bool           // set by DisableGraph, simulates the graph DB going away mid-session
}

// New creates an Engine over pkg. graph may be nil.
func New(pkg *pkgmodel.PKG, graph *graphdb.Store) *Engine {
	return &Engine{pkg: pkg, graph: graph}
}

// PKG returns the underlying PKG document.
func (e *Engine) PKG() *pkgmodel.PKG {
	return e.pkg
}

// DisableGraph turns off the graph-DB path for the remainder of this
// Engine's lifetime, without discarding the attached *graphdb.Store. It
// exists so tests (and callers reacting to a graph-DB outage mid-session)
// can exercise spec §4.7's fallback-transparency guarantee: every
// subsequent query must return results identical to what it returned
// before the graph DB was consulted.
func (e *Engine) DisableGraph() {
	e.disabled = true
}

// graphActive reports whether this Engine should still attempt the
// graph-DB path.
func (e *Engine) graphActive() bool {
	return e.graph != nil && !e.disabled
}

// source returns the PKG document every read below should draw from: the
// graph database's own rehydrated snapshot when one is attached, active,
// and populated for this project, else the in-memory document the Engine
// was constructed with. This is what makes "every operation has an
// in-memory and a graph-DB implementation selected per call" (spec §4.7)
// true generically instead of per-method.
func (e *Engine) source() *pkgmodel.PKG {
	if e.graphActive() {
		if pkg, ok := e.graph.ReadPKG(e.pkg.Project.ID); ok {
			return pkg
		}
	}
	return e.pkg
}

// SeedMatch is one candidate module found while resolving a free-text
// query string into seed module IDs, with a confidence score in [30, 100]
// reflecting how the match was found (spec §4.10: "filename exact > kind >
// tag > path substring > symbol match > feature name, with integer
// confidence 30–100").
type SeedMatch struct {
	ModuleID   string
	MatchKind  string // "filename" | "kind" | "tag" | "path" | "symbol" | "feature"
	Confidence int
}

// ResolveSeedModules resolves a free-text query (a module name, a kind
// name, a tag, a path fragment, a symbol name, or a feature name) into
// candidate seed modules, tried in the priority order spec §4.10 and
// §4.9 share: filename exact (100), kind (85), tag (70), path substring
// (55), symbol match (40), feature name (30). The first tier that
// produces any match wins; ResolveSeedModules does not mix tiers.
func (e *Engine) ResolveSeedModules(query string) []SeedMatch {
	if query == "" {
		return nil
	}

	if mods := e.ModulesByFilename(query); len(mods) > 0 {
		return toSeedMatches(mods, "filename", 100)
	}
	if mods := e.ModulesByKind(query); len(mods) > 0 {
		return toSeedMatches(mods, "kind", 85)
	}
	if mods := e.ModulesByTag(query); len(mods) > 0 {
		return toSeedMatches(mods, "tag", 70)
	}
	if mods := e.modulesByPathSubstring(query); len(mods) > 0 {
		return toSeedMatches(mods, "path", 55)
	}
	if mods := e.modulesBySymbolMatch(query); len(mods) > 0 {
		return toSeedMatches(mods, "symbol", 40)
	}
	if mods := e.modulesByFeatureName(query); len(mods) > 0 {
		return toSeedMatches(mods, "feature", 30)
	}
	return nil
}

func toSeedMatches(mods []pkgmodel.Module, kind string, confidence int) []SeedMatch {
	out := make([]SeedMatch, 0, len(mods))
	for _, m := range mods {
		out = append(out, SeedMatch{ModuleID: m.ID, MatchKind: kind, Confidence: confidence})
	}
	return out
}

func (e *Engine) modulesByPathSubstring(query string) []pkgmodel.Module {
	needle := strings.ToLower(query)
	var out []pkgmodel.Module
	for _, m := range e.source().Modules {
		if strings.Contains(strings.ToLower(m.Path), needle) {
			out = append(out, m)
		}
	}
	return out
}

func (e *Engine) modulesBySymbolMatch(query string) []pkgmodel.Module {
	needle := strings.ToLower(query)
	src := e.source()
	seen := map[string]bool{}
	var out []pkgmodel.Module
	for _, s := range src.Symbols {
		if !strings.Contains(strings.ToLower(s.Name), needle) {
			continue
		}
		if seen[s.ModuleID] {
			continue
		}
		if m, ok := src.ModuleByID(s.ModuleID); ok {
			seen[s.ModuleID] = true
			out = append(out, m)
		}
	}
	return out
}

func (e *Engine) modulesByFeatureName(query string) []pkgmodel.Module {
	needle := strings.ToLower(query)
	src := e.source()
	var matched []string
	for _, f := range src.Features {
		if strings.Contains(strings.ToLower(f.Name), needle) {
			matched = append(matched, f.ModuleIDs...)
		}
	}
	var out []pkgmodel.Module
	for _, id := range matched {
		if m, ok := src.ModuleByID(id); ok {
			out = append(out, m)
		}
	}
	return out
}

// ModulesByTag returns modules whose kind list contains tag as a
// case-insensitive substring of any entry (spec §4.7). The result is
// sorted by path regardless of which path answered the query, so toggling
// the graph-DB path mid-session (DisableGraph) cannot change the observed
// order of an otherwise-identical result set.
func (e *Engine) ModulesByTag(tag string) []pkgmodel.Module {
	var out []pkgmodel.Module
	if e.graphActive() {
		if mods, ok := e.modulesByTagGraph(tag); ok {
			out = mods
		}
	}
	// module_tag only answers exact tags, so the substring scan always runs
	// and adds every module the graph lookup did not return.
	seen := map[string]bool{}
	for _, m := range out {
		seen[m.ID] = true
	}
	for _, m := range e.modulesByTagMemory(tag) {
		if !seen[m.ID] {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

func (e *Engine) modulesByTagMemory(tag string) []pkgmodel.Module {
	needle := strings.ToLower(tag)
	var out []pkgmodel.Module
	for _, m := range e.pkg.Modules {
		for _, k := range m.Kind {
			if strings.Contains(strings.ToLower(k), needle) {
				out = append(out, m)
				break
			}
		}
	}
	return out
}

// modulesByTagGraph runs the graph-DB path: a Datalog lookup over the
// module_tag facts WriteModules wrote, not a rehydrate-then-filter. It
// only ever matches tag as an exact lowercase value (module_tag stores one
// fact per Kind entry verbatim), so a substring query that matches no
// module_tag fact falls back to the in-memory substring scan rather than
// being treated as an error.
func (e *Engine) modulesByTagGraph(tag string) ([]pkgmodel.Module, bool) {
	ids, err := e.graph.ModulesByTagGraph(e.pkg.Project.ID, tag)
	if err != nil || len(ids) == 0 {
		return nil, false
	}
	src := e.source()
	out := make([]pkgmodel.Module, 0, len(ids))
	for _, id := range ids {
		if m, ok := src.ModuleByID(id); ok {
			out = append(out, m)
		}
	}
	if len(out) == 0 {
		return nil, false
	}
	return out, true
}

// ModulesByPathPattern returns modules whose path matches glob, a
// "*"-only glob pattern compiled to a regex (spec §4.7).
func (e *Engine) ModulesByPathPattern(glob string) []pkgmodel.Module {
	re := compileStarGlob(glob)
	var out []pkgmodel.Module
	for _, m := range e.source().Modules {
		if re.MatchString(m.Path) {
			out = append(out, m)
		}
	}
	return out
}

// ModulesByKind returns modules whose kind list contains an exact,
// case-insensitive match of kind, sorted by path so the result is stable
// regardless of which path (graph or memory) answered the query.
func (e *Engine) ModulesByKind(kind string) []pkgmodel.Module {
	var out []pkgmodel.Module
	if e.graphActive() {
		if mods, ok := e.modulesByTagGraph(kind); ok {
			out = modulesWithExactKind(mods, kind)
		}
	}
	if out == nil {
		out = modulesWithExactKind(e.source().Modules, kind)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

func modulesWithExactKind(mods []pkgmodel.Module, kind string) []pkgmodel.Module {
	target := strings.ToLower(kind)
	var out []pkgmodel.Module
	for _, m := range mods {
		for _, k := range m.Kind {
			if strings.ToLower(k) == target {
				out = append(out, m)
				break
			}
		}
	}
	return out
}

// ModulesByFilename returns modules whose basename equals name exactly, or
// contains name as a substring, per spec §4.7.
func (e *Engine) ModulesByFilename(name string) []pkgmodel.Module {
	var out []pkgmodel.Module
	for _, m := range e.source().Modules {
		base := filepath.Base(m.Path)
		if base == name || strings.Contains(base, name) {
			out = append(out, m)
		}
	}
	return out
}

// EndpointsByPath returns endpoints whose path matches pattern, the same
// "*"-only glob-to-regex rule used by ModulesByPathPattern.
func (e *Engine) EndpointsByPath(pattern string) []pkgmodel.Endpoint {
	re := compileStarGlob(pattern)
	var out []pkgmodel.Endpoint
	for _, ep := range e.source().Endpoints {
		if re.MatchString(ep.Path) {
			out = append(out, ep)
		}
	}
	return out
}

// SymbolsByName returns symbols whose name matches pattern, a "*"-only
// wildcard pattern (spec §4.7).
func (e *Engine) SymbolsByName(pattern string) []pkgmodel.Symbol {
	re := compileStarGlob(pattern)
	var out []pkgmodel.Symbol
	for _, s := range e.source().Symbols {
		if re.MatchString(s.Name) {
			out = append(out, s)
		}
	}
	return out
}

// Dependencies returns moduleId's callers, callees, and fan-in/fan-out,
// derived from edges of type imports and calls (spec §4.7).
func (e *Engine) Dependencies(moduleID string) Dependencies {
	src := e.source()
	callerIDs := map[string]bool{}
	calleeIDs := map[string]bool{}
	fanIn, fanOut := 0, 0

	for _, edge := range src.Edges {
		if edge.Type != pkgmodel.EdgeImports && edge.Type != pkgmodel.EdgeCalls {
			continue
		}
		if edge.To == moduleID {
			callerIDs[edge.From] = true
			if edge.Type == pkgmodel.EdgeImports {
				fanIn++
			}
		}
		if edge.From == moduleID {
			calleeIDs[edge.To] = true
			if edge.Type == pkgmodel.EdgeImports {
				fanOut++
			}
		}
	}

	return Dependencies{
		Callers: resolveModules(src, callerIDs),
		Callees: resolveModules(src, calleeIDs),
		FanIn:   fanIn,
		FanOut:  fanOut,
	}
}

func resolveModules(pkg *pkgmodel.PKG, ids map[string]bool) []pkgmodel.Module {
	var out []pkgmodel.Module
	for id := range ids {
		if m, ok := pkg.ModuleByID(id); ok {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// maxImpactNodes bounds BFS exploration, mirroring the teacher's
// TracePath's maxNodesExplored guard against runaway graphs.
const maxImpactNodes = 5000

// ImpactedModules runs a breadth-first search over the union of caller and
// callee directions starting from seedIDs, up to depth hops, and returns
// every reached module ID together with its path (spec §4.7).
func (e *Engine) ImpactedModules(seedIDs []string, depth int) ImpactResult {
	adjacency, src := e.impactAdjacency()

	visited := map[string]int{}
	queue := make([]string, 0, len(seedIDs))
	for _, id := range seedIDs {
		if _, ok := visited[id]; !ok {
			visited[id] = 0
			queue = append(queue, id)
		}
	}

	for len(queue) > 0 && len(visited) < maxImpactNodes {
		current := queue[0]
		queue = queue[1:]
		currentDepth := visited[current]
		if currentDepth >= depth {
			continue
		}
		for _, next := range adjacency[current] {
			if _, seen := visited[next]; !seen {
				visited[next] = currentDepth + 1
				queue = append(queue, next)
			}
		}
	}

	paths := map[string]string{}
	ids := make([]string, 0, len(visited))
	for id := range visited {
		ids = append(ids, id)
		if m, ok := src.ModuleByID(id); ok {
			paths[id] = m.Path
		}
	}
	sort.Strings(ids)
	return ImpactResult{ModuleIDs: ids, Paths: paths}
}

// impactAdjacency returns the undirected imports/calls adjacency map
// ImpactedModules walks, and the PKG document paths should be resolved
// against. When the graph DB is active, the adjacency comes from the
// connected rule's own recursive Datalog evaluation rather than a Go-side
// scan of e.pkg.Edges; on any miss it falls back to buildUndirectedAdjacency.
func (e *Engine) impactAdjacency() (map[string][]string, *pkgmodel.PKG) {
	src := e.source()
	if e.graphActive() {
		if adjacency, err := e.graph.ConnectedAdjacency(e.pkg.Project.ID); err == nil && len(adjacency) > 0 {
			return adjacency, src
		}
	}
	return e.buildUndirectedAdjacency(src), src
}

func (e *Engine) buildUndirectedAdjacency(src *pkgmodel.PKG) map[string][]string {
	adjacency := map[string][]string{}
	for _, edge := range src.Edges {
		if edge.Type != pkgmodel.EdgeImports && edge.Type != pkgmodel.EdgeCalls {
			continue
		}
		adjacency[edge.From] = append(adjacency[edge.From], edge.To)
		adjacency[edge.To] = append(adjacency[edge.To], edge.From)
	}
	return adjacency
}

// EntryPointModules returns modules whose basename matches the closed
// entry-point basename list (spec §4.7).
func (e *Engine) EntryPointModules() []pkgmodel.Module {
	var out []pkgmodel.Module
	for _, m := range e.source().Modules {
		base := strings.ToLower(filepath.Base(m.Path))
		if entryPointBasenames[base] || strings.HasPrefix(base, "index.") {
			out = append(out, m)
		}
	}
	return out
}

// AppComponentModules returns modules whose basename matches the
// app-component pattern, or whose path contains both "app" and
// "component" (spec §4.7).
func (e *Engine) AppComponentModules() []pkgmodel.Module {
	var out []pkgmodel.Module
	for _, m := range e.source().Modules {
		base := strings.ToLower(filepath.Base(m.Path))
		lowerPath := strings.ToLower(m.Path)
		if appComponentBasenameRe.MatchString(base) ||
			(strings.Contains(lowerPath, "app") && strings.Contains(lowerPath, "component")) {
			out = append(out, m)
		}
	}
	return out
}

// compileStarGlob compiles a "*"-only glob pattern (spec §4.7: "*-only
// glob, regex-compiled") into an anchored, case-insensitive regexp. Every
// other regex metacharacter in pattern is escaped literally.
func compileStarGlob(pattern string) *regexp.Regexp {
	var b strings.Builder
	b.WriteString("(?i)^")
	for _, r := range pattern {
		if r == '*' {
			b.WriteString(".*")
			continue
		}
		b.WriteString(regexp.QuoteMeta(string(r)))
	}
	b.WriteString("$")
	re, err := regexp.Compile(b.String())
	if err != nil {
		// Pattern could not be compiled even after escaping; fall back to
		// a regex matching nothing rather than panicking on caller input.
		return regexp.MustCompile(`$^`)
	}
	return re
}
