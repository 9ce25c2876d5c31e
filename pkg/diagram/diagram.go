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

// Package diagram implements the Diagram Generator (spec component C10):
// architecture and dependency Mermaid diagrams built from a PKG, rendered
// through a four-step fallback chain that degrades gracefully from a
// headless-browser screenshot down to a raw fenced code block.
package diagram

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/kraklabs/forge/pkg/llm"
	"github.com/kraklabs/forge/pkg/pkgmodel"
	"github.com/kraklabs/forge/pkg/pkgquery"
)

// Direction filters a focused dependency diagram's expansion.
type Direction string

const (
	DirectionBoth     Direction = "both"
	DirectionIncoming Direction = "incoming"
	DirectionOutgoing Direction = "outgoing"
)

// Metadata describes how a diagram was rendered.
type Metadata struct {
	Rendered   bool   `json:"rendered"`
	Method     string `json:"method"` // "headless_browser" | "cli" | "http_service" | "raw"
	Width      int    `json:"width,omitempty"`
	Height     int    `json:"height,omitempty"`
	Resolution int    `json:"resolution,omitempty"`
}

// Response is the Diagram Generator's output contract (spec §4.10).
type Response struct {
	Content     string   `json:"content"` // rendered image path, or the raw mermaid block when unrendered
	MermaidCode string   `json:"mermaid_code,omitempty"`
	Metadata    Metadata `json:"metadata"`
}

// DependencyDiagramOptions configures a standard or focused dependency diagram.
type DependencyDiagramOptions struct {
	Focus     string    // free-text seed query; empty means "standard" (whole PKG)
	Depth     int       // BFS expansion depth when Focus is set
	Direction Direction // "both" | "incoming" | "outgoing", used when Focus is set
}

// Generator builds and renders diagrams over a PKG.
type Generator struct {
	engine   *pkgquery.Engine
	provider llm.Provider // nil disables the LLM-prompted architecture layout
	renderer Renderer
	logger   *slog.Logger
}

// New creates a Generator. provider may be nil.
func New(engine *pkgquery.Engine, provider llm.Provider, renderer Renderer, logger *slog.Logger) *Generator {
	if logger == nil {
		logger = slog.Default()
	}
	if renderer == nil {
		renderer = DefaultRenderer()
	}
	return &Generator{engine: engine, provider: provider, renderer: renderer, logger: logger}
}

// Architecture builds the whole-PKG architecture diagram. It prompts the
// LLM for a graph-TD diagram grouped into layers; if the LLM is
// unavailable, it falls back to a plain dependency diagram (spec §4.10).
func (g *Generator) Architecture(ctx context.Context) Response {
	summary := g.buildArchitectureSummary()

	var mermaid string
	if g.provider != nil {
		resp, err := g.provider.Chat(ctx, llm.ChatRequest{
			Messages: []llm.Message{
				{Role: "system", Content: "Produce a Mermaid graph TD diagram grouping the modules below into architectural layers. Respond with only the mermaid code block contents, no prose."},
				{Role: "user", Content: summary},
			},
		})
		if err != nil {
			g.logger.Warn("diagram.architecture.llm_unreachable", "err", err)
		} else {
			mermaid = stripFences(resp.Message.Content)
		}
	}
	if mermaid == "" {
		mermaid = g.plainDependencyMermaid(DependencyDiagramOptions{})
	}

	return g.render(ctx, mermaid)
}

// Dependency builds a standard or focused dependency diagram directly from
// the PKG (spec §4.10).
func (g *Generator) Dependency(ctx context.Context, opts DependencyDiagramOptions) Response {
	mermaid := g.plainDependencyMermaid(opts)
	return g.render(ctx, mermaid)
}

func (g *Generator) buildArchitectureSummary() string {
	pkg := g.engine.PKG()

	kindCounts := map[string]int{}
	for _, m := range pkg.Modules {
		for _, k := range m.Kind {
			kindCounts[k]++
		}
	}
	kinds := sortedStringKeys(kindCounts)

	entryPoints := g.engine.EntryPointModules()
	critical := criticalModulesByFanIn(pkg, 5)

	edgeTypeCounts := map[pkgmodel.EdgeType]int{}
	for _, e := range pkg.Edges {
		edgeTypeCounts[e.Type]++
	}

	var b strings.Builder
	b.WriteString("Modules by kind:\n")
	for _, k := range kinds {
		fmt.Fprintf(&b, "- %s: %d\n", k, kindCounts[k])
	}
	b.WriteString("Entry points:\n")
	for _, m := range entryPoints {
		fmt.Fprintf(&b, "- %s\n", m.Path)
	}
	b.WriteString("Critical modules (highest fan-in):\n")
	for _, m := range critical {
		fmt.Fprintf(&b, "- %s (fan-in %d)\n", m.Path, m.FanIn)
	}
	b.WriteString("Features:\n")
	for _, f := range pkg.Features {
		fmt.Fprintf(&b, "- %s\n", f.Name)
	}
	b.WriteString("Edge counts by type:\n")
	for t, count := range edgeTypeCounts {
		fmt.Fprintf(&b, "- %s: %d\n", t, count)
	}
	return b.String()
}

func criticalModulesByFanIn(pkg *pkgmodel.PKG, limit int) []pkgmodel.Module {
	fanIn := map[string]int{}
	for _, e := range pkg.Edges {
		if e.Type == pkgmodel.EdgeImports {
			fanIn[e.To]++
		}
	}
	modules := append([]pkgmodel.Module(nil), pkg.Modules...)
	for i := range modules {
		modules[i].FanIn = fanIn[modules[i].ID]
	}
	sort.Slice(modules, func(i, j int) bool { return modules[i].FanIn > modules[j].FanIn })
	if len(modules) > limit {
		modules = modules[:limit]
	}
	return modules
}

func sortedStringKeys(m map[string]int) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// plainDependencyMermaid builds a standard (whole-PKG) or focused
// (seed-expanded) dependency diagram as Mermaid graph TD source.
func (g *Generator) plainDependencyMermaid(opts DependencyDiagramOptions) string {
	pkg := g.engine.PKG()

	moduleSet := map[string]bool{}
	if opts.Focus == "" {
		for _, m := range pkg.Modules {
			moduleSet[m.ID] = true
		}
	} else {
		seeds := g.engine.ResolveSeedModules(opts.Focus)
		seedIDs := make([]string, 0, len(seeds))
		for _, s := range seeds {
			seedIDs = append(seedIDs, s.ModuleID)
		}
		depth := opts.Depth
		if depth <= 0 {
			depth = 1
		}
		direction := opts.Direction
		if direction == "" {
			direction = DirectionBoth
		}
		for id := range g.directedImpact(seedIDs, depth, direction) {
			moduleSet[id] = true
		}
	}

	var b strings.Builder
	b.WriteString("graph TD\n")
	nodeIDs := map[string]string{}
	n := 0
	nodeName := func(modID string) string {
		if id, ok := nodeIDs[modID]; ok {
			return id
		}
		n++
		id := fmt.Sprintf("N%d", n)
		nodeIDs[modID] = id
		if m, ok := pkg.ModuleByID(modID); ok {
			fmt.Fprintf(&b, "  %s[%q]\n", id, m.Path)
		}
		return id
	}
	for _, m := range pkg.Modules {
		if moduleSet[m.ID] {
			nodeName(m.ID)
		}
	}
	for _, e := range pkg.Edges {
		if e.Type != pkgmodel.EdgeImports && e.Type != pkgmodel.EdgeCalls {
			continue
		}
		if !moduleSet[e.From] || !moduleSet[e.To] {
			continue
		}
		fmt.Fprintf(&b, "  %s --> %s\n", nodeName(e.From), nodeName(e.To))
	}
	return b.String()
}

// directedImpact expands seedIDs up to depth hops along imports/calls
// edges, honoring direction: outgoing follows From→To only, incoming
// follows To→From only, both follows either. This is the directed
// counterpart of pkg/pkgquery.Engine.ImpactedModules's undirected BFS,
// needed here because spec §4.10's focused dependency diagram filters by
// direction while the query engine's impact analysis does not.
func (g *Generator) directedImpact(seedIDs []string, depth int, direction Direction) map[string]bool {
	forward := map[string][]string{}
	backward := map[string][]string{}
	pkg := g.engine.PKG()
	for _, e := range pkg.Edges {
		if e.Type != pkgmodel.EdgeImports && e.Type != pkgmodel.EdgeCalls {
			continue
		}
		forward[e.From] = append(forward[e.From], e.To)
		backward[e.To] = append(backward[e.To], e.From)
	}

	visited := map[string]int{}
	queue := make([]string, 0, len(seedIDs))
	for _, id := range seedIDs {
		if _, ok := visited[id]; !ok {
			visited[id] = 0
			queue = append(queue, id)
		}
	}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		currentDepth := visited[current]
		if currentDepth >= depth {
			continue
		}
		var neighbors []string
		if direction == DirectionOutgoing || direction == DirectionBoth {
			neighbors = append(neighbors, forward[current]...)
		}
		if direction == DirectionIncoming || direction == DirectionBoth {
			neighbors = append(neighbors, backward[current]...)
		}
		for _, next := range neighbors {
			if _, seen := visited[next]; !seen {
				visited[next] = currentDepth + 1
				queue = append(queue, next)
			}
		}
	}

	out := make(map[string]bool, len(visited))
	for id := range visited {
		out[id] = true
	}
	return out
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```mermaid")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

func (g *Generator) render(ctx context.Context, mermaid string) Response {
	meta, content := g.renderer.Render(ctx, mermaid)
	return Response{Content: content, MermaidCode: mermaid, Metadata: meta}
}
