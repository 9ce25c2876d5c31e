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

// Package queryhandler implements the Query Handler (spec component C9):
// it routes informational_query utterances to one of eight subtypes, each
// of which first assembles a deterministic, PKG-derived answer and then,
// if an LLM is configured, asks it to render that answer in natural
// language.
package queryhandler

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

// QueryType enumerates the informational_query subtypes spec §4.9 names.
type QueryType string

const (
	QueryEntryFile         QueryType = "entry_file"
	QueryAppComponent      QueryType = "app_component"
	QueryFeatureList       QueryType = "feature_list"
	QueryProjectSummary    QueryType = "project_summary"
	QueryDependencyListing QueryType = "dependency_listing"
	QueryModuleExplanation QueryType = "module_explanation"
	QueryModuleList        QueryType = "module_list"
	QueryEndpointList      QueryType = "endpoint_list"
)

// Reference is one entity the answer mentions, per the output contract.
type Reference struct {
	Type string `json:"type"` // module | symbol | endpoint | project
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Metadata accompanies every Response per the output contract.
type Metadata struct {
	ModulesMentioned   []string  `json:"modules_mentioned"`
	EndpointsMentioned []string  `json:"endpoints_mentioned"`
	QueryType          QueryType `json:"query_type"`
}

// Response is the Query Handler's output contract (spec §4.9).
type Response struct {
	Answer     string      `json:"answer"`
	References []Reference `json:"references"`
	Metadata   Metadata    `json:"metadata"`
}

// Handler routes and answers informational queries.
type Handler struct {
	engine   *pkgquery.Engine
	provider llm.Provider // nil disables natural-language rendering
	logger   *slog.Logger
}

// New creates a Handler. provider may be nil.
func New(engine *pkgquery.Engine, provider llm.Provider, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{engine: engine, provider: provider, logger: logger}
}

// Handle classifies utterance into a QueryType and answers it. targetHint
// names the module/feature/tag the caller already resolved (e.g. from the
// Intent Router's target_modules); dependency_listing and
// module_explanation, the two subtypes that need a specific subject, take
// it from targetHint only. The utterance is used only to pick the subtype:
// with an empty targetHint, dependency_listing lists every imports/calls
// edge and module_explanation reports that no module matched.
func (h *Handler) Handle(ctx context.Context, utterance, targetHint string) Response {
	qt := classifyQueryType(utterance)

	var resp Response
	switch qt {
	case QueryEntryFile:
		resp = h.answerEntryFile()
	case QueryAppComponent:
		resp = h.answerAppComponent()
	case QueryFeatureList:
		resp = h.answerFeatureList()
	case QueryDependencyListing:
		resp = h.answerDependencyListing(targetHint)
	case QueryModuleExplanation:
		resp = h.answerModuleExplanation(targetHint)
	case QueryModuleList:
		resp = h.answerModuleList()
	case QueryEndpointList:
		resp = h.answerEndpointList()
	default:
		resp = h.answerProjectSummary()
	}

	if h.provider != nil {
		resp.Answer = h.renderNaturalLanguage(ctx, utterance, resp.Answer)
	}
	return resp
}

// classifyQueryType applies a keyword rule-set over the utterance, the
// same term-matching idiom the teacher's findRelevantFunctionsLocalized
// uses to route free text, generalized from "which function" to "which
// query subtype".
func classifyQueryType(utterance string) QueryType {
	lower := strings.ToLower(utterance)
	switch {
	case containsAny(lower, "entry point", "entry file", "entrypoint", "main file"):
		return QueryEntryFile
	case containsAny(lower, "app component", "root component"):
		return QueryAppComponent
	case containsAny(lower, "feature"):
		return QueryFeatureList
	case containsAny(lower, "depend", "imports", "calls"):
		return QueryDependencyListing
	case containsAny(lower, "explain", "what does", "how does"):
		return QueryModuleExplanation
	case containsAny(lower, "endpoint", "route", "api"):
		return QueryEndpointList
	case containsAny(lower, "list module", "which module", "all module"):
		return QueryModuleList
	default:
		return QueryProjectSummary
	}
}

func containsAny(s string, terms ...string) bool {
	for _, t := range terms {
		if strings.Contains(s, t) {
			return true
		}
	}
	return false
}

func (h *Handler) answerEntryFile() Response {
	mods := h.engine.EntryPointModules()
	if len(mods) == 0 {
		return Response{
			Answer:   "No entry-point modules were detected in this project.",
			Metadata: Metadata{QueryType: QueryEntryFile},
		}
	}
	var b strings.Builder
	b.WriteString("Entry points:\n")
	refs := make([]Reference, 0, len(mods))
	mentioned := make([]string, 0, len(mods))
	for _, m := range mods {
		fmt.Fprintf(&b, "- %s\n", m.Path)
		refs = append(refs, Reference{Type: "module", ID: m.ID, Name: m.Path})
		mentioned = append(mentioned, m.ID)
	}
	return Response{
		Answer:     b.String(),
		References: refs,
		Metadata:   Metadata{ModulesMentioned: mentioned, QueryType: QueryEntryFile},
	}
}

func (h *Handler) answerAppComponent() Response {
	mods := h.engine.AppComponentModules()
	if len(mods) == 0 {
		return Response{
			Answer:   "No application root component was detected.",
			Metadata: Metadata{QueryType: QueryAppComponent},
		}
	}
	var b strings.Builder
	b.WriteString("Application root component(s):\n")
	refs := make([]Reference, 0, len(mods))
	mentioned := make([]string, 0, len(mods))
	for _, m := range mods {
		fmt.Fprintf(&b, "- %s\n", m.Path)
		refs = append(refs, Reference{Type: "module", ID: m.ID, Name: m.Path})
		mentioned = append(mentioned, m.ID)
	}
	return Response{
		Answer:     b.String(),
		References: refs,
		Metadata:   Metadata{ModulesMentioned: mentioned, QueryType: QueryAppComponent},
	}
}

func (h *Handler) answerFeatureList() Response {
	pkg := h.engine.PKG()
	if len(pkg.Features) == 0 {
		return Response{Answer: "No features were derived from this project's folder structure.", Metadata: Metadata{QueryType: QueryFeatureList}}
	}
	features := append([]pkgmodel.Feature(nil), pkg.Features...)
	sort.Slice(features, func(i, j int) bool { return features[i].Name < features[j].Name })

	var b strings.Builder
	fmt.Fprintf(&b, "%d feature(s):\n", len(features))
	refs := make([]Reference, 0, len(features))
	for _, f := range features {
		fmt.Fprintf(&b, "- %s (%d modules)\n", f.Name, len(f.ModuleIDs))
		refs = append(refs, Reference{Type: "module", ID: f.ID, Name: f.Name})
	}
	return Response{Answer: b.String(), References: refs, Metadata: Metadata{QueryType: QueryFeatureList}}
}

func (h *Handler) answerProjectSummary() Response {
	pkg := h.engine.PKG()
	kindCounts := map[string]int{}
	for _, m := range pkg.Modules {
		for _, k := range m.Kind {
			kindCounts[k]++
		}
	}
	kinds := make([]string, 0, len(kindCounts))
	for k := range kindCounts {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)

	var b strings.Builder
	fmt.Fprintf(&b, "%s: %d modules, %d symbols, %d endpoints, %d features.\n",
		pkg.Project.Name, len(pkg.Modules), len(pkg.Symbols), len(pkg.Endpoints), len(pkg.Features))
	for _, k := range kinds {
		fmt.Fprintf(&b, "- %s: %d\n", k, kindCounts[k])
	}
	return Response{
		Answer: b.String(),
		References: []Reference{{Type: "project", ID: pkg.Project.ID, Name: pkg.Project.Name}},
		Metadata:   Metadata{QueryType: QueryProjectSummary},
	}
}

func (h *Handler) answerDependencyListing(target string) Response {
	pkg := h.engine.PKG()
	if target == "" {
		// Overall dependency listing: every imports/calls edge as a table.
		var b strings.Builder
		b.WriteString("Dependency edges:\n")
		mentioned := map[string]bool{}
		for _, e := range pkg.Edges {
			if e.Type != pkgmodel.EdgeImports && e.Type != pkgmodel.EdgeCalls {
				continue
			}
			fmt.Fprintf(&b, "- %s %s %s\n", e.From, e.Type, e.To)
			mentioned[e.From] = true
			mentioned[e.To] = true
		}
		ids := sortedKeys(mentioned)
		return Response{Answer: b.String(), Metadata: Metadata{ModulesMentioned: ids, QueryType: QueryDependencyListing}}
	}

	matches := h.engine.ResolveSeedModules(target)
	if len(matches) == 0 {
		return Response{Answer: fmt.Sprintf("No module matched %q.", target), Metadata: Metadata{QueryType: QueryDependencyListing}}
	}
	moduleID := matches[0].ModuleID
	deps := h.engine.Dependencies(moduleID)

	var b strings.Builder
	m, _ := pkg.ModuleByID(moduleID)
	fmt.Fprintf(&b, "%s — fan-in %d, fan-out %d\n", m.Path, deps.FanIn, deps.FanOut)
	b.WriteString("Callers:\n")
	for _, c := range deps.Callers {
		fmt.Fprintf(&b, "- %s\n", c.Path)
	}
	b.WriteString("Callees:\n")
	for _, c := range deps.Callees {
		fmt.Fprintf(&b, "- %s\n", c.Path)
	}

	refs := []Reference{{Type: "module", ID: moduleID, Name: m.Path}}
	mentioned := []string{moduleID}
	for _, c := range append(deps.Callers, deps.Callees...) {
		refs = append(refs, Reference{Type: "module", ID: c.ID, Name: c.Path})
		mentioned = append(mentioned, c.ID)
	}
	return Response{Answer: b.String(), References: refs, Metadata: Metadata{ModulesMentioned: mentioned, QueryType: QueryDependencyListing}}
}

func (h *Handler) answerModuleExplanation(target string) Response {
	matches := h.engine.ResolveSeedModules(target)
	if len(matches) == 0 {
		return Response{Answer: fmt.Sprintf("No module matched %q.", target), Metadata: Metadata{QueryType: QueryModuleExplanation}}
	}
	moduleID := matches[0].ModuleID
	pkg := h.engine.PKG()
	m, _ := pkg.ModuleByID(moduleID)

	var b strings.Builder
	fmt.Fprintf(&b, "%s is a %s module (%d lines).\n", m.Path, strings.Join(m.Kind, ", "), m.LOC)
	if m.ModuleSummary != "" {
		b.WriteString(m.ModuleSummary + "\n")
	}
	refs := []Reference{{Type: "module", ID: m.ID, Name: m.Path}}
	b.WriteString("Exported symbols:\n")
	for _, expID := range m.Exports {
		if s, ok := pkg.SymbolByID(expID); ok {
			fmt.Fprintf(&b, "- %s (%s)\n", s.Name, s.Kind)
			refs = append(refs, Reference{Type: "symbol", ID: s.ID, Name: s.Name})
		}
	}
	return Response{Answer: b.String(), References: refs, Metadata: Metadata{ModulesMentioned: []string{m.ID}, QueryType: QueryModuleExplanation}}
}

func (h *Handler) answerModuleList() Response {
	pkg := h.engine.PKG()
	modules := append([]pkgmodel.Module(nil), pkg.Modules...)
	sort.Slice(modules, func(i, j int) bool { return modules[i].Path < modules[j].Path })

	var b strings.Builder
	fmt.Fprintf(&b, "%d module(s):\n", len(modules))
	refs := make([]Reference, 0, len(modules))
	mentioned := make([]string, 0, len(modules))
	for _, m := range modules {
		fmt.Fprintf(&b, "- %s [%s]\n", m.Path, strings.Join(m.Kind, ","))
		refs = append(refs, Reference{Type: "module", ID: m.ID, Name: m.Path})
		mentioned = append(mentioned, m.ID)
	}
	return Response{Answer: b.String(), References: refs, Metadata: Metadata{ModulesMentioned: mentioned, QueryType: QueryModuleList}}
}

func (h *Handler) answerEndpointList() Response {
	pkg := h.engine.PKG()
	endpoints := append([]pkgmodel.Endpoint(nil), pkg.Endpoints...)
	sort.Slice(endpoints, func(i, j int) bool { return endpoints[i].Path < endpoints[j].Path })

	var b strings.Builder
	fmt.Fprintf(&b, "%d endpoint(s):\n", len(endpoints))
	refs := make([]Reference, 0, len(endpoints))
	mentioned := make([]string, 0, len(endpoints))
	for _, ep := range endpoints {
		fmt.Fprintf(&b, "- %s %s (%s)\n", ep.Method, ep.Path, ep.Framework)
		refs = append(refs, Reference{Type: "endpoint", ID: ep.ID, Name: ep.Path})
		mentioned = append(mentioned, ep.ID)
	}
	return Response{Answer: b.String(), References: refs, Metadata: Metadata{EndpointsMentioned: mentioned, QueryType: QueryEndpointList}}
}

func sortedKeys(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// renderNaturalLanguage feeds the deterministic answer to the LLM for
// natural-language rendering; on any LLM failure it returns the
// deterministic text unchanged rather than failing the query (spec §4.9:
// "otherwise the structured text is returned as-is").
func (h *Handler) renderNaturalLanguage(ctx context.Context, question, deterministicAnswer string) string {
	resp, err := h.provider.Chat(ctx, llm.ChatRequest{
		Messages: []llm.Message{
			{Role: "system", Content: "Rephrase the following structured answer as a concise, natural-language response to the developer's question. Do not invent facts beyond what is given."},
			{Role: "user", Content: fmt.Sprintf("Question: %s\n\nStructured answer:\n%s", question, deterministicAnswer)},
		},
	})
	if err != nil {
		h.logger.Warn("queryhandler.llm.unreachable", "err", err)
		return deterministicAnswer
	}
	return resp.Message.Content
}
