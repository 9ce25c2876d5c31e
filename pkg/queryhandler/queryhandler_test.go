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

package queryhandler

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kraklabs/forge/pkg/llm"
	"github.com/kraklabs/forge/pkg/pkgmodel"
	"github.com/kraklabs/forge/pkg/pkgquery"
)

func samplePKG() *pkgmodel.PKG {
	return &pkgmodel.PKG{
		Project: pkgmodel.Project{ID: "demo", Name: "demo"},
		Modules: []pkgmodel.Module{
			{ID: "mod:src/main.ts", Path: "src/main.ts", Kind: []string{"module"}},
			{ID: "mod:src/services/widget.ts", Path: "src/services/widget.ts", Kind: []string{"service"}, Exports: []string{"sym:mod:src/services/widget.ts:createWidget"}},
			{ID: "mod:src/controllers/widget.controller.ts", Path: "src/controllers/widget.controller.ts", Kind: []string{"controller"}},
		},
		Symbols: []pkgmodel.Symbol{
			{ID: "sym:mod:src/services/widget.ts:createWidget", ModuleID: "mod:src/services/widget.ts", Name: "createWidget", Kind: pkgmodel.SymbolFunction},
		},
		Endpoints: []pkgmodel.Endpoint{
			{ID: "ep:/widgets#GET", Path: "/widgets", Method: "GET", Framework: "express"},
		},
		Edges: []pkgmodel.Edge{
			{From: "mod:src/controllers/widget.controller.ts", To: "mod:src/services/widget.ts", Type: pkgmodel.EdgeImports, Weight: 1},
		},
		Features: []pkgmodel.Feature{
			{ID: "feat:src/services", Name: "services", Path: "src/services", ModuleIDs: []string{"mod:src/services/widget.ts"}},
		},
	}
}

func TestHandle_EntryFileQuery(t *testing.T) {
	h := New(pkgquery.New(samplePKG(), nil), nil, nil)
	resp := h.Handle(context.Background(), "what is the entry point of this app?", "")
	assert.Equal(t, QueryEntryFile, resp.Metadata.QueryType)
	assert.Contains(t, resp.Answer, "src/main.ts")
}

func TestHandle_EndpointListQuery(t *testing.T) {
	h := New(pkgquery.New(samplePKG(), nil), nil, nil)
	resp := h.Handle(context.Background(), "list the api endpoints", "")
	assert.Equal(t, QueryEndpointList, resp.Metadata.QueryType)
	assert.Len(t, resp.References, 1)
	assert.Equal(t, "endpoint", resp.References[0].Type)
}

func TestHandle_DependencyListingWithTarget(t *testing.T) {
	h := New(pkgquery.New(samplePKG(), nil), nil, nil)
	resp := h.Handle(context.Background(), "what does widget.controller.ts depend on?", "widget.controller.ts")
	assert.Equal(t, QueryDependencyListing, resp.Metadata.QueryType)
	assert.Contains(t, resp.Answer, "src/services/widget.ts")
}

func TestHandle_ModuleExplanationIncludesExportedSymbols(t *testing.T) {
	h := New(pkgquery.New(samplePKG(), nil), nil, nil)
	resp := h.Handle(context.Background(), "explain widget.ts", "widget.ts")
	require.NotEmpty(t, resp.References)
	found := false
	for _, r := range resp.References {
		if r.Type == "symbol" && r.Name == "createWidget" {
			found = true
		}
	}
	assert.True(t, found)
}

func TestHandle_FeatureListQuery(t *testing.T) {
	h := New(pkgquery.New(samplePKG(), nil), nil, nil)
	resp := h.Handle(context.Background(), "what features does this project have?", "")
	assert.Equal(t, QueryFeatureList, resp.Metadata.QueryType)
	assert.Contains(t, resp.Answer, "services")
}

func TestHandle_DefaultsToProjectSummary(t *testing.T) {
	h := New(pkgquery.New(samplePKG(), nil), nil, nil)
	resp := h.Handle(context.Background(), "tell me about this codebase", "")
	assert.Equal(t, QueryProjectSummary, resp.Metadata.QueryType)
}

func TestHandle_LLMRenderingAppliedWhenProviderConfigured(t *testing.T) {
	provider := &llm.MockProvider{
		ChatFunc: func(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
			return &llm.ChatResponse{Message: llm.Message{Role: "assistant", Content: "Natural language rendering."}}, nil
		},
	}
	h := New(pkgquery.New(samplePKG(), nil), provider, nil)
	resp := h.Handle(context.Background(), "list the api endpoints", "")
	assert.Equal(t, "Natural language rendering.", resp.Answer)
}

func TestHandle_LLMFailureFallsBackToDeterministicAnswer(t *testing.T) {
	provider := &llm.MockProvider{
		ChatFunc: func(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
			return nil, errors.New("unreachable")
		},
	}
	h := New(pkgquery.New(samplePKG(), nil), provider, nil)
	resp := h.Handle(context.Background(), "list the api endpoints", "")
	assert.Contains(t, resp.Answer, "/widgets")
}
