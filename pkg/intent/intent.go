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

// Package intent implements the Intent Router (spec component C8): it
// classifies a user utterance into one of three categories using an LLM,
// and falls back to a small keyword rule-set if the LLM is unreachable.
// The router never returns an error to its caller; a degraded classification
// is always preferable to blocking the orchestrator.
package intent

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/kraklabs/forge/pkg/llm"
)

// Category is one of the three top-level utterance classifications.
type Category string

const (
	CategoryInformationalQuery Category = "informational_query"
	CategoryDiagramRequest     Category = "diagram_request"
	CategoryCodeChange         Category = "code_change"
)

// Intent is the structured classification of a single utterance.
type Intent struct {
	Category       Category `json:"intent_category"`
	Intent         string   `json:"intent"`
	Description    string   `json:"description"`
	Constraints    []string `json:"constraints,omitempty"`
	TargetModules  []string `json:"target_modules,omitempty"`
	HumanApproval  bool     `json:"human_approval"`
	DiagramType    string   `json:"diagram_type,omitempty"`    // set when Category == diagram_request
	TargetFiles    []string `json:"target_files,omitempty"`    // set when Category == code_change
	DegradedByRule bool     `json:"-"`                         // true when the LLM fallback rule-set produced this Intent
}

const systemPrompt = `You classify a developer's chat utterance about their codebase into exactly one
of three categories: informational_query, diagram_request, code_change.
Respond with a single JSON object and nothing else, shaped as:
{
  "intent_category": "informational_query" | "diagram_request" | "code_change",
  "intent": "short free-form label",
  "description": "one sentence restating the request",
  "constraints": ["..."],
  "target_modules": ["tag hints, e.g. service names or folder names"],
  "human_approval": true|false,
  "diagram_type": "architecture|dependency (only for diagram_request)",
  "target_files": ["hints, only for code_change"]
}`

// Router classifies utterances via an LLM provider, falling back to a
// keyword rule-set when the provider is nil or returns an error.
type Router struct {
	provider llm.Provider
	logger   *slog.Logger
}

// New creates a Router. provider may be nil, in which case every
// classification uses the keyword rule-set.
func New(provider llm.Provider, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{provider: provider, logger: logger}
}

// Classify determines the Intent of utterance. It never returns an error:
// on any LLM failure it falls back to classifyByKeyword and logs a warning.
func (r *Router) Classify(ctx context.Context, utterance string) Intent {
	if r.provider == nil {
		return classifyByKeyword(utterance)
	}

	resp, err := r.provider.Chat(ctx, llm.ChatRequest{
		Messages: []llm.Message{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: utterance},
		},
		Temperature: 0,
	})
	if err != nil {
		r.logger.Warn("intent.llm.unreachable", "err", err)
		return classifyByKeyword(utterance)
	}

	var parsed Intent
	if err := json.Unmarshal([]byte(extractJSON(resp.Message.Content)), &parsed); err != nil {
		r.logger.Warn("intent.llm.unparsable", "err", err)
		return classifyByKeyword(utterance)
	}
	if !isValidCategory(parsed.Category) {
		r.logger.Warn("intent.llm.invalid_category", "category", parsed.Category)
		return classifyByKeyword(utterance)
	}
	return parsed
}

func isValidCategory(c Category) bool {
	switch c {
	case CategoryInformationalQuery, CategoryDiagramRequest, CategoryCodeChange:
		return true
	}
	return false
}

// diagramKeywords and queryKeywords implement spec §4.8's fallback rule-set:
// "diagram"/"architecture" ⇒ diagram_request; "what|which|list|explain" ⇒
// informational_query; else code_change.
var diagramKeywords = []string{"diagram", "architecture"}
var queryKeywords = []string{"what", "which", "list", "explain"}

func classifyByKeyword(utterance string) Intent {
	lower := strings.ToLower(utterance)

	for _, kw := range diagramKeywords {
		if strings.Contains(lower, kw) {
			return Intent{
				Category:       CategoryDiagramRequest,
				Intent:         "diagram_request",
				Description:    utterance,
				HumanApproval:  false,
				DegradedByRule: true,
			}
		}
	}
	for _, kw := range queryKeywords {
		if strings.Contains(lower, kw) {
			return Intent{
				Category:       CategoryInformationalQuery,
				Intent:         "informational_query",
				Description:    utterance,
				HumanApproval:  false,
				DegradedByRule: true,
			}
		}
	}
	return Intent{
		Category:       CategoryCodeChange,
		Intent:         "code_change",
		Description:    utterance,
		HumanApproval:  true,
		DegradedByRule: true,
	}
}

// extractJSON trims leading/trailing prose and markdown code fences an LLM
// may wrap its JSON reply in, returning the first balanced {...} span.
func extractJSON(raw string) string {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")
	raw = strings.TrimSpace(raw)

	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start == -1 || end == -1 || end < start {
		return raw
	}
	return raw[start : end+1]
}
