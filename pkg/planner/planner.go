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

// Package planner implements the Planner (spec component C12): it turns
// an intent, an impact result, and constraints into an ordered list of
// file-level tasks, enforcing framework-aware invariants on the LLM's
// output and falling back to a deterministic trivial plan when no LLM is
// configured.
package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kraklabs/forge/pkg/detect"
	"github.com/kraklabs/forge/pkg/impact"
	"github.com/kraklabs/forge/pkg/intent"
	"github.com/kraklabs/forge/pkg/llm"
	"github.com/kraklabs/forge/pkg/pkgmodel"
)

// Task is a single unit of planned work (spec §4.12).
type Task struct {
	TaskID        string   `json:"task_id"`
	Task          string   `json:"task"`
	Files         []string `json:"files"`
	Changes       []string `json:"changes"`
	Tests         []string `json:"tests"`
	Notes         string   `json:"notes"`
	EstimatedTime string   `json:"estimated_time"`
}

// Plan is the Planner's output: an ordered task list plus whether any
// task touches a migration/database/schema concern.
type Plan struct {
	Tasks             []Task `json:"tasks"`
	RequiresMigration bool   `json:"requires_migration"`
	Framework         string `json:"framework"`
}

// migrationTerms trigger the migration flag when found in a task's notes
// (spec §4.12: "Migration flag is set if any task's notes mention
// migration/database/schema terms").
var migrationTerms = []string{"migration", "database", "schema"}

// Planner generates plans from intents and impact results.
type Planner struct {
	provider llm.Provider // nil triggers the deterministic fallback
	logger   *slog.Logger
}

// New creates a Planner. provider may be nil.
func New(provider llm.Provider, logger *slog.Logger) *Planner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Planner{provider: provider, logger: logger}
}

// Plan builds a plan for in, given impact's blast radius and any
// constraints, optionally consulting pkg for the detected framework (its
// project.frameworks[0], or "unknown"). rootPath is used only for the
// structural fallback heuristic when pkg's framework is unknown or pkg is
// nil.
func (p *Planner) Plan(ctx context.Context, in intent.Intent, result impact.Result, constraints []string, pkg *pkgmodel.PKG, rootPath string) Plan {
	framework := detectedFramework(pkg)
	if framework == "" || framework == "unknown" {
		framework = fallbackFrameworkFromStructure(rootPath)
	}

	var tasks []Task
	if p.provider != nil {
		tasks = p.planWithLLM(ctx, in, result, constraints, framework)
	}
	if len(tasks) == 0 {
		tasks = fallbackPlan(result)
	}

	tasks = enforceFrameworkInvariants(tasks, framework)

	return Plan{
		Tasks:             tasks,
		RequiresMigration: anyTaskMentionsMigration(tasks),
		Framework:         framework,
	}
}

func detectedFramework(pkg *pkgmodel.PKG) string {
	if pkg == nil || len(pkg.Project.Frameworks) == 0 {
		return "unknown"
	}
	return pkg.Project.Frameworks[0]
}

// fallbackFrameworkFromStructure re-runs the project-level manifest scan
// (spec §4.3's DetectProject) against rootPath when the PKG itself
// reports an unknown framework (spec §4.12: "a structural heuristic scans
// the repo root... for Flask/Angular/React fingerprints and uses them as
// a fallback when PKG reports unknown"). rootPath is expected to be the
// repo root the caller is planning against; any "cloned_repos" staging
// directory the caller maintains lives outside it and is never scanned.
func fallbackFrameworkFromStructure(rootPath string) string {
	if rootPath == "" {
		return "unknown"
	}
	meta := detect.DetectProject(rootPath)
	for _, fw := range meta.Frameworks {
		switch fw {
		case "angular", "flask", "react", "vue", "nestjs":
			return fw
		}
	}
	return "unknown"
}

const systemPromptTemplate = `You are planning a code change. Given the intent, the impacted modules,
and constraints below, produce a JSON array of tasks, each shaped as:
{"task_id": "...", "task": "...", "files": ["..."], "changes": ["..."], "tests": ["..."], "notes": "...", "estimated_time": "..."}
File paths in your example and in your real answer MUST use %s conventions.
Respond with only the JSON array.`

// frameworkPathExample returns the prompt's framework-correct example file
// path, per spec §4.12: "The example JSON in the prompt uses
// framework-correct file paths (Angular vs React vs Vue vs NestJS vs Flask)."
func frameworkPathExample(framework string) string {
	switch framework {
	case "angular":
		return "Angular (e.g. src/app/widget/widget.component.ts)"
	case "react":
		return "React (e.g. src/components/Widget.tsx)"
	case "vue":
		return "Vue (e.g. src/components/Widget.vue)"
	case "nestjs":
		return "NestJS (e.g. src/widget/widget.service.ts)"
	case "flask":
		return "Flask (e.g. app/blueprints/widget.py)"
	default:
		return "the project's existing conventions"
	}
}

func (p *Planner) planWithLLM(ctx context.Context, in intent.Intent, result impact.Result, constraints []string, framework string) []Task {
	prompt := fmt.Sprintf(
		"Intent: %s\nDescription: %s\nConstraints: %v\nImpacted files: %v\nAffected tests: %v\n",
		in.Intent, in.Description, constraints, result.ImpactedFiles, result.AffectedTests,
	)
	resp, err := p.provider.Chat(ctx, llm.ChatRequest{
		Messages: []llm.Message{
			{Role: "system", Content: fmt.Sprintf(systemPromptTemplate, frameworkPathExample(framework))},
			{Role: "user", Content: prompt},
		},
	})
	if err != nil {
		p.logger.Warn("planner.llm.unreachable", "err", err)
		return nil
	}

	var tasks []Task
	if err := json.Unmarshal([]byte(extractJSONArray(resp.Message.Content)), &tasks); err != nil {
		p.logger.Warn("planner.llm.unparsable", "err", err)
		return nil
	}
	return tasks
}

// fallbackPlan slices up to five impacted files into trivial single-file
// tasks (spec §4.12: "deterministic fallback that slices up to five
// impacted files into trivial single-file tasks").
func fallbackPlan(result impact.Result) []Task {
	files := result.ImpactedFiles
	if len(files) > 5 {
		files = files[:5]
	}
	tasks := make([]Task, 0, len(files))
	for i, f := range files {
		tasks = append(tasks, Task{
			TaskID:        fmt.Sprintf("task-%d", i+1),
			Task:          fmt.Sprintf("Review and update %s", f),
			Files:         []string{f},
			Changes:       []string{"apply the requested change"},
			Tests:         nil,
			Notes:         "generated without an LLM; minimal single-file task",
			EstimatedTime: "15m",
		})
	}
	return tasks
}

// enforceFrameworkInvariants applies spec §4.12's post-generation rule:
// Angular projects never get a .tsx file in a task's files[].
func enforceFrameworkInvariants(tasks []Task, framework string) []Task {
	if framework != "angular" {
		return tasks
	}
	for i := range tasks {
		for j, f := range tasks[i].Files {
			if strings.HasSuffix(f, ".tsx") {
				tasks[i].Files[j] = strings.TrimSuffix(f, ".tsx") + ".ts"
			}
		}
	}
	return tasks
}

func anyTaskMentionsMigration(tasks []Task) bool {
	for _, t := range tasks {
		lower := strings.ToLower(t.Notes)
		for _, term := range migrationTerms {
			if strings.Contains(lower, term) {
				return true
			}
		}
	}
	return false
}

func extractJSONArray(raw string) string {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")
	raw = strings.TrimSpace(raw)

	start := strings.Index(raw, "[")
	end := strings.LastIndex(raw, "]")
	if start == -1 || end == -1 || end < start {
		return raw
	}
	return raw[start : end+1]
}

