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

// Package editor implements the Code Editor (spec component C13): given an
// ordered task list from the Planner, it opens or creates a feature branch,
// drives the LLM to produce each task file's content, validates it, writes
// it atomically, and commits the result.
package editor

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/pmezard/go-difflib/difflib"

	"github.com/kraklabs/forge/pkg/llm"
	"github.com/kraklabs/forge/pkg/pkgmodel"
	"github.com/kraklabs/forge/pkg/pkgquery"
	"github.com/kraklabs/forge/pkg/planner"
)

// Action classifies what happened to a task file.
type Action string

const (
	ActionCreated  Action = "created"
	ActionModified Action = "modified"
	ActionSkipped  Action = "skipped"
)

// FileOutcome is one task file's result (spec §4.13: "per-file outcomes").
type FileOutcome struct {
	Path       string           `json:"path"`
	Action     Action           `json:"action"`
	Diff       string           `json:"diff,omitempty"`
	Error      string           `json:"error,omitempty"`
	Validation ValidationResult `json:"validation"`
}

// Result is the Code Editor's aggregate output (spec §4.13: "Per-file
// outcomes aggregate into {changes[], errors[], validation_results[],
// total_files, success}").
type Result struct {
	Changes           []FileOutcome      `json:"changes"`
	Errors            []string           `json:"errors"`
	ValidationResults []ValidationResult `json:"validation_results"`
	TotalFiles        int                `json:"total_files"`
	Success           bool               `json:"success"`
	Branch            string             `json:"branch"`
}

// createHints mark a missing file as one to generate rather than treat as
// an error (spec §4.13 step 1).
var createHints = []string{"create", "new", "add new file", "generate", "implement"}

var branchUnsafe = regexp.MustCompile(`[^a-zA-Z0-9._/-]+`)

// Editor drives the edit pipeline. provider may be nil, in which case
// every task file fails with a recorded error rather than being skipped
// silently (the editor has no deterministic fallback; unlike the Planner,
// there is no meaningful "write a file without an LLM").
type Editor struct {
	provider       llm.Provider
	engine         *pkgquery.Engine
	committerName  string
	committerEmail string
	logger         *slog.Logger
}

// New creates an Editor. engine may be nil (context building degrades to
// framework-only). committerName/committerEmail set the Commit's author
// and committer identity.
func New(provider llm.Provider, engine *pkgquery.Engine, committerName, committerEmail string, logger *slog.Logger) *Editor {
	if logger == nil {
		logger = slog.Default()
	}
	if committerName == "" {
		committerName = "forge-bot"
	}
	if committerEmail == "" {
		committerEmail = "forge-bot@kraklabs.com"
	}
	return &Editor{
		provider:       provider,
		engine:         engine,
		committerName:  committerName,
		committerEmail: committerEmail,
		logger:         logger,
	}
}

// Apply runs the full Code Editor pipeline against rootPath: opens or
// creates the feature branch, edits every file named across tasks, and
// commits the working tree (spec §4.13: "Commits stage-all and set the
// committer identity from configuration").
func (e *Editor) Apply(ctx context.Context, rootPath, planID string, tasks []planner.Task, framework string) Result {
	branch := branchNameForPlan(planID)
	result := Result{Branch: branch}

	repo, wt, err := openOrCreateBranch(rootPath, branch)
	if err != nil {
		e.logger.Warn("editor.branch.failed", "branch", branch, "err", err)
		result.Errors = append(result.Errors, fmt.Sprintf("branch %s: %v", branch, err))
		result.Success = false
		return result
	}

	seen := map[string]bool{}
	for _, task := range tasks {
		for _, file := range task.Files {
			if seen[file] {
				continue
			}
			seen[file] = true
			result.TotalFiles++
			outcome := e.editFile(ctx, rootPath, file, task, framework)
			result.Changes = append(result.Changes, outcome)
			result.ValidationResults = append(result.ValidationResults, outcome.Validation)
			if outcome.Error != "" {
				result.Errors = append(result.Errors, fmt.Sprintf("%s: %s", file, outcome.Error))
			}
		}
	}

	result.Success = len(result.Errors) == 0 && result.TotalFiles > 0

	if result.Success {
		if err := e.commit(wt, repo, planID); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("commit: %v", err))
			result.Success = false
		}
	}
	return result
}

func (e *Editor) editFile(ctx context.Context, rootPath, file string, task planner.Task, framework string) FileOutcome {
	absPath := filepath.Join(rootPath, file)
	original, readErr := os.ReadFile(absPath)
	exists := readErr == nil

	if missingNoHint := decideAction(exists, task.Changes, task.Notes); missingNoHint {
		return FileOutcome{Path: file, Action: ActionSkipped, Error: "file does not exist and no creation hint was found in the task"}
	}

	if e.provider == nil {
		return FileOutcome{Path: file, Action: ActionSkipped, Error: "no LLM provider configured"}
	}

	editCtx := e.buildContext(file, framework)
	generated, err := e.invokeLLM(ctx, file, string(original), exists, task, editCtx)
	if err != nil {
		e.logger.Warn("editor.llm.failed", "file", file, "err", err)
		return FileOutcome{Path: file, Action: ActionSkipped, Error: err.Error()}
	}
	generated = stripCodeFence(generated)

	validation := validate(file, []byte(generated), framework)
	if !validation.OK {
		e.logger.Warn("editor.validation.fatal", "file", file, "fatal", validation.Fatal)
		return FileOutcome{Path: file, Action: ActionSkipped, Validation: validation, Error: "validation failed: " + strings.Join(validation.Fatal, "; ")}
	}

	if err := writeAtomic(absPath, []byte(generated)); err != nil {
		return FileOutcome{Path: file, Action: ActionSkipped, Validation: validation, Error: err.Error()}
	}

	resultAction := ActionModified
	if !exists {
		resultAction = ActionCreated
	}
	return FileOutcome{
		Path:       file,
		Action:     resultAction,
		Diff:       unifiedDiff(file, string(original), generated),
		Validation: validation,
	}
}

// decideAction implements spec §4.13 step 1: a missing path is only
// treated as a file to generate when the task gives a creation hint;
// otherwise it is reported as an error rather than silently skipped.
func decideAction(exists bool, changes []string, notes string) (missingNoHint bool) {
	if exists {
		return false
	}
	haystack := strings.ToLower(strings.Join(changes, " ") + " " + notes)
	for _, hint := range createHints {
		if strings.Contains(haystack, hint) {
			return false
		}
	}
	return true
}

func branchNameForPlan(planID string) string {
	if planID == "" {
		planID = "unnamed"
	}
	name := "forge/plan-" + planID
	return branchUnsafe.ReplaceAllString(name, "-")
}

// openOrCreateBranch opens rootPath as a git working tree and checks out
// branch, creating it from HEAD if it does not already exist. Uses go-git
// rather than shelling out to `git`, the same library pkg/pkgbuild already
// uses for HEAD SHA reads.
func openOrCreateBranch(rootPath, branch string) (*git.Repository, *git.Worktree, error) {
	repo, err := git.PlainOpen(rootPath)
	if err != nil {
		return nil, nil, fmt.Errorf("open repo: %w", err)
	}
	wt, err := repo.Worktree()
	if err != nil {
		return nil, nil, fmt.Errorf("worktree: %w", err)
	}

	ref := plumbing.NewBranchReferenceName(branch)
	if err := wt.Checkout(&git.CheckoutOptions{Branch: ref}); err != nil {
		if err := wt.Checkout(&git.CheckoutOptions{Branch: ref, Create: true}); err != nil {
			return nil, nil, fmt.Errorf("checkout %s: %w", branch, err)
		}
	}
	return repo, wt, nil
}

func (e *Editor) commit(wt *git.Worktree, repo *git.Repository, planID string) error {
	if _, err := wt.Add("."); err != nil {
		return fmt.Errorf("stage: %w", err)
	}
	sig := &object.Signature{Name: e.committerName, Email: e.committerEmail, When: time.Now()}
	_, err := wt.Commit(fmt.Sprintf("forge: apply plan %s", planID), &git.CommitOptions{
		Author:    sig,
		Committer: sig,
	})
	if err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func writeAtomic(path string, content []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("mkdir: %w", err)
	}
	tmp := path + ".forge-tmp"
	if err := os.WriteFile(tmp, content, 0o644); err != nil {
		return fmt.Errorf("write temp: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename: %w", err)
	}
	return nil
}

// unifiedDiff computes a unified diff against the pre-image (spec §4.13
// step 6). For a new file (before == "") every line shows as added; the
// result is "" only when before and after are identical or diffing fails.
func unifiedDiff(path, before, after string) string {
	diff := difflib.UnifiedDiff{
		A:        difflib.SplitLines(before),
		B:        difflib.SplitLines(after),
		FromFile: "a/" + path,
		ToFile:   "b/" + path,
		Context:  3,
	}
	text, err := difflib.GetUnifiedDiffString(diff)
	if err != nil {
		return ""
	}
	return text
}

var fenceOpen = regexp.MustCompile("^```[a-zA-Z0-9_+-]*\\n")

func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	s = fenceOpen.ReplaceAllString(s, "")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

// EditContext is the PKG-derived material given to the LLM prompt (spec
// §4.13 step 2).
type EditContext struct {
	Framework      string
	ImportStyle    string
	RelatedModules []string
	RelatedSymbols []string
}

func (e *Editor) buildContext(file, framework string) EditContext {
	ectx := EditContext{Framework: framework}
	if e.engine == nil {
		return ectx
	}
	pkg := e.engine.PKG()
	if pkg == nil {
		return ectx
	}

	var moduleID string
	for _, m := range pkg.Modules {
		if m.Path == file {
			moduleID = m.ID
			ectx.ImportStyle = string(m.CodePatterns.ImportStyle)
			break
		}
	}
	if moduleID == "" {
		return ectx
	}

	deps := e.engine.Dependencies(moduleID)
	related := append(append([]pkgmodel.Module{}, deps.Callers...), deps.Callees...)
	for _, m := range related {
		ectx.RelatedModules = append(ectx.RelatedModules, m.Path)
	}

	for _, m := range related {
		if len(ectx.RelatedSymbols) >= 3 {
			break
		}
		for _, s := range pkg.Symbols {
			if s.ModuleID == m.ID && s.IsExported {
				ectx.RelatedSymbols = append(ectx.RelatedSymbols, fmt.Sprintf("%s: %s", s.Name, s.Signature))
				if len(ectx.RelatedSymbols) >= 3 {
					break
				}
			}
		}
	}
	return ectx
}

// frameworkRequirement describes the framework-specific output requirement
// spec §4.13 step 3 calls for.
func frameworkRequirement(framework string) string {
	switch framework {
	case "flask":
		return "This is a Flask project. Generate a .py file and use a Blueprint if adding a route."
	case "angular":
		return "This is an Angular project. Generate a .ts file; components must use the @Component decorator."
	default:
		return "Follow the project's existing conventions for this file's language and framework."
	}
}

func (e *Editor) invokeLLM(ctx context.Context, file, original string, exists bool, task planner.Task, editCtx EditContext) (string, error) {
	var sb strings.Builder
	sb.WriteString("You are editing a single source file as part of a larger code change.\n")
	sb.WriteString(fmt.Sprintf("File: %s\n", file))
	sb.WriteString(fmt.Sprintf("%s\n", frameworkRequirement(editCtx.Framework)))
	if exists {
		sb.WriteString("Original file content:\n```\n" + original + "\n```\n")
	} else {
		sb.WriteString("This file does not exist yet; generate it from scratch.\n")
	}
	sb.WriteString(fmt.Sprintf("Requested changes: %v\n", task.Changes))
	if task.Notes != "" {
		sb.WriteString(fmt.Sprintf("Notes: %s\n", task.Notes))
	}
	if editCtx.ImportStyle != "" {
		sb.WriteString(fmt.Sprintf("This module's import style is %s; keep new imports consistent.\n", editCtx.ImportStyle))
	}
	if len(editCtx.RelatedModules) > 0 {
		sb.WriteString(fmt.Sprintf("Related modules: %v\n", editCtx.RelatedModules))
	}
	if len(editCtx.RelatedSymbols) > 0 {
		sb.WriteString(fmt.Sprintf("Related symbols available for reuse: %v\n", editCtx.RelatedSymbols))
	}
	sb.WriteString("Respond with only the complete file content.\n")

	resp, err := e.provider.Chat(ctx, llm.ChatRequest{
		Messages: []llm.Message{
			{Role: "system", Content: "You are a precise code generation assistant. Output only file content, no explanation."},
			{Role: "user", Content: sb.String()},
		},
	})
	if err != nil {
		return "", fmt.Errorf("llm unreachable: %w", err)
	}
	return resp.Message.Content, nil
}
