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

package editor

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kraklabs/forge/pkg/llm"
	"github.com/kraklabs/forge/pkg/planner"
)

// initRepo creates a git working tree with an initial commit so checkouts
// and branch creation have a HEAD to branch from.
func initRepo(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	repo, err := git.PlainInit(root, false)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(root, "README.md"), []byte("seed\n"), 0o644))
	wt, err := repo.Worktree()
	require.NoError(t, err)
	_, err = wt.Add(".")
	require.NoError(t, err)
	sig := &object.Signature{Name: "seed", Email: "seed@kraklabs.com"}
	_, err = wt.Commit("seed", &git.CommitOptions{Author: sig, Committer: sig})
	require.NoError(t, err)
	return root
}

func TestApply_CreatesFileWithCreationHint(t *testing.T) {
	root := initRepo(t)
	provider := &llm.MockProvider{
		ChatFunc: func(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
			return &llm.ChatResponse{Message: llm.Message{Role: "assistant", Content: "```python\ndef handler():\n    return 'ok'\n```"}}, nil
		},
	}
	e := New(provider, nil, "forge-bot", "forge-bot@kraklabs.com", nil)
	tasks := []planner.Task{
		{TaskID: "t1", Files: []string{"app/widget.py"}, Changes: []string{"create a new file for the widget handler"}},
	}
	result := e.Apply(context.Background(), root, "plan-1", tasks, "flask")

	require.True(t, result.Success)
	require.Len(t, result.Changes, 1)
	assert.Equal(t, ActionCreated, result.Changes[0].Action)
	assert.True(t, result.Changes[0].Validation.OK)

	content, err := os.ReadFile(filepath.Join(root, "app/widget.py"))
	require.NoError(t, err)
	assert.Contains(t, string(content), "def handler")
}

func TestApply_MissingFileWithoutHintIsRecordedAsError(t *testing.T) {
	root := initRepo(t)
	e := New(&llm.MockProvider{}, nil, "forge-bot", "forge-bot@kraklabs.com", nil)
	tasks := []planner.Task{
		{TaskID: "t1", Files: []string{"app/ghost.py"}, Changes: []string{"tweak the error message"}},
	}
	result := e.Apply(context.Background(), root, "plan-2", tasks, "flask")

	require.False(t, result.Success)
	require.Len(t, result.Changes, 1)
	assert.Equal(t, ActionSkipped, result.Changes[0].Action)
	assert.Contains(t, result.Changes[0].Error, "no creation hint")
}

func TestApply_ModifiesExistingFileAndComputesDiff(t *testing.T) {
	root := initRepo(t)
	require.NoError(t, os.WriteFile(filepath.Join(root, "main.go"), []byte("package main\n\nfunc main() {}\n"), 0o644))

	provider := &llm.MockProvider{
		ChatFunc: func(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
			return &llm.ChatResponse{Message: llm.Message{Role: "assistant", Content: "package main\n\nfunc main() {\n\tprintln(\"hi\")\n}\n"}}, nil
		},
	}
	e := New(provider, nil, "forge-bot", "forge-bot@kraklabs.com", nil)
	tasks := []planner.Task{{TaskID: "t1", Files: []string{"main.go"}, Changes: []string{"print a greeting"}}}
	result := e.Apply(context.Background(), root, "plan-3", tasks, "unknown")

	require.True(t, result.Success)
	assert.Equal(t, ActionModified, result.Changes[0].Action)
	assert.Contains(t, result.Changes[0].Diff, "-func main() {}")
	assert.Contains(t, result.Changes[0].Diff, `println("hi")`)
}

func TestApply_FatalValidationBlocksWrite(t *testing.T) {
	root := initRepo(t)
	require.NoError(t, os.WriteFile(filepath.Join(root, "broken.go"), []byte("package main\n"), 0o644))

	provider := &llm.MockProvider{
		ChatFunc: func(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
			return &llm.ChatResponse{Message: llm.Message{Role: "assistant", Content: "package main\n\nfunc broken( {\n"}}, nil
		},
	}
	e := New(provider, nil, "forge-bot", "forge-bot@kraklabs.com", nil)
	tasks := []planner.Task{{TaskID: "t1", Files: []string{"broken.go"}, Changes: []string{"add a function"}}}
	result := e.Apply(context.Background(), root, "plan-4", tasks, "unknown")

	require.False(t, result.Success)
	assert.Equal(t, ActionSkipped, result.Changes[0].Action)
	assert.False(t, result.Changes[0].Validation.OK)

	content, err := os.ReadFile(filepath.Join(root, "broken.go"))
	require.NoError(t, err)
	assert.Equal(t, "package main\n", string(content)) // unchanged
}

func TestApply_NoProviderSkipsEveryFile(t *testing.T) {
	root := initRepo(t)
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.go"), []byte("package main\n"), 0o644))
	e := New(nil, nil, "", "", nil)
	tasks := []planner.Task{{TaskID: "t1", Files: []string{"a.go"}, Changes: []string{"x"}}}
	result := e.Apply(context.Background(), root, "plan-5", tasks, "unknown")

	require.False(t, result.Success)
	assert.Contains(t, result.Changes[0].Error, "no LLM provider")
}

func TestApply_LLMFailureRecordsErrorWithoutPanicking(t *testing.T) {
	root := initRepo(t)
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.go"), []byte("package main\n"), 0o644))
	provider := &llm.MockProvider{
		ChatFunc: func(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
			return nil, errors.New("unreachable")
		},
	}
	e := New(provider, nil, "forge-bot", "forge-bot@kraklabs.com", nil)
	tasks := []planner.Task{{TaskID: "t1", Files: []string{"a.go"}, Changes: []string{"x"}}}
	result := e.Apply(context.Background(), root, "plan-6", tasks, "unknown")

	require.False(t, result.Success)
	assert.Contains(t, result.Changes[0].Error, "unreachable")
}

func TestBranchNameForPlan_SanitizesUnsafeCharacters(t *testing.T) {
	assert.Equal(t, "forge/plan-abc-123", branchNameForPlan("abc 123"))
	assert.Equal(t, "forge/plan-unnamed", branchNameForPlan(""))
}

func TestDecideAction_ExistingFileAlwaysModifies(t *testing.T) {
	assert.False(t, decideAction(true, nil, "irrelevant"))
}

func TestDecideAction_MissingFileNeedsHint(t *testing.T) {
	assert.True(t, decideAction(false, []string{"tweak behavior"}, ""))
	assert.False(t, decideAction(false, []string{"create the handler"}, ""))
	assert.False(t, decideAction(false, nil, "please generate this module"))
}
