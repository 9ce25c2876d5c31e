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

// Package repoclone clones a git repository into the orchestrator's
// shared cloned_repos/ directory (spec §4.17's LOAD_REPO resolution
// order), serializing concurrent clones of the same repo URL with an
// on-disk lock and skipping the clone entirely if the destination
// already exists.
package repoclone

import (
	"fmt"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/gofrs/flock"
)

var (
	validGitURLPattern    = regexp.MustCompile(`^(https?://|git@|ssh://|file://)[\w.\-@:/%]+$`)
	dangerousCharsPattern = regexp.MustCompile("[;&|$`\\n\\r\\\\]")
	repoNamePattern       = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)
)

// Cloner clones repositories under a fixed root directory (spec §6's
// `clone_root`, default "./cloned_repos").
type Cloner struct {
	root string
}

// New creates a Cloner rooted at root. An empty root defaults to
// "./cloned_repos".
func New(root string) *Cloner {
	if strings.TrimSpace(root) == "" {
		root = "./cloned_repos"
	}
	return &Cloner{root: root}
}

// Result describes where a repository ended up and whether a clone ran.
type Result struct {
	Path    string
	Skipped bool
}

// EnsureCloned clones gitURL into <root>/<repoName>, skipping the clone
// if that directory already exists, and serializing concurrent callers
// for the same destination with a per-path file lock (spec §5: "multiple
// sessions for the same repo URL must serialize clone attempts; use a
// per-path lock, and if the directory exists, skip clone").
func (c *Cloner) EnsureCloned(gitURL string) (Result, error) {
	if err := validateGitURL(gitURL); err != nil {
		return Result{}, fmt.Errorf("invalid git URL: %w", err)
	}

	dest := filepath.Join(c.root, repoNameFromURL(gitURL))
	if err := os.MkdirAll(c.root, 0o755); err != nil {
		return Result{}, fmt.Errorf("create clone root: %w", err)
	}

	lock := flock.New(dest + ".lock")
	if err := lock.Lock(); err != nil {
		return Result{}, fmt.Errorf("acquire clone lock: %w", err)
	}
	defer lock.Unlock()

	if info, err := os.Stat(dest); err == nil && info.IsDir() {
		return Result{Path: dest, Skipped: true}, nil
	}

	if err := cloneGitRepo(gitURL, dest); err != nil {
		return Result{}, err
	}
	return Result{Path: dest}, nil
}

// cloneGitRepo shells out to `git clone --depth 1` into dest. gitURL has
// already passed validateGitURL, which rejects shell metacharacters.
func cloneGitRepo(gitURL, dest string) error {
	// #nosec G204 - gitURL is validated by validateGitURL before this call
	cmd := exec.Command("git", "clone", "--depth", "1", "--quiet", gitURL, dest)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		_ = os.RemoveAll(dest)
		return fmt.Errorf("git clone failed: %w", err)
	}
	return nil
}

// validateGitURL rejects command-injection characters and requires a
// recognized protocol prefix, the same defense-in-depth check the
// teacher's original ingestion loader applies before shelling out.
func validateGitURL(gitURL string) error {
	if gitURL == "" {
		return fmt.Errorf("git URL is empty")
	}
	if dangerousCharsPattern.MatchString(gitURL) {
		return fmt.Errorf("git URL contains dangerous characters")
	}

	if strings.HasPrefix(gitURL, "http://") || strings.HasPrefix(gitURL, "https://") {
		parsed, err := url.Parse(gitURL)
		if err != nil {
			return fmt.Errorf("invalid URL format: %w", err)
		}
		if parsed.Host == "" {
			return fmt.Errorf("git URL missing host")
		}
		if parsed.User != nil {
			if _, hasPassword := parsed.User.Password(); hasPassword {
				return fmt.Errorf("git URL should not contain embedded password")
			}
		}
		return nil
	}

	if strings.HasPrefix(gitURL, "git@") || strings.HasPrefix(gitURL, "ssh://") || strings.HasPrefix(gitURL, "file://") {
		if !validGitURLPattern.MatchString(gitURL) {
			return fmt.Errorf("invalid git URL format")
		}
		return nil
	}

	return fmt.Errorf("unsupported git URL protocol: must be https://, git@, ssh://, or file://")
}

// ProjectID derives the same filesystem-safe name EnsureCloned uses for
// its destination directory, so callers can compute a project ID for the
// graph-DB lookup (spec §4.17's LOAD_REPO order) before a clone exists.
func ProjectID(gitURL string) string {
	return repoNameFromURL(gitURL)
}

// repoNameFromURL derives a filesystem-safe directory name from the
// last path segment of gitURL (spec §4.17: "<cwd>/cloned_repos/<repoName>").
func repoNameFromURL(gitURL string) string {
	trimmed := strings.TrimSuffix(gitURL, "/")
	trimmed = strings.TrimSuffix(trimmed, ".git")
	segments := strings.Split(trimmed, "/")
	name := segments[len(segments)-1]
	if idx := strings.LastIndex(name, ":"); idx >= 0 {
		name = name[idx+1:]
	}
	name = repoNamePattern.ReplaceAllString(name, "-")
	if name == "" {
		name = "repo"
	}
	return name
}
