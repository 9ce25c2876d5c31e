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

// Package prcreator implements the PR Creator (spec component C16): it
// ensures a writable fork of the upstream repository exists, pushes the
// feature branch the Code Editor produced, and opens a pull request
// against the upstream's default branch.
package prcreator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"
	"github.com/google/go-github/v74/github"
	"golang.org/x/oauth2"
)

// Result is the PR Creator's outcome. A missing token skips rather than
// errors (spec §4.16: "auth missing ⇒ skip (not an error)"); any other
// failure preserves the upstream URL so the user can open the PR by hand.
type Result struct {
	Skipped        bool   `json:"skipped"`
	SkipReason     string `json:"skip_reason,omitempty"`
	ForkOwner      string `json:"fork_owner,omitempty"`
	PullRequestURL string `json:"pull_request_url,omitempty"`
	UpstreamURL    string `json:"upstream_url"`
	Error          string `json:"error,omitempty"`
}

// forkPollAttempts/forkPollInterval bound the retry loop for GitHub's
// asynchronous fork creation (spec §4.16: "on 'already exists' race,
// retry the lookup").
const (
	forkPollAttempts = 5
	forkPollInterval = 2 * time.Second
)

// Creator opens pull requests via a code-hosting API. A Creator built
// with an empty token still runs but every Open call reports Skipped.
type Creator struct {
	client *github.Client
	token  string
}

// New builds a Creator from a host API token (spec §6's `host_api_token`).
// An empty token yields a Creator whose Open calls always skip.
func New(token string) *Creator {
	if strings.TrimSpace(token) == "" {
		return &Creator{}
	}
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	httpClient := oauth2.NewClient(context.Background(), ts)
	return &Creator{client: github.NewClient(httpClient), token: token}
}

// Open runs the fork/push/PR flow described in spec §4.16 for the
// feature branch already committed at rootPath.
func (c *Creator) Open(ctx context.Context, rootPath, owner, repo, branch, title, body string) Result {
	upstreamURL := fmt.Sprintf("https://github.com/%s/%s", owner, repo)
	if c.client == nil {
		return Result{Skipped: true, SkipReason: "no host API token configured", UpstreamURL: upstreamURL}
	}

	forkOwner, err := c.ensureFork(ctx, owner, repo)
	if err != nil {
		return Result{Error: fmt.Sprintf("ensure fork: %s", err), UpstreamURL: upstreamURL}
	}

	if err := c.push(rootPath, forkOwner, repo, branch); err != nil {
		return Result{ForkOwner: forkOwner, Error: fmt.Sprintf("push branch: %s", err), UpstreamURL: upstreamURL}
	}

	base, err := c.resolveBaseBranch(ctx, owner, repo)
	if err != nil {
		return Result{ForkOwner: forkOwner, Error: fmt.Sprintf("resolve base branch: %s", err), UpstreamURL: upstreamURL}
	}

	head := branch
	if forkOwner != owner {
		head = forkOwner + ":" + branch
	}
	pr, _, err := c.client.PullRequests.Create(ctx, owner, repo, &github.NewPullRequest{
		Title: github.String(title),
		Head:  github.String(head),
		Base:  github.String(base),
		Body:  github.String(body),
	})
	if err != nil {
		return Result{ForkOwner: forkOwner, Error: fmt.Sprintf("open PR: %s", err), UpstreamURL: upstreamURL}
	}
	return Result{ForkOwner: forkOwner, PullRequestURL: pr.GetHTMLURL(), UpstreamURL: upstreamURL}
}

// ensureFork returns the owner of the repository the feature branch
// should be pushed to: the authenticated user themself if they already
// own upstream, their existing fork if one is present, or a freshly
// created fork otherwise.
func (c *Creator) ensureFork(ctx context.Context, owner, repo string) (string, error) {
	me, _, err := c.client.Users.Get(ctx, "")
	if err != nil {
		return "", fmt.Errorf("lookup authenticated user: %w", err)
	}
	login := me.GetLogin()
	if strings.EqualFold(login, owner) {
		return login, nil
	}

	if _, _, err := c.client.Repositories.Get(ctx, login, repo); err == nil {
		return login, nil
	}

	_, _, err = c.client.Repositories.CreateFork(ctx, owner, repo, nil)
	var acc *github.AcceptedError
	if err != nil && !errors.As(err, &acc) {
		return "", fmt.Errorf("create fork: %w", err)
	}

	for attempt := 0; attempt < forkPollAttempts; attempt++ {
		if _, _, err := c.client.Repositories.Get(ctx, login, repo); err == nil {
			return login, nil
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(forkPollInterval):
		}
	}
	return login, nil
}

// push sends the local feature branch to the chosen fork over HTTPS,
// authenticating with the same token used for the API client.
func (c *Creator) push(rootPath, forkOwner, repo, branch string) error {
	localRepo, err := git.PlainOpen(rootPath)
	if err != nil {
		return fmt.Errorf("open repository: %w", err)
	}

	remoteURL := fmt.Sprintf("https://github.com/%s/%s.git", forkOwner, repo)
	remoteName := "forge-fork"
	remote, err := localRepo.Remote(remoteName)
	if errors.Is(err, git.ErrRemoteNotFound) {
		remote, err = localRepo.CreateRemote(&config.RemoteConfig{Name: remoteName, URLs: []string{remoteURL}})
	}
	if err != nil {
		return fmt.Errorf("resolve remote: %w", err)
	}

	refSpec := config.RefSpec(fmt.Sprintf("refs/heads/%s:refs/heads/%s", branch, branch))
	err = remote.Push(&git.PushOptions{
		RemoteName: remoteName,
		RefSpecs:   []config.RefSpec{refSpec},
		Auth:       &githttp.BasicAuth{Username: "x-access-token", Password: c.token},
	})
	if errors.Is(err, git.NoErrAlreadyUpToDate) {
		return nil
	}
	return err
}

// resolveBaseBranch follows spec §4.16: "main, else master, else the
// default from the remote".
func (c *Creator) resolveBaseBranch(ctx context.Context, owner, repo string) (string, error) {
	for _, candidate := range []string{"main", "master"} {
		if _, _, err := c.client.Repositories.GetBranch(ctx, owner, repo, candidate, 1); err == nil {
			return candidate, nil
		}
	}
	repository, _, err := c.client.Repositories.Get(ctx, owner, repo)
	if err != nil {
		return "", fmt.Errorf("lookup default branch: %w", err)
	}
	if d := repository.GetDefaultBranch(); d != "" {
		return d, nil
	}
	return "", fmt.Errorf("repository %s/%s has no resolvable default branch", owner, repo)
}
