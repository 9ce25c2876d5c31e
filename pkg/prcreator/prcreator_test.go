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

package prcreator

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/google/go-github/v74/github"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpen_NoTokenConfiguredSkips(t *testing.T) {
	c := New("")
	result := c.Open(t.Context(), t.TempDir(), "acme", "widget", "forge/plan-1", "title", "body")
	assert.True(t, result.Skipped)
	assert.Contains(t, result.SkipReason, "no host API token")
	assert.Equal(t, "https://github.com/acme/widget", result.UpstreamURL)
}

func TestOpen_NonGitWorkingTreeFailsAtPush(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/user", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"login":"acme"}`)
	})
	c, _ := newTestCreator(t, mux)

	result := c.Open(t.Context(), t.TempDir(), "acme", "widget", "forge/plan-1", "title", "body")
	assert.Empty(t, result.Skipped)
	assert.Contains(t, result.Error, "push branch")
}

func TestEnsureFork_OwnerAlreadyOwnsUpstream(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/user", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"login":"acme"}`)
	})
	c, _ := newTestCreator(t, mux)

	owner, err := c.ensureFork(t.Context(), "acme", "widget")
	require.NoError(t, err)
	assert.Equal(t, "acme", owner)
}

func TestEnsureFork_ReusesExistingFork(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/user", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"login":"student"}`)
	})
	mux.HandleFunc("/repos/student/widget", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"name":"widget","owner":{"login":"student"}}`)
	})
	c, _ := newTestCreator(t, mux)

	owner, err := c.ensureFork(t.Context(), "acme", "widget")
	require.NoError(t, err)
	assert.Equal(t, "student", owner)
}

func TestEnsureFork_CreatesForkWhenNoneExists(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/user", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"login":"student"}`)
	})
	lookups := 0
	mux.HandleFunc("/repos/student/widget", func(w http.ResponseWriter, r *http.Request) {
		lookups++
		if lookups < 2 {
			http.Error(w, `{"message":"Not Found"}`, http.StatusNotFound)
			return
		}
		fmt.Fprint(w, `{"name":"widget","owner":{"login":"student"}}`)
	})
	mux.HandleFunc("/repos/acme/widget/forks", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
		fmt.Fprint(w, `{"name":"widget","owner":{"login":"student"}}`)
	})
	c, _ := newTestCreator(t, mux)

	owner, err := c.ensureFork(t.Context(), "acme", "widget")
	require.NoError(t, err)
	assert.Equal(t, "student", owner)
}

func TestResolveBaseBranch_PrefersMain(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/acme/widget/branches/main", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"name":"main"}`)
	})
	c, _ := newTestCreator(t, mux)

	base, err := c.resolveBaseBranch(t.Context(), "acme", "widget")
	require.NoError(t, err)
	assert.Equal(t, "main", base)
}

func TestResolveBaseBranch_FallsBackToMaster(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/acme/widget/branches/main", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"Not Found"}`, http.StatusNotFound)
	})
	mux.HandleFunc("/repos/acme/widget/branches/master", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"name":"master"}`)
	})
	c, _ := newTestCreator(t, mux)

	base, err := c.resolveBaseBranch(t.Context(), "acme", "widget")
	require.NoError(t, err)
	assert.Equal(t, "master", base)
}

func TestResolveBaseBranch_FallsBackToRemoteDefault(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/acme/widget/branches/main", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"Not Found"}`, http.StatusNotFound)
	})
	mux.HandleFunc("/repos/acme/widget/branches/master", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"Not Found"}`, http.StatusNotFound)
	})
	mux.HandleFunc("/repos/acme/widget", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"name":"widget","default_branch":"develop"}`)
	})
	c, _ := newTestCreator(t, mux)

	base, err := c.resolveBaseBranch(t.Context(), "acme", "widget")
	require.NoError(t, err)
	assert.Equal(t, "develop", base)
}

// newTestCreator builds a Creator whose github.Client talks to an
// httptest server instead of the real API.
func newTestCreator(t *testing.T, mux *http.ServeMux) (*Creator, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	client := github.NewClient(server.Client())
	base, err := url.Parse(server.URL + "/")
	require.NoError(t, err)
	client.BaseURL = base
	client.UploadURL = base

	return &Creator{client: client, token: "test-token"}, server
}
