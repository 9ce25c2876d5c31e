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

// Package pkgstore implements the PKG Store (spec component C6): a file
// cache keyed by git SHA, an optional graph-database backend, and the
// load-priority chain between an in-session cache, the graph DB, the file
// cache, and a full regeneration.
package pkgstore

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/kraklabs/forge/pkg/graphdb"
	"github.com/kraklabs/forge/pkg/pkgmodel"
)

const cacheFileName = "pkg.json"

// Store is the dual-persistence PKG Store: an in-session cache, an
// optional graph-database backend, and a per-repo JSON file cache.
type Store struct {
	logger  *slog.Logger
	graph   *graphdb.Store // nil if the graph DB is unavailable
	session map[string]*pkgmodel.PKG
	mu      sync.RWMutex
}

// New creates a Store. graph may be nil; every graph-DB operation then
// transparently no-ops with a log line rather than failing the caller
// (spec §4.6: "on permanent failure... store writes become a no-op with a
// log line but do not fail the overall flow").
func New(logger *slog.Logger, graph *graphdb.Store) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		logger:  logger,
		graph:   graph,
		session: make(map[string]*pkgmodel.PKG),
	}
}

// Save writes pkg to the in-session cache, the file cache, and (if
// attached) the graph database.
func (s *Store) Save(ctx context.Context, repoPath string, pkg *pkgmodel.PKG) error {
	s.mu.Lock()
	s.session[pkg.Project.ID] = pkg
	s.mu.Unlock()

	if err := s.writeFileCache(repoPath, pkg); err != nil {
		return fmt.Errorf("write file cache: %w", err)
	}

	if s.graph != nil {
		if err := s.graph.WritePKG(ctx, pkg); err != nil {
			s.logger.Warn("pkgstore.graphdb.write.failed", "project", pkg.Project.ID, "err", err)
		}
	}
	return nil
}

// Load implements spec §4.6's load-priority chain: in-session cache, then
// graph DB (keyed by project.id), then file cache (validated against the
// repo's current git SHA), then nil to signal "regenerate".
func (s *Store) Load(ctx context.Context, repoPath, projectID, currentGitSHA string) (*pkgmodel.PKG, string) {
	s.mu.RLock()
	if pkg, ok := s.session[projectID]; ok {
		s.mu.RUnlock()
		return pkg, "session"
	}
	s.mu.RUnlock()

	if s.graph != nil {
		if pkg, ok := s.loadFromGraph(ctx, projectID); ok {
			s.cacheInSession(pkg)
			return pkg, "graphdb"
		}
	}

	if pkg, ok := s.loadFileCache(repoPath, currentGitSHA); ok {
		s.cacheInSession(pkg)
		return pkg, "filecache"
	}

	return nil, "regenerate"
}

func (s *Store) cacheInSession(pkg *pkgmodel.PKG) {
	s.mu.Lock()
	s.session[pkg.Project.ID] = pkg
	s.mu.Unlock()
}

// loadFromGraph rehydrates projectID's most recent pkg_snapshot fact into a
// full *pkgmodel.PKG (spec §4.6 load-priority tier #2, keyed by
// project.id). A miss here is not itself an error; Load falls through to
// the file cache.
func (s *Store) loadFromGraph(ctx context.Context, projectID string) (*pkgmodel.PKG, bool) {
	select {
	case <-ctx.Done():
		return nil, false
	default:
	}
	pkg, ok := s.graph.ReadPKG(projectID)
	if !ok {
		s.logger.Debug("pkgstore.graphdb.read.miss", "project", projectID)
	}
	return pkg, ok
}

// writeFileCache atomically writes pkg to <repoPath>/pkg.json (temp file +
// rename, the pattern the teacher's CheckpointManager uses for its own
// JSON checkpoint file).
func (s *Store) writeFileCache(repoPath string, pkg *pkgmodel.PKG) error {
	path := filepath.Join(repoPath, cacheFileName)
	data, err := json.MarshalIndent(pkg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal pkg: %w", err)
	}
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("write temp cache: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("rename cache: %w", err)
	}
	return nil
}

// loadFileCache reads <repoPath>/pkg.json and validates it against
// currentGitSHA per spec §4.6: both SHAs present and equal ⇒ valid; if the
// repo is not a git tree (both SHAs empty), treat as invalid.
func (s *Store) loadFileCache(repoPath, currentGitSHA string) (*pkgmodel.PKG, bool) {
	path := filepath.Join(repoPath, cacheFileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, false
	}
	var pkg pkgmodel.PKG
	if err := json.Unmarshal(data, &pkg); err != nil {
		s.logger.Warn("pkgstore.filecache.corrupt", "path", path, "err", err)
		return nil, false
	}
	if pkg.GitSHA == "" && currentGitSHA == "" {
		return nil, false
	}
	if pkg.GitSHA != currentGitSHA {
		return nil, false
	}
	return &pkg, true
}

// InvalidateSession drops a project from the in-session cache, forcing the
// next Load to fall through to the graph DB or file cache.
func (s *Store) InvalidateSession(projectID string) {
	s.mu.Lock()
	delete(s.session, projectID)
	s.mu.Unlock()
}
