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

// Package graphdb is the graph-database half of the PKG Store (spec
// component C6). It backs the Project/Module/Symbol/Endpoint/Feature
// node set and the imports/calls/extends/implements relation set with a
// pure-Go Datalog engine (google/mangle) instead of the CGO-bound graph
// database the teacher used, so a single static binary can carry both the
// parsing and the storage tier.
package graphdb

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/mangle/analysis"
	"github.com/google/mangle/ast"
	_ "github.com/google/mangle/builtin"
	mengine "github.com/google/mangle/engine"
	"github.com/google/mangle/factstore"
	"github.com/google/mangle/parse"

	"github.com/kraklabs/forge/pkg/pkgmodel"
)

// schema declares every predicate this store writes and reads. Mangle
// requires predicates to be declared up front, so the "dynamic
// relationship type equal to upper(edge.type)" spec §4.6 describes for a
// property-graph backend is modeled here as one statically declared
// predicate per closed EdgeType value, selected at write time by a lookup
// table instead of by runtime predicate synthesis.
const schema = `
Decl project(id, name, root_path).
Decl module(id, path, hash).
Decl symbol(id, module_id, name, kind).
Decl endpoint(id, path, method).
Decl feature(id, name, path).
Decl metadata(project_id, key, value).

Decl has_module(project_id, module_id).
Decl has_symbol(project_id, symbol_id).
Decl has_endpoint(project_id, endpoint_id).
Decl has_feature(project_id, feature_id).
Decl contains(feature_id, module_id).
Decl has_metadata(project_id, key).

Decl edge_imports(from_id, to_id, weight).
Decl edge_calls(from_id, to_id, weight).
Decl edge_extends(from_id, to_id, weight).
Decl edge_implements(from_id, to_id, weight).

Decl module_tag(module_id, tag).

Decl pkg_snapshot(project_id, generated_at, payload).

Decl connected(X, Y).
connected(X, Y) :- edge_imports(X, Y, _).
connected(X, Y) :- edge_calls(X, Y, _).
connected(X, Y) :- connected(Y, X).
`

// edgePredicate maps each closed EdgeType to its statically declared
// predicate name.
var edgePredicate = map[pkgmodel.EdgeType]string{
	pkgmodel.EdgeImports:    "edge_imports",
	pkgmodel.EdgeCalls:      "edge_calls",
	pkgmodel.EdgeExtends:    "edge_extends",
	pkgmodel.EdgeImplements: "edge_implements",
}

// BatchSize is the default chunking size for batched upserts (spec §4.6,
// "configurable, default 1000").
const BatchSize = 1000

// Store wraps a google/mangle engine instance. One Store can hold the facts
// of several projects' PKGs; the read side filters by project ID.
type Store struct {
	mu          sync.RWMutex
	baseStore   factstore.FactStoreWithRemove
	store       factstore.ConcurrentFactStore
	programInfo *analysis.ProgramInfo
	predicates  map[string]ast.PredicateSym
	logger      *slog.Logger
	batchSize   int
}

// Config controls connection/retry behavior (spec §4.6's exponential
// backoff: retryDelay·2^attempt up to maxRetries).
type Config struct {
	MaxRetries int
	RetryDelay time.Duration
	BatchSize  int
}

// DefaultConfig mirrors the defaults named in spec §6's configuration
// surface (`graph_db_max_retries`/`retry_delay`/`batch_size`).
func DefaultConfig() Config {
	return Config{MaxRetries: 5, RetryDelay: 200 * time.Millisecond, BatchSize: BatchSize}
}

// Connect builds a Store, retrying schema compilation with exponential
// backoff. On permanent failure it returns an error; callers must fall
// back to the in-memory query engine rather than fail the overall PKG
// build (spec §4.6).
func Connect(logger *slog.Logger, cfg Config) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = BatchSize
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 5
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 200 * time.Millisecond
	}

	var lastErr error
	for attempt := 0; attempt < cfg.MaxRetries; attempt++ {
		s, err := newStore(logger, cfg.BatchSize)
		if err == nil {
			return s, nil
		}
		lastErr = err
		delay := cfg.RetryDelay * time.Duration(1<<uint(attempt))
		logger.Warn("graphdb.connect.retry", "attempt", attempt, "delay_ms", delay.Milliseconds(), "err", err)
		time.Sleep(delay)
	}
	return nil, fmt.Errorf("graphdb: schema compile failed after %d attempts: %w", cfg.MaxRetries, lastErr)
}

func newStore(logger *slog.Logger, batchSize int) (*Store, error) {
	unit, err := parse.Unit(bytes.NewReader([]byte(schema)))
	if err != nil {
		return nil, fmt.Errorf("parse schema: %w", err)
	}
	programInfo, err := analysis.AnalyzeOneUnit(parse.SourceUnit{Clauses: unit.Clauses, Decls: unit.Decls}, nil)
	if err != nil {
		return nil, fmt.Errorf("analyze schema: %w", err)
	}
	predicates := make(map[string]ast.PredicateSym, len(programInfo.Decls))
	for sym := range programInfo.Decls {
		predicates[sym.Symbol] = sym
	}
	base := factstore.NewSimpleInMemoryStore()
	return &Store{
		baseStore:   base,
		store:       factstore.NewConcurrentFactStore(base),
		programInfo: programInfo,
		predicates:  predicates,
		logger:      logger,
		batchSize:   batchSize,
	}, nil
}

// WriteProject upserts the Project node and Metadata facts for one PKG in
// batches of Store.batchSize. Every atom is converted before the first
// batch is written, so a conversion error writes nothing; a batch the store
// rejects returns an error but is not rolled back (see writeBatch).
func (s *Store) WriteProject(ctx context.Context, pkg *pkgmodel.PKG) error {
	var atoms []ast.Atom
	a, err := s.atom("project", pkg.Project.ID, pkg.Project.Name, pkg.Project.RootPath)
	if err != nil {
		return err
	}
	atoms = append(atoms, a)

	for k, v := range pkg.Project.Metadata.FrameworkVersions {
		a, err := s.atom("metadata", pkg.Project.ID, k, v)
		if err != nil {
			return err
		}
		atoms = append(atoms, a)
		a2, err := s.atom("has_metadata", pkg.Project.ID, k)
		if err != nil {
			return err
		}
		atoms = append(atoms, a2)
	}
	return s.writeBatched(ctx, atoms)
}

// WriteModules upserts Module nodes, their HAS_MODULE edges from the
// project, and one MODULE_TAG fact per entry in each module's Kind list so
// ModulesByKind's exact-match query can run entirely as a Datalog lookup
// over module_tag rather than falling back to the in-memory path.
func (s *Store) WriteModules(ctx context.Context, projectID string, modules []pkgmodel.Module) error {
	var atoms []ast.Atom
	for _, m := range modules {
		a, err := s.atom("module", m.ID, m.Path, m.Hash)
		if err != nil {
			return err
		}
		rel, err := s.atom("has_module", projectID, m.ID)
		if err != nil {
			return err
		}
		atoms = append(atoms, a, rel)
		for _, kind := range m.Kind {
			tag, err := s.atom("module_tag", m.ID, strings.ToLower(kind))
			if err != nil {
				return err
			}
			atoms = append(atoms, tag)
		}
	}
	return s.writeBatched(ctx, atoms)
}

// WriteSymbols upserts Symbol nodes and HAS_SYMBOL edges.
func (s *Store) WriteSymbols(ctx context.Context, projectID string, symbols []pkgmodel.Symbol) error {
	var atoms []ast.Atom
	for _, sym := range symbols {
		a, err := s.atom("symbol", sym.ID, sym.ModuleID, sym.Name, string(sym.Kind))
		if err != nil {
			return err
		}
		rel, err := s.atom("has_symbol", projectID, sym.ID)
		if err != nil {
			return err
		}
		atoms = append(atoms, a, rel)
	}
	return s.writeBatched(ctx, atoms)
}

// WriteEndpoints upserts Endpoint nodes and HAS_ENDPOINT edges.
func (s *Store) WriteEndpoints(ctx context.Context, projectID string, endpoints []pkgmodel.Endpoint) error {
	var atoms []ast.Atom
	for _, ep := range endpoints {
		a, err := s.atom("endpoint", ep.ID, ep.Path, ep.Method)
		if err != nil {
			return err
		}
		rel, err := s.atom("has_endpoint", projectID, ep.ID)
		if err != nil {
			return err
		}
		atoms = append(atoms, a, rel)
	}
	return s.writeBatched(ctx, atoms)
}

// WriteFeatures upserts Feature nodes, HAS_FEATURE edges from the project,
// and CONTAINS edges from each feature to its member modules.
func (s *Store) WriteFeatures(ctx context.Context, projectID string, features []pkgmodel.Feature) error {
	var atoms []ast.Atom
	for _, f := range features {
		a, err := s.atom("feature", f.ID, f.Name, f.Path)
		if err != nil {
			return err
		}
		rel, err := s.atom("has_feature", projectID, f.ID)
		if err != nil {
			return err
		}
		atoms = append(atoms, a, rel)
		for _, modID := range f.ModuleIDs {
			c, err := s.atom("contains", f.ID, modID)
			if err != nil {
				return err
			}
			atoms = append(atoms, c)
		}
	}
	return s.writeBatched(ctx, atoms)
}

// WriteEdges upserts every edge under its statically declared,
// type-specific predicate.
func (s *Store) WriteEdges(ctx context.Context, edges []pkgmodel.Edge) error {
	var atoms []ast.Atom
	for _, e := range edges {
		predName, ok := edgePredicate[e.Type]
		if !ok {
			s.logger.Warn("graphdb.edge.unknown_type", "type", e.Type)
			continue
		}
		a, err := s.atom(predName, e.From, e.To, fmt.Sprintf("%d", e.Weight))
		if err != nil {
			return err
		}
		atoms = append(atoms, a)
	}
	return s.writeBatched(ctx, atoms)
}

// WritePKG writes every component of pkg in the Project→Module→Symbol→
// Endpoint→Feature→Edge order, then a full pkg_snapshot fact carrying the
// whole document as its JSON payload so ReadPKG can rehydrate a
// byte-faithful *pkgmodel.PKG from the graph DB alone (spec §4.6's graph-DB
// load tier).
func (s *Store) WritePKG(ctx context.Context, pkg *pkgmodel.PKG) error {
	if err := s.WriteProject(ctx, pkg); err != nil {
		return err
	}
	if err := s.WriteModules(ctx, pkg.Project.ID, pkg.Modules); err != nil {
		return err
	}
	if err := s.WriteSymbols(ctx, pkg.Project.ID, pkg.Symbols); err != nil {
		return err
	}
	if err := s.WriteEndpoints(ctx, pkg.Project.ID, pkg.Endpoints); err != nil {
		return err
	}
	if err := s.WriteFeatures(ctx, pkg.Project.ID, pkg.Features); err != nil {
		return err
	}
	if err := s.WriteEdges(ctx, pkg.Edges); err != nil {
		return err
	}
	return s.writeSnapshot(ctx, pkg)
}

// writeSnapshot serializes the whole PKG and stores it under pkg_snapshot,
// keyed by project ID and the document's GeneratedAt timestamp. A project
// can accumulate more than one snapshot fact across repeated Save calls;
// ReadPKG picks the one with the lexicographically greatest GeneratedAt
// (fixed-width UTC timestamps with nine fractional digits sort
// lexicographically), so the most recent rebuild always wins without
// requiring a fact-removal API.
func (s *Store) writeSnapshot(ctx context.Context, pkg *pkgmodel.PKG) error {
	payload, err := json.Marshal(pkg)
	if err != nil {
		return fmt.Errorf("marshal pkg snapshot: %w", err)
	}
	generatedAt := pkg.GeneratedAt.UTC().Format("2006-01-02T15:04:05.000000000Z07:00")
	a, err := s.atom("pkg_snapshot", pkg.Project.ID, generatedAt, string(payload))
	if err != nil {
		return err
	}
	return s.writeBatched(ctx, []ast.Atom{a})
}

func (s *Store) writeBatched(ctx context.Context, atoms []ast.Atom) error {
	for start := 0; start < len(atoms); start += s.batchSize {
		end := start + s.batchSize
		if end > len(atoms) {
			end = len(atoms)
		}
		if err := s.writeBatch(ctx, atoms[start:end]); err != nil {
			return fmt.Errorf("batch [%d:%d]: %w", start, end, err)
		}
	}
	return nil
}

// writeBatch applies one chunk of atoms. If the store rejects any atom the
// whole chunk is treated as failed (spec §4.6 "transactional per batch");
// the in-memory fact store itself has no partial-write rollback, so the
// atoms already added to a failed batch remain, but the caller sees an
// error and must not consider the batch durable.
func (s *Store) writeBatch(ctx context.Context, atoms []ast.Atom) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range atoms {
		s.store.Add(a)
	}
	_, err := mengine.EvalProgramWithStats(s.programInfo, s.store)
	return err
}

// GetFacts returns every fact for a declared predicate name.
func (s *Store) GetFacts(predicate string) ([]ast.Atom, error) {
	s.mu.RLock()
	sym, ok := s.predicates[predicate]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("predicate %s is not declared", predicate)
	}
	var facts []ast.Atom
	err := s.store.GetFacts(ast.NewQuery(sym), func(a ast.Atom) error {
		facts = append(facts, a)
		return nil
	})
	return facts, err
}

// termString extracts the raw string value from a BaseTerm produced by
// atom()'s ast.String(...) calls; every predicate in schema is string-typed,
// so this is the only decoding this package needs.
func termString(t ast.BaseTerm) string {
	if c, ok := t.(ast.Constant); ok {
		return c.Symbol
	}
	return fmt.Sprintf("%v", t)
}

// ReadPKG rehydrates the most recently written pkg_snapshot fact for
// projectID into a full *pkgmodel.PKG, or reports a miss. This is the
// graph-DB half of spec §4.6's load-priority chain: callers try ReadPKG
// before falling back to the file cache.
func (s *Store) ReadPKG(projectID string) (*pkgmodel.PKG, bool) {
	facts, err := s.GetFacts("pkg_snapshot")
	if err != nil {
		return nil, false
	}
	var best *pkgmodel.PKG
	var bestGeneratedAt string
	for _, a := range facts {
		if len(a.Args) != 3 || termString(a.Args[0]) != projectID {
			continue
		}
		generatedAt := termString(a.Args[1])
		if best != nil && generatedAt <= bestGeneratedAt {
			continue
		}
		var pkg pkgmodel.PKG
		if err := json.Unmarshal([]byte(termString(a.Args[2])), &pkg); err != nil {
			s.logger.Warn("graphdb.snapshot.corrupt", "project", projectID, "err", err)
			continue
		}
		best = &pkg
		bestGeneratedAt = generatedAt
	}
	return best, best != nil
}

// ModulesByTagGraph returns the module IDs tagged tag (case-insensitive
// exact match) for projectID, resolved from the extensional module_tag
// facts WriteModules writes — a genuine Datalog lookup rather than a
// rehydrate-then-filter over a fetched snapshot.
func (s *Store) ModulesByTagGraph(projectID, tag string) ([]string, error) {
	memberOf, err := s.moduleMembership(projectID)
	if err != nil {
		return nil, err
	}
	facts, err := s.GetFacts("module_tag")
	if err != nil {
		return nil, err
	}
	needle := strings.ToLower(tag)
	var ids []string
	for _, a := range facts {
		if len(a.Args) != 2 {
			continue
		}
		modID := termString(a.Args[0])
		if memberOf[modID] && termString(a.Args[1]) == needle {
			ids = append(ids, modID)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// ConnectedAdjacency returns the undirected adjacency map for projectID's
// modules, derived from the connected rule: a recursive Datalog predicate
// evaluated by mengine.EvalProgramWithStats at write time, not a raw fact
// lookup over edge_imports/edge_calls.
func (s *Store) ConnectedAdjacency(projectID string) (map[string][]string, error) {
	memberOf, err := s.moduleMembership(projectID)
	if err != nil {
		return nil, err
	}
	facts, err := s.GetFacts("connected")
	if err != nil {
		return nil, err
	}
	adjacency := map[string][]string{}
	for _, a := range facts {
		if len(a.Args) != 2 {
			continue
		}
		from, to := termString(a.Args[0]), termString(a.Args[1])
		if memberOf[from] && memberOf[to] {
			adjacency[from] = append(adjacency[from], to)
		}
	}
	return adjacency, nil
}

// moduleMembership returns projectID's module IDs via has_module facts, so
// ModulesByTagGraph and ConnectedAdjacency never leak facts written for a
// different project sharing the same Store instance.
func (s *Store) moduleMembership(projectID string) (map[string]bool, error) {
	facts, err := s.GetFacts("has_module")
	if err != nil {
		return nil, err
	}
	members := map[string]bool{}
	for _, a := range facts {
		if len(a.Args) != 2 {
			continue
		}
		if termString(a.Args[0]) == projectID {
			members[termString(a.Args[1])] = true
		}
	}
	return members, nil
}

// Clear drops every fact from the store.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.baseStore = factstore.NewSimpleInMemoryStore()
	s.store = factstore.NewConcurrentFactStore(s.baseStore)
}

// Close releases engine resources. The in-memory store needs no explicit
// teardown; Close exists so Store satisfies the same lifecycle shape as
// the file cache and any future networked graph-DB backend.
func (s *Store) Close() error {
	return nil
}

func (s *Store) atom(predicate string, args ...string) (ast.Atom, error) {
	s.mu.RLock()
	sym, ok := s.predicates[predicate]
	s.mu.RUnlock()
	if !ok {
		return ast.Atom{}, fmt.Errorf("predicate %s is not declared", predicate)
	}
	terms := make([]ast.BaseTerm, len(args))
	for i, a := range args {
		terms[i] = ast.String(a)
	}
	return ast.Atom{Predicate: sym, Args: terms}, nil
}
