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

// Package pkgbuild implements the PKG Builder (spec component C5): it
// orchestrates the scanner, normalizer, detector, and relationship
// extractor into a single PKG document conforming to spec §3.
package pkgbuild

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-git/go-git/v5"

	"github.com/kraklabs/forge/pkg/detect"
	"github.com/kraklabs/forge/pkg/endpoint"
	"github.com/kraklabs/forge/pkg/normalize"
	"github.com/kraklabs/forge/pkg/pkgmodel"
	"github.com/kraklabs/forge/pkg/relate"
	"github.com/kraklabs/forge/pkg/scan"
)

// Config controls one Build invocation.
type Config struct {
	RootPath     string
	FanThreshold int // default 3, per spec §6 pkg_fan_threshold
	SourceRoots  relate.SourceRoots
	ParseWorkers int // default 4, mirrors the teacher ingestion pipeline's worker count
}

// Builder assembles a PKG document for one repository root.
type Builder struct {
	logger *slog.Logger
}

// New creates a Builder. A nil logger falls back to slog.Default().
func New(logger *slog.Logger) *Builder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Builder{logger: logger}
}

type parsedFile struct {
	file scan.File
	defs *normalize.Definitions
}

// Build runs the full metadata → modules → symbols → endpoints →
// relationships → fan-threshold → features pipeline (spec §4.5).
func (b *Builder) Build(ctx context.Context, cfg Config) (*pkgmodel.PKG, error) {
	start := time.Now()
	if cfg.FanThreshold <= 0 {
		cfg.FanThreshold = 3
	}
	if cfg.ParseWorkers <= 0 {
		cfg.ParseWorkers = 4
	}

	b.logger.Info("pkgbuild.step.metadata", "root", cfg.RootPath)
	projectMeta := detect.DetectProject(cfg.RootPath)
	gitSHA := GitSHA(cfg.RootPath)

	b.logger.Info("pkgbuild.step.scan", "root", cfg.RootPath)
	files, err := scan.Walk(cfg.RootPath)
	if err != nil {
		return nil, fmt.Errorf("scan repo: %w", err)
	}
	sort.Slice(files, func(i, j int) bool { return files[i].RelPath < files[j].RelPath })

	b.logger.Info("pkgbuild.step.normalize", "file_count", len(files))
	parsed := b.parseFiles(ctx, files, cfg.ParseWorkers)

	languages := map[string]bool{}
	var modules []pkgmodel.Module
	var symbols []pkgmodel.Symbol
	var endpoints []pkgmodel.Endpoint
	moduleInputs := make([]relate.ModuleInput, 0, len(parsed))
	frameworks := map[string]bool{}
	for _, f := range projectMeta.Frameworks {
		frameworks[f] = true
	}

	for _, pf := range parsed {
		languages[string(pf.file.Language)] = true
		modID := pkgmodel.ModuleID(pf.file.RelPath)
		hash := sha256.Sum256(mustRead(pf.file.AbsPath))

		mod := pkgmodel.Module{
			ID:            modID,
			Path:          pf.file.RelPath,
			Hash:          hex.EncodeToString(hash[:]),
			LOC:           countLines(pf.file.AbsPath),
			CodePatterns:  pf.defs.CodePatterns,
			UIElements:    pf.defs.UIElements,
			FileStructure: pf.defs.FileStructure,
		}
		mod.Kind = classifyKind(pf.file.RelPath, pf.defs)

		if fw := detectFramework(pf.file.AbsPath, pf.defs); fw.Framework != "" {
			frameworks[fw.Framework] = true
		}

		// Preliminary symbols: exported functions/classes carry no summary yet.
		var exports []string
		for _, fn := range pf.defs.Functions {
			sym := pkgmodel.Symbol{
				ID:         pkgmodel.SymbolID(modID, fn.Name),
				ModuleID:   modID,
				Name:       fn.Name,
				Kind:       pkgmodel.SymbolFunction,
				IsExported: fn.Exported,
				Signature:  fn.Signature,
				Visibility: visibility(fn.Exported),
			}
			symbols = append(symbols, sym)
			if fn.Exported {
				exports = append(exports, sym.ID)
			}
		}
		for _, cls := range pf.defs.Classes {
			sym := pkgmodel.Symbol{
				ID:         pkgmodel.SymbolID(modID, cls.Name),
				ModuleID:   modID,
				Name:       cls.Name,
				Kind:       pkgmodel.SymbolClass,
				IsExported: true,
				Visibility: "public",
			}
			symbols = append(symbols, sym)
			exports = append(exports, sym.ID)
			for _, m := range cls.Methods {
				msym := pkgmodel.Symbol{
					ID:         pkgmodel.SymbolID(modID, m.Name),
					ModuleID:   modID,
					Name:       m.Name,
					Kind:       pkgmodel.SymbolMethod,
					IsExported: m.Exported,
					Signature:  m.Signature,
					Visibility: visibility(m.Exported),
				}
				symbols = append(symbols, msym)
				if m.Exported {
					exports = append(exports, msym.ID)
				}
			}
		}
		for _, iface := range pf.defs.Interfaces {
			sym := pkgmodel.Symbol{
				ID:         pkgmodel.SymbolID(modID, iface.Name),
				ModuleID:   modID,
				Name:       iface.Name,
				Kind:       pkgmodel.SymbolInterface,
				IsExported: true,
				Visibility: "public",
			}
			symbols = append(symbols, sym)
			exports = append(exports, sym.ID)
		}
		mod.Exports = exports
		modules = append(modules, mod)
		moduleInputs = append(moduleInputs, relate.ModuleInput{
			Module: mod,
			Lang:   pf.file.Language,
			Defs:   pf.defs,
		})

		endpoints = append(endpoints, endpoint.Detect(pf.file.RelPath, modID, string(mustRead(pf.file.AbsPath)))...)
	}

	b.logger.Info("pkgbuild.step.relationships", "module_count", len(modules), "endpoint_count", len(endpoints))
	edges, fan := relate.Extract(moduleInputs, endpoints, cfg.SourceRoots)

	// Populate module.imports from imports-edges, and apply fan counts.
	importsByModule := map[string]map[string]bool{}
	for _, e := range edges {
		if e.Type != pkgmodel.EdgeImports {
			continue
		}
		if importsByModule[e.From] == nil {
			importsByModule[e.From] = map[string]bool{}
		}
		importsByModule[e.From][e.To] = true
	}
	for i := range modules {
		var imports []string
		for to := range importsByModule[modules[i].ID] {
			imports = append(imports, to)
		}
		sort.Strings(imports)
		modules[i].Imports = imports
		fc := fan[modules[i].ID]
		modules[i].FanIn = fc.FanIn
		modules[i].FanOut = fc.FanOut
	}

	b.logger.Info("pkgbuild.step.fan_threshold", "threshold", cfg.FanThreshold)
	applyFanThreshold(modules, symbols, cfg.FanThreshold)

	features := buildFeatures(modules)

	var langList []string
	for l := range languages {
		langList = append(langList, l)
	}
	sort.Strings(langList)
	var fwList []string
	for f := range frameworks {
		fwList = append(fwList, f)
	}
	sort.Strings(fwList)

	project := pkgmodel.Project{
		ID:         filepath.Base(filepath.Clean(cfg.RootPath)),
		Name:       filepath.Base(filepath.Clean(cfg.RootPath)),
		RootPath:   cfg.RootPath,
		Languages:  langList,
		Frameworks: fwList,
		BuildTools: projectMeta.BuildTools,
		GitSHA:     gitSHA,
		Metadata: pkgmodel.ProjectMetadata{
			FrameworkVersions: projectMeta.FrameworkVersions,
			NodeVersion:       projectMeta.FrameworkVersions["node"],
			PythonVersion:     projectMeta.FrameworkVersions["python"],
		},
	}

	pkg := &pkgmodel.PKG{
		Version:     pkgmodel.CurrentVersion,
		GeneratedAt: time.Now().UTC(),
		GitSHA:      gitSHA,
		Project:     project,
		Modules:     modules,
		Symbols:     symbols,
		Endpoints:   endpoints,
		Edges:       edges,
		Features:    features,
	}

	if err := pkg.Validate(); err != nil {
		return nil, fmt.Errorf("pkg validation: %w", err)
	}

	b.logger.Info("pkgbuild.complete",
		"modules", len(modules), "symbols", len(symbols),
		"endpoints", len(endpoints), "edges", len(edges), "features", len(features),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return pkg, nil
}

// parseFiles normalizes every scanned file, sequentially for small repos and
// with a bounded worker pool otherwise (mirrors the teacher ingestion
// pipeline's parseFilesParallel/parseFilesSequential split).
func (b *Builder) parseFiles(ctx context.Context, files []scan.File, workers int) []parsedFile {
	if len(files) < 10 || workers <= 1 {
		return b.parseSequential(ctx, files)
	}

	jobs := make(chan int, len(files))
	results := make([]*parsedFile, len(files))
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				select {
				case <-ctx.Done():
					return
				default:
				}
				f := files[i]
				content, err := os.ReadFile(f.AbsPath)
				if err != nil {
					continue
				}
				norm := normalize.ForLanguage(f.Language)
				if norm == nil {
					continue
				}
				defs, err := norm.Normalize(f.RelPath, content)
				if err != nil || defs == nil {
					b.logger.Warn("pkgbuild.normalize.skip", "path", f.RelPath, "err", err)
					continue
				}
				results[i] = &parsedFile{file: f, defs: defs}
			}
		}()
	}
	for i := range files {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	out := make([]parsedFile, 0, len(files))
	for _, r := range results {
		if r != nil {
			out = append(out, *r)
		}
	}
	return out
}

func (b *Builder) parseSequential(ctx context.Context, files []scan.File) []parsedFile {
	out := make([]parsedFile, 0, len(files))
	for _, f := range files {
		select {
		case <-ctx.Done():
			return out
		default:
		}
		content, err := os.ReadFile(f.AbsPath)
		if err != nil {
			continue
		}
		norm := normalize.ForLanguage(f.Language)
		if norm == nil {
			continue
		}
		defs, err := norm.Normalize(f.RelPath, content)
		if err != nil || defs == nil {
			b.logger.Warn("pkgbuild.normalize.skip", "path", f.RelPath, "err", err)
			continue
		}
		out = append(out, parsedFile{file: f, defs: defs})
	}
	return out
}

func mustRead(path string) []byte {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	return data
}

func countLines(path string) int {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0
	}
	return strings.Count(string(data), "\n") + 1
}

func visibility(exported bool) string {
	if exported {
		return "public"
	}
	return "private"
}

// classifyKind derives coarse module kinds from path segments and
// extracted definitions, used by tag-based PKG queries.
func classifyKind(relPath string, defs *normalize.Definitions) []string {
	lower := strings.ToLower(relPath)
	var kinds []string
	switch {
	case strings.Contains(lower, "controller"):
		kinds = append(kinds, "controller")
	case strings.Contains(lower, "service"):
		kinds = append(kinds, "service")
	case strings.Contains(lower, "repository") || strings.Contains(lower, "repo"):
		kinds = append(kinds, "repository")
	case strings.Contains(lower, "entity") || strings.Contains(lower, "model"):
		kinds = append(kinds, "entity")
	case strings.Contains(lower, "component"):
		kinds = append(kinds, "component")
	}
	if strings.Contains(lower, "test") || strings.HasSuffix(lower, "_test.go") || strings.Contains(lower, ".test.") || strings.Contains(lower, ".spec.") {
		kinds = append(kinds, "test")
	}
	if strings.Contains(lower, "util") || strings.Contains(lower, "helper") {
		kinds = append(kinds, "util")
	}
	if len(kinds) == 0 {
		kinds = append(kinds, "module")
	}
	return kinds
}

func detectFramework(absPath string, defs *normalize.Definitions) detect.ModuleFramework {
	content := string(mustRead(absPath))
	return detect.DetectModuleFramework(absPath, content)
}

// applyFanThreshold attaches a deterministic summary to every exported
// symbol of modules whose fan-in meets the configured threshold (spec
// §4.5: "modules with fanIn ≥ threshold get summary attached to their
// symbols; others don't").
func applyFanThreshold(modules []pkgmodel.Module, symbols []pkgmodel.Symbol, threshold int) {
	highFan := map[string]bool{}
	for _, m := range modules {
		if m.FanIn >= threshold {
			highFan[m.ID] = true
		}
	}
	for i := range symbols {
		if !highFan[symbols[i].ModuleID] {
			continue
		}
		symbols[i].Summary = fmt.Sprintf("%s %s defined in a widely-depended-on module (fan-in ≥ %d)", symbols[i].Kind, symbols[i].Name, threshold)
	}
}

// buildFeatures derives Feature nodes from every non-trivial folder prefix
// along each module's path (spec §3, §4.5).
func buildFeatures(modules []pkgmodel.Module) []pkgmodel.Feature {
	byPath := map[string]*pkgmodel.Feature{}
	var order []string
	for _, m := range modules {
		dir := filepath.Dir(m.Path)
		if dir == "." || dir == "/" {
			continue
		}
		segments := strings.Split(filepath.ToSlash(dir), "/")
		prefix := ""
		for _, seg := range segments {
			if seg == "" || isTrivialFolder(seg) {
				if prefix != "" {
					prefix = prefix + "/" + seg
				} else {
					prefix = seg
				}
				continue
			}
			if prefix != "" {
				prefix = prefix + "/" + seg
			} else {
				prefix = seg
			}
			id := pkgmodel.FeatureID(prefix)
			f, ok := byPath[id]
			if !ok {
				f = &pkgmodel.Feature{ID: id, Name: seg, Path: prefix}
				byPath[id] = f
				order = append(order, id)
			}
			f.ModuleIDs = append(f.ModuleIDs, m.ID)
		}
	}
	sort.Strings(order)
	features := make([]pkgmodel.Feature, 0, len(order))
	for _, id := range order {
		f := byPath[id]
		f.ModuleIDs = dedupStrings(f.ModuleIDs)
		features = append(features, *f)
	}
	return features
}

var trivialFolders = map[string]bool{
	"src": true, "lib": true, "app": true, "pkg": true, "internal": true,
}

func isTrivialFolder(name string) bool {
	return trivialFolders[strings.ToLower(name)]
}

func dedupStrings(in []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, v := range in {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	sort.Strings(out)
	return out
}

// GitSHA returns the HEAD commit SHA for rootPath, or "" if it is not a
// git working tree. Uses go-git rather than shelling out to `git`, the same
// library this implementation's PR Creator uses for push/fork operations.
// Exported so the orchestrator's LOAD_REPO step can validate a file-cache
// hit against the repo's current SHA without re-running the full build.
func GitSHA(rootPath string) string {
	repo, err := git.PlainOpen(rootPath)
	if err != nil {
		return ""
	}
	head, err := repo.Head()
	if err != nil {
		return ""
	}
	return head.Hash().String()
}
