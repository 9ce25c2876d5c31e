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

// Package relate implements the Relationship Extractor (spec component C4):
// it resolves raw imports/calls to stable module/symbol IDs and computes
// fan-in/fan-out per module. Grounded on the cross-package call resolution
// approach of a Go-specific CallResolver, generalized here to the
// relative/absolute import resolution policy spec §4.4 requires across
// every supported language.
package relate

import (
	"path/filepath"
	"strings"

	"github.com/kraklabs/forge/pkg/normalize"
	"github.com/kraklabs/forge/pkg/pkgmodel"
)

// knownExtensions lists the extensions the relative-import resolver tries,
// in order, when an import omits one.
var knownExtensions = []string{".ts", ".tsx", ".js", ".jsx", ".py", ".go"}

// SourceRoots maps a language to the configured directories (relative to
// repo root) searched for an absolute import, e.g. {"typescript": ["src"]}.
type SourceRoots map[normalize.Language][]string

// ModuleInput is everything the extractor needs about one already-built
// module to resolve its imports and calls.
type ModuleInput struct {
	Module pkgmodel.Module
	Lang   normalize.Language
	Defs   *normalize.Definitions
}

// FanCounts holds computed fan-in/fan-out for a module.
type FanCounts struct {
	FanIn  int
	FanOut int
}

// Extract resolves every module's raw imports/calls against the full set
// of modules in the repo and returns deduplicated typed edges plus
// per-module fan counts (spec §4.4).
func Extract(inputs []ModuleInput, endpoints []pkgmodel.Endpoint, roots SourceRoots) ([]pkgmodel.Edge, map[string]FanCounts) {
	byPath := make(map[string]string, len(inputs)) // normalized relative path -> module ID
	byID := make(map[string]ModuleInput, len(inputs))
	exportedSymbols := make(map[string]map[string]string) // moduleID -> simple symbol name -> symbol ID
	for _, in := range inputs {
		byPath[pkgmodel.NormalizePath(in.Module.Path)] = in.Module.ID
		byID[in.Module.ID] = in
		symTable := map[string]string{}
		for _, fn := range in.Defs.Functions {
			symTable[fn.Name] = pkgmodel.SymbolID(in.Module.ID, fn.Name)
		}
		exportedSymbols[in.Module.ID] = symTable
	}

	seen := map[string]bool{}
	var edges []pkgmodel.Edge
	addEdge := func(e pkgmodel.Edge) {
		key := e.From + "|" + e.To + "|" + string(e.Type)
		if seen[key] {
			return
		}
		seen[key] = true
		edges = append(edges, e)
	}

	fan := make(map[string]FanCounts, len(inputs))

	for _, in := range inputs {
		dir := filepath.Dir(in.Module.Path)
		for _, imp := range in.Defs.Imports {
			targetID := resolveImport(imp.Path, dir, in.Lang, byPath, roots)
			if targetID == "" || targetID == in.Module.ID {
				continue
			}
			addEdge(pkgmodel.Edge{From: in.Module.ID, To: targetID, Type: pkgmodel.EdgeImports, Weight: 1})
		}
		for _, call := range in.Defs.Calls {
			callerSymID, ok := exportedSymbols[in.Module.ID][call.CallerName]
			if !ok {
				continue
			}
			targetModID, targetSymID := resolveCall(call.CalleeName, in.Module.ID, in.Defs.Imports, dir, in.Lang, byPath, exportedSymbols, roots)
			if targetSymID == "" || targetModID == in.Module.ID {
				continue
			}
			addEdge(pkgmodel.Edge{From: callerSymID, To: targetSymID, Type: pkgmodel.EdgeCalls, Weight: 1})
		}
		for _, cls := range in.Defs.Classes {
			if cls.Extends == "" {
				continue
			}
			if targetID := findSymbolByName(cls.Extends, byID); targetID != "" {
				addEdge(pkgmodel.Edge{
					From: pkgmodel.SymbolID(in.Module.ID, cls.Name),
					To:   targetID,
					Type: pkgmodel.EdgeExtends,
					Weight: 1,
				})
			}
			for _, impl := range cls.Implements {
				if targetID := findSymbolByName(impl, byID); targetID != "" {
					addEdge(pkgmodel.Edge{
						From: pkgmodel.SymbolID(in.Module.ID, cls.Name),
						To:   targetID,
						Type: pkgmodel.EdgeImplements,
						Weight: 1,
					})
				}
			}
		}
	}

	for _, ep := range endpoints {
		if ep.HandlerModuleID != "" {
			addEdge(pkgmodel.Edge{From: ep.ID, To: ep.HandlerModuleID, Type: pkgmodel.EdgeCalls, Weight: 1})
		}
	}

	for _, e := range edges {
		if e.Type != pkgmodel.EdgeImports {
			continue
		}
		fromMod, fromOK := pkgmodel.ModuleIDFromEdgeEndpoint(e.From)
		toMod, toOK := pkgmodel.ModuleIDFromEdgeEndpoint(e.To)
		if fromOK {
			fc := fan[fromMod]
			fc.FanOut++
			fan[fromMod] = fc
		}
		if toOK {
			fc := fan[toMod]
			fc.FanIn++
			fan[toMod] = fc
		}
	}

	return edges, fan
}

// resolveImport implements spec §4.4's resolution policy: relative imports
// resolve against the importer's directory (trying known extensions, then
// an index file); absolute imports try configured source roots; anything
// unresolved is dropped, not errored.
func resolveImport(importPath, fromDir string, lang normalize.Language, byPath map[string]string, roots SourceRoots) string {
	if strings.HasPrefix(importPath, "./") || strings.HasPrefix(importPath, "../") {
		resolved := filepath.Join(fromDir, importPath)
		if id := tryResolveCandidate(resolved, byPath); id != "" {
			return id
		}
		return ""
	}
	for _, root := range roots[lang] {
		candidate := filepath.Join(root, importPath)
		if id := tryResolveCandidate(candidate, byPath); id != "" {
			return id
		}
	}
	// Go-style package paths: match by directory suffix.
	for path, id := range byPath {
		dir := filepath.Dir(path)
		if strings.HasSuffix(importPath, dir) {
			return id
		}
	}
	return ""
}

func tryResolveCandidate(base string, byPath map[string]string) string {
	clean := pkgmodel.NormalizePath(base)
	if id, ok := byPath[clean]; ok {
		return id
	}
	for _, ext := range knownExtensions {
		if id, ok := byPath[clean+ext]; ok {
			return id
		}
	}
	for _, ext := range knownExtensions {
		indexPath := pkgmodel.NormalizePath(filepath.Join(base, "index"+ext))
		if id, ok := byPath[indexPath]; ok {
			return id
		}
	}
	return ""
}

// resolveCall performs best-effort, conservative resolution of a raw callee
// name to a (moduleID, symbolID) pair. Unresolvable calls are dropped
// rather than guessed (spec §9 Open Question 3).
func resolveCall(
	calleeName, callerModuleID string,
	imports []normalize.Import,
	fromDir string,
	lang normalize.Language,
	byPath map[string]string,
	exportedSymbols map[string]map[string]string,
	roots SourceRoots,
) (string, string) {
	name := calleeName
	var alias string
	if idx := strings.Index(calleeName, "."); idx > 0 {
		alias = calleeName[:idx]
		name = calleeName[strings.LastIndex(calleeName, ".")+1:]
	}

	if alias != "" {
		for _, imp := range imports {
			importAlias := imp.Alias
			if importAlias == "" {
				importAlias = filepath.Base(imp.Path)
			}
			if importAlias != alias {
				continue
			}
			targetID := resolveImport(imp.Path, fromDir, lang, byPath, roots)
			if targetID == "" {
				continue
			}
			if symID, ok := exportedSymbols[targetID][name]; ok {
				return targetID, symID
			}
		}
		return "", ""
	}

	// Same-module call: resolve directly.
	if symID, ok := exportedSymbols[callerModuleID][name]; ok {
		return callerModuleID, symID
	}
	return "", ""
}

func findSymbolByName(name string, byID map[string]ModuleInput) string {
	for _, in := range byID {
		for _, fn := range in.Defs.Functions {
			if fn.Name == name {
				return pkgmodel.SymbolID(in.Module.ID, name)
			}
		}
		for _, cls := range in.Defs.Classes {
			if cls.Name == name {
				return pkgmodel.SymbolID(in.Module.ID, name)
			}
		}
	}
	return ""
}
