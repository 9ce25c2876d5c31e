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

package relate

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/kraklabs/forge/pkg/normalize"
	"github.com/kraklabs/forge/pkg/pkgmodel"
)

func moduleInput(path string, lang normalize.Language, defs *normalize.Definitions) ModuleInput {
	return ModuleInput{
		Module: pkgmodel.Module{ID: pkgmodel.ModuleID(path), Path: path},
		Lang:   lang,
		Defs:   defs,
	}
}

func TestExtract_RelativeImportResolvesWithExtension(t *testing.T) {
	a := moduleInput("src/a.ts", normalize.LangTypeScript, &normalize.Definitions{
		Imports: []normalize.Import{{Path: "./b"}},
	})
	b := moduleInput("src/b.ts", normalize.LangTypeScript, &normalize.Definitions{})

	edges, fan := Extract([]ModuleInput{a, b}, nil, nil)

	assert.Len(t, edges, 1)
	assert.Equal(t, a.Module.ID, edges[0].From)
	assert.Equal(t, b.Module.ID, edges[0].To)
	assert.Equal(t, pkgmodel.EdgeImports, edges[0].Type)
	assert.Equal(t, 1, fan[a.Module.ID].FanOut)
	assert.Equal(t, 1, fan[b.Module.ID].FanIn)
}

func TestExtract_RelativeImportResolvesToIndex(t *testing.T) {
	a := moduleInput("src/a.ts", normalize.LangTypeScript, &normalize.Definitions{
		Imports: []normalize.Import{{Path: "./widgets"}},
	})
	idx := moduleInput("src/widgets/index.ts", normalize.LangTypeScript, &normalize.Definitions{})

	edges, _ := Extract([]ModuleInput{a, idx}, nil, nil)

	assert.Len(t, edges, 1)
	assert.Equal(t, idx.Module.ID, edges[0].To)
}

func TestExtract_AbsoluteImportUsesSourceRoots(t *testing.T) {
	a := moduleInput("src/app/a.ts", normalize.LangTypeScript, &normalize.Definitions{
		Imports: []normalize.Import{{Path: "lib/b"}},
	})
	b := moduleInput("src/lib/b.ts", normalize.LangTypeScript, &normalize.Definitions{})
	roots := SourceRoots{normalize.LangTypeScript: {"src"}}

	edges, _ := Extract([]ModuleInput{a, b}, nil, roots)

	assert.Len(t, edges, 1)
	assert.Equal(t, b.Module.ID, edges[0].To)
}

func TestExtract_UnresolvableImportDropped(t *testing.T) {
	a := moduleInput("src/a.ts", normalize.LangTypeScript, &normalize.Definitions{
		Imports: []normalize.Import{{Path: "some-external-package"}},
	})

	edges, fan := Extract([]ModuleInput{a}, nil, nil)

	assert.Empty(t, edges)
	assert.Equal(t, 0, fan[a.Module.ID].FanOut)
}

func TestExtract_CallEdgeBetweenModules(t *testing.T) {
	a := moduleInput("src/a.ts", normalize.LangTypeScript, &normalize.Definitions{
		Imports:   []normalize.Import{{Path: "./b", Alias: "b"}},
		Functions: []normalize.Function{{Name: "run"}},
		Calls:     []normalize.Call{{CallerName: "run", CalleeName: "b.helper"}},
	})
	b := moduleInput("src/b.ts", normalize.LangTypeScript, &normalize.Definitions{
		Functions: []normalize.Function{{Name: "helper"}},
	})

	edges, _ := Extract([]ModuleInput{a, b}, nil, nil)

	var found bool
	for _, e := range edges {
		if e.Type == pkgmodel.EdgeCalls {
			found = true
			assert.Equal(t, pkgmodel.SymbolID(a.Module.ID, "run"), e.From)
			assert.Equal(t, pkgmodel.SymbolID(b.Module.ID, "helper"), e.To)
		}
	}
	assert.True(t, found, "expected a calls edge between modules")
}

func TestExtract_DuplicateEdgesCollapsed(t *testing.T) {
	a := moduleInput("src/a.ts", normalize.LangTypeScript, &normalize.Definitions{
		Imports: []normalize.Import{{Path: "./b"}, {Path: "./b"}},
	})
	b := moduleInput("src/b.ts", normalize.LangTypeScript, &normalize.Definitions{})

	edges, _ := Extract([]ModuleInput{a, b}, nil, nil)

	assert.Len(t, edges, 1)
}

func TestExtract_ExtendsEdge(t *testing.T) {
	a := moduleInput("src/a.ts", normalize.LangTypeScript, &normalize.Definitions{
		Classes: []normalize.Class{{Name: "Widget", Extends: "BaseComponent"}},
	})
	b := moduleInput("src/base.ts", normalize.LangTypeScript, &normalize.Definitions{
		Classes: []normalize.Class{{Name: "BaseComponent"}},
	})

	edges, _ := Extract([]ModuleInput{a, b}, nil, nil)

	var found bool
	for _, e := range edges {
		if e.Type == pkgmodel.EdgeExtends {
			found = true
			assert.Equal(t, pkgmodel.SymbolID(a.Module.ID, "Widget"), e.From)
			assert.Equal(t, pkgmodel.SymbolID(b.Module.ID, "BaseComponent"), e.To)
		}
	}
	assert.True(t, found, "expected an extends edge")
}

func TestExtract_EndpointHandlerEdge(t *testing.T) {
	a := moduleInput("src/handlers.ts", normalize.LangTypeScript, &normalize.Definitions{})
	endpoints := []pkgmodel.Endpoint{
		{ID: "ep:/users#GET", Path: "/users", Method: "GET", HandlerModuleID: a.Module.ID},
	}

	edges, _ := Extract([]ModuleInput{a}, endpoints, nil)

	assert.Len(t, edges, 1)
	assert.Equal(t, "ep:/users#GET", edges[0].From)
	assert.Equal(t, a.Module.ID, edges[0].To)
}
