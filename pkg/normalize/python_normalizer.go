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

package normalize

import (
	"context"
	"fmt"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/python"
)

type pythonNormalizer struct{}

func (n *pythonNormalizer) Normalize(path string, source []byte) (*Definitions, error) {
	parser := sitter.NewParser()
	parser.SetLanguage(python.GetLanguage())
	tree, err := parser.ParseCtx(context.Background(), nil, source)
	if err != nil {
		return nil, fmt.Errorf("tree-sitter parse %s: %w", path, err)
	}
	defer tree.Close()

	root := tree.RootNode()
	defs := &Definitions{}
	defs.Imports = pyImports(root, source)
	walkPyDecls(root, source, defs)
	defs.CodePatterns.ImportStyle = classifyImportStyle(defs.Imports)
	return defs, nil
}

func pyImports(root *sitter.Node, src []byte) []Import {
	var imports []Import
	var visit func(n *sitter.Node)
	visit = func(n *sitter.Node) {
		if n == nil {
			return
		}
		switch n.Type() {
		case "import_statement":
			for i := 0; i < int(n.ChildCount()); i++ {
				c := n.Child(i)
				if c.Type() == "dotted_name" {
					imports = append(imports, Import{Path: c.Content(src)})
				}
			}
		case "import_from_statement":
			var module string
			for i := 0; i < int(n.ChildCount()); i++ {
				c := n.Child(i)
				if c.Type() == "dotted_name" || c.Type() == "relative_import" {
					module = c.Content(src)
					break
				}
			}
			if module != "" {
				imports = append(imports, Import{Path: module})
			}
		}
		for i := 0; i < int(n.ChildCount()); i++ {
			visit(n.Child(i))
		}
	}
	visit(root)
	return imports
}

func walkPyDecls(n *sitter.Node, src []byte, defs *Definitions) {
	if n == nil {
		return
	}
	switch n.Type() {
	case "function_definition":
		if fn := pyFunction(n, src); fn != nil {
			defs.Functions = append(defs.Functions, *fn)
		}
	case "class_definition":
		if cls := pyClass(n, src); cls != nil {
			defs.Classes = append(defs.Classes, *cls)
		}
		return // methods already captured inside pyClass
	}
	for i := 0; i < int(n.ChildCount()); i++ {
		walkPyDecls(n.Child(i), src, defs)
	}
}

func pyFunction(n *sitter.Node, src []byte) *Function {
	nameNode := n.ChildByFieldName("name")
	if nameNode == nil {
		return nil
	}
	name := nameNode.Content(src)
	var params []string
	if p := n.ChildByFieldName("parameters"); p != nil {
		for i := 0; i < int(p.ChildCount()); i++ {
			c := p.Child(i)
			if c.Type() == "identifier" || c.Type() == "typed_parameter" || c.Type() == "default_parameter" {
				params = append(params, c.Content(src))
			}
		}
	}
	docstring := ""
	if body := n.ChildByFieldName("body"); body != nil && body.ChildCount() > 0 {
		first := body.Child(0)
		if first.Type() == "expression_statement" && first.ChildCount() > 0 && first.Child(0).Type() == "string" {
			docstring = strings.Trim(first.Child(0).Content(src), `"' `)
		}
	}
	return &Function{
		Name:      name,
		Parameters: params,
		Docstring:  docstring,
		StartLine:  int(n.StartPoint().Row) + 1,
		EndLine:    int(n.EndPoint().Row) + 1,
		StartCol:   int(n.StartPoint().Column),
		EndCol:     int(n.EndPoint().Column),
		Exported:   !strings.HasPrefix(name, "_"),
	}
}

func pyClass(n *sitter.Node, src []byte) *Class {
	nameNode := n.ChildByFieldName("name")
	if nameNode == nil {
		return nil
	}
	cls := &Class{
		Name:      nameNode.Content(src),
		StartLine: int(n.StartPoint().Row) + 1,
		EndLine:   int(n.EndPoint().Row) + 1,
	}
	if sup := n.ChildByFieldName("superclasses"); sup != nil {
		cls.Extends = sup.Content(src)
	}
	if body := n.ChildByFieldName("body"); body != nil {
		for i := 0; i < int(body.ChildCount()); i++ {
			c := body.Child(i)
			if c.Type() == "function_definition" {
				if fn := pyFunction(c, src); fn != nil {
					fn.Name = cls.Name + "." + fn.Name
					cls.Methods = append(cls.Methods, *fn)
				}
			}
		}
	}
	return cls
}
