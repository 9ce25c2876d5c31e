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
	"os"
	"path/filepath"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/typescript/tsx"
	"github.com/smacker/go-tree-sitter/typescript/typescript"
)

// tsNormalizer handles TypeScript, TSX, JavaScript, and JSX via tree-sitter.
// The grammar is chosen by extension: .tsx uses the tsx grammar, .ts the
// typescript grammar, and every other extension (.js, .jsx, ...) the
// javascript grammar.
type tsNormalizer struct {
	jsx bool
}

func (n *tsNormalizer) Normalize(path string, source []byte) (*Definitions, error) {
	parser := sitter.NewParser()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".tsx":
		parser.SetLanguage(tsx.GetLanguage())
	case ".ts":
		parser.SetLanguage(typescript.GetLanguage())
	default:
		parser.SetLanguage(javascript.GetLanguage())
	}

	tree, err := parser.ParseCtx(context.Background(), nil, source)
	if err != nil {
		return nil, fmt.Errorf("tree-sitter parse %s: %w", path, err)
	}
	defer tree.Close()

	root := tree.RootNode()
	src := source
	defs := &Definitions{}

	defs.Imports = tsImports(root, src)
	var classCount, funcCompCount int
	walkTSDecls(root, src, defs, &classCount, &funcCompCount)
	defs.Calls = tsCalls(root, src)

	text := string(source)
	defs.CodePatterns.ImportStyle = classifyImportStyle(defs.Imports)
	defs.CodePatterns.ExportStyle = classifyExportStyle(text)
	defs.CodePatterns.LifecycleHooks = detectLifecycleHooks(text)
	defs.CodePatterns.StateManagement = detectStateManagement(text)
	defs.CodePatterns.ComponentType = classifyComponentType(classCount, funcCompCount, countPascalArrowComponents(text))
	defs.UIElements = extractUIElements(text)
	defs.FileStructure = detectFileStructure(path, text, fileExists)
	return defs, nil
}

func tsImports(root *sitter.Node, src []byte) []Import {
	var imports []Import
	var visit func(n *sitter.Node)
	visit = func(n *sitter.Node) {
		if n == nil {
			return
		}
		if n.Type() == "import_statement" {
			var path, alias string
			for i := 0; i < int(n.ChildCount()); i++ {
				c := n.Child(i)
				switch c.Type() {
				case "string":
					path = strings.Trim(c.Content(src), `'"`)
				case "import_clause":
					alias = c.Content(src)
				}
			}
			if path != "" {
				imports = append(imports, Import{Path: path, Alias: alias})
			}
		}
		for i := 0; i < int(n.ChildCount()); i++ {
			visit(n.Child(i))
		}
	}
	visit(root)
	return imports
}

func walkTSDecls(n *sitter.Node, src []byte, defs *Definitions, classCount, funcCompCount *int) {
	if n == nil {
		return
	}
	switch n.Type() {
	case "function_declaration":
		if fn := tsFunction(n, src); fn != nil {
			defs.Functions = append(defs.Functions, *fn)
			if isPascalCase(fn.Name) {
				*funcCompCount++
			}
		}
	case "method_definition":
		if fn := tsFunction(n, src); fn != nil {
			defs.Functions = append(defs.Functions, *fn)
		}
	case "class_declaration":
		if cls := tsClass(n, src); cls != nil {
			defs.Classes = append(defs.Classes, *cls)
			*classCount++
		}
	case "interface_declaration":
		if iface := tsInterface(n, src); iface != nil {
			defs.Interfaces = append(defs.Interfaces, *iface)
		}
	}
	for i := 0; i < int(n.ChildCount()); i++ {
		walkTSDecls(n.Child(i), src, defs, classCount, funcCompCount)
	}
}

func tsFunction(n *sitter.Node, src []byte) *Function {
	nameNode := n.ChildByFieldName("name")
	if nameNode == nil {
		return nil
	}
	paramsNode := n.ChildByFieldName("parameters")
	var params []string
	if paramsNode != nil {
		for i := 0; i < int(paramsNode.ChildCount()); i++ {
			c := paramsNode.Child(i)
			if c.Type() == "required_parameter" || c.Type() == "optional_parameter" || c.Type() == "identifier" {
				params = append(params, c.Content(src))
			}
		}
	}
	return &Function{
		Name:       nameNode.Content(src),
		Parameters: params,
		StartLine:  int(n.StartPoint().Row) + 1,
		EndLine:    int(n.EndPoint().Row) + 1,
		StartCol:   int(n.StartPoint().Column),
		EndCol:     int(n.EndPoint().Column),
		Exported:   true,
	}
}

func tsClass(n *sitter.Node, src []byte) *Class {
	nameNode := n.ChildByFieldName("name")
	if nameNode == nil {
		return nil
	}
	cls := &Class{
		Name:      nameNode.Content(src),
		StartLine: int(n.StartPoint().Row) + 1,
		EndLine:   int(n.EndPoint().Row) + 1,
	}
	if heritage := n.ChildByFieldName("heritage"); heritage != nil {
		cls.Extends = heritage.Content(src)
	}
	bodyNode := n.ChildByFieldName("body")
	if bodyNode != nil {
		for i := 0; i < int(bodyNode.ChildCount()); i++ {
			c := bodyNode.Child(i)
			switch c.Type() {
			case "method_definition":
				if fn := tsFunction(c, src); fn != nil {
					cls.Methods = append(cls.Methods, *fn)
				}
			case "public_field_definition":
				cls.Fields = append(cls.Fields, c.Content(src))
			}
		}
	}
	if decorator := n.PrevSibling(); decorator != nil && decorator.Type() == "decorator" {
		cls.Annotations = append(cls.Annotations, decorator.Content(src))
	}
	return cls
}

func tsInterface(n *sitter.Node, src []byte) *Interface {
	nameNode := n.ChildByFieldName("name")
	if nameNode == nil {
		return nil
	}
	iface := &Interface{Name: nameNode.Content(src)}
	bodyNode := n.ChildByFieldName("body")
	if bodyNode != nil {
		for i := 0; i < int(bodyNode.ChildCount()); i++ {
			c := bodyNode.Child(i)
			if c.Type() == "method_signature" || c.Type() == "property_signature" {
				iface.Methods = append(iface.Methods, c.Content(src))
			}
		}
	}
	return iface
}

func tsCalls(root *sitter.Node, src []byte) []Call {
	var calls []Call
	var currentFunc string
	var visit func(n *sitter.Node)
	visit = func(n *sitter.Node) {
		if n == nil {
			return
		}
		switch n.Type() {
		case "function_declaration", "method_definition":
			if name := n.ChildByFieldName("name"); name != nil {
				prev := currentFunc
				currentFunc = name.Content(src)
				for i := 0; i < int(n.ChildCount()); i++ {
					visit(n.Child(i))
				}
				currentFunc = prev
				return
			}
		case "call_expression":
			fnNode := n.ChildByFieldName("function")
			if fnNode != nil && currentFunc != "" {
				calls = append(calls, Call{CallerName: currentFunc, CalleeName: fnNode.Content(src)})
			}
		}
		for i := 0; i < int(n.ChildCount()); i++ {
			visit(n.Child(i))
		}
	}
	visit(root)
	return calls
}

func isPascalCase(s string) bool {
	return s != "" && s[0] >= 'A' && s[0] <= 'Z'
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
