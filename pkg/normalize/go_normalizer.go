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
	"unicode"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/golang"
)

type goNormalizer struct{}

func (n *goNormalizer) Normalize(path string, source []byte) (*Definitions, error) {
	parser := sitter.NewParser()
	parser.SetLanguage(golang.GetLanguage())
	tree, err := parser.ParseCtx(context.Background(), nil, source)
	if err != nil {
		return nil, fmt.Errorf("tree-sitter parse %s: %w", path, err)
	}
	defer tree.Close()

	root := tree.RootNode()
	defs := &Definitions{}
	funcNameToSimple := map[string]string{}

	defs.Imports = goImports(root, source)
	walkGoDecls(root, source, defs, funcNameToSimple)
	defs.Calls = goCalls(root, source, funcNameToSimple)

	defs.CodePatterns.ImportStyle = classifyImportStyle(defs.Imports)
	defs.CodePatterns.ComponentType = ""
	return defs, nil
}

func goImports(root *sitter.Node, src []byte) []Import {
	var imports []Import
	var visit func(n *sitter.Node)
	visit = func(n *sitter.Node) {
		if n == nil {
			return
		}
		if n.Type() == "import_spec" {
			var alias, path string
			for i := 0; i < int(n.ChildCount()); i++ {
				c := n.Child(i)
				switch c.Type() {
				case "interpreted_string_literal":
					path = strings.Trim(c.Content(src), `"`)
				case "package_identifier", "blank_identifier", "dot":
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

func walkGoDecls(n *sitter.Node, src []byte, defs *Definitions, funcNameToSimple map[string]string) {
	if n == nil {
		return
	}
	switch n.Type() {
	case "function_declaration":
		if fn := extractGoFunction(n, src, ""); fn != nil {
			defs.Functions = append(defs.Functions, *fn)
			funcNameToSimple[fn.Name] = fn.Name
		}
	case "method_declaration":
		recv := goReceiverTypeName(n, src)
		if fn := extractGoFunction(n, src, recv); fn != nil {
			defs.Functions = append(defs.Functions, *fn)
			funcNameToSimple[fn.Name] = fn.Name
		}
	case "type_declaration":
		extractGoTypeDecl(n, src, defs)
	}
	for i := 0; i < int(n.ChildCount()); i++ {
		walkGoDecls(n.Child(i), src, defs, funcNameToSimple)
	}
}

func extractGoFunction(n *sitter.Node, src []byte, receiver string) *Function {
	nameNode := n.ChildByFieldName("name")
	if nameNode == nil {
		return nil
	}
	name := nameNode.Content(src)
	paramsNode := n.ChildByFieldName("parameters")
	var params []string
	if paramsNode != nil {
		for i := 0; i < int(paramsNode.ChildCount()); i++ {
			c := paramsNode.Child(i)
			if c.Type() == "parameter_declaration" {
				params = append(params, c.Content(src))
			}
		}
	}
	qualified := name
	if receiver != "" {
		qualified = receiver + "." + name
	}
	sig := n.Content(src)
	if idx := strings.IndexByte(sig, '{'); idx >= 0 {
		sig = strings.TrimSpace(sig[:idx])
	}
	return &Function{
		Name:       qualified,
		Receiver:   receiver,
		Parameters: params,
		StartLine:  int(n.StartPoint().Row) + 1,
		EndLine:    int(n.EndPoint().Row) + 1,
		StartCol:   int(n.StartPoint().Column),
		EndCol:     int(n.EndPoint().Column),
		Signature:  sig,
		Exported:   unicode.IsUpper(rune(name[0])),
	}
}

func goReceiverTypeName(n *sitter.Node, src []byte) string {
	recvNode := n.ChildByFieldName("receiver")
	if recvNode == nil {
		return ""
	}
	var find func(*sitter.Node) string
	find = func(node *sitter.Node) string {
		if node == nil {
			return ""
		}
		if node.Type() == "type_identifier" {
			return node.Content(src)
		}
		for i := 0; i < int(node.ChildCount()); i++ {
			if v := find(node.Child(i)); v != "" {
				return v
			}
		}
		return ""
	}
	return find(recvNode)
}

func extractGoTypeDecl(n *sitter.Node, src []byte, defs *Definitions) {
	for i := 0; i < int(n.ChildCount()); i++ {
		c := n.Child(i)
		if c.Type() != "type_spec" {
			continue
		}
		nameNode := c.ChildByFieldName("name")
		typeNode := c.ChildByFieldName("type")
		if nameNode == nil || typeNode == nil {
			continue
		}
		name := nameNode.Content(src)
		switch typeNode.Type() {
		case "struct_type":
			defs.Structs = append(defs.Structs, Class{
				Name:      name,
				StartLine: int(c.StartPoint().Row) + 1,
				EndLine:   int(c.EndPoint().Row) + 1,
			})
		case "interface_type":
			defs.Interfaces = append(defs.Interfaces, Interface{Name: name})
		}
	}
}

func goCalls(root *sitter.Node, src []byte, funcNameToSimple map[string]string) []Call {
	var calls []Call
	var currentFunc string
	var visit func(n *sitter.Node)
	visit = func(n *sitter.Node) {
		if n == nil {
			return
		}
		switch n.Type() {
		case "function_declaration", "method_declaration":
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
