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

// Package normalize implements the Language Normalizer (spec component C2):
// it parses one source file into a uniform Definitions record regardless of
// source language. Tree-sitter-backed handlers cover Go, Python, TypeScript,
// TSX, JavaScript, and JSX; a closed set of regex-based handlers covers
// Java, C, C++, C#, and classic-ASP, languages without a vendored grammar.
package normalize

import "github.com/kraklabs/forge/pkg/pkgmodel"

// Import is one raw import/include statement as written in source.
type Import struct {
	Path  string // the import path/module name as written
	Alias string // local alias, if any
}

// Function is a top-level or class-level function/method declaration.
type Function struct {
	Name       string
	Receiver   string // non-empty for methods: the owning type name
	Parameters []string
	Docstring  string
	StartLine  int
	EndLine    int
	StartCol   int
	EndCol     int
	Signature  string
	Exported   bool
}

// Class is a class declaration with its members.
type Class struct {
	Name       string
	Methods    []Function
	Fields     []string
	Annotations []string
	Extends    string
	Implements []string
	StartLine  int
	EndLine    int
}

// Interface is an interface/protocol declaration.
type Interface struct {
	Name    string
	Methods []string
}

// Call is a best-effort, unresolved reference from one symbol to a callee
// name as written (possibly package/receiver-qualified).
type Call struct {
	CallerName string
	CalleeName string
}

// Definitions is the normalized output of parsing a single file (spec §4.2).
// Not every field is populated for every language; a zero value for a field
// means the language/file genuinely has none, not that extraction failed.
type Definitions struct {
	Imports    []Import
	Functions  []Function
	Classes    []Class
	Interfaces []Interface
	Structs    []Class
	Includes   []string
	Namespaces []string
	Variables  []string
	Calls      []Call

	CodePatterns  pkgmodel.CodePatterns
	UIElements    pkgmodel.UIElements
	FileStructure pkgmodel.FileStructure
}

// Normalizer parses a single file's source into Definitions.
// The tree-sitter handlers return an error when parsing fails; the regex
// handler returns (nil, nil) when it extracts nothing. The PKG Builder
// (pkg/pkgbuild) drops the file from the module set in either case.
type Normalizer interface {
	Normalize(path string, source []byte) (*Definitions, error)
}

// Language is the closed set of handler variants selected by file extension
// (spec §9 DESIGN NOTES, "Dynamic dispatch of language handlers").
type Language string

const (
	LangGo         Language = "go"
	LangPython     Language = "python"
	LangTypeScript Language = "typescript"
	LangJavaScript Language = "javascript"
	LangJava       Language = "java"
	LangC          Language = "c"
	LangCPP        Language = "cpp"
	LangCSharp     Language = "csharp"
	LangASP        Language = "asp"
)

// ForLanguage returns the Normalizer registered for lang, or nil if the
// language has no handler at all (distinct from a handler that fails to
// extract anything from a particular file).
func ForLanguage(lang Language) Normalizer {
	switch lang {
	case LangGo:
		return &goNormalizer{}
	case LangPython:
		return &pythonNormalizer{}
	case LangTypeScript, LangJavaScript:
		return &tsNormalizer{jsx: true}
	case LangJava:
		return &regexNormalizer{lang: LangJava}
	case LangC, LangCPP:
		return &regexNormalizer{lang: lang}
	case LangCSharp:
		return &regexNormalizer{lang: LangCSharp}
	case LangASP:
		return &regexNormalizer{lang: LangASP}
	default:
		return nil
	}
}
