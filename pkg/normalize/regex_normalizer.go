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
	"regexp"
	"strings"
)

// regexNormalizer is the degraded extraction path spec §4.2 requires for
// "classic-ASP-like languages without a grammar": Java, C, C++, C#, and
// classic ASP have no vendored tree-sitter grammar in this build, so they
// are handled by line-oriented pattern matching instead of an AST walk.
type regexNormalizer struct {
	lang Language
}

var (
	javaClassRe     = regexp.MustCompile(`(?m)^\s*(?:public|private|protected)?\s*(?:abstract|final)?\s*class\s+(\w+)`)
	javaMethodRe    = regexp.MustCompile(`(?m)^\s*(?:public|private|protected)\s+(?:static\s+)?[\w<>\[\],\s]+\s+(\w+)\s*\([^)]*\)\s*\{`)
	javaImportRe    = regexp.MustCompile(`(?m)^\s*import\s+([\w.*]+)\s*;`)
	cFuncRe         = regexp.MustCompile(`(?m)^[\w][\w\s\*]*?\b(\w+)\s*\([^;{]*\)\s*\{`)
	cIncludeRe      = regexp.MustCompile(`(?m)^\s*#include\s*[<"]([^">]+)[">]`)
	cppNamespaceRe  = regexp.MustCompile(`(?m)^\s*namespace\s+(\w+)`)
	csUsingRe       = regexp.MustCompile(`(?m)^\s*using\s+([\w.]+)\s*;`)
	csClassRe       = regexp.MustCompile(`(?m)^\s*(?:public|private|internal)?\s*(?:sealed|abstract|static)?\s*class\s+(\w+)`)
	csMethodRe      = regexp.MustCompile(`(?m)^\s*(?:public|private|protected|internal)\s+(?:static\s+|virtual\s+|override\s+)*[\w<>\[\],\s]+\s+(\w+)\s*\([^)]*\)\s*\{`)
	aspIncludeRe    = regexp.MustCompile(`(?i)<!--\s*#include\s+(?:file|virtual)\s*=\s*"([^"]+)"`)
	aspSubRe        = regexp.MustCompile(`(?i)\bSub\s+(\w+)\s*\(`)
	aspFunctionRe   = regexp.MustCompile(`(?i)\bFunction\s+(\w+)\s*\(`)
)

func (n *regexNormalizer) Normalize(path string, source []byte) (*Definitions, error) {
	text := string(source)
	defs := &Definitions{}

	switch n.lang {
	case LangJava:
		for _, m := range javaImportRe.FindAllStringSubmatch(text, -1) {
			defs.Imports = append(defs.Imports, Import{Path: m[1]})
		}
		for _, m := range javaClassRe.FindAllStringSubmatch(text, -1) {
			defs.Classes = append(defs.Classes, Class{Name: m[1]})
		}
		for _, m := range javaMethodRe.FindAllStringSubmatch(text, -1) {
			defs.Functions = append(defs.Functions, Function{Name: m[1]})
		}
	case LangC, LangCPP:
		for _, m := range cIncludeRe.FindAllStringSubmatch(text, -1) {
			defs.Includes = append(defs.Includes, m[1])
		}
		for _, m := range cFuncRe.FindAllStringSubmatch(text, -1) {
			if isCKeyword(m[1]) {
				continue
			}
			defs.Functions = append(defs.Functions, Function{Name: m[1]})
		}
		if n.lang == LangCPP {
			for _, m := range cppNamespaceRe.FindAllStringSubmatch(text, -1) {
				defs.Namespaces = append(defs.Namespaces, m[1])
			}
		}
	case LangCSharp:
		for _, m := range csUsingRe.FindAllStringSubmatch(text, -1) {
			defs.Imports = append(defs.Imports, Import{Path: m[1]})
		}
		for _, m := range csClassRe.FindAllStringSubmatch(text, -1) {
			defs.Classes = append(defs.Classes, Class{Name: m[1]})
		}
		for _, m := range csMethodRe.FindAllStringSubmatch(text, -1) {
			defs.Functions = append(defs.Functions, Function{Name: m[1]})
		}
	case LangASP:
		for _, m := range aspIncludeRe.FindAllStringSubmatch(text, -1) {
			defs.Includes = append(defs.Includes, m[1])
		}
		for _, m := range aspSubRe.FindAllStringSubmatch(text, -1) {
			defs.Functions = append(defs.Functions, Function{Name: m[1]})
		}
		for _, m := range aspFunctionRe.FindAllStringSubmatch(text, -1) {
			defs.Functions = append(defs.Functions, Function{Name: m[1]})
		}
	}

	defs.CodePatterns.ImportStyle = classifyImportStyle(defs.Imports)
	if len(defs.Functions) == 0 && len(defs.Classes) == 0 && len(defs.Includes) == 0 && len(defs.Imports) == 0 {
		// Nothing recognizable extracted from this file; the PKG Builder
		// treats a nil Definitions as a parse failure and drops the module.
		return nil, nil
	}
	return defs, nil
}

var cKeywords = map[string]bool{"if": true, "for": true, "while": true, "switch": true, "return": true, "sizeof": true}

func isCKeyword(name string) bool {
	return cKeywords[strings.ToLower(name)]
}
