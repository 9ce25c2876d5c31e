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

// Package detect implements the Metadata & Framework Detector (spec
// component C3): project-level metadata extraction plus per-module
// framework detection with confidence scoring.
package detect

import (
	"math"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// ProjectFiles is the closed set of manifest/config files spec §4.3 reads
// to determine project-level metadata.
var ProjectFiles = []string{
	"package.json", "package-lock.json", ".nvmrc", ".python-version",
	"runtime.txt", "setup.py", "requirements.txt", "pom.xml",
	"build.gradle", "build.gradle.kts", "CMakeLists.txt", "Makefile",
	"angular.json", "tsconfig.json",
}

// ProjectMetadata is the union of detected languages, frameworks (with
// version where available), and build tools for a repo root.
type ProjectMetadata struct {
	Languages         []string
	Frameworks        []string
	FrameworkVersions map[string]string
	BuildTools        []string
}

// DetectProject reads the closed set of manifest files at rootPath and
// returns the project-level metadata.
func DetectProject(rootPath string) ProjectMetadata {
	meta := ProjectMetadata{FrameworkVersions: map[string]string{}}

	has := func(name string) bool {
		_, err := os.Stat(filepath.Join(rootPath, name))
		return err == nil
	}

	if has("package.json") {
		meta.BuildTools = append(meta.BuildTools, "npm")
		if data, err := os.ReadFile(filepath.Join(rootPath, "package.json")); err == nil {
			for fw, re := range packageJSONFrameworkRe {
				if m := re.FindSubmatch(data); m != nil {
					meta.Frameworks = append(meta.Frameworks, fw)
					if len(m) > 1 {
						meta.FrameworkVersions[fw] = string(m[1])
					}
				}
			}
		}
	}
	if has("requirements.txt") || has("setup.py") {
		meta.BuildTools = append(meta.BuildTools, "pip")
		if has("requirements.txt") {
			data, _ := os.ReadFile(filepath.Join(rootPath, "requirements.txt"))
			if flaskVersionRe.Match(data) {
				meta.Frameworks = append(meta.Frameworks, "flask")
			}
			if fastapiVersionRe.Match(data) {
				meta.Frameworks = append(meta.Frameworks, "fastapi")
			}
		}
	}
	if has("pom.xml") {
		meta.BuildTools = append(meta.BuildTools, "maven")
		if data, err := os.ReadFile(filepath.Join(rootPath, "pom.xml")); err == nil {
			if strings.Contains(string(data), "spring-boot") {
				meta.Frameworks = append(meta.Frameworks, "spring-boot")
			}
		}
	}
	if has("build.gradle") || has("build.gradle.kts") {
		meta.BuildTools = append(meta.BuildTools, "gradle")
	}
	for _, name := range []string{"CMakeLists.txt"} {
		if has(name) {
			meta.BuildTools = append(meta.BuildTools, "cmake")
		}
	}
	if has("Makefile") {
		meta.BuildTools = append(meta.BuildTools, "make")
	}
	if has("angular.json") {
		meta.Frameworks = append(meta.Frameworks, "angular")
	}
	csproj, _ := filepath.Glob(filepath.Join(rootPath, "*.csproj"))
	if len(csproj) > 0 {
		meta.BuildTools = append(meta.BuildTools, "dotnet")
	}
	if has(".python-version") {
		if data, err := os.ReadFile(filepath.Join(rootPath, ".python-version")); err == nil {
			meta.FrameworkVersions["python"] = strings.TrimSpace(string(data))
		}
	}
	if has(".nvmrc") {
		if data, err := os.ReadFile(filepath.Join(rootPath, ".nvmrc")); err == nil {
			meta.FrameworkVersions["node"] = strings.TrimSpace(string(data))
		}
	}
	meta.Frameworks = dedup(meta.Frameworks)
	meta.BuildTools = dedup(meta.BuildTools)
	return meta
}

var (
	packageJSONFrameworkRe = map[string]*regexp.Regexp{
		"react":   regexp.MustCompile(`"react"\s*:\s*"([^"]+)"`),
		"vue":     regexp.MustCompile(`"vue"\s*:\s*"([^"]+)"`),
		"angular": regexp.MustCompile(`"@angular/core"\s*:\s*"([^"]+)"`),
		"nestjs":  regexp.MustCompile(`"@nestjs/core"\s*:\s*"([^"]+)"`),
		"next":    regexp.MustCompile(`"next"\s*:\s*"([^"]+)"`),
	}
	flaskVersionRe   = regexp.MustCompile(`(?i)^flask`)
	fastapiVersionRe = regexp.MustCompile(`(?i)^fastapi`)
)

func dedup(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := map[string]bool{}
	var out []string
	for _, v := range in {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	return out
}

// ModuleFramework is the per-module detection result spec §4.3 requires:
// the framework with the highest confidence, and that confidence.
type ModuleFramework struct {
	Framework  string
	Confidence float64
}

// frameworkRule computes an indicator count for one framework candidate
// given a file's path, extension, and content.
type frameworkRule struct {
	name     string
	baseline float64
	perIndicator float64
	cap      float64
	indicators func(path, ext, content string) int
}

var frameworkRules = []frameworkRule{
	{
		name: "vue", baseline: 0.6, perIndicator: 0.1, cap: 0.98,
		indicators: func(path, ext, content string) int {
			n := 0
			if ext == ".vue" {
				n += 3
			}
			if strings.Contains(content, "from 'vue'") || strings.Contains(content, `from "vue"`) {
				n += 2
			}
			if strings.Contains(content, "defineComponent") {
				n += 2
			}
			if strings.Contains(content, "<template>") {
				n++
			}
			if strings.Contains(content, "setup()") {
				n++
			}
			return n
		},
	},
	{
		name: "angular", baseline: 0.5, perIndicator: 0.1, cap: 0.98,
		indicators: func(path, ext, content string) int {
			n := 0
			if strings.Contains(content, "@Component") {
				n += 2
			}
			if strings.Contains(content, "@NgModule") {
				n += 2
			}
			if strings.Contains(content, "@Injectable") {
				n++
			}
			if strings.Contains(content, "from '@angular/core'") {
				n++
			}
			if ext == ".ts" && strings.Contains(strings.ToLower(path), "component") && n > 0 {
				n++
			}
			return n
		},
	},
	{
		name: "react", baseline: 0.4, perIndicator: 0.12, cap: 0.95,
		indicators: func(path, ext, content string) int {
			n := 0
			if ext == ".tsx" || ext == ".jsx" {
				n += 2
			}
			if strings.Contains(content, "from 'react'") || strings.Contains(content, `from "react"`) {
				n += 2
			}
			if strings.Contains(content, "useState") || strings.Contains(content, "useEffect") {
				n++
			}
			return n
		},
	},
	{
		name: "nextjs", baseline: 0.5, perIndicator: 0.15, cap: 0.95,
		indicators: func(path, ext, content string) int {
			n := 0
			if strings.Contains(content, "next/router") || strings.Contains(content, "next/navigation") {
				n += 2
			}
			if strings.Contains(content, "next/link") || strings.Contains(content, "next/image") {
				n++
			}
			return n
		},
	},
	{
		name: "nestjs", baseline: 0.5, perIndicator: 0.1, cap: 0.98,
		indicators: func(path, ext, content string) int {
			n := 0
			if strings.Contains(content, "@Controller") {
				n += 2
			}
			if strings.Contains(content, "@Module") {
				n += 2
			}
			if strings.Contains(content, "@Injectable") {
				n++
			}
			return n
		},
	},
	{
		name: "flask", baseline: 0.5, perIndicator: 0.15, cap: 0.95,
		indicators: func(path, ext, content string) int {
			n := 0
			if strings.Contains(content, "from flask import") {
				n += 2
			}
			if strings.Contains(content, "Blueprint(") {
				n += 2
			}
			if strings.Contains(content, "@app.route") {
				n++
			}
			return n
		},
	},
}

// DetectModuleFramework implements spec §4.3's per-module confidence
// formula: min(baseline + perIndicator·indicators, cap), selecting the
// candidate with maximum confidence iff it is ≥ 0.3.
func DetectModuleFramework(path string, content string) ModuleFramework {
	ext := strings.ToLower(filepath.Ext(path))
	var best ModuleFramework
	for _, rule := range frameworkRules {
		n := rule.indicators(path, ext, content)
		if n <= 0 {
			continue
		}
		confidence := math.Min(rule.baseline+float64(n)*rule.perIndicator, rule.cap)
		if confidence > best.Confidence {
			best = ModuleFramework{Framework: rule.name, Confidence: confidence}
		}
	}
	if best.Confidence < 0.3 {
		return ModuleFramework{}
	}
	return best
}
