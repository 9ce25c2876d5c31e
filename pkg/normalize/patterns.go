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
	"path/filepath"
	"regexp"
	"strings"

	"github.com/kraklabs/forge/pkg/pkgmodel"
)

// angularHookRe, reactHookRe, vueHookRe match lifecycle-hook names by
// shape (ngOnX, useX(, onX() rather than against fixed name lists.
var (
	angularHookRe = regexp.MustCompile(`\bngOn[A-Z]\w*`)
	reactHookRe   = regexp.MustCompile(`\buse[A-Z]\w*\s*\(`)
	vueHookRe     = regexp.MustCompile(`\bon[A-Z]\w*\s*\(`)

	navigateRe = regexp.MustCompile(`\brouter\.navigate\b|\brouterLink\b|\buseNavigate\b|<Link\s+to=|\brouter\.push\b`)
	buttonRe   = regexp.MustCompile(`<(Button|IconButton|mat-button|b-button)\b`)
	formRe     = regexp.MustCompile(`\bformGroup\b|\bngModel\b|\bonSubmit\b`)

	reduxRe = regexp.MustCompile(`\bfrom ['"]react-redux['"]|\buseDispatch\b|\buseSelector\b`)
	mobxRe  = regexp.MustCompile(`\bmobx\b|@observable|@observer`)
	rxjsRe  = regexp.MustCompile(`\brxjs\b|\.pipe\(|\bObservable<`)

	standaloneRe = regexp.MustCompile(`standalone:\s*true`)
)

// classifyImportStyle implements spec §4.2 "codePatterns.importStyle":
// classify each import by its leading token; emit the majority, or "mixed"
// when both are non-zero.
func classifyImportStyle(imports []Import) pkgmodel.ImportStyle {
	var relative, absolute int
	for _, imp := range imports {
		if strings.HasPrefix(imp.Path, "./") || strings.HasPrefix(imp.Path, "../") {
			relative++
		} else {
			absolute++
		}
	}
	switch {
	case relative > 0 && absolute > 0:
		return pkgmodel.ImportStyleMixed
	case relative > 0:
		return pkgmodel.ImportStyleRelative
	default:
		return pkgmodel.ImportStyleAbsolute
	}
}

// classifyExportStyle counts "default" vs "named" exports in raw source.
func classifyExportStyle(source string) string {
	defaultCount := strings.Count(source, "export default")
	namedCount := strings.Count(source, "export const") + strings.Count(source, "export function") + strings.Count(source, "export class")
	switch {
	case defaultCount > 0 && namedCount > 0:
		return "mixed"
	case defaultCount > 0:
		return "default"
	default:
		return "named"
	}
}

// detectLifecycleHooks matches the three closed lifecycle-hook lists.
func detectLifecycleHooks(source string) []string {
	seen := map[string]bool{}
	var hooks []string
	for _, m := range angularHookRe.FindAllString(source, -1) {
		if !seen[m] {
			seen[m] = true
			hooks = append(hooks, m)
		}
	}
	for _, m := range reactHookRe.FindAllString(source, -1) {
		name := strings.TrimSuffix(strings.TrimSpace(m), "(")
		name = strings.TrimSpace(name)
		if !seen[name] {
			seen[name] = true
			hooks = append(hooks, name)
		}
	}
	for _, m := range vueHookRe.FindAllString(source, -1) {
		name := strings.TrimSuffix(strings.TrimSpace(m), "(")
		if !seen[name] {
			seen[name] = true
			hooks = append(hooks, name)
		}
	}
	return hooks
}

// detectStateManagement picks the first of redux/mobx/rxjs found, else none.
func detectStateManagement(source string) pkgmodel.StateManagement {
	switch {
	case reduxRe.MatchString(source):
		return pkgmodel.StateManagementRedux
	case mobxRe.MatchString(source):
		return pkgmodel.StateManagementMobX
	case rxjsRe.MatchString(source):
		return pkgmodel.StateManagementRxJS
	default:
		return pkgmodel.StateManagementNone
	}
}

// extractUIElements regex-extracts button/navigation/form usages and dedups
// by (type, pattern) as spec §4.2 requires.
func extractUIElements(source string) pkgmodel.UIElements {
	var ui pkgmodel.UIElements
	ui.Buttons = dedupMatches(buttonRe.FindAllString(source, -1))
	ui.Navigation = dedupMatches(navigateRe.FindAllString(source, -1))
	ui.Forms = dedupMatches(formRe.FindAllString(source, -1))
	return ui
}

func dedupMatches(matches []string) []string {
	if len(matches) == 0 {
		return nil
	}
	seen := map[string]bool{}
	var out []string
	for _, m := range matches {
		if !seen[m] {
			seen[m] = true
			out = append(out, m)
		}
	}
	return out
}

// detectFileStructure looks for sibling template/style files and an inline
// `standalone: true` decorator field (spec §4.2 "fileStructure").
func detectFileStructure(path string, source string, siblingExists func(string) bool) pkgmodel.FileStructure {
	var fs pkgmodel.FileStructure
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	dir := filepath.Dir(path)

	for _, ext := range []string{".html"} {
		candidate := filepath.Join(dir, base+ext)
		if siblingExists(candidate) {
			fs.HasTemplate = true
			fs.TemplatePath = candidate
			break
		}
	}
	for _, ext := range []string{".css", ".scss", ".less", ".sass"} {
		candidate := filepath.Join(dir, base+ext)
		if siblingExists(candidate) {
			fs.HasStyles = true
			fs.StylesPath = candidate
			break
		}
	}
	if strings.Contains(source, "templateUrl") || strings.Contains(source, "styleUrls") {
		fs.HasTemplate = fs.HasTemplate || strings.Contains(source, "templateUrl")
		fs.HasStyles = fs.HasStyles || strings.Contains(source, "styleUrls")
	}
	fs.IsStandalone = standaloneRe.MatchString(source)
	return fs
}

// classifyComponentType implements spec §4.2 "codePatterns.componentType":
// class vs function vs arrow, tie-broken by frequency; PascalCase arrow
// assignments count as components.
func classifyComponentType(classCount, functionComponentCount, arrowComponentCount int) string {
	max := classCount
	result := "class"
	if functionComponentCount > max {
		max = functionComponentCount
		result = "function"
	}
	if arrowComponentCount > max {
		result = "arrow"
	}
	if max == 0 {
		return ""
	}
	return result
}

var pascalArrowRe = regexp.MustCompile(`\b([A-Z]\w*)\s*=\s*\([^)]*\)\s*(?::[^=]+)?=>`)

func countPascalArrowComponents(source string) int {
	return len(pascalArrowRe.FindAllString(source, -1))
}
