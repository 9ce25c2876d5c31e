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

package pkgmodel

import (
	"path/filepath"
	"strings"
)

// NormalizePath normalizes a file path for stable, cross-platform ID
// generation: strips a leading "./", cleans redundant separators,
// converts to forward slashes, and drops any leading slash.
func NormalizePath(path string) string {
	path = strings.TrimPrefix(path, "./")
	path = filepath.Clean(path)
	path = filepath.ToSlash(path)
	path = strings.TrimPrefix(path, "/")
	return path
}

// ModuleID computes the stable ID of a module from its repo-relative path.
// Invariant under the host OS's path separator and repeated runs (spec
// testable property 1).
func ModuleID(relPath string) string {
	return "mod:" + NormalizePath(relPath)
}

// SymbolID computes the stable ID of a symbol given its owning module ID
// and its qualified name ("Class.method" for methods).
func SymbolID(moduleID, qualifiedName string) string {
	return "sym:" + moduleID + ":" + qualifiedName
}

// FeatureID computes the stable ID of a feature from its folder path.
func FeatureID(folderPath string) string {
	return "feat:" + NormalizePath(folderPath)
}

// ModuleIDFromEdgeEndpoint extracts the owning module ID from any edge
// endpoint string (spec §4.7 "Edge-endpoint extraction"): if the endpoint
// is already a module ID it is returned unchanged; if it is a symbol ID of
// the form "sym:<mod:...>:<name>" the module portion is reconstructed;
// anything else yields ("", false).
func ModuleIDFromEdgeEndpoint(endpoint string) (string, bool) {
	if strings.HasPrefix(endpoint, "mod:") {
		return endpoint, true
	}
	if strings.HasPrefix(endpoint, "sym:") {
		rest := strings.TrimPrefix(endpoint, "sym:")
		idx := strings.LastIndex(rest, ":")
		if idx <= 0 {
			return "", false
		}
		modulePart := rest[:idx]
		if !strings.HasPrefix(modulePart, "mod:") {
			return "", false
		}
		return modulePart, true
	}
	return "", false
}
