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

// Package endpoint implements framework-specific HTTP/RPC route detection
// (spec §3 "Endpoint": "extracted by framework-specific route detectors").
package endpoint

import (
	"fmt"
	"regexp"

	"github.com/kraklabs/forge/pkg/pkgmodel"
)

var (
	expressRouteRe  = regexp.MustCompile(`(?m)\b(?:app|router)\.(get|post|put|delete|patch)\s*\(\s*['"\x60]([^'"\x60]+)['"\x60]`)
	flaskRouteRe    = regexp.MustCompile(`(?m)@app\.route\s*\(\s*['"]([^'"]+)['"](?:[^)]*methods\s*=\s*\[([^\]]*)\])?`)
	fastapiRouteRe  = regexp.MustCompile(`(?m)@(?:app|router)\.(get|post|put|delete|patch)\s*\(\s*['"]([^'"]+)['"]`)
	nestRouteRe     = regexp.MustCompile(`(?m)@(Get|Post|Put|Delete|Patch)\s*\(\s*['"]?([^'")]*)['"]?\s*\)`)
	springMappingRe = regexp.MustCompile(`(?m)@(Get|Post|Put|Delete|Patch)Mapping\s*\(\s*(?:value\s*=\s*)?['"]([^'"]+)['"]`)
)

// Detect extracts every HTTP route declared in content and attributes it to
// modID as its handler module.
func Detect(relPath, modID, content string) []pkgmodel.Endpoint {
	var endpoints []pkgmodel.Endpoint

	for _, m := range expressRouteRe.FindAllStringSubmatch(content, -1) {
		endpoints = append(endpoints, newEndpoint(m[2], method(m[1]), modID, "express"))
	}
	for _, m := range flaskRouteRe.FindAllStringSubmatch(content, -1) {
		meth := "GET"
		if m[2] != "" {
			meth = firstQuoted(m[2])
		}
		endpoints = append(endpoints, newEndpoint(m[1], meth, modID, "flask"))
	}
	for _, m := range fastapiRouteRe.FindAllStringSubmatch(content, -1) {
		endpoints = append(endpoints, newEndpoint(m[2], method(m[1]), modID, "fastapi"))
	}
	for _, m := range nestRouteRe.FindAllStringSubmatch(content, -1) {
		path := m[2]
		if path == "" {
			path = "/"
		}
		endpoints = append(endpoints, newEndpoint(path, method(m[1]), modID, "nestjs"))
	}
	for _, m := range springMappingRe.FindAllStringSubmatch(content, -1) {
		endpoints = append(endpoints, newEndpoint(m[2], method(m[1]), modID, "spring-boot"))
	}

	return dedupEndpoints(endpoints)
}

func method(raw string) string {
	switch raw {
	case "get", "Get":
		return "GET"
	case "post", "Post":
		return "POST"
	case "put", "Put":
		return "PUT"
	case "delete", "Delete":
		return "DELETE"
	case "patch", "Patch":
		return "PATCH"
	default:
		return "GET"
	}
}

func firstQuoted(methodsList string) string {
	re := regexp.MustCompile(`['"](\w+)['"]`)
	if m := re.FindStringSubmatch(methodsList); m != nil {
		return m[1]
	}
	return "GET"
}

func newEndpoint(path, meth, modID, framework string) pkgmodel.Endpoint {
	return pkgmodel.Endpoint{
		ID:              fmt.Sprintf("ep:%s#%s", path, meth),
		Path:            path,
		Method:          meth,
		HandlerModuleID: modID,
		Framework:       framework,
	}
}

func dedupEndpoints(in []pkgmodel.Endpoint) []pkgmodel.Endpoint {
	seen := map[string]bool{}
	var out []pkgmodel.Endpoint
	for _, ep := range in {
		if seen[ep.ID] {
			continue
		}
		seen[ep.ID] = true
		out = append(out, ep)
	}
	return out
}
