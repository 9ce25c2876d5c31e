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

// Package pkgmodel defines the Project Knowledge Graph (PKG) data model:
// the normalized, language-agnostic view of a repository shared by every
// component that builds, stores, queries, or reasons about it.
//
// Every identifier in the graph is a stable, content-independent,
// path-based string: two runs over an unchanged tree produce byte-equal
// IDs, and the host OS's own path separator is written as "/". A
// backslash is converted only where it is the host separator. See ids.go.
package pkgmodel
