// Copyright 2025 KrakLabs
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.
//
// For commercial licensing, contact: licensing@kraklabs.com
//
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package impact implements the Impact Analyzer (spec component C11): it
// expands a code_change intent's seed modules into the full set of
// transitively impacted modules and files, and derives a deterministic
// risk score from the size of that blast radius.
package impact

import (
	"sort"

	"github.com/kraklabs/forge/pkg/intent"
	"github.com/kraklabs/forge/pkg/pkgquery"
)

// RiskScore is a coarse, deterministic assessment of how risky a change
// touching the impacted module set is.
type RiskScore string

const (
	RiskLow    RiskScore = "low"
	RiskMedium RiskScore = "medium"
	RiskHigh   RiskScore = "high"
)

// Result is the Impact Analyzer's output contract (spec §4.11).
type Result struct {
	ImpactedModules  []string  `json:"impacted_modules"`
	ImpactedFiles    []string  `json:"impacted_files"`
	AffectedTests    []string  `json:"affected_tests"`
	ModuleCount      int       `json:"module_count"`
	FileCount        int       `json:"file_count"`
	RiskScore        RiskScore `json:"risk_score"`
	RequiresApproval bool      `json:"requires_approval"`
}

// entityLikeTags are the module kinds whose crossing escalates risk (spec
// §4.11: "whether any edge crosses an entity/repository tag").
var entityLikeTags = map[string]bool{"entity": true, "repository": true}

// impactDepth bounds how many hops the transitive impact BFS explores,
// mirroring the depth the teacher's TracePath uses by default for a
// single-hop-at-a-time call trace.
const impactDepth = 5

// Analyzer computes impact results over a PKG via a query engine.
type Analyzer struct {
	engine *pkgquery.Engine
}

// New creates an Analyzer.
func New(engine *pkgquery.Engine) *Analyzer {
	return &Analyzer{engine: engine}
}

// Analyze expands seedModuleIDs and scores the resulting blast radius for
// the given intent (spec §4.11).
func (a *Analyzer) Analyze(in intent.Intent, seedModuleIDs []string) Result {
	pkg := a.engine.PKG()
	impact := a.engine.ImpactedModules(seedModuleIDs, impactDepth)

	moduleIDs := append([]string(nil), impact.ModuleIDs...)
	sort.Strings(moduleIDs)

	files := make([]string, 0, len(moduleIDs))
	tests := []string{}
	crossesEntityTag := false
	for _, id := range moduleIDs {
		m, ok := pkg.ModuleByID(id)
		if !ok {
			continue
		}
		files = append(files, m.Path)
		for _, k := range m.Kind {
			if k == "test" {
				tests = append(tests, m.Path)
			}
			if entityLikeTags[k] {
				crossesEntityTag = true
			}
		}
	}

	risk := scoreRisk(len(moduleIDs), len(tests), crossesEntityTag)
	requiresApproval := risk != RiskLow || in.HumanApproval

	return Result{
		ImpactedModules:  moduleIDs,
		ImpactedFiles:    files,
		AffectedTests:    tests,
		ModuleCount:      len(moduleIDs),
		FileCount:        len(files),
		RiskScore:        risk,
		RequiresApproval: requiresApproval,
	}
}

// scoreRisk is a deterministic function of transitive impact size, test
// count, and entity/repository crossing (spec §4.11: "heuristics allowed,
// but risk must be deterministic for the same PKG and intent").
func scoreRisk(moduleCount, testCount int, crossesEntityTag bool) RiskScore {
	score := 0
	switch {
	case moduleCount > 20:
		score += 3
	case moduleCount > 8:
		score += 2
	case moduleCount > 0:
		score += 1
	}
	if testCount > 0 {
		score++
	}
	if crossesEntityTag {
		score += 2
	}

	switch {
	case score >= 5:
		return RiskHigh
	case score >= 3:
		return RiskMedium
	default:
		return RiskLow
	}
}
