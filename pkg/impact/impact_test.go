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

package impact

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/kraklabs/forge/pkg/intent"
	"github.com/kraklabs/forge/pkg/pkgmodel"
	"github.com/kraklabs/forge/pkg/pkgquery"
)

func lowRiskPKG() *pkgmodel.PKG {
	return &pkgmodel.PKG{
		Modules: []pkgmodel.Module{
			{ID: "mod:a.ts", Path: "a.ts", Kind: []string{"service"}},
			{ID: "mod:b.ts", Path: "b.ts", Kind: []string{"service"}},
		},
		Edges: []pkgmodel.Edge{
			{From: "mod:a.ts", To: "mod:b.ts", Type: pkgmodel.EdgeImports},
		},
	}
}

func entityCrossingPKG() *pkgmodel.PKG {
	return &pkgmodel.PKG{
		Modules: []pkgmodel.Module{
			{ID: "mod:order.service.ts", Path: "order.service.ts", Kind: []string{"service"}},
			{ID: "mod:order.entity.ts", Path: "order.entity.ts", Kind: []string{"entity"}},
			{ID: "mod:order.test.ts", Path: "order.test.ts", Kind: []string{"test"}},
		},
		Edges: []pkgmodel.Edge{
			{From: "mod:order.service.ts", To: "mod:order.entity.ts", Type: pkgmodel.EdgeImports},
			{From: "mod:order.test.ts", To: "mod:order.service.ts", Type: pkgmodel.EdgeImports},
		},
	}
}

func TestAnalyze_LowRiskForSmallNonEntityImpact(t *testing.T) {
	a := New(pkgquery.New(lowRiskPKG(), nil))
	result := a.Analyze(intent.Intent{Category: intent.CategoryCodeChange}, []string{"mod:a.ts"})
	assert.Equal(t, RiskLow, result.RiskScore)
	assert.False(t, result.RequiresApproval)
	assert.Equal(t, 2, result.ModuleCount)
}

func TestAnalyze_EscalatesRiskWhenCrossingEntityTagAndTestsAffected(t *testing.T) {
	a := New(pkgquery.New(entityCrossingPKG(), nil))
	result := a.Analyze(intent.Intent{Category: intent.CategoryCodeChange}, []string{"mod:order.service.ts"})
	assert.NotEqual(t, RiskLow, result.RiskScore)
	assert.True(t, result.RequiresApproval)
	assert.Contains(t, result.AffectedTests, "order.test.ts")
}

func TestAnalyze_IntentHumanApprovalForcesApprovalEvenAtLowRisk(t *testing.T) {
	a := New(pkgquery.New(lowRiskPKG(), nil))
	result := a.Analyze(intent.Intent{Category: intent.CategoryCodeChange, HumanApproval: true}, []string{"mod:a.ts"})
	assert.Equal(t, RiskLow, result.RiskScore)
	assert.True(t, result.RequiresApproval)
}

func TestAnalyze_DeterministicAcrossRepeatedCalls(t *testing.T) {
	a := New(pkgquery.New(entityCrossingPKG(), nil))
	first := a.Analyze(intent.Intent{Category: intent.CategoryCodeChange}, []string{"mod:order.service.ts"})
	second := a.Analyze(intent.Intent{Category: intent.CategoryCodeChange}, []string{"mod:order.service.ts"})
	assert.Equal(t, first, second)
}
