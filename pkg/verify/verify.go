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

// Package verify implements the Verifier (spec component C15): a
// design-level decision over the Test Runner's output that determines
// whether post-edit state is eligible for a pull request.
package verify

import (
	"fmt"
	"strings"

	"github.com/kraklabs/forge/pkg/testrunner"
)

// CheckStatus is a check's three-valued outcome: a tool that never ran
// (because it wasn't installed) is distinct from one that ran and failed.
type CheckStatus string

const (
	StatusPassed  CheckStatus = "passed"
	StatusFailed  CheckStatus = "failed"
	StatusSkipped CheckStatus = "skipped"
)

// Result is the Verifier's output: a human-readable summary plus the
// machine fields spec §4.15 says the orchestrator consumes.
type Result struct {
	ReadyForPR   bool        `json:"ready_for_pr"`
	BuildSuccess bool        `json:"build_success"`
	TestsFailed  int         `json:"tests_failed"`
	LintStatus   CheckStatus `json:"lint_status"`
	TypeStatus   CheckStatus `json:"typecheck_status"`
	Summary      string      `json:"summary"`
}

// Verify decides ready_for_pr from a Test Runner result (spec §4.15):
// "ready_for_pr = build_success && tests_failed == 0 && lint_clean &&
// typecheck_clean (each check softens to skipped when the tool is
// unavailable, and ready_for_pr remains true if the mandatory
// build_success && tests_failed == 0 holds)".
func Verify(result testrunner.Result) Result {
	lintStatus := checkStatus(result.Lint)
	typeStatus := checkStatus(result.Typecheck)

	mandatoryOK := result.BuildSuccess && result.TestsFailed == 0
	lintClean := lintStatus != StatusFailed
	typeClean := typeStatus != StatusFailed

	return Result{
		ReadyForPR:   mandatoryOK && lintClean && typeClean,
		BuildSuccess: result.BuildSuccess,
		TestsFailed:  result.TestsFailed,
		LintStatus:   lintStatus,
		TypeStatus:   typeStatus,
		Summary:      summarize(result, mandatoryOK, lintStatus, typeStatus),
	}
}

func checkStatus(c testrunner.CheckResult) CheckStatus {
	if !c.Attempted {
		return StatusSkipped
	}
	if c.Passed {
		return StatusPassed
	}
	return StatusFailed
}

func summarize(result testrunner.Result, mandatoryOK bool, lintStatus, typeStatus CheckStatus) string {
	var b strings.Builder
	if !result.BuildSuccess {
		fmt.Fprintf(&b, "build failed: %s", result.Error)
		return b.String()
	}
	if result.TestsFailed > 0 {
		fmt.Fprintf(&b, "%d of %d tests failed", result.TestsFailed, result.TestsFailed+result.TestsPassed)
	} else {
		fmt.Fprintf(&b, "all %d tests passed", result.TestsPassed)
	}
	fmt.Fprintf(&b, "; lint %s; typecheck %s", lintStatus, typeStatus)
	if mandatoryOK && lintStatus != StatusFailed && typeStatus != StatusFailed {
		b.WriteString("; ready for PR")
	} else {
		b.WriteString("; not ready for PR")
	}
	return b.String()
}
