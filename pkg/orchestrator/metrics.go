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

package orchestrator

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// metricsOrchestrator holds the Orchestrator's Prometheus metrics, the
// domain counterpart to the teacher's pkg/ingestion/metrics.go.
type metricsOrchestrator struct {
	once sync.Once

	sessionsActive prometheus.Gauge
	phasesEntered  *prometheus.CounterVec

	approvalsGranted  prometheus.Counter
	approvalsRejected prometheus.Counter

	prAttempts *prometheus.CounterVec
}

var orchMetrics metricsOrchestrator

func (m *metricsOrchestrator) init() {
	m.once.Do(func() {
		m.sessionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "forge_orch_sessions_active",
			Help: "Number of chat sessions currently connected to the orchestrator",
		})
		m.phasesEntered = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "forge_orch_phases_entered_total",
			Help: "Status events emitted per state-machine stage",
		}, []string{"stage"})

		m.approvalsGranted = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "forge_orch_approvals_granted_total",
			Help: "Plans approved via approve_plan",
		})
		m.approvalsRejected = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "forge_orch_approvals_rejected_total",
			Help: "Plans rejected via reject_plan",
		})

		m.prAttempts = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "forge_orch_pr_attempts_total",
			Help: "Pull request creation attempts by outcome",
		}, []string{"outcome"})

		prometheus.MustRegister(
			m.sessionsActive,
			m.phasesEntered,
			m.approvalsGranted,
			m.approvalsRejected,
			m.prAttempts,
		)
	})
}

func recordSessionConnected() {
	orchMetrics.init()
	orchMetrics.sessionsActive.Inc()
}

func recordSessionDisconnected() {
	orchMetrics.init()
	orchMetrics.sessionsActive.Dec()
}

func recordPhaseEntered(stage string) {
	orchMetrics.init()
	orchMetrics.phasesEntered.WithLabelValues(stage).Inc()
}

func recordApprovalGranted() {
	orchMetrics.init()
	orchMetrics.approvalsGranted.Inc()
}

func recordApprovalRejected() {
	orchMetrics.init()
	orchMetrics.approvalsRejected.Inc()
}

func recordPRAttempt(outcome string) {
	orchMetrics.init()
	orchMetrics.prAttempts.WithLabelValues(outcome).Inc()
}
