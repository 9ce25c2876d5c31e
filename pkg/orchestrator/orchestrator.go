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

// Package orchestrator implements the Orchestrator (spec component C17):
// the state machine that takes a chat message from IDLE through intent
// extraction, repo loading, and an intent-category branch (query,
// diagram, or the full impact → plan → approval → edit → test → verify →
// PR pipeline), streaming phase events to the caller and suspending at
// the approval gate until a matching approve_plan/reject_plan arrives.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kraklabs/forge/pkg/diagram"
	"github.com/kraklabs/forge/pkg/editor"
	"github.com/kraklabs/forge/pkg/graphdb"
	"github.com/kraklabs/forge/pkg/impact"
	"github.com/kraklabs/forge/pkg/intent"
	"github.com/kraklabs/forge/pkg/llm"
	"github.com/kraklabs/forge/pkg/pkgbuild"
	"github.com/kraklabs/forge/pkg/pkgmodel"
	"github.com/kraklabs/forge/pkg/pkgquery"
	"github.com/kraklabs/forge/pkg/pkgstore"
	"github.com/kraklabs/forge/pkg/planner"
	"github.com/kraklabs/forge/pkg/prcreator"
	"github.com/kraklabs/forge/pkg/queryhandler"
	"github.com/kraklabs/forge/pkg/repoclone"
	"github.com/kraklabs/forge/pkg/testrunner"
	"github.com/kraklabs/forge/pkg/verify"
)

// EventType is the outbound envelope's `type` field (spec §6).
type EventType string

const (
	EventStatus          EventType = "status"
	EventLog             EventType = "log"
	EventCodeChange      EventType = "code_change"
	EventTestResult      EventType = "test_result"
	EventDiagramResponse EventType = "diagram_response"
	EventQueryResponse   EventType = "query_response"
	EventApprovalRequest EventType = "approval_request"
	EventSummary         EventType = "summary"
	EventError           EventType = "error"
	EventConnected       EventType = "connected"
)

// Event is the bidirectional event channel's outbound envelope (spec §6):
// "{type, timestamp (RFC-3339 UTC), stage, data{…}, session_id}".
type Event struct {
	Type      EventType      `json:"type"`
	Timestamp string         `json:"timestamp"`
	Stage     string         `json:"stage"`
	Data      map[string]any `json:"data"`
	SessionID string         `json:"session_id"`
}

// Emitter streams one Event to the client that owns a session.
type Emitter func(Event)

// Config bundles the subset of spec §6's configuration values the
// Orchestrator itself consults; transport- and graph-DB-specific values
// live with the components that own those connections.
type Config struct {
	ApprovalRequired bool          // default true, spec §6 approval_required
	CloneRoot        string        // default "./cloned_repos", spec §6 clone_root
	TestTimeout      time.Duration // default 300s, spec §6 test_timeout_seconds
	FanThreshold     int           // default 3, spec §6 pkg_fan_threshold
	GitUserName      string        // spec §6 git_user_name
	GitUserEmail     string        // spec §6 git_user_email
	HostAPIToken     string        // spec §6 host_api_token
}

// DefaultConfig returns spec §6's documented defaults.
func DefaultConfig() Config {
	return Config{
		ApprovalRequired: true,
		CloneRoot:        "./cloned_repos",
		TestTimeout:      300 * time.Second,
		FanThreshold:     3,
	}
}

// session holds one conversation's accumulated state. Per spec §5, only
// the owning goroutine mutates an entry; its own mutex serializes that.
type session struct {
	mu            sync.Mutex
	id            string
	repoURL       string
	repoPath      string
	projectID     string
	pkg           *pkgmodel.PKG
	engine        *pkgquery.Engine
	currentIntent *intent.Intent
	currentPlan   *planner.Plan
	pendingPlanID string
	branchName    string
}

// Orchestrator drives sessions through the phases named in spec §4.17.
type Orchestrator struct {
	config Config
	logger *slog.Logger

	provider llm.Provider
	graph    *graphdb.Store

	cloner       *repoclone.Cloner
	builder      *pkgbuild.Builder
	store        *pkgstore.Store
	intentRouter *intent.Router
	planGen      *planner.Planner
	testRunner   *testrunner.Runner
	prCreator    *prcreator.Creator

	mu       sync.RWMutex
	sessions map[string]*session
}

// New wires an Orchestrator from a shared LLM provider and graph-DB
// connection (either may be nil: a nil provider degrades every LLM-backed
// component to its deterministic fallback; a nil graph disables the
// graph-DB path everywhere it's consulted).
func New(provider llm.Provider, graph *graphdb.Store, logger *slog.Logger, cfg Config) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.CloneRoot == "" {
		cfg.CloneRoot = "./cloned_repos"
	}
	if cfg.TestTimeout <= 0 {
		cfg.TestTimeout = 300 * time.Second
	}
	if cfg.FanThreshold <= 0 {
		cfg.FanThreshold = 3
	}
	return &Orchestrator{
		config:       cfg,
		logger:       logger,
		provider:     provider,
		graph:        graph,
		cloner:       repoclone.New(cfg.CloneRoot),
		builder:      pkgbuild.New(logger),
		store:        pkgstore.New(logger, graph),
		intentRouter: intent.New(provider, logger),
		planGen:      planner.New(provider, logger),
		testRunner:   testrunner.New(cfg.TestTimeout),
		prCreator:    prcreator.New(cfg.HostAPIToken),
		sessions:     make(map[string]*session),
	}
}

// sessionFor returns the session for id, reserving one if this is the
// first time id has been seen (spec §6: "On connect, the server... reserves
// a session").
func (o *Orchestrator) sessionFor(id string) *session {
	o.mu.Lock()
	defer o.mu.Unlock()
	s, ok := o.sessions[id]
	if !ok {
		s = &session{id: id}
		o.sessions[id] = s
		recordSessionConnected()
	}
	return s
}

// Connect reserves sessionID and emits the connected envelope.
func (o *Orchestrator) Connect(sessionID string, emit Emitter) {
	o.sessionFor(sessionID)
	emit(o.event(EventConnected, "connect", map[string]any{"session_id": sessionID, "status": "connected"}, sessionID))
}

// Disconnect drops sessionID's state once its transport closes, so a long-
// lived orchestrator does not accumulate dead sessions indefinitely and
// sessions_active reflects genuinely connected clients.
func (o *Orchestrator) Disconnect(sessionID string) {
	o.mu.Lock()
	_, ok := o.sessions[sessionID]
	delete(o.sessions, sessionID)
	o.mu.Unlock()
	if ok {
		recordSessionDisconnected()
	}
}

// HandleChatMessage runs the IDLE → INTENT → (branch) portion of the
// state machine for one inbound chat_message event.
func (o *Orchestrator) HandleChatMessage(ctx context.Context, sessionID, message, repoURL string, emit Emitter) {
	s := o.sessionFor(sessionID)

	s.mu.Lock()
	if repoURL == "" {
		repoURL = s.repoURL
	}
	s.mu.Unlock()

	emit(o.event(EventStatus, "intent_extraction", map[string]any{"message": "Processing your request..."}, sessionID))

	if repoURL != "" {
		if err := o.loadRepo(ctx, s, repoURL, emit); err != nil {
			emit(o.event(EventError, "repo_loading", map[string]any{"message": err.Error()}, sessionID))
			return
		}
	}

	in := o.intentRouter.Classify(ctx, message)
	emit(o.event(EventLog, "intent_extraction", map[string]any{
		"intent":  in,
		"message": fmt.Sprintf("Intent extracted: %s", in.Intent),
	}, sessionID))

	s.mu.Lock()
	s.currentIntent = &in
	s.mu.Unlock()

	switch in.Category {
	case intent.CategoryInformationalQuery:
		o.handleQuery(ctx, s, message, in, emit)
	case intent.CategoryDiagramRequest:
		o.handleDiagram(ctx, s, in, emit)
	default:
		// code_change, and any unrecognized category, per spec §4.17's
		// state diagram which names no other destination for code_change.
		o.executeWorkflow(ctx, s, in, emit)
	}
}

// loadRepo implements LOAD_REPO's resolution order (spec §4.17: "session
// cache ⇒ graph DB (by computed project ID) ⇒ clone... ⇒ build or reuse
// PKG ⇒ populate session"). The graph-DB tier is consulted through
// pkgstore.Store.Load, which also needs the repo's current git SHA to
// validate a file-cache hit; since that SHA can only be read from a
// working tree, the order here is session-cache check, then
// ensure-cloned, then Store.Load (session cache, graph DB, then file
// cache), then a full rebuild.
func (o *Orchestrator) loadRepo(ctx context.Context, s *session, repoURL string, emit Emitter) error {
	s.mu.Lock()
	alreadyLoaded := s.pkg != nil && s.repoURL == repoURL
	s.mu.Unlock()
	if alreadyLoaded {
		return nil
	}

	emit(o.event(EventStatus, "repo_loading", map[string]any{"message": "Loading repository..."}, s.id))

	projectID := repoclone.ProjectID(repoURL)
	cloneResult, err := o.cloner.EnsureCloned(repoURL)
	if err != nil {
		return fmt.Errorf("clone repository: %w", err)
	}
	gitSHA := pkgbuild.GitSHA(cloneResult.Path)

	pkg, source := o.store.Load(ctx, cloneResult.Path, projectID, gitSHA)
	if pkg == nil {
		pkg, err = o.builder.Build(ctx, pkgbuild.Config{RootPath: cloneResult.Path, FanThreshold: o.config.FanThreshold})
		if err != nil {
			return fmt.Errorf("build PKG: %w", err)
		}
		if err := o.store.Save(ctx, cloneResult.Path, pkg); err != nil {
			o.logger.Warn("orchestrator.pkgstore.save.failed", "session", s.id, "err", err)
		}
		source = "rebuilt"
	}

	s.mu.Lock()
	s.repoURL = repoURL
	s.repoPath = cloneResult.Path
	s.projectID = projectID
	s.pkg = pkg
	s.engine = pkgquery.New(pkg, o.graph)
	s.mu.Unlock()

	emit(o.event(EventLog, "repo_loading", map[string]any{"message": fmt.Sprintf("Repository ready (%s)", source)}, s.id))
	return nil
}

func (o *Orchestrator) handleQuery(ctx context.Context, s *session, message string, in intent.Intent, emit Emitter) {
	engine := s.engineSnapshot()
	if engine == nil {
		emit(o.event(EventError, "query_handling", map[string]any{
			"message": "PKG data is required to answer queries. Please provide a repository URL.",
		}, s.id))
		return
	}

	handler := queryhandler.New(engine, o.provider, o.logger)
	targetHint := ""
	if len(in.TargetModules) > 0 {
		targetHint = in.TargetModules[0]
	}
	resp := handler.Handle(ctx, message, targetHint)
	emit(o.event(EventQueryResponse, "query_handling", map[string]any{"response": resp}, s.id))
}

func (o *Orchestrator) handleDiagram(ctx context.Context, s *session, in intent.Intent, emit Emitter) {
	engine := s.engineSnapshot()
	if engine == nil {
		emit(o.event(EventError, "diagram_generation", map[string]any{
			"message": "PKG data is required to generate diagrams. Please provide a repository URL.",
		}, s.id))
		return
	}

	emit(o.event(EventStatus, "diagram_generation", map[string]any{"message": "Generating diagram..."}, s.id))

	gen := diagram.New(engine, o.provider, diagram.DefaultRenderer(), o.logger)
	var resp diagram.Response
	if in.DiagramType == "dependency" {
		opts := diagram.DependencyDiagramOptions{Direction: diagram.DirectionBoth}
		if len(in.TargetModules) > 0 {
			opts.Focus = in.TargetModules[0]
			opts.Depth = 5
		}
		resp = gen.Dependency(ctx, opts)
	} else {
		resp = gen.Architecture(ctx)
	}

	emit(o.event(EventDiagramResponse, "diagram_generation", map[string]any{"response": resp}, s.id))
}

// executeWorkflow runs PKG query, impact analysis, and planning, then
// either suspends at the approval gate or proceeds straight to execution
// (spec §4.17's approval gate rule: "requires_approval = intent.human_approval
// OR impact.requires_approval OR config.approval_required (default true)").
func (o *Orchestrator) executeWorkflow(ctx context.Context, s *session, in intent.Intent, emit Emitter) {
	engine := s.engineSnapshot()
	repoPath := s.repoPathSnapshot()
	if engine == nil || repoPath == "" {
		emit(o.event(EventStatus, "waiting", map[string]any{
			"message": "Please provide a repository URL to proceed with code changes",
		}, s.id))
		return
	}

	emit(o.event(EventStatus, "pkg_query", map[string]any{"message": "Querying knowledge graph for impacted modules..."}, s.id))
	seedIDs := resolveSeeds(engine, in)
	emit(o.event(EventLog, "pkg_query", map[string]any{"message": fmt.Sprintf("Found %d seed modules", len(seedIDs))}, s.id))

	emit(o.event(EventStatus, "impact_analysis", map[string]any{"message": "Analyzing change impact..."}, s.id))
	impactResult := impact.New(engine).Analyze(in, seedIDs)
	emit(o.event(EventLog, "impact_analysis", map[string]any{
		"message": fmt.Sprintf("Impact analysis complete. Risk: %s", impactResult.RiskScore),
		"impact":  impactResult,
	}, s.id))

	emit(o.event(EventStatus, "planning", map[string]any{"message": "Generating change plan..."}, s.id))
	plan := o.planGen.Plan(ctx, in, impactResult, in.Constraints, engine.PKG(), repoPath)
	planID := uuid.NewString()
	emit(o.event(EventLog, "planning", map[string]any{"message": fmt.Sprintf("Plan generated with %d tasks", len(plan.Tasks))}, s.id))

	requiresApproval := in.HumanApproval || impactResult.RequiresApproval || o.config.ApprovalRequired

	s.mu.Lock()
	s.currentPlan = &plan
	s.pendingPlanID = planID
	s.mu.Unlock()

	if requiresApproval {
		emit(o.event(EventApprovalRequest, "planning", map[string]any{
			"plan_id": planID,
			"plan":    plan,
			"intent":  in,
			"impact":  impactResult,
			"message": "Please review and approve the plan to proceed",
		}, s.id))
		return
	}

	o.executePlan(ctx, s, planID, plan, emit)
}

// ApprovePlan resumes a suspended session at EDIT (spec §4.17: "A
// subsequent approve_plan(plan_id) resumes at EDIT").
func (o *Orchestrator) ApprovePlan(ctx context.Context, sessionID, planID string, emit Emitter) {
	s := o.sessionFor(sessionID)

	s.mu.Lock()
	plan := s.currentPlan
	pending := s.pendingPlanID
	s.mu.Unlock()

	if plan == nil || pending == "" || pending != planID {
		emit(o.event(EventError, "approval", map[string]any{"message": "Plan not found"}, sessionID))
		return
	}

	s.mu.Lock()
	s.pendingPlanID = ""
	s.mu.Unlock()

	recordApprovalGranted()
	emit(o.event(EventStatus, "approval", map[string]any{"message": "Plan approved, proceeding with execution..."}, sessionID))
	o.executePlan(ctx, s, planID, *plan, emit)
}

// RejectPlan returns a suspended session to IDLE (spec §4.17:
// "reject_plan(plan_id, reason?) returns to IDLE with an explanatory message").
func (o *Orchestrator) RejectPlan(sessionID, planID, reason string, emit Emitter) {
	s := o.sessionFor(sessionID)

	s.mu.Lock()
	s.pendingPlanID = ""
	s.currentPlan = nil
	s.mu.Unlock()

	recordApprovalRejected()
	message := "Plan rejected"
	if strings.TrimSpace(reason) != "" {
		message = fmt.Sprintf("Plan rejected: %s", reason)
	}
	emit(o.event(EventStatus, "approval", map[string]any{"message": message}, sessionID))
}

// executePlan runs EDIT → TEST → VERIFY → (PR), the remainder of spec
// §4.17's code_change branch after the approval gate.
func (o *Orchestrator) executePlan(ctx context.Context, s *session, planID string, plan planner.Plan, emit Emitter) {
	engine := s.engineSnapshot()
	repoPath := s.repoPathSnapshot()

	emit(o.event(EventStatus, "editing", map[string]any{"message": "Applying code changes..."}, s.id))
	ed := editor.New(o.provider, engine, o.config.GitUserName, o.config.GitUserEmail, o.logger)
	editResult := ed.Apply(ctx, repoPath, planID, plan.Tasks, plan.Framework)

	for _, change := range editResult.Changes {
		emit(o.event(EventCodeChange, "editing", map[string]any{
			"file": change.Path, "diff": change.Diff, "status": string(change.Action),
		}, s.id))
	}
	if !editResult.Success {
		emit(o.event(EventError, "editing", map[string]any{
			"message": "Failed to apply code changes", "errors": editResult.Errors,
		}, s.id))
		return
	}

	s.mu.Lock()
	s.branchName = editResult.Branch
	s.mu.Unlock()

	emit(o.event(EventStatus, "testing", map[string]any{"message": "Running tests..."}, s.id))
	testResult := o.testRunner.Run(ctx, repoPath)
	emit(o.event(EventTestResult, "testing", map[string]any{
		"results": testResult,
		"message": fmt.Sprintf("Tests completed: %d passed, %d failed", testResult.TestsPassed, testResult.TestsFailed),
	}, s.id))

	emit(o.event(EventStatus, "verification", map[string]any{"message": "Verifying changes..."}, s.id))
	verifyResult := verify.Verify(testResult)
	emit(o.event(EventLog, "verification", map[string]any{"verification": verifyResult, "message": "Verification complete"}, s.id))

	if !verifyResult.ReadyForPR {
		emit(o.event(EventSummary, "verification", map[string]any{
			"message":      "Changes completed but not ready for PR",
			"verification": verifyResult,
			"test_results": testResult,
		}, s.id))
		return
	}

	o.createPR(ctx, s, plan, editResult, testResult, verifyResult, emit)
}

func (o *Orchestrator) createPR(ctx context.Context, s *session, plan planner.Plan, editResult editor.Result, testResult testrunner.Result, verifyResult verify.Result, emit Emitter) {
	emit(o.event(EventStatus, "pr_creation", map[string]any{"message": "Creating pull request..."}, s.id))

	repoURL := s.repoURLSnapshot()
	repoPath := s.repoPathSnapshot()
	owner, repo := ownerRepoFromURL(repoURL)

	title := "Agent-generated changes"
	if in := s.intentSnapshot(); in != nil && in.Description != "" {
		title = in.Description
	}
	body := summarizePR(plan, testResult, editResult)

	prResult := o.prCreator.Open(ctx, repoPath, owner, repo, editResult.Branch, title, body)
	summary := map[string]any{"plan": plan, "test_results": testResult, "verification": verifyResult}

	switch {
	case prResult.Skipped:
		recordPRAttempt("skipped")
		emit(o.event(EventSummary, "pr_creation", map[string]any{
			"message": "Pull request skipped: " + prResult.SkipReason,
			"summary": summary,
		}, s.id))
	case prResult.Error != "":
		recordPRAttempt("error")
		emit(o.event(EventError, "pr_creation", map[string]any{
			"message":      prResult.Error,
			"upstream_url": prResult.UpstreamURL,
		}, s.id))
	default:
		recordPRAttempt("created")
		emit(o.event(EventSummary, "pr_creation", map[string]any{
			"pr_url":  prResult.PullRequestURL,
			"message": "Pull request created successfully",
			"summary": summary,
		}, s.id))
	}
}

func (o *Orchestrator) event(t EventType, stage string, data map[string]any, sessionID string) Event {
	if t == EventStatus {
		recordPhaseEntered(stage)
	}
	return Event{
		Type:      t,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Stage:     stage,
		Data:      data,
		SessionID: sessionID,
	}
}

func (s *session) engineSnapshot() *pkgquery.Engine {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.engine
}

func (s *session) repoPathSnapshot() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.repoPath
}

func (s *session) repoURLSnapshot() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.repoURL
}

func (s *session) intentSnapshot() *intent.Intent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentIntent
}

// resolveSeeds expands an intent's target module hints (or, failing
// that, its free-text description) into seed module IDs via the query
// engine's existing resolution tiers.
func resolveSeeds(engine *pkgquery.Engine, in intent.Intent) []string {
	queries := in.TargetModules
	if len(queries) == 0 && in.Description != "" {
		queries = []string{in.Description}
	}

	seen := make(map[string]bool)
	var ids []string
	for _, q := range queries {
		for _, match := range engine.ResolveSeedModules(q) {
			if seen[match.ModuleID] {
				continue
			}
			seen[match.ModuleID] = true
			ids = append(ids, match.ModuleID)
		}
	}
	return ids
}

// ownerRepoFromURL extracts (owner, repo) from an HTTPS or SSH GitHub
// URL, e.g. "https://github.com/acme/widget.git" or
// "git@github.com:acme/widget.git".
func ownerRepoFromURL(repoURL string) (owner, repo string) {
	trimmed := strings.TrimSuffix(strings.TrimSpace(repoURL), "/")
	trimmed = strings.TrimSuffix(trimmed, ".git")
	trimmed = strings.TrimPrefix(trimmed, "https://")
	trimmed = strings.TrimPrefix(trimmed, "http://")
	trimmed = strings.TrimPrefix(trimmed, "git@")
	trimmed = strings.ReplaceAll(trimmed, ":", "/")

	parts := strings.Split(trimmed, "/")
	if len(parts) < 2 {
		return "", ""
	}
	return parts[len(parts)-2], parts[len(parts)-1]
}

func summarizePR(plan planner.Plan, test testrunner.Result, edit editor.Result) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Automated change across %d task(s).\n\n", len(plan.Tasks))
	for _, t := range plan.Tasks {
		fmt.Fprintf(&b, "- %s\n", t.Task)
	}
	fmt.Fprintf(&b, "\nTests: %d passed, %d failed.\n", test.TestsPassed, test.TestsFailed)
	fmt.Fprintf(&b, "Files changed: %d.\n", edit.TotalFiles)
	return b.String()
}
