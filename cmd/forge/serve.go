// Copyright 2025 KrakLabs
// SPDX-License-Identifier: AGPL-3.0-or-later

package main

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"

	flag "github.com/spf13/pflag"

	"github.com/kraklabs/forge/internal/api"
	"github.com/kraklabs/forge/internal/config"
	"github.com/kraklabs/forge/internal/errors"
	"github.com/kraklabs/forge/internal/ui"
	"github.com/kraklabs/forge/pkg/graphdb"
	"github.com/kraklabs/forge/pkg/llm"
	"github.com/kraklabs/forge/pkg/orchestrator"
)

// runServe executes the 'serve' CLI command: it loads configuration,
// wires the LLM provider and graph store, builds the Orchestrator, and
// serves the WebSocket/REST surface until interrupted.
func runServe(args []string, configPath string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	addr := fs.String("addr", "", "Listen address, overrides config/listen_addr")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: forge serve [options]

Description:
  Starts the forge agent server: a WebSocket endpoint driving chat
  sessions through intent extraction, repository analysis, planning,
  editing, testing, and pull-request creation.

Options:
`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	ui.Header("Starting forge agent server")

	cfg, err := config.Load(configPath)
	if err != nil {
		errors.FatalError(errors.NewConfigError(
			"Failed to load configuration",
			err.Error(),
			"Check the YAML syntax of your config file",
			err,
		), false)
	}
	if *addr != "" {
		cfg.ListenAddr = *addr
	}

	logger := slog.Default()

	provider, err := llm.NewProvider(llm.ProviderConfig{
		Type:         cfg.LLM.Provider,
		BaseURL:      cfg.LLM.BaseURL,
		APIKey:       cfg.LLM.APIKey,
		DefaultModel: cfg.LLM.Model,
	})
	if err != nil {
		ui.Warning("LLM provider unavailable, continuing with deterministic fallbacks: " + err.Error())
		provider = nil
	} else {
		ui.Success("LLM provider ready (" + cfg.LLM.Provider + ")")
	}

	graph, err := graphdb.Connect(logger, graphdb.Config{
		MaxRetries: cfg.GraphDB.MaxRetries,
		RetryDelay: cfg.GraphDB.RetryDelay(),
		BatchSize:  cfg.GraphDB.BatchSize,
	})
	if err != nil {
		ui.Warning("graph database unavailable, continuing with in-memory PKG storage only: " + err.Error())
		graph = nil
	} else {
		ui.Success("graph database ready")
	}

	orch := orchestrator.New(provider, graph, logger, orchestrator.Config{
		ApprovalRequired: cfg.ApprovalRequired,
		CloneRoot:        cfg.CloneRoot,
		TestTimeout:      cfg.TestTimeout(),
		FanThreshold:     cfg.PKGFanThreshold,
		GitUserName:      cfg.GitUserName,
		GitUserEmail:     cfg.GitUserEmail,
		HostAPIToken:     cfg.HostAPIToken,
	})

	server := api.NewServer(orch, logger)

	ui.Success(fmt.Sprintf("Listening on %s", cfg.ListenAddr))
	fmt.Println()
	fmt.Println("Endpoints:")
	fmt.Println("  GET  /health   Liveness check")
	fmt.Println("  GET  /metrics  Prometheus metrics")
	fmt.Println("  GET  /ws       Agent session WebSocket")

	if err := http.ListenAndServe(cfg.ListenAddr, server.Handler()); err != nil {
		errors.FatalError(errors.NewNetworkError(
			"Server stopped",
			err.Error(),
			"Check that the listen address is not already in use",
			err,
		), false)
	}
}
