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

// Package main implements the forge CLI, an AI pair-programming agent
// that drives repository understanding and code changes over a
// WebSocket session.
//
// Usage:
//
//	forge serve                   Start the agent server
//	forge --config path.yaml serve Start with a specific config file
package main

import (
	"flag"
	"fmt"
	"os"
)

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	var (
		showVersion = flag.Bool("version", false, "Show version and exit")
		configPath  = flag.String("config", "", "Path to forge.yaml (default: none, use built-in defaults + env)")
	)

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, `forge - AI pair-programming agent

Usage:
  forge <command> [options]

Commands:
  serve   Start the agent server (WebSocket + health + metrics)

Global Options:
  --config   Path to forge.yaml
  --version  Show version and exit

Examples:
  forge serve
  forge --config ./forge.yaml serve

Environment Variables:
  FORGE_HOST_API_TOKEN     Git host API token for PR creation
  FORGE_LLM_API_KEY        LLM provider API key
  FORGE_GRAPH_DB_URI       Graph database connection URI
  FORGE_CLONE_ROOT         Directory to clone repositories into
  FORGE_LISTEN_ADDR        Address the server listens on

`)
	}

	flag.Parse()

	if *showVersion {
		fmt.Printf("forge version %s\n", version)
		fmt.Printf("commit: %s\n", commit)
		fmt.Printf("built: %s\n", date)
		os.Exit(0)
	}

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(1)
	}

	switch args[0] {
	case "serve":
		runServe(args[1:], *configPath)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", args[0])
		flag.Usage()
		os.Exit(1)
	}
}
