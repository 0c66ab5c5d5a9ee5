// ///////////////////////////////////////////////////////////////////////////
//
// # recon - Dataset Reconciliation Engine
//
// Copyright (C) 2023 - 2026, pgEdge (https://www.pgedge.com/)
//
// This software is released under the PostgreSQL License:
// https://opensource.org/license/postgresql
//
// ///////////////////////////////////////////////////////////////////////////

package main

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/pgedge/recon/internal/cli"
	"github.com/pgedge/recon/pkg/config"
	"github.com/pgedge/recon/pkg/logger"
)

func main() {
	if !shouldSkipConfig(os.Args[1:]) {
		if cfgPath := findConfig(configCandidates()); cfgPath != "" {
			if err := config.Init(cfgPath); err != nil {
				logger.Fatal("loading config (%s): %v", cfgPath, err)
			}
		} else {
			logger.Debug("no recon.yaml found; using defaults")
		}
	}

	app := cli.SetupCLI()
	if err := app.Run(os.Args); err != nil {
		logger.Error("%v", err)
		os.Exit(1)
	}
}

// configCandidates lists config locations in order of precedence:
// RECON_CONFIG, the current directory, $HOME/.config/recon and /etc/recon.
func configCandidates() []string {
	var paths []string
	if envPath := os.Getenv("RECON_CONFIG"); envPath != "" {
		paths = append(paths, envPath)
	}
	paths = append(paths, "recon.yaml")
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "recon", "recon.yaml"))
	}
	return append(paths, "/etc/recon/recon.yaml")
}

func findConfig(paths []string) string {
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

func shouldSkipConfig(args []string) bool {
	if len(args) == 0 {
		return true
	}

	for _, arg := range args {
		if arg == "--help" || arg == "-h" || arg == "help" {
			return true
		}
	}

	var commandPath []string
	for _, arg := range args {
		if arg == "--" {
			break
		}
		if strings.HasPrefix(arg, "-") {
			continue
		}
		commandPath = append(commandPath, arg)
		if len(commandPath) >= 2 {
			break
		}
	}

	if len(commandPath) == 0 {
		return true
	}

	switch commandPath[0] {
	case "config":
		return len(commandPath) == 1 || commandPath[1] == "init"
	case "rules":
		return true
	}
	return false
}
