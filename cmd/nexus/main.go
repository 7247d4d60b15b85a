// SPDX-FileCopyrightText: Copyright 2026 Nexus Authors
// SPDX-License-Identifier: Apache-2.0

// Package main is the entry point for the nexus command-line application.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/avi3tal/nexus-mcp/cmd/nexus/app"
	"github.com/avi3tal/nexus-mcp/internal/logger"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM, syscall.SIGQUIT)
	defer cancel()

	if err := app.NewRootCmd().ExecuteContext(ctx); err != nil {
		logger.Errorf("error executing command: %v", err)
		os.Exit(1)
	}
}
