// SPDX-FileCopyrightText: Copyright 2026 Nexus Authors
// SPDX-License-Identifier: Apache-2.0

package app

import (
	"context"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/avi3tal/nexus-mcp/internal/catalog"
	"github.com/avi3tal/nexus-mcp/internal/config"
	"github.com/avi3tal/nexus-mcp/internal/discovery"
	"github.com/avi3tal/nexus-mcp/internal/logger"
	"github.com/avi3tal/nexus-mcp/internal/mgmtapi"
	"github.com/avi3tal/nexus-mcp/internal/state"
	"github.com/avi3tal/nexus-mcp/internal/transport"
	"github.com/avi3tal/nexus-mcp/internal/vserver"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start Nexus's management API and configured virtual servers",
		Long: `Start Nexus. Loads the configuration file (if any), registers the
configured upstream servers and virtual servers, and serves the
management REST API until the process receives a shutdown signal.`,
		RunE: runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	configPath := viper.GetString("config")

	fileCfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	registry := transport.NewRegistry()
	store := state.NewStore(fileCfg.StateConfig(), registry)
	if err := store.MergeEnvOverride(config.EnvOverrideJSON()); err != nil {
		return fmt.Errorf("apply MCP_ENV_VARS: %w", err)
	}

	for _, def := range fileCfg.Upstreams() {
		if err := store.AddUpstream(def); err != nil {
			return fmt.Errorf("register upstream %s: %w", def.Name, err)
		}
	}

	cat := catalog.New()
	discoverer := discovery.New(registry, cat)
	scheduler := discovery.NewScheduler(discoverer, store.Config().RefreshInterval)
	for _, def := range store.ListUpstreams() {
		scheduler.Add(def.Name)
	}
	defer scheduler.Stop()

	manager := vserver.NewManager(managementHost(), store.Config().Port, cat, registry, store)
	manager.SetLimits(store.Config().MaxInstances, store.Config().PortRangeStart, store.Config().PortRangeEnd)
	for _, def := range fileCfg.VirtualServers() {
		if _, err := manager.Add(def); err != nil {
			logger.Errorf("register virtual server %s: %v", def.Name, err)
		}
	}
	defer manager.StopAll(context.Background())

	addr := fmt.Sprintf("%s:%d", managementHost(), store.Config().Port)
	srv := &http.Server{Addr: addr, Handler: mgmtapi.Router(store, manager, registry)}

	logger.Infof("management API listening on %s", addr)
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		logger.Infof("shutting down")
		return srv.Shutdown(context.Background())
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("management API: %w", err)
		}
		return nil
	}
}

func managementHost() string {
	return "0.0.0.0"
}
