// SPDX-FileCopyrightText: Copyright 2026 Nexus Authors
// SPDX-License-Identifier: Apache-2.0

// Package app provides the entry point for the nexus command-line
// application.
package app

import (
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/avi3tal/nexus-mcp/internal/logger"
)

var rootCmd = &cobra.Command{
	Use:               "nexus",
	DisableAutoGenTag: true,
	Short:             "Nexus - aggregate MCP-shaped tool servers into virtual servers",
	Long: `Nexus is a gateway that connects to upstream tool-protocol servers over
SSE/HTTP, aggregates their tools, prompts and resources into composable
virtual servers, and re-exposes each on its own port. It also runs a
management REST API for registering upstreams and defining virtual
servers at runtime.`,
	Run: func(cmd *cobra.Command, _ []string) {
		if err := cmd.Help(); err != nil {
			logger.Errorf("error displaying help: %v", err)
		}
	},
	PersistentPreRun: func(_ *cobra.Command, _ []string) {
		logger.Initialize(viper.GetBool("debug"), viper.GetBool("json-log"))
	},
}

// NewRootCmd creates a new root command for the nexus CLI.
func NewRootCmd() *cobra.Command {
	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug logging")
	mustBind("debug", rootCmd.PersistentFlags().Lookup("debug"))

	rootCmd.PersistentFlags().Bool("json-log", false, "Emit logs as JSON")
	mustBind("json-log", rootCmd.PersistentFlags().Lookup("json-log"))

	rootCmd.PersistentFlags().StringP("config", "c", "", "Path to the nexus configuration file")
	mustBind("config", rootCmd.PersistentFlags().Lookup("config"))

	rootCmd.PersistentFlags().String("api", "http://127.0.0.1:3000", "Management API base URL")
	mustBind("api", rootCmd.PersistentFlags().Lookup("api"))

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newUpstreamsCmd())
	rootCmd.AddCommand(newVMCPCmd())

	rootCmd.SilenceUsage = true

	return rootCmd
}

func mustBind(key string, flag *pflag.Flag) {
	if err := viper.BindPFlag(key, flag); err != nil {
		logger.Errorf("error binding %s flag: %v", key, err)
	}
}
