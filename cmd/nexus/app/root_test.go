// SPDX-FileCopyrightText: Copyright 2026 Nexus Authors
// SPDX-License-Identifier: Apache-2.0

package app

import (
	"sync"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	testRootCmd     *cobra.Command
	testRootCmdOnce sync.Once
)

// getTestRootCmd builds the root command once per test binary; NewRootCmd
// registers persistent flags on the package-level rootCmd singleton, so
// calling it more than once would panic on flag redefinition.
func getTestRootCmd() *cobra.Command {
	testRootCmdOnce.Do(func() {
		testRootCmd = NewRootCmd()
	})
	return testRootCmd
}

func TestNewRootCmd_RegistersSubcommands(t *testing.T) {
	cmd := getTestRootCmd()

	names := make(map[string]bool)
	for _, c := range cmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"serve", "version", "upstreams", "vmcp"} {
		assert.True(t, names[want], "expected subcommand %q to be registered", want)
	}
}

func TestNewRootCmd_BindsPersistentFlags(t *testing.T) {
	cmd := getTestRootCmd()

	for _, want := range []string{"debug", "json-log", "config", "api"} {
		flag := cmd.PersistentFlags().Lookup(want)
		require.NotNil(t, flag, "expected persistent flag %q", want)
	}
}
