// SPDX-FileCopyrightText: Copyright 2026 Nexus Authors
// SPDX-License-Identifier: Apache-2.0

package app

import (
	"fmt"
	"os"

	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/tw"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/avi3tal/nexus-mcp/internal/core"
)

func newUpstreamsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "upstreams",
		Short: "Inspect upstream tool servers registered with a running nexus",
	}
	cmd.AddCommand(newUpstreamsListCmd())
	return cmd
}

func newUpstreamsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registered upstream servers and their connection status",
		RunE: func(_ *cobra.Command, _ []string) error {
			client := newAPIClient(viper.GetString("api"))
			var upstreams []core.UpstreamDefinition
			if err := client.getJSON("/mcp-servers/", &upstreams); err != nil {
				return err
			}
			return renderUpstreamsTable(upstreams)
		},
	}
}

func renderUpstreamsTable(upstreams []core.UpstreamDefinition) error {
	if len(upstreams) == 0 {
		fmt.Println("No upstream servers are registered.")
		return nil
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Options(
		tablewriter.WithHeader([]string{"Name", "URL", "Status", "Disabled"}),
		tablewriter.WithRendition(tw.Rendition{
			Borders: tw.Border{Left: tw.State(1), Top: tw.State(1), Right: tw.State(1), Bottom: tw.State(1)},
		}),
	)

	for _, u := range upstreams {
		disabled := "no"
		if u.IsDisabled {
			disabled = "yes"
		}
		if err := table.Append([]string{u.Name, u.URL, string(u.Status), disabled}); err != nil {
			return fmt.Errorf("append row: %w", err)
		}
	}
	if err := table.Render(); err != nil {
		return fmt.Errorf("render table: %w", err)
	}
	return nil
}
