// SPDX-FileCopyrightText: Copyright 2026 Nexus Authors
// SPDX-License-Identifier: Apache-2.0

package app

import (
	"fmt"
	"os"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/tw"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/avi3tal/nexus-mcp/internal/core"
)

func newVMCPCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "vmcp",
		Short: "Inspect virtual servers defined on a running nexus",
	}
	cmd.AddCommand(newVMCPListCmd())
	return cmd
}

func newVMCPListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List defined virtual servers and their aggregate status",
		RunE: func(_ *cobra.Command, _ []string) error {
			client := newAPIClient(viper.GetString("api"))
			var defs []core.VirtualServerDefinition
			if err := client.getJSON("/vmcps/", &defs); err != nil {
				return err
			}
			return renderVMCPTable(defs)
		},
	}
}

func renderVMCPTable(defs []core.VirtualServerDefinition) error {
	if len(defs) == 0 {
		fmt.Println("No virtual servers are defined.")
		return nil
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Options(
		tablewriter.WithHeader([]string{"ID", "Name", "Port", "Status", "Sources"}),
		tablewriter.WithRendition(tw.Rendition{
			Borders: tw.Border{Left: tw.State(1), Top: tw.State(1), Right: tw.State(1), Bottom: tw.State(1)},
		}),
	)

	for _, d := range defs {
		if err := table.Append([]string{
			d.ID,
			d.Name,
			fmt.Sprintf("%d", d.Port),
			string(d.Status),
			strings.Join(d.SourceServerIDs, ","),
		}); err != nil {
			return fmt.Errorf("append row: %w", err)
		}
	}
	if err := table.Render(); err != nil {
		return fmt.Errorf("render table: %w", err)
	}
	return nil
}
