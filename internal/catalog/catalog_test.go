// SPDX-FileCopyrightText: Copyright 2026 Nexus Authors
// SPDX-License-Identifier: Apache-2.0

package catalog

import (
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avi3tal/nexus-mcp/internal/core"
)

func TestCatalog_ReplaceToolsValidatesAndTagsSource(t *testing.T) {
	t.Parallel()

	c := New()
	err := c.ReplaceTools("weather", []core.Tool{
		{Name: "forecast", Description: "get forecast"},
		{Name: "alerts", Description: "get alerts"},
	})
	require.NoError(t, err)

	tools := c.ToolsForSource("weather")
	require.Len(t, tools, 2)
	assert.Equal(t, "weather", tools[0].Source)
	assert.Equal(t, "forecast", tools[0].Name)
}

func TestCatalog_ReplaceToolsRejectsMissingName(t *testing.T) {
	t.Parallel()

	c := New()
	err := c.ReplaceTools("weather", []core.Tool{{Description: "no name"}})
	require.Error(t, err)
}

func TestCatalog_ReplaceToolsAcceptsObjectSchema(t *testing.T) {
	t.Parallel()

	c := New()
	err := c.ReplaceTools("weather", []core.Tool{{
		Name: "forecast",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"city": map[string]any{"type": "string"},
			},
			Required: []string{"city"},
		},
	}})
	require.NoError(t, err)
}

func TestCatalog_ReplaceIsWholesale(t *testing.T) {
	t.Parallel()

	c := New()
	require.NoError(t, c.ReplaceTools("svc", []core.Tool{{Name: "a"}, {Name: "b"}}))
	require.NoError(t, c.ReplaceTools("svc", []core.Tool{{Name: "c"}}))

	tools := c.ToolsForSource("svc")
	require.Len(t, tools, 1)
	assert.Equal(t, "c", tools[0].Name)
}

func TestCatalog_RemoveSourceClearsAllKinds(t *testing.T) {
	t.Parallel()

	c := New()
	require.NoError(t, c.ReplaceTools("svc", []core.Tool{{Name: "a"}}))
	require.NoError(t, c.ReplacePrompts("svc", []core.Prompt{{Name: "p"}}))
	require.NoError(t, c.ReplaceResources("svc", []core.Resource{{URI: "mcp://svc/r"}}))

	assert.True(t, c.HasSource("svc"))
	c.RemoveSource("svc")
	assert.False(t, c.HasSource("svc"))
	assert.Empty(t, c.ToolsForSource("svc"))
}

func TestCatalog_AllToolsOrderedBySource(t *testing.T) {
	t.Parallel()

	c := New()
	require.NoError(t, c.ReplaceTools("zeta", []core.Tool{{Name: "z1"}}))
	require.NoError(t, c.ReplaceTools("alpha", []core.Tool{{Name: "a1"}}))

	all := c.AllTools()
	require.Len(t, all, 2)
	assert.Equal(t, "a1", all[0].Name)
	assert.Equal(t, "z1", all[1].Name)
}

func TestCatalog_HasSourceTracksZeroCapabilitySources(t *testing.T) {
	t.Parallel()

	c := New()
	require.NoError(t, c.ReplaceTools("empty-svc", nil))
	assert.True(t, c.HasSource("empty-svc"))
	assert.False(t, c.HasSource("never-seen"))
}
