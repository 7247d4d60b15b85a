// SPDX-FileCopyrightText: Copyright 2026 Nexus Authors
// SPDX-License-Identifier: Apache-2.0

// Package aggregator merges a virtual server's configured sources into a
// single capability view and routing table. It runs in three stages —
// expand aggregation rules per source, resolve name conflicts, and build
// the routing table — with a first-wins-only conflict policy.
package aggregator

import (
	"github.com/avi3tal/nexus-mcp/internal/catalog"
	"github.com/avi3tal/nexus-mcp/internal/core"
	"github.com/avi3tal/nexus-mcp/internal/metrics"
)

// expandedRules is the per-kind allow-set produced from a
// VirtualServerDefinition's AggregationRules, ready for per-source
// filtering.
type expandedRules struct {
	allTools, allPrompts, allResources bool
	tools, prompts, resources          map[string]bool
}

func expand(rules []core.AggregationRule) expandedRules {
	e := expandedRules{
		tools:     make(map[string]bool),
		prompts:   make(map[string]bool),
		resources: make(map[string]bool),
	}
	for _, r := range rules {
		switch r.Kind {
		case core.RuleAggregateAll:
			e.allTools, e.allPrompts, e.allResources = true, true, true
		case core.RuleIncludeTools:
			for _, n := range r.Names {
				e.tools[n] = true
			}
		case core.RuleIncludePrompts:
			for _, n := range r.Names {
				e.prompts[n] = true
			}
		case core.RuleIncludeResources:
			for _, n := range r.Names {
				e.resources[n] = true
			}
		}
	}
	return e
}

// Aggregate builds the merged capability view for a virtual server from
// sourceIDs (in priority order — earlier sources win naming conflicts)
// and rules. vmcpID labels the dropped-conflict metric.
func Aggregate(cat *catalog.Catalog, vmcpID string, sourceIDs []string, rules []core.AggregationRule) *core.AggregatedView {
	e := expand(rules)
	routing := core.NewRoutingTable()

	var tools []core.Tool
	seenTools := make(map[string]bool)
	for _, source := range sourceIDs {
		for _, t := range cat.ToolsForSource(source) {
			if !e.allTools && !e.tools[t.Name] {
				continue
			}
			if seenTools[t.Name] {
				metrics.AggregationConflictsDropped.WithLabelValues(vmcpID, "tool").Inc()
				continue
			}
			seenTools[t.Name] = true
			tools = append(tools, t)
			routing.Tools[t.Name] = core.RoutingTarget{Source: source, OriginalIdentifier: t.Name}
		}
	}

	var prompts []core.Prompt
	seenPrompts := make(map[string]bool)
	for _, source := range sourceIDs {
		for _, p := range cat.PromptsForSource(source) {
			if !e.allPrompts && !e.prompts[p.Name] {
				continue
			}
			if seenPrompts[p.Name] {
				metrics.AggregationConflictsDropped.WithLabelValues(vmcpID, "prompt").Inc()
				continue
			}
			seenPrompts[p.Name] = true
			prompts = append(prompts, p)
			routing.Prompts[p.Name] = core.RoutingTarget{Source: source, OriginalIdentifier: p.Name}
		}
	}

	var resources []core.Resource
	seenResources := make(map[string]bool)
	for _, source := range sourceIDs {
		for _, r := range cat.ResourcesForSource(source) {
			if !e.allResources && !e.resources[r.URI] {
				continue
			}
			if seenResources[r.URI] {
				metrics.AggregationConflictsDropped.WithLabelValues(vmcpID, "resource").Inc()
				continue
			}
			seenResources[r.URI] = true
			resources = append(resources, r)
			routing.Resources[r.URI] = core.RoutingTarget{Source: source, OriginalIdentifier: r.URI}
		}
	}

	return &core.AggregatedView{
		Tools:     tools,
		Prompts:   prompts,
		Resources: resources,
		Routing:   routing,
	}
}
