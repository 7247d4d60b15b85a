// SPDX-FileCopyrightText: Copyright 2026 Nexus Authors
// SPDX-License-Identifier: Apache-2.0

// Package core holds the domain vocabulary shared across Nexus's
// subpackages: capability records, upstream/virtual-server definitions,
// the routing table, and the sentinel errors used to report failures from
// any of them. It exists to avoid import cycles between transport,
// catalog, aggregator, and vserver.
package core

import (
	"time"

	"github.com/mark3labs/mcp-go/mcp"
)

// UpstreamStatus is the runtime connectivity state of an upstream server.
type UpstreamStatus string

const (
	UpstreamOnline  UpstreamStatus = "online"
	UpstreamOffline UpstreamStatus = "offline"
	UpstreamError   UpstreamStatus = "error"
)

// AuthDescriptor is the only outgoing-authentication shape Nexus supports:
// a bearer token sent as "Authorization: Bearer <token>". OAuth flows and
// token refresh are out of scope.
type AuthDescriptor struct {
	BearerToken string
}

// UpstreamDefinition is the persisted (in-memory) record of a configured
// upstream tool-protocol server.
type UpstreamDefinition struct {
	Name       string
	URL        string
	Auth       *AuthDescriptor
	IsDisabled bool
	Status     UpstreamStatus
	LastSeen   time.Time
}

// Tool is a flat capability record carrying source attribution.
type Tool struct {
	Name        string
	Description string
	InputSchema mcp.ToolInputSchema
	Source      string
}

// Prompt is a flat capability record carrying source attribution.
type Prompt struct {
	Name        string
	Description string
	Template    string
	Arguments   []mcp.PromptArgument
	Source      string
}

// Resource is a flat capability record carrying source attribution.
type Resource struct {
	URI      string
	Name     string
	MimeType string
	Source   string
}

// CapabilityKind distinguishes the three flat capability record types.
type CapabilityKind string

const (
	KindTool     CapabilityKind = "tool"
	KindPrompt   CapabilityKind = "prompt"
	KindResource CapabilityKind = "resource"
)

// AggregationRuleKind is the tag of the AggregationRule variant.
type AggregationRuleKind string

const (
	RuleAggregateAll      AggregationRuleKind = "aggregate_all"
	RuleIncludeTools      AggregationRuleKind = "include_tools"
	RuleIncludePrompts    AggregationRuleKind = "include_prompts"
	RuleIncludeResources  AggregationRuleKind = "include_resources"
)

// AggregationRule is a tagged variant with exactly four cases.
// Names is populated for the three include_* variants and ignored for
// aggregate_all.
type AggregationRule struct {
	Kind  AggregationRuleKind
	Names []string
}

// VirtualServerStatus is the operational lifecycle phase of a virtual server.
type VirtualServerStatus string

const (
	VMCPStopped            VirtualServerStatus = "stopped"
	VMCPStarting           VirtualServerStatus = "starting"
	VMCPRunning             VirtualServerStatus = "running"
	VMCPError              VirtualServerStatus = "error"
	VMCPPartiallyDegraded VirtualServerStatus = "partially_degraded"
)

// SourceStatus reports the health of one of a virtual server's sources.
type SourceStatus struct {
	Source    string
	Status    UpstreamStatus
	LastError string
}

// VirtualServerDefinition is the persisted (in-memory) record of a
// configured virtual server.
type VirtualServerDefinition struct {
	ID                      string
	Name                    string
	Port                    int
	SourceServerIDs         []string
	AggregationRules        []AggregationRule
	Status                  VirtualServerStatus
	UnderlyingServersStatus []SourceStatus
	CreatedAt               time.Time
	UpdatedAt               time.Time
}

// RoutingTarget identifies where a capability identifier resolves to: the
// upstream that contributed it and the identifier as the upstream itself
// knows it (the two differ only if the identifier were ever renamed, which
// Nexus's first-wins conflict resolution never does, but the split is kept
// because routing logic lives where the renaming would happen).
type RoutingTarget struct {
	Source             string
	OriginalIdentifier string
}

// RoutingTable is the output of aggregation and the input to a virtual
// server's proxy dispatch. Keys are tool/prompt names or resource uris.
type RoutingTable struct {
	Tools     map[string]RoutingTarget
	Prompts   map[string]RoutingTarget
	Resources map[string]RoutingTarget
}

// NewRoutingTable returns an empty, ready-to-populate routing table.
func NewRoutingTable() *RoutingTable {
	return &RoutingTable{
		Tools:     make(map[string]RoutingTarget),
		Prompts:   make(map[string]RoutingTarget),
		Resources: make(map[string]RoutingTarget),
	}
}

// Empty reports whether the routing table has no entries of any kind —
// the condition an aggregated view with no matching capabilities produces.
func (t *RoutingTable) Empty() bool {
	return len(t.Tools) == 0 && len(t.Prompts) == 0 && len(t.Resources) == 0
}

// AggregatedView is the merged tools/prompts/resources arrays produced by
// the aggregator for one virtual server, plus the routing table built
// alongside them.
type AggregatedView struct {
	Tools     []Tool
	Prompts   []Prompt
	Resources []Resource
	Routing   *RoutingTable
}
