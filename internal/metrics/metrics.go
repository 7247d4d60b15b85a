// SPDX-FileCopyrightText: Copyright 2026 Nexus Authors
// SPDX-License-Identifier: Apache-2.0

// Package metrics exposes the ambient Prometheus counters/gauges:
// transport reconnects, discovery failures, dropped duplicate
// capabilities, and proxied request counts. All of it is a thin
// wrapper over promauto so call sites can increment a counter inline
// without ever touching a domain lock.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TransportReconnects counts reconnect attempts per upstream, labeled
	// by outcome.
	TransportReconnects = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "nexus",
		Subsystem: "transport",
		Name:      "reconnect_total",
		Help:      "Reconnect attempts per upstream transport, by outcome.",
	}, []string{"upstream", "outcome"})

	// TransportRequests counts requests issued over a transport, labeled
	// by outcome (ok, rpc_error, timeout, cancelled, error).
	TransportRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "nexus",
		Subsystem: "transport",
		Name:      "requests_total",
		Help:      "JSON-RPC requests issued per upstream transport, by outcome.",
	}, []string{"upstream", "outcome"})

	// DiscoveryFailures counts discovery failures per upstream and kind.
	DiscoveryFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "nexus",
		Subsystem: "discovery",
		Name:      "failures_total",
		Help:      "Capability discovery failures per upstream, by capability kind.",
	}, []string{"upstream", "kind"})

	// AggregationConflictsDropped counts duplicate identifiers shadowed by
	// first-wins resolution, per virtual server.
	AggregationConflictsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "nexus",
		Subsystem: "aggregator",
		Name:      "conflicts_dropped_total",
		Help:      "Duplicate capability identifiers dropped by first-wins resolution, per virtual server.",
	}, []string{"vmcp", "kind"})

	// VirtualServerRequests counts MCP requests served by a virtual server,
	// labeled by method and outcome.
	VirtualServerRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "nexus",
		Subsystem: "vserver",
		Name:      "requests_total",
		Help:      "MCP requests served by a virtual server, by method and outcome.",
	}, []string{"vmcp", "method", "outcome"})

	// VirtualServersRunning is a gauge of currently-running virtual server
	// instances.
	VirtualServersRunning = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "nexus",
		Subsystem: "vserver",
		Name:      "running",
		Help:      "Number of virtual server instances currently running.",
	})
)
