// SPDX-FileCopyrightText: Copyright 2026 Nexus Authors
// SPDX-License-Identifier: Apache-2.0

// Package vserver implements the virtual server runtime and the
// definitions manager that owns its lifecycle. Each Instance terminates
// its own client-facing SSE sessions using the same
// asymmetric SSE(down)/POST(up) wire protocol Nexus speaks to upstreams,
// and dispatches the MCP-shaped methods by proxying through a transport
// Registry according to a precomputed routing table.
package vserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/avi3tal/nexus-mcp/internal/aggregator"
	"github.com/avi3tal/nexus-mcp/internal/catalog"
	"github.com/avi3tal/nexus-mcp/internal/core"
	"github.com/avi3tal/nexus-mcp/internal/logger"
	"github.com/avi3tal/nexus-mcp/internal/metrics"
	"github.com/avi3tal/nexus-mcp/internal/transport"
)

const (
	defaultReadHeaderTimeout = 10 * time.Second
	sessionOutboxSize        = 64
)

// UpstreamSource reports whether a configured upstream name is known and
// connected. vserver depends only on this narrow view (not the full state
// package) to avoid an import cycle with whatever wires the two together
// in cmd/nexus.
type UpstreamSource interface {
	Exists(name string) bool
	IsDisabled(name string) bool
	IsConnected(name string) bool
}

// clientSession is one client's open SSE stream plus the channel used to
// push framed JSON-RPC messages to it.
type clientSession struct {
	id  string
	out chan []byte
}

// Instance is one running (or stopped) virtual server: an HTTP listener
// on its own port, a table of open client SSE sessions, and a snapshot of
// the aggregated capability view it currently serves.
type Instance struct {
	id     string
	host   string
	port   int
	source UpstreamSource

	catalog  *catalog.Catalog
	registry *transport.Registry

	mu               sync.RWMutex
	sourceIDs        []string
	rules            []core.AggregationRule
	view             *core.AggregatedView
	status           core.VirtualServerStatus
	underlyingStatus []core.SourceStatus

	httpServer *http.Server
	listener   net.Listener

	sessionsMu sync.Mutex
	sessions   map[string]*clientSession
}

// NewInstance constructs a stopped Instance for id, bound to host:port
// once started.
func NewInstance(id, host string, port int, sourceIDs []string, rules []core.AggregationRule,
	cat *catalog.Catalog, registry *transport.Registry, source UpstreamSource,
) *Instance {
	return &Instance{
		id:        id,
		host:      host,
		port:      port,
		source:    source,
		catalog:   cat,
		registry:  registry,
		sourceIDs: sourceIDs,
		rules:     rules,
		status:    core.VMCPStopped,
		sessions:  make(map[string]*clientSession),
	}
}

// Status returns the instance's current lifecycle status and per-source
// health snapshot.
func (i *Instance) Status() (core.VirtualServerStatus, []core.SourceStatus) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.status, append([]core.SourceStatus(nil), i.underlyingStatus...)
}

// View returns the instance's currently served capability view.
func (i *Instance) View() *core.AggregatedView {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.view
}

// Refresh recomputes the aggregated view from the catalog and the
// per-source connectivity status, updating the instance's lifecycle
// status per the partial-degradation rules:
//   - every configured source disabled -> error (a vMCP with only
//     disabled sources never reaches partially_degraded)
//   - aggregated view empty -> error (ErrNoCapabilities)
//   - some, but not all, enabled sources unreachable -> partially_degraded
//   - all enabled sources reachable -> running
func (i *Instance) Refresh() error {
	view := aggregator.Aggregate(i.catalog, i.id, i.sourceIDs, i.rules)

	statuses := make([]core.SourceStatus, 0, len(i.sourceIDs))
	enabledCount, unreachableCount := 0, 0
	for _, src := range i.sourceIDs {
		st := core.SourceStatus{Source: src}
		switch {
		case !i.source.Exists(src):
			st.Status = core.UpstreamError
			st.LastError = "unknown source"
		case i.source.IsDisabled(src):
			st.Status = core.UpstreamOffline
			st.LastError = "source disabled"
		case i.source.IsConnected(src):
			st.Status = core.UpstreamOnline
			enabledCount++
		default:
			st.Status = core.UpstreamOffline
			st.LastError = "not connected"
			enabledCount++
			unreachableCount++
		}
		statuses = append(statuses, st)
	}

	var status core.VirtualServerStatus
	switch {
	case enabledCount == 0:
		status = core.VMCPError
	case view.Routing.Empty():
		status = core.VMCPError
	case unreachableCount > 0:
		status = core.VMCPPartiallyDegraded
	default:
		status = core.VMCPRunning
	}

	i.mu.Lock()
	i.view = view
	i.underlyingStatus = statuses
	i.status = status
	i.mu.Unlock()

	if status == core.VMCPError {
		if enabledCount == 0 {
			return fmt.Errorf("%w: %s: all sources disabled", core.ErrUpstreamUnavailable, i.id)
		}
		return fmt.Errorf("%w: %s", core.ErrNoCapabilities, i.id)
	}
	return nil
}

// Start refreshes the capability view, binds the listener, and begins
// serving client SSE sessions. Failing the initial Refresh (no
// capabilities, or every source disabled) aborts the start.
func (i *Instance) Start(_ context.Context) error {
	if err := i.Refresh(); err != nil {
		return err
	}

	router := chi.NewRouter()
	router.Get("/sse", i.handleSSE)
	router.Post("/message", i.handleMessage)
	router.Get("/health", i.handleHealthHTTP)

	addr := fmt.Sprintf("%s:%d", i.host, i.port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		i.mu.Lock()
		i.status = core.VMCPError
		i.mu.Unlock()
		return fmt.Errorf("%w: %s: %v", core.ErrPortUnavailable, addr, err)
	}

	i.mu.Lock()
	i.listener = listener
	i.httpServer = &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: defaultReadHeaderTimeout,
	}
	i.mu.Unlock()

	errCh := make(chan error, 1)
	go func() {
		if err := i.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	metrics.VirtualServersRunning.Inc()
	logger.Infof("vserver %s: listening at %s", i.id, addr)

	select {
	case err := <-errCh:
		i.mu.Lock()
		i.status = core.VMCPError
		i.mu.Unlock()
		return fmt.Errorf("%w: %s: %v", core.ErrPortUnavailable, addr, err)
	case <-time.After(50 * time.Millisecond):
		return nil
	}
}

// Stop closes the instance's listener and every open client session; each
// client observes the end of its SSE stream.
func (i *Instance) Stop(_ context.Context) error {
	i.mu.Lock()
	srv := i.httpServer
	i.status = core.VMCPStopped
	i.mu.Unlock()

	if srv == nil {
		return nil
	}

	// Close rather than Shutdown: a graceful Shutdown waits for the
	// long-lived SSE handlers, which never return on their own.
	err := srv.Close()
	metrics.VirtualServersRunning.Dec()
	return err
}

func (i *Instance) handleHealthHTTP(w http.ResponseWriter, _ *http.Request) {
	status, sources := i.Status()
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":  status,
		"sources": sources,
	})
}

func (i *Instance) handleSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	sessionID := uuid.NewString()
	sess := &clientSession{id: sessionID, out: make(chan []byte, sessionOutboxSize)}

	i.sessionsMu.Lock()
	i.sessions[sessionID] = sess
	i.sessionsMu.Unlock()
	defer func() {
		i.sessionsMu.Lock()
		delete(i.sessions, sessionID)
		i.sessionsMu.Unlock()
	}()

	endpointPayload, _ := json.Marshal(map[string]string{"endpoint": "/message", "sessionId": sessionID})
	fmt.Fprintf(w, "event: endpoint\ndata: %s\n\n", endpointPayload)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case frame, ok := <-sess.out:
			if !ok {
				return
			}
			if _, err := w.Write(frame); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func (i *Instance) handleMessage(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("sessionId")
	i.sessionsMu.Lock()
	sess, ok := i.sessions[sessionID]
	i.sessionsMu.Unlock()
	if !ok {
		http.Error(w, "unknown session", http.StatusNotFound)
		return
	}

	var msg transport.Message
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		http.Error(w, "invalid message", http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusAccepted)

	// r.Context() is canceled as soon as this handler returns, so the
	// dispatch (and any proxied upstream request) runs without it.
	go i.dispatch(context.WithoutCancel(r.Context()), sess, &msg)
}

func (i *Instance) send(sess *clientSession, msg *transport.Message) {
	raw, err := json.Marshal(msg)
	if err != nil {
		logger.Errorf("vserver %s: marshal response: %v", i.id, err)
		return
	}
	frame := []byte(fmt.Sprintf("event: message\ndata: %s\n\n", raw))
	select {
	case sess.out <- frame:
	default:
		logger.Warnf("vserver %s: session %s outbox full, dropping response", i.id, sess.id)
	}
}

func (i *Instance) dispatch(ctx context.Context, sess *clientSession, msg *transport.Message) {
	var resp *transport.Message
	var outcome string

	switch msg.Method {
	case "tools/list":
		resp, outcome = i.listTools(msg.ID), "ok"
	case "tools/call":
		resp, outcome = i.callCapability(ctx, msg, capKindTool)
	case "prompts/list":
		resp, outcome = i.listPrompts(msg.ID), "ok"
	case "prompts/get":
		resp, outcome = i.callCapability(ctx, msg, capKindPrompt)
	case "resources/list":
		resp, outcome = i.listResources(msg.ID), "ok"
	case "resources/get":
		resp, outcome = i.callCapability(ctx, msg, capKindResource)
	case "health/check":
		resp, outcome = i.healthCheck(ctx, msg.ID), "ok"
	default:
		resp = transport.NewErrorResponse(msg.ID, transport.CodeMethodNotFound, fmt.Sprintf("unknown method %q", msg.Method))
		outcome = "method_not_found"
	}

	metrics.VirtualServerRequests.WithLabelValues(i.id, msg.Method, outcome).Inc()
	i.send(sess, resp)
}

func (i *Instance) listTools(id any) *transport.Message {
	view := i.View()
	resp, err := transport.NewResult(id, map[string]any{"tools": view.Tools})
	if err != nil {
		return transport.NewErrorResponse(id, transport.CodeInternalError, err.Error())
	}
	return resp
}

func (i *Instance) listPrompts(id any) *transport.Message {
	view := i.View()
	resp, err := transport.NewResult(id, map[string]any{"prompts": view.Prompts})
	if err != nil {
		return transport.NewErrorResponse(id, transport.CodeInternalError, err.Error())
	}
	return resp
}

func (i *Instance) listResources(id any) *transport.Message {
	view := i.View()
	resp, err := transport.NewResult(id, map[string]any{"resources": view.Resources})
	if err != nil {
		return transport.NewErrorResponse(id, transport.CodeInternalError, err.Error())
	}
	return resp
}

func (i *Instance) healthCheck(ctx context.Context, id any) *transport.Message {
	status, _ := i.Status()
	sources := i.checkHealth(ctx)
	resp, err := transport.NewResult(id, map[string]any{"status": status, "sources": sources})
	if err != nil {
		return transport.NewErrorResponse(id, transport.CodeInternalError, err.Error())
	}
	return resp
}

// checkHealth issues a live health/check request through the registry for
// every source that's currently connected, and falls back to the cached
// status (from the instance's last Refresh) for sources that are not.
func (i *Instance) checkHealth(ctx context.Context) []core.SourceStatus {
	i.mu.RLock()
	sourceIDs := append([]string(nil), i.sourceIDs...)
	cached := make(map[string]core.SourceStatus, len(i.underlyingStatus))
	for _, s := range i.underlyingStatus {
		cached[s.Source] = s
	}
	i.mu.RUnlock()

	out := make([]core.SourceStatus, 0, len(sourceIDs))
	for _, src := range sourceIDs {
		st := cached[src]
		st.Source = src

		if i.source.IsConnected(src) {
			req, err := transport.NewRequest(uuid.NewString(), "health/check", map[string]string{})
			if err != nil {
				st.Status, st.LastError = core.UpstreamError, err.Error()
			} else if _, err := i.registry.Request(ctx, src, req); err != nil {
				st.Status, st.LastError = core.UpstreamError, err.Error()
			} else {
				st.Status, st.LastError = core.UpstreamOnline, ""
			}
		}
		out = append(out, st)
	}
	return out
}

type capabilityKind int

const (
	capKindTool capabilityKind = iota
	capKindPrompt
	capKindResource
)

// namedCapabilityParams covers tools/call and prompts/get, which both
// identify their target by "name"; resources/get identifies its target
// by "uri". All three forward "arguments" verbatim to the upstream.
type namedCapabilityParams struct {
	Name      string          `json:"name,omitempty"`
	URI       string          `json:"uri,omitempty"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// mcpURISource extracts the source name from a resource uri of the form
// "mcp://<source>/...", reporting false if uri isn't of that shape.
func mcpURISource(uri string) (string, bool) {
	const prefix = "mcp://"
	if !strings.HasPrefix(uri, prefix) {
		return "", false
	}
	rest := uri[len(prefix):]
	if idx := strings.IndexByte(rest, '/'); idx >= 0 {
		rest = rest[:idx]
	}
	if rest == "" {
		return "", false
	}
	return rest, true
}

// callCapability proxies a tools/call, prompts/get, or resources/get
// request to whichever upstream the routing table says owns the named
// capability. A capability absent from the routing table fails with
// ErrCapabilityUnmapped, except for resources/get on an "mcp://<source>/…"
// uri whose <source> is one of the vMCP's configured sources: that falls
// through to <source> directly even though the catalog never indexed it,
// since the uri already names its own owner.
func (i *Instance) callCapability(ctx context.Context, msg *transport.Message, kind capabilityKind) (*transport.Message, string) {
	var params namedCapabilityParams
	if len(msg.Params) > 0 {
		if err := json.Unmarshal(msg.Params, &params); err != nil {
			return transport.NewErrorResponse(msg.ID, transport.CodeInvalidParams, "invalid params"), "invalid_params"
		}
	}

	identifier := params.Name
	if kind == capKindResource {
		identifier = params.URI
	}

	view := i.View()
	var target core.RoutingTarget
	var ok bool
	switch kind {
	case capKindTool:
		target, ok = view.Routing.Tools[identifier]
	case capKindPrompt:
		target, ok = view.Routing.Prompts[identifier]
	case capKindResource:
		target, ok = view.Routing.Resources[identifier]
	}
	if !ok && kind == capKindResource {
		if src, isMCPURI := mcpURISource(identifier); isMCPURI {
			for _, id := range i.sourceIDs {
				if id == src {
					target = core.RoutingTarget{Source: src, OriginalIdentifier: identifier}
					ok = true
					break
				}
			}
		}
	}
	if !ok {
		return transport.NewErrorResponse(msg.ID, transport.CodeInvalidParams,
			fmt.Sprintf("%v: %q", core.ErrCapabilityUnmapped, identifier)), "unmapped"
	}

	upstreamParams := map[string]any{"arguments": params.Arguments}
	if kind == capKindResource {
		upstreamParams["uri"] = target.OriginalIdentifier
	} else {
		upstreamParams["name"] = target.OriginalIdentifier
	}

	upstreamReq, err := transport.NewRequest(uuid.NewString(), msg.Method, upstreamParams)
	if err != nil {
		return transport.NewErrorResponse(msg.ID, transport.CodeInternalError, err.Error()), "error"
	}

	upstreamResp, err := i.registry.Request(ctx, target.Source, upstreamReq)
	if upstreamResp != nil && upstreamResp.Error != nil {
		return transport.NewErrorResponse(msg.ID, upstreamResp.Error.Code, upstreamResp.Error.Message), "rpc_error"
	}
	if err != nil {
		return transport.NewErrorResponse(msg.ID, transport.CodeInternalError,
			fmt.Sprintf("%v: %v", core.ErrUpstreamUnavailable, err)), "upstream_error"
	}

	resp, err := transport.NewResult(msg.ID, json.RawMessage(upstreamResp.Result))
	if err != nil {
		return transport.NewErrorResponse(msg.ID, transport.CodeInternalError, err.Error()), "error"
	}
	return resp, "ok"
}
