// SPDX-FileCopyrightText: Copyright 2026 Nexus Authors
// SPDX-License-Identifier: Apache-2.0

package vserver

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avi3tal/nexus-mcp/internal/catalog"
	"github.com/avi3tal/nexus-mcp/internal/core"
	"github.com/avi3tal/nexus-mcp/internal/transport"
)

// fakeSource is a minimal UpstreamSource test double backed directly by a
// transport.Registry for connectivity and explicit maps for the rest.
type fakeSource struct {
	registry *transport.Registry
	missing  map[string]bool
	disabled map[string]bool
}

func newFakeSource(registry *transport.Registry) *fakeSource {
	return &fakeSource{registry: registry, missing: map[string]bool{}, disabled: map[string]bool{}}
}

func (f *fakeSource) Exists(name string) bool     { return !f.missing[name] }
func (f *fakeSource) IsDisabled(name string) bool { return f.disabled[name] }
func (f *fakeSource) IsConnected(name string) bool {
	return f.registry.IsConnected(name)
}

// newEchoUpstream starts a fake upstream speaking Nexus's own
// endpoint-event-then-message-frame protocol, echoing tools/call requests
// back as a canned result.
func newEchoUpstream(t *testing.T) *httptest.Server {
	t.Helper()

	var mu strings.Builder
	_ = mu
	msgCh := make(chan *transport.Message, 8)

	mux := http.NewServeMux()
	mux.HandleFunc("/sse", func(w http.ResponseWriter, r *http.Request) {
		f := w.(http.Flusher)
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "event: endpoint\ndata: {\"endpoint\":\"/message\",\"sessionId\":\"s1\"}\n\n")
		f.Flush()

		for {
			select {
			case <-r.Context().Done():
				return
			case m := <-msgCh:
				raw, _ := json.Marshal(m)
				fmt.Fprintf(w, "event: message\ndata: %s\n\n", raw)
				f.Flush()
			}
		}
	})
	mux.HandleFunc("/message", func(w http.ResponseWriter, r *http.Request) {
		var msg transport.Message
		require.NoError(t, json.NewDecoder(r.Body).Decode(&msg))
		w.WriteHeader(http.StatusAccepted)

		result, _ := json.Marshal(map[string]any{"ok": true})
		msgCh <- &transport.Message{JSONRPC: "2.0", ID: msg.ID, Result: result}
	})

	return httptest.NewServer(mux)
}

func connectedRegistry(t *testing.T, upstream string, server *httptest.Server) *transport.Registry {
	t.Helper()
	reg := transport.NewRegistry()
	require.NoError(t, reg.Add(upstream, server.URL, transport.DefaultConfig()))
	require.NoError(t, reg.Connect(context.Background(), upstream))
	require.Eventually(t, func() bool { return reg.IsConnected(upstream) }, time.Second, 5*time.Millisecond)
	return reg
}

func TestInstance_Refresh_RunningWhenAllSourcesConnected(t *testing.T) {
	t.Parallel()

	server := newEchoUpstream(t)
	defer server.Close()
	reg := connectedRegistry(t, "up1", server)

	cat := catalog.New()
	require.NoError(t, cat.ReplaceTools("up1", []core.Tool{{Name: "echo"}}))

	src := newFakeSource(reg)
	inst := NewInstance("vmcp1", "127.0.0.1", 0, []string{"up1"}, []core.AggregationRule{{Kind: core.RuleAggregateAll}}, cat, reg, src)

	require.NoError(t, inst.Refresh())
	status, sources := inst.Status()
	assert.Equal(t, core.VMCPRunning, status)
	require.Len(t, sources, 1)
	assert.Equal(t, core.UpstreamOnline, sources[0].Status)
}

func TestInstance_Refresh_ErrorWhenAllSourcesDisabled(t *testing.T) {
	t.Parallel()

	cat := catalog.New()
	require.NoError(t, cat.ReplaceTools("up1", []core.Tool{{Name: "echo"}}))

	reg := transport.NewRegistry()
	src := newFakeSource(reg)
	src.disabled["up1"] = true

	inst := NewInstance("vmcp1", "127.0.0.1", 0, []string{"up1"}, []core.AggregationRule{{Kind: core.RuleAggregateAll}}, cat, reg, src)

	err := inst.Refresh()
	require.Error(t, err)
	status, _ := inst.Status()
	assert.Equal(t, core.VMCPError, status)
}

func TestInstance_Refresh_PartiallyDegradedWhenOneSourceUnreachable(t *testing.T) {
	t.Parallel()

	server := newEchoUpstream(t)
	defer server.Close()
	reg := connectedRegistry(t, "up1", server)
	// up2 is never added to the registry, so it reports not-connected.

	cat := catalog.New()
	require.NoError(t, cat.ReplaceTools("up1", []core.Tool{{Name: "echo"}}))
	require.NoError(t, cat.ReplaceTools("up2", []core.Tool{{Name: "other"}}))

	src := newFakeSource(reg)
	inst := NewInstance("vmcp1", "127.0.0.1", 0, []string{"up1", "up2"}, []core.AggregationRule{{Kind: core.RuleAggregateAll}}, cat, reg, src)

	err := inst.Refresh()
	require.NoError(t, err)
	status, sources := inst.Status()
	assert.Equal(t, core.VMCPPartiallyDegraded, status)
	require.Len(t, sources, 2)
}

func TestInstance_Refresh_ErrorWhenNoCapabilitiesMatch(t *testing.T) {
	t.Parallel()

	server := newEchoUpstream(t)
	defer server.Close()
	reg := connectedRegistry(t, "up1", server)

	cat := catalog.New()
	require.NoError(t, cat.ReplaceTools("up1", []core.Tool{{Name: "echo"}}))

	src := newFakeSource(reg)
	inst := NewInstance("vmcp1", "127.0.0.1", 0, []string{"up1"}, []core.AggregationRule{
		{Kind: core.RuleIncludeTools, Names: []string{"nonexistent"}},
	}, cat, reg, src)

	err := inst.Refresh()
	require.ErrorIs(t, err, core.ErrNoCapabilities)
	status, _ := inst.Status()
	assert.Equal(t, core.VMCPError, status)
}

func readSSEFrame(t *testing.T, out <-chan []byte) *transport.Message {
	t.Helper()
	select {
	case frame := <-out:
		scanner := bufio.NewScanner(strings.NewReader(string(frame)))
		for scanner.Scan() {
			line := scanner.Text()
			if strings.HasPrefix(line, "data: ") {
				var msg transport.Message
				require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &msg))
				return &msg
			}
		}
		t.Fatal("no data line in frame")
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for dispatch response")
	}
	return nil
}

func TestInstance_Dispatch_ToolsCallProxiesThroughRouting(t *testing.T) {
	t.Parallel()

	server := newEchoUpstream(t)
	defer server.Close()
	reg := connectedRegistry(t, "up1", server)

	cat := catalog.New()
	require.NoError(t, cat.ReplaceTools("up1", []core.Tool{{Name: "echo"}}))

	src := newFakeSource(reg)
	inst := NewInstance("vmcp1", "127.0.0.1", 0, []string{"up1"}, []core.AggregationRule{{Kind: core.RuleAggregateAll}}, cat, reg, src)
	require.NoError(t, inst.Refresh())

	sess := &clientSession{id: "s1", out: make(chan []byte, 4)}
	params, _ := json.Marshal(map[string]any{"name": "echo", "arguments": map[string]any{}})
	msg := &transport.Message{JSONRPC: "2.0", ID: "req-1", Method: "tools/call", Params: params}

	inst.dispatch(context.Background(), sess, msg)

	resp := readSSEFrame(t, sess.out)
	assert.Equal(t, "req-1", resp.ID)
	assert.Nil(t, resp.Error)
	require.NotNil(t, resp.Result)

	var result map[string]bool
	require.NoError(t, json.Unmarshal(resp.Result, &result))
	assert.True(t, result["ok"])
}

func TestInstance_Dispatch_ToolsCallUnmappedNameFails(t *testing.T) {
	t.Parallel()

	server := newEchoUpstream(t)
	defer server.Close()
	reg := connectedRegistry(t, "up1", server)

	cat := catalog.New()
	require.NoError(t, cat.ReplaceTools("up1", []core.Tool{{Name: "echo"}}))

	src := newFakeSource(reg)
	inst := NewInstance("vmcp1", "127.0.0.1", 0, []string{"up1"}, []core.AggregationRule{{Kind: core.RuleAggregateAll}}, cat, reg, src)
	require.NoError(t, inst.Refresh())

	sess := &clientSession{id: "s1", out: make(chan []byte, 4)}
	params, _ := json.Marshal(map[string]any{"name": "missing"})
	msg := &transport.Message{JSONRPC: "2.0", ID: "req-2", Method: "tools/call", Params: params}

	inst.dispatch(context.Background(), sess, msg)

	resp := readSSEFrame(t, sess.out)
	require.NotNil(t, resp.Error)
	assert.Equal(t, transport.CodeInvalidParams, resp.Error.Code)
}

func TestInstance_Dispatch_ResourcesGetFallsBackToMCPURISource(t *testing.T) {
	t.Parallel()

	server := newEchoUpstream(t)
	defer server.Close()
	reg := connectedRegistry(t, "up1", server)

	cat := catalog.New()
	// up1 contributes a tool but no resources, so the requested resource
	// uri is unmapped and can only be routed by the mcp://<source>/... fallback.
	require.NoError(t, cat.ReplaceTools("up1", []core.Tool{{Name: "echo"}}))

	src := newFakeSource(reg)
	inst := NewInstance("vmcp1", "127.0.0.1", 0, []string{"up1"}, []core.AggregationRule{{Kind: core.RuleAggregateAll}}, cat, reg, src)
	require.NoError(t, inst.Refresh())

	sess := &clientSession{id: "s1", out: make(chan []byte, 4)}
	params, _ := json.Marshal(map[string]any{"uri": "mcp://up1/some/resource"})
	msg := &transport.Message{JSONRPC: "2.0", ID: "req-3", Method: "resources/get", Params: params}

	inst.dispatch(context.Background(), sess, msg)

	resp := readSSEFrame(t, sess.out)
	assert.Equal(t, "req-3", resp.ID)
	assert.Nil(t, resp.Error)
	require.NotNil(t, resp.Result)
}

func TestInstance_Dispatch_ResourcesGetMCPURIUnknownSourceFails(t *testing.T) {
	t.Parallel()

	server := newEchoUpstream(t)
	defer server.Close()
	reg := connectedRegistry(t, "up1", server)

	cat := catalog.New()
	require.NoError(t, cat.ReplaceTools("up1", []core.Tool{{Name: "echo"}}))

	src := newFakeSource(reg)
	inst := NewInstance("vmcp1", "127.0.0.1", 0, []string{"up1"}, []core.AggregationRule{{Kind: core.RuleAggregateAll}}, cat, reg, src)
	require.NoError(t, inst.Refresh())

	sess := &clientSession{id: "s1", out: make(chan []byte, 4)}
	params, _ := json.Marshal(map[string]any{"uri": "mcp://up2/some/resource"})
	msg := &transport.Message{JSONRPC: "2.0", ID: "req-4", Method: "resources/get", Params: params}

	inst.dispatch(context.Background(), sess, msg)

	resp := readSSEFrame(t, sess.out)
	require.NotNil(t, resp.Error)
	assert.Equal(t, transport.CodeInvalidParams, resp.Error.Code)
}

func TestInstance_Dispatch_HealthCheckProbesConnectedSources(t *testing.T) {
	t.Parallel()

	server := newEchoUpstream(t)
	defer server.Close()
	reg := connectedRegistry(t, "up1", server)

	cat := catalog.New()
	require.NoError(t, cat.ReplaceTools("up1", []core.Tool{{Name: "echo"}}))

	src := newFakeSource(reg)
	inst := NewInstance("vmcp1", "127.0.0.1", 0, []string{"up1"}, []core.AggregationRule{{Kind: core.RuleAggregateAll}}, cat, reg, src)
	require.NoError(t, inst.Refresh())

	sess := &clientSession{id: "s1", out: make(chan []byte, 4)}
	msg := &transport.Message{JSONRPC: "2.0", ID: "req-health", Method: "health/check"}

	inst.dispatch(context.Background(), sess, msg)

	resp := readSSEFrame(t, sess.out)
	require.Nil(t, resp.Error)
	require.NotNil(t, resp.Result)

	var result struct {
		Status  core.VirtualServerStatus `json:"status"`
		Sources []core.SourceStatus      `json:"sources"`
	}
	require.NoError(t, json.Unmarshal(resp.Result, &result))
	require.Len(t, result.Sources, 1)
	assert.Equal(t, core.UpstreamOnline, result.Sources[0].Status)
}

func TestInstance_Dispatch_UnknownMethodReturnsMethodNotFound(t *testing.T) {
	t.Parallel()

	cat := catalog.New()
	reg := transport.NewRegistry()
	src := newFakeSource(reg)
	inst := NewInstance("vmcp1", "127.0.0.1", 0, nil, nil, cat, reg, src)

	sess := &clientSession{id: "s1", out: make(chan []byte, 4)}
	msg := &transport.Message{JSONRPC: "2.0", ID: "req-3", Method: "bogus/method"}

	inst.dispatch(context.Background(), sess, msg)

	resp := readSSEFrame(t, sess.out)
	require.NotNil(t, resp.Error)
	assert.Equal(t, transport.CodeMethodNotFound, resp.Error.Code)
}

func TestInstance_StartAndStop_BindsAndReleasesListener(t *testing.T) {
	t.Parallel()

	server := newEchoUpstream(t)
	defer server.Close()
	reg := connectedRegistry(t, "up1", server)

	cat := catalog.New()
	require.NoError(t, cat.ReplaceTools("up1", []core.Tool{{Name: "echo"}}))

	src := newFakeSource(reg)
	inst := NewInstance("vmcp1", "127.0.0.1", 0, []string{"up1"}, []core.AggregationRule{{Kind: core.RuleAggregateAll}}, cat, reg, src)

	require.NoError(t, inst.Start(context.Background()))
	status, _ := inst.Status()
	assert.Equal(t, core.VMCPRunning, status)

	require.NoError(t, inst.Stop(context.Background()))
	status, _ = inst.Status()
	assert.Equal(t, core.VMCPStopped, status)
}
