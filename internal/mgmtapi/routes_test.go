// SPDX-FileCopyrightText: Copyright 2026 Nexus Authors
// SPDX-License-Identifier: Apache-2.0

package mgmtapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avi3tal/nexus-mcp/internal/catalog"
	"github.com/avi3tal/nexus-mcp/internal/core"
	"github.com/avi3tal/nexus-mcp/internal/state"
	"github.com/avi3tal/nexus-mcp/internal/transport"
	"github.com/avi3tal/nexus-mcp/internal/vserver"
)

// newEchoUpstream builds a minimal endpoint-event+message-frame upstream
// that answers tools/list with one "echo" tool and tools/call with
// {"ok":true}.
func newEchoUpstream(t *testing.T) *httptest.Server {
	t.Helper()
	frames := make(chan []byte, 8)
	mux := http.NewServeMux()
	mux.HandleFunc("/sse", func(w http.ResponseWriter, r *http.Request) {
		f := w.(http.Flusher)
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("event: endpoint\ndata: {\"endpoint\":\"/message\",\"sessionId\":\"s1\"}\n\n"))
		f.Flush()
		for {
			select {
			case frame := <-frames:
				_, _ = w.Write(frame)
				f.Flush()
			case <-r.Context().Done():
				return
			}
		}
	})
	mux.HandleFunc("/message", func(w http.ResponseWriter, r *http.Request) {
		var msg transport.Message
		require.NoError(t, json.NewDecoder(r.Body).Decode(&msg))
		w.WriteHeader(http.StatusAccepted)

		var resp *transport.Message
		switch msg.Method {
		case "tools/list":
			resp, _ = transport.NewResult(msg.ID, map[string]any{
				"tools": []core.Tool{{Name: "echo", Source: "up1"}},
			})
		default:
			resp, _ = transport.NewResult(msg.ID, map[string]any{"ok": true})
		}
		body, err := json.Marshal(resp)
		require.NoError(t, err)
		frames <- []byte("event: message\ndata: " + string(body) + "\n\n")
	})
	return httptest.NewServer(mux)
}

func newTestRoutes(t *testing.T) (http.Handler, *state.Store, *vserver.Manager) {
	t.Helper()
	upstream := newEchoUpstream(t)
	t.Cleanup(upstream.Close)

	registry := transport.NewRegistry()
	store := state.NewStore(state.DefaultConfig(), registry)
	require.NoError(t, store.AddUpstream(&core.UpstreamDefinition{Name: "up1", URL: upstream.URL}))
	require.Eventually(t, func() bool { return store.IsConnected("up1") }, time.Second, 5*time.Millisecond)

	cat := catalog.New()
	require.NoError(t, cat.ReplaceTools("up1", []core.Tool{{Name: "echo", Source: "up1"}}))

	manager := vserver.NewManager("127.0.0.1", 9000, cat, registry, store)

	return Router(store, manager, registry), store, manager
}

func doRequest(t *testing.T, handler http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestRouter_ListUpstreams_ReturnsConfiguredSources(t *testing.T) {
	t.Parallel()
	handler, _, _ := newTestRoutes(t)

	rec := doRequest(t, handler, http.MethodGet, "/mcp-servers/", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	var defs []core.UpstreamDefinition
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &defs))
	require.Len(t, defs, 1)
	assert.Equal(t, "up1", defs[0].Name)
	assert.Equal(t, core.UpstreamOnline, defs[0].Status)
}

func TestRouter_GetUpstream_UnknownReturns404(t *testing.T) {
	t.Parallel()
	handler, _, _ := newTestRoutes(t)

	rec := doRequest(t, handler, http.MethodGet, "/mcp-servers/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRouter_SetUpstreamConnection_DisablesSource(t *testing.T) {
	t.Parallel()
	handler, store, _ := newTestRoutes(t)

	rec := doRequest(t, handler, http.MethodPut, "/mcp-servers/up1/connection", connectionRequest{IsDisabled: true})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, store.IsDisabled("up1"))
}

func TestRouter_DeleteUpstream_RemovesSource(t *testing.T) {
	t.Parallel()
	handler, store, _ := newTestRoutes(t)

	rec := doRequest(t, handler, http.MethodDelete, "/mcp-servers/up1", nil)
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.False(t, store.Exists("up1"))
}

func TestRouter_ExecuteUpstreamTool_ProxiesRequest(t *testing.T) {
	t.Parallel()
	handler, _, _ := newTestRoutes(t)

	rec := doRequest(t, handler, http.MethodPost, "/mcp-servers/up1/tools/execute", executeToolRequest{
		ToolName: "echo",
		Params:   json.RawMessage(`{}`),
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "\"ok\":true")
}

func TestRouter_ExecuteUpstreamTool_UnknownSourceReturns404(t *testing.T) {
	t.Parallel()
	handler, _, _ := newTestRoutes(t)

	rec := doRequest(t, handler, http.MethodPost, "/mcp-servers/missing/tools/execute", executeToolRequest{ToolName: "echo"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRouter_CreateAndGetVirtualServer_Lifecycle(t *testing.T) {
	t.Parallel()
	handler, _, _ := newTestRoutes(t)

	createRec := doRequest(t, handler, http.MethodPost, "/vmcps/", core.VirtualServerDefinition{
		Name:             "combined",
		Port:             18085,
		SourceServerIDs:  []string{"up1"},
		AggregationRules: []core.AggregationRule{{Kind: core.RuleAggregateAll}},
	})
	require.Equal(t, http.StatusCreated, createRec.Code)

	var created core.VirtualServerDefinition
	require.NoError(t, json.Unmarshal(createRec.Body.Bytes(), &created))
	require.NotEmpty(t, created.ID)

	getRec := doRequest(t, handler, http.MethodGet, "/vmcps/"+created.ID, nil)
	assert.Equal(t, http.StatusOK, getRec.Code)

	depRec := doRequest(t, handler, http.MethodGet, "/vmcps/"+created.ID+"/dependents", nil)
	assert.Equal(t, http.StatusOK, depRec.Code)
	var dependents []string
	require.NoError(t, json.Unmarshal(depRec.Body.Bytes(), &dependents))
	assert.Equal(t, []string{"up1"}, dependents)

	stopRec := doRequest(t, handler, http.MethodPost, "/vmcps/"+created.ID+"/stop", nil)
	assert.Equal(t, http.StatusOK, stopRec.Code)

	deleteRec := doRequest(t, handler, http.MethodDelete, "/vmcps/"+created.ID, nil)
	assert.Equal(t, http.StatusAccepted, deleteRec.Code)

	missingRec := doRequest(t, handler, http.MethodGet, "/vmcps/"+created.ID, nil)
	assert.Equal(t, http.StatusNotFound, missingRec.Code)
}

func TestRouter_CreateVirtualServer_RejectsUnknownSource(t *testing.T) {
	t.Parallel()
	handler, _, _ := newTestRoutes(t)

	rec := doRequest(t, handler, http.MethodPost, "/vmcps/", core.VirtualServerDefinition{
		Name:             "combined",
		Port:             18086,
		SourceServerIDs:  []string{"missing"},
		AggregationRules: []core.AggregationRule{{Kind: core.RuleAggregateAll}},
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
