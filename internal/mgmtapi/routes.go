// SPDX-FileCopyrightText: Copyright 2026 Nexus Authors
// SPDX-License-Identifier: Apache-2.0

// Package mgmtapi implements Nexus's management REST API: upstream CRUD
// plus connection toggling, virtual-server CRUD plus lifecycle and
// capability inspection, and the tool-execution passthrough.
// It is a thin chi-mounted HTTP layer over internal/state and
// internal/vserver; every handler decodes/encodes JSON and delegates.
package mgmtapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/avi3tal/nexus-mcp/internal/core"
	"github.com/avi3tal/nexus-mcp/internal/logger"
	"github.com/avi3tal/nexus-mcp/internal/state"
	"github.com/avi3tal/nexus-mcp/internal/transport"
	"github.com/avi3tal/nexus-mcp/internal/vserver"
)

// Routes holds the dependencies every handler needs.
type Routes struct {
	store    *state.Store
	manager  *vserver.Manager
	registry *transport.Registry
}

// Router builds the management API's chi.Router, mounted at the root of
// the management HTTP listener.
func Router(store *state.Store, manager *vserver.Manager, registry *transport.Registry) http.Handler {
	routes := &Routes{store: store, manager: manager, registry: registry}

	r := chi.NewRouter()

	r.Route("/mcp-servers", func(r chi.Router) {
		r.Get("/", routes.listUpstreams)
		r.Post("/", routes.createUpstream)
		r.Get("/{name}", routes.getUpstream)
		r.Delete("/{name}", routes.deleteUpstream)
		r.Put("/{name}/connection", routes.setUpstreamConnection)
		r.Get("/{name}/capabilities", routes.upstreamCapabilities)
		r.Post("/{name}/capabilities/refresh", routes.refreshUpstreamCapabilities)
		r.Post("/{name}/capabilities/test", routes.testUpstreamCapability)
		r.Post("/{name}/tools/execute", routes.executeUpstreamTool)
	})

	r.Route("/vmcps", func(r chi.Router) {
		r.Get("/", routes.listVirtualServers)
		r.Post("/", routes.createVirtualServer)
		r.Get("/{id}", routes.getVirtualServer)
		r.Delete("/{id}", routes.deleteVirtualServer)
		r.Post("/{id}/start", routes.startVirtualServer)
		r.Post("/{id}/stop", routes.stopVirtualServer)
		r.Get("/{id}/health", routes.virtualServerHealth)
		r.Get("/{id}/capabilities", routes.virtualServerCapabilities)
		r.Get("/{id}/dependents", routes.virtualServerDependents)
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Errorf("encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, core.ErrServerNotFound), errors.Is(err, core.ErrUnknownSource):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, core.ErrInvalidMessage), errors.Is(err, core.ErrPortUnavailable),
		errors.Is(err, core.ErrCapabilityUnmapped):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, core.ErrUpstreamUnavailable), errors.Is(err, core.ErrInstanceNotRunning):
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
	default:
		logger.Errorf("management API request failed: %v", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

// --- Upstream CRUD -----------------------------------------------------

func (rt *Routes) listUpstreams(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, rt.store.ListUpstreams())
}

func (rt *Routes) getUpstream(w http.ResponseWriter, r *http.Request) {
	def, err := rt.store.GetUpstream(chi.URLParam(r, "name"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, def)
}

func (rt *Routes) createUpstream(w http.ResponseWriter, r *http.Request) {
	var def core.UpstreamDefinition
	if err := json.NewDecoder(r.Body).Decode(&def); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := rt.store.AddUpstream(&def); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, &def)
}

func (rt *Routes) deleteUpstream(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := rt.store.RemoveUpstream(name); err != nil {
		writeError(w, err)
		return
	}
	rt.manager.RefreshAllDependents(name)
	writeJSON(w, http.StatusAccepted, nil)
}

type connectionRequest struct {
	IsDisabled bool `json:"isDisabled"`
}

func (rt *Routes) setUpstreamConnection(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	var req connectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := rt.store.SetConnection(name, req.IsDisabled); err != nil {
		writeError(w, err)
		return
	}
	rt.manager.RefreshAllDependents(name)
	def, err := rt.store.GetUpstream(name)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, def)
}

// --- Upstream capability inspection & tool execution passthrough -------

func (rt *Routes) upstreamCapabilities(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if !rt.store.Exists(name) {
		writeError(w, core.ErrUnknownSource)
		return
	}
	if !rt.registry.IsConnected(name) {
		writeError(w, core.ErrUpstreamUnavailable)
		return
	}
	rt.forwardRPC(r.Context(), w, name, "tools/list", json.RawMessage(`{}`))
}

func (rt *Routes) refreshUpstreamCapability(w http.ResponseWriter, name string) bool {
	if !rt.store.Exists(name) {
		writeError(w, core.ErrUnknownSource)
		return false
	}
	return true
}

func (rt *Routes) refreshUpstreamCapabilities(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if !rt.refreshUpstreamCapability(w, name) {
		return
	}
	rt.manager.RefreshAllDependents(name)
	writeJSON(w, http.StatusAccepted, nil)
}

type testCapabilityRequest struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

func (rt *Routes) testUpstreamCapability(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if !rt.refreshUpstreamCapability(w, name) {
		return
	}
	var req testCapabilityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	params, err := json.Marshal(map[string]any{"name": req.Name, "arguments": req.Arguments})
	if err != nil {
		http.Error(w, "invalid arguments", http.StatusBadRequest)
		return
	}
	rt.forwardRPC(r.Context(), w, name, "tools/call", params)
}

type executeToolRequest struct {
	ToolName string          `json:"toolName"`
	Params   json.RawMessage `json:"params"`
}

func (rt *Routes) executeUpstreamTool(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if !rt.refreshUpstreamCapability(w, name) {
		return
	}
	var req executeToolRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	params, err := json.Marshal(map[string]any{"name": req.ToolName, "arguments": req.Params})
	if err != nil {
		http.Error(w, "invalid params", http.StatusBadRequest)
		return
	}
	rt.forwardRPC(r.Context(), w, name, "tools/call", params)
}

func (rt *Routes) forwardRPC(ctx context.Context, w http.ResponseWriter, source, method string, params json.RawMessage) {
	req, err := transport.NewRequest(uuid.NewString(), method, params)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	resp, err := rt.registry.Request(ctx, source, req)
	if resp != nil && resp.Error != nil {
		writeJSON(w, http.StatusBadGateway, resp.Error)
		return
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp.Result)
}

// --- Virtual server CRUD & lifecycle -----------------------------------

func (rt *Routes) listVirtualServers(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, rt.manager.List())
}

func (rt *Routes) getVirtualServer(w http.ResponseWriter, r *http.Request) {
	def, err := rt.manager.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, def)
}

func (rt *Routes) createVirtualServer(w http.ResponseWriter, r *http.Request) {
	var def core.VirtualServerDefinition
	if err := json.NewDecoder(r.Body).Decode(&def); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	created, err := rt.manager.Add(&def)
	if err != nil && created == nil {
		writeError(w, err)
		return
	}
	// created is non-nil even when its auto-start failed; the caller can
	// see the failure reflected in created.Status/UnderlyingServersStatus.
	writeJSON(w, http.StatusCreated, created)
}

func (rt *Routes) deleteVirtualServer(w http.ResponseWriter, r *http.Request) {
	if err := rt.manager.Remove(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, nil)
}

func (rt *Routes) startVirtualServer(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := rt.manager.Start(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	def, err := rt.manager.Get(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, def)
}

func (rt *Routes) stopVirtualServer(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := rt.manager.Stop(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	def, err := rt.manager.Get(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, def)
}

func (rt *Routes) virtualServerHealth(w http.ResponseWriter, r *http.Request) {
	def, err := rt.manager.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  def.Status,
		"sources": def.UnderlyingServersStatus,
	})
}

func (rt *Routes) virtualServerCapabilities(w http.ResponseWriter, r *http.Request) {
	view, err := rt.manager.Capabilities(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (rt *Routes) virtualServerDependents(w http.ResponseWriter, r *http.Request) {
	def, err := rt.manager.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, def.SourceServerIDs)
}
