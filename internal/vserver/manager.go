// SPDX-FileCopyrightText: Copyright 2026 Nexus Authors
// SPDX-License-Identifier: Apache-2.0

package vserver

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/avi3tal/nexus-mcp/internal/catalog"
	"github.com/avi3tal/nexus-mcp/internal/core"
	"github.com/avi3tal/nexus-mcp/internal/logger"
	"github.com/avi3tal/nexus-mcp/internal/transport"
)

// Manager owns the set of configured virtual server definitions and their
// running (or stopped) Instances. Definitions are in-memory only —
// restarting Nexus loses the ones created at runtime; only those listed
// in the configuration file are added again at startup.
type Manager struct {
	host     string
	mgmtPort int
	catalog  *catalog.Catalog
	registry *transport.Registry
	source   UpstreamSource

	mu        sync.RWMutex
	defs      map[string]*core.VirtualServerDefinition
	instances map[string]*Instance
	locks     map[string]*sync.Mutex

	maxInstances   int
	portRangeStart int
	portRangeEnd   int
}

// NewManager constructs a Manager. host is the bind address every virtual
// server listens on; mgmtPort is reserved for the management API so a new
// virtual server can never collide with it.
func NewManager(host string, mgmtPort int, cat *catalog.Catalog, registry *transport.Registry, source UpstreamSource) *Manager {
	return &Manager{
		host:      host,
		mgmtPort:  mgmtPort,
		catalog:   cat,
		registry:  registry,
		source:    source,
		defs:      make(map[string]*core.VirtualServerDefinition),
		instances: make(map[string]*Instance),
		locks:     make(map[string]*sync.Mutex),
	}
}

// SetLimits configures the optional operational ceilings from the
// "vmcp: maxInstances, portRange{start,end}" config block: maxInstances
// caps how many virtual server definitions Add will accept (0 means
// unlimited), and portRangeStart/End bound the ports Add will accept for
// a new definition (both 0 means unbounded). Call before the first Add;
// it is not safe to tighten limits on a Manager with existing
// definitions that would now violate them.
func (m *Manager) SetLimits(maxInstances, portRangeStart, portRangeEnd int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.maxInstances = maxInstances
	m.portRangeStart = portRangeStart
	m.portRangeEnd = portRangeEnd
}

// Add validates and stores def, assigning an id and timestamps if unset,
// then starts it (auto-start-on-add). A start failure is
// returned to the caller, but the definition and its (now errored)
// instance remain registered so the management API can still report why.
func (m *Manager) Add(def *core.VirtualServerDefinition) (*core.VirtualServerDefinition, error) {
	if err := m.validate(def); err != nil {
		return nil, err
	}

	if def.ID == "" {
		def.ID = uuid.NewString()
	}
	now := time.Now()
	def.CreatedAt, def.UpdatedAt = now, now
	def.Status = core.VMCPStopped

	inst := NewInstance(def.ID, m.host, def.Port, def.SourceServerIDs, def.AggregationRules, m.catalog, m.registry, m.source)

	m.mu.Lock()
	m.defs[def.ID] = def
	m.instances[def.ID] = inst
	m.locks[def.ID] = &sync.Mutex{}
	m.mu.Unlock()

	startErr := m.Start(context.Background(), def.ID)
	return def, startErr
}

func (m *Manager) validate(def *core.VirtualServerDefinition) error {
	if def.Name == "" {
		return fmt.Errorf("%w: virtual server name is required", core.ErrInvalidMessage)
	}
	if def.Port <= 0 {
		return fmt.Errorf("%w: virtual server port must be positive", core.ErrPortUnavailable)
	}
	if def.Port == m.mgmtPort {
		return fmt.Errorf("%w: port %d is reserved for the management API", core.ErrPortUnavailable, def.Port)
	}
	if len(def.SourceServerIDs) == 0 {
		return fmt.Errorf("%w: at least one source server is required", core.ErrInvalidMessage)
	}
	if len(def.AggregationRules) == 0 {
		return fmt.Errorf("%w: at least one aggregation rule is required", core.ErrInvalidMessage)
	}
	for _, src := range def.SourceServerIDs {
		if !m.source.Exists(src) {
			return fmt.Errorf("%w: %s", core.ErrUnknownSource, src)
		}
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.portRangeStart > 0 && m.portRangeEnd > 0 && (def.Port < m.portRangeStart || def.Port > m.portRangeEnd) {
		return fmt.Errorf("%w: port %d is outside the configured range %d-%d",
			core.ErrPortUnavailable, def.Port, m.portRangeStart, m.portRangeEnd)
	}

	if m.maxInstances > 0 {
		existingCount := len(m.defs)
		if _, isUpdate := m.defs[def.ID]; !isUpdate && existingCount >= m.maxInstances {
			return fmt.Errorf("%w: at most %d virtual servers may be defined", core.ErrInvalidMessage, m.maxInstances)
		}
	}

	for id, existing := range m.defs {
		if id == def.ID {
			continue
		}
		if existing.Port == def.Port {
			return fmt.Errorf("%w: port %d already used by virtual server %q", core.ErrPortUnavailable, def.Port, existing.Name)
		}
	}
	return nil
}

// Get returns a snapshot of the definition for id, refreshed with its
// instance's live status.
func (m *Manager) Get(id string) (*core.VirtualServerDefinition, error) {
	m.mu.RLock()
	def, ok := m.defs[id]
	inst := m.instances[id]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: virtual server %s", core.ErrServerNotFound, id)
	}
	return m.snapshot(def, inst), nil
}

// List returns a snapshot of every configured virtual server definition.
func (m *Manager) List() []*core.VirtualServerDefinition {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*core.VirtualServerDefinition, 0, len(m.defs))
	for id, def := range m.defs {
		out = append(out, m.snapshot(def, m.instances[id]))
	}
	return out
}

func (m *Manager) snapshot(def *core.VirtualServerDefinition, inst *Instance) *core.VirtualServerDefinition {
	cp := *def
	if inst != nil {
		cp.Status, cp.UnderlyingServersStatus = inst.Status()
	}
	return &cp
}

// Dependents returns the ids of every virtual server definition that
// references source among its SourceServerIDs, used by
// RefreshAllDependents.
func (m *Manager) Dependents(source string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var ids []string
	for id, def := range m.defs {
		for _, s := range def.SourceServerIDs {
			if s == source {
				ids = append(ids, id)
				break
			}
		}
	}
	return ids
}

// Start starts (or restarts) the instance for id, serialized against any
// concurrent Start/Stop/RefreshCapabilities for the same id.
func (m *Manager) Start(ctx context.Context, id string) error {
	lock, inst, def, err := m.lookup(id)
	if err != nil {
		return err
	}

	lock.Lock()
	defer lock.Unlock()

	err = inst.Start(ctx)

	m.mu.Lock()
	def.UpdatedAt = time.Now()
	def.Status, def.UnderlyingServersStatus = inst.Status()
	m.mu.Unlock()

	if err != nil {
		logger.Warnf("virtual server %s: start failed: %v", id, err)
	}
	return err
}

// Stop stops the instance for id.
func (m *Manager) Stop(ctx context.Context, id string) error {
	lock, inst, def, err := m.lookup(id)
	if err != nil {
		return err
	}

	lock.Lock()
	defer lock.Unlock()

	err = inst.Stop(ctx)

	m.mu.Lock()
	def.UpdatedAt = time.Now()
	def.Status, def.UnderlyingServersStatus = inst.Status()
	m.mu.Unlock()

	return err
}

// Remove stops and deletes the virtual server definition for id.
func (m *Manager) Remove(ctx context.Context, id string) error {
	lock, inst, _, err := m.lookup(id)
	if err != nil {
		return err
	}

	lock.Lock()
	_ = inst.Stop(ctx)
	lock.Unlock()

	m.mu.Lock()
	delete(m.defs, id)
	delete(m.instances, id)
	delete(m.locks, id)
	m.mu.Unlock()
	return nil
}

// RefreshCapabilities recomputes id's aggregated view and status from the
// current catalog contents and source states, without touching its HTTP
// listener. RefreshAllDependents calls it for every virtual server that
// uses an upstream the management API has just changed.
func (m *Manager) RefreshCapabilities(id string) error {
	lock, inst, def, err := m.lookup(id)
	if err != nil {
		return err
	}

	lock.Lock()
	defer lock.Unlock()

	refreshErr := inst.Refresh()

	m.mu.Lock()
	def.UpdatedAt = time.Now()
	def.Status, def.UnderlyingServersStatus = inst.Status()
	m.mu.Unlock()

	return refreshErr
}

// Capabilities returns id's currently aggregated capability view.
func (m *Manager) Capabilities(id string) (*core.AggregatedView, error) {
	_, inst, _, err := m.lookup(id)
	if err != nil {
		return nil, err
	}
	return inst.View(), nil
}

// RefreshAllDependents calls RefreshCapabilities on every virtual server
// that depends on source, used by the management API after it deletes
// source, changes its connection state, or handles its capabilities
// refresh request.
func (m *Manager) RefreshAllDependents(source string) {
	for _, id := range m.Dependents(source) {
		if err := m.RefreshCapabilities(id); err != nil {
			logger.Warnf("virtual server %s: refresh after change to %s: %v", id, source, err)
		}
	}
}

// StopAll stops every running instance, used on process shutdown.
func (m *Manager) StopAll(ctx context.Context) {
	m.mu.RLock()
	ids := make([]string, 0, len(m.instances))
	for id := range m.instances {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	for _, id := range ids {
		if err := m.Stop(ctx, id); err != nil {
			logger.Warnf("virtual server %s: stop during shutdown: %v", id, err)
		}
	}
}

func (m *Manager) lookup(id string) (*sync.Mutex, *Instance, *core.VirtualServerDefinition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	lock, ok := m.locks[id]
	if !ok {
		return nil, nil, nil, fmt.Errorf("%w: virtual server %s", core.ErrServerNotFound, id)
	}
	return lock, m.instances[id], m.defs[id], nil
}
