// SPDX-FileCopyrightText: Copyright 2026 Nexus Authors
// SPDX-License-Identifier: Apache-2.0

// Package state holds the process-wide record of configured upstreams and
// runtime configuration: a single sync.RWMutex-guarded struct, written by
// the management API on upstream
// create/update/delete and read as point-in-time snapshots everywhere
// else. It also implements the narrow UpstreamSource view vserver needs,
// so the two packages don't import each other.
package state

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"dario.cat/mergo"

	"github.com/avi3tal/nexus-mcp/internal/core"
	"github.com/avi3tal/nexus-mcp/internal/transport"
)

// Config is the process-wide tuning knobs, minus the prepopulated
// upstreams/vmcps lists (those are applied through Store.AddUpstream and
// the vserver Manager directly, not held here as static config).
type Config struct {
	Port            int
	Transport       transport.Config
	RefreshInterval time.Duration
	MaxInstances    int
	PortRangeStart  int
	PortRangeEnd    int
}

// DefaultConfig returns Nexus's built-in defaults (management port 3000,
// refresh interval 300s, transport defaults per transport.DefaultConfig).
func DefaultConfig() Config {
	return Config{
		Port:            3000,
		Transport:       transport.DefaultConfig(),
		RefreshInterval: 300 * time.Second,
	}
}

// Store is the single-writer, many-reader record of upstream definitions
// and runtime config.
type Store struct {
	mu        sync.RWMutex
	config    Config
	upstreams map[string]*core.UpstreamDefinition
	registry  *transport.Registry
}

// NewStore constructs a Store over registry, whose live IsConnected view
// backs upstream status snapshots.
func NewStore(cfg Config, registry *transport.Registry) *Store {
	return &Store{
		config:    cfg,
		upstreams: make(map[string]*core.UpstreamDefinition),
		registry:  registry,
	}
}

// Config returns a snapshot of the current runtime config.
func (s *Store) Config() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.config
}

// MergeEnvOverride merges an MCP_ENV_VARS-style JSON object into the
// runtime config with override semantics, via
// dario.cat/mergo's mergo.WithOverride. A nil/empty envJSON is a no-op.
func (s *Store) MergeEnvOverride(envJSON []byte) error {
	if len(envJSON) == 0 {
		return nil
	}

	var override Config
	if err := json.Unmarshal(envJSON, &override); err != nil {
		return fmt.Errorf("decode MCP_ENV_VARS: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := mergo.Merge(&s.config, override, mergo.WithOverride); err != nil {
		return fmt.Errorf("merge MCP_ENV_VARS: %w", err)
	}
	return nil
}

// AddUpstream validates and stores def, then connects its transport
// through the registry unless def.IsDisabled. A duplicate name is an
// error; callers must RemoveUpstream first.
func (s *Store) AddUpstream(def *core.UpstreamDefinition) error {
	if def.Name == "" {
		return fmt.Errorf("%w: upstream name is required", core.ErrInvalidMessage)
	}
	if def.URL == "" {
		return fmt.Errorf("%w: upstream url is required", core.ErrInvalidMessage)
	}

	s.mu.Lock()
	if _, exists := s.upstreams[def.Name]; exists {
		s.mu.Unlock()
		return fmt.Errorf("upstream %q already exists", def.Name)
	}
	def.LastSeen = time.Now()
	s.upstreams[def.Name] = def
	cfg := s.config.Transport
	s.mu.Unlock()

	if def.Auth != nil {
		cfg.AuthToken = def.Auth.BearerToken
	}
	if err := s.registry.Add(def.Name, def.URL, cfg); err != nil {
		return err
	}
	if def.IsDisabled {
		return nil
	}
	return s.registry.Connect(context.Background(), def.Name)
}

// RemoveUpstream removes def's transport from the registry and forgets
// its definition.
func (s *Store) RemoveUpstream(name string) error {
	s.mu.Lock()
	if _, exists := s.upstreams[name]; !exists {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", core.ErrServerNotFound, name)
	}
	delete(s.upstreams, name)
	s.mu.Unlock()

	if err := s.registry.Remove(name); err != nil {
		return fmt.Errorf("%w: %s", core.ErrServerNotFound, name)
	}
	return nil
}

// SetConnection implements the management API's `PUT /connection
// {isDisabled}`: toggling a source disabled disconnects (but keeps) its
// transport entry; toggling it enabled reconnects it.
func (s *Store) SetConnection(name string, isDisabled bool) error {
	s.mu.Lock()
	def, exists := s.upstreams[name]
	if !exists {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", core.ErrServerNotFound, name)
	}
	def.IsDisabled = isDisabled
	def.LastSeen = time.Now()
	s.mu.Unlock()

	if isDisabled {
		return s.registry.Disconnect(name)
	}
	return s.registry.Connect(context.Background(), name)
}

// GetUpstream returns a snapshot of name's definition, with Status
// computed live from the registry.
func (s *Store) GetUpstream(name string) (*core.UpstreamDefinition, error) {
	s.mu.RLock()
	def, exists := s.upstreams[name]
	s.mu.RUnlock()
	if !exists {
		return nil, fmt.Errorf("%w: %s", core.ErrServerNotFound, name)
	}
	return s.snapshot(def), nil
}

// ListUpstreams returns a snapshot of every configured upstream, sorted by
// name.
func (s *Store) ListUpstreams() []*core.UpstreamDefinition {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.upstreams))
	for name := range s.upstreams {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]*core.UpstreamDefinition, 0, len(names))
	for _, name := range names {
		out = append(out, s.snapshot(s.upstreams[name]))
	}
	return out
}

func (s *Store) snapshot(def *core.UpstreamDefinition) *core.UpstreamDefinition {
	cp := *def
	switch {
	case cp.IsDisabled:
		cp.Status = core.UpstreamOffline
	case s.registry.IsConnected(cp.Name):
		cp.Status = core.UpstreamOnline
	default:
		cp.Status = core.UpstreamError
	}
	return &cp
}

// Exists reports whether name is a configured upstream, implementing
// vserver.UpstreamSource.
func (s *Store) Exists(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.upstreams[name]
	return ok
}

// IsDisabled reports whether name is currently disabled, implementing
// vserver.UpstreamSource. An unknown name reports disabled (never
// reachable), which is the safe default for a name that has since been
// removed out from under a running virtual server.
func (s *Store) IsDisabled(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	def, ok := s.upstreams[name]
	if !ok {
		return true
	}
	return def.IsDisabled
}

// IsConnected reports whether name's transport is currently open,
// implementing vserver.UpstreamSource.
func (s *Store) IsConnected(name string) bool {
	return s.registry.IsConnected(name)
}
