// SPDX-FileCopyrightText: Copyright 2026 Nexus Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/avi3tal/nexus-mcp/internal/core"
)

// Registry is the named collection of Transports: one entry per
// configured upstream, with per-name serialization of connect/disconnect
// and auto-removal on terminal close.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*registryEntry

	// newTransport is overridable in tests to avoid real network I/O.
	newTransport func(name, baseURL string, cfg Config) Transport
}

type registryEntry struct {
	mu        sync.Mutex // serializes connect/disconnect for this one upstream
	transport Transport
	baseURL   string
	cfg       Config
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		entries:      make(map[string]*registryEntry),
		newTransport: New,
	}
}

// Add registers name with baseURL and cfg but does not connect it. It is
// an error to add a name that already exists; callers must Remove first.
func (r *Registry) Add(name, baseURL string, cfg Config) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[name]; exists {
		return fmt.Errorf("transport %q already registered", name)
	}

	entry := &registryEntry{baseURL: baseURL, cfg: cfg}
	entry.transport = r.newTransport(name, baseURL, cfg)
	entry.transport.OnClose(func() {
		r.onTerminalClose(name)
	})
	r.entries[name] = entry
	return nil
}

// onTerminalClose auto-removes an entry whose transport fired OnClose.
// A close caused by the transport's own internal reconnection
// machinery never fires OnClose (see transport.go's reconnectLoop, which
// only calls fireClose after exhausting retries), so this only runs for
// genuinely final closes.
func (r *Registry) onTerminalClose(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, name)
}

// Connect starts (or, if already open, no-ops) the named transport.
func (r *Registry) Connect(ctx context.Context, name string) error {
	entry, err := r.lookup(name)
	if err != nil {
		return err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	return entry.transport.Start(ctx)
}

// Disconnect closes the named transport. The entry remains registered
// (callers that want it gone entirely should follow with Remove) so that
// configuration (baseURL, auth) survives a manual disconnect/reconnect
// cycle.
func (r *Registry) Disconnect(name string) error {
	entry, err := r.lookup(name)
	if err != nil {
		return err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	err = entry.transport.Close()

	// Close fires OnClose, which onTerminalClose answers by deleting the
	// entry; put it back so the configuration survives.
	r.mu.Lock()
	if _, ok := r.entries[name]; !ok {
		r.entries[name] = entry
	}
	r.mu.Unlock()
	return err
}

// Remove disconnects (if connected) and deletes the named entry.
func (r *Registry) Remove(name string) error {
	entry, err := r.lookup(name)
	if err != nil {
		return err
	}
	entry.mu.Lock()
	_ = entry.transport.Close()
	entry.mu.Unlock()

	r.mu.Lock()
	delete(r.entries, name)
	r.mu.Unlock()
	return nil
}

// Get returns the Transport registered under name.
func (r *Registry) Get(name string) (Transport, error) {
	entry, err := r.lookup(name)
	if err != nil {
		return nil, err
	}
	return entry.transport, nil
}

// IsConnected reports whether the named transport is currently open.
func (r *Registry) IsConnected(name string) bool {
	entry, err := r.lookup(name)
	if err != nil {
		return false
	}
	return entry.transport.IsConnected()
}

// Request proxies to the named transport's Request, wrapping "not
// registered" as core.ErrUnknownSource so callers (discovery, vserver,
// mgmtapi) can match it uniformly.
func (r *Registry) Request(ctx context.Context, name string, msg *Message) (*Message, error) {
	entry, err := r.lookup(name)
	if err != nil {
		return nil, err
	}
	return entry.transport.Request(ctx, msg)
}

// Send proxies to the named transport's Send.
func (r *Registry) Send(ctx context.Context, name string, msg *Message) error {
	entry, err := r.lookup(name)
	if err != nil {
		return err
	}
	return entry.transport.Send(ctx, msg)
}

// List returns the names of all registered upstreams in sorted order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *Registry) lookup(name string) (*registryEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.entries[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", core.ErrUnknownSource, name)
	}
	return entry, nil
}
