// SPDX-FileCopyrightText: Copyright 2026 Nexus Authors
// SPDX-License-Identifier: Apache-2.0

// Package discovery issues the tools/list, prompts/list, and
// resources/list calls against a single upstream and installs the
// results into the catalog. It also runs the background refresh
// scheduler that keeps every upstream's catalog entries current.
package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/tidwall/gjson"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/avi3tal/nexus-mcp/internal/catalog"
	"github.com/avi3tal/nexus-mcp/internal/core"
	"github.com/avi3tal/nexus-mcp/internal/logger"
	"github.com/avi3tal/nexus-mcp/internal/metrics"
	"github.com/avi3tal/nexus-mcp/internal/transport"
)

// Requester is the subset of transport.Registry Discoverer needs, kept
// narrow so tests can supply a fake without standing up real transports.
type Requester interface {
	Request(ctx context.Context, name string, msg *transport.Message) (*transport.Message, error)
}

// Discoverer runs capability discovery against registered upstreams and
// keeps a Catalog current, collapsing concurrent discover calls for the
// same upstream into one via singleflight.
type Discoverer struct {
	requester Requester
	catalog   *catalog.Catalog

	sf singleflight.Group
}

// New constructs a Discoverer over requester and catalog.
func New(requester Requester, cat *catalog.Catalog) *Discoverer {
	return &Discoverer{requester: requester, catalog: cat}
}

// Discover issues tools/list, prompts/list, and resources/list against
// upstream in parallel and replaces the catalog's entries for it. A
// partial failure (one list call failing) still installs whatever
// succeeded and returns a kind-specific error; a caller that only cares
// about overall success should check for nil.
func (d *Discoverer) Discover(ctx context.Context, upstream string) error {
	_, err, _ := d.sf.Do(upstream, func() (any, error) {
		return nil, d.discoverOnce(ctx, upstream)
	})
	return err
}

func (d *Discoverer) discoverOnce(ctx context.Context, upstream string) error {
	g, gCtx := errgroup.WithContext(ctx)

	var tools []core.Tool
	var prompts []core.Prompt
	var resources []core.Resource
	var toolsErr, promptsErr, resourcesErr error

	g.Go(func() error {
		tools, toolsErr = d.listTools(gCtx, upstream)
		if toolsErr != nil {
			metrics.DiscoveryFailures.WithLabelValues(upstream, "tool").Inc()
		}
		return nil // partial failures don't cancel sibling list calls
	})
	g.Go(func() error {
		prompts, promptsErr = d.listPrompts(gCtx, upstream)
		if promptsErr != nil {
			metrics.DiscoveryFailures.WithLabelValues(upstream, "prompt").Inc()
		}
		return nil
	})
	g.Go(func() error {
		resources, resourcesErr = d.listResources(gCtx, upstream)
		if resourcesErr != nil {
			metrics.DiscoveryFailures.WithLabelValues(upstream, "resource").Inc()
		}
		return nil
	})

	_ = g.Wait() // never returns an error itself; see above

	if toolsErr == nil {
		if err := d.catalog.ReplaceTools(upstream, tools); err != nil {
			toolsErr = err
		}
	}
	if promptsErr == nil {
		if err := d.catalog.ReplacePrompts(upstream, prompts); err != nil {
			promptsErr = err
		}
	}
	if resourcesErr == nil {
		if err := d.catalog.ReplaceResources(upstream, resources); err != nil {
			resourcesErr = err
		}
	}

	switch {
	case toolsErr != nil && promptsErr != nil && resourcesErr != nil:
		return fmt.Errorf("%w: %s: tools: %v, prompts: %v, resources: %v",
			core.ErrDiscoveryFailed, upstream, toolsErr, promptsErr, resourcesErr)
	case toolsErr != nil:
		logger.Warnf("discovery %s: tools/list failed: %v", upstream, toolsErr)
		return fmt.Errorf("%w: %s: %v", core.ErrToolsDiscoveryFailed, upstream, toolsErr)
	case promptsErr != nil:
		logger.Warnf("discovery %s: prompts/list failed: %v", upstream, promptsErr)
		return fmt.Errorf("%w: %s: %v", core.ErrPromptsDiscoveryFailed, upstream, promptsErr)
	case resourcesErr != nil:
		logger.Warnf("discovery %s: resources/list failed: %v", upstream, resourcesErr)
		return fmt.Errorf("%w: %s: %v", core.ErrResourcesDiscoveryFailed, upstream, resourcesErr)
	}

	logger.Infof("discovery %s: %d tools, %d prompts, %d resources", upstream, len(tools), len(prompts), len(resources))
	return nil
}

func (d *Discoverer) listTools(ctx context.Context, upstream string) ([]core.Tool, error) {
	raw, err := d.list(ctx, upstream, "tools/list")
	if err != nil {
		return nil, err
	}
	if !gjson.GetBytes(raw, "tools").IsArray() {
		return nil, fmt.Errorf("%w: tools/list result missing \"tools\" array", core.ErrInvalidMessage)
	}

	var payload struct {
		Tools []core.Tool `json:"tools"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("decode tools/list result: %w", err)
	}
	return payload.Tools, nil
}

func (d *Discoverer) listPrompts(ctx context.Context, upstream string) ([]core.Prompt, error) {
	raw, err := d.list(ctx, upstream, "prompts/list")
	if err != nil {
		return nil, err
	}
	if !gjson.GetBytes(raw, "prompts").IsArray() {
		return nil, fmt.Errorf("%w: prompts/list result missing \"prompts\" array", core.ErrInvalidMessage)
	}

	var payload struct {
		Prompts []core.Prompt `json:"prompts"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("decode prompts/list result: %w", err)
	}
	return payload.Prompts, nil
}

func (d *Discoverer) listResources(ctx context.Context, upstream string) ([]core.Resource, error) {
	raw, err := d.list(ctx, upstream, "resources/list")
	if err != nil {
		return nil, err
	}
	if !gjson.GetBytes(raw, "resources").IsArray() {
		return nil, fmt.Errorf("%w: resources/list result missing \"resources\" array", core.ErrInvalidMessage)
	}

	var payload struct {
		Resources []core.Resource `json:"resources"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("decode resources/list result: %w", err)
	}
	return payload.Resources, nil
}

func (d *Discoverer) list(ctx context.Context, upstream, method string) (json.RawMessage, error) {
	req, err := transport.NewRequest(requestID(), method, map[string]string{})
	if err != nil {
		return nil, err
	}
	resp, err := d.requester.Request(ctx, upstream, req)
	if err != nil {
		return nil, err
	}
	return resp.Result, nil
}

var requestIDSeq struct {
	mu sync.Mutex
	n  uint64
}

// requestID generates a locally-unique id for outbound list calls from a
// monotonic counter ("discover-1", "discover-2", ...); vserver and mgmtapi
// use uuid for their own request ids.
func requestID() string {
	requestIDSeq.mu.Lock()
	defer requestIDSeq.mu.Unlock()
	requestIDSeq.n++
	return fmt.Sprintf("discover-%d", requestIDSeq.n)
}

// Scheduler runs a periodic background refresh per upstream.
type Scheduler struct {
	discoverer *Discoverer
	interval   time.Duration

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
	wg      sync.WaitGroup
}

// NewScheduler constructs a Scheduler that refreshes every registered
// upstream every interval.
func NewScheduler(d *Discoverer, interval time.Duration) *Scheduler {
	return &Scheduler{
		discoverer: d,
		interval:   interval,
		cancels:    make(map[string]context.CancelFunc),
	}
}

// Add runs an immediate discovery for upstream, then starts its periodic
// refresh loop. A no-op if already scheduled. The initial discovery runs
// synchronously so that callers relying on a populated catalog right
// after Add returns (auto-starting a vMCP at boot, for instance) don't
// have to wait out a full interval first.
func (s *Scheduler) Add(upstream string) {
	s.mu.Lock()
	if _, exists := s.cancels[upstream]; exists {
		s.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancels[upstream] = cancel
	s.mu.Unlock()

	if err := s.discoverer.Discover(ctx, upstream); err != nil {
		logger.Warnf("initial discovery of %s failed: %v", upstream, err)
	}

	s.wg.Add(1)
	go s.run(ctx, upstream)
}

// Remove stops the periodic refresh loop for upstream, if any.
func (s *Scheduler) Remove(upstream string) {
	s.mu.Lock()
	cancel, exists := s.cancels[upstream]
	if exists {
		delete(s.cancels, upstream)
	}
	s.mu.Unlock()

	if exists {
		cancel()
	}
}

// RefreshNow triggers an immediate out-of-band discovery for upstream,
// collapsing with any concurrently-running scheduled tick via the
// Discoverer's singleflight group.
func (s *Scheduler) RefreshNow(ctx context.Context, upstream string) error {
	return s.discoverer.Discover(ctx, upstream)
}

// Stop cancels every scheduled refresh loop and waits for them to exit.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancels := s.cancels
	s.cancels = make(map[string]context.CancelFunc)
	s.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
	s.wg.Wait()
}

func (s *Scheduler) run(ctx context.Context, upstream string) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.discoverer.Discover(ctx, upstream); err != nil {
				logger.Warnf("scheduled refresh of %s failed: %v", upstream, err)
			}
		}
	}
}
