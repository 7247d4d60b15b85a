// SPDX-FileCopyrightText: Copyright 2026 Nexus Authors
// SPDX-License-Identifier: Apache-2.0

// Package catalog holds the per-source capability tables (tools, prompts,
// resources) that discovery populates and the aggregator reads.
package catalog

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/xeipuuv/gojsonschema"

	"github.com/avi3tal/nexus-mcp/internal/core"
)

// Catalog indexes tools, prompts, and resources by source upstream name.
// A single Catalog instance backs the whole process; discovery replaces
// one source's slice wholesale on each successful refresh rather than
// merging into what's already there.
type Catalog struct {
	mu        sync.RWMutex
	tools     map[string][]core.Tool
	prompts   map[string][]core.Prompt
	resources map[string][]core.Resource
}

// New constructs an empty Catalog.
func New() *Catalog {
	return &Catalog{
		tools:     make(map[string][]core.Tool),
		prompts:   make(map[string][]core.Prompt),
		resources: make(map[string][]core.Resource),
	}
}

// ReplaceTools validates and installs the full tool set for source,
// discarding whatever was previously registered for it.
func (c *Catalog) ReplaceTools(source string, tools []core.Tool) error {
	validated := make([]core.Tool, 0, len(tools))
	for _, t := range tools {
		t.Source = source
		if err := validateTool(t); err != nil {
			return fmt.Errorf("%w: source %s, tool %q: %v", core.ErrInvalidTool, source, t.Name, err)
		}
		validated = append(validated, t)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.tools[source] = validated
	return nil
}

// ReplacePrompts validates and installs the full prompt set for source.
func (c *Catalog) ReplacePrompts(source string, prompts []core.Prompt) error {
	validated := make([]core.Prompt, 0, len(prompts))
	for _, p := range prompts {
		p.Source = source
		if err := validatePrompt(p); err != nil {
			return fmt.Errorf("%w: source %s, prompt %q: %v", core.ErrInvalidPrompt, source, p.Name, err)
		}
		validated = append(validated, p)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.prompts[source] = validated
	return nil
}

// ReplaceResources validates and installs the full resource set for source.
func (c *Catalog) ReplaceResources(source string, resources []core.Resource) error {
	validated := make([]core.Resource, 0, len(resources))
	for _, r := range resources {
		r.Source = source
		if err := validateResource(r); err != nil {
			return fmt.Errorf("%w: source %s, resource %q: %v", core.ErrInvalidResource, source, r.URI, err)
		}
		validated = append(validated, r)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.resources[source] = validated
	return nil
}

// RemoveSource clears every capability registered for source, per an
// upstream's removal or disablement.
func (c *Catalog) RemoveSource(source string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.tools, source)
	delete(c.prompts, source)
	delete(c.resources, source)
}

// ToolsForSource returns a copy of source's currently registered tools.
func (c *Catalog) ToolsForSource(source string) []core.Tool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]core.Tool(nil), c.tools[source]...)
}

// PromptsForSource returns a copy of source's currently registered prompts.
func (c *Catalog) PromptsForSource(source string) []core.Prompt {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]core.Prompt(nil), c.prompts[source]...)
}

// ResourcesForSource returns a copy of source's currently registered
// resources.
func (c *Catalog) ResourcesForSource(source string) []core.Resource {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]core.Resource(nil), c.resources[source]...)
}

// AllTools returns every registered tool across all sources, ordered by
// source name for deterministic aggregation.
func (c *Catalog) AllTools() []core.Tool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []core.Tool
	for _, source := range sortedKeysTools(c.tools) {
		out = append(out, c.tools[source]...)
	}
	return out
}

// AllPrompts returns every registered prompt across all sources.
func (c *Catalog) AllPrompts() []core.Prompt {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []core.Prompt
	for _, source := range sortedKeysPrompts(c.prompts) {
		out = append(out, c.prompts[source]...)
	}
	return out
}

// AllResources returns every registered resource across all sources.
func (c *Catalog) AllResources() []core.Resource {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []core.Resource
	for _, source := range sortedKeysResources(c.resources) {
		out = append(out, c.resources[source]...)
	}
	return out
}

// HasSource reports whether source has ever completed a discovery pass
// (its tables may still be empty, e.g. an upstream with zero tools).
func (c *Catalog) HasSource(source string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, hasTools := c.tools[source]
	_, hasPrompts := c.prompts[source]
	_, hasResources := c.resources[source]
	return hasTools || hasPrompts || hasResources
}

func sortedKeysTools(m map[string][]core.Tool) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortedKeysPrompts(m map[string][]core.Prompt) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortedKeysResources(m map[string][]core.Resource) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func validateTool(t core.Tool) error {
	if t.Name == "" {
		return fmt.Errorf("name is required")
	}
	// An unset InputSchema (the zero value) is not checked.
	if s := t.InputSchema; s.Type == "" && len(s.Properties) == 0 && len(s.Required) == 0 {
		return nil
	}
	schemaBytes, err := json.Marshal(t.InputSchema)
	if err != nil {
		return fmt.Errorf("marshal input schema: %w", err)
	}
	return validateJSONSchema(schemaBytes)
}

func validatePrompt(p core.Prompt) error {
	if p.Name == "" {
		return fmt.Errorf("name is required")
	}
	return nil
}

func validateResource(r core.Resource) error {
	if r.URI == "" {
		return fmt.Errorf("uri is required")
	}
	return nil
}

// validateJSONSchema confirms schemaBytes is itself a well-formed JSON
// Schema document, by asking gojsonschema to validate it against the
// trivial empty-object instance. A malformed schema fails this call; a
// well-formed one always succeeds regardless of whether "{}" happens to
// satisfy it.
func validateJSONSchema(schemaBytes []byte) error {
	if len(schemaBytes) == 0 || string(schemaBytes) == "null" {
		return nil
	}
	schemaLoader := gojsonschema.NewBytesLoader(schemaBytes)
	documentLoader := gojsonschema.NewStringLoader("{}")
	if _, err := gojsonschema.Validate(schemaLoader, documentLoader); err != nil {
		return fmt.Errorf("invalid input schema: %w", err)
	}
	return nil
}
