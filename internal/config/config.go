// SPDX-FileCopyrightText: Copyright 2026 Nexus Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads Nexus's process configuration: a YAML file merged
// with environment overrides through spf13/viper, unmarshalled into the
// FileConfig model and then converted into the runtime types
// internal/state, internal/vserver and internal/transport actually
// operate on.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"

	"github.com/avi3tal/nexus-mcp/internal/core"
	"github.com/avi3tal/nexus-mcp/internal/state"
	"github.com/avi3tal/nexus-mcp/internal/transport"
)

// TransportFileConfig carries the transport tuning knobs, expressed in
// the file's native units (milliseconds) rather than time.Duration.
type TransportFileConfig struct {
	MaxRetries int    `mapstructure:"maxRetries" yaml:"maxRetries"`
	RetryDelay int    `mapstructure:"retryDelay" yaml:"retryDelay"`
	Timeout    int    `mapstructure:"timeout" yaml:"timeout"`
	AuthToken  string `mapstructure:"authToken" yaml:"authToken"`
}

// RefreshFileConfig is the discovery refresh cadence, in milliseconds.
type RefreshFileConfig struct {
	Interval int `mapstructure:"interval" yaml:"interval"`
}

// PortRangeFileConfig bounds the ports virtual servers may use: with both
// Start and End set, adding a definition whose port lies outside the range
// fails. Ports are never assigned automatically.
type PortRangeFileConfig struct {
	Start int `mapstructure:"start" yaml:"start"`
	End   int `mapstructure:"end" yaml:"end"`
}

// VMCPPoolFileConfig is the vMCP instance pool tuning under the top-level
// "vmcp" key (distinct from the "vmcps" list of definitions below).
type VMCPPoolFileConfig struct {
	MaxInstances int                 `mapstructure:"maxInstances" yaml:"maxInstances"`
	PortRange    PortRangeFileConfig `mapstructure:"portRange" yaml:"portRange"`
}

// UpstreamFileConfig is one entry of the "mcpServers" list.
type UpstreamFileConfig struct {
	Name       string `mapstructure:"name" yaml:"name"`
	URL        string `mapstructure:"url" yaml:"url"`
	AuthToken  string `mapstructure:"authToken" yaml:"authToken"`
	IsDisabled bool   `mapstructure:"disabled" yaml:"disabled"`
}

// AggregationRuleFileConfig is one entry of a vMCP's "aggregationRules"
// list. Kind is one of "all", "includeTools", "includePrompts" or
// "includeResources", matching core.AggregationRuleKind's string form.
type AggregationRuleFileConfig struct {
	Kind  string   `mapstructure:"kind" yaml:"kind"`
	Names []string `mapstructure:"names" yaml:"names"`
}

// VirtualServerFileConfig is one entry of the "vmcps" list.
type VirtualServerFileConfig struct {
	Name             string                      `mapstructure:"name" yaml:"name"`
	Port             int                         `mapstructure:"port" yaml:"port"`
	SourceServerIDs  []string                    `mapstructure:"sourceServerIds" yaml:"sourceServerIds"`
	AggregationRules []AggregationRuleFileConfig `mapstructure:"aggregationRules" yaml:"aggregationRules"`
}

// FileConfig is the top-level shape of the YAML configuration file.
// "persistence" is accepted for forward compatibility but ignored — Nexus
// specifies no durability for its runtime state.
type FileConfig struct {
	Port        int                       `mapstructure:"port" yaml:"port"`
	MCPServers  []UpstreamFileConfig      `mapstructure:"mcpServers" yaml:"mcpServers"`
	VMCPs       []VirtualServerFileConfig `mapstructure:"vmcps" yaml:"vmcps"`
	Persistence map[string]any            `mapstructure:"persistence" yaml:"persistence"`
	Transport   TransportFileConfig       `mapstructure:"transport" yaml:"transport"`
	Refresh     RefreshFileConfig         `mapstructure:"refresh" yaml:"refresh"`
	VMCP        VMCPPoolFileConfig        `mapstructure:"vmcp" yaml:"vmcp"`
}

// Defaults returns the built-in default file config: management port
// 3000, transport maxRetries=5/retryDelay=1000ms/timeout=30000ms, refresh
// interval 300000ms.
func Defaults() FileConfig {
	return FileConfig{
		Port: 3000,
		Transport: TransportFileConfig{
			MaxRetries: 5,
			RetryDelay: 1000,
			Timeout:    30000,
		},
		Refresh: RefreshFileConfig{Interval: 300000},
	}
}

// Load reads path (if non-empty) as YAML through viper, layers the PORT and
// NEXUS_PORT environment overrides on top (NEXUS_PORT wins when both are
// set, as the name that unambiguously refers to Nexus rather than to
// whatever else happens to read PORT in the host environment), and
// unmarshals the result into a FileConfig seeded with Defaults(). A missing
// path is not an error: callers get the defaults plus any environment
// overrides.
func Load(path string) (FileConfig, error) {
	v := viper.New()
	cfg := Defaults()

	v.SetConfigType("yaml")
	v.SetDefault("port", cfg.Port)
	v.SetDefault("transport.maxRetries", cfg.Transport.MaxRetries)
	v.SetDefault("transport.retryDelay", cfg.Transport.RetryDelay)
	v.SetDefault("transport.timeout", cfg.Transport.Timeout)
	v.SetDefault("refresh.interval", cfg.Refresh.Interval)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return FileConfig{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return FileConfig{}, fmt.Errorf("decode config: %w", err)
	}

	if p, ok := os.LookupEnv("PORT"); ok {
		if port, err := parsePort(p); err == nil {
			cfg.Port = port
		}
	}
	if p, ok := os.LookupEnv("NEXUS_PORT"); ok {
		if port, err := parsePort(p); err == nil {
			cfg.Port = port
		}
	}

	return cfg, nil
}

func parsePort(s string) (int, error) {
	var port int
	if _, err := fmt.Sscanf(s, "%d", &port); err != nil {
		return 0, fmt.Errorf("invalid port %q: %w", s, err)
	}
	return port, nil
}

// EnvOverrideJSON returns the raw MCP_ENV_VARS environment value, ready to
// hand to state.Store.MergeEnvOverride. It returns nil when unset.
func EnvOverrideJSON() []byte {
	v, ok := os.LookupEnv("MCP_ENV_VARS")
	if !ok || v == "" {
		return nil
	}
	return []byte(v)
}

// StateConfig converts the file's process-wide knobs into state.Config.
func (c FileConfig) StateConfig() state.Config {
	sc := state.DefaultConfig()
	sc.Port = c.Port
	sc.Transport = transport.Config{
		MaxRetries:     c.Transport.MaxRetries,
		RetryBaseDelay: msToDuration(c.Transport.RetryDelay),
		Timeout:        msToDuration(c.Transport.Timeout),
		AuthToken:      c.Transport.AuthToken,
	}
	sc.RefreshInterval = msToDuration(c.Refresh.Interval)
	sc.MaxInstances = c.VMCP.MaxInstances
	sc.PortRangeStart = c.VMCP.PortRange.Start
	sc.PortRangeEnd = c.VMCP.PortRange.End
	return sc
}

// Upstreams converts the "mcpServers" list into upstream definitions ready
// for state.Store.AddUpstream.
func (c FileConfig) Upstreams() []*core.UpstreamDefinition {
	out := make([]*core.UpstreamDefinition, 0, len(c.MCPServers))
	for _, u := range c.MCPServers {
		def := &core.UpstreamDefinition{
			Name:       u.Name,
			URL:        u.URL,
			IsDisabled: u.IsDisabled,
		}
		if u.AuthToken != "" {
			def.Auth = &core.AuthDescriptor{BearerToken: u.AuthToken}
		}
		out = append(out, def)
	}
	return out
}

// VirtualServers converts the "vmcps" list into virtual-server definitions
// ready for vserver.Manager.Add. Unknown aggregation rule kinds are
// dropped; validation of the resulting definition happens in Manager.Add.
func (c FileConfig) VirtualServers() []*core.VirtualServerDefinition {
	out := make([]*core.VirtualServerDefinition, 0, len(c.VMCPs))
	for _, v := range c.VMCPs {
		rules := make([]core.AggregationRule, 0, len(v.AggregationRules))
		for _, r := range v.AggregationRules {
			kind, ok := ruleKind(r.Kind)
			if !ok {
				continue
			}
			rules = append(rules, core.AggregationRule{Kind: kind, Names: r.Names})
		}
		out = append(out, &core.VirtualServerDefinition{
			Name:             v.Name,
			Port:             v.Port,
			SourceServerIDs:  v.SourceServerIDs,
			AggregationRules: rules,
		})
	}
	return out
}

func ruleKind(s string) (core.AggregationRuleKind, bool) {
	switch s {
	case "all":
		return core.RuleAggregateAll, true
	case "includeTools":
		return core.RuleIncludeTools, true
	case "includePrompts":
		return core.RuleIncludePrompts, true
	case "includeResources":
		return core.RuleIncludeResources, true
	default:
		return "", false
	}
}

func msToDuration(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
