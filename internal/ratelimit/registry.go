// Package ratelimit provides rate limiting for calls made by the reference
// RemoteApi client using a token bucket algorithm.
package ratelimit

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
)

// Scope identifies a throttle scope on the remote.
type Scope string

const (
	// ScopeMetadata covers load_files / load_file / rename_file / copy_file /
	// move_file / create_dir_name / delete_file.
	ScopeMetadata Scope = "metadata"
	// ScopeTransfer covers upload_file_reader / get_file_reader — the calls
	// that open a transfer body.
	ScopeTransfer Scope = "transfer"
)

// ScopeConfig holds the rate limit configuration for a single scope.
type ScopeConfig struct {
	Scope         Scope
	TargetRate    float64 // requests/second
	BurstCapacity float64
}

// EndpointRule maps a RemoteApi path pattern to its throttle scope. Rules are
// matched in order of specificity: longer patterns and method-specific rules
// take precedence over shorter/wildcard ones.
type EndpointRule struct {
	Pattern string // path substring to match
	Method  string // HTTP method, or "" for any
	Scope   Scope
}

func (r EndpointRule) specificity() int {
	score := len(r.Pattern)
	if r.Method != "" {
		score += 1000
	}
	return score
}

// Registry is the single source of truth for endpoint-to-scope mapping and
// per-scope rate limit configuration.
type Registry struct {
	rules        []EndpointRule
	scopeConfigs map[Scope]ScopeConfig
	defaultScope Scope
}

// NewRegistry creates the registry used by the reference RemoteApi client.
func NewRegistry() *Registry {
	r := &Registry{
		defaultScope: ScopeMetadata,
		scopeConfigs: map[Scope]ScopeConfig{
			ScopeMetadata: {Scope: ScopeMetadata, TargetRate: MetadataRatePerSec, BurstCapacity: MetadataBurstCapacity},
			ScopeTransfer: {Scope: ScopeTransfer, TargetRate: TransferRatePerSec, BurstCapacity: TransferBurstCapacity},
		},
		rules: []EndpointRule{
			{Pattern: "/upload/", Method: http.MethodPut, Scope: ScopeTransfer},
			{Pattern: "/upload/", Method: http.MethodPost, Scope: ScopeTransfer},
			{Pattern: "/content/", Method: http.MethodGet, Scope: ScopeTransfer},
			{Pattern: "/files/", Scope: ScopeMetadata},
		},
	}

	sort.Slice(r.rules, func(i, j int) bool {
		return r.rules[i].specificity() > r.rules[j].specificity()
	})

	return r
}

// ResolveScope determines the throttle scope for a given method and path.
func (r *Registry) ResolveScope(method, path string) Scope {
	for _, rule := range r.rules {
		if !strings.Contains(path, rule.Pattern) {
			continue
		}
		if rule.Method != "" && !strings.EqualFold(rule.Method, method) {
			continue
		}
		return rule.Scope
	}
	return r.defaultScope
}

// GetScopeConfig returns the rate limit configuration for a scope, falling
// back to the default scope's configuration if scope is unknown.
func (r *Registry) GetScopeConfig(scope Scope) ScopeConfig {
	if cfg, ok := r.scopeConfigs[scope]; ok {
		return cfg
	}
	return r.scopeConfigs[r.defaultScope]
}

// ScopeDisplayString returns a human-readable description for logging.
func (r *Registry) ScopeDisplayString(scope Scope) string {
	cfg, ok := r.scopeConfigs[scope]
	if !ok {
		return string(scope) + " (unknown scope)"
	}
	return fmt.Sprintf("%s (%.2f/sec, burst %.0f)", scope, cfg.TargetRate, cfg.BurstCapacity)
}
