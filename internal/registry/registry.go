// Package registry is Porter's single entry point: it validates config,
// spawns every enabled backend (subprocess, HTTP, or CLI-wrapped), and
// aggregates their namespaced tools and health into one surface. Callers
// never talk to a backend.Handle or harness.Handle directly — only
// through a Registry.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"sync"

	"github.com/relaygate/porter/internal/backend"
	"github.com/relaygate/porter/internal/backend/httpproc"
	"github.com/relaygate/porter/internal/backend/stdioproc"
	"github.com/relaygate/porter/internal/cli/harness"
	"github.com/relaygate/porter/internal/cli/helpparse"
	"github.com/relaygate/porter/internal/config"
	"github.com/relaygate/porter/internal/events"
	"github.com/relaygate/porter/internal/health"
	"github.com/relaygate/porter/internal/mcpproto"
	"github.com/relaygate/porter/internal/namespace"
	"github.com/relaygate/porter/internal/pidtrack"
	"github.com/relaygate/porter/internal/porterr"
)

// Registry is the aggregated view over every backend a gateway instance
// manages: subprocess/HTTP MCP-style servers and CLI-wrapped programs.
type Registry struct {
	mu         sync.RWMutex
	servers    map[string]*backend.Handle
	cliHandles map[string]*harness.Handle
	cancel     context.CancelFunc
}

// New validates cfg, then spawns every enabled backend. Disabled entries
// are skipped. A CLI transport under [servers.*] is rejected (config.
// Validate already refuses this at parse time, so this is a defensive
// second check, mirroring the original's unreachable-in-practice branch).
func New(ctx context.Context, bus *events.Bus, tracker *pidtrack.PIDTracker, cfg *config.Config) (*Registry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(ctx)

	r := &Registry{
		servers:    make(map[string]*backend.Handle),
		cliHandles: make(map[string]*harness.Handle),
		cancel:     cancel,
	}

	for _, server := range cfg.Servers {
		if !serverEnabled(server) {
			log.Printf("registry: skipping disabled server %q", server.Slug)
			continue
		}

		var handle *backend.Handle
		switch server.Transport {
		case config.TransportStdio:
			handle = stdioproc.Spawn(runCtx, bus, tracker, server)
		case config.TransportHTTP:
			handle = httpproc.Spawn(runCtx, bus, server)
		case config.TransportCLI:
			cancel()
			return nil, porterr.New(porterr.InvalidConfig, server.Slug, "cli transport must be configured under [cli.*], not [servers.*]")
		default:
			cancel()
			return nil, porterr.New(porterr.InvalidConfig, server.Slug, fmt.Sprintf("unknown transport: %q", server.Transport))
		}
		r.servers[server.Slug] = handle
	}

	for _, cliCfg := range cfg.CLI {
		if !cliEnabled(cliCfg) {
			log.Printf("registry: skipping disabled CLI tool %q", cliCfg.Slug)
			continue
		}

		h, err := harness.Spawn(runCtx, toHarnessConfig(cliCfg), cliCfg.Slug)
		if err != nil {
			cancel()
			return nil, err
		}
		r.cliHandles[cliCfg.Slug] = h
	}

	return r, nil
}

func serverEnabled(s config.ServerConfig) bool {
	return s.Enabled == nil || *s.Enabled
}

func cliEnabled(c config.CLIServerConfig) bool {
	return c.Enabled == nil || *c.Enabled
}

// toHarnessConfig adapts a TOML-shaped CLIServerConfig into harness.Config.
// Allow/Deny/WriteAccess pass through unchanged: both are keyed by string
// prefixes of the space-joined subcommand path, matching guard.Config.
func toHarnessConfig(c config.CLIServerConfig) harness.Config {
	var schema *helpparse.Schema
	if c.SchemaOverride != nil {
		schema = schemaFromMap(c.SchemaOverride)
	}

	return harness.Config{
		Command:             c.Command,
		Profile:             c.Profile,
		Env:                 c.Env,
		Allow:               c.Allow,
		Deny:                c.Deny,
		WriteAccess:         c.WriteAccess,
		TimeoutSecs:         c.TimeoutSecs,
		InjectFlags:         c.InjectFlags,
		ExpandSubcommands:   c.ExpandSubcommands,
		SchemaOverride:      schema,
		HelpDepth:           c.HelpDepth,
		DiscoveryBudgetSecs: c.DiscoveryBudgetSecs,
	}
}

// schemaFromMap reshapes a schema_override TOML table (decoded as
// map[string]any) into helpparse.Schema. Only the "object with properties"
// shape config.Validate permits is handled; anything else yields an empty
// schema rather than a hard failure, since schema_override is advisory.
func schemaFromMap(m map[string]any) *helpparse.Schema {
	schema := &helpparse.Schema{Type: "object", Properties: map[string]helpparse.SchemaProperty{}}
	if t, ok := m["type"].(string); ok {
		schema.Type = t
	}
	props, _ := m["properties"].(map[string]any)
	for name, raw := range props {
		prop, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		sp := helpparse.SchemaProperty{}
		if t, ok := prop["type"].(string); ok {
			sp.Type = t
		}
		if d, ok := prop["description"].(string); ok {
			sp.Description = d
		}
		schema.Properties[name] = sp
	}
	if req, ok := m["required"].([]any); ok {
		for _, r := range req {
			if s, ok := r.(string); ok {
				schema.Required = append(schema.Required, s)
			}
		}
	}
	return schema
}

// Tools returns the aggregated namespaced tool list from every
// non-Unhealthy subprocess/HTTP backend plus every CLI handle (CLI
// handles have no persistent connection to lose, so they're always
// included).
func (r *Registry) Tools() []mcpproto.Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var all []mcpproto.Tool
	for _, h := range r.servers {
		if h.Health() != health.Unhealthy {
			all = append(all, h.Tools()...)
		}
	}
	for _, h := range r.cliHandles {
		all = append(all, h.Tools()...)
	}
	return all
}

// CallTool routes a namespaced tool call to the backend that owns its
// slug, forwarding with the original (un-namespaced) tool name. CLI
// handles are checked before subprocess/HTTP servers. Calls to an
// Unhealthy server are refused outright.
func (r *Registry) CallTool(ctx context.Context, namespacedName string, arguments []byte) (*mcpproto.ToolResult, error) {
	slug, name, ok := namespace.Unapply(namespacedName)
	if !ok {
		return nil, porterr.New(porterr.Protocol, "unknown", fmt.Sprintf("tool name '%s' has no namespace prefix", namespacedName))
	}

	r.mu.RLock()
	cliHandle, isCLI := r.cliHandles[slug]
	serverHandle, isServer := r.servers[slug]
	r.mu.RUnlock()

	if isCLI {
		result, err := cliHandle.CallTool(ctx, name, arguments)
		if err != nil {
			return nil, err
		}
		return toToolResult(result), nil
	}

	if !isServer {
		return nil, porterr.New(porterr.Protocol, slug, fmt.Sprintf("no server with slug '%s'", slug))
	}

	if serverHandle.Health() == health.Unhealthy {
		return nil, porterr.New(porterr.ServerUnhealthy, slug, "server is unhealthy")
	}

	return serverHandle.CallTool(ctx, name, arguments)
}

// toToolResult adapts a CLI handle's plain-text/exit-code result into the
// same ToolResult shape subprocess/HTTP backends return, wrapping the
// command's combined output as a single text content block.
func toToolResult(r *harness.CallResult) *mcpproto.ToolResult {
	text, _ := json.Marshal(r.Text)
	block := fmt.Sprintf(`{"type":"text","text":%s}`, text)
	return &mcpproto.ToolResult{
		Content: []mcpproto.ContentBlock{mcpproto.ContentBlock(block)},
		IsError: r.IsError,
	}
}

// ServerHealth returns the health state for slug (checking CLI handles
// first), and ok=false if no backend with that slug is registered. CLI
// handles are always reported Healthy.
func (r *Registry) ServerHealth(slug string) (state health.State, ok bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if _, exists := r.cliHandles[slug]; exists {
		return health.Healthy, true
	}
	if h, exists := r.servers[slug]; exists {
		return h.Health(), true
	}
	return 0, false
}

// AllServerHealth returns every managed slug's current health state.
func (r *Registry) AllServerHealth() map[string]health.State {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]health.State, len(r.servers)+len(r.cliHandles))
	for slug, h := range r.servers {
		out[slug] = h.Health()
	}
	for slug := range r.cliHandles {
		out[slug] = health.Healthy
	}
	return out
}

// ServerSlugs returns every managed slug (subprocess/HTTP + CLI), sorted.
func (r *Registry) ServerSlugs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	slugs := make([]string, 0, len(r.servers)+len(r.cliHandles))
	for slug := range r.servers {
		slugs = append(slugs, slug)
	}
	for slug := range r.cliHandles {
		slugs = append(slugs, slug)
	}
	sort.Strings(slugs)
	return slugs
}

// ServerCount returns the total number of managed backends.
func (r *Registry) ServerCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.servers) + len(r.cliHandles)
}

// Shutdown cancels every subprocess/HTTP supervisor's context, initiating
// a clean shutdown. Shutdown is asynchronous — supervisors observe
// cancellation and exit on their own.
func (r *Registry) Shutdown() {
	log.Printf("registry: shutting down all backends")
	r.cancel()
}
