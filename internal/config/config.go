// Package config decodes and validates Porter's TOML configuration: the
// set of managed MCP-style servers and wrapped CLI tools a gateway
// instance fronts.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"github.com/relaygate/porter/internal/porterr"
)

// TransportKind is how Porter talks to a configured backend.
type TransportKind string

const (
	TransportStdio TransportKind = "stdio"
	TransportHTTP  TransportKind = "http"
	TransportCLI   TransportKind = "cli"
)

// Config is Porter's top-level configuration, parsed from TOML.
type Config struct {
	Servers map[string]ServerConfig    `toml:"servers"`
	CLI     map[string]CLIServerConfig `toml:"cli"`
}

// ServerConfig configures a single managed MCP-style server, either a
// subprocess (stdio) or an HTTP endpoint.
type ServerConfig struct {
	Slug                 string            `toml:"slug"`
	Enabled              *bool             `toml:"enabled,omitempty"`
	Transport             TransportKind     `toml:"transport"`
	Command               string            `toml:"command,omitempty"`
	Args                   []string          `toml:"args,omitempty"`
	Env                    map[string]string `toml:"env,omitempty"`
	Cwd                    string            `toml:"cwd,omitempty"`
	URL                    string            `toml:"url,omitempty"`
	HandshakeTimeoutSecs   int               `toml:"handshake_timeout_secs,omitempty"`
}

func (s ServerConfig) enabled() bool {
	return s.Enabled == nil || *s.Enabled
}

// CLIServerConfig configures a CLI program wrapped as a Porter tool,
// under a `[cli.*]` TOML section.
type CLIServerConfig struct {
	Slug                 string            `toml:"slug"`
	Enabled              *bool             `toml:"enabled,omitempty"`
	Transport             TransportKind     `toml:"transport"`
	Command               string            `toml:"command"`
	Profile                string            `toml:"profile,omitempty"`
	Args                   []string          `toml:"args,omitempty"`
	Env                    map[string]string `toml:"env,omitempty"`
	Allow                  []string          `toml:"allow,omitempty"`
	Deny                   []string          `toml:"deny,omitempty"`
	WriteAccess            map[string]bool   `toml:"write_access,omitempty"`
	TimeoutSecs            int               `toml:"timeout_secs,omitempty"`
	InjectFlags            []string          `toml:"inject_flags,omitempty"`
	ExpandSubcommands      *bool             `toml:"expand_subcommands,omitempty"`
	SchemaOverride         map[string]any    `toml:"schema_override,omitempty"`
	HelpDepth              *int              `toml:"help_depth,omitempty"`
	DiscoveryBudgetSecs    int               `toml:"discovery_budget_secs,omitempty"`
}

func (c CLIServerConfig) enabled() bool {
	return c.Enabled == nil || *c.Enabled
}

const (
	defaultHandshakeTimeoutSecs = 30
	defaultTimeoutSecs          = 30
	defaultDiscoveryBudgetSecs  = 60
	maxHelpDepth                = 5
)

// Load reads and parses the TOML file at path, applies field defaults,
// and runs Validate before returning.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, porterr.New(porterr.InvalidConfig, "", fmt.Sprintf("reading config file: %s", err))
	}

	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, porterr.New(porterr.InvalidConfig, "", fmt.Sprintf("parsing TOML: %s", err))
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	for key, server := range c.Servers {
		if server.HandshakeTimeoutSecs == 0 {
			server.HandshakeTimeoutSecs = defaultHandshakeTimeoutSecs
		}
		c.Servers[key] = server
	}
	for key, cli := range c.CLI {
		if cli.TimeoutSecs == 0 {
			cli.TimeoutSecs = defaultTimeoutSecs
		}
		if cli.DiscoveryBudgetSecs == 0 {
			cli.DiscoveryBudgetSecs = defaultDiscoveryBudgetSecs
		}
		c.CLI[key] = cli
	}
}

// Validate checks the configuration for internal consistency, failing
// fast before any backend is spawned: duplicate slugs (across both
// servers and CLI tools), slug format, transport-specific required
// fields, env-var reference syntax, and help_depth/discovery budget
// bounds.
func (c *Config) Validate() error {
	seenSlugs := map[string]bool{}

	for _, server := range c.Servers {
		if seenSlugs[server.Slug] {
			return porterr.New(porterr.DuplicateSlug, server.Slug, "")
		}
		seenSlugs[server.Slug] = true

		if !server.enabled() {
			continue
		}

		if err := validateSlugFormat(server.Slug); err != nil {
			return err
		}

		switch server.Transport {
		case TransportStdio:
			if server.Command == "" {
				return porterr.New(porterr.InvalidConfig, server.Slug, "stdio transport requires 'command' field")
			}
			if server.URL != "" {
				return porterr.New(porterr.InvalidConfig, server.Slug, "stdio transport should not have 'url' field")
			}
		case TransportHTTP:
			if server.URL == "" {
				return porterr.New(porterr.InvalidConfig, server.Slug, "http transport requires 'url' field")
			}
			if server.Command != "" {
				return porterr.New(porterr.InvalidConfig, server.Slug, "http transport should not have 'command' field")
			}
		case TransportCLI:
			return porterr.New(porterr.InvalidConfig, server.Slug, "cli transport must be configured under [cli.*], not [servers.*]")
		default:
			return porterr.New(porterr.InvalidConfig, server.Slug, fmt.Sprintf("unknown transport: %q", server.Transport))
		}

		if err := validateEnvRefs(server.Slug, server.Env); err != nil {
			return err
		}
	}

	for _, cli := range c.CLI {
		if seenSlugs[cli.Slug] {
			return porterr.New(porterr.DuplicateSlug, cli.Slug, "")
		}
		seenSlugs[cli.Slug] = true

		if !cli.enabled() {
			continue
		}

		if err := validateSlugFormat(cli.Slug); err != nil {
			return err
		}

		if cli.Command == "" {
			return porterr.New(porterr.InvalidConfig, cli.Slug, "cli transport requires non-empty 'command' field")
		}
		if cli.Transport != TransportCLI {
			return porterr.New(porterr.InvalidConfig, cli.Slug, `cli tool must have transport = "cli"`)
		}

		if err := validateEnvRefs(cli.Slug, cli.Env); err != nil {
			return err
		}

		if cli.HelpDepth != nil {
			depth := *cli.HelpDepth
			if depth > maxHelpDepth {
				return porterr.New(porterr.InvalidConfig, cli.Slug, fmt.Sprintf("help_depth %d exceeds maximum of %d", depth, maxHelpDepth))
			}
			if depth > 0 && cli.DiscoveryBudgetSecs == 0 {
				return porterr.New(porterr.InvalidConfig, cli.Slug, "discovery_budget_secs must be > 0 when help_depth > 0")
			}
		}
	}

	return nil
}

func validateSlugFormat(slug string) error {
	if slug == "" || strings.Contains(slug, "__") {
		return porterr.New(porterr.InvalidConfig, slug, "slug must be non-empty alphanumeric with hyphens, no double underscores")
	}
	for _, r := range slug {
		alnum := (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
		if !alnum && r != '-' {
			return porterr.New(porterr.InvalidConfig, slug, "slug must be non-empty alphanumeric with hyphens, no double underscores")
		}
	}
	return nil
}

func validateEnvRefs(slug string, env map[string]string) error {
	for key, value := range env {
		if _, ok := ParseEnvRef(value); !ok {
			return porterr.New(porterr.InvalidConfig, slug, fmt.Sprintf("env value for key '%s' must be a ${VAR} reference, got '%s'", key, value))
		}
	}
	return nil
}

// ParseEnvRef strips a "${VAR}" reference down to its variable name. ok
// is false for any other shape, including bare "$VAR" or a literal value.
func ParseEnvRef(value string) (name string, ok bool) {
	rest, ok := strings.CutPrefix(value, "${")
	if !ok {
		return "", false
	}
	name, ok = strings.CutSuffix(rest, "}")
	return name, ok
}

// ResolveEnvVars resolves each "${VAR}" reference in env to its current
// process environment value, defaulting to the empty string for unset
// variables (mirroring shell `${VAR-}` semantics). Non-reference values
// are caught by Validate and are passed through unchanged here.
func ResolveEnvVars(env map[string]string) map[string]string {
	out := make(map[string]string, len(env))
	for key, value := range env {
		if name, ok := ParseEnvRef(value); ok {
			out[key] = os.Getenv(name)
		} else {
			out[key] = value
		}
	}
	return out
}
