// Package harness turns an arbitrary CLI program into one or more typed
// tools: it parses `--help` output into an argument schema, optionally
// expands a single command into many tools (one per read-only
// subcommand, statically from a built-in profile or discovered via
// bounded BFS), enforces the access guard before every invocation, and
// executes the underlying process with a hard timeout-kill.
package harness

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/relaygate/porter/internal/cli/discover"
	"github.com/relaygate/porter/internal/cli/guard"
	"github.com/relaygate/porter/internal/cli/helpparse"
	"github.com/relaygate/porter/internal/cli/profiles"
	"github.com/relaygate/porter/internal/cli/readonly"
	"github.com/relaygate/porter/internal/cli/subcmd"
	"github.com/relaygate/porter/internal/mcpproto"
	"github.com/relaygate/porter/internal/namespace"
	"github.com/relaygate/porter/internal/porterr"
)

// Config mirrors the access-guard and expansion knobs a CLI backend is
// configured with.
type Config struct {
	Command             string
	Profile             string // built-in profile name; "" for none
	Env                 map[string]string
	Allow, Deny         []string
	WriteAccess         map[string]bool
	TimeoutSecs         int
	InjectFlags         []string
	ExpandSubcommands   *bool // nil = unset
	SchemaOverride      *helpparse.Schema
	HelpDepth           *int // nil = unset; 0 disables discovery
	DiscoveryBudgetSecs int
}

// Handle is the runtime handle for a registered CLI tool, parallel to a
// subprocess or HTTP backend's handle in the registry.
type Handle struct {
	Slug        string
	Command     string
	InjectFlags []string
	Env         map[string]string
	Timeout     time.Duration
	Expanded    bool

	mu    sync.RWMutex
	tools []mcpproto.Tool

	guard guard.Config

	discoveryInProgress atomic.Bool
}

// CallResult is the outcome of invoking a tool on this handle.
type CallResult struct {
	Text    string
	IsJSON  bool
	IsError bool
}

// Tools returns a snapshot of the tools currently registered on this
// handle. Safe to call while background discovery (Discovery mode) is
// still enriching the list.
func (h *Handle) Tools() []mcpproto.Tool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]mcpproto.Tool, len(h.tools))
	copy(out, h.tools)
	return out
}

func (h *Handle) setTools(tools []mcpproto.Tool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.tools = tools
}

// DiscoveryInProgress reports whether background subcommand discovery is
// still running for this handle.
func (h *Handle) DiscoveryInProgress() bool {
	return h.discoveryInProgress.Load()
}

// expansionMode is the internal classification of how a CLI config should
// be exposed as tools.
type expansionMode int

const (
	modeSingleTool expansionMode = iota
	modeStaticProfile
	modeDiscovery
)

// determineExpansionMode decides how to expose cfg's command, following a
// fixed priority order so that the more specific knobs (help_depth,
// expand_subcommands) always win over a profile's own default.
//
//  1. expand_subcommands = false  -> single tool
//  2. help_depth = 0              -> single tool (discovery disabled)
//  3. help_depth = n > 0          -> discovery at depth n
//  4. help_depth unset + profile that expands by default -> discovery at depth 3
//  5. expand_subcommands = true   -> static profile expansion (requires a profile)
//  6. otherwise                   -> single tool
func determineExpansionMode(cfg Config, prof profiles.Profile, slug string) (expansionMode, int, error) {
	if cfg.ExpandSubcommands != nil && !*cfg.ExpandSubcommands {
		return modeSingleTool, 0, nil
	}
	if cfg.HelpDepth != nil && *cfg.HelpDepth == 0 {
		return modeSingleTool, 0, nil
	}
	if cfg.HelpDepth != nil && *cfg.HelpDepth > 0 {
		return modeDiscovery, *cfg.HelpDepth, nil
	}
	if cfg.HelpDepth == nil && prof != nil && prof.ExpandByDefault() {
		return modeDiscovery, 3, nil
	}
	if cfg.ExpandSubcommands != nil && *cfg.ExpandSubcommands {
		if prof == nil {
			return 0, 0, porterr.New(porterr.InvalidConfig, slug, "expand_subcommands = true requires a built-in profile")
		}
		return modeStaticProfile, 0, nil
	}
	return modeSingleTool, 0, nil
}

var genericSchema = &helpparse.Schema{
	Type: "object",
	Properties: map[string]helpparse.SchemaProperty{
		"args": {Type: "array", Description: "additional arguments to pass to the command"},
	},
}

// Spawn builds a Handle from cfg, resolving its built-in profile (if any),
// determining its expansion mode, and — for SingleTool mode — parsing
// `--help` synchronously. Discovery mode starts background BFS
// enrichment and returns immediately with whatever static profile
// entries are available.
func Spawn(ctx context.Context, cfg Config, slug string) (*Handle, error) {
	var prof profiles.Profile
	if cfg.Profile != "" {
		p, ok := profiles.Get(cfg.Profile)
		if !ok {
			return nil, porterr.New(porterr.InvalidConfig, slug,
				fmt.Sprintf("unknown built-in profile: '%s'. Available profiles: %s", cfg.Profile, strings.Join(profiles.Available(), ", ")))
		}
		prof = p
	}

	injectFlags := cfg.InjectFlags
	if len(injectFlags) == 0 && prof != nil {
		injectFlags = prof.DefaultInjectFlags()
	}

	mode, depth, err := determineExpansionMode(cfg, prof, slug)
	if err != nil {
		return nil, err
	}

	guardCfg := guard.Config{Allow: cfg.Allow, Deny: cfg.Deny, WriteAccess: cfg.WriteAccess}
	if prof != nil {
		guardCfg.IsReadOnly = prof.IsReadOnly
	} else {
		guardCfg.IsReadOnly = readonly.IsLikelyReadOnly
	}

	timeoutSecs := cfg.TimeoutSecs
	if timeoutSecs <= 0 {
		timeoutSecs = 30
	}
	timeout := time.Duration(timeoutSecs) * time.Second

	handle := &Handle{
		Slug:        slug,
		Command:     cfg.Command,
		InjectFlags: injectFlags,
		Env:         cfg.Env,
		Timeout:     timeout,
		guard:       guardCfg,
	}

	switch mode {
	case modeSingleTool:
		schema := cfg.SchemaOverride
		if schema == nil {
			helpText, err := runHelp(ctx, cfg.Command, nil, cfg.Env, timeout)
			if err != nil {
				return nil, porterr.New(porterr.InvalidConfig, slug,
					fmt.Sprintf("--help invocation failed: %s. Provide schema_override to skip help parsing.", err))
			}
			schema, err = helpparse.Parse(helpText)
			if err != nil {
				return nil, porterr.New(porterr.InvalidConfig, slug,
					fmt.Sprintf("--help parsing failed: %s. Provide schema_override to skip help parsing.", err))
			}
		}

		tool := namespace.Apply(slug, namespace.Tool{
			Name:        cfg.Command,
			Description: fmt.Sprintf("CLI tool: %s", cfg.Command),
		})
		handle.setTools([]mcpproto.Tool{{Name: tool.Name, Description: tool.Description, InputSchema: schema}})
		handle.Expanded = false
		return handle, nil

	case modeStaticProfile:
		paths := prof.ReadOnlySubcommands()
		tools := make([]mcpproto.Tool, 0, len(paths))
		for _, path := range paths {
			tools = append(tools, expandedTool(slug, cfg.Command, path))
		}
		handle.setTools(tools)
		handle.Expanded = true
		return handle, nil

	case modeDiscovery:
		var initial []mcpproto.Tool
		if prof != nil {
			for _, path := range prof.ReadOnlySubcommands() {
				initial = append(initial, expandedTool(slug, cfg.Command, path))
			}
		}
		handle.setTools(initial)
		handle.Expanded = true
		handle.discoveryInProgress.Store(true)

		budgetSecs := cfg.DiscoveryBudgetSecs
		if budgetSecs <= 0 {
			budgetSecs = 60
		}
		go runDiscovery(handle, cfg, prof, depth, time.Duration(budgetSecs)*time.Second)
		return handle, nil
	}

	return handle, nil
}

func expandedTool(slug, command string, path []string) mcpproto.Tool {
	encoded := strings.Join(path, "_")
	t := namespace.Apply(slug, namespace.Tool{
		Name:        encoded,
		Description: fmt.Sprintf("%s %s (read-only)", command, strings.Join(path, " ")),
	})
	return mcpproto.Tool{Name: t.Name, Description: t.Description, InputSchema: genericSchema}
}

// runDiscovery performs background BFS subcommand discovery (Phase B),
// merges accepted (read-only) paths into the handle's tool list, then
// enriches each discovered leaf's schema from its own `--help` output
// (Phase C). Runs detached from the caller's context on a fresh
// background one bounded by budget.
func runDiscovery(h *Handle, cfg Config, prof profiles.Profile, depth int, budget time.Duration) {
	defer h.discoveryInProgress.Store(false)

	ctx, cancel := context.WithTimeout(context.Background(), budget)
	defer cancel()

	helpTimeout := h.Timeout
	if helpTimeout > 10*time.Second {
		helpTimeout = 10 * time.Second
	}

	result := discover.Run(ctx, discover.Config{
		Command:        cfg.Command,
		MaxDepth:       depth,
		TimeoutPerHelp: helpTimeout,
		TotalBudget:    budget,
		RunHelp: func(ctx context.Context, prefix []string, timeout time.Duration) (string, error) {
			return runHelp(ctx, cfg.Command, prefix, cfg.Env, timeout)
		},
		ParseSubcommands: subcmd.Parse,
	})

	isReadOnly := readonly.IsLikelyReadOnly
	if prof != nil {
		isReadOnly = prof.IsReadOnly
	}

	var accepted [][]string
	for _, e := range result.Entries {
		if isReadOnly(e.Path) {
			accepted = append(accepted, e.Path)
		}
	}

	seen := map[string]bool{}
	merged := h.Tools()
	for _, t := range merged {
		seen[t.Name] = true
	}
	for _, path := range accepted {
		tool := expandedTool(h.Slug, cfg.Command, path)
		if seen[tool.Name] {
			continue
		}
		seen[tool.Name] = true
		merged = append(merged, tool)
	}
	h.setTools(merged)

	// Phase C: enrich leaf schemas, bounded to 4 concurrent --help calls.
	var leaves [][]string
	for _, e := range result.Entries {
		if e.IsLeaf && isReadOnly(e.Path) {
			leaves = append(leaves, e.Path)
		}
	}

	sem := make(chan struct{}, 4)
	var wg sync.WaitGroup
	for _, path := range leaves {
		wg.Add(1)
		sem <- struct{}{}
		go func(path []string) {
			defer wg.Done()
			defer func() { <-sem }()

			helpText, err := runHelp(ctx, cfg.Command, path, cfg.Env, helpTimeout)
			if err != nil {
				return
			}
			schema, err := helpparse.Parse(helpText)
			if err != nil {
				return
			}

			tool := expandedTool(h.Slug, cfg.Command, path)
			h.mu.Lock()
			for i := range h.tools {
				if h.tools[i].Name == tool.Name {
					h.tools[i].InputSchema = schema
					break
				}
			}
			h.mu.Unlock()
		}(path)
	}
	wg.Wait()
}

// runHelp invokes `{command} {prefix}... --help` with env applied on top
// of the current process environment, returning combined stdout (falling
// back to stderr if stdout is empty — some CLIs print help to stderr).
func runHelp(ctx context.Context, command string, prefix []string, env map[string]string, timeout time.Duration) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	args := append(append([]string{}, prefix...), "--help")
	cmd := exec.CommandContext(ctx, command, args...)
	applyEnv(cmd, env)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	// Many CLIs exit non-zero on --help (or exit 0); either way, if we got
	// text back, that's the signal we want — the help parser is the real
	// arbiter of usefulness.
	_ = cmd.Run()

	if stdout.Len() > 0 {
		return stdout.String(), nil
	}
	if stderr.Len() > 0 {
		return stderr.String(), nil
	}
	return "", fmt.Errorf("no output from '%s %s'", command, strings.Join(args, " "))
}

func applyEnv(cmd *exec.Cmd, env map[string]string) {
	if len(env) == 0 {
		return
	}
	cmd.Env = cmd.Environ()
	for k, v := range env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}
}

// CallTool executes name (the handle's un-namespaced tool name) with
// arguments, enforcing the access guard before spawning anything. When
// the handle is expanded, name is the "_"-joined subcommand path encoded
// at registration time; it's split and prepended to the user-supplied
// args before the guard check and execution.
func (h *Handle) CallTool(ctx context.Context, name string, arguments json.RawMessage) (*CallResult, error) {
	userArgs := extractArgsFromParams(arguments)

	var fullArgs []string
	if h.Expanded {
		fullArgs = append(strings.Split(name, "_"), userArgs...)
	} else {
		fullArgs = userArgs
	}

	result, hint := guard.Check(h.Command, fullArgs, h.guard)
	if result != guard.Allowed {
		return nil, porterr.New(porterr.AccessDenied, h.Slug, hint)
	}

	cmdArgs := append(append([]string{}, fullArgs...), h.InjectFlags...)
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	cmd := exec.CommandContext(runCtx, h.Command, cmdArgs...)
	applyEnv(cmd, h.Env)

	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return nil, porterr.New(porterr.InitializationFailed, h.Slug, fmt.Sprintf("failed to pipe stdout for '%s': %s", h.Command, err))
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return nil, porterr.New(porterr.InitializationFailed, h.Slug, fmt.Sprintf("failed to pipe stderr for '%s': %s", h.Command, err))
	}

	if err := cmd.Start(); err != nil {
		return nil, porterr.New(porterr.InitializationFailed, h.Slug, fmt.Sprintf("failed to spawn '%s': %s", h.Command, err))
	}

	type drained struct {
		stdout, stderr []byte
		err            error
	}
	done := make(chan drained, 1)
	go func() {
		var stdout, stderr bytes.Buffer
		var wg sync.WaitGroup
		wg.Add(2)
		go func() { defer wg.Done(); stdout.ReadFrom(stdoutPipe) }()
		go func() { defer wg.Done(); stderr.ReadFrom(stderrPipe) }()
		wg.Wait()
		err := cmd.Wait()
		done <- drained{stdout: stdout.Bytes(), stderr: stderr.Bytes(), err: err}
	}()

	select {
	case d := <-done:
		exitCode := 0
		if d.err != nil {
			if exitErr, ok := d.err.(*exec.ExitError); ok {
				exitCode = exitErr.ExitCode()
			} else {
				return nil, porterr.New(porterr.Transport, h.Slug, fmt.Sprintf("process I/O error: %s", d.err))
			}
		}

		stdoutText := string(d.stdout)
		isError := exitCode != 0 && len(d.stderr) > 0

		var js any
		if json.Unmarshal(d.stdout, &js) == nil {
			return &CallResult{Text: stdoutText, IsJSON: true, IsError: isError}, nil
		}
		return &CallResult{Text: stdoutText, IsError: isError}, nil

	case <-time.After(h.Timeout):
		cancel() // SIGKILL via CommandContext cancellation
		return nil, porterr.New(porterr.CallTimeout, h.Slug, "")
	}
}

// extractArgsFromParams reconstructs a positional argument vector from
// tool-call arguments: an "args" array is used verbatim as leading
// positional tokens, and every other key becomes a "--key value" pair
// (hyphenated), with boolean true emitting a bare flag and boolean
// false/null skipped entirely.
func extractArgsFromParams(arguments json.RawMessage) []string {
	if len(arguments) == 0 {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(arguments, &m); err != nil {
		return nil
	}

	var out []string
	if rawArgs, ok := m["args"]; ok {
		if arr, ok := rawArgs.([]any); ok {
			for _, v := range arr {
				if s, ok := v.(string); ok {
					out = append(out, s)
				}
			}
		}
	}

	for key, value := range m {
		if key == "args" {
			continue
		}
		flag := "--" + strings.ReplaceAll(key, "_", "-")
		switch v := value.(type) {
		case bool:
			if v {
				out = append(out, flag)
			}
		case nil:
			// skip
		case string:
			out = append(out, flag, v)
		case float64:
			out = append(out, flag, strconv.FormatFloat(v, 'f', -1, 64))
		default:
			b, _ := json.Marshal(v)
			out = append(out, flag, string(b))
		}
	}

	return out
}
