// Package stdioproc supervises a subprocess MCP-style backend: spawn,
// handshake, tool discovery, call forwarding, and crash-triggered restart
// with exponential backoff.
//
// Non-JSON stdout lines (banners, warnings) are filtered out before they
// reach the wire client; stderr is drained into a rolling buffer and
// published to the event bus line by line.
package stdioproc

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/relaygate/porter/internal/backend"
	"github.com/relaygate/porter/internal/config"
	"github.com/relaygate/porter/internal/events"
	"github.com/relaygate/porter/internal/health"
	"github.com/relaygate/porter/internal/mcpproto"
	"github.com/relaygate/porter/internal/pidtrack"
	"github.com/relaygate/porter/internal/porterr"
)

const (
	maxFailures    = 5
	backoffInitial = 1 * time.Second
	backoffMax     = 30 * time.Second
	callBuffer     = 32
)

// Spawn starts a subprocess backend's supervisor loop in a background
// goroutine and returns its handle immediately (Starting state); the
// handle's tool list and health populate asynchronously once the first
// handshake completes.
func Spawn(ctx context.Context, bus *events.Bus, tracker *pidtrack.PIDTracker, cfg config.ServerConfig) *backend.Handle {
	runCtx, cancel := context.WithCancel(ctx)
	h := backend.NewHandle(cfg.Slug, cancel, callBuffer)

	go run(runCtx, h, bus, tracker, cfg)

	return h
}

func run(ctx context.Context, h *backend.Handle, bus *events.Bus, tracker *pidtrack.PIDTracker, cfg config.ServerConfig) {
	defer h.CloseDone()

	slug := cfg.Slug
	consecutiveFailures := 0
	backoff := backoffInitial

	for {
		h.SetHealth(bus, health.Starting)

		if ctx.Err() != nil {
			return
		}

		log.Printf("stdioproc: %s: spawning", slug)

		cmd, stdin, filteredStdout, stderrDone, err := spawnAndWire(ctx, bus, slug, cfg)
		if err != nil {
			log.Printf("stdioproc: %s: spawn failed: %v", slug, err)
			if backoffOrStop(ctx, h, bus, slug, &consecutiveFailures, &backoff) {
				return
			}
			continue
		}

		if tracker != nil {
			if err := tracker.Add(slug, cmd.Process.Pid, cfg.Command, cfg.Args); err != nil {
				log.Printf("stdioproc: %s: failed to track PID: %v", slug, err)
			}
		}

		transport := mcpproto.NewStdioTransport(stdin, filteredStdout)
		client := mcpproto.NewClient(transport)

		handshakeTimeout := time.Duration(cfg.HandshakeTimeoutSecs) * time.Second
		initCtx, initCancel := context.WithTimeout(ctx, handshakeTimeout)
		err = client.Initialize(initCtx)
		initCancel()

		if err != nil {
			log.Printf("stdioproc: %s: handshake failed: %v", slug, err)
			_ = client.Close()
			killAndWait(cmd)
			<-stderrDone
			if backoffOrStop(ctx, h, bus, slug, &consecutiveFailures, &backoff) {
				return
			}
			continue
		}

		discoverTools(ctx, client, slug, h)

		consecutiveFailures = 0
		backoff = backoffInitial
		h.SetHealth(bus, health.Healthy)

		exitCh := make(chan struct{})
		go func() {
			_ = cmd.Wait()
			close(exitCh)
		}()

		exitedUnexpectedly := serveLoop(ctx, h, bus, client, slug, exitCh)

		_ = client.Close()

		if !exitedUnexpectedly {
			killAndWait(cmd)
			<-stderrDone
			return
		}

		<-exitCh
		<-stderrDone
		log.Printf("stdioproc: %s: process exited unexpectedly, restarting", slug)
		h.ClearTools()

		if backoffOrStop(ctx, h, bus, slug, &consecutiveFailures, &backoff) {
			return
		}
	}
}

// spawnAndWire starts the child process, pipes stdio, and starts the
// stderr-drain and stdout-filter goroutines. stderrDone closes once the
// stderr drain goroutine has observed EOF, so callers can wait for it
// before treating the process as fully reaped.
func spawnAndWire(ctx context.Context, bus *events.Bus, slug string, cfg config.ServerConfig) (cmd *exec.Cmd, stdin io.WriteCloser, filteredStdout io.ReadCloser, stderrDone <-chan struct{}, err error) {
	if cfg.Command == "" {
		return nil, nil, nil, nil, porterr.New(porterr.InvalidConfig, slug, "stdio transport requires 'command' field")
	}

	c := exec.CommandContext(ctx, cfg.Command, cfg.Args...)
	if cfg.Cwd != "" {
		c.Dir = cfg.Cwd
	}
	c.Env = buildEnv(config.ResolveEnvVars(cfg.Env))

	stdinPipe, err := c.StdinPipe()
	if err != nil {
		return nil, nil, nil, nil, porterr.New(porterr.Transport, slug, fmt.Sprintf("stdin pipe: %s", err))
	}
	stdoutPipe, err := c.StdoutPipe()
	if err != nil {
		return nil, nil, nil, nil, porterr.New(porterr.Transport, slug, fmt.Sprintf("stdout pipe: %s", err))
	}
	stderrPipe, err := c.StderrPipe()
	if err != nil {
		return nil, nil, nil, nil, porterr.New(porterr.Transport, slug, fmt.Sprintf("stderr pipe: %s", err))
	}

	if err := c.Start(); err != nil {
		return nil, nil, nil, nil, porterr.New(porterr.Transport, slug, fmt.Sprintf("start process: %s", err))
	}

	done := make(chan struct{})
	go drainStderr(slug, bus, stderrPipe, done)

	filtered := mcpproto.FilterJSONLines(ctx, slug, stdoutPipe)

	return c, stdinPipe, filtered, done, nil
}

func drainStderr(slug string, bus *events.Bus, stderr io.Reader, done chan struct{}) {
	defer close(done)
	buf := health.NewStderrBuffer(100)
	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		line := scanner.Text()
		buf.Push(line)
		bus.Publish(events.NewStderrLineEvent(slug, line))
	}
}

func discoverTools(ctx context.Context, client *mcpproto.Client, slug string, h *backend.Handle) {
	listCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	tools, err := client.ListTools(listCtx)
	if err != nil {
		log.Printf("stdioproc: %s: failed to list tools: %v", slug, err)
		return
	}
	h.SetToolsFrom(slug, tools)
	log.Printf("stdioproc: %s: discovered %d tools", slug, len(tools))
}

// serveLoop forwards calls to client until the process exits or ctx is
// cancelled. It returns true
// if the process exited unexpectedly (the caller should restart).
func serveLoop(ctx context.Context, h *backend.Handle, bus *events.Bus, client *mcpproto.Client, slug string, exitCh <-chan struct{}) bool {
	tracker := health.NewErrorRateTracker()

	for {
		select {
		case req := <-h.Calls():
			result, err := client.CallTool(ctx, req.Name, req.Arguments)
			if err != nil {
				tracker.RecordError()
			} else {
				tracker.RecordSuccess()
			}
			h.SetHealth(bus, tracker.State())
			req.Response <- backend.CallResponse{Result: result, Err: err}

		case <-exitCh:
			return true

		case <-ctx.Done():
			return false
		}
	}
}

func killAndWait(cmd *exec.Cmd) {
	if cmd == nil || cmd.Process == nil {
		return
	}
	_ = cmd.Process.Kill()
}

func backoffOrStop(ctx context.Context, h *backend.Handle, bus *events.Bus, slug string, failures *int, backoff *time.Duration) (stop bool) {
	*failures++
	if *failures >= maxFailures {
		log.Printf("stdioproc: %s: exceeded %d consecutive failures, marking unhealthy", slug, maxFailures)
		h.SetHealth(bus, health.Unhealthy)
		return true
	}
	h.SetHealth(bus, health.Degraded)

	select {
	case <-time.After(*backoff):
	case <-ctx.Done():
		return true
	}
	*backoff = nextBackoff(*backoff)
	return false
}

func nextBackoff(b time.Duration) time.Duration {
	return min(b*2, backoffMax)
}

func buildEnv(custom map[string]string) []string {
	env := os.Environ()
	for k, v := range custom {
		prefix := k + "="
		found := false
		for i, e := range env {
			if strings.HasPrefix(e, prefix) {
				env[i] = prefix + v
				found = true
				break
			}
		}
		if !found {
			env = append(env, prefix+v)
		}
	}
	return env
}
