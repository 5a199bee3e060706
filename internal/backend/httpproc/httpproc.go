// Package httpproc supervises an HTTP (Streamable HTTP/SSE) MCP-style
// backend: connect, handshake, tool discovery, call forwarding, and
// reconnect with exponential backoff when the session drops.
//
// Simpler than stdioproc — there is no subprocess to manage, no stdout
// filtering, and no PID tracking; only the persistent connection itself
// can fail.
package httpproc

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/relaygate/porter/internal/backend"
	"github.com/relaygate/porter/internal/config"
	"github.com/relaygate/porter/internal/events"
	"github.com/relaygate/porter/internal/health"
	"github.com/relaygate/porter/internal/mcpproto"
	"github.com/relaygate/porter/internal/porterr"
)

const (
	maxFailures    = 5
	backoffInitial = 1 * time.Second
	backoffMax     = 30 * time.Second
	callBuffer     = 32
)

// Spawn starts an HTTP backend's supervisor loop in a background goroutine
// and returns its handle immediately (Starting state).
func Spawn(ctx context.Context, bus *events.Bus, cfg config.ServerConfig) *backend.Handle {
	runCtx, cancel := context.WithCancel(ctx)
	h := backend.NewHandle(cfg.Slug, cancel, callBuffer)

	go run(runCtx, h, bus, cfg)

	return h
}

func run(ctx context.Context, h *backend.Handle, bus *events.Bus, cfg config.ServerConfig) {
	defer h.CloseDone()

	slug := cfg.Slug
	consecutiveFailures := 0
	backoff := backoffInitial

	for {
		h.SetHealth(bus, health.Starting)

		if ctx.Err() != nil {
			return
		}

		log.Printf("httpproc: %s: connecting", slug)

		client, err := connectAndHandshake(ctx, slug, cfg)
		if err != nil {
			log.Printf("httpproc: %s: connect/handshake failed: %v", slug, err)
			if backoffOrStop(ctx, h, bus, slug, &consecutiveFailures, &backoff) {
				return
			}
			continue
		}

		discoverTools(ctx, client, slug, h)

		consecutiveFailures = 0
		backoff = backoffInitial
		h.SetHealth(bus, health.Healthy)

		exitedUnexpectedly := serveLoop(ctx, h, bus, client)

		_ = client.Close()

		if !exitedUnexpectedly {
			return
		}

		log.Printf("httpproc: %s: session terminated unexpectedly, reconnecting", slug)
		h.ClearTools()

		if backoffOrStop(ctx, h, bus, slug, &consecutiveFailures, &backoff) {
			return
		}
	}
}

func connectAndHandshake(ctx context.Context, slug string, cfg config.ServerConfig) (*mcpproto.Client, error) {
	if cfg.URL == "" {
		return nil, porterr.New(porterr.InvalidConfig, slug, "http transport requires 'url' field")
	}

	transport := mcpproto.NewStreamableHTTPTransport(mcpproto.StreamableHTTPConfig{URL: cfg.URL})

	if err := transport.Connect(ctx); err != nil {
		return nil, porterr.New(porterr.Transport, slug, fmt.Sprintf("connect: %s", err))
	}

	client := mcpproto.NewClient(transport)

	handshakeTimeout := time.Duration(cfg.HandshakeTimeoutSecs) * time.Second
	initCtx, cancel := context.WithTimeout(ctx, handshakeTimeout)
	defer cancel()

	if err := client.Initialize(initCtx); err != nil {
		_ = transport.Close()
		return nil, porterr.New(porterr.InitializationFailed, slug, err.Error())
	}

	return client, nil
}

func discoverTools(ctx context.Context, client *mcpproto.Client, slug string, h *backend.Handle) {
	listCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	tools, err := client.ListTools(listCtx)
	if err != nil {
		log.Printf("httpproc: %s: failed to list tools: %v", slug, err)
		return
	}
	h.SetToolsFrom(slug, tools)
	log.Printf("httpproc: %s: discovered %d tools", slug, len(tools))
}

// serveLoop forwards calls to client until ctx is cancelled or a call fails
// at the transport/protocol level — unlike a tool-level failure (returned as
// ToolResult.IsError), a Go error out of CallTool means the connection
// itself is no longer usable, so the loop unwinds and the caller reconnects.
// This stands in for the teacher's separate session-termination watcher:
// there is no persistent read loop to watch independently of a call, so the
// call path itself is where a dead connection is first observed.
func serveLoop(ctx context.Context, h *backend.Handle, bus *events.Bus, client *mcpproto.Client) bool {
	tracker := health.NewErrorRateTracker()

	for {
		select {
		case req := <-h.Calls():
			result, err := client.CallTool(ctx, req.Name, req.Arguments)
			if err != nil {
				tracker.RecordError()
				h.SetHealth(bus, tracker.State())
				req.Response <- backend.CallResponse{Result: result, Err: err}
				return true
			}
			tracker.RecordSuccess()
			h.SetHealth(bus, tracker.State())
			req.Response <- backend.CallResponse{Result: result, Err: nil}

		case <-ctx.Done():
			return false
		}
	}
}

func backoffOrStop(ctx context.Context, h *backend.Handle, bus *events.Bus, slug string, failures *int, backoff *time.Duration) (stop bool) {
	*failures++
	if *failures >= maxFailures {
		log.Printf("httpproc: %s: exceeded %d consecutive failures, marking unhealthy", slug, maxFailures)
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
