// Package gateway adapts a registry.Manager to the MCP wire protocol over
// two transports: newline-delimited JSON-RPC on stdio, and JSON-RPC POST
// requests against a Streamable HTTP endpoint. Unlike the teacher's server,
// there is no namespace-selection step — every enabled backend's tools are
// always exposed, since Porter has no namespace-grouping concept.
package gateway

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"sync"

	"github.com/relaygate/porter/internal/events"
	"github.com/relaygate/porter/internal/registry"
)

// Options configures a Gateway.
type Options struct {
	ServerName      string
	ServerVersion   string
	ProtocolVersion string
}

// Gateway is an MCP server backed by a registry.Manager. A single Gateway
// can serve both the stdio loop (RunStdio) and any number of concurrent
// HTTP requests (ServeHTTP) — requests mutate no shared state beyond the
// one-time initialized flag and the tools-list-changed peer list (guarded
// by peersMu), so both can run against the same instance.
type Gateway struct {
	opts    Options
	manager *registry.Manager

	mu          sync.RWMutex
	initialized bool

	writeMu sync.Mutex

	peersMu sync.Mutex
	peers   []*peer
}

// peer is a connected client that has completed initialization, tracked so
// a config hot-reload can push it a tools-list-changed notification.
type peer struct {
	w io.Writer
}

// New builds a Gateway over manager, subscribing to bus so that a
// registry hot-reload (events.RegistryReloadedEvent) pushes a
// tools-list-changed notification to every registered peer.
func New(opts Options, manager *registry.Manager, bus *events.Bus) *Gateway {
	g := &Gateway{opts: opts, manager: manager}
	bus.Subscribe(g.onEvent)
	return g
}

func (g *Gateway) onEvent(ev events.Event) {
	if ev.Type() != events.EventRegistryReloaded {
		return
	}
	g.broadcastToolsListChanged()
}

// registerPeer adds w to the peer list, so a future hot-reload notifies it.
func (g *Gateway) registerPeer(w io.Writer) {
	g.peersMu.Lock()
	defer g.peersMu.Unlock()
	g.peers = append(g.peers, &peer{w: w})
}

// broadcastToolsListChanged sends a tools/list_changed notification to every
// registered peer, pruning any peer whose write fails.
func (g *Gateway) broadcastToolsListChanged() {
	g.peersMu.Lock()
	current := g.peers
	g.peers = nil
	g.peersMu.Unlock()

	live := make([]*peer, 0, len(current))
	for _, p := range current {
		if err := g.sendNotification(p.w, "notifications/tools/list_changed"); err != nil {
			log.Printf("gateway: pruning peer after tools-list-changed send failure: %v", err)
			continue
		}
		live = append(live, p)
	}

	g.peersMu.Lock()
	g.peers = append(live, g.peers...)
	g.peersMu.Unlock()
}

// RunStdio reads newline-delimited JSON-RPC messages from r and writes
// responses to w until ctx is cancelled or r reaches EOF.
func (g *Gateway) RunStdio(ctx context.Context, r io.Reader, w io.Writer) error {
	reader := bufio.NewReader(r)

	type readResult struct {
		line []byte
		err  error
	}
	lines := make(chan readResult)

	go func() {
		defer close(lines)
		for {
			line, err := reader.ReadBytes('\n')
			if len(line) > 0 {
				line = append([]byte(nil), line...)
			}
			select {
			case lines <- readResult{line, err}:
				if err != nil {
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case r, ok := <-lines:
			if !ok {
				return nil
			}

			line := bytes.TrimSpace(r.line)
			if len(line) > 0 {
				g.handleMessage(ctx, w, line, w)
			}

			if r.err != nil {
				if r.err == io.EOF {
					log.Println("gateway: client closed connection (EOF)")
					return nil
				}
				return fmt.Errorf("read request: %w", r.err)
			}
		}
	}
}

// handleMessage parses and dispatches a single JSON-RPC message, writing
// its response (if any) to w. peerWriter registers the sender as a
// tools-list-changed peer on an initialized notification; pass nil for
// transports with no open channel to push a later notification into (HTTP's
// JSON response mode).
func (g *Gateway) handleMessage(ctx context.Context, w io.Writer, data []byte, peerWriter io.Writer) {
	var msg rpcMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		g.send(w, rpcResponse{JSONRPC: "2.0", Error: ErrParseError(err.Error())})
		return
	}

	if msg.ID == nil {
		g.handleNotification(peerWriter, msg.Method, msg.Params)
		return
	}

	result, rpcErr := g.handleRequest(ctx, msg.Method, msg.Params)
	if rpcErr != nil {
		g.send(w, rpcResponse{JSONRPC: "2.0", ID: msg.ID, Error: rpcErr})
		return
	}
	resultJSON, err := json.Marshal(result)
	if err != nil {
		g.send(w, rpcResponse{JSONRPC: "2.0", ID: msg.ID, Error: ErrInternalError(err.Error())})
		return
	}
	g.send(w, rpcResponse{JSONRPC: "2.0", ID: msg.ID, Result: resultJSON})
}

func (g *Gateway) handleNotification(peerWriter io.Writer, method string, params json.RawMessage) {
	switch method {
	case "notifications/initialized":
		log.Println("gateway: client sent initialized notification")
		if peerWriter != nil {
			g.registerPeer(peerWriter)
		}
	case "notifications/cancelled":
		log.Printf("gateway: received cancellation notification: %s", string(params))
	default:
		log.Printf("gateway: unknown notification: %s", method)
	}
}

func (g *Gateway) handleRequest(ctx context.Context, method string, params json.RawMessage) (any, *RPCError) {
	switch method {
	case "initialize":
		return g.handleInitialize(params)
	case "ping":
		return struct{}{}, nil
	case "tools/list":
		return g.handleToolsList()
	case "tools/call":
		return g.handleToolsCall(ctx, params)
	default:
		return nil, ErrMethodNotFound(method)
	}
}

func (g *Gateway) handleInitialize(params json.RawMessage) (any, *RPCError) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.initialized {
		return nil, ErrInvalidRequest("already initialized")
	}

	var req initializeRequest
	if len(params) > 0 {
		if err := json.Unmarshal(params, &req); err != nil {
			return nil, ErrInvalidParams(err.Error())
		}
	}

	log.Printf("gateway: initialize from %s %s (protocol: %s)", req.ClientInfo.Name, req.ClientInfo.Version, req.ProtocolVersion)

	g.initialized = true

	return initializeResult{
		ProtocolVersion: g.opts.ProtocolVersion,
		ServerInfo:      serverInfo{Name: g.opts.ServerName, Version: g.opts.ServerVersion},
		Capabilities:    capabilities{Tools: &toolsCapability{ListChanged: true}},
	}, nil
}

func (g *Gateway) requireInitialized() *RPCError {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if !g.initialized {
		return ErrInvalidRequest("not initialized")
	}
	return nil
}

func (g *Gateway) handleToolsList() (any, *RPCError) {
	if rpcErr := g.requireInitialized(); rpcErr != nil {
		return nil, rpcErr
	}

	tools := g.manager.Registry().Tools()
	out := make([]toolSummary, len(tools))
	for i, t := range tools {
		out[i] = toolSummary{Name: t.Name, Description: t.Description, InputSchema: t.InputSchema}
	}
	return toolsListResult{Tools: out}, nil
}

func (g *Gateway) handleToolsCall(ctx context.Context, params json.RawMessage) (any, *RPCError) {
	if rpcErr := g.requireInitialized(); rpcErr != nil {
		return nil, rpcErr
	}

	var req toolsCallRequest
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, ErrInvalidParams(err.Error())
	}

	result, err := g.manager.Registry().CallTool(ctx, req.Name, req.Arguments)
	if err != nil {
		return nil, errToRPC(err)
	}
	return result, nil
}

// send marshals and writes msg as a single NDJSON line. It holds writeMu,
// which sendNotification also holds, so a tools-list-changed notification
// broadcast after a registry reload never interleaves with a response
// written to the same writer.
func (g *Gateway) send(w io.Writer, msg rpcResponse) {
	g.writeMu.Lock()
	defer g.writeMu.Unlock()

	data, err := json.Marshal(msg)
	if err != nil {
		log.Printf("gateway: failed to marshal response: %v", err)
		return
	}

	_, _ = w.Write(data)
	_, _ = w.Write([]byte("\n"))
}

// sendNotification marshals and writes a parameterless JSON-RPC
// notification (no id, no response expected) as a single NDJSON line,
// returning any write error so the caller can prune a dead peer.
func (g *Gateway) sendNotification(w io.Writer, method string) error {
	g.writeMu.Lock()
	defer g.writeMu.Unlock()

	data, err := json.Marshal(rpcNotification{JSONRPC: "2.0", Method: method})
	if err != nil {
		return err
	}
	data = append(data, '\n')
	_, err = w.Write(data)
	return err
}
