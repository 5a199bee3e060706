// Package backend defines the shared handle type both the subprocess
// (internal/backend/stdioproc) and HTTP (internal/backend/httpproc)
// supervisors return to the registry: a namespaced tool list, a health
// classification, and a channel-dispatched call path into the supervisor
// goroutine that owns the underlying mcpproto.Client.
package backend

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"

	"github.com/relaygate/porter/internal/events"
	"github.com/relaygate/porter/internal/health"
	"github.com/relaygate/porter/internal/mcpproto"
	"github.com/relaygate/porter/internal/namespace"
	"github.com/relaygate/porter/internal/porterr"
)

func errShuttingDown(slug string) error {
	return porterr.New(porterr.ShuttingDown, slug, "")
}

// CallRequest is one tool call handed from the registry to a backend's
// supervisor goroutine. The supervisor owns the mcpproto.Client and must
// not be called concurrently, so all calls are serialized through this
// channel rather than invoked directly.
type CallRequest struct {
	Name      string
	Arguments json.RawMessage
	Response  chan<- CallResponse
}

// CallResponse is the result delivered back to the caller of CallTool.
type CallResponse struct {
	Result *mcpproto.ToolResult
	Err    error
}

// Handle is the registry-facing view of a supervised backend. Both
// stdioproc and httpproc construct one and hand ownership of its fields to
// their supervisor goroutine; callers only use the methods below.
type Handle struct {
	slug string

	healthState atomic.Int32 // health.State

	mu    sync.RWMutex
	tools []mcpproto.Tool

	callCh chan CallRequest
	cancel context.CancelFunc
	done   chan struct{}
}

// NewHandle constructs a Handle in the Starting state with a call channel
// of the given buffer size (mirrors the teacher's bounded mpsc channel).
func NewHandle(slug string, cancel context.CancelFunc, callBuffer int) *Handle {
	h := &Handle{
		slug:   slug,
		callCh: make(chan CallRequest, callBuffer),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	h.healthState.Store(int32(health.Starting))
	return h
}

// Slug returns the backend's configured slug.
func (h *Handle) Slug() string { return h.slug }

// Health returns the backend's current health classification.
func (h *Handle) Health() health.State {
	return health.State(h.healthState.Load())
}

// SetHealth updates the backend's health classification, publishing a
// HealthChangedEvent on bus when the classification actually changes.
func (h *Handle) SetHealth(bus *events.Bus, s health.State) {
	old := health.State(h.healthState.Swap(int32(s)))
	if old != s {
		bus.Publish(events.NewHealthChangedEvent(h.slug, old.String(), s.String()))
	}
}

// Tools returns a snapshot of the backend's namespaced tool list.
func (h *Handle) Tools() []mcpproto.Tool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]mcpproto.Tool, len(h.tools))
	copy(out, h.tools)
	return out
}

func (h *Handle) setTools(tools []mcpproto.Tool) {
	h.mu.Lock()
	h.tools = tools
	h.mu.Unlock()
}

// SetToolsFrom namespaces and stores a freshly discovered tool list.
func (h *Handle) SetToolsFrom(slug string, tools []mcpproto.Tool) {
	h.setTools(namespaceTools(slug, tools))
}

// ClearTools empties the tool list, used when a backend goes down and its
// previously advertised tools are no longer callable.
func (h *Handle) ClearTools() {
	h.setTools(nil)
}

// Calls returns the receive side of the call-dispatch channel; only the
// owning supervisor goroutine should read from it.
func (h *Handle) Calls() <-chan CallRequest {
	return h.callCh
}

// CloseDone signals that the supervisor goroutine has finished tearing
// down and will process no further calls.
func (h *Handle) CloseDone() {
	close(h.done)
}

// CallTool sends a call request to the supervisor goroutine and waits for
// its response or ctx cancellation.
func (h *Handle) CallTool(ctx context.Context, name string, arguments json.RawMessage) (*mcpproto.ToolResult, error) {
	respCh := make(chan CallResponse, 1)
	req := CallRequest{Name: name, Arguments: arguments, Response: respCh}

	select {
	case h.callCh <- req:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-h.done:
		return nil, errShuttingDown(h.slug)
	}

	select {
	case resp := <-respCh:
		return resp.Result, resp.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Shutdown cancels the supervisor's context; the supervisor goroutine is
// responsible for closing done once it has torn down its resources.
func (h *Handle) Shutdown() {
	h.cancel()
}

// namespaceTools applies the namespace prefix to every discovered tool,
// preserving InputSchema (namespace.Tool only carries name/description).
func namespaceTools(slug string, tools []mcpproto.Tool) []mcpproto.Tool {
	out := make([]mcpproto.Tool, len(tools))
	for i, t := range tools {
		nsed := namespace.Apply(slug, namespace.Tool{Name: t.Name, Description: t.Description})
		out[i] = mcpproto.Tool{
			Name:        nsed.Name,
			Description: nsed.Description,
			InputSchema: t.InputSchema,
		}
	}
	return out
}
