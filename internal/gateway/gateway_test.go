package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/relaygate/porter/internal/config"
	"github.com/relaygate/porter/internal/events"
	"github.com/relaygate/porter/internal/registry"
)

func newTestManager(t *testing.T) (*registry.Manager, *events.Bus) {
	t.Helper()
	bus := events.NewBus()
	t.Cleanup(bus.Close)

	m, err := registry.NewManager(context.Background(), bus, nil, &config.Config{}, "")
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	t.Cleanup(m.Shutdown)
	return m, bus
}

func newTestGateway(t *testing.T) *Gateway {
	t.Helper()
	m, bus := newTestManager(t)
	return New(Options{ServerName: "porter-test", ServerVersion: "0.0.1", ProtocolVersion: "2025-06-18"}, m, bus)
}

type rpcTestResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *RPCError       `json:"error"`
}

func runStdio(t *testing.T, g *Gateway, input string) []rpcTestResponse {
	t.Helper()
	var out bytes.Buffer
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := g.RunStdio(ctx, strings.NewReader(input), &out); err != nil {
		t.Fatalf("RunStdio() error = %v", err)
	}

	var resps []rpcTestResponse
	dec := json.NewDecoder(&out)
	for dec.More() {
		var r rpcTestResponse
		if err := dec.Decode(&r); err != nil {
			t.Fatalf("decode response: %v", err)
		}
		resps = append(resps, r)
	}
	return resps
}

func TestInitializeSucceeds(t *testing.T) {
	g := newTestGateway(t)

	resps := runStdio(t, g, `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2025-06-18","clientInfo":{"name":"test","version":"1.0"}}}`+"\n")
	if len(resps) != 1 {
		t.Fatalf("got %d responses, want 1", len(resps))
	}
	if resps[0].Error != nil {
		t.Fatalf("unexpected error: %+v", resps[0].Error)
	}

	var result initializeResult
	if err := json.Unmarshal(resps[0].Result, &result); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if result.ServerInfo.Name != "porter-test" {
		t.Errorf("ServerInfo.Name = %q, want porter-test", result.ServerInfo.Name)
	}
	if result.Capabilities.Tools == nil {
		t.Error("expected tools capability to be present")
	}
}

func TestDoubleInitializeFails(t *testing.T) {
	g := newTestGateway(t)

	input := `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2025-06-18","clientInfo":{"name":"test","version":"1.0"}}}
{"jsonrpc":"2.0","id":2,"method":"initialize","params":{"protocolVersion":"2025-06-18","clientInfo":{"name":"test","version":"1.0"}}}
`
	resps := runStdio(t, g, input)
	if len(resps) != 2 {
		t.Fatalf("got %d responses, want 2", len(resps))
	}
	if resps[1].Error == nil {
		t.Fatal("expected second initialize to fail")
	}
}

func TestToolsListBeforeInitializeFails(t *testing.T) {
	g := newTestGateway(t)

	resps := runStdio(t, g, `{"jsonrpc":"2.0","id":1,"method":"tools/list"}`+"\n")
	if len(resps) != 1 {
		t.Fatalf("got %d responses, want 1", len(resps))
	}
	if resps[0].Error == nil {
		t.Fatal("expected tools/list before initialize to fail")
	}
}

func TestToolsListEmptyRegistry(t *testing.T) {
	g := newTestGateway(t)

	input := `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2025-06-18","clientInfo":{"name":"test","version":"1.0"}}}
{"jsonrpc":"2.0","id":2,"method":"tools/list"}
`
	resps := runStdio(t, g, input)
	if len(resps) != 2 {
		t.Fatalf("got %d responses, want 2", len(resps))
	}
	if resps[1].Error != nil {
		t.Fatalf("unexpected error: %+v", resps[1].Error)
	}

	var result toolsListResult
	if err := json.Unmarshal(resps[1].Result, &result); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if len(result.Tools) != 0 {
		t.Errorf("Tools = %+v, want empty", result.Tools)
	}
}

func TestToolsCallUnknownToolReturnsError(t *testing.T) {
	g := newTestGateway(t)

	input := `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2025-06-18","clientInfo":{"name":"test","version":"1.0"}}}
{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"ghost__do_thing","arguments":{}}}
`
	resps := runStdio(t, g, input)
	if len(resps) != 2 {
		t.Fatalf("got %d responses, want 2", len(resps))
	}
	if resps[1].Error == nil {
		t.Fatal("expected call to unknown tool to fail")
	}
	if resps[1].Error.Code != ErrCodeProtocol {
		t.Errorf("Error.Code = %d, want %d (protocol)", resps[1].Error.Code, ErrCodeProtocol)
	}
}

func TestParseErrorOnMalformedJSON(t *testing.T) {
	g := newTestGateway(t)

	var out bytes.Buffer
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := g.RunStdio(ctx, strings.NewReader("{not json\n"), &out); err != nil {
		t.Fatalf("RunStdio() error = %v", err)
	}

	var resp rpcTestResponse
	if err := json.Unmarshal(out.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if resp.Error == nil || resp.Error.Code != ErrCodeParseError {
		t.Fatalf("Error = %+v, want ParseError", resp.Error)
	}
}

func TestHTTPInitializeAndToolsList(t *testing.T) {
	g := newTestGateway(t)
	srv := httptest.NewServer(g)
	defer srv.Close()

	initBody := `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2025-06-18","clientInfo":{"name":"test","version":"1.0"}}}`
	resp, err := http.Post(srv.URL, "application/json", strings.NewReader(initBody))
	if err != nil {
		t.Fatalf("POST initialize: %v", err)
	}
	defer resp.Body.Close()

	var initResp rpcTestResponse
	if err := json.NewDecoder(resp.Body).Decode(&initResp); err != nil {
		t.Fatalf("decode initialize response: %v", err)
	}
	if initResp.Error != nil {
		t.Fatalf("unexpected error: %+v", initResp.Error)
	}

	listBody := `{"jsonrpc":"2.0","id":2,"method":"tools/list"}`
	resp2, err := http.Post(srv.URL, "application/json", strings.NewReader(listBody))
	if err != nil {
		t.Fatalf("POST tools/list: %v", err)
	}
	defer resp2.Body.Close()

	var listResp rpcTestResponse
	if err := json.NewDecoder(resp2.Body).Decode(&listResp); err != nil {
		t.Fatalf("decode tools/list response: %v", err)
	}
	if listResp.Error != nil {
		t.Fatalf("unexpected error: %+v", listResp.Error)
	}
}

// syncBuffer guards a bytes.Buffer so it can be written by the gateway's
// event-bus dispatch goroutine while a test goroutine polls it.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestHotReloadNotifiesInitializedPeerOnce(t *testing.T) {
	m, bus := newTestManager(t)
	g := New(Options{ServerName: "porter-test", ServerVersion: "0.0.1", ProtocolVersion: "2025-06-18"}, m, bus)

	out := &syncBuffer{}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	input := `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2025-06-18","clientInfo":{"name":"test","version":"1.0"}}}
{"jsonrpc":"2.0","method":"notifications/initialized"}
`
	if err := g.RunStdio(ctx, strings.NewReader(input), out); err != nil {
		t.Fatalf("RunStdio() error = %v", err)
	}

	bus.Publish(events.NewRegistryReloadedEvent(3))

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if strings.Contains(out.String(), "notifications/tools/list_changed") {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	notifCount := 0
	for _, line := range lines {
		var n rpcNotification
		if err := json.Unmarshal([]byte(line), &n); err == nil && n.Method == "notifications/tools/list_changed" {
			notifCount++
		}
	}
	if notifCount != 1 {
		t.Fatalf("got %d tools/list_changed notifications, want exactly 1 (output: %s)", notifCount, out.String())
	}
}

func TestHTTPRejectsNonPost(t *testing.T) {
	g := newTestGateway(t)
	srv := httptest.NewServer(g)
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusMethodNotAllowed)
	}
}
