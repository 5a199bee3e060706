package mcpproto

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/relaygate/porter/internal/mcptest/fakeserver"
)

// testPipe creates a pair of connected pipes that can be used for testing.
// Returns (serverStdin, serverStdout, clientStdin, clientStdout).
func testPipe() (serverIn io.ReadCloser, serverOut io.WriteCloser, clientIn io.WriteCloser, clientOut io.ReadCloser) {
	// Client writes to serverIn, server reads from serverIn
	serverReader, clientWriter := io.Pipe()
	// Server writes to clientOut, client reads from clientOut
	clientReader, serverWriter := io.Pipe()

	return serverReader, serverWriter, clientWriter, clientReader
}

// runFakeServer starts a fake server in a goroutine, reading from serverIn and writing to serverOut.
func runFakeServer(ctx context.Context, serverIn io.Reader, serverOut io.Writer, cfg fakeserver.Config) chan error {
	done := make(chan error, 1)
	go func() {
		done <- fakeserver.Serve(ctx, serverIn, serverOut, cfg)
	}()
	return done
}

func TestClient_HappyPath(t *testing.T) {
	serverIn, serverOut, clientIn, clientOut := testPipe()
	defer clientIn.Close()
	defer clientOut.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	cfg := fakeserver.Config{
		Tools: []fakeserver.Tool{
			{Name: "read_file", Description: "Read a file"},
			{Name: "write_file", Description: "Write a file"},
		},
	}

	serverDone := runFakeServer(ctx, serverIn, serverOut, cfg)

	transport := NewStdioTransport(clientIn, clientOut)
	client := NewClient(transport)

	// Initialize
	err := client.Initialize(ctx)
	if err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}

	name, version := client.ServerInfo()
	if name != "fake-server" {
		t.Errorf("expected server name 'fake-server', got %q", name)
	}
	if version != "1.0.0" {
		t.Errorf("expected server version '1.0.0', got %q", version)
	}

	// List tools
	tools, err := client.ListTools(ctx)
	if err != nil {
		t.Fatalf("ListTools failed: %v", err)
	}
	if len(tools) != 2 {
		t.Errorf("expected 2 tools, got %d", len(tools))
	}
	if tools[0].Name != "read_file" {
		t.Errorf("expected first tool 'read_file', got %q", tools[0].Name)
	}

	// Close client - this closes the pipes and server should exit
	client.Close()

	// Wait for server to exit
	select {
	case err := <-serverDone:
		if err != nil && err != io.EOF && err != io.ErrClosedPipe {
			t.Errorf("server error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Error("server didn't exit in time")
	}
}

func TestClient_NotificationBeforeResponse(t *testing.T) {
	serverIn, serverOut, clientIn, clientOut := testPipe()
	defer clientIn.Close()
	defer clientOut.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	cfg := fakeserver.Config{
		Tools:                          []fakeserver.Tool{{Name: "test_tool"}},
		SendNotificationBeforeResponse: true,
	}

	serverDone := runFakeServer(ctx, serverIn, serverOut, cfg)

	transport := NewStdioTransport(clientIn, clientOut)
	client := NewClient(transport)

	// Client should skip notifications and get real response
	err := client.Initialize(ctx)
	if err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}

	tools, err := client.ListTools(ctx)
	if err != nil {
		t.Fatalf("ListTools failed: %v", err)
	}
	if len(tools) != 1 {
		t.Errorf("expected 1 tool, got %d", len(tools))
	}

	client.Close()
	<-serverDone
}

func TestClient_MismatchedIDFirst(t *testing.T) {
	serverIn, serverOut, clientIn, clientOut := testPipe()
	defer clientIn.Close()
	defer clientOut.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	cfg := fakeserver.Config{
		Tools:                 []fakeserver.Tool{{Name: "test_tool"}},
		SendMismatchedIDFirst: true,
	}

	serverDone := runFakeServer(ctx, serverIn, serverOut, cfg)

	transport := NewStdioTransport(clientIn, clientOut)
	client := NewClient(transport)

	// Client should skip mismatched ID and wait for correct one
	err := client.Initialize(ctx)
	if err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}

	client.Close()
	<-serverDone
}

func TestClient_JSONRPCError(t *testing.T) {
	serverIn, serverOut, clientIn, clientOut := testPipe()
	defer clientIn.Close()
	defer clientOut.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	cfg := fakeserver.Config{
		Errors: map[string]fakeserver.JSONRPCError{
			"initialize": {Code: -32600, Message: "Invalid Request"},
		},
	}

	serverDone := runFakeServer(ctx, serverIn, serverOut, cfg)

	transport := NewStdioTransport(clientIn, clientOut)
	client := NewClient(transport)

	err := client.Initialize(ctx)
	if err == nil {
		t.Fatal("expected JSON-RPC error, got nil")
	}
	t.Logf("Got expected error: %v", err)

	client.Close()
	<-serverDone
}

func TestClient_EmptyToolList(t *testing.T) {
	serverIn, serverOut, clientIn, clientOut := testPipe()
	defer clientIn.Close()
	defer clientOut.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	cfg := fakeserver.Config{
		Tools: []fakeserver.Tool{},
	}

	serverDone := runFakeServer(ctx, serverIn, serverOut, cfg)

	transport := NewStdioTransport(clientIn, clientOut)
	client := NewClient(transport)

	if err := client.Initialize(ctx); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}

	tools, err := client.ListTools(ctx)
	if err != nil {
		t.Fatalf("ListTools failed: %v", err)
	}
	if len(tools) != 0 {
		t.Errorf("expected 0 tools, got %d", len(tools))
	}

	client.Close()
	<-serverDone
}

func TestClient_LargeToolList(t *testing.T) {
	serverIn, serverOut, clientIn, clientOut := testPipe()
	defer clientIn.Close()
	defer clientOut.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Generate 100 tools
	tools := make([]fakeserver.Tool, 100)
	for i := 0; i < 100; i++ {
		tools[i] = fakeserver.Tool{
			Name:        "tool_" + string(rune('a'+i%26)),
			Description: "Test tool",
		}
	}

	cfg := fakeserver.Config{
		Tools: tools,
	}

	serverDone := runFakeServer(ctx, serverIn, serverOut, cfg)

	transport := NewStdioTransport(clientIn, clientOut)
	client := NewClient(transport)

	if err := client.Initialize(ctx); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}

	resultTools, err := client.ListTools(ctx)
	if err != nil {
		t.Fatalf("ListTools failed: %v", err)
	}
	if len(resultTools) != 100 {
		t.Errorf("expected 100 tools, got %d", len(resultTools))
	}

	client.Close()
	<-serverDone
}

func TestClient_Timeout(t *testing.T) {
	// NOTE: No timeout scenario is exercised here. StdioTransport.Receive
	// returns ctx.Err() on cancellation and closes the transport's stdout
	// to unblock its reader, so the transport cannot be reused afterwards.
	t.Skip("no timeout scenario implemented for StdioTransport.Receive")
}
