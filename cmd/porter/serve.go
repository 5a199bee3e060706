package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/relaygate/porter/internal/config"
	"github.com/relaygate/porter/internal/events"
	"github.com/relaygate/porter/internal/gateway"
	"github.com/relaygate/porter/internal/pidtrack"
	"github.com/relaygate/porter/internal/registry"
)

var (
	serveConfigPath string
	serveHost       string
	servePort       int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run a Streamable HTTP MCP server exposing all configured tools",
	Long: `Run Porter as a Streamable HTTP MCP server at /mcp.

Connect your MCP client to http://<host>:<port>/mcp.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVarP(&serveConfigPath, "config", "c", "", "Path to porter.toml (default: ./porter.toml or ~/.config/porter/porter.toml)")
	serveCmd.Flags().StringVar(&serveHost, "host", "127.0.0.1", "Bind address")
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 3000, "HTTP port to listen on")

	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	log.SetOutput(os.Stderr)

	configPath, err := resolveConfigPath(serveConfigPath)
	if err != nil {
		return err
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log.Printf("porter serve: loaded config with %d servers, %d cli tools", len(cfg.Servers), len(cfg.CLI))

	bus := events.NewBus()
	defer bus.Close()

	tracker, err := pidtrack.NewPIDTracker()
	if err != nil {
		log.Printf("porter serve: pid tracker unavailable, orphan cleanup disabled: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	manager, err := registry.NewManager(ctx, bus, tracker, cfg, configPath)
	if err != nil {
		return fmt.Errorf("failed to build registry: %w", err)
	}
	defer manager.Shutdown()

	if err := manager.Watch(ctx); err != nil {
		log.Printf("porter serve: config hot-reload disabled: %v", err)
	}

	gw := gateway.New(gateway.Options{
		ServerName:      "porter",
		ServerVersion:   version,
		ProtocolVersion: "2025-06-18",
	}, manager, bus)

	mux := http.NewServeMux()
	mux.Handle("/mcp", gw)

	addr := fmt.Sprintf("%s:%d", serveHost, servePort)
	httpServer := &http.Server{Addr: addr, Handler: mux}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Printf("porter serve: received signal %v, shutting down", sig)
		cancel()
		_ = httpServer.Shutdown(context.Background())
	}()

	log.Printf("porter serve: listening on http://%s/mcp", addr)

	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server error: %w", err)
	}

	log.Println("porter serve: exiting")
	return nil
}
