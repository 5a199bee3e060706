package main

import (
	"context"
	"fmt"
	"log"
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

var stdioConfigPath string

var stdioCmd = &cobra.Command{
	Use:   "stdio",
	Short: "Bridge all configured tools over stdio",
	Long: `Run Porter as an MCP server over stdio, for Claude Desktop and other
stdio-based MCP clients.`,
	RunE: runStdio,
}

func init() {
	stdioCmd.Flags().StringVarP(&stdioConfigPath, "config", "c", "", "Path to porter.toml (default: ./porter.toml or ~/.config/porter/porter.toml)")

	rootCmd.AddCommand(stdioCmd)
}

func runStdio(cmd *cobra.Command, args []string) error {
	// stdout is reserved for the JSON-RPC protocol; all logging goes to stderr.
	log.SetOutput(os.Stderr)

	configPath, err := resolveConfigPath(stdioConfigPath)
	if err != nil {
		return err
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log.Printf("porter stdio: loaded config with %d servers, %d cli tools", len(cfg.Servers), len(cfg.CLI))

	bus := events.NewBus()
	defer bus.Close()

	tracker, err := pidtrack.NewPIDTracker()
	if err != nil {
		log.Printf("porter stdio: pid tracker unavailable, orphan cleanup disabled: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	manager, err := registry.NewManager(ctx, bus, tracker, cfg, configPath)
	if err != nil {
		return fmt.Errorf("failed to build registry: %w", err)
	}
	defer manager.Shutdown()

	if err := manager.Watch(ctx); err != nil {
		log.Printf("porter stdio: config hot-reload disabled: %v", err)
	}

	gw := gateway.New(gateway.Options{
		ServerName:      "porter",
		ServerVersion:   version,
		ProtocolVersion: "2025-06-18",
	}, manager, bus)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Printf("porter stdio: received signal %v, shutting down", sig)
		cancel()
	}()

	if err := gw.RunStdio(ctx, os.Stdin, os.Stdout); err != nil && err != context.Canceled {
		return fmt.Errorf("stdio transport error: %w", err)
	}

	log.Println("porter stdio: exiting")
	return nil
}
