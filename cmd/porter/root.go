package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "porter",
	Short: "Porter gateway for CLI tools and MCP-style servers",
	Long: `Porter fronts subprocess MCP-style servers, HTTP MCP-style servers, and
CLI programs as a single namespaced tool catalog.

Use 'porter serve' to run a Streamable HTTP MCP server, or 'porter stdio'
to bridge the same catalog over stdio (e.g. for Claude Desktop).`,
	Version: fmt.Sprintf("%s (commit: %s)", version, commit),
}

func init() {
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true
}

// Execute runs the root command, exiting non-zero on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
