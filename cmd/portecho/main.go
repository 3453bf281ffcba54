package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "portecho",
		Short: "Multi-port WebSocket echo server",
		Long: `portecho serves WebSocket echo endpoints on any number of
independently configured TCP ports, driven by a shared worker pool.

Each port runs one of two handler variants:

  • async — event-driven, serialized per connection on the pool
  • sync  — one dedicated goroutine per connection, blocking I/O`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		serveCmd(),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}
