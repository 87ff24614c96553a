// Command socratic runs the Socratic chat gateway and its companion tools.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

var configPath string

var rootCmd = &cobra.Command{
	Use:           "socratic",
	Short:         "Socratic tutoring chat gateway",
	Long:          "socratic serves a streaming, tool-augmented Socratic tutor over HTTP and exposes its tools over MCP.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config.yaml", "path to the YAML config file (optional)")
	rootCmd.AddCommand(serveCmd, mcpCmd, keygenCmd, tokenCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
