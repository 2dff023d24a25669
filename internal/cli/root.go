// Package cli defines the askrelay command line.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev" // set via ldflags at build time

var rootCmd = &cobra.Command{
	Use:   "askrelay",
	Short: "HTTP relay between a chat UI and a local Ollama server",
	Long: `askrelay accepts chat questions over HTTP, forwards them to a local
Ollama server and returns the answer, keeping per-session conversation
history in memory.`,
	Version:       version,
	SilenceErrors: true,
	SilenceUsage:  true,
}

// Execute runs the root command. Called from main.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(newServeCmd())
}
