// Command msgcored runs the messaging client core: it loads configuration,
// bootstraps or resumes a local identity, and drives the Link, Signal
// Engine, flood pipeline and job queue until signalled to stop.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configDir string

var rootCmd = &cobra.Command{
	Use:   "msgcored",
	Short: "msgcored runs the end-to-end encrypted messaging client core",
	Long: `msgcored is the persistent client core for the messaging platform: a
Link connection, a Signal Engine (Double Ratchet sessions, sender-key
groups, prekeys), a flood-message decrypt pipeline, and a job queue for
outbound delivery.

On first run it provisions a new local identity via the device-linking
handshake; on subsequent runs it resumes the identity already persisted
in the configured store.`,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.PersistentFlags().StringVarP(&configDir, "config-dir", "c", "config", "directory to load <environment>.yaml / default.yaml / config.yaml from")
}
