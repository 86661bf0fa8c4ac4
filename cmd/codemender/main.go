// CodeMender
//
// An autonomous coding agent that converses with a model, executes tools
// under a permission policy, and heals failing tests until they pass.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version   = "dev"
	serverURL string
)

var rootCmd = &cobra.Command{
	Use:   "codemender",
	Short: "CodeMender - self-healing coding agent",
	Long: `CodeMender is an autonomous coding agent with self-healing test pipelines.

  codemender serve                         Start the server
  codemender run "fix the flaky retry"     Run a conversation task
  codemender list                          List runs
  codemender status <id>                   Check run status
  codemender logs <id> --follow            Stream run events
  codemender heal suite                    Repair every failing test
  codemender swarm "map the auth flow"     Fan a task out to the role swarm`,
	Version: version,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", envOr("CODEMENDER_SERVER", "http://localhost:7090"), "CodeMender server URL")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
