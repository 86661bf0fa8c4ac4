package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/codemender/codemender"
	"github.com/codemender/codemender/channel/jira"
	"github.com/codemender/codemender/channel/linear"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the CodeMender server",
	Long:  "Start the CodeMender API server that manages runs, tool permissions and healing pipelines.",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	app, err := codemender.NewBuilder().Build()
	if err != nil {
		return fmt.Errorf("building application: %w", err)
	}
	eng := app.Engine()

	if key := os.Getenv("LINEAR_API_KEY"); key != "" {
		app.AddChannel(linear.New(
			key,
			os.Getenv("LINEAR_WEBHOOK_SECRET"),
			os.Getenv("LINEAR_TRIGGER_LABEL"),
			eng.Store(), eng.Bus(), eng,
		))
	}
	if base := os.Getenv("JIRA_BASE_URL"); base != "" {
		app.AddChannel(jira.New(
			base,
			os.Getenv("JIRA_USER_EMAIL"),
			os.Getenv("JIRA_API_TOKEN"),
			os.Getenv("JIRA_WEBHOOK_SECRET"),
			os.Getenv("JIRA_TRIGGER_LABEL"),
			eng.Store(), eng.Bus(), eng,
		))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Graceful shutdown on SIGINT/SIGTERM.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Fprintln(os.Stderr, "\nShutting down...")
		cancel()
	}()

	return app.Start(ctx)
}
