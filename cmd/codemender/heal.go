package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/spf13/cobra"
)

var (
	healForceReload bool
	healParallelRun bool
)

var healCmd = &cobra.Command{
	Use:   "heal",
	Short: "Generate and self-heal tests",
}

var healSuiteCmd = &cobra.Command{
	Use:   "suite",
	Short: "Repair every failing test in the suite",
	RunE:  runHealSuite,
}

var healCandidatesCmd = &cobra.Command{
	Use:   "candidates [file.json]",
	Short: "Generate tests for candidates from a JSON file",
	Long: `Read an array of test candidates from a JSON file and heal them.
By default candidates are healed one at a time against the working tree;
with --parallel each candidate gets its own sandboxed subagent.`,
	Args: cobra.ExactArgs(1),
	RunE: runHealCandidates,
}

var healCacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Show the persisted healed-test cache",
	RunE:  runHealCache,
}

func init() {
	healCandidatesCmd.Flags().BoolVar(&healForceReload, "force-reload", false, "Skip the cache fast path")
	healCandidatesCmd.Flags().BoolVar(&healParallelRun, "parallel", false, "Heal candidates concurrently in sandboxes")
	healCmd.AddCommand(healSuiteCmd)
	healCmd.AddCommand(healCandidatesCmd)
	healCmd.AddCommand(healCacheCmd)
	rootCmd.AddCommand(healCmd)
}

func runHealSuite(cmd *cobra.Command, args []string) error {
	return startHeal("/api/heal/suite", nil)
}

func runHealCandidates(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("reading candidates: %w", err)
	}
	var candidates []json.RawMessage
	if err := json.Unmarshal(data, &candidates); err != nil {
		return fmt.Errorf("parsing candidates: %w", err)
	}
	if len(candidates) == 0 {
		return fmt.Errorf("no candidates in %s", args[0])
	}

	if healParallelRun {
		body, _ := json.Marshal(map[string]any{"candidates": candidates})
		return startHeal("/api/heal/parallel", body)
	}

	for _, c := range candidates {
		body, _ := json.Marshal(map[string]any{
			"candidate":    c,
			"force_reload": healForceReload,
		})
		if err := startHeal("/api/heal/candidate", body); err != nil {
			return err
		}
	}
	return nil
}

func runHealCache(cmd *cobra.Command, args []string) error {
	resp, err := http.Get(serverURL + "/api/heal/cache")
	if err != nil {
		return fmt.Errorf("connecting to server: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server error (%d): %s", resp.StatusCode, string(body))
	}

	var entries []struct {
		TestName string `json:"test_name"`
		TestPath string `json:"test_path"`
		Passed   bool   `json:"passed"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		return fmt.Errorf("parsing response: %w", err)
	}
	if len(entries) == 0 {
		fmt.Println("Cache is empty.")
		return nil
	}
	for _, e := range entries {
		mark := "✗"
		if e.Passed {
			mark = "✓"
		}
		fmt.Printf("%s %s (%s)\n", mark, e.TestName, e.TestPath)
	}
	return nil
}

// startHeal kicks off a healing run and follows its event stream.
func startHeal(path string, body []byte) error {
	resp, err := http.Post(serverURL+path, "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("connecting to server: %w\nIs the server running? Start it with: codemender serve", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server error (%d): %s", resp.StatusCode, string(respBody))
	}

	var run struct {
		ID     string `json:"id"`
		Prompt string `json:"prompt"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&run); err != nil {
		return fmt.Errorf("parsing response: %w", err)
	}

	fmt.Printf("Run %s started: %s\n\n", run.ID, run.Prompt)
	return streamEvents(run.ID, false)
}
