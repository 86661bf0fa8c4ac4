package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var runProfile string

var runCmd = &cobra.Command{
	Use:   "run [prompt]",
	Short: "Run a conversation task against the working tree",
	Long: `Create a new run that converses with the model and executes tools.
Dangerous tools are gated by the permission profile; under "ask" you will
be prompted to approve each one.

Example:
  codemender run "add rate limiting to the fetch helper"
  codemender run "summarize the storage layer" --profile read-only`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringVarP(&runProfile, "profile", "p", "", "Permission profile (read-only, ask, full-access)")
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	prompt := args[0]

	reqPayload := map[string]string{"prompt": prompt}
	if runProfile != "" {
		reqPayload["profile"] = runProfile
	}
	body, _ := json.Marshal(reqPayload)

	resp, err := http.Post(serverURL+"/api/runs", "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("connecting to server: %w\nIs the server running? Start it with: codemender serve", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server error (%d): %s", resp.StatusCode, string(respBody))
	}

	var result struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("parsing response: %w", err)
	}

	fmt.Printf("Run %s started\n\n", result.ID)
	return streamEvents(result.ID, true)
}

// streamEvents follows a run's SSE stream, rendering events and answering
// permission prompts interactively when interactive is true.
func streamEvents(id string, interactive bool) error {
	req, _ := http.NewRequest("GET", serverURL+"/api/runs/"+id+"/events", nil)
	req.Header.Set("Accept", "text/event-stream")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("connecting to server: %w", err)
	}
	defer resp.Body.Close()

	stdin := bufio.NewReader(os.Stdin)
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}

		var event struct {
			Type string `json:"type"`
			Data string `json:"data"`
		}
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &event); err != nil {
			continue
		}
		var payload struct {
			Tool    string `json:"tool"`
			Summary string `json:"summary"`
			Path    string `json:"path"`
			Text    string `json:"text"`
		}
		json.Unmarshal([]byte(event.Data), &payload)

		switch event.Type {
		case "stream_delta":
			fmt.Print(payload.Text)
		case "stream_done":
			fmt.Println()
		case "tool_call":
			fmt.Printf("\033[36m[tool]\033[0m %s\n", payload.Tool)
		case "tool_result":
			fmt.Printf("\033[36m[tool]\033[0m %s: %s\n", payload.Tool, payload.Summary)
		case "tool_diff", "preview_diff":
			fmt.Printf("\033[33m%s\033[0m\n%s\n", payload.Path, payload.Text)
		case "permission_request":
			if interactive {
				approve := promptApproval(stdin, payload.Tool)
				if err := sendReply(id, approve); err != nil {
					fmt.Fprintf(os.Stderr, "\033[31m[error]\033[0m %v\n", err)
				}
			}
		case "output_text":
			fmt.Println(payload.Text)
		case "heal_report":
			fmt.Printf("\033[36m[heal]\033[0m %s\n", event.Data)
		case "error":
			fmt.Fprintf(os.Stderr, "\033[31m[error]\033[0m %s\n", payload.Text)
			return nil
		case "cancelled":
			fmt.Println("\n\033[33m⊘ Cancelled\033[0m")
			return nil
		case "done":
			fmt.Println("\n\033[32m✓ Done\033[0m")
			return nil
		}
	}

	return scanner.Err()
}

func promptApproval(stdin *bufio.Reader, toolName string) bool {
	fmt.Printf("\n\033[33mAllow %s? [y/N]:\033[0m ", toolName)
	line, err := stdin.ReadString('\n')
	if err != nil {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}

func sendReply(id string, approve bool) error {
	body, _ := json.Marshal(map[string]bool{"approve": approve})
	resp, err := http.Post(serverURL+"/api/runs/"+id+"/reply", "application/json", bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server error (%d): %s", resp.StatusCode, string(respBody))
	}
	return nil
}
