package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

const version = "1.0.0"

var (
	serverURL string
	authToken string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "spindlectl",
		Short: "Spindle CLI - interact with your Spindle server",
		Long: `spindlectl is a command-line interface for interacting with Spindle servers.
All output is structured JSON by default (pipe through jq for human-readable formatting).`,
		Version: version,
	}

	// Global flags
	rootCmd.PersistentFlags().StringVarP(&serverURL, "server", "s", getDefaultServer(), "Spindle server URL")
	rootCmd.PersistentFlags().StringVarP(&authToken, "token", "t", os.Getenv("SPINDLE_TOKEN"), "Bearer token (defaults to $SPINDLE_TOKEN)")

	// Add subcommands
	rootCmd.AddCommand(newTaskCommand())
	rootCmd.AddCommand(newQueueCommand())
	rootCmd.AddCommand(newWorkerCommand())
	rootCmd.AddCommand(newLogCommand())
	rootCmd.AddCommand(newStatusCommand())
	rootCmd.AddCommand(newLoginCommand())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func getDefaultServer() string {
	if server := os.Getenv("SPINDLE_SERVER"); server != "" {
		return server
	}
	return "http://localhost:8080"
}

// --- HTTP client ---

type Client struct {
	BaseURL string
	HTTP    *http.Client
}

func newClient() *Client {
	return &Client{
		BaseURL: serverURL,
		HTTP:    &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *Client) do(method, path string, params url.Values, data interface{}) ([]byte, error) {
	u := fmt.Sprintf("%s%s", c.BaseURL, path)
	if params != nil {
		u += "?" + params.Encode()
	}

	var body io.Reader
	if data != nil {
		jsonData, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal data: %w", err)
		}
		body = strings.NewReader(string(jsonData))
	}

	req, err := http.NewRequest(method, u, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if data != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if authToken != "" {
		req.Header.Set("Authorization", "Bearer "+authToken)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("server error (%d): %s", resp.StatusCode, string(respBody))
	}

	return respBody, nil
}

func (c *Client) get(path string, params url.Values) ([]byte, error) {
	return c.do("GET", path, params, nil)
}

func (c *Client) post(path string, data interface{}) ([]byte, error) {
	return c.do("POST", path, nil, data)
}

// outputJSON prints raw JSON data. All commands use this as the primary output path.
func outputJSON(data []byte) {
	var v interface{}
	if err := json.Unmarshal(data, &v); err != nil {
		fmt.Println(string(data))
		return
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(v)
}

// --- Status command ---

func newStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show queue status",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := newClient().get("/api/v1/queue/status", nil)
			if err != nil {
				return err
			}
			outputJSON(data)
			return nil
		},
	}
}

// --- Worker command ---

func newWorkerCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Inspect registered workers",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List registered worker roles",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := newClient().get("/api/v1/workers", nil)
			if err != nil {
				return err
			}
			outputJSON(data)
			return nil
		},
	})
	return cmd
}

// --- Log command ---

func newLogCommand() *cobra.Command {
	var (
		limit  int
		level  string
		source string
		taskID string
	)
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Fetch recent system logs",
		Example: `  spindlectl logs --limit=50
  spindlectl logs --level=error --task=<task-id>`,
		RunE: func(cmd *cobra.Command, args []string) error {
			params := url.Values{}
			params.Set("limit", fmt.Sprintf("%d", limit))
			if level != "" {
				params.Set("level", level)
			}
			if source != "" {
				params.Set("source", source)
			}
			if taskID != "" {
				params.Set("task_id", taskID)
			}
			data, err := newClient().get("/api/v1/logs", params)
			if err != nil {
				return err
			}
			outputJSON(data)
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 100, "Maximum entries to return")
	cmd.Flags().StringVar(&level, "level", "", "Filter by level (debug, info, warn, error)")
	cmd.Flags().StringVar(&source, "source", "", "Filter by source component")
	cmd.Flags().StringVar(&taskID, "task", "", "Filter by task ID")
	return cmd
}
