package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"
)

func newTaskCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "task",
		Short: "Submit and inspect tasks",
	}
	cmd.AddCommand(newTaskSubmitCommand())
	cmd.AddCommand(newTaskShowCommand())
	cmd.AddCommand(newTaskLogsCommand())
	cmd.AddCommand(newTaskAbortCommand())
	cmd.AddCommand(newTaskWatchCommand())
	return cmd
}

func newTaskSubmitCommand() *cobra.Command {
	var (
		flowHint string
		priority int
		session  string
		watch    bool
	)
	cmd := &cobra.Command{
		Use:   "submit <content>",
		Short: "Submit a task",
		Args:  cobra.MinimumNArgs(1),
		Example: `  spindlectl task submit "what time is it?"
  spindlectl task submit --flow=self_review "write a binary search in Go"
  spindlectl task submit --watch "summarize this repo"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]interface{}{
				"content": strings.Join(args, " "),
			}
			if flowHint != "" {
				body["flow_hint"] = flowHint
			}
			if priority != 0 {
				body["priority"] = priority
			}
			if session != "" {
				body["session_id"] = session
			}

			data, err := newClient().post("/api/v1/tasks", body)
			if err != nil {
				return err
			}

			if !watch {
				outputJSON(data)
				return nil
			}

			var resp struct {
				ID string `json:"id"`
			}
			if err := json.Unmarshal(data, &resp); err != nil {
				return fmt.Errorf("failed to parse submit response: %w", err)
			}
			return watchTask(resp.ID)
		},
	}
	cmd.Flags().StringVar(&flowHint, "flow", "", "Flow hint (direct, self_review, consensus, campaign, pipeline, self_healing)")
	cmd.Flags().IntVar(&priority, "priority", 0, "Scheduling priority (higher runs first)")
	cmd.Flags().StringVar(&session, "session", "", "Session ID for knowledge recall")
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "Stream output until the task finishes")
	return cmd
}

func newTaskShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show <task-id>",
		Short: "Show a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := newClient().get("/api/v1/tasks/"+args[0], nil)
			if err != nil {
				return err
			}
			outputJSON(data)
			return nil
		},
	}
}

func newTaskLogsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "logs <task-id>",
		Short: "Show a task's log entries",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := newClient().get("/api/v1/tasks/"+args[0]+"/logs", nil)
			if err != nil {
				return err
			}
			outputJSON(data)
			return nil
		},
	}
}

func newTaskAbortCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "abort <task-id>",
		Short: "Abort a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := newClient().post("/api/v1/tasks/"+args[0]+"/abort", nil)
			if err != nil {
				return err
			}
			outputJSON(data)
			return nil
		},
	}
}

func newTaskWatchCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "watch <task-id>",
		Short: "Stream a running task's output",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return watchTask(args[0])
		},
	}
}

// watchTask connects to the task's WebSocket stream and prints deltas as
// they arrive, then the terminal status.
func watchTask(taskID string) error {
	u, err := url.Parse(serverURL)
	if err != nil {
		return fmt.Errorf("invalid server URL: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = "/api/v1/tasks/" + taskID + "/stream"

	header := http.Header{}
	if authToken != "" {
		header.Set("Authorization", "Bearer "+authToken)
	}

	conn, _, err := websocket.DefaultDialer.Dial(u.String(), header)
	if err != nil {
		return fmt.Errorf("failed to connect to stream: %w", err)
	}
	defer conn.Close()

	for {
		var ev streamFrame
		if err := conn.ReadJSON(&ev); err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return nil
			}
			return fmt.Errorf("stream read failed: %w", err)
		}

		if ev.Delta != "" {
			fmt.Print(ev.Delta)
		}
		if ev.Terminal {
			fmt.Println()
			if ev.Result != nil && ev.Result.Error != "" {
				return fmt.Errorf("task %s: %s", ev.Status, ev.Result.Error)
			}
			flow := "unknown"
			if ev.Result != nil {
				flow = ev.Result.Flow
			}
			fmt.Fprintf(os.Stderr, "task %s (%s flow)\n", ev.Status, flow)
			return nil
		}
	}
}

type streamFrame struct {
	Delta    string `json:"delta,omitempty"`
	Terminal bool   `json:"terminal,omitempty"`
	Status   string `json:"status,omitempty"`
	Result   *struct {
		Text  string `json:"text"`
		Flow  string `json:"flow"`
		Error string `json:"error,omitempty"`
	} `json:"result,omitempty"`
}
