package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

func newQueueCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Control the task queue",
	}
	cmd.AddCommand(newQueuePauseCommand())
	cmd.AddCommand(newQueueResumeCommand())
	cmd.AddCommand(newQueuePurgeCommand())
	cmd.AddCommand(newQueueEstopCommand())
	return cmd
}

func newQueuePauseCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "pause",
		Short: "Pause admission; running tasks finish normally",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := newClient().post("/api/v1/queue/pause", nil)
			if err != nil {
				return err
			}
			outputJSON(data)
			return nil
		},
	}
}

func newQueueResumeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "resume",
		Short: "Resume admission and dispatch",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := newClient().post("/api/v1/queue/resume", nil)
			if err != nil {
				return err
			}
			outputJSON(data)
			return nil
		},
	}
}

func newQueuePurgeCommand() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Abort every queued (not yet running) task",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes && !confirm("Purge all queued tasks?") {
				return nil
			}
			data, err := newClient().post("/api/v1/queue/purge", nil)
			if err != nil {
				return err
			}
			outputJSON(data)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Skip confirmation")
	return cmd
}

func newQueueEstopCommand() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "emergency-stop",
		Short: "Abort everything, queued and running, and pause the queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes && !confirm("Emergency stop aborts ALL tasks. Continue?") {
				return nil
			}
			data, err := newClient().post("/api/v1/queue/emergency-stop", nil)
			if err != nil {
				return err
			}
			outputJSON(data)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Skip confirmation")
	return cmd
}

func confirm(prompt string) bool {
	fmt.Fprintf(os.Stderr, "%s [y/N]: ", prompt)
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}
