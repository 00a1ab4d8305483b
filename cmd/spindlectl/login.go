package main

import (
	"encoding/json"
	"fmt"
	"os"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

func newLoginCommand() *cobra.Command {
	var username string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in and print a bearer token",
		Long: `Log in to the Spindle server and print a bearer token.
Export it for later commands:

  export SPINDLE_TOKEN=$(spindlectl login -u admin)`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if username == "" {
				return fmt.Errorf("--username is required")
			}

			password, err := readPassword()
			if err != nil {
				return err
			}

			data, err := newClient().post("/auth/login", map[string]string{
				"username": username,
				"password": password,
			})
			if err != nil {
				return err
			}

			var resp struct {
				Token     string `json:"token"`
				ExpiresIn int64  `json:"expires_in"`
			}
			if err := json.Unmarshal(data, &resp); err != nil {
				return fmt.Errorf("failed to parse login response: %w", err)
			}

			// Token on stdout so it can be captured; everything else on stderr.
			fmt.Println(resp.Token)
			fmt.Fprintf(os.Stderr, "token valid for %d seconds\n", resp.ExpiresIn)
			return nil
		},
	}
	cmd.Flags().StringVarP(&username, "username", "u", "", "Username")
	return cmd
}

func readPassword() (string, error) {
	fmt.Fprint(os.Stderr, "Password: ")
	raw, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return string(raw), nil
}
