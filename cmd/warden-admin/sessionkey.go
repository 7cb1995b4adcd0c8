// ABOUTME: Session key commands for the admin CLI
// ABOUTME: Issues delegated session key grants through the gateway

package main

import (
	"fmt"
	"net/http"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var sessionkeyCmd = &cobra.Command{
	Use:   "sessionkey",
	Short: "Manage session key grants",
}

var sessionkeyIssueCmd = &cobra.Command{
	Use:   "issue",
	Short: "Issue a new session key grant",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newClient()
		if err != nil {
			return err
		}

		var resp struct {
			ID        string `json:"id"`
			Token     string `json:"token"`
			ExpiresAt string `json:"expiresAt"`
		}
		if err := client.do(http.MethodPost, "/v1/admin/session-keys", nil, &resp); err != nil {
			return err
		}

		color.Green("✓ Session key %s issued", resp.ID)
		fmt.Printf("  expires: %s\n", resp.ExpiresAt)
		color.Yellow("Grant token (shown once):")
		fmt.Printf("  %s\n", resp.Token)
		return nil
	},
}

func init() {
	sessionkeyCmd.AddCommand(sessionkeyIssueCmd)
	rootCmd.AddCommand(sessionkeyCmd)
}
