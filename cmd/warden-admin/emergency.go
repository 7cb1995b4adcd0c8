// ABOUTME: Emergency stop commands for the admin CLI
// ABOUTME: Triggers and clears the gateway-wide halt

package main

import (
	"net/http"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var stopReason string

var emergencyCmd = &cobra.Command{
	Use:   "emergency",
	Short: "Control the emergency stop",
}

var emergencyStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Halt all tool execution and revoke session keys",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newClient()
		if err != nil {
			return err
		}
		body := map[string]any{"reason": stopReason}
		if err := client.do(http.MethodPost, "/v1/admin/emergency/stop", body, nil); err != nil {
			return err
		}
		color.Red("■ Emergency stop engaged")
		return nil
	},
}

var emergencyResumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Clear the emergency stop and resume execution",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newClient()
		if err != nil {
			return err
		}
		if err := client.do(http.MethodPost, "/v1/admin/emergency/resume", nil, nil); err != nil {
			return err
		}
		color.Green("✓ Execution resumed")
		return nil
	},
}

func init() {
	emergencyStopCmd.Flags().StringVar(&stopReason, "reason", "manual trigger", "Reason recorded in the audit log")

	emergencyCmd.AddCommand(emergencyStopCmd, emergencyResumeCmd)
	rootCmd.AddCommand(emergencyCmd)
}
