// ABOUTME: API key commands for the admin CLI
// ABOUTME: Create, list, and revoke headless API keys

package main

import (
	"fmt"
	"net/http"
	"os"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	keyName    string
	keyTools   string
	keyMCP     bool
	keyExpires time.Duration
)

var apikeyCmd = &cobra.Command{
	Use:   "apikey",
	Short: "Manage API keys",
}

var apikeyCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create an API key; the raw key is shown exactly once",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newClient()
		if err != nil {
			return err
		}

		body := map[string]any{
			"name": keyName,
			"scope": map[string]any{
				"tools": keyTools,
				"mcp":   keyMCP,
			},
		}
		if keyExpires > 0 {
			body["expiresAt"] = time.Now().Add(keyExpires).UTC().Format(time.RFC3339)
		}

		var resp struct {
			ID  string `json:"id"`
			Key string `json:"key"`
		}
		if err := client.do(http.MethodPost, "/v1/admin/api-keys", body, &resp); err != nil {
			return err
		}

		color.Green("✓ API key %s created (id %s)", keyName, resp.ID)
		color.Yellow("Key (shown once, store it securely):")
		fmt.Printf("  %s\n", resp.Key)
		return nil
	},
}

var apikeyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List API keys",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newClient()
		if err != nil {
			return err
		}

		var resp struct {
			Keys []struct {
				ID    string `json:"id"`
				Name  string `json:"name"`
				Scope struct {
					Tools string `json:"tools"`
					MCP   bool   `json:"mcp"`
				} `json:"scope"`
				ExpiresAt *string `json:"expires_at"`
				RevokedAt *string `json:"revoked_at"`
			} `json:"keys"`
		}
		if err := client.do(http.MethodGet, "/v1/admin/api-keys", nil, &resp); err != nil {
			return err
		}

		if len(resp.Keys) == 0 {
			fmt.Println("no api keys")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tTOOLS\tMCP\tEXPIRES\tSTATE")
		for _, k := range resp.Keys {
			expires := "-"
			if k.ExpiresAt != nil {
				expires = *k.ExpiresAt
			}
			state := "active"
			if k.RevokedAt != nil {
				state = "revoked"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%t\t%s\t%s\n",
				k.ID, k.Name, k.Scope.Tools, k.Scope.MCP, expires, state)
		}
		return w.Flush()
	},
}

var apikeyRevokeCmd = &cobra.Command{
	Use:   "revoke <key-id>",
	Short: "Revoke an API key",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newClient()
		if err != nil {
			return err
		}
		if err := client.do(http.MethodDelete, "/v1/admin/api-keys/"+args[0], nil, nil); err != nil {
			return err
		}
		color.Green("✓ API key %s revoked", args[0])
		return nil
	},
}

func init() {
	apikeyCreateCmd.Flags().StringVar(&keyName, "name", "", "Key name (required)")
	apikeyCreateCmd.Flags().StringVar(&keyTools, "tools", "read", "Tool level (none, read, write, sign)")
	apikeyCreateCmd.Flags().BoolVar(&keyMCP, "mcp", false, "Grant access to MCP-sourced tools")
	apikeyCreateCmd.Flags().DurationVar(&keyExpires, "expires", 0, "Expiry relative to now (e.g. 720h); zero means no expiry")
	_ = apikeyCreateCmd.MarkFlagRequired("name")

	apikeyCmd.AddCommand(apikeyCreateCmd, apikeyListCmd, apikeyRevokeCmd)
	rootCmd.AddCommand(apikeyCmd)
}
