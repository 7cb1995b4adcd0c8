// ABOUTME: Device lifecycle commands for the admin CLI
// ABOUTME: Approve, reject, revoke, rotate, re-scope, and list paired devices

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
	scopeTools  string
	scopeSystem bool
	scopeMCP    bool
)

type deviceRow struct {
	ID        string `json:"id"`
	State     string `json:"state"`
	CreatedAt string `json:"created_at"`
	Scope     struct {
		Tools  string `json:"tools"`
		System bool   `json:"system"`
		MCP    bool   `json:"mcp"`
	} `json:"scope"`
}

var deviceCmd = &cobra.Command{
	Use:   "device",
	Short: "Manage paired devices",
}

var deviceListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all devices",
	RunE: func(cmd *cobra.Command, args []string) error {
		return listDevices("/v1/admin/devices")
	},
}

var devicePendingCmd = &cobra.Command{
	Use:   "pending",
	Short: "List devices awaiting approval",
	RunE: func(cmd *cobra.Command, args []string) error {
		return listDevices("/v1/admin/devices/pending")
	},
}

var deviceApproveCmd = &cobra.Command{
	Use:   "approve <device-id>",
	Short: "Approve a pending device and mint its token",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newClient()
		if err != nil {
			return err
		}

		body := map[string]any{}
		if cmd.Flags().Changed("tools") || cmd.Flags().Changed("system") || cmd.Flags().Changed("mcp") {
			body["scope"] = scopeBody()
		}

		var resp struct {
			DeviceToken string `json:"deviceToken"`
		}
		if err := client.do(http.MethodPost, "/v1/admin/devices/"+args[0]+"/approve", body, &resp); err != nil {
			return err
		}

		color.Green("✓ Device %s approved", args[0])
		color.Yellow("Device token (shown once):")
		fmt.Printf("  %s\n", resp.DeviceToken)
		return nil
	},
}

var deviceRejectCmd = &cobra.Command{
	Use:   "reject <device-id>",
	Short: "Reject a pending pairing request",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newClient()
		if err != nil {
			return err
		}
		if err := client.do(http.MethodPost, "/v1/admin/devices/"+args[0]+"/reject", nil, nil); err != nil {
			return err
		}
		color.Green("✓ Device %s rejected", args[0])
		return nil
	},
}

var deviceRevokeCmd = &cobra.Command{
	Use:   "revoke <device-id>",
	Short: "Permanently revoke a paired device",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newClient()
		if err != nil {
			return err
		}
		if err := client.do(http.MethodPost, "/v1/admin/devices/"+args[0]+"/revoke", nil, nil); err != nil {
			return err
		}
		color.Green("✓ Device %s revoked", args[0])
		return nil
	},
}

var deviceRotateCmd = &cobra.Command{
	Use:   "rotate <device-id>",
	Short: "Rotate a device token; the old token stops working immediately",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newClient()
		if err != nil {
			return err
		}
		var resp struct {
			DeviceToken string `json:"deviceToken"`
		}
		if err := client.do(http.MethodPost, "/v1/admin/devices/"+args[0]+"/rotate", nil, &resp); err != nil {
			return err
		}
		color.Green("✓ Token rotated for %s", args[0])
		color.Yellow("New device token (shown once):")
		fmt.Printf("  %s\n", resp.DeviceToken)
		return nil
	},
}

var deviceScopeCmd = &cobra.Command{
	Use:   "scope <device-id>",
	Short: "Replace a device's scope",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newClient()
		if err != nil {
			return err
		}
		body := map[string]any{"scope": scopeBody()}
		if err := client.do(http.MethodPut, "/v1/admin/devices/"+args[0]+"/scope", body, nil); err != nil {
			return err
		}
		color.Green("✓ Scope updated for %s", args[0])
		return nil
	},
}

func scopeBody() map[string]any {
	return map[string]any{
		"tools":  scopeTools,
		"system": scopeSystem,
		"mcp":    scopeMCP,
	}
}

func listDevices(path string) error {
	client, err := newClient()
	if err != nil {
		return err
	}
	var resp struct {
		Devices []deviceRow `json:"devices"`
	}
	if err := client.do(http.MethodGet, path, nil, &resp); err != nil {
		return err
	}

	if len(resp.Devices) == 0 {
		fmt.Println("no devices")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATE\tTOOLS\tSYSTEM\tMCP\tCREATED")
	for _, d := range resp.Devices {
		created := d.CreatedAt
		if ts, err := time.Parse(time.RFC3339Nano, d.CreatedAt); err == nil {
			created = ts.Local().Format("2006-01-02 15:04")
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%t\t%t\t%s\n",
			d.ID, d.State, d.Scope.Tools, d.Scope.System, d.Scope.MCP, created)
	}
	return w.Flush()
}

func init() {
	for _, cmd := range []*cobra.Command{deviceApproveCmd, deviceScopeCmd} {
		cmd.Flags().StringVar(&scopeTools, "tools", "read", "Tool level (none, read, write, sign)")
		cmd.Flags().BoolVar(&scopeSystem, "system", false, "Grant the system flag")
		cmd.Flags().BoolVar(&scopeMCP, "mcp", false, "Grant access to MCP-sourced tools")
	}

	deviceCmd.AddCommand(deviceListCmd, devicePendingCmd, deviceApproveCmd,
		deviceRejectCmd, deviceRevokeCmd, deviceRotateCmd, deviceScopeCmd)
	rootCmd.AddCommand(deviceCmd)
}
