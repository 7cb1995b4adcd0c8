// ABOUTME: Login command for the admin CLI
// ABOUTME: Persists the gateway address and admin secret to the TOML config

package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	loginGateway string
	loginSecret  string
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Store the gateway address and admin secret",
	RunE: func(cmd *cobra.Command, args []string) error {
		if loginSecret == "" {
			return fmt.Errorf("--secret is required")
		}

		path := configPath()
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return fmt.Errorf("creating config directory: %w", err)
		}

		data, err := toml.Marshal(adminConfig{
			Gateway:     loginGateway,
			AdminSecret: loginSecret,
		})
		if err != nil {
			return fmt.Errorf("encoding config: %w", err)
		}
		if err := os.WriteFile(path, data, 0o600); err != nil {
			return fmt.Errorf("writing config: %w", err)
		}

		color.Green("✓ Credentials saved")
		fmt.Printf("  %s\n", path)
		return nil
	},
}

func init() {
	loginCmd.Flags().StringVar(&loginGateway, "gateway", "http://127.0.0.1:8787", "Gateway base URL")
	loginCmd.Flags().StringVar(&loginSecret, "secret", "", "Admin secret (required)")
	rootCmd.AddCommand(loginCmd)
}
