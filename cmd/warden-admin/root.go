// ABOUTME: Root command and configuration for the warden admin CLI
// ABOUTME: Resolves gateway address and admin secret from flags, env, and TOML config

package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"
)

var (
	// Global flags
	gatewayFlag string
	secretFlag  string
	cfgFile     string
)

// adminConfig is the on-disk CLI configuration.
type adminConfig struct {
	Gateway     string `toml:"gateway"`
	AdminSecret string `toml:"admin_secret"`
}

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "warden-admin",
	Short: "Admin CLI for the warden access-control gateway",
	Long: `warden-admin manages the warden gateway over its admin API.

Core Commands:
  device       Approve, reject, revoke, and inspect paired devices
  apikey       Create and revoke headless API keys
  sessionkey   Issue delegated session key grants
  emergency    Trigger and clear the emergency stop
  audit        Read the audit log
  login        Store the gateway address and admin secret`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and runs it.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&gatewayFlag, "gateway", "", "Gateway base URL (default from config)")
	rootCmd.PersistentFlags().StringVar(&secretFlag, "secret", "", "Admin secret (default from config or WARDEN_ADMIN_SECRET)")
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file (default: ~/.config/warden/admin.toml)")
}

// configPath returns the CLI config location, honoring the --config flag.
func configPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "admin.toml"
		}
		configDir = filepath.Join(homeDir, ".config")
	}
	return filepath.Join(configDir, "warden", "admin.toml")
}

// loadConfig reads the TOML config and overlays flags and environment.
// Flags win over environment, environment wins over the file.
func loadConfig() (*adminConfig, error) {
	cfg := &adminConfig{Gateway: "http://127.0.0.1:8787"}

	if data, err := os.ReadFile(configPath()); err == nil {
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", configPath(), err)
		}
	}

	if env := os.Getenv("WARDEN_ADMIN_SECRET"); env != "" {
		cfg.AdminSecret = env
	}
	if gatewayFlag != "" {
		cfg.Gateway = gatewayFlag
	}
	if secretFlag != "" {
		cfg.AdminSecret = secretFlag
	}

	if cfg.AdminSecret == "" {
		return nil, fmt.Errorf("no admin secret configured; run 'warden-admin login' or set WARDEN_ADMIN_SECRET")
	}
	return cfg, nil
}

// newClient builds an API client from the resolved configuration.
func newClient() (*Client, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return NewClient(cfg.Gateway, cfg.AdminSecret), nil
}
