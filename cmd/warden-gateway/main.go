// ABOUTME: Entry point for the warden access-control gateway
// ABOUTME: Wires the store, policy engine, and HTTP surfaces and serves them

package main

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/fatih/color"
	"golang.org/x/crypto/bcrypt"

	"github.com/2389/warden/internal/authz"
	"github.com/2389/warden/internal/builtins"
	"github.com/2389/warden/internal/config"
	"github.com/2389/warden/internal/cooldown"
	"github.com/2389/warden/internal/emergency"
	"github.com/2389/warden/internal/gateway"
	"github.com/2389/warden/internal/kvstore"
	"github.com/2389/warden/internal/mcp"
	"github.com/2389/warden/internal/pairing"
	"github.com/2389/warden/internal/policy"
	"github.com/2389/warden/internal/sessionkey"
	"github.com/2389/warden/internal/store"
	"github.com/2389/warden/internal/tools"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
                            _
 __      ____ _ _ __ __| | ___ _ __
 \ \ /\ / / _' | '__/ _' |/ _ \ '_ \
  \ V  V / (_| | | | (_| |  __/ | | |
   \_/\_/ \__,_|_|  \__,_|\___|_| |_|
`

// getConfigPath returns the path to the gateway config file.
// Priority: WARDEN_CONFIG env var > XDG_CONFIG_HOME/warden/gateway.yaml > ~/.config/warden/gateway.yaml
func getConfigPath() string {
	if envPath := os.Getenv("WARDEN_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "gateway.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "warden", "gateway.yaml")
}

// getDataPath returns the path to the warden data directory.
// Priority: XDG_DATA_HOME/warden > ~/.local/share/warden
func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data" // fallback
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	return filepath.Join(dataDir, "warden")
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: warden-gateway <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve    Start the gateway server")
		fmt.Println("  init     Create a config file and policy document with fresh secrets")
		fmt.Println("  health   Check gateway health")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "init":
		err = runInit()
	case "health":
		err = runHealth(ctx)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context) error {
	configPath := getConfigPath()

	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging)
	slog.SetDefault(logger)

	green := color.New(color.FgGreen)
	green.Print("    ▶ ")
	fmt.Printf("Config:   %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("Database: %s\n", cfg.Database.Path)
	green.Print("    ▶ ")
	fmt.Printf("Policy:   %s\n", cfg.Policy.Path)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:     %s\n", cfg.Server.HTTPAddr)
	fmt.Println()

	logger.Info("starting warden-gateway",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
	)

	st, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer func() { _ = st.Close() }()

	hasher, err := pairing.NewTokenHasher([]byte(cfg.Auth.TokenHMACKey))
	if err != nil {
		return fmt.Errorf("creating token hasher: %w", err)
	}
	pairSvc := pairing.NewService(st, st, st, hasher)

	doc, err := policy.Load(cfg.Policy.Path)
	if err != nil {
		return fmt.Errorf("loading policy document: %w", err)
	}
	engine := policy.NewEngine(doc)
	loader := policy.NewLoader(cfg.Policy.Path, engine, cfg.Policy.ReloadInterval)
	go loader.Watch(ctx)

	var kv kvstore.Store
	if cfg.Redis.Enabled {
		kv, err = kvstore.NewRedisStore(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return fmt.Errorf("connecting to redis: %w", err)
		}
	} else {
		kv = kvstore.NewMemoryStore()
	}
	defer func() { _ = kv.Close() }()

	sessionTTL := time.Duration(doc.Thresholds.SessionKeyTTLHours) * time.Hour
	sessions, err := sessionkey.NewRegistry(st, kv, []byte(cfg.Auth.SessionKeySecret), sessionTTL)
	if err != nil {
		return fmt.Errorf("creating session key registry: %w", err)
	}

	registry := tools.NewRegistry()
	if err := builtins.Register(registry); err != nil {
		return fmt.Errorf("registering builtin tools: %w", err)
	}

	executor := gateway.NewExecutor(registry, engine, cooldown.NewTracker(), sessions, kv)
	controller := emergency.NewController(sessions, executor, st, nil)
	mw := authz.NewMiddleware(pairSvc, cfg.Auth.AdminSecretHash)

	api := gateway.NewServer(pairSvc, executor, controller, sessions, st, mw, cfg.Emergency.Commands)
	mcpSrv := mcp.NewServer(executor, registry)

	mux := http.NewServeMux()
	mux.Handle("/", api.Routes())
	mux.Handle("POST /mcp", mw.RequireCredential(mcpSrv))
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	srv := &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancelShutdown()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}
}

const configTemplate = `server:
  http_addr: ":8787"
database:
  path: %s
auth:
  token_hmac_key: "%s"
  admin_secret_hash: "%s"
  session_key_secret: "%s"
policy:
  path: %s
  reload_interval: 30s
redis:
  enabled: false
emergency:
  commands: ["/stop", "/emergency", "/halt"]
logging:
  level: info
  format: text
`

const policyTemplate = `version: 1
defaults:
  tier: 1
thresholds:
  tier3MaxUsd: 5
  tier2MaxUsd: 50
  tier2DailyUsd: 200
  sessionKeyTtlHours: 24
tools:
  ping:
    tier: none
  time_now:
    tier: none
  echo:
    tier: none
fallback:
  tier: 1
`

// runInit creates the config and policy files with freshly generated
// secrets and prints the admin secret exactly once.
func runInit() error {
	configPath := getConfigPath()
	dataPath := getDataPath()

	if _, err := os.Stat(configPath); err == nil {
		return fmt.Errorf("config already exists at %s", configPath)
	}

	hmacKey, err := randomSecret(32)
	if err != nil {
		return err
	}
	sessionSecret, err := randomSecret(32)
	if err != nil {
		return err
	}
	adminSecret, err := randomSecret(24)
	if err != nil {
		return err
	}
	adminHash, err := bcrypt.GenerateFromPassword([]byte(adminSecret), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hashing admin secret: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.MkdirAll(dataPath, 0o755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	policyPath := filepath.Join(filepath.Dir(configPath), "policy.yaml")
	dbPath := filepath.Join(dataPath, "warden.db")

	cfgContent := fmt.Sprintf(configTemplate, dbPath, hmacKey, string(adminHash), sessionSecret, policyPath)
	if err := os.WriteFile(configPath, []byte(cfgContent), 0o600); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	if _, err := os.Stat(policyPath); os.IsNotExist(err) {
		if err := os.WriteFile(policyPath, []byte(policyTemplate), 0o644); err != nil {
			return fmt.Errorf("writing policy document: %w", err)
		}
	}

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	green.Println("✓ Config created")
	fmt.Printf("  %s\n", configPath)
	green.Println("✓ Policy document created")
	fmt.Printf("  %s\n", policyPath)
	fmt.Println()
	yellow.Println("Admin secret (shown once, store it securely):")
	fmt.Printf("  %s\n", adminSecret)

	return nil
}

func runHealth(ctx context.Context) error {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	url := fmt.Sprintf("http://%s/health", cfg.Server.HTTPAddr)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}

	fmt.Println("healthy")
	return nil
}

func randomSecret(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating secret: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = &colorHandler{
			level: level,
		}
	}

	return slog.New(handler)
}

// colorHandler provides colorized log output with thread-safe writes.
type colorHandler struct {
	mu     sync.Mutex
	level  slog.Level
	attrs  []slog.Attr
	groups []string
}

func (h *colorHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *colorHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	var buf strings.Builder

	buf.WriteString(color.HiBlackString(r.Time.Format("15:04:05") + " "))

	switch r.Level {
	case slog.LevelDebug:
		buf.WriteString(color.MagentaString("DBG "))
	case slog.LevelInfo:
		buf.WriteString(color.CyanString("INF "))
	case slog.LevelWarn:
		buf.WriteString(color.YellowString("WRN "))
	case slog.LevelError:
		buf.WriteString(color.New(color.FgRed, color.Bold).Sprint("ERR "))
	default:
		buf.WriteString("??? ")
	}

	buf.WriteString(r.Message)

	for _, a := range h.attrs {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
	}

	r.Attrs(func(a slog.Attr) bool {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
		return true
	})

	buf.WriteString("\n")
	fmt.Print(buf.String())
	return nil
}

func (h *colorHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	newAttrs := make([]slog.Attr, len(h.attrs), len(h.attrs)+len(attrs))
	copy(newAttrs, h.attrs)
	newAttrs = append(newAttrs, attrs...)
	return &colorHandler{
		level:  h.level,
		attrs:  newAttrs,
		groups: h.groups,
	}
}

func (h *colorHandler) WithGroup(name string) slog.Handler {
	newGroups := make([]string, len(h.groups), len(h.groups)+1)
	copy(newGroups, h.groups)
	newGroups = append(newGroups, name)
	return &colorHandler{
		level:  h.level,
		attrs:  h.attrs,
		groups: newGroups,
	}
}
