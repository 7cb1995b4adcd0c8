// ABOUTME: Loads the policy document from disk and hot-reloads it on change
// ABOUTME: Polls the file mtime; a bad document is rejected and the old snapshot kept

package policy

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"
)

// Loader reads the policy document from a file and keeps an Engine's
// snapshot current without a restart.
type Loader struct {
	path     string
	engine   *Engine
	interval time.Duration
	lastMod  time.Time
	logger   *slog.Logger
}

// NewLoader creates a loader for path feeding engine. interval controls
// how often the file's mtime is polled; zero disables watching.
func NewLoader(path string, engine *Engine, interval time.Duration) *Loader {
	return &Loader{
		path:     path,
		engine:   engine,
		interval: interval,
		logger:   slog.Default().With("component", "policy-loader"),
	}
}

// Load reads, parses, and validates the document at path.
func Load(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading policy document: %w", err)
	}
	return Parse(data)
}

// Reload re-reads the file and swaps the engine's snapshot if it parses.
// A document that fails to parse or validate leaves the current snapshot
// in place.
func (l *Loader) Reload() error {
	info, err := os.Stat(l.path)
	if err != nil {
		return fmt.Errorf("stat policy document: %w", err)
	}
	doc, err := Load(l.path)
	if err != nil {
		return err
	}
	l.engine.SetDocument(doc)
	l.lastMod = info.ModTime()
	return nil
}

// Watch polls for mtime changes until ctx is done. Reload failures are
// logged and the previous document stays live.
func (l *Loader) Watch(ctx context.Context) {
	if l.interval <= 0 {
		return
	}
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			info, err := os.Stat(l.path)
			if err != nil {
				l.logger.Warn("policy document stat failed", "path", l.path, "error", err)
				continue
			}
			if !info.ModTime().After(l.lastMod) {
				continue
			}
			if err := l.Reload(); err != nil {
				l.logger.Error("policy reload failed, keeping previous document", "error", err)
				// Remember the mtime so a broken file is not re-parsed
				// every tick.
				l.lastMod = info.ModTime()
				continue
			}
			l.logger.Info("policy document reloaded", "version", l.engine.Document().Version)
		}
	}
}
