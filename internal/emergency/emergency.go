// ABOUTME: Global emergency stop: revokes session keys, pauses execution, audits, notifies
// ABOUTME: Fail-safe two-phase switch; the stopped flag is set before anything can fail

package emergency

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/2389/warden/internal/store"
)

// DefaultCommands are the trigger phrases recognized when none are
// configured.
var DefaultCommands = []string{"/stop", "/emergency", "/halt"}

// KeyRevoker revokes all outstanding session keys and records per-key
// lifecycle events. Implemented by the sessionkey registry.
type KeyRevoker interface {
	RevokeAll(ctx context.Context) ([]string, error)
	RecordRevoked(ctx context.Context, id string)
}

// Pauser halts and resumes tool execution. Implemented by the gateway
// executor.
type Pauser interface {
	Pause()
	Resume()
}

// Notifier delivers an operator-facing message. May be nil.
type Notifier interface {
	Notify(ctx context.Context, message string) error
}

// Controller is the global emergency stop switch. Execute and Resume are
// mutually exclusive; the mutex is held across the whole sequence so two
// concurrent triggers cannot interleave.
type Controller struct {
	mu      sync.Mutex
	stopped bool

	keys     KeyRevoker
	pauser   Pauser
	audit    store.AuditStore
	notifier Notifier
	logger   *slog.Logger
}

// NewController creates a controller. notifier may be nil.
func NewController(keys KeyRevoker, pauser Pauser, audit store.AuditStore, notifier Notifier) *Controller {
	return &Controller{
		keys:     keys,
		pauser:   pauser,
		audit:    audit,
		notifier: notifier,
		logger:   slog.Default().With("component", "emergency"),
	}
}

// Stopped reports whether the emergency stop is engaged.
func (c *Controller) Stopped() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopped
}

// Execute engages the emergency stop: revokes all session keys, records
// a lifecycle event per key, pauses tool execution, audits, and
// notifies. Idempotent: a second call warns and returns nil.
//
// The stopped flag is set before the sequence runs, so any failure still
// leaves the system stopped; the error is returned after that guarantee
// holds.
func (c *Controller) Execute(ctx context.Context, reason, triggeredBy string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopped {
		c.logger.Warn("emergency stop already engaged", "triggered_by", triggeredBy)
		return nil
	}
	c.stopped = true
	c.logger.Error("EMERGENCY STOP", "reason", reason, "triggered_by", triggeredBy)

	ids, err := c.keys.RevokeAll(ctx)
	if err != nil {
		return fmt.Errorf("emergency stop engaged, session key revocation failed: %w", err)
	}
	for _, id := range ids {
		c.keys.RecordRevoked(ctx, id)
	}

	c.pauser.Pause()

	if err := c.audit.AppendAuditLog(ctx, &store.AuditEntry{
		Actor:      triggeredBy,
		Action:     store.AuditEmergencyStop,
		TargetType: "gateway",
		TargetID:   "warden",
		Detail: map[string]any{
			"reason":       reason,
			"revoked_keys": len(ids),
		},
	}); err != nil {
		return fmt.Errorf("emergency stop engaged, audit append failed: %w", err)
	}

	c.notify(ctx, fmt.Sprintf("EMERGENCY STOP engaged by %s: %s (%d session keys revoked)", triggeredBy, reason, len(ids)))
	return nil
}

// Resume disengages the stop: resumes execution, audits, notifies, and
// clears the flag. Old session keys stay revoked; callers must mint
// fresh ones. Idempotent: resuming a running system warns and returns
// nil.
func (c *Controller) Resume(ctx context.Context, authorizedBy string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.stopped {
		c.logger.Warn("resume requested but emergency stop not engaged", "authorized_by", authorizedBy)
		return nil
	}

	c.pauser.Resume()

	if err := c.audit.AppendAuditLog(ctx, &store.AuditEntry{
		Actor:      authorizedBy,
		Action:     store.AuditEmergencyResume,
		TargetType: "gateway",
		TargetID:   "warden",
	}); err != nil {
		// Flag stays set: an unaudited resume does not count.
		c.pauser.Pause()
		return fmt.Errorf("resume audit append failed: %w", err)
	}

	c.stopped = false
	c.logger.Info("emergency stop disengaged", "authorized_by", authorizedBy)
	c.notify(ctx, fmt.Sprintf("Emergency stop disengaged by %s. Session keys must be re-issued.", authorizedBy))
	return nil
}

func (c *Controller) notify(ctx context.Context, message string) {
	if c.notifier == nil {
		return
	}
	if err := c.notifier.Notify(ctx, message); err != nil {
		c.logger.Warn("emergency notification failed", "error", err)
	}
}

// IsEmergencyCommand reports whether text is an emergency trigger:
// case-insensitive exact match against commands, or DefaultCommands when
// the list is empty.
func IsEmergencyCommand(text string, commands []string) bool {
	if len(commands) == 0 {
		commands = DefaultCommands
	}
	trimmed := strings.TrimSpace(text)
	for _, cmd := range commands {
		if strings.EqualFold(trimmed, cmd) {
			return true
		}
	}
	return false
}
