// ABOUTME: The tool execution pipeline: emergency gate, capability check, policy, cooldown
// ABOUTME: Both the HTTP tool endpoint and the MCP server delegate here

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/2389/warden/internal/cooldown"
	"github.com/2389/warden/internal/kvstore"
	"github.com/2389/warden/internal/policy"
	"github.com/2389/warden/internal/scope"
	"github.com/2389/warden/internal/tools"
)

// ErrPaused is returned while the emergency stop is engaged.
var ErrPaused = errors.New("tool execution is paused")

// idempotencyTTL bounds how long a processed request id blocks replays.
const idempotencyTTL = 24 * time.Hour

// SessionStatus reports the validity of the delegated session signing
// key. Implemented by the sessionkey registry.
type SessionStatus interface {
	Status(ctx context.Context) (policy.SessionKeyStatus, error)
}

// Request is one prospective tool call, already authenticated.
type Request struct {
	Tool   string
	Params json.RawMessage
	// AmountUSD is set for monetary tools only; nil skips every
	// amount-based policy rule.
	AmountUSD *float64
	// IdempotencyKey deduplicates retries when set.
	IdempotencyKey string
	// Caller identifies the credential for idempotency scoping and logs.
	Caller string
	Scope  scope.Scope
}

// Status classifies the pipeline outcome.
type Status string

const (
	StatusExecuted  Status = "executed"
	StatusConfirm   Status = "confirm"
	StatusDenied    Status = "denied"
	StatusDuplicate Status = "duplicate"
)

// Result is the outcome of running a request through the pipeline.
type Result struct {
	Status   Status
	Decision *policy.Decision
	// Reason is set for denied and duplicate outcomes.
	Reason string
	// Output is the tool's return value for executed outcomes.
	Output any
}

// Executor runs the full decision pipeline in a fixed order: emergency
// gate, tool lookup, capability check, idempotency claim, policy
// decision, cooldown check, cooldown record, execution. Capability
// errors and unknown tools surface as errors; policy and cooldown
// denials are structured results, never errors.
type Executor struct {
	registry *tools.Registry
	engine   *policy.Engine
	tracker  *cooldown.Tracker
	sessions SessionStatus
	kv       kvstore.Store
	logger   *slog.Logger

	mu     sync.Mutex
	paused bool
	ledger spendLedger
	now    func() time.Time
}

// NewExecutor wires the pipeline. kv may be nil to disable idempotency
// claims.
func NewExecutor(registry *tools.Registry, engine *policy.Engine, tracker *cooldown.Tracker, sessions SessionStatus, kv kvstore.Store) *Executor {
	return &Executor{
		registry: registry,
		engine:   engine,
		tracker:  tracker,
		sessions: sessions,
		kv:       kv,
		logger:   slog.Default().With("component", "executor"),
		now:      time.Now,
	}
}

// Pause halts all tool execution. Called by the emergency stop.
func (e *Executor) Pause() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.paused = true
}

// Resume re-enables tool execution and clears cooldown state.
func (e *Executor) Resume() {
	e.mu.Lock()
	e.paused = false
	e.mu.Unlock()
	e.tracker.Reset()
}

// ResetDenials clears the consecutive-denial circuit breaker. Exposed to
// the admin surface; nothing else unsticks a halted pipeline.
func (e *Executor) ResetDenials() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ledger.denials = 0
}

// Execute runs one request through the pipeline.
func (e *Executor) Execute(ctx context.Context, req *Request) (*Result, error) {
	e.mu.Lock()
	paused := e.paused
	e.mu.Unlock()
	if paused {
		return nil, ErrPaused
	}

	tool, err := e.registry.Get(req.Tool)
	if err != nil {
		return nil, err
	}

	// One shared capability check for every path. A namespaced name
	// requires the mcp scope even when the tool record predates the
	// flag.
	requiresMCP := tool.MCP || scope.IsMCPName(tool.Name)
	if err := scope.CheckCapability(req.Scope, tool.Level, requiresMCP); err != nil {
		return nil, err
	}

	if req.IdempotencyKey != "" && e.kv != nil {
		key := fmt.Sprintf("idem:%s:%s", req.Caller, req.IdempotencyKey)
		claimed, err := e.kv.SetNX(ctx, key, "1", idempotencyTTL)
		if err != nil {
			return nil, fmt.Errorf("idempotency claim: %w", err)
		}
		if !claimed {
			return &Result{Status: StatusDuplicate, Reason: "request already processed"}, nil
		}
	}

	status, err := e.sessions.Status(ctx)
	if err != nil {
		// Fail toward escalation, not toward auto-execution.
		e.logger.Warn("session key status lookup failed", "error", err)
		status = policy.SessionKeyMissing
	}

	pol := e.engine.Resolve(req.Tool)
	ectx := policy.EscalationContext{
		SessionKeyStatus:   status,
		AmountUSD:          req.AmountUSD,
		DailySpentUSD:      e.dailySpent(),
		ConsecutiveDenials: e.denials(),
		Caller:             req.Caller,
	}
	decision := e.engine.Decide(req.Tool, pol, ectx)

	switch decision.Action {
	case policy.ActionDeny:
		e.recordDenial()
		return &Result{Status: StatusDenied, Decision: &decision, Reason: decision.Reason}, nil
	case policy.ActionConfirm:
		// Confirmation waits belong to the caller; nothing executes and
		// no cooldown is consumed.
		return &Result{Status: StatusConfirm, Decision: &decision}, nil
	}

	if cd := e.tracker.Check(req.Tool, pol.Cooldown); !cd.Allowed {
		e.recordDenial()
		return &Result{Status: StatusDenied, Decision: &decision, Reason: cd.Reason}, nil
	}

	// Recorded at decision time: a failed execution still consumes
	// cooldown budget.
	e.tracker.Record(req.Tool)
	e.recordSpend(req.AmountUSD)

	if pol.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, pol.Timeout)
		defer cancel()
	}
	output, err := tool.Handler(ctx, req.Params)
	if err != nil {
		return nil, fmt.Errorf("tool %s failed: %w", req.Tool, err)
	}

	e.logger.Info("tool executed",
		"tool", req.Tool,
		"caller", req.Caller,
		"tier", decision.EffectiveTier.String())
	return &Result{Status: StatusExecuted, Decision: &decision, Output: output}, nil
}

// spendLedger tracks the rolling daily spend and the denial streak.
// Process-local, like the cooldown tracker.
type spendLedger struct {
	day     time.Time
	spent   float64
	denials int
}

func (e *Executor) dailySpent() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rollDayLocked()
	return e.ledger.spent
}

func (e *Executor) denials() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ledger.denials
}

func (e *Executor) recordSpend(amount *float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rollDayLocked()
	if amount != nil {
		e.ledger.spent += *amount
	}
	e.ledger.denials = 0
}

func (e *Executor) recordDenial() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ledger.denials++
}

func (e *Executor) rollDayLocked() {
	today := e.now().UTC().Truncate(24 * time.Hour)
	if !e.ledger.day.Equal(today) {
		e.ledger.day = today
		e.ledger.spent = 0
	}
}
