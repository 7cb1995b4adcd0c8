// ABOUTME: The tiered policy decision engine and its ordered rule pipeline
// ABOUTME: Holds an atomically-swappable document snapshot for hot reload

package policy

import (
	"log/slog"
	"slices"
	"sync/atomic"
)

// Action is the outcome of a policy decision.
type Action string

const (
	ActionAllow   Action = "allow"
	ActionConfirm Action = "confirm"
	ActionDeny    Action = "deny"
)

// SignerTier names which key-custody tier must authorize an operation.
type SignerTier string

const (
	SignerNone       SignerTier = "none"
	SignerApp        SignerTier = "app"
	SignerSessionKey SignerTier = "session-key"
)

// SessionKeyStatus is the validity of the delegated session signing key,
// as reported by the session-key collaborator.
type SessionKeyStatus string

const (
	SessionKeyActive  SessionKeyStatus = "active"
	SessionKeyMissing SessionKeyStatus = "missing"
	SessionKeyExpired SessionKeyStatus = "expired"
	SessionKeyRevoked SessionKeyStatus = "revoked"
)

// EscalationContext carries the caller-side facts the rule pipeline
// consumes. AmountUSD is nil for non-monetary tools, which skips every
// amount-based rule.
type EscalationContext struct {
	SessionKeyStatus   SessionKeyStatus
	AmountUSD          *float64
	DailySpentUSD      float64
	ConsecutiveDenials int
	// Caller is the authenticated credential id, matched against a
	// tool's allowedUsers list.
	Caller string
}

// Decision is the single outcome of Decide.
type Decision struct {
	Action Action
	// Tier is the tier the document resolved for the tool.
	Tier Tier
	// EffectiveTier is the tier after escalation and demotion.
	EffectiveTier       Tier
	Reason              string
	ConfirmationChannel string
	SignerTier          SignerTier
}

const (
	ReasonSessionKeyUnavailable = "session-key-unavailable"
	ReasonExceedsToolLimit      = "exceeds tool limit"
	ReasonEscalateAbove         = "escalate-above-threshold"
	ReasonDailyLimit            = "daily-limit-exceeded"
	ReasonDenialHalt            = "consecutive-denials-halt"
	ReasonUserNotAllowed        = "user-not-allowed"
)

// consecutiveDenialLimit is the circuit-breaker threshold: this many
// denials in a row halts everything until an operator intervenes.
const consecutiveDenialLimit = 3

// ChannelCompanionApp is the confirmation channel tier 1 is hard-wired
// to, regardless of what the document configures.
const ChannelCompanionApp = "companion-app"

// Engine resolves and evaluates the tiered policy. The document is held
// behind an atomic pointer so the loader can swap a new version in
// without blocking in-flight decisions.
type Engine struct {
	doc    atomic.Pointer[Document]
	logger *slog.Logger
}

// NewEngine creates an engine serving the given document.
func NewEngine(doc *Document) *Engine {
	e := &Engine{logger: slog.Default().With("component", "policy")}
	e.doc.Store(doc)
	return e
}

// Document returns the current snapshot.
func (e *Engine) Document() *Document {
	return e.doc.Load()
}

// SetDocument atomically replaces the snapshot.
func (e *Engine) SetDocument(doc *Document) {
	old := e.doc.Swap(doc)
	if old != nil && old.Version != doc.Version {
		e.logger.Info("policy document swapped", "from_version", old.Version, "to_version", doc.Version)
	}
}

// Resolve looks up the merged policy for a tool in the current snapshot.
func (e *Engine) Resolve(toolName string) ResolvedPolicy {
	return e.doc.Load().Resolve(toolName)
}

// Decide runs the ordered rule pipeline for one prospective tool call.
//
// The rules evaluate in a fixed order; escalation rules adjust the
// effective tier, the per-tool ceiling and the denial circuit breaker
// produce hard denies, and the circuit breaker overrides everything
// that came before it.
func (e *Engine) Decide(toolName string, pol ResolvedPolicy, ectx EscalationContext) Decision {
	th := e.doc.Load().Thresholds

	d := Decision{
		Tier:                pol.Tier,
		EffectiveTier:       pol.Tier,
		ConfirmationChannel: pol.ConfirmationChannel,
	}
	deny := false

	// An allow-list restricts the tool to named callers outright.
	if len(pol.AllowedUsers) > 0 && !slices.Contains(pol.AllowedUsers, ectx.Caller) {
		deny = true
		d.Reason = ReasonUserNotAllowed
	}

	// Tiers 2 and 3 auto-execute against the session key; without a
	// usable one the call falls back to explicit app approval.
	if !deny && (d.EffectiveTier == Tier2 || d.EffectiveTier == Tier3) && ectx.SessionKeyStatus != SessionKeyActive {
		d.EffectiveTier = Tier1
		d.Reason = ReasonSessionKeyUnavailable
	}

	if !deny && ectx.AmountUSD != nil {
		amount := *ectx.AmountUSD

		// The tool's own ceiling is absolute at tier 3, independent of
		// the tier thresholds.
		if d.EffectiveTier == Tier3 && pol.MaxAmountUSD != nil && amount > *pol.MaxAmountUSD {
			deny = true
			d.Reason = ReasonExceedsToolLimit
		} else if d.EffectiveTier == Tier3 && amount > th.Tier3MaxUSD {
			d.EffectiveTier = Tier2
		}

		if !deny && d.EffectiveTier == Tier2 {
			// The per-tool escalateAbove wins over the document-wide
			// tier-2 single-call cap.
			escalateAbove := pol.EscalateAboveUSD
			if escalateAbove == nil && th.Tier2MaxUSD > 0 {
				escalateAbove = &th.Tier2MaxUSD
			}
			if escalateAbove != nil && amount > *escalateAbove {
				d.EffectiveTier = Tier1
				d.Reason = ReasonEscalateAbove
			}
		}

		if !deny && d.EffectiveTier == Tier2 && th.Tier2DailyUSD > 0 &&
			ectx.DailySpentUSD+amount > th.Tier2DailyUSD {
			d.EffectiveTier = Tier1
			d.Reason = ReasonDailyLimit
		}
	}

	// Circuit breaker: repeated rejection halts everything, even tools
	// that would otherwise allow unconditionally.
	if ectx.ConsecutiveDenials >= consecutiveDenialLimit {
		deny = true
		d.Reason = ReasonDenialHalt
	}

	d.SignerTier = signerFor(d.EffectiveTier)
	if d.EffectiveTier == Tier1 {
		d.ConfirmationChannel = ChannelCompanionApp
	}

	switch {
	case deny:
		d.Action = ActionDeny
	case d.EffectiveTier == Tier1 || pol.RequireConfirmation:
		d.Action = ActionConfirm
	default:
		d.Action = ActionAllow
	}

	if d.Action != ActionAllow {
		e.logger.Info("policy decision",
			"tool", toolName,
			"action", string(d.Action),
			"tier", d.Tier.String(),
			"effective_tier", d.EffectiveTier.String(),
			"reason", d.Reason)
	}
	return d
}

// Tier 1 is hard-wired to the app/companion signer; a session key never
// satisfies it.
func signerFor(t Tier) SignerTier {
	switch t {
	case Tier1:
		return SignerApp
	case Tier2, Tier3:
		return SignerSessionKey
	default:
		return SignerNone
	}
}
