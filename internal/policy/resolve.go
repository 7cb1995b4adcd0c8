// ABOUTME: Policy resolution: exact match, ordered wildcard scan, then fallback
// ABOUTME: Merges the matched entry field-by-field over the engine-wide defaults

package policy

import (
	"path"
	"time"

	"github.com/2389/warden/internal/cooldown"
)

// ResolvedPolicy is a fully-merged, concrete policy for one tool name.
type ResolvedPolicy struct {
	Tier                Tier
	RequireConfirmation bool
	ConfirmationChannel string
	// MaxAmountUSD is the tool's own hard ceiling, nil when unset.
	MaxAmountUSD *float64
	// EscalateAboveUSD escalates a tier-2 call to tier 1 above this
	// amount, nil when unset.
	EscalateAboveUSD *float64
	Cooldown         cooldown.Limits
	// AllowedUsers restricts the tool to the listed callers; empty
	// means any authenticated caller.
	AllowedUsers []string
	// Timeout bounds one execution; zero means no bound.
	Timeout time.Duration
}

// DefaultConfirmationChannel is used when neither the document defaults
// nor the matched policy name one.
const DefaultConfirmationChannel = "chat"

// Resolve finds the policy for toolName: exact entry in the tools map,
// else the first wildcard whose pattern matches (declaration order),
// else the fallback. The winner is merged over the document defaults.
func (d *Document) Resolve(toolName string) ResolvedPolicy {
	resolved := ResolvedPolicy{
		Tier:                TierNone,
		ConfirmationChannel: DefaultConfirmationChannel,
	}
	resolved.apply(d.Defaults)

	if p, ok := d.Tools[toolName]; ok {
		resolved.apply(p)
		return resolved
	}
	for _, w := range d.Wildcards {
		// Pattern syntax is checked at load time.
		if ok, _ := path.Match(w.Pattern, toolName); ok {
			resolved.apply(w.Policy)
			return resolved
		}
	}
	resolved.apply(d.Fallback)
	return resolved
}

// apply overlays the set fields of p onto r.
func (r *ResolvedPolicy) apply(p ToolPolicy) {
	if p.Tier != nil {
		r.Tier = *p.Tier
	}
	if p.RequireConfirmation != nil {
		r.RequireConfirmation = *p.RequireConfirmation
	}
	if p.ConfirmationChannel != nil {
		r.ConfirmationChannel = *p.ConfirmationChannel
	}
	if p.MaxAmount != nil {
		usd := p.MaxAmount.USD
		r.MaxAmountUSD = &usd
	}
	if p.EscalateAbove != nil {
		usd := p.EscalateAbove.USD
		r.EscalateAboveUSD = &usd
	}
	if p.AllowedUsers != nil {
		r.AllowedUsers = p.AllowedUsers
	}
	if p.Timeout != nil {
		// Validated at load time.
		d, err := time.ParseDuration(*p.Timeout)
		if err == nil {
			r.Timeout = d
		}
	}
	if p.Cooldown != nil {
		if p.Cooldown.MaxPerHour != nil {
			r.Cooldown.MaxPerHour = *p.Cooldown.MaxPerHour
		}
		if p.Cooldown.MaxPerDay != nil {
			r.Cooldown.MaxPerDay = *p.Cooldown.MaxPerDay
		}
		if p.Cooldown.MinInterval != nil {
			// Validated at load time.
			d, err := time.ParseDuration(*p.Cooldown.MinInterval)
			if err == nil {
				r.Cooldown.MinInterval = d
			}
		}
	}
}
