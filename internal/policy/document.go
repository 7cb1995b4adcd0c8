// ABOUTME: Versioned declarative policy document loaded from YAML
// ABOUTME: Defines tiers, thresholds, per-tool policies, ordered wildcards, and fallback

package policy

import (
	"fmt"
	"path"
	"time"

	"gopkg.in/yaml.v3"
)

// Tier is the risk level assigned to a tool operation. Higher tiers are
// riskier; TierNone means the operation carries no signing requirement.
type Tier int

const (
	TierNone Tier = 0
	Tier1    Tier = 1
	Tier2    Tier = 2
	Tier3    Tier = 3
)

func (t Tier) String() string {
	if t == TierNone {
		return "none"
	}
	return fmt.Sprintf("%d", int(t))
}

// UnmarshalYAML accepts "none" or the integers 1-3.
func (t *Tier) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err == nil && s == "none" {
		*t = TierNone
		return nil
	}
	var n int
	if err := value.Decode(&n); err != nil {
		return fmt.Errorf("invalid tier %q", value.Value)
	}
	if n < 0 || n > 3 {
		return fmt.Errorf("tier out of range: %d", n)
	}
	*t = Tier(n)
	return nil
}

// CooldownConfig is the per-tool rate limit section. MinInterval is a Go
// duration string ("30s", "5m").
type CooldownConfig struct {
	MaxPerHour  *int    `yaml:"maxPerHour"`
	MaxPerDay   *int    `yaml:"maxPerDay"`
	MinInterval *string `yaml:"minInterval"`
}

// AmountLimit wraps per-denomination bounds so the whole block can be
// omitted. Only the USD bound participates in the decision pipeline;
// the ETH and token bounds are carried for the external signer.
type AmountLimit struct {
	USD   float64 `yaml:"usd"`
	ETH   float64 `yaml:"eth"`
	Token float64 `yaml:"token"`
}

// ToolPolicy is one policy entry as written in the document. All fields
// are optional; unset fields inherit from the engine-wide defaults
// during resolution.
type ToolPolicy struct {
	Tier                *Tier           `yaml:"tier"`
	RequireConfirmation *bool           `yaml:"requireConfirmation"`
	ConfirmationChannel *string         `yaml:"confirmationChannel"`
	MaxAmount           *AmountLimit    `yaml:"maxAmount"`
	EscalateAbove       *AmountLimit    `yaml:"escalateAbove"`
	Cooldown            *CooldownConfig `yaml:"cooldown"`
	// AllowedUsers restricts the tool to the listed callers; empty means
	// any authenticated caller.
	AllowedUsers []string `yaml:"allowedUsers"`
	// Timeout is a Go duration string bounding one execution.
	Timeout *string `yaml:"timeout"`
}

// WildcardPolicy pairs a glob pattern with a policy. Wildcards are kept
// as an ordered list and evaluated first-match-wins; operators rely on
// declaration-order overrides.
type WildcardPolicy struct {
	Pattern string     `yaml:"pattern"`
	Policy  ToolPolicy `yaml:"policy"`
}

// Thresholds are the engine-wide monetary and session-key bounds.
type Thresholds struct {
	Tier2MaxUSD          float64 `yaml:"tier2MaxUsd"`
	Tier2DailyUSD        float64 `yaml:"tier2DailyUsd"`
	Tier3MaxUSD          float64 `yaml:"tier3MaxUsd"`
	SessionKeyTTLHours   int     `yaml:"sessionKeyTtlHours"`
	SessionKeyMaxBalance float64 `yaml:"sessionKeyMaxBalance"`
}

// EmergencyStopConfig configures the emergency stop trigger surface.
type EmergencyStopConfig struct {
	Enabled  bool     `yaml:"enabled"`
	Commands []string `yaml:"commands"`
	Channels []string `yaml:"channels"`
	Action   string   `yaml:"action"`
}

// Document is the full versioned policy document.
type Document struct {
	Version       int                   `yaml:"version"`
	Defaults      ToolPolicy            `yaml:"defaults"`
	Thresholds    Thresholds            `yaml:"thresholds"`
	EmergencyStop EmergencyStopConfig   `yaml:"emergencyStop"`
	Tools         map[string]ToolPolicy `yaml:"tools"`
	Wildcards     []WildcardPolicy      `yaml:"wildcards"`
	Fallback      ToolPolicy            `yaml:"fallback"`
}

// Parse decodes and validates a policy document.
func Parse(data []byte) (*Document, error) {
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing policy document: %w", err)
	}
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	return &doc, nil
}

// Validate checks pattern syntax and duration strings so a bad document
// is rejected at load time instead of at decision time.
func (d *Document) Validate() error {
	if d.Version < 1 {
		return fmt.Errorf("policy document missing version")
	}
	for _, w := range d.Wildcards {
		if w.Pattern == "" {
			return fmt.Errorf("wildcard entry with empty pattern")
		}
		if _, err := path.Match(w.Pattern, "x"); err != nil {
			return fmt.Errorf("wildcard pattern %q: %w", w.Pattern, err)
		}
	}
	policies := []ToolPolicy{d.Defaults, d.Fallback}
	for _, p := range d.Tools {
		policies = append(policies, p)
	}
	for _, w := range d.Wildcards {
		policies = append(policies, w.Policy)
	}
	for _, p := range policies {
		if p.Cooldown != nil && p.Cooldown.MinInterval != nil {
			if _, err := time.ParseDuration(*p.Cooldown.MinInterval); err != nil {
				return fmt.Errorf("invalid cooldown minInterval %q: %w", *p.Cooldown.MinInterval, err)
			}
		}
		if p.Timeout != nil {
			if _, err := time.ParseDuration(*p.Timeout); err != nil {
				return fmt.Errorf("invalid timeout %q: %w", *p.Timeout, err)
			}
		}
	}
	return nil
}
