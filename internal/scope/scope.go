// ABOUTME: Capability scope model for devices and API keys.
// ABOUTME: Defines the ordered tool access levels and the single shared capability check.

package scope

import (
	"errors"
	"fmt"
	"strings"
)

// ToolLevel is the ordered tool access level granted to a credential.
type ToolLevel string

const (
	LevelNone  ToolLevel = "none"
	LevelRead  ToolLevel = "read"
	LevelWrite ToolLevel = "write"
	LevelSign  ToolLevel = "sign"
)

// levelRank orders the tool levels: none < read < write < sign.
var levelRank = map[ToolLevel]int{
	LevelNone:  0,
	LevelRead:  1,
	LevelWrite: 2,
	LevelSign:  3,
}

// Valid returns true if the level is one of the four known levels.
func (l ToolLevel) Valid() bool {
	_, ok := levelRank[l]
	return ok
}

// AtLeast reports whether l grants at least the access of required.
func (l ToolLevel) AtLeast(required ToolLevel) bool {
	return levelRank[l] >= levelRank[required]
}

// ParseToolLevel parses a tool level string, rejecting unknown values.
func ParseToolLevel(s string) (ToolLevel, error) {
	l := ToolLevel(strings.ToLower(strings.TrimSpace(s)))
	if !l.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidToolLevel, s)
	}
	return l, nil
}

// Scope is the capability bundle granted to a device or API key.
type Scope struct {
	Tools  ToolLevel `json:"tools" yaml:"tools"`
	System bool      `json:"system" yaml:"system"`
	MCP    bool      `json:"mcp" yaml:"mcp"`
}

// Default is the scope assigned to newly approved devices when the admin
// does not specify one.
func Default() Scope {
	return Scope{Tools: LevelRead}
}

// Scope validation errors.
var (
	ErrInvalidToolLevel = errors.New("invalid tool level")
)

// Validate checks that the scope shape is well-formed.
func (s Scope) Validate() error {
	if !s.Tools.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidToolLevel, s.Tools)
	}
	return nil
}

// Capability check errors. These carry the stable machine codes surfaced
// as 403 responses; the two sub-cases are deliberately distinguishable.
var (
	ErrToolLevel = errors.New("insufficient tool level")
	ErrMCPScope  = errors.New("missing mcp scope")
)

// DenyCode maps a capability-check error to its stable machine code.
func DenyCode(err error) string {
	switch {
	case errors.Is(err, ErrMCPScope):
		return "ERR_MCP_SCOPE"
	case errors.Is(err, ErrToolLevel):
		return "ERR_TOOL_LEVEL"
	default:
		return "ERR_FORBIDDEN"
	}
}

// CheckCapability is the single capability check consumed by every entry
// point that executes tools. Both the generic tool-execution endpoint and
// the MCP protocol endpoint must route through this function; having two
// independently-written checks is how scope bypasses happen.
func CheckCapability(s Scope, required ToolLevel, requiresMCP bool) error {
	if requiresMCP && !s.MCP {
		return ErrMCPScope
	}
	if !s.Tools.AtLeast(required) {
		return fmt.Errorf("%w: have %q, need %q", ErrToolLevel, s.Tools, required)
	}
	return nil
}

// MCPNameSeparator is the namespace convention for MCP-sourced tool names.
const MCPNameSeparator = "__"

// IsMCPName reports whether a tool name carries the MCP server__tool
// namespace convention. Such names require scope.mcp no matter which
// endpoint is used to invoke them.
func IsMCPName(name string) bool {
	return strings.Contains(name, MCPNameSeparator)
}

// SplitMCPName splits a server__tool name into its server and tool parts.
func SplitMCPName(name string) (server, tool string, ok bool) {
	server, tool, ok = strings.Cut(name, MCPNameSeparator)
	if !ok || server == "" || tool == "" {
		return "", "", false
	}
	return server, tool, true
}
