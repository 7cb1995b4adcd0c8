// ABOUTME: Unit tests for the scope model and the shared capability check.
// ABOUTME: Covers level ordering, validation, and MCP namespace handling.

package scope

import (
	"errors"
	"testing"
)

func TestToolLevelOrdering(t *testing.T) {
	tests := []struct {
		have     ToolLevel
		required ToolLevel
		want     bool
	}{
		{LevelNone, LevelNone, true},
		{LevelNone, LevelRead, false},
		{LevelRead, LevelRead, true},
		{LevelRead, LevelWrite, false},
		{LevelWrite, LevelRead, true},
		{LevelWrite, LevelSign, false},
		{LevelSign, LevelWrite, true},
		{LevelSign, LevelSign, true},
	}

	for _, tt := range tests {
		if got := tt.have.AtLeast(tt.required); got != tt.want {
			t.Errorf("AtLeast(%s, %s) = %v, want %v", tt.have, tt.required, got, tt.want)
		}
	}
}

func TestParseToolLevel(t *testing.T) {
	for _, valid := range []string{"none", "read", "write", "sign", " Read ", "SIGN"} {
		if _, err := ParseToolLevel(valid); err != nil {
			t.Errorf("ParseToolLevel(%q) error = %v", valid, err)
		}
	}

	for _, invalid := range []string{"", "admin", "readwrite", "all"} {
		if _, err := ParseToolLevel(invalid); !errors.Is(err, ErrInvalidToolLevel) {
			t.Errorf("ParseToolLevel(%q) error = %v, want ErrInvalidToolLevel", invalid, err)
		}
	}
}

func TestScopeValidate(t *testing.T) {
	if err := (Scope{Tools: LevelWrite, System: true}).Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
	if err := (Scope{Tools: "root"}).Validate(); !errors.Is(err, ErrInvalidToolLevel) {
		t.Errorf("Validate() error = %v, want ErrInvalidToolLevel", err)
	}
	if err := (Scope{}).Validate(); !errors.Is(err, ErrInvalidToolLevel) {
		t.Errorf("Validate() on zero scope error = %v, want ErrInvalidToolLevel", err)
	}
}

func TestCheckCapability(t *testing.T) {
	tests := []struct {
		name        string
		scope       Scope
		required    ToolLevel
		requiresMCP bool
		wantErr     error
	}{
		{
			name:     "sufficient level",
			scope:    Scope{Tools: LevelWrite},
			required: LevelWrite,
		},
		{
			name:     "insufficient level",
			scope:    Scope{Tools: LevelRead},
			required: LevelWrite,
			wantErr:  ErrToolLevel,
		},
		{
			name:        "mcp scope missing",
			scope:       Scope{Tools: LevelSign},
			required:    LevelRead,
			requiresMCP: true,
			wantErr:     ErrMCPScope,
		},
		{
			name:        "mcp scope granted",
			scope:       Scope{Tools: LevelRead, MCP: true},
			required:    LevelRead,
			requiresMCP: true,
		},
		{
			name:        "mcp failure reported before tool level",
			scope:       Scope{Tools: LevelNone},
			required:    LevelSign,
			requiresMCP: true,
			wantErr:     ErrMCPScope,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckCapability(tt.scope, tt.required, tt.requiresMCP)
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("CheckCapability() error = %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("CheckCapability() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestDenyCode(t *testing.T) {
	if got := DenyCode(ErrMCPScope); got != "ERR_MCP_SCOPE" {
		t.Errorf("DenyCode(ErrMCPScope) = %q", got)
	}
	if got := DenyCode(ErrToolLevel); got != "ERR_TOOL_LEVEL" {
		t.Errorf("DenyCode(ErrToolLevel) = %q", got)
	}
}

func TestMCPNames(t *testing.T) {
	if !IsMCPName("srv__fetch") {
		t.Error("IsMCPName(srv__fetch) = false")
	}
	if IsMCPName("file_read") {
		t.Error("IsMCPName(file_read) = true")
	}

	server, tool, ok := SplitMCPName("srv__fetch")
	if !ok || server != "srv" || tool != "fetch" {
		t.Errorf("SplitMCPName(srv__fetch) = %q, %q, %v", server, tool, ok)
	}

	if _, _, ok := SplitMCPName("plain"); ok {
		t.Error("SplitMCPName(plain) ok = true")
	}
	if _, _, ok := SplitMCPName("__tool"); ok {
		t.Error("SplitMCPName(__tool) ok = true")
	}
}
