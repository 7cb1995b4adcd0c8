// ABOUTME: Tests for the builtin tool set
// ABOUTME: Verifies registration and handler behavior through the registry

package builtins

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/warden/internal/scope"
	"github.com/2389/warden/internal/tools"
)

func TestRegister(t *testing.T) {
	reg := tools.NewRegistry()
	require.NoError(t, Register(reg))

	for _, name := range []string{"ping", "time_now", "echo"} {
		tool, err := reg.Get(name)
		require.NoError(t, err, name)
		assert.False(t, tool.MCP)
	}

	ping, err := reg.Get("ping")
	require.NoError(t, err)
	assert.Equal(t, scope.LevelNone, ping.Level)
}

func TestEcho(t *testing.T) {
	reg := tools.NewRegistry()
	require.NoError(t, Register(reg))

	tool, err := reg.Get("echo")
	require.NoError(t, err)

	out, err := tool.Handler(context.Background(), json.RawMessage(`{"a":1}`))
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"a": float64(1)}, out)

	out, err = tool.Handler(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{}, out)
}
