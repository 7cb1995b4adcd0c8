// ABOUTME: Tests for the tool registry
// ABOUTME: Covers namespace reservation, collisions, and MCP flag forcing

package tools

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/warden/internal/scope"
)

func noopHandler(context.Context, json.RawMessage) (any, error) {
	return "ok", nil
}

func TestRegisterAndGet(t *testing.T) {
	r := NewRegistry()

	require.NoError(t, r.Register(&Tool{Name: "web_search", Level: scope.LevelRead, Handler: noopHandler}))

	got, err := r.Get("web_search")
	require.NoError(t, err)
	assert.Equal(t, scope.LevelRead, got.Level)
	assert.False(t, got.MCP)

	_, err = r.Get("missing")
	assert.ErrorIs(t, err, ErrToolNotFound)
}

func TestRegisterRejectsNamespacedNames(t *testing.T) {
	r := NewRegistry()
	err := r.Register(&Tool{Name: "srv__tool", Level: scope.LevelRead, Handler: noopHandler})
	assert.ErrorIs(t, err, ErrReservedName)
}

func TestRegisterCollision(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(&Tool{Name: "dup", Level: scope.LevelRead, Handler: noopHandler}))
	err := r.Register(&Tool{Name: "dup", Level: scope.LevelRead, Handler: noopHandler})
	assert.ErrorIs(t, err, ErrToolCollision)
}

func TestRegisterMCPTool(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.RegisterMCPTool("srv", "fetch", &Tool{Level: scope.LevelWrite, Handler: noopHandler}))

	got, err := r.Get("srv__fetch")
	require.NoError(t, err)
	assert.True(t, got.MCP)
	assert.Equal(t, scope.LevelWrite, got.Level)

	mcp := r.ListMCP()
	require.Len(t, mcp, 1)
	assert.Equal(t, "srv__fetch", mcp[0].Name)
}

func TestRegisterValidation(t *testing.T) {
	r := NewRegistry()
	assert.Error(t, r.Register(&Tool{Name: "", Handler: noopHandler}))
	assert.Error(t, r.Register(&Tool{Name: "no_handler"}))
}
