// ABOUTME: In-memory registry of executable tools and their declared security levels
// ABOUTME: MCP-sourced tools register under namespaced server__tool names

package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/2389/warden/internal/scope"
)

var (
	ErrToolNotFound  = errors.New("tool not found")
	ErrToolCollision = errors.New("tool name already registered")
	ErrReservedName  = errors.New("tool name uses the MCP namespace separator")
)

// Handler executes a tool call. params is the raw JSON argument object.
type Handler func(ctx context.Context, params json.RawMessage) (any, error)

// Tool is one registered executable tool.
type Tool struct {
	Name        string
	Description string
	// Level is the minimum scope.tools level a caller must hold.
	Level scope.ToolLevel
	// MCP marks tools surfaced from an MCP server; they additionally
	// require scope.mcp regardless of invocation path.
	MCP     bool
	Handler Handler
}

// Registry holds the tool table. Registration happens at startup;
// lookups are concurrent.
type Registry struct {
	mu     sync.RWMutex
	tools  map[string]*Tool
	logger *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		tools:  make(map[string]*Tool),
		logger: slog.Default().With("component", "tools"),
	}
}

// Register adds a locally-implemented tool. Names containing the MCP
// namespace separator are reserved for RegisterMCPTool.
func (r *Registry) Register(t *Tool) error {
	if scope.IsMCPName(t.Name) {
		return fmt.Errorf("%w: %s", ErrReservedName, t.Name)
	}
	return r.add(t)
}

// RegisterMCPTool adds a tool surfaced by an MCP server under its
// namespaced server__tool name. The MCP flag is forced on.
func (r *Registry) RegisterMCPTool(server, name string, t *Tool) error {
	t.Name = server + scope.MCPNameSeparator + name
	t.MCP = true
	return r.add(t)
}

func (r *Registry) add(t *Tool) error {
	if t.Name == "" {
		return errors.New("tool name required")
	}
	if t.Handler == nil {
		return fmt.Errorf("tool %s has no handler", t.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[t.Name]; exists {
		return fmt.Errorf("%w: %s", ErrToolCollision, t.Name)
	}
	r.tools[t.Name] = t
	r.logger.Debug("tool registered", "name", t.Name, "level", string(t.Level), "mcp", t.MCP)
	return nil
}

// Get looks up a tool by name.
func (r *Registry) Get(name string) (*Tool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}
	return t, nil
}

// List returns all registered tools in unspecified order; callers sort
// if they need stable output.
func (r *Registry) List() []*Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Tool, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t)
	}
	return out
}

// ListMCP returns only MCP-sourced tools.
func (r *Registry) ListMCP() []*Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Tool
	for _, t := range r.tools {
		if t.MCP {
			out = append(out, t)
		}
	}
	return out
}
