// ABOUTME: JSON-RPC 2.0 MCP endpoint exposing namespaced tools to MCP clients
// ABOUTME: Requires scope.mcp and routes capability checks through the shared check

package mcp

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"

	"github.com/2389/warden/internal/authz"
	"github.com/2389/warden/internal/gateway"
	"github.com/2389/warden/internal/scope"
	"github.com/2389/warden/internal/tools"
)

const protocolVersion = "2024-11-05"

// JSONRPCRequest represents a JSON-RPC 2.0 request.
type JSONRPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// JSONRPCResponse represents a JSON-RPC 2.0 response.
type JSONRPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Result  any             `json:"result,omitempty"`
	Error   *JSONRPCError   `json:"error,omitempty"`
}

// JSONRPCError represents a JSON-RPC 2.0 error object.
type JSONRPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// JSON-RPC 2.0 error codes.
const (
	JSONRPCParseError     = -32700
	JSONRPCInvalidRequest = -32600
	JSONRPCMethodNotFound = -32601
	JSONRPCInvalidParams  = -32602
	JSONRPCInternalError  = -32603
)

// errNotMCPName is the fixed invalid-params message for tools/call on a
// name without the namespace separator. The MCP front door only reaches
// MCP-sourced tools, regardless of the caller's scope.
const errNotMCPName = "tool name must be server__tool"

// ToolInfo describes one tool in a tools/list result.
type ToolInfo struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"inputSchema"`
}

// ServerInfo describes one upstream server in a servers/list result.
type ServerInfo struct {
	Name      string `json:"name"`
	ToolCount int    `json:"toolCount"`
}

// CallToolParams are the params of a tools/call request.
type CallToolParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// Content is one content block in a tools/call result.
type Content struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// CallToolResult is the result of a tools/call request.
type CallToolResult struct {
	Content []Content `json:"content"`
	IsError bool      `json:"isError,omitempty"`
}

// Server is the MCP protocol endpoint. It sits behind the credential
// middleware and delegates execution to the shared pipeline, so MCP
// calls obey exactly the same capability, policy, and cooldown rules as
// the generic tool endpoint.
type Server struct {
	executor *gateway.Executor
	registry *tools.Registry
	logger   *slog.Logger
}

// NewServer creates the MCP endpoint.
func NewServer(executor *gateway.Executor, registry *tools.Registry) *Server {
	return &Server{
		executor: executor,
		registry: registry,
		logger:   slog.Default().With("component", "mcp"),
	}
}

// ServeHTTP handles one JSON-RPC request. Every MCP method requires
// scope.mcp, independent of the tools level.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	auth := authz.MustFromContext(r.Context())
	if !auth.Scope.MCP {
		authz.WriteForbidden(w, scope.ErrMCPScope)
		return
	}

	var req JSONRPCRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, nil, JSONRPCParseError, "invalid JSON")
		return
	}
	if req.JSONRPC != "2.0" {
		s.sendError(w, req.ID, JSONRPCInvalidRequest, "invalid JSON-RPC version")
		return
	}

	switch req.Method {
	case "initialize":
		s.handleInitialize(w, req)
	case "tools/list":
		s.handleToolsList(w, req)
	case "servers/list":
		s.handleServersList(w, req)
	case "tools/call":
		s.handleToolsCall(w, r, req)
	case "ping":
		s.sendResult(w, req.ID, map[string]any{})
	default:
		s.sendError(w, req.ID, JSONRPCMethodNotFound, "method not found")
	}
}

func (s *Server) handleInitialize(w http.ResponseWriter, req JSONRPCRequest) {
	s.sendResult(w, req.ID, map[string]any{
		"protocolVersion": protocolVersion,
		"capabilities": map[string]any{
			"tools": map[string]any{},
		},
		"serverInfo": map[string]any{
			"name":    "warden",
			"version": "1.0.0",
		},
	})
}

func (s *Server) handleToolsList(w http.ResponseWriter, req JSONRPCRequest) {
	mcpTools := s.registry.ListMCP()
	infos := make([]ToolInfo, 0, len(mcpTools))
	for _, t := range mcpTools {
		infos = append(infos, ToolInfo{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: map[string]any{"type": "object"},
		})
	}
	s.sendResult(w, req.ID, map[string]any{"tools": infos})
}

// handleServersList reports the distinct upstream servers behind the
// registered namespaced tools, with a tool count per server.
func (s *Server) handleServersList(w http.ResponseWriter, req JSONRPCRequest) {
	counts := make(map[string]int)
	for _, t := range s.registry.ListMCP() {
		server, _, ok := scope.SplitMCPName(t.Name)
		if !ok {
			continue
		}
		counts[server]++
	}

	names := make([]string, 0, len(counts))
	for name := range counts {
		names = append(names, name)
	}
	sort.Strings(names)

	servers := make([]ServerInfo, 0, len(names))
	for _, name := range names {
		servers = append(servers, ServerInfo{Name: name, ToolCount: counts[name]})
	}
	s.sendResult(w, req.ID, map[string]any{"servers": servers})
}

func (s *Server) handleToolsCall(w http.ResponseWriter, r *http.Request, req JSONRPCRequest) {
	var params CallToolParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		s.sendError(w, req.ID, JSONRPCInvalidParams, "invalid params")
		return
	}
	if _, _, ok := scope.SplitMCPName(params.Name); !ok {
		s.sendError(w, req.ID, JSONRPCInvalidParams, errNotMCPName)
		return
	}

	auth := authz.MustFromContext(r.Context())
	caller := auth.ID
	if caller == "" {
		caller = string(auth.Type)
	}
	result, err := s.executor.Execute(r.Context(), &gateway.Request{
		Tool:   params.Name,
		Params: params.Arguments,
		Caller: caller,
		Scope:  auth.Scope,
	})
	if err != nil {
		s.writeExecuteError(w, req, err)
		return
	}

	switch result.Status {
	case gateway.StatusExecuted:
		text, merr := json.Marshal(result.Output)
		if merr != nil {
			s.sendError(w, req.ID, JSONRPCInternalError, "unencodable tool output")
			return
		}
		s.sendResult(w, req.ID, CallToolResult{
			Content: []Content{{Type: "text", Text: string(text)}},
		})
	default:
		// Policy and cooldown denials surface as tool errors, not
		// protocol errors.
		reason := result.Reason
		if reason == "" && result.Decision != nil {
			reason = fmt.Sprintf("action required: %s", result.Decision.Action)
		}
		s.sendResult(w, req.ID, CallToolResult{
			Content: []Content{{Type: "text", Text: reason}},
			IsError: true,
		})
	}
}

// writeExecuteError maps pipeline errors. Capability failures use the
// same 403 body as the generic endpoint.
func (s *Server) writeExecuteError(w http.ResponseWriter, req JSONRPCRequest, err error) {
	switch {
	case errors.Is(err, scope.ErrToolLevel), errors.Is(err, scope.ErrMCPScope):
		authz.WriteForbidden(w, err)
	case errors.Is(err, tools.ErrToolNotFound):
		s.sendError(w, req.ID, JSONRPCInvalidParams, "unknown tool")
	case errors.Is(err, gateway.ErrPaused):
		s.sendError(w, req.ID, JSONRPCInternalError, err.Error())
	default:
		s.logger.Error("mcp tool call failed", "error", err)
		s.sendError(w, req.ID, JSONRPCInternalError, "internal error")
	}
}

func (s *Server) sendResult(w http.ResponseWriter, id json.RawMessage, result any) {
	s.send(w, JSONRPCResponse{JSONRPC: "2.0", ID: id, Result: result})
}

func (s *Server) sendError(w http.ResponseWriter, id json.RawMessage, code int, message string) {
	s.send(w, JSONRPCResponse{JSONRPC: "2.0", ID: id, Error: &JSONRPCError{Code: code, Message: message}})
}

func (s *Server) send(w http.ResponseWriter, resp JSONRPCResponse) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Error("failed to encode response", "error", err)
	}
}
