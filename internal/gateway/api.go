// ABOUTME: HTTP API for pairing, admin credential management, and tool execution
// ABOUTME: Routes compose the authz middleware; handlers map service errors to status codes

package gateway

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/2389/warden/internal/authz"
	"github.com/2389/warden/internal/emergency"
	"github.com/2389/warden/internal/pairing"
	"github.com/2389/warden/internal/policy"
	"github.com/2389/warden/internal/scope"
	"github.com/2389/warden/internal/sessionkey"
	"github.com/2389/warden/internal/store"
	"github.com/2389/warden/internal/tools"
)

// Server is the HTTP surface over the access-control core.
type Server struct {
	pairing   *pairing.Service
	executor  *Executor
	emergency *emergency.Controller
	sessions  *sessionkey.Registry
	audit     store.AuditStore
	mw        *authz.Middleware
	logger    *slog.Logger

	// stopCommands are the statically configured emergency trigger
	// phrases. The policy document's emergencyStop section takes
	// precedence when one is loaded; empty falls back to
	// emergency.DefaultCommands.
	stopCommands []string
}

// NewServer wires the HTTP surface.
func NewServer(p *pairing.Service, ex *Executor, em *emergency.Controller, sk *sessionkey.Registry, audit store.AuditStore, mw *authz.Middleware, stopCommands []string) *Server {
	return &Server{
		pairing:      p,
		executor:     ex,
		emergency:    em,
		sessions:     sk,
		audit:        audit,
		mw:           mw,
		logger:       slog.Default().With("component", "api"),
		stopCommands: stopCommands,
	}
}

// Routes builds the full route table.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	// Device-facing pairing endpoints: the device presents only its id,
	// it has no token yet.
	mux.HandleFunc("POST /v1/pair/request", s.handlePairRequest)
	mux.HandleFunc("GET /v1/pair/status", s.handlePairStatus)

	// Admin surface, gated on the gateway secret.
	admin := func(h http.HandlerFunc) http.Handler { return s.mw.RequireAdmin(h) }
	mux.Handle("GET /v1/admin/devices", admin(s.handleListDevices))
	mux.Handle("GET /v1/admin/devices/pending", admin(s.handleListPending))
	mux.Handle("POST /v1/admin/devices/{id}/approve", admin(s.handleApprove))
	mux.Handle("POST /v1/admin/devices/{id}/reject", admin(s.handleReject))
	mux.Handle("POST /v1/admin/devices/{id}/revoke", admin(s.handleRevoke))
	mux.Handle("POST /v1/admin/devices/{id}/rotate", admin(s.handleRotate))
	mux.Handle("PUT /v1/admin/devices/{id}/scope", admin(s.handleUpdateScope))
	mux.Handle("POST /v1/admin/api-keys", admin(s.handleCreateAPIKey))
	mux.Handle("GET /v1/admin/api-keys", admin(s.handleListAPIKeys))
	mux.Handle("DELETE /v1/admin/api-keys/{id}", admin(s.handleRevokeAPIKey))
	mux.Handle("POST /v1/admin/session-keys", admin(s.handleIssueSessionKey))
	mux.Handle("POST /v1/admin/emergency/stop", admin(s.handleEmergencyStop))
	mux.Handle("POST /v1/admin/emergency/resume", admin(s.handleEmergencyResume))
	mux.Handle("GET /v1/admin/audit", admin(s.handleAuditLog))

	// Tool execution, gated on a scoped credential.
	mux.Handle("POST /v1/tools/{name}", s.mw.RequireCredential(http.HandlerFunc(s.handleToolCall)))

	// Any paired device can report a message for emergency command
	// scanning. Triggering the stop requires no elevated scope.
	mux.Handle("POST /v1/emergency/report", s.mw.RequireCredential(http.HandlerFunc(s.handleEmergencyReport)))

	return mux
}

func (s *Server) handlePairRequest(w http.ResponseWriter, r *http.Request) {
	deviceID := r.Header.Get(authz.HeaderDeviceID)
	state, err := s.pairing.RequestPairing(r.Context(), deviceID)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": string(state)})
}

func (s *Server) handlePairStatus(w http.ResponseWriter, r *http.Request) {
	deviceID := r.Header.Get(authz.HeaderDeviceID)
	status, err := s.pairing.Status(r.Context(), deviceID)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := s.pairing.ListDevices(r.Context())
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"devices": devices})
}

func (s *Server) handleListPending(w http.ResponseWriter, r *http.Request) {
	devices, err := s.pairing.ListPending(r.Context())
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"devices": devices})
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Scope *scope.Scope `json:"scope"`
	}
	if !decodeOptionalBody(w, r, &body) {
		return
	}

	token, assigned, err := s.pairing.Approve(r.Context(), r.PathValue("id"), body.Scope)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"deviceToken": token,
		"scope":       assigned,
	})
}

func (s *Server) handleReject(w http.ResponseWriter, r *http.Request) {
	if err := s.pairing.Reject(r.Context(), r.PathValue("id")); err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "rejected"})
}

func (s *Server) handleRevoke(w http.ResponseWriter, r *http.Request) {
	if err := s.pairing.Revoke(r.Context(), r.PathValue("id")); err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "revoked"})
}

func (s *Server) handleRotate(w http.ResponseWriter, r *http.Request) {
	token, err := s.pairing.RotateToken(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"deviceToken": token})
}

func (s *Server) handleUpdateScope(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Scope scope.Scope `json:"scope"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := s.pairing.UpdateScope(r.Context(), r.PathValue("id"), body.Scope); err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"scope": body.Scope})
}

func (s *Server) handleCreateAPIKey(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name      string       `json:"name"`
		Scope     *scope.Scope `json:"scope"`
		ExpiresAt *time.Time   `json:"expiresAt"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	created, err := s.pairing.CreateAPIKey(r.Context(), body.Name, body.Scope, body.ExpiresAt)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, created)
}

func (s *Server) handleListAPIKeys(w http.ResponseWriter, r *http.Request) {
	keys, err := s.pairing.ListAPIKeys(r.Context())
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"keys": keys})
}

func (s *Server) handleRevokeAPIKey(w http.ResponseWriter, r *http.Request) {
	if err := s.pairing.RevokeAPIKey(r.Context(), r.PathValue("id")); err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "revoked"})
}

func (s *Server) handleIssueSessionKey(w http.ResponseWriter, r *http.Request) {
	grant, err := s.sessions.Issue(r.Context())
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	// Issuance is observable through the lifecycle events; the audit
	// entry is best effort.
	if err := s.audit.AppendAuditLog(r.Context(), &store.AuditEntry{
		Actor:      "admin",
		Action:     store.AuditIssueSessionKey,
		TargetType: "session_key",
		TargetID:   grant.ID,
	}); err != nil {
		s.logger.Warn("failed to audit session key issue", "error", err)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"id":        grant.ID,
		"token":     grant.Token,
		"expiresAt": grant.ExpiresAt,
	})
}

func (s *Server) handleEmergencyStop(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Reason string `json:"reason"`
	}
	if !decodeOptionalBody(w, r, &body) {
		return
	}
	if body.Reason == "" {
		body.Reason = "manual trigger"
	}

	if err := s.emergency.Execute(r.Context(), body.Reason, "admin"); err != nil {
		// The stop is engaged even on error; report both facts.
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"status": "stopped",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
}

func (s *Server) handleEmergencyResume(w http.ResponseWriter, r *http.Request) {
	if err := s.emergency.Resume(r.Context(), "admin"); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.executor.ResetDenials()
	writeJSON(w, http.StatusOK, map[string]string{"status": "running"})
}

func (s *Server) handleEmergencyReport(w http.ResponseWriter, r *http.Request) {
	auth := authz.MustFromContext(r.Context())

	var body struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if !s.isEmergencyCommand(body.Text) {
		writeJSON(w, http.StatusOK, map[string]bool{"triggered": false})
		return
	}

	caller := auth.ID
	if caller == "" {
		caller = string(auth.Type)
	}
	if err := s.emergency.Execute(r.Context(), "emergency command", caller); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"triggered": true,
			"error":     err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"triggered": true})
}

// isEmergencyCommand checks text against the trigger phrases currently
// in force. The loaded policy document's emergencyStop section wins
// over the static config, and because the engine snapshot is consulted
// per request, a hot reload takes effect immediately. A section that is
// present but disabled turns scanning off entirely; an absent section
// keeps the configured commands.
func (s *Server) isEmergencyCommand(text string) bool {
	es := s.executor.engine.Document().EmergencyStop
	switch {
	case es.Enabled:
		commands := es.Commands
		if len(commands) == 0 {
			commands = s.stopCommands
		}
		return emergency.IsEmergencyCommand(text, commands)
	case len(es.Commands) > 0 || len(es.Channels) > 0 || es.Action != "":
		return false
	default:
		return emergency.IsEmergencyCommand(text, s.stopCommands)
	}
}

func (s *Server) handleAuditLog(w http.ResponseWriter, r *http.Request) {
	filter := store.AuditFilter{}
	if actor := r.URL.Query().Get("actor"); actor != "" {
		filter.Actor = &actor
	}
	if action := r.URL.Query().Get("action"); action != "" {
		a := store.AuditAction(action)
		filter.Action = &a
	}

	entries, err := s.audit.ListAuditLog(r.Context(), filter)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

// toolCallBody is the generic tool-execution request body.
type toolCallBody struct {
	Params         json.RawMessage `json:"params"`
	AmountUSD      *float64        `json:"amountUsd"`
	IdempotencyKey string          `json:"idempotencyKey"`
}

// decisionView is the wire shape of a policy decision.
type decisionView struct {
	Action              string `json:"action"`
	Tier                string `json:"tier"`
	EffectiveTier       string `json:"effectiveTier"`
	Reason              string `json:"reason,omitempty"`
	ConfirmationChannel string `json:"confirmationChannel,omitempty"`
	SignerTier          string `json:"signerTier"`
}

func viewOf(d *policy.Decision) *decisionView {
	if d == nil {
		return nil
	}
	v := &decisionView{
		Action:        string(d.Action),
		Tier:          d.Tier.String(),
		EffectiveTier: d.EffectiveTier.String(),
		Reason:        d.Reason,
		SignerTier:    string(d.SignerTier),
	}
	if d.Action == policy.ActionConfirm {
		v.ConfirmationChannel = d.ConfirmationChannel
	}
	return v
}

func (s *Server) handleToolCall(w http.ResponseWriter, r *http.Request) {
	auth := authz.MustFromContext(r.Context())

	var body toolCallBody
	if !decodeOptionalBody(w, r, &body) {
		return
	}

	caller := auth.ID
	if caller == "" {
		caller = string(auth.Type)
	}
	result, err := s.executor.Execute(r.Context(), &Request{
		Tool:           r.PathValue("name"),
		Params:         body.Params,
		AmountUSD:      body.AmountUSD,
		IdempotencyKey: body.IdempotencyKey,
		Caller:         caller,
		Scope:          auth.Scope,
	})
	if err != nil {
		s.writeToolError(w, err)
		return
	}

	code := http.StatusOK
	if result.Status == StatusDuplicate {
		code = http.StatusConflict
	}
	writeJSON(w, code, map[string]any{
		"status":   string(result.Status),
		"reason":   result.Reason,
		"decision": viewOf(result.Decision),
		"output":   result.Output,
	})
}

func (s *Server) writeToolError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, scope.ErrToolLevel), errors.Is(err, scope.ErrMCPScope):
		authz.WriteForbidden(w, err)
	case errors.Is(err, tools.ErrToolNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, ErrPaused):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		s.logger.Error("tool call failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// writeServiceError maps pairing/store errors onto HTTP status codes.
func (s *Server) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, pairing.ErrInvalidDeviceID),
		errors.Is(err, pairing.ErrInvalidScope),
		errors.Is(err, pairing.ErrInvalidExpiry),
		errors.Is(err, pairing.ErrNameRequired):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, store.ErrDeviceNotFound),
		errors.Is(err, store.ErrAPIKeyNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, pairing.ErrNotPending),
		errors.Is(err, pairing.ErrNotPaired),
		errors.Is(err, pairing.ErrDeviceRevoked):
		writeError(w, http.StatusConflict, err.Error())
	default:
		s.logger.Error("request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// decodeOptionalBody decodes a JSON body, tolerating an absent one.
// Returns false after writing a 400 when the body is present but
// malformed.
func decodeOptionalBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	switch err := json.NewDecoder(r.Body).Decode(dst); {
	case err == nil, errors.Is(err, io.EOF):
		return true
	default:
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
