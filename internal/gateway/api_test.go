// ABOUTME: End-to-end tests for the HTTP API over a real store and pipeline
// ABOUTME: Walks pairing, scoped tool calls, MCP scope enforcement, and revocation

package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/2389/warden/internal/authz"
	"github.com/2389/warden/internal/cooldown"
	"github.com/2389/warden/internal/emergency"
	"github.com/2389/warden/internal/kvstore"
	"github.com/2389/warden/internal/pairing"
	"github.com/2389/warden/internal/policy"
	"github.com/2389/warden/internal/scope"
	"github.com/2389/warden/internal/sessionkey"
	"github.com/2389/warden/internal/store"
	"github.com/2389/warden/internal/tools"
)

const apiPolicyDoc = `
version: 1
defaults:
  tier: none
thresholds:
  tier3MaxUsd: 5
  tier2MaxUsd: 50
  tier2DailyUsd: 200
fallback:
  tier: none
`

const adminSecret = "test-admin-secret"

type testHarness struct {
	srv       *httptest.Server
	store     *store.SQLiteStore
	emergency *emergency.Controller
	engine    *policy.Engine
}

func newTestHarness(t *testing.T) *testHarness {
	t.Helper()

	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "warden.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	hasher, err := pairing.NewTokenHasher([]byte("test-hmac-key-0123456789abcdef"))
	require.NoError(t, err)
	pairSvc := pairing.NewService(st, st, st, hasher)

	doc, err := policy.Parse([]byte(apiPolicyDoc))
	require.NoError(t, err)
	engine := policy.NewEngine(doc)

	kv := kvstore.NewMemoryStore()
	t.Cleanup(func() { _ = kv.Close() })

	sessions, err := sessionkey.NewRegistry(st, kv, []byte("0123456789abcdef0123456789abcdef"), 0)
	require.NoError(t, err)

	registry := tools.NewRegistry()
	echo := func(_ context.Context, params json.RawMessage) (any, error) {
		return map[string]string{"echo": string(params)}, nil
	}
	require.NoError(t, registry.Register(&tools.Tool{Name: "read_notes", Level: scope.LevelRead, Handler: echo}))
	require.NoError(t, registry.Register(&tools.Tool{Name: "write_notes", Level: scope.LevelWrite, Handler: echo}))
	require.NoError(t, registry.RegisterMCPTool("srv", "x", &tools.Tool{Level: scope.LevelRead, Handler: echo}))

	executor := NewExecutor(registry, engine, cooldown.NewTracker(), sessions, kv)
	controller := emergency.NewController(sessions, executor, st, nil)

	hash, err := bcrypt.GenerateFromPassword([]byte(adminSecret), bcrypt.MinCost)
	require.NoError(t, err)
	mw := authz.NewMiddleware(pairSvc, string(hash))

	server := NewServer(pairSvc, executor, controller, sessions, st, mw, []string{"/stop", "/panic"})
	ts := httptest.NewServer(server.Routes())
	t.Cleanup(ts.Close)

	return &testHarness{srv: ts, store: st, emergency: controller, engine: engine}
}

func (h *testHarness) do(t *testing.T, method, path string, body any, headers map[string]string) (*http.Response, map[string]any) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, h.srv.URL+path, &buf)
	require.NoError(t, err)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	var decoded map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&decoded)
	return resp, decoded
}

func adminHeaders() map[string]string {
	return map[string]string{authz.HeaderAdminSecret: adminSecret}
}

func deviceHeaders(id, token string) map[string]string {
	return map[string]string{
		authz.HeaderDeviceID:    id,
		authz.HeaderDeviceToken: token,
	}
}

// Walks the full lifecycle: pair, approve with {write, system, no mcp},
// call tools at and above the granted level, hit the mcp wall, revoke.
func TestPairingToRevocationFlow(t *testing.T) {
	h := newTestHarness(t)

	resp, body := h.do(t, http.MethodPost, "/v1/pair/request", nil, map[string]string{authz.HeaderDeviceID: "dev1"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "pending", body["status"])

	resp, body = h.do(t, http.MethodGet, "/v1/pair/status", nil, map[string]string{authz.HeaderDeviceID: "dev1"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "pending", body["status"])

	resp, body = h.do(t, http.MethodPost, "/v1/admin/devices/dev1/approve", map[string]any{
		"scope": map[string]any{"tools": "write", "system": true, "mcp": false},
	}, adminHeaders())
	require.Equal(t, http.StatusOK, resp.StatusCode)
	token, _ := body["deviceToken"].(string)
	require.NotEmpty(t, token)

	// A write-level tool call is allowed
	resp, body = h.do(t, http.MethodPost, "/v1/tools/write_notes", map[string]any{"params": map[string]any{"text": "hi"}}, deviceHeaders("dev1", token))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "executed", body["status"])

	// A namespaced MCP tool is refused without the mcp scope
	resp, body = h.do(t, http.MethodPost, "/v1/tools/srv__x", nil, deviceHeaders("dev1", token))
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, "ERR_MCP_SCOPE", body["code"])

	// Revoke; the old token fails uniformly from then on
	resp, _ = h.do(t, http.MethodPost, "/v1/admin/devices/dev1/revoke", nil, adminHeaders())
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body = h.do(t, http.MethodPost, "/v1/tools/write_notes", nil, deviceHeaders("dev1", token))
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "invalid credentials", body["error"])

	// And the device reads as unknown, not revoked
	resp, body = h.do(t, http.MethodGet, "/v1/pair/status", nil, map[string]string{authz.HeaderDeviceID: "dev1"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "unknown", body["status"])
}

func TestToolLevelForbidden(t *testing.T) {
	h := newTestHarness(t)

	h.do(t, http.MethodPost, "/v1/pair/request", nil, map[string]string{authz.HeaderDeviceID: "dev1"})
	_, body := h.do(t, http.MethodPost, "/v1/admin/devices/dev1/approve", nil, adminHeaders())
	token := body["deviceToken"].(string)

	// Default scope is read; a write tool is refused with the level code
	resp, body := h.do(t, http.MethodPost, "/v1/tools/write_notes", nil, deviceHeaders("dev1", token))
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, "ERR_TOOL_LEVEL", body["code"])

	resp, body = h.do(t, http.MethodPost, "/v1/tools/read_notes", nil, deviceHeaders("dev1", token))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "executed", body["status"])
}

func TestAdminEndpointsRejectScopedCredentials(t *testing.T) {
	h := newTestHarness(t)

	h.do(t, http.MethodPost, "/v1/pair/request", nil, map[string]string{authz.HeaderDeviceID: "dev1"})
	_, body := h.do(t, http.MethodPost, "/v1/admin/devices/dev1/approve", map[string]any{
		"scope": map[string]any{"tools": "sign", "system": true, "mcp": true},
	}, adminHeaders())
	token := body["deviceToken"].(string)

	// The broadest device scope still cannot reach admin endpoints
	resp, _ := h.do(t, http.MethodGet, "/v1/admin/devices", nil, deviceHeaders("dev1", token))
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestAPIKeyFlow(t *testing.T) {
	h := newTestHarness(t)

	resp, body := h.do(t, http.MethodPost, "/v1/admin/api-keys", map[string]any{
		"name":  "ci",
		"scope": map[string]any{"tools": "read", "mcp": true},
	}, adminHeaders())
	require.Equal(t, http.StatusOK, resp.StatusCode)
	rawKey := body["key"].(string)
	keyID := body["id"].(string)

	bearer := map[string]string{"Authorization": "Bearer " + rawKey}
	resp, body = h.do(t, http.MethodPost, "/v1/tools/srv__x", nil, bearer)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "executed", body["status"])

	resp, _ = h.do(t, http.MethodDelete, "/v1/admin/api-keys/"+keyID, nil, adminHeaders())
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body = h.do(t, http.MethodPost, "/v1/tools/srv__x", nil, bearer)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "invalid credentials", body["error"])

	// Second revoke reports 404
	resp, _ = h.do(t, http.MethodDelete, "/v1/admin/api-keys/"+keyID, nil, adminHeaders())
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestScopeUpdateValidation(t *testing.T) {
	h := newTestHarness(t)

	resp, _ := h.do(t, http.MethodPut, "/v1/admin/devices/ghost/scope", map[string]any{
		"scope": map[string]any{"tools": "read"},
	}, adminHeaders())
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	h.do(t, http.MethodPost, "/v1/pair/request", nil, map[string]string{authz.HeaderDeviceID: "dev1"})
	h.do(t, http.MethodPost, "/v1/admin/devices/dev1/approve", nil, adminHeaders())

	resp, _ = h.do(t, http.MethodPut, "/v1/admin/devices/dev1/scope", map[string]any{
		"scope": map[string]any{"tools": "root"},
	}, adminHeaders())
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestEmergencyStopBlocksExecution(t *testing.T) {
	h := newTestHarness(t)

	h.do(t, http.MethodPost, "/v1/pair/request", nil, map[string]string{authz.HeaderDeviceID: "dev1"})
	_, body := h.do(t, http.MethodPost, "/v1/admin/devices/dev1/approve", nil, adminHeaders())
	token := body["deviceToken"].(string)

	resp, _ := h.do(t, http.MethodPost, "/v1/admin/emergency/stop", map[string]any{"reason": "test"}, adminHeaders())
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, h.emergency.Stopped())

	resp, _ = h.do(t, http.MethodPost, "/v1/tools/read_notes", nil, deviceHeaders("dev1", token))
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	resp, _ = h.do(t, http.MethodPost, "/v1/admin/emergency/resume", nil, adminHeaders())
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body = h.do(t, http.MethodPost, "/v1/tools/read_notes", nil, deviceHeaders("dev1", token))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "executed", body["status"])

	// The audit log captured both transitions
	resp, body = h.do(t, http.MethodGet, "/v1/admin/audit", nil, adminHeaders())
	require.Equal(t, http.StatusOK, resp.StatusCode)
	entries := body["entries"].([]any)
	actions := make([]string, 0, len(entries))
	for _, e := range entries {
		actions = append(actions, e.(map[string]any)["action"].(string))
	}
	assert.Contains(t, actions, "emergency_stop")
	assert.Contains(t, actions, "emergency_resume")
}

func TestEmergencyReportEndpoint(t *testing.T) {
	h := newTestHarness(t)

	h.do(t, http.MethodPost, "/v1/pair/request", nil, map[string]string{authz.HeaderDeviceID: "dev1"})
	_, body := h.do(t, http.MethodPost, "/v1/admin/devices/dev1/approve", nil, adminHeaders())
	token := body["deviceToken"].(string)

	// Ordinary chatter does not trip the stop
	resp, body := h.do(t, http.MethodPost, "/v1/emergency/report", map[string]any{"text": "hello there"}, deviceHeaders("dev1", token))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, false, body["triggered"])
	assert.False(t, h.emergency.Stopped())

	// A configured trigger phrase does, even from a read-scoped device
	resp, body = h.do(t, http.MethodPost, "/v1/emergency/report", map[string]any{"text": "  /PANIC  "}, deviceHeaders("dev1", token))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["triggered"])
	assert.True(t, h.emergency.Stopped())

	resp, _ = h.do(t, http.MethodPost, "/v1/tools/read_notes", nil, deviceHeaders("dev1", token))
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestEmergencyReportFollowsPolicyDocument(t *testing.T) {
	h := newTestHarness(t)

	h.do(t, http.MethodPost, "/v1/pair/request", nil, map[string]string{authz.HeaderDeviceID: "dev1"})
	_, body := h.do(t, http.MethodPost, "/v1/admin/devices/dev1/approve", nil, adminHeaders())
	token := body["deviceToken"].(string)

	// A reloaded document with its own emergencyStop section replaces the
	// static trigger list
	doc, err := policy.Parse([]byte(`
version: 2
emergencyStop:
  enabled: true
  commands: ["/halt"]
fallback:
  tier: none
`))
	require.NoError(t, err)
	h.engine.SetDocument(doc)

	// The statically configured phrase no longer triggers
	resp, body := h.do(t, http.MethodPost, "/v1/emergency/report", map[string]any{"text": "/panic"}, deviceHeaders("dev1", token))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, false, body["triggered"])
	assert.False(t, h.emergency.Stopped())

	// The document's phrase does
	resp, body = h.do(t, http.MethodPost, "/v1/emergency/report", map[string]any{"text": "/halt"}, deviceHeaders("dev1", token))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["triggered"])
	assert.True(t, h.emergency.Stopped())

	resp, _ = h.do(t, http.MethodPost, "/v1/admin/emergency/resume", nil, adminHeaders())
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// A present but disabled section turns command scanning off entirely
	doc, err = policy.Parse([]byte(`
version: 3
emergencyStop:
  enabled: false
  commands: ["/halt"]
fallback:
  tier: none
`))
	require.NoError(t, err)
	h.engine.SetDocument(doc)

	resp, body = h.do(t, http.MethodPost, "/v1/emergency/report", map[string]any{"text": "/halt"}, deviceHeaders("dev1", token))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, false, body["triggered"])
	assert.False(t, h.emergency.Stopped())
}

func TestSessionKeyIssueEndpoint(t *testing.T) {
	h := newTestHarness(t)

	resp, body := h.do(t, http.MethodPost, "/v1/admin/session-keys", nil, adminHeaders())
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, body["token"])
	assert.NotEmpty(t, body["id"])
}

func TestToolCallIdempotency(t *testing.T) {
	h := newTestHarness(t)

	h.do(t, http.MethodPost, "/v1/pair/request", nil, map[string]string{authz.HeaderDeviceID: "dev1"})
	_, body := h.do(t, http.MethodPost, "/v1/admin/devices/dev1/approve", nil, adminHeaders())
	token := body["deviceToken"].(string)

	call := map[string]any{"idempotencyKey": "once"}
	resp, body := h.do(t, http.MethodPost, "/v1/tools/read_notes", call, deviceHeaders("dev1", token))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "executed", body["status"])

	resp, body = h.do(t, http.MethodPost, "/v1/tools/read_notes", call, deviceHeaders("dev1", token))
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "duplicate", body["status"])
}

func TestToolCallIdempotencyScopedPerAPIKey(t *testing.T) {
	h := newTestHarness(t)

	mintKey := func(name string) map[string]string {
		t.Helper()
		resp, body := h.do(t, http.MethodPost, "/v1/admin/api-keys", map[string]any{
			"name":  name,
			"scope": map[string]any{"tools": "read"},
		}, adminHeaders())
		require.Equal(t, http.StatusOK, resp.StatusCode)
		return map[string]string{"Authorization": "Bearer " + body["key"].(string)}
	}
	keyA := mintKey("ci-a")
	keyB := mintKey("ci-b")

	// The same idempotency key under a different credential is a fresh
	// call, not a duplicate: suppression is scoped to the key's identity.
	call := map[string]any{"idempotencyKey": "once"}
	resp, body := h.do(t, http.MethodPost, "/v1/tools/read_notes", call, keyA)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "executed", body["status"])

	resp, body = h.do(t, http.MethodPost, "/v1/tools/read_notes", call, keyB)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "executed", body["status"])

	resp, body = h.do(t, http.MethodPost, "/v1/tools/read_notes", call, keyA)
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "duplicate", body["status"])
}

func TestUnknownToolIs404(t *testing.T) {
	h := newTestHarness(t)

	h.do(t, http.MethodPost, "/v1/pair/request", nil, map[string]string{authz.HeaderDeviceID: "dev1"})
	_, body := h.do(t, http.MethodPost, "/v1/admin/devices/dev1/approve", nil, adminHeaders())
	token := body["deviceToken"].(string)

	resp, _ := h.do(t, http.MethodPost, "/v1/tools/ghost", nil, deviceHeaders("dev1", token))
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
