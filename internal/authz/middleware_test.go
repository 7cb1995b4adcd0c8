// ABOUTME: Tests for the authentication middleware
// ABOUTME: Covers credential form exclusivity, uniform 401s, and the admin gate

package authz

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/2389/warden/internal/scope"
)

var errAuthFailed = errors.New("unauthorized")

type fakeAuth struct {
	deviceID    string
	deviceToken string
	apiKey      string
	apiKeyID    string
	scope       scope.Scope
}

func (f *fakeAuth) AuthenticateDevice(_ context.Context, id, token string) (scope.Scope, error) {
	if id == f.deviceID && token == f.deviceToken {
		return f.scope, nil
	}
	return scope.Scope{}, errAuthFailed
}

func (f *fakeAuth) AuthenticateAPIKey(_ context.Context, raw string) (string, scope.Scope, error) {
	if raw == f.apiKey {
		return f.apiKeyID, f.scope, nil
	}
	return "", scope.Scope{}, errAuthFailed
}

func okHandler(t *testing.T, want CredentialType) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth := MustFromContext(r.Context())
		assert.Equal(t, want, auth.Type)
		w.WriteHeader(http.StatusOK)
	})
}

func TestRequireCredentialDevice(t *testing.T) {
	f := &fakeAuth{deviceID: "dev1", deviceToken: "wdt_abc", scope: scope.Default()}
	m := NewMiddleware(f, "")
	h := m.RequireCredential(okHandler(t, CredentialDevice))

	req := httptest.NewRequest(http.MethodPost, "/v1/tools/x", nil)
	req.Header.Set(HeaderDeviceID, "dev1")
	req.Header.Set(HeaderDeviceToken, "wdt_abc")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRequireCredentialAPIKey(t *testing.T) {
	f := &fakeAuth{apiKey: "wak_xyz", apiKeyID: "key-42", scope: scope.Default()}
	m := NewMiddleware(f, "")

	// The key's id must ride along as the caller identity, not just the
	// credential type.
	h := m.RequireCredential(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth := MustFromContext(r.Context())
		assert.Equal(t, CredentialAPIKey, auth.Type)
		assert.Equal(t, "key-42", auth.ID)
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/v1/tools/x", nil)
	req.Header.Set("Authorization", "Bearer wak_xyz")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRequireCredentialUniform401(t *testing.T) {
	f := &fakeAuth{deviceID: "dev1", deviceToken: "wdt_abc", apiKey: "wak_xyz"}
	m := NewMiddleware(f, "")
	h := m.RequireCredential(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run")
	}))

	build := func(mutate func(*http.Request)) *http.Request {
		req := httptest.NewRequest(http.MethodPost, "/v1/tools/x", nil)
		mutate(req)
		return req
	}

	requests := map[string]*http.Request{
		"no credentials": build(func(r *http.Request) {}),
		"wrong token": build(func(r *http.Request) {
			r.Header.Set(HeaderDeviceID, "dev1")
			r.Header.Set(HeaderDeviceToken, "wdt_wrong")
		}),
		"half a device pair": build(func(r *http.Request) {
			r.Header.Set(HeaderDeviceID, "dev1")
		}),
		"unknown api key": build(func(r *http.Request) {
			r.Header.Set("Authorization", "Bearer wak_unknown")
		}),
		"both forms at once": build(func(r *http.Request) {
			r.Header.Set(HeaderDeviceID, "dev1")
			r.Header.Set(HeaderDeviceToken, "wdt_abc")
			r.Header.Set("Authorization", "Bearer wak_xyz")
		}),
		"non-bearer authorization": build(func(r *http.Request) {
			r.Header.Set("Authorization", "Basic Zm9vOmJhcg==")
		}),
	}

	for name, req := range requests {
		t.Run(name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)

			var body map[string]string
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, "invalid credentials", body["error"])
		})
	}
}

func TestRequireAdmin(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	require.NoError(t, err)
	m := NewMiddleware(&fakeAuth{}, string(hash))
	h := m.RequireAdmin(okHandler(t, CredentialAdmin))

	req := httptest.NewRequest(http.MethodPost, "/v1/admin/devices", nil)
	req.Header.Set(HeaderAdminSecret, "s3cret")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	// Wrong secret, missing secret, and unconfigured hash all 401
	req = httptest.NewRequest(http.MethodPost, "/v1/admin/devices", nil)
	req.Header.Set(HeaderAdminSecret, "wrong")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/v1/admin/devices", nil)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	unconfigured := NewMiddleware(&fakeAuth{}, "")
	h = unconfigured.RequireAdmin(okHandler(t, CredentialAdmin))
	req = httptest.NewRequest(http.MethodPost, "/v1/admin/devices", nil)
	req.Header.Set(HeaderAdminSecret, "s3cret")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAdminScopeNeverSatisfiesCredentialGate(t *testing.T) {
	// A device scope, however broad, does not open the admin gate
	f := &fakeAuth{deviceID: "dev1", deviceToken: "wdt_abc", scope: scope.Scope{
		Tools: scope.LevelSign, System: true, MCP: true,
	}}
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	require.NoError(t, err)
	m := NewMiddleware(f, string(hash))
	h := m.RequireAdmin(okHandler(t, CredentialAdmin))

	req := httptest.NewRequest(http.MethodPost, "/v1/admin/devices", nil)
	req.Header.Set(HeaderDeviceID, "dev1")
	req.Header.Set(HeaderDeviceToken, "wdt_abc")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestWriteForbidden(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteForbidden(rec, scope.ErrMCPScope)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ERR_MCP_SCOPE", body["code"])

	rec = httptest.NewRecorder()
	WriteForbidden(rec, scope.ErrToolLevel)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ERR_TOOL_LEVEL", body["code"])
}
