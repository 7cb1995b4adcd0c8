// ABOUTME: HTTP authentication middleware for device pairs, API keys, and the admin secret
// ABOUTME: All authentication failures produce one uniform 401 to avoid an information oracle

package authz

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/2389/warden/internal/scope"
)

// Request headers carrying credentials.
const (
	HeaderDeviceID    = "X-Device-Id"
	HeaderDeviceToken = "X-Device-Token"
	HeaderAdminSecret = "X-Admin-Secret"
)

// uniformAuthError is the single 401 message for every authentication
// failure: missing, unknown, revoked, and expired credentials are
// indistinguishable to the caller.
const uniformAuthError = "invalid credentials"

// dummyBcryptHash is compared against when no admin hash is configured
// or no secret is presented, so rejection takes the same time as a real
// comparison.
var dummyBcryptHash = []byte("$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy")

// Authenticator resolves presented credentials to an identity and a
// scope. Implemented by the pairing service; all failures return a
// single sentinel error.
type Authenticator interface {
	AuthenticateDevice(ctx context.Context, deviceID, token string) (scope.Scope, error)
	AuthenticateAPIKey(ctx context.Context, rawKey string) (keyID string, sc scope.Scope, err error)
}

// Middleware authenticates inbound HTTP requests.
type Middleware struct {
	auth Authenticator
	// adminSecretHash is a bcrypt hash of the admin gateway secret.
	adminSecretHash []byte
	logger          *slog.Logger
}

// NewMiddleware creates the middleware. adminSecretHash may be empty, in
// which case every admin request is rejected.
func NewMiddleware(auth Authenticator, adminSecretHash string) *Middleware {
	return &Middleware{
		auth:            auth,
		adminSecretHash: []byte(adminSecretHash),
		logger:          slog.Default().With("component", "authz"),
	}
}

// RequireCredential authenticates exactly one credential form: an
// X-Device-Id/X-Device-Token header pair, or a bearer API key. Zero or
// two presented forms fail the same way as a bad credential.
func (m *Middleware) RequireCredential(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		deviceID := r.Header.Get(HeaderDeviceID)
		deviceToken := r.Header.Get(HeaderDeviceToken)
		bearer := bearerToken(r)

		hasDevicePair := deviceID != "" || deviceToken != ""
		hasBearer := bearer != ""

		var auth *AuthContext
		switch {
		case hasDevicePair && !hasBearer:
			sc, err := m.auth.AuthenticateDevice(r.Context(), deviceID, deviceToken)
			if err != nil {
				m.reject(w, r)
				return
			}
			auth = &AuthContext{Type: CredentialDevice, ID: deviceID, Scope: sc}
		case hasBearer && !hasDevicePair:
			keyID, sc, err := m.auth.AuthenticateAPIKey(r.Context(), bearer)
			if err != nil {
				m.reject(w, r)
				return
			}
			auth = &AuthContext{Type: CredentialAPIKey, ID: keyID, Scope: sc}
		default:
			m.reject(w, r)
			return
		}

		next.ServeHTTP(w, r.WithContext(WithAuth(r.Context(), auth)))
	})
}

// RequireAdmin authenticates the admin gateway secret. This is a
// distinct credential class: no device or API key scope satisfies it.
func (m *Middleware) RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		secret := r.Header.Get(HeaderAdminSecret)

		hash := m.adminSecretHash
		if len(hash) == 0 || secret == "" {
			// Burn a comparison anyway to keep timing flat.
			_ = bcrypt.CompareHashAndPassword(dummyBcryptHash, []byte(secret))
			m.reject(w, r)
			return
		}
		if err := bcrypt.CompareHashAndPassword(hash, []byte(secret)); err != nil {
			m.reject(w, r)
			return
		}

		auth := &AuthContext{Type: CredentialAdmin}
		next.ServeHTTP(w, r.WithContext(WithAuth(r.Context(), auth)))
	})
}

func (m *Middleware) reject(w http.ResponseWriter, r *http.Request) {
	m.logger.Debug("authentication failed", "path", r.URL.Path, "remote", r.RemoteAddr)
	WriteUnauthorized(w)
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(h, prefix) {
		return ""
	}
	return strings.TrimSpace(h[len(prefix):])
}

// WriteUnauthorized writes the uniform 401 response.
func WriteUnauthorized(w http.ResponseWriter) {
	writeJSON(w, http.StatusUnauthorized, map[string]string{"error": uniformAuthError})
}

// WriteForbidden writes a 403 with the stable machine-readable code for
// the given capability error.
func WriteForbidden(w http.ResponseWriter, err error) {
	writeJSON(w, http.StatusForbidden, map[string]string{
		"error": err.Error(),
		"code":  scope.DenyCode(err),
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
