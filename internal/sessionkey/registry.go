// ABOUTME: Session signing key registry: issues JWT grants and tracks validity
// ABOUTME: Key custody stays external; this layer only answers "is there a usable key"

package sessionkey

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/2389/warden/internal/kvstore"
	"github.com/2389/warden/internal/policy"
	"github.com/2389/warden/internal/store"
)

// ErrSecretTooShort is returned when the signing secret is too weak.
var ErrSecretTooShort = errors.New("session key secret must be at least 32 bytes")

// ErrInvalidGrant covers malformed, forged, expired, and revoked grants.
var ErrInvalidGrant = errors.New("invalid session key grant")

// eventsTTL bounds how long lifecycle events stay queryable.
const eventsTTL = 7 * 24 * time.Hour

// eventsKey is the kvstore list holding session key lifecycle events.
const eventsKey = "sessionkey:events"

// Grant is an issued session key grant. Token is the signed JWT, shown
// once at issue time.
type Grant struct {
	ID        string
	Token     string
	ExpiresAt time.Time
}

// Registry issues and validates session key grants. Grants are HS256
// JWTs whose jti points at a store record; revocation flips the record,
// so a revoked grant fails validation even before its exp.
type Registry struct {
	keys   store.SessionKeyStore
	events kvstore.Store
	secret []byte
	ttl    time.Duration
	logger *slog.Logger
	now    func() time.Time
}

// NewRegistry creates a registry. events may be nil to skip lifecycle
// event recording.
func NewRegistry(keys store.SessionKeyStore, events kvstore.Store, secret []byte, ttl time.Duration) (*Registry, error) {
	if len(secret) < 32 {
		return nil, ErrSecretTooShort
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Registry{
		keys:   keys,
		events: events,
		secret: secret,
		ttl:    ttl,
		logger: slog.Default().With("component", "sessionkey"),
		now:    time.Now,
	}, nil
}

// Issue mints a fresh session key grant.
func (r *Registry) Issue(ctx context.Context) (*Grant, error) {
	now := r.now().UTC()
	id := uuid.New().String()
	expiresAt := now.Add(r.ttl)

	if err := r.keys.CreateSessionKey(ctx, &store.SessionKey{
		ID:        id,
		CreatedAt: now,
		ExpiresAt: expiresAt,
	}); err != nil {
		return nil, fmt.Errorf("recording session key: %w", err)
	}

	claims := jwt.RegisteredClaims{
		ID:        id,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
		Issuer:    "warden",
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(r.secret)
	if err != nil {
		return nil, fmt.Errorf("signing session key grant: %w", err)
	}

	r.recordEvent(ctx, id, "issued")
	r.logger.Info("session key issued", "id", id, "expires_at", expiresAt)
	return &Grant{ID: id, Token: token, ExpiresAt: expiresAt}, nil
}

// Status reports the validity of the most recently issued session key.
// This is the value the policy engine consumes: anything other than
// active escalates tier 2/3 calls to tier 1.
func (r *Registry) Status(ctx context.Context) (policy.SessionKeyStatus, error) {
	key, err := r.keys.GetLatestSessionKey(ctx)
	if errors.Is(err, store.ErrSessionKeyNotFound) {
		return policy.SessionKeyMissing, nil
	}
	if err != nil {
		return "", fmt.Errorf("looking up session key: %w", err)
	}
	switch {
	case key.RevokedAt != nil:
		return policy.SessionKeyRevoked, nil
	case !key.ExpiresAt.After(r.now()):
		return policy.SessionKeyExpired, nil
	default:
		return policy.SessionKeyActive, nil
	}
}

// Validate parses and verifies a presented grant, returning its key id.
// Signature, expiry, and store-side revocation all fail with the same
// ErrInvalidGrant.
func (r *Registry) Validate(ctx context.Context, token string) (string, error) {
	parsed, err := jwt.ParseWithClaims(token, &jwt.RegisteredClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return r.secret, nil
	}, jwt.WithTimeFunc(r.now))
	if err != nil || !parsed.Valid {
		return "", ErrInvalidGrant
	}
	claims, ok := parsed.Claims.(*jwt.RegisteredClaims)
	if !ok || claims.ID == "" {
		return "", ErrInvalidGrant
	}

	key, err := r.keys.GetSessionKey(ctx, claims.ID)
	if err != nil {
		return "", ErrInvalidGrant
	}
	if key.RevokedAt != nil || !key.ExpiresAt.After(r.now()) {
		return "", ErrInvalidGrant
	}
	return key.ID, nil
}

// RevokeAll revokes every outstanding session key and returns their ids.
// Used by the emergency stop.
func (r *Registry) RevokeAll(ctx context.Context) ([]string, error) {
	ids, err := r.keys.RevokeAllSessionKeys(ctx, r.now().UTC())
	if err != nil {
		return nil, fmt.Errorf("revoking session keys: %w", err)
	}
	return ids, nil
}

// RecordRevoked appends one "revoked" lifecycle event for a key id.
func (r *Registry) RecordRevoked(ctx context.Context, id string) {
	r.recordEvent(ctx, id, "revoked")
}

// Events returns the recorded lifecycle events, oldest first.
func (r *Registry) Events(ctx context.Context) ([]string, error) {
	if r.events == nil {
		return nil, nil
	}
	return r.events.List(ctx, eventsKey)
}

// Event recording is best-effort; validity lives in the store, not here.
func (r *Registry) recordEvent(ctx context.Context, id, kind string) {
	if r.events == nil {
		return
	}
	entry := fmt.Sprintf("%s %s %s", r.now().UTC().Format(time.RFC3339), kind, id)
	if err := r.events.Append(ctx, eventsKey, entry, eventsTTL); err != nil {
		r.logger.Warn("failed to record session key event", "id", id, "kind", kind, "error", err)
	}
}
