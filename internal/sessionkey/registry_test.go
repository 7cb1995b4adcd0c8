// ABOUTME: Tests for the session key registry
// ABOUTME: Covers issue, status transitions, grant validation, and revoke-all

package sessionkey

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/warden/internal/kvstore"
	"github.com/2389/warden/internal/policy"
	"github.com/2389/warden/internal/store"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "warden.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	events := kvstore.NewMemoryStore()
	t.Cleanup(func() { _ = events.Close() })

	r, err := NewRegistry(s, events, testSecret, time.Hour)
	require.NoError(t, err)
	return r
}

func TestSecretLength(t *testing.T) {
	_, err := NewRegistry(nil, nil, []byte("short"), time.Hour)
	assert.ErrorIs(t, err, ErrSecretTooShort)
}

func TestIssueAndStatus(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	status, err := r.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, policy.SessionKeyMissing, status)

	grant, err := r.Issue(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, grant.Token)

	status, err = r.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, policy.SessionKeyActive, status)

	// Past expiry the latest key reads expired
	r.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	status, err = r.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, policy.SessionKeyExpired, status)
}

func TestValidate(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	grant, err := r.Issue(ctx)
	require.NoError(t, err)

	id, err := r.Validate(ctx, grant.Token)
	require.NoError(t, err)
	assert.Equal(t, grant.ID, id)

	// Tampered and garbage tokens fail identically
	_, err = r.Validate(ctx, grant.Token+"x")
	assert.ErrorIs(t, err, ErrInvalidGrant)
	_, err = r.Validate(ctx, "not-a-jwt")
	assert.ErrorIs(t, err, ErrInvalidGrant)

	// A grant signed with a different secret fails
	other, err := NewRegistry(r.keys, nil, []byte("ffffffffffffffffffffffffffffffff"), time.Hour)
	require.NoError(t, err)
	foreign, err := other.Issue(ctx)
	require.NoError(t, err)
	_, err = r.Validate(ctx, foreign.Token)
	assert.ErrorIs(t, err, ErrInvalidGrant)
}

func TestRevokeAllInvalidatesGrants(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	g1, err := r.Issue(ctx)
	require.NoError(t, err)
	g2, err := r.Issue(ctx)
	require.NoError(t, err)

	ids, err := r.RevokeAll(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{g1.ID, g2.ID}, ids)

	status, err := r.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, policy.SessionKeyRevoked, status)

	_, err = r.Validate(ctx, g1.Token)
	assert.ErrorIs(t, err, ErrInvalidGrant)
	_, err = r.Validate(ctx, g2.Token)
	assert.ErrorIs(t, err, ErrInvalidGrant)

	// A fresh issue restores active status
	_, err = r.Issue(ctx)
	require.NoError(t, err)
	status, err = r.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, policy.SessionKeyActive, status)
}

func TestLifecycleEvents(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	grant, err := r.Issue(ctx)
	require.NoError(t, err)
	r.RecordRevoked(ctx, grant.ID)

	events, err := r.Events(ctx)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Contains(t, events[0], "issued")
	assert.Contains(t, events[0], grant.ID)
	assert.Contains(t, events[1], "revoked")
}
