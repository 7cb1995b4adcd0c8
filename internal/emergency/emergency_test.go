// ABOUTME: Tests for the emergency stop controller
// ABOUTME: Uses fakes to assert ordering, idempotence, and fail-safe behavior

package emergency

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/warden/internal/store"
)

type fakeRevoker struct {
	ids    []string
	err    error
	events []string
}

func (f *fakeRevoker) RevokeAll(_ context.Context) ([]string, error) {
	return f.ids, f.err
}

func (f *fakeRevoker) RecordRevoked(_ context.Context, id string) {
	f.events = append(f.events, id)
}

type fakePauser struct {
	paused bool
}

func (f *fakePauser) Pause()  { f.paused = true }
func (f *fakePauser) Resume() { f.paused = false }

type fakeNotifier struct {
	messages []string
}

func (f *fakeNotifier) Notify(_ context.Context, msg string) error {
	f.messages = append(f.messages, msg)
	return nil
}

func newTestAudit(t *testing.T) store.AuditStore {
	t.Helper()
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "warden.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestExecuteAndResume(t *testing.T) {
	revoker := &fakeRevoker{ids: []string{"sk1", "sk2"}}
	pauser := &fakePauser{}
	notifier := &fakeNotifier{}
	audit := newTestAudit(t)
	c := NewController(revoker, pauser, audit, notifier)
	ctx := context.Background()

	require.NoError(t, c.Execute(ctx, "runaway spending", "user"))
	assert.True(t, c.Stopped())
	assert.True(t, pauser.paused)
	assert.Equal(t, []string{"sk1", "sk2"}, revoker.events)
	require.Len(t, notifier.messages, 1)
	assert.Contains(t, notifier.messages[0], "runaway spending")

	entries, err := audit.ListAuditLog(ctx, store.AuditFilter{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, store.AuditEmergencyStop, entries[0].Action)

	// Second execute is a warning no-op
	require.NoError(t, c.Execute(ctx, "again", "user"))
	entries, err = audit.ListAuditLog(ctx, store.AuditFilter{})
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	require.NoError(t, c.Resume(ctx, "operator"))
	assert.False(t, c.Stopped())
	assert.False(t, pauser.paused)

	// Resume on a running system is also a no-op
	require.NoError(t, c.Resume(ctx, "operator"))
}

func TestExecuteFailSafe(t *testing.T) {
	revoker := &fakeRevoker{err: errors.New("store down")}
	pauser := &fakePauser{}
	c := NewController(revoker, pauser, newTestAudit(t), nil)

	err := c.Execute(context.Background(), "reason", "user")
	require.Error(t, err)

	// The failure is re-raised only after the flag is set
	assert.True(t, c.Stopped())
}

type failingAudit struct {
	store.AuditStore
}

func (f *failingAudit) AppendAuditLog(context.Context, *store.AuditEntry) error {
	return errors.New("audit unavailable")
}

func TestResumeRequiresAudit(t *testing.T) {
	revoker := &fakeRevoker{}
	pauser := &fakePauser{}
	good := newTestAudit(t)
	c := NewController(revoker, pauser, good, nil)
	ctx := context.Background()

	require.NoError(t, c.Execute(ctx, "reason", "user"))

	c.audit = &failingAudit{}
	err := c.Resume(ctx, "operator")
	require.Error(t, err)

	// An unaudited resume does not take effect
	assert.True(t, c.Stopped())
	assert.True(t, pauser.paused)
}

func TestIsEmergencyCommand(t *testing.T) {
	tests := []struct {
		text     string
		commands []string
		want     bool
	}{
		{"/stop", nil, true},
		{"/STOP", nil, true},
		{"  /halt  ", nil, true},
		{"/emergency", nil, true},
		{"please /stop", nil, false},
		{"stop", nil, false},
		{"/panic", []string{"/panic"}, true},
		{"/stop", []string{"/panic"}, false},
		{"", nil, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, IsEmergencyCommand(tt.text, tt.commands), "text=%q", tt.text)
	}
}
