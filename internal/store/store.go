// ABOUTME: Store interfaces and data types for warden persistence
// ABOUTME: Defines Device, APIKey, SessionKey records and the credential store interfaces

package store

import (
	"context"
	"errors"
	"time"

	"github.com/2389/warden/internal/scope"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrDeviceNotFound is returned when a device doesn't exist.
var ErrDeviceNotFound = errors.New("device not found")

// ErrAPIKeyNotFound is returned when an API key doesn't exist or is no
// longer in the active lookup.
var ErrAPIKeyNotFound = errors.New("api key not found")

// ErrSessionKeyNotFound is returned when a session key doesn't exist.
var ErrSessionKeyNotFound = errors.New("session key not found")

// ErrDuplicateDevice is returned when creating a device that already exists.
var ErrDuplicateDevice = errors.New("device already exists")

// DeviceState is the pairing lifecycle state of a companion device.
type DeviceState string

const (
	DeviceStatePending DeviceState = "pending"
	DeviceStatePaired  DeviceState = "paired"
	DeviceStateRevoked DeviceState = "revoked" // terminal
)

// Device represents a paired (or pairing) companion device.
// TokenHash is a keyed hash of the device token; the raw token is never
// persisted anywhere.
type Device struct {
	ID         string
	State      DeviceState
	TokenHash  string
	Scope      scope.Scope
	CreatedAt  time.Time
	LastSeenAt *time.Time
}

// APIKey represents a bearer API key. KeyHash is a keyed hash of the raw
// key; listing must never expose it.
type APIKey struct {
	ID        string
	Name      string
	KeyHash   string
	Scope     scope.Scope
	CreatedAt time.Time
	ExpiresAt *time.Time
	RevokedAt *time.Time
}

// SessionKey is the persisted record of a delegated signing credential.
// The key material itself lives with the external signing daemon; warden
// only tracks validity so the policy engine can gate tier 2/3 execution.
type SessionKey struct {
	ID        string
	CreatedAt time.Time
	ExpiresAt time.Time
	RevokedAt *time.Time
}

// DeviceStore defines persistence for device pairing records.
type DeviceStore interface {
	CreateDevice(ctx context.Context, d *Device) error
	GetDevice(ctx context.Context, id string) (*Device, error)
	UpdateDevice(ctx context.Context, d *Device) error
	DeleteDevice(ctx context.Context, id string) error
	ListDevices(ctx context.Context, state *DeviceState) ([]*Device, error)
	TouchDevice(ctx context.Context, id string, seenAt time.Time) error
}

// APIKeyStore defines persistence for API keys.
type APIKeyStore interface {
	CreateAPIKey(ctx context.Context, k *APIKey) error
	GetAPIKey(ctx context.Context, id string) (*APIKey, error)
	// GetActiveAPIKeyByHash resolves a presented key hash to its record.
	// Revoked and expired keys are excluded so a stale key is
	// indistinguishable from an unknown one.
	GetActiveAPIKeyByHash(ctx context.Context, keyHash string, now time.Time) (*APIKey, error)
	ListAPIKeys(ctx context.Context) ([]*APIKey, error)
	// RevokeAPIKey logically revokes a key. Returns ErrAPIKeyNotFound if
	// the key doesn't exist or was already revoked.
	RevokeAPIKey(ctx context.Context, id string, at time.Time) error
}

// SessionKeyStore defines persistence for session key validity records.
type SessionKeyStore interface {
	CreateSessionKey(ctx context.Context, k *SessionKey) error
	GetSessionKey(ctx context.Context, id string) (*SessionKey, error)
	// GetLatestSessionKey returns the most recently issued session key,
	// revoked or not, or ErrSessionKeyNotFound if none was ever issued.
	GetLatestSessionKey(ctx context.Context) (*SessionKey, error)
	// RevokeAllSessionKeys revokes every non-revoked session key and
	// returns the affected ids.
	RevokeAllSessionKeys(ctx context.Context, at time.Time) ([]string, error)
}

// Store is the full persistence interface wired into the gateway at
// startup. It is constructed once and injected; nothing in warden reaches
// for ambient global state.
type Store interface {
	DeviceStore
	APIKeyStore
	SessionKeyStore
	AuditStore

	// Close releases any resources held by the store
	Close() error
}
