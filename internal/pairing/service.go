// ABOUTME: Credential and pairing lifecycle service for devices and API keys
// ABOUTME: Serializes mutations per credential id and audits every state change

package pairing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/2389/warden/internal/scope"
	"github.com/2389/warden/internal/store"
)

// ErrUnauthorized is the single error returned for every credential
// resolution failure: unknown, revoked, expired, or wrong token. The
// sub-causes are deliberately indistinguishable to the caller.
var ErrUnauthorized = errors.New("invalid credentials")

// Pairing lifecycle errors surfaced to the admin API.
var (
	ErrDeviceRevoked   = errors.New("device revoked")
	ErrNotPending      = errors.New("device not pending")
	ErrNotPaired       = errors.New("device not paired")
	ErrInvalidDeviceID = errors.New("invalid device id")
	ErrInvalidScope    = errors.New("invalid scope")
	ErrInvalidExpiry   = errors.New("expiry must be in the future")
	ErrNameRequired    = errors.New("name required")
)

// PairStatus is the device-visible view of its own pairing state.
// Revoked devices read as unknown so the response carries no oracle.
type PairStatus struct {
	Status string       `json:"status"` // "unknown", "pending", "paired"
	Scope  *scope.Scope `json:"scope,omitempty"`
}

// DeviceView is the admin-visible device record. It never carries the
// token hash.
type DeviceView struct {
	ID         string      `json:"id"`
	State      string      `json:"state"`
	Scope      scope.Scope `json:"scope"`
	CreatedAt  time.Time   `json:"created_at"`
	LastSeenAt *time.Time  `json:"last_seen_at,omitempty"`
}

// APIKeyView is the admin-visible API key record, without the hash.
type APIKeyView struct {
	ID        string      `json:"id"`
	Name      string      `json:"name"`
	Scope     scope.Scope `json:"scope"`
	CreatedAt time.Time   `json:"created_at"`
	ExpiresAt *time.Time  `json:"expires_at,omitempty"`
	RevokedAt *time.Time  `json:"revoked_at,omitempty"`
}

// CreatedAPIKey is returned exactly once from CreateAPIKey; the raw key
// is not retrievable afterward.
type CreatedAPIKey struct {
	ID     string      `json:"id"`
	RawKey string      `json:"key"`
	Scope  scope.Scope `json:"scope"`
}

// Service owns the pairing lifecycle for devices and the API key
// lifecycle. All mutations for one credential id run inside that id's
// critical section, so two concurrent approvals can never mint two valid
// tokens for one pairing request.
type Service struct {
	devices store.DeviceStore
	keys    store.APIKeyStore
	audit   store.AuditStore
	hasher  *TokenHasher
	logger  *slog.Logger
	now     func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewService creates a pairing service on top of the given stores.
func NewService(devices store.DeviceStore, keys store.APIKeyStore, audit store.AuditStore, hasher *TokenHasher) *Service {
	return &Service{
		devices: devices,
		keys:    keys,
		audit:   audit,
		hasher:  hasher,
		logger:  slog.Default().With("component", "pairing"),
		now:     time.Now,
		locks:   make(map[string]*sync.Mutex),
	}
}

// lock acquires the per-id critical section and returns its release func.
func (s *Service) lock(id string) func() {
	s.mu.Lock()
	l, ok := s.locks[id]
	if !ok {
		l = &sync.Mutex{}
		s.locks[id] = l
	}
	s.mu.Unlock()

	l.Lock()
	return l.Unlock
}

// validateDeviceID rejects empty and oversized device ids.
func validateDeviceID(id string) error {
	id = strings.TrimSpace(id)
	if id == "" || len(id) > 128 {
		return ErrInvalidDeviceID
	}
	return nil
}

// RequestPairing upserts a pending pairing record for the device and
// returns its state. Requesting again while pending or paired is
// idempotent; a revoked device can never re-enter the pairing flow.
func (s *Service) RequestPairing(ctx context.Context, deviceID string) (store.DeviceState, error) {
	if err := validateDeviceID(deviceID); err != nil {
		return "", err
	}

	unlock := s.lock(deviceID)
	defer unlock()

	d, err := s.devices.GetDevice(ctx, deviceID)
	if errors.Is(err, store.ErrDeviceNotFound) {
		d = &store.Device{
			ID:        deviceID,
			State:     store.DeviceStatePending,
			Scope:     scope.Scope{Tools: scope.LevelNone},
			CreatedAt: s.now().UTC(),
		}
		if err := s.devices.CreateDevice(ctx, d); err != nil {
			return "", err
		}
		// Best effort: a pairing request isn't a grant, so an audit miss
		// doesn't invalidate it.
		_ = s.audit.AppendAuditLog(ctx, &store.AuditEntry{
			Actor:      deviceID,
			Action:     store.AuditRequestPairing,
			TargetType: "device",
			TargetID:   deviceID,
		})
		return store.DeviceStatePending, nil
	}
	if err != nil {
		return "", err
	}

	if d.State == store.DeviceStateRevoked {
		return "", ErrDeviceRevoked
	}
	return d.State, nil
}

// Approve mints a device token, stores its hash, and marks the device
// paired. The raw token is returned exactly once. Defaults the scope to
// {tools: read} when none is given.
func (s *Service) Approve(ctx context.Context, deviceID string, sc *scope.Scope) (string, scope.Scope, error) {
	unlock := s.lock(deviceID)
	defer unlock()

	d, err := s.devices.GetDevice(ctx, deviceID)
	if err != nil {
		return "", scope.Scope{}, err
	}

	switch d.State {
	case store.DeviceStateRevoked:
		return "", scope.Scope{}, ErrDeviceRevoked
	case store.DeviceStatePaired:
		return "", scope.Scope{}, ErrNotPending
	}

	assigned := scope.Default()
	if sc != nil {
		if err := sc.Validate(); err != nil {
			return "", scope.Scope{}, fmt.Errorf("%w: %v", ErrInvalidScope, err)
		}
		assigned = *sc
	}

	raw, hash, err := s.hasher.MintDeviceToken()
	if err != nil {
		return "", scope.Scope{}, err
	}

	d.State = store.DeviceStatePaired
	d.TokenHash = hash
	d.Scope = assigned
	if err := s.devices.UpdateDevice(ctx, d); err != nil {
		return "", scope.Scope{}, err
	}

	// Fail closed: an approval that can't be audited didn't happen.
	if err := s.audit.AppendAuditLog(ctx, &store.AuditEntry{
		Actor:      "admin",
		Action:     store.AuditApproveDevice,
		TargetType: "device",
		TargetID:   deviceID,
		Detail: map[string]any{
			"tools":  string(assigned.Tools),
			"system": assigned.System,
			"mcp":    assigned.MCP,
		},
	}); err != nil {
		return "", scope.Scope{}, fmt.Errorf("appending audit log: %w", err)
	}

	s.logger.Info("approved device", "id", deviceID, "tools", assigned.Tools)
	return raw, assigned, nil
}

// Reject removes a pending pairing record.
func (s *Service) Reject(ctx context.Context, deviceID string) error {
	unlock := s.lock(deviceID)
	defer unlock()

	d, err := s.devices.GetDevice(ctx, deviceID)
	if err != nil {
		return err
	}
	if d.State != store.DeviceStatePending {
		return ErrNotPending
	}

	if err := s.devices.DeleteDevice(ctx, deviceID); err != nil {
		return err
	}

	_ = s.audit.AppendAuditLog(ctx, &store.AuditEntry{
		Actor:      "admin",
		Action:     store.AuditRejectDevice,
		TargetType: "device",
		TargetID:   deviceID,
	})
	return nil
}

// Revoke permanently revokes a device. Effective on the very next
// request; there is no grace window. Revoking twice is a no-op.
func (s *Service) Revoke(ctx context.Context, deviceID string) error {
	unlock := s.lock(deviceID)
	defer unlock()

	d, err := s.devices.GetDevice(ctx, deviceID)
	if err != nil {
		return err
	}
	if d.State == store.DeviceStateRevoked {
		return nil
	}

	d.State = store.DeviceStateRevoked
	d.TokenHash = ""
	if err := s.devices.UpdateDevice(ctx, d); err != nil {
		return err
	}

	if err := s.audit.AppendAuditLog(ctx, &store.AuditEntry{
		Actor:      "admin",
		Action:     store.AuditRevokeDevice,
		TargetType: "device",
		TargetID:   deviceID,
	}); err != nil {
		return fmt.Errorf("appending audit log: %w", err)
	}

	s.logger.Info("revoked device", "id", deviceID)
	return nil
}

// RotateToken mints a fresh token for a paired device and swaps the
// stored hash atomically. The old token fails on the very next check.
func (s *Service) RotateToken(ctx context.Context, deviceID string) (string, error) {
	unlock := s.lock(deviceID)
	defer unlock()

	d, err := s.devices.GetDevice(ctx, deviceID)
	if err != nil {
		return "", err
	}

	switch d.State {
	case store.DeviceStateRevoked:
		return "", ErrDeviceRevoked
	case store.DeviceStatePending:
		return "", ErrNotPaired
	}

	raw, hash, err := s.hasher.MintDeviceToken()
	if err != nil {
		return "", err
	}

	d.TokenHash = hash
	if err := s.devices.UpdateDevice(ctx, d); err != nil {
		return "", err
	}

	if err := s.audit.AppendAuditLog(ctx, &store.AuditEntry{
		Actor:      "admin",
		Action:     store.AuditRotateToken,
		TargetType: "device",
		TargetID:   deviceID,
	}); err != nil {
		return "", fmt.Errorf("appending audit log: %w", err)
	}

	s.logger.Info("rotated device token", "id", deviceID)
	return raw, nil
}

// UpdateScope replaces a device's scope after validating its shape.
func (s *Service) UpdateScope(ctx context.Context, deviceID string, sc scope.Scope) error {
	if err := sc.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidScope, err)
	}

	unlock := s.lock(deviceID)
	defer unlock()

	d, err := s.devices.GetDevice(ctx, deviceID)
	if err != nil {
		return err
	}
	if d.State == store.DeviceStateRevoked {
		return ErrDeviceRevoked
	}

	d.Scope = sc
	if err := s.devices.UpdateDevice(ctx, d); err != nil {
		return err
	}

	if err := s.audit.AppendAuditLog(ctx, &store.AuditEntry{
		Actor:      "admin",
		Action:     store.AuditUpdateScope,
		TargetType: "device",
		TargetID:   deviceID,
		Detail: map[string]any{
			"tools":  string(sc.Tools),
			"system": sc.System,
			"mcp":    sc.MCP,
		},
	}); err != nil {
		return fmt.Errorf("appending audit log: %w", err)
	}

	return nil
}

// Status returns the device-visible pairing status. Unknown and revoked
// devices both read as "unknown".
func (s *Service) Status(ctx context.Context, deviceID string) (*PairStatus, error) {
	if err := validateDeviceID(deviceID); err != nil {
		return nil, err
	}

	d, err := s.devices.GetDevice(ctx, deviceID)
	if errors.Is(err, store.ErrDeviceNotFound) {
		return &PairStatus{Status: "unknown"}, nil
	}
	if err != nil {
		return nil, err
	}

	switch d.State {
	case store.DeviceStatePending:
		return &PairStatus{Status: "pending"}, nil
	case store.DeviceStatePaired:
		sc := d.Scope
		return &PairStatus{Status: "paired", Scope: &sc}, nil
	default:
		return &PairStatus{Status: "unknown"}, nil
	}
}

// ListDevices returns all device records without token hashes.
func (s *Service) ListDevices(ctx context.Context) ([]DeviceView, error) {
	return s.listDevices(ctx, nil)
}

// ListPending returns pending pairing requests.
func (s *Service) ListPending(ctx context.Context) ([]DeviceView, error) {
	pending := store.DeviceStatePending
	return s.listDevices(ctx, &pending)
}

func (s *Service) listDevices(ctx context.Context, state *store.DeviceState) ([]DeviceView, error) {
	devices, err := s.devices.ListDevices(ctx, state)
	if err != nil {
		return nil, err
	}

	views := make([]DeviceView, len(devices))
	for i, d := range devices {
		views[i] = DeviceView{
			ID:         d.ID,
			State:      string(d.State),
			Scope:      d.Scope,
			CreatedAt:  d.CreatedAt,
			LastSeenAt: d.LastSeenAt,
		}
	}
	return views, nil
}

// AuthenticateDevice resolves a (deviceId, deviceToken) pair to its
// scope. Every failure mode returns ErrUnauthorized.
func (s *Service) AuthenticateDevice(ctx context.Context, deviceID, rawToken string) (scope.Scope, error) {
	if deviceID == "" || rawToken == "" {
		return scope.Scope{}, ErrUnauthorized
	}

	d, err := s.devices.GetDevice(ctx, deviceID)
	if err != nil {
		return scope.Scope{}, ErrUnauthorized
	}

	// Revocation is checked on every request; there is no cached grant.
	if d.State != store.DeviceStatePaired || d.TokenHash == "" {
		return scope.Scope{}, ErrUnauthorized
	}

	if !s.hasher.Verify(rawToken, d.TokenHash) {
		return scope.Scope{}, ErrUnauthorized
	}

	if err := s.devices.TouchDevice(ctx, deviceID, s.now().UTC()); err != nil {
		s.logger.Warn("failed to touch device", "id", deviceID, "error", err)
	}

	return d.Scope, nil
}

// CreateAPIKey mints a new API key. The raw key is returned exactly once
// and carries the wak_ prefix.
func (s *Service) CreateAPIKey(ctx context.Context, name string, sc *scope.Scope, expiresAt *time.Time) (*CreatedAPIKey, error) {
	if strings.TrimSpace(name) == "" {
		return nil, ErrNameRequired
	}

	assigned := scope.Default()
	if sc != nil {
		if err := sc.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidScope, err)
		}
		assigned = *sc
	}

	if expiresAt != nil && !expiresAt.After(s.now()) {
		return nil, ErrInvalidExpiry
	}

	raw, hash, err := s.hasher.MintAPIKey()
	if err != nil {
		return nil, err
	}

	key := &store.APIKey{
		ID:        uuid.New().String(),
		Name:      name,
		KeyHash:   hash,
		Scope:     assigned,
		CreatedAt: s.now().UTC(),
		ExpiresAt: expiresAt,
	}
	if err := s.keys.CreateAPIKey(ctx, key); err != nil {
		return nil, err
	}

	if err := s.audit.AppendAuditLog(ctx, &store.AuditEntry{
		Actor:      "admin",
		Action:     store.AuditCreateAPIKey,
		TargetType: "api_key",
		TargetID:   key.ID,
		Detail: map[string]any{
			"name":  name,
			"tools": string(assigned.Tools),
		},
	}); err != nil {
		return nil, fmt.Errorf("appending audit log: %w", err)
	}

	return &CreatedAPIKey{ID: key.ID, RawKey: raw, Scope: assigned}, nil
}

// RevokeAPIKey logically revokes a key. A second revocation reports
// store.ErrAPIKeyNotFound.
func (s *Service) RevokeAPIKey(ctx context.Context, id string) error {
	unlock := s.lock(id)
	defer unlock()

	if err := s.keys.RevokeAPIKey(ctx, id, s.now().UTC()); err != nil {
		return err
	}

	if err := s.audit.AppendAuditLog(ctx, &store.AuditEntry{
		Actor:      "admin",
		Action:     store.AuditRevokeAPIKey,
		TargetType: "api_key",
		TargetID:   id,
	}); err != nil {
		return fmt.Errorf("appending audit log: %w", err)
	}
	return nil
}

// ListAPIKeys returns all API key records without hashes.
func (s *Service) ListAPIKeys(ctx context.Context) ([]APIKeyView, error) {
	keys, err := s.keys.ListAPIKeys(ctx)
	if err != nil {
		return nil, err
	}

	views := make([]APIKeyView, len(keys))
	for i, k := range keys {
		views[i] = APIKeyView{
			ID:        k.ID,
			Name:      k.Name,
			Scope:     k.Scope,
			CreatedAt: k.CreatedAt,
			ExpiresAt: k.ExpiresAt,
			RevokedAt: k.RevokedAt,
		}
	}
	return views, nil
}

// AuthenticateAPIKey resolves a presented bearer key to its id and
// scope, so each key keeps a distinct caller identity downstream.
// Expired and revoked keys fail with the same ErrUnauthorized as an
// unknown key.
func (s *Service) AuthenticateAPIKey(ctx context.Context, rawKey string) (string, scope.Scope, error) {
	if !IsAPIKey(rawKey) {
		return "", scope.Scope{}, ErrUnauthorized
	}

	key, err := s.keys.GetActiveAPIKeyByHash(ctx, s.hasher.Hash(rawKey), s.now().UTC())
	if err != nil {
		return "", scope.Scope{}, ErrUnauthorized
	}

	return key.ID, key.Scope, nil
}
