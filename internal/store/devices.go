// ABOUTME: Device pairing record persistence on the SQLite store
// ABOUTME: Raw device tokens are never stored, only keyed hashes

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/2389/warden/internal/scope"
)

// CreateDevice inserts a new device record.
func (s *SQLiteStore) CreateDevice(ctx context.Context, d *Device) error {
	query := `
		INSERT INTO devices (id, state, token_hash, scope_tools, scope_system, scope_mcp, created_at, last_seen_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		d.ID,
		string(d.State),
		d.TokenHash,
		string(d.Scope.Tools),
		boolToInt(d.Scope.System),
		boolToInt(d.Scope.MCP),
		formatTime(d.CreatedAt),
		nullTime(d.LastSeenAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrDuplicateDevice
		}
		return fmt.Errorf("inserting device: %w", err)
	}

	s.logger.Info("created device", "id", d.ID, "state", d.State)
	return nil
}

// GetDevice retrieves a device by ID.
func (s *SQLiteStore) GetDevice(ctx context.Context, id string) (*Device, error) {
	query := `
		SELECT id, state, token_hash, scope_tools, scope_system, scope_mcp, created_at, last_seen_at
		FROM devices
		WHERE id = ?
	`
	return s.scanDevice(s.db.QueryRowContext(ctx, query, id))
}

// UpdateDevice replaces every mutable field of a device record.
// The swap is a single statement so token rotation leaves no window
// where both the old and new hash validate.
func (s *SQLiteStore) UpdateDevice(ctx context.Context, d *Device) error {
	query := `
		UPDATE devices
		SET state = ?, token_hash = ?, scope_tools = ?, scope_system = ?, scope_mcp = ?, last_seen_at = ?
		WHERE id = ?
	`

	result, err := s.db.ExecContext(ctx, query,
		string(d.State),
		d.TokenHash,
		string(d.Scope.Tools),
		boolToInt(d.Scope.System),
		boolToInt(d.Scope.MCP),
		nullTime(d.LastSeenAt),
		d.ID,
	)
	if err != nil {
		return fmt.Errorf("updating device: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrDeviceNotFound
	}

	s.logger.Debug("updated device", "id", d.ID, "state", d.State)
	return nil
}

// DeleteDevice removes a device record.
func (s *SQLiteStore) DeleteDevice(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM devices WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting device: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrDeviceNotFound
	}

	s.logger.Info("deleted device", "id", id)
	return nil
}

// ListDevices returns all devices, optionally filtered by state.
func (s *SQLiteStore) ListDevices(ctx context.Context, state *DeviceState) ([]*Device, error) {
	query := `
		SELECT id, state, token_hash, scope_tools, scope_system, scope_mcp, created_at, last_seen_at
		FROM devices
		WHERE (? IS NULL OR state = ?)
		ORDER BY created_at ASC
	`

	var stateStr *string
	if state != nil {
		str := string(*state)
		stateStr = &str
	}

	rows, err := s.db.QueryContext(ctx, query, stateStr, stateStr)
	if err != nil {
		return nil, fmt.Errorf("querying devices: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var devices []*Device
	for rows.Next() {
		d, err := s.scanDevice(rows)
		if err != nil {
			return nil, err
		}
		devices = append(devices, d)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating devices: %w", err)
	}

	return devices, nil
}

// TouchDevice updates a device's last_seen_at timestamp.
func (s *SQLiteStore) TouchDevice(ctx context.Context, id string, seenAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE devices SET last_seen_at = ? WHERE id = ?",
		formatTime(seenAt), id,
	)
	if err != nil {
		return fmt.Errorf("touching device: %w", err)
	}
	return nil
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface{ Scan(dest ...any) error }

// scanDevice scans a device row.
func (s *SQLiteStore) scanDevice(scanner rowScanner) (*Device, error) {
	var d Device
	var stateStr, toolsStr, createdAtStr string
	var tokenHash, lastSeenStr sql.NullString
	var system, mcp int

	err := scanner.Scan(
		&d.ID,
		&stateStr,
		&tokenHash,
		&toolsStr,
		&system,
		&mcp,
		&createdAtStr,
		&lastSeenStr,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrDeviceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning device: %w", err)
	}

	d.State = DeviceState(stateStr)
	d.TokenHash = tokenHash.String
	d.Scope = scope.Scope{
		Tools:  scope.ToolLevel(toolsStr),
		System: system != 0,
		MCP:    mcp != 0,
	}

	d.CreatedAt, err = parseTime(createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}

	d.LastSeenAt, err = scanNullTime(lastSeenStr)
	if err != nil {
		return nil, fmt.Errorf("parsing last_seen_at: %w", err)
	}

	return &d, nil
}

// boolToInt converts a bool to SQLite's integer representation.
func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
