// ABOUTME: Session key validity record persistence on the SQLite store
// ABOUTME: Tracks issuance, expiry, and revocation for the policy engine's escalation checks

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// CreateSessionKey inserts a new session key record.
func (s *SQLiteStore) CreateSessionKey(ctx context.Context, k *SessionKey) error {
	query := `
		INSERT INTO session_keys (id, created_at, expires_at, revoked_at)
		VALUES (?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		k.ID,
		formatTime(k.CreatedAt),
		formatTime(k.ExpiresAt),
		nullTime(k.RevokedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting session key: %w", err)
	}

	s.logger.Info("created session key", "id", k.ID, "expires_at", k.ExpiresAt)
	return nil
}

// GetSessionKey retrieves a session key by ID.
func (s *SQLiteStore) GetSessionKey(ctx context.Context, id string) (*SessionKey, error) {
	query := `
		SELECT id, created_at, expires_at, revoked_at
		FROM session_keys
		WHERE id = ?
	`
	return s.scanSessionKey(s.db.QueryRowContext(ctx, query, id))
}

// GetLatestSessionKey returns the most recently issued session key.
func (s *SQLiteStore) GetLatestSessionKey(ctx context.Context) (*SessionKey, error) {
	query := `
		SELECT id, created_at, expires_at, revoked_at
		FROM session_keys
		ORDER BY created_at DESC, rowid DESC
		LIMIT 1
	`
	k, err := s.scanSessionKey(s.db.QueryRowContext(ctx, query))
	if errors.Is(err, ErrNotFound) {
		return nil, ErrSessionKeyNotFound
	}
	return k, err
}

// RevokeAllSessionKeys revokes every non-revoked session key and returns
// the affected ids.
func (s *SQLiteStore) RevokeAllSessionKeys(ctx context.Context, at time.Time) ([]string, error) {
	// Collect ids first so the caller can emit per-key lifecycle events.
	rows, err := s.db.QueryContext(ctx, "SELECT id FROM session_keys WHERE revoked_at IS NULL")
	if err != nil {
		return nil, fmt.Errorf("querying active session keys: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning session key id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating session key ids: %w", err)
	}

	if len(ids) == 0 {
		return nil, nil
	}

	_, err = s.db.ExecContext(ctx,
		"UPDATE session_keys SET revoked_at = ? WHERE revoked_at IS NULL",
		formatTime(at),
	)
	if err != nil {
		return nil, fmt.Errorf("revoking session keys: %w", err)
	}

	s.logger.Info("revoked all session keys", "count", len(ids))
	return ids, nil
}

// scanSessionKey scans a session key row.
func (s *SQLiteStore) scanSessionKey(scanner rowScanner) (*SessionKey, error) {
	var k SessionKey
	var createdAtStr, expiresAtStr string
	var revokedStr sql.NullString

	err := scanner.Scan(&k.ID, &createdAtStr, &expiresAtStr, &revokedStr)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning session key: %w", err)
	}

	k.CreatedAt, err = parseTime(createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}

	k.ExpiresAt, err = parseTime(expiresAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing expires_at: %w", err)
	}

	k.RevokedAt, err = scanNullTime(revokedStr)
	if err != nil {
		return nil, fmt.Errorf("parsing revoked_at: %w", err)
	}

	return &k, nil
}
