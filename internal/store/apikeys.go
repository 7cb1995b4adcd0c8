// ABOUTME: API key persistence on the SQLite store
// ABOUTME: Active-key lookup excludes revoked and expired keys so they fail like unknown keys

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/2389/warden/internal/scope"
)

// CreateAPIKey inserts a new API key record.
func (s *SQLiteStore) CreateAPIKey(ctx context.Context, k *APIKey) error {
	query := `
		INSERT INTO api_keys (id, name, key_hash, scope_tools, scope_system, scope_mcp, created_at, expires_at, revoked_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		k.ID,
		k.Name,
		k.KeyHash,
		string(k.Scope.Tools),
		boolToInt(k.Scope.System),
		boolToInt(k.Scope.MCP),
		formatTime(k.CreatedAt),
		nullTime(k.ExpiresAt),
		nullTime(k.RevokedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting api key: %w", err)
	}

	s.logger.Info("created api key", "id", k.ID, "name", k.Name)
	return nil
}

// GetAPIKey retrieves an API key by ID, regardless of its state.
func (s *SQLiteStore) GetAPIKey(ctx context.Context, id string) (*APIKey, error) {
	query := `
		SELECT id, name, key_hash, scope_tools, scope_system, scope_mcp, created_at, expires_at, revoked_at
		FROM api_keys
		WHERE id = ?
	`
	return s.scanAPIKey(s.db.QueryRowContext(ctx, query, id))
}

// GetActiveAPIKeyByHash resolves a presented key hash to its record.
// Revoked and expired keys never match, so presenting one fails with the
// same ErrAPIKeyNotFound as an unknown key.
func (s *SQLiteStore) GetActiveAPIKeyByHash(ctx context.Context, keyHash string, now time.Time) (*APIKey, error) {
	query := `
		SELECT id, name, key_hash, scope_tools, scope_system, scope_mcp, created_at, expires_at, revoked_at
		FROM api_keys
		WHERE key_hash = ?
		  AND revoked_at IS NULL
		  AND (expires_at IS NULL OR expires_at > ?)
	`
	return s.scanAPIKey(s.db.QueryRowContext(ctx, query, keyHash, formatTime(now)))
}

// ListAPIKeys returns all API keys, including revoked ones.
func (s *SQLiteStore) ListAPIKeys(ctx context.Context) ([]*APIKey, error) {
	query := `
		SELECT id, name, key_hash, scope_tools, scope_system, scope_mcp, created_at, expires_at, revoked_at
		FROM api_keys
		ORDER BY created_at ASC
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying api keys: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var keys []*APIKey
	for rows.Next() {
		k, err := s.scanAPIKey(rows)
		if err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating api keys: %w", err)
	}

	return keys, nil
}

// RevokeAPIKey logically revokes a key. The guard on revoked_at makes a
// second revocation report ErrAPIKeyNotFound rather than silently
// succeeding.
func (s *SQLiteStore) RevokeAPIKey(ctx context.Context, id string, at time.Time) error {
	query := `
		UPDATE api_keys
		SET revoked_at = ?
		WHERE id = ? AND revoked_at IS NULL
	`

	result, err := s.db.ExecContext(ctx, query, formatTime(at), id)
	if err != nil {
		return fmt.Errorf("revoking api key: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrAPIKeyNotFound
	}

	s.logger.Info("revoked api key", "id", id)
	return nil
}

// scanAPIKey scans an API key row.
func (s *SQLiteStore) scanAPIKey(scanner rowScanner) (*APIKey, error) {
	var k APIKey
	var toolsStr, createdAtStr string
	var expiresStr, revokedStr sql.NullString
	var system, mcp int

	err := scanner.Scan(
		&k.ID,
		&k.Name,
		&k.KeyHash,
		&toolsStr,
		&system,
		&mcp,
		&createdAtStr,
		&expiresStr,
		&revokedStr,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrAPIKeyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning api key: %w", err)
	}

	k.Scope = scope.Scope{
		Tools:  scope.ToolLevel(toolsStr),
		System: system != 0,
		MCP:    mcp != 0,
	}

	k.CreatedAt, err = parseTime(createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}

	k.ExpiresAt, err = scanNullTime(expiresStr)
	if err != nil {
		return nil, fmt.Errorf("parsing expires_at: %w", err)
	}

	k.RevokedAt, err = scanNullTime(revokedStr)
	if err != nil {
		return nil, fmt.Errorf("parsing revoked_at: %w", err)
	}

	return &k, nil
}
