// ABOUTME: Audit log entity and store methods for tracking security-relevant actions
// ABOUTME: Records who did what to which credential or control for compliance and debugging

package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// AuditAction represents an auditable action.
type AuditAction string

const (
	AuditRequestPairing  AuditAction = "request_pairing"
	AuditApproveDevice   AuditAction = "approve_device"
	AuditRejectDevice    AuditAction = "reject_device"
	AuditRevokeDevice    AuditAction = "revoke_device"
	AuditRotateToken     AuditAction = "rotate_token"
	AuditUpdateScope     AuditAction = "update_scope"
	AuditCreateAPIKey    AuditAction = "create_api_key"
	AuditRevokeAPIKey    AuditAction = "revoke_api_key"
	AuditIssueSessionKey AuditAction = "issue_session_key"
	AuditEmergencyStop   AuditAction = "emergency_stop"
	AuditEmergencyResume AuditAction = "emergency_resume"
)

// AuditEntry represents a single audit log entry.
type AuditEntry struct {
	ID         string         `json:"id"`          // UUID v4
	Actor      string         `json:"actor"`       // who performed the action ("admin", device id, "system")
	Action     AuditAction    `json:"action"`      // what action was performed
	TargetType string         `json:"target_type"` // "device", "api_key", "session_key", "gateway"
	TargetID   string         `json:"target_id"`   // ID of the affected resource
	Timestamp  time.Time      `json:"timestamp"`   // when it happened
	Detail     map[string]any `json:"detail,omitempty"`
}

// AuditFilter specifies filtering options for listing audit entries.
type AuditFilter struct {
	Since      *time.Time   // entries after this time
	Until      *time.Time   // entries before this time
	Actor      *string      // filter by actor
	Action     *AuditAction // filter by action type
	TargetType *string      // filter by target type
	TargetID   *string      // filter by target ID
	Limit      int          // max results (default 100, max 1000)
}

// AuditStore defines the audit log interface. Appends for
// security-relevant events are fail-closed: callers must treat an append
// failure as the triggering operation not having completed.
type AuditStore interface {
	AppendAuditLog(ctx context.Context, e *AuditEntry) error
	ListAuditLog(ctx context.Context, f AuditFilter) ([]AuditEntry, error)
}

// AppendAuditLog appends a new entry to the audit log.
// Generates ID and Timestamp if not set.
func (s *SQLiteStore) AppendAuditLog(ctx context.Context, e *AuditEntry) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}

	var detailJSON *string
	if e.Detail != nil {
		data, err := json.Marshal(e.Detail)
		if err != nil {
			return fmt.Errorf("marshaling audit detail: %w", err)
		}
		str := string(data)
		detailJSON = &str
	}

	query := `
		INSERT INTO audit_log (audit_id, actor, action, target_type, target_id, ts, detail_json)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		e.ID,
		e.Actor,
		e.Action,
		e.TargetType,
		e.TargetID,
		formatTime(e.Timestamp),
		detailJSON,
	)
	if err != nil {
		return fmt.Errorf("inserting audit entry: %w", err)
	}

	s.logger.Debug("appended audit log",
		"id", e.ID,
		"actor", e.Actor,
		"action", e.Action,
		"target", e.TargetType+"/"+e.TargetID,
	)
	return nil
}

// normalizeAuditLimit applies default (100) and cap (1000) to audit limit.
func normalizeAuditLimit(limit int) int {
	switch {
	case limit <= 0:
		return 100
	case limit > 1000:
		return 1000
	default:
		return limit
	}
}

const auditLogQuery = `
	SELECT audit_id, actor, action, target_type, target_id, ts, detail_json
	FROM audit_log
	WHERE (? IS NULL OR ts >= ?)
	  AND (? IS NULL OR ts <= ?)
	  AND (? IS NULL OR actor = ?)
	  AND (? IS NULL OR action = ?)
	  AND (? IS NULL OR target_type = ?)
	  AND (? IS NULL OR target_id = ?)
	ORDER BY ts DESC
	LIMIT ?
`

// ListAuditLog returns audit entries matching the filter criteria.
// Results are returned newest first (DESC by timestamp).
func (s *SQLiteStore) ListAuditLog(ctx context.Context, f AuditFilter) ([]AuditEntry, error) {
	limit := normalizeAuditLimit(f.Limit)

	var sinceStr, untilStr, actionStr *string
	if f.Since != nil {
		str := formatTime(*f.Since)
		sinceStr = &str
	}
	if f.Until != nil {
		str := formatTime(*f.Until)
		untilStr = &str
	}
	if f.Action != nil {
		str := string(*f.Action)
		actionStr = &str
	}

	rows, err := s.db.QueryContext(ctx, auditLogQuery,
		sinceStr, sinceStr,
		untilStr, untilStr,
		f.Actor, f.Actor,
		actionStr, actionStr,
		f.TargetType, f.TargetType,
		f.TargetID, f.TargetID,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying audit log: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []AuditEntry
	for rows.Next() {
		var e AuditEntry
		var actionVal, tsStr string
		var detailJSON *string

		if err := rows.Scan(
			&e.ID,
			&e.Actor,
			&actionVal,
			&e.TargetType,
			&e.TargetID,
			&tsStr,
			&detailJSON,
		); err != nil {
			return nil, fmt.Errorf("scanning audit entry: %w", err)
		}

		e.Action = AuditAction(actionVal)
		e.Timestamp, err = parseTime(tsStr)
		if err != nil {
			return nil, fmt.Errorf("parsing timestamp: %w", err)
		}

		if detailJSON != nil {
			if err := json.Unmarshal([]byte(*detailJSON), &e.Detail); err != nil {
				return nil, fmt.Errorf("unmarshaling detail: %w", err)
			}
		}
		entries = append(entries, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating audit entries: %w", err)
	}

	if entries == nil {
		entries = []AuditEntry{}
	}
	return entries, nil
}
