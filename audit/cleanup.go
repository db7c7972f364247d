package audit

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/lib/pq"
)

// Cleanup deletes entries older than retentionDays, keeping every protected
// action type regardless of age. It returns the number of rows removed.
func (l *Logger) Cleanup(ctx context.Context, retentionDays int) (int64, error) {
	if retentionDays <= 0 {
		return 0, fmt.Errorf("retention must be positive, got %d days", retentionDays)
	}
	cutoff := l.now().AddDate(0, 0, -retentionDays)

	names := make([]string, len(protected))
	for i, a := range protected {
		names[i] = string(a)
	}

	res, err := l.db.ExecContext(ctx, `
		DELETE FROM activity_log
		WHERE created_at < $1 AND action_type <> ALL($2)
	`, cutoff, pq.Array(names))
	if err != nil {
		return 0, fmt.Errorf("cleanup activity log: %w", err)
	}
	return res.RowsAffected()
}

// Record is a stored activity log entry
type Record struct {
	ID             int64          `json:"id"`
	UserID         *int64         `json:"user_id,omitempty"`
	Action         Action         `json:"action_type"`
	Table          string         `json:"table_name,omitempty"`
	RecordID       *int64         `json:"record_id,omitempty"`
	IP             string         `json:"ip_address"`
	UserAgent      string         `json:"user_agent"`
	Details        map[string]any `json:"details"`
	Impersonated   bool           `json:"is_impersonated"`
	OriginalUserID *int64         `json:"original_user_id,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}

// Recent returns the latest entries, newest first
func (l *Logger) Recent(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	rows, err := l.db.QueryContext(ctx, `
		SELECT id, user_id, action_type, COALESCE(table_name, ''), record_id,
		       ip_address, user_agent, details, is_impersonated, original_user_id, created_at
		FROM activity_log
		ORDER BY created_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query activity log: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var (
			r                  Record
			userID, recordID   sql.NullInt64
			originalUserID     sql.NullInt64
			action, rawDetails string
		)
		if err := rows.Scan(&r.ID, &userID, &action, &r.Table, &recordID,
			&r.IP, &r.UserAgent, &rawDetails, &r.Impersonated, &originalUserID, &r.CreatedAt); err != nil {
			return nil, err
		}
		r.Action = Action(action)
		r.UserID = ptrInt(userID)
		r.RecordID = ptrInt(recordID)
		r.OriginalUserID = ptrInt(originalUserID)
		if err := json.Unmarshal([]byte(rawDetails), &r.Details); err != nil {
			r.Details = map[string]any{"raw": rawDetails}
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

func ptrInt(n sql.NullInt64) *int64 {
	if !n.Valid {
		return nil
	}
	v := n.Int64
	return &v
}
