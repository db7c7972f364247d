// Package audit writes the durable activity trail of security relevant events.
//
// Writes are best effort: a failing audit store never fails the operation being
// described. Failed writes are reported on the process logger instead.
package audit

import (
	"context"
	"database/sql"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/ecclesia-org/ecclesia/internal/logging"
	"github.com/ecclesia-org/ecclesia/internal/metrics"
	"github.com/ecclesia-org/ecclesia/session"
)

// Action is the enumerated type of an activity log entry
type Action string

const (
	LoginSuccess              Action = "LOGIN_SUCCESS"
	LoginFailed               Action = "LOGIN_FAILED"
	Logout                    Action = "LOGOUT"
	SessionDestroyed          Action = session.EventDestroyed
	SessionIPChanged          Action = session.EventIPChanged
	UnauthorizedAccessAttempt Action = "UNAUTHORIZED_ACCESS_ATTEMPT"
	CSRFMismatch              Action = "CSRF_MISMATCH"
	RoleChanged               Action = "ROLE_CHANGED"
	StatusChanged             Action = "STATUS_CHANGED"
	PasswordChanged           Action = "PASSWORD_CHANGED"
	ImpersonateStart          Action = "IMPERSONATE_START"
	ImpersonateEnd            Action = "IMPERSONATE_END"
	ActivationIssued          Action = "ACCOUNT_ACTIVATION_ISSUED"
	AccountActivated          Action = "ACCOUNT_ACTIVATED"
	RateLimited               Action = "RATE_LIMITED"
)

// protected entries survive the retention sweep regardless of age
var protected = []Action{
	LoginFailed,
	UnauthorizedAccessAttempt,
	RoleChanged,
	StatusChanged,
	ImpersonateStart,
	ImpersonateEnd,
}

// Protected reports whether entries of type a are kept forever
func Protected(a Action) bool {
	for _, p := range protected {
		if p == a {
			return true
		}
	}
	return false
}

// Change describes a role or status transition of a user
type Change struct {
	UserID int64
	From   string
	To     string
	Reason string
}

// Denial describes a refused permission check
type Denial struct {
	Action     string
	Resource   string
	ResourceID int64
	Path       string
}

// Entry is one event to record. IP and UserAgent default to the values bound
// to the actor session.
type Entry struct {
	Action    Action
	Table     string
	RecordID  int64
	Details   map[string]any
	IP        string
	UserAgent string

	// Change is required for ROLE_CHANGED and STATUS_CHANGED history rows
	Change *Change
	// Denial is required for failed_permission_attempts rows
	Denial *Denial
}

// Logger writes activity log entries and their per-action history rows
type Logger struct {
	db  *sql.DB
	now func() time.Time
}

// Option configures a Logger
type Option func(*Logger)

// WithClock overrides the time source used for retention cutoffs
func WithClock(now func() time.Time) Option {
	return func(l *Logger) { l.now = now }
}

// NewLogger creates a logger writing to db
func NewLogger(db *sql.DB, opts ...Option) *Logger {
	l := &Logger{db: db, now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Log records e on behalf of actor, which may be nil for anonymous requests.
// It never returns an error.
func (l *Logger) Log(ctx context.Context, actor *session.Session, e Entry) {
	details := make(map[string]any, len(e.Details)+3)
	for k, v := range e.Details {
		details[k] = v
	}
	requestID := logging.RequestIDFromContext(ctx)
	if requestID == "" {
		requestID = uuid.NewString()
	}
	details["request_id"] = requestID

	var (
		userID         sql.NullInt64
		originalUserID sql.NullInt64
		impersonated   bool
	)
	ip, ua := e.IP, e.UserAgent
	if actor != nil {
		if actor.LoggedIn() {
			userID = sql.NullInt64{Int64: actor.UserID, Valid: true}
		}
		if ip == "" {
			ip = actor.IP
		}
		if ua == "" {
			ua = actor.UserAgent
		}
		if actor.Impersonating {
			impersonated = true
			originalUserID = sql.NullInt64{Int64: actor.OriginalUserID, Valid: true}
			details["impersonator_id"] = actor.OriginalUserID
			details["impersonated_user_id"] = actor.UserID
		}
	}

	raw, err := json.Marshal(details)
	if err != nil {
		logging.Warn().Err(err).Str("action", string(e.Action)).Msg("activity details not serializable")
		raw = []byte(`{"request_id":"` + requestID + `"}`)
	}

	_, err = l.db.ExecContext(ctx, `
		INSERT INTO activity_log
			(user_id, action_type, table_name, record_id, ip_address, user_agent, details, is_impersonated, original_user_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, userID, string(e.Action), nullString(e.Table), nullInt(e.RecordID), ip, ua, string(raw), impersonated, originalUserID)
	if err != nil {
		l.fallback(e, userID.Int64, string(raw), err)
	}

	if err := l.fanOut(ctx, actor, e, ip); err != nil {
		l.fallback(e, userID.Int64, string(raw), err)
	}
}

// LogSessionEvent lets the session guard report through the activity log
func (l *Logger) LogSessionEvent(ctx context.Context, s *session.Session, action string, details map[string]any) {
	l.Log(ctx, s, Entry{Action: Action(action), Details: details})
}

// fanOut writes the secondary structured row some action types carry
func (l *Logger) fanOut(ctx context.Context, actor *session.Session, e Entry, ip string) error {
	var actingID sql.NullInt64
	if actor.LoggedIn() {
		actingID = sql.NullInt64{Int64: actor.UserID, Valid: true}
	}

	switch e.Action {
	case RoleChanged:
		if e.Change == nil {
			return nil
		}
		_, err := l.db.ExecContext(ctx, `
			INSERT INTO role_change_history (user_id, old_role, new_role, changed_by, reason)
			VALUES ($1, $2, $3, $4, $5)
		`, e.Change.UserID, e.Change.From, e.Change.To, actingID, e.Change.Reason)
		return err

	case StatusChanged:
		if e.Change == nil {
			return nil
		}
		_, err := l.db.ExecContext(ctx, `
			INSERT INTO status_change_history (user_id, old_status, new_status, changed_by, reason)
			VALUES ($1, $2, $3, $4, $5)
		`, e.Change.UserID, e.Change.From, e.Change.To, actingID, e.Change.Reason)
		return err

	case ImpersonateStart:
		_, err := l.db.ExecContext(ctx, `
			INSERT INTO impersonation_sessions (admin_user_id, impersonated_user_id, ip_address)
			VALUES ($1, $2, $3)
		`, adminID(actor), e.RecordID, ip)
		return err

	case ImpersonateEnd:
		_, err := l.db.ExecContext(ctx, `
			UPDATE impersonation_sessions SET ended_at = NOW()
			WHERE admin_user_id = $1 AND impersonated_user_id = $2 AND ended_at IS NULL
		`, adminID(actor), e.RecordID)
		return err

	case UnauthorizedAccessAttempt:
		if e.Denial == nil {
			return nil
		}
		_, err := l.db.ExecContext(ctx, `
			INSERT INTO failed_permission_attempts (user_id, action, resource, resource_id, request_path, ip_address)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, actingID, e.Denial.Action, e.Denial.Resource, nullInt(e.Denial.ResourceID), e.Denial.Path, ip)
		return err
	}
	return nil
}

// adminID is the real person behind actor, whether or not they are impersonating
func adminID(actor *session.Session) int64 {
	if actor == nil {
		return 0
	}
	if actor.Impersonating {
		return actor.OriginalUserID
	}
	return actor.UserID
}

func (l *Logger) fallback(e Entry, userID int64, details string, err error) {
	metrics.ActivityLogWriteFailures.Inc()
	logging.Error().
		Err(err).
		Str("action", string(e.Action)).
		Int64("user_id", userID).
		Str("table", e.Table).
		Int64("record_id", e.RecordID).
		Str("details", details).
		Msg("activity log write failed")
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullInt(n int64) sql.NullInt64 {
	return sql.NullInt64{Int64: n, Valid: n != 0}
}
