// Package impersonation lets a super admin act as another user for support,
// with both identities recorded in the activity log.
//
// State machine: Normal -> Impersonating -> Normal. Starting again while
// already impersonating is rejected.
package impersonation

import (
	"context"
	"errors"
	"fmt"

	"github.com/ecclesia-org/ecclesia/audit"
	"github.com/ecclesia-org/ecclesia/internal/logging"
	"github.com/ecclesia-org/ecclesia/session"
)

var (
	ErrPermissionDenied     = errors.New("impersonation: permission denied")
	ErrNotFound             = errors.New("impersonation: target user not found")
	ErrAlreadyImpersonating = errors.New("impersonation: already impersonating")
	ErrSelf                 = errors.New("impersonation: cannot impersonate yourself")
)

// UserLookup resolves the identity a target user id would log in with.
// It returns ErrNotFound when the user does not exist.
type UserLookup interface {
	Identity(ctx context.Context, userID int64) (session.Identity, error)
}

// SessionSaver persists the switched session
type SessionSaver interface {
	Save(ctx context.Context, sess *session.Session) error
}

// ActivityLogger records the start and end events
type ActivityLogger interface {
	Log(ctx context.Context, actor *session.Session, e audit.Entry)
}

// Manager switches session identities
type Manager struct {
	users    UserLookup
	sessions SessionSaver
	audit    ActivityLogger
}

// NewManager creates an impersonation manager
func NewManager(users UserLookup, sessions SessionSaver, logger ActivityLogger) *Manager {
	return &Manager{users: users, sessions: sessions, audit: logger}
}

// Start makes sess act as targetUserID. Only the top role may do this.
func (m *Manager) Start(ctx context.Context, sess *session.Session, targetUserID int64) error {
	if sess != nil && sess.Impersonating {
		return ErrAlreadyImpersonating
	}
	if !sess.LoggedIn() || !sess.Role.IsTop() {
		return ErrPermissionDenied
	}
	if targetUserID == sess.UserID {
		return ErrSelf
	}

	target, err := m.users.Identity(ctx, targetUserID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("look up impersonation target: %w", err)
	}

	original := *sess
	sess.OriginalUserID = sess.UserID
	sess.OriginalRole = sess.Role
	sess.OriginalScope = sess.Scope
	sess.Impersonating = true
	sess.SetIdentity(target)

	if err := m.sessions.Save(ctx, sess); err != nil {
		*sess = original
		return fmt.Errorf("save impersonation session: %w", err)
	}

	logging.Info().
		Int64("admin_user_id", sess.OriginalUserID).
		Int64("impersonated_user_id", sess.UserID).
		Msg("impersonation started")

	m.audit.Log(ctx, sess, audit.Entry{
		Action:   audit.ImpersonateStart,
		Table:    "users",
		RecordID: target.UserID,
		Details: map[string]any{
			"admin_user_id":        sess.OriginalUserID,
			"impersonated_user_id": target.UserID,
			"impersonated_role":    string(target.Role),
		},
	})
	return nil
}

// Stop restores the original identity. It returns false when sess was not
// impersonating.
func (m *Manager) Stop(ctx context.Context, sess *session.Session) (bool, error) {
	if sess == nil || sess.OriginalUserID == 0 {
		return false, nil
	}

	impersonated := sess.UserID
	previous := *sess
	sess.SetIdentity(session.Identity{
		UserID: sess.OriginalUserID,
		Role:   sess.OriginalRole,
		Scope:  sess.OriginalScope,
	})
	sess.Impersonating = false
	sess.OriginalUserID = 0
	sess.OriginalRole = ""
	sess.OriginalScope = session.Scope{}

	if err := m.sessions.Save(ctx, sess); err != nil {
		*sess = previous
		return false, fmt.Errorf("save restored session: %w", err)
	}

	logging.Info().
		Int64("admin_user_id", sess.UserID).
		Int64("impersonated_user_id", impersonated).
		Msg("impersonation ended")

	m.audit.Log(ctx, sess, audit.Entry{
		Action:   audit.ImpersonateEnd,
		Table:    "users",
		RecordID: impersonated,
		Details: map[string]any{
			"admin_user_id":        sess.UserID,
			"impersonated_user_id": impersonated,
		},
	})
	return true, nil
}
