package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ecclesia-org/ecclesia/audit"
	"github.com/ecclesia-org/ecclesia/authz"
	"github.com/ecclesia-org/ecclesia/db"
	"github.com/ecclesia-org/ecclesia/internal/logging"
	"github.com/ecclesia-org/ecclesia/role"
	"github.com/ecclesia-org/ecclesia/session"
)

var (
	// ErrCannotManage means the target is not strictly below the actor in the
	// role hierarchy. It is a permission denial.
	ErrCannotManage = fmt.Errorf("%w: target role is not below yours", authz.ErrPermissionDenied)

	ErrInvalidStatus    = errors.New("invalid status")
	ErrInvalidRole      = errors.New("invalid role")
	ErrMissingPlacement = errors.New("member has no placement at the level of that role")
)

// ActivityLogger is the audit sink the services write through
type ActivityLogger interface {
	Log(ctx context.Context, actor *session.Session, e audit.Entry)
}

// PermissionChecker is satisfied by *authz.Checker
type PermissionChecker interface {
	Require(ctx context.Context, sess *session.Session, action authz.Action, resource authz.ResourceType, resourceID int64, path string) error
	RecordDenial(ctx context.Context, sess *session.Session, action authz.Action, resource authz.ResourceType, resourceID int64, path string, extra map[string]any) *authz.DeniedError
}

// MembershipService works the approval queue and role assignments
type MembershipService struct {
	PG       *sql.DB
	Users    *UserService
	Checker  PermissionChecker
	Audit    ActivityLogger
	Notifier Notifier
	now      func() time.Time
}

func NewMembershipService(pg *sql.DB, users *UserService, checker PermissionChecker, logger ActivityLogger, notifier Notifier) *MembershipService {
	return &MembershipService{
		PG:       pg,
		Users:    users,
		Checker:  checker,
		Audit:    logger,
		Notifier: notifier,
		now:      time.Now,
	}
}

// ChangeStatus moves targetID to status. The actor needs approve permission
// on the member and must outrank them.
func (s *MembershipService) ChangeStatus(ctx context.Context, sess *session.Session, targetID int64, status, reason, path string) (db.User, error) {
	if !db.ValidStatus(status) {
		return db.User{}, ErrInvalidStatus
	}
	target, err := s.authorize(ctx, sess, authz.ActionApprove, targetID, "", path)
	if err != nil {
		return db.User{}, err
	}
	if target.Status == status {
		return target, nil
	}

	if _, err := s.PG.ExecContext(ctx,
		`UPDATE users SET status = $1, updated_at = $2 WHERE id = $3`,
		status, s.now(), targetID,
	); err != nil {
		return db.User{}, fmt.Errorf("update status: %w", err)
	}

	s.Audit.Log(ctx, sess, audit.Entry{
		Action:   audit.StatusChanged,
		Table:    "users",
		RecordID: targetID,
		Details:  map[string]any{"old_status": target.Status, "new_status": status},
		Change:   &audit.Change{UserID: targetID, From: target.Status, To: status, Reason: reason},
	})

	previous := target.Status
	target.Status = status
	s.notify(ctx, target, "Your membership status has changed",
		fmt.Sprintf("Dear %s,\n\nYour membership status changed from %s to %s.\n", target.FullName(), previous, status))
	return target, nil
}

// ChangeRole assigns newRole to targetID. The actor must outrank both the
// current and the new role, and the member must be placed at the new role's level.
func (s *MembershipService) ChangeRole(ctx context.Context, sess *session.Session, targetID int64, newRole role.Role, reason, path string) (db.User, error) {
	if !newRole.Valid() {
		return db.User{}, ErrInvalidRole
	}
	target, err := s.authorize(ctx, sess, authz.ActionManage, targetID, newRole, path)
	if err != nil {
		return db.User{}, err
	}
	if target.Role == newRole {
		return target, nil
	}
	if lvl := newRole.ScopeLevel(); lvl != role.LevelNone && target.Scope().ID(lvl) == 0 {
		return db.User{}, ErrMissingPlacement
	}

	if _, err := s.PG.ExecContext(ctx,
		`UPDATE users SET role_level = $1, updated_at = $2 WHERE id = $3`,
		string(newRole), s.now(), targetID,
	); err != nil {
		return db.User{}, fmt.Errorf("update role: %w", err)
	}

	s.Audit.Log(ctx, sess, audit.Entry{
		Action:   audit.RoleChanged,
		Table:    "users",
		RecordID: targetID,
		Details:  map[string]any{"old_role": string(target.Role), "new_role": string(newRole)},
		Change:   &audit.Change{UserID: targetID, From: string(target.Role), To: string(newRole), Reason: reason},
	})

	target.Role = newRole
	s.notify(ctx, target, "Your role has changed",
		fmt.Sprintf("Dear %s,\n\nYou are now %s.\n", target.FullName(), newRole.DisplayName()))
	return target, nil
}

// authorize runs the permission check, loads the target and applies the
// hierarchy rule. A hierarchy failure is audited like any other denial.
func (s *MembershipService) authorize(ctx context.Context, sess *session.Session, action authz.Action, targetID int64, newRole role.Role, path string) (db.User, error) {
	if err := s.Checker.Require(ctx, sess, action, authz.ResourceUser, targetID, path); err != nil {
		return db.User{}, err
	}
	target, err := s.Users.Find(ctx, targetID)
	if err != nil {
		return db.User{}, err
	}

	ok := role.CanManage(sess.Role, sess.UserID, target.Role, target.ID)
	if ok && newRole != "" {
		ok = role.CanManage(sess.Role, sess.UserID, newRole, target.ID)
	}
	if ok {
		return target, nil
	}

	details := map[string]any{
		"target_role": string(target.Role),
		"reason":      "role_hierarchy",
	}
	if newRole != "" {
		details["requested_role"] = string(newRole)
	}
	s.Checker.RecordDenial(ctx, sess, action, authz.ResourceUser, targetID, path, details)
	return db.User{}, ErrCannotManage
}

func (s *MembershipService) notify(ctx context.Context, u db.User, subject, body string) {
	if s.Notifier == nil || u.Email == "" {
		return
	}
	if err := s.Notifier.Notify(ctx, u.Email, subject, body); err != nil {
		logging.Warn().Err(err).Int64("user_id", u.ID).Str("subject", subject).Msg("member notification failed")
	}
}
