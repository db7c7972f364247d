package authz

import (
	"context"
	"fmt"

	"github.com/ecclesia-org/ecclesia/audit"
	"github.com/ecclesia-org/ecclesia/internal/logging"
	"github.com/ecclesia-org/ecclesia/internal/metrics"
	"github.com/ecclesia-org/ecclesia/session"
)

// ActivityLogger is the part of the audit logger the checker writes through
type ActivityLogger interface {
	Log(ctx context.Context, actor *session.Session, e audit.Entry)
}

// Scoper resolves scope containment of concrete resource ids
type Scoper interface {
	InScope(ctx context.Context, sess *session.Session, resource ResourceType, id int64) (bool, error)
}

// Checker combines the capability table with scope containment.
// It fails closed: any storage error is a deny.
type Checker struct {
	scopes Scoper
	audit  ActivityLogger
}

// NewChecker creates a permission checker
func NewChecker(scopes Scoper, logger ActivityLogger) *Checker {
	return &Checker{scopes: scopes, audit: logger}
}

// Can reports whether sess may perform action on resource. A resourceID of 0
// checks the role-level rule only.
func (c *Checker) Can(ctx context.Context, sess *session.Session, action Action, resource ResourceType, resourceID int64) bool {
	allowed := c.can(ctx, sess, action, resource, resourceID)
	var r string
	if sess != nil {
		r = string(sess.Role)
	}
	metrics.RecordAuthzDecision(r, string(resource), string(action), allowed)
	return allowed
}

func (c *Checker) can(ctx context.Context, sess *session.Session, action Action, resource ResourceType, resourceID int64) bool {
	if !sess.LoggedIn() {
		return false
	}
	if sess.Impersonating && blockedWhileImpersonating(action, resource) {
		return false
	}
	if !HasPermission(sess.Role, action, resource) {
		return false
	}
	if resourceID == 0 {
		return true
	}

	ok, err := c.scopes.InScope(ctx, sess, resource, resourceID)
	if err != nil {
		metrics.ScopeCheckErrors.Inc()
		logging.Error().
			Err(err).
			Int64("user_id", sess.UserID).
			Str("action", string(action)).
			Str("resource", string(resource)).
			Int64("resource_id", resourceID).
			Msg("scope check failed, denying")
		return false
	}
	return ok
}

// Require is Can plus the consequences of a deny. Without a logged in user it
// returns ErrLoginRequired. On deny it writes one UNAUTHORIZED_ACCESS_ATTEMPT
// entry and returns a *DeniedError.
func (c *Checker) Require(ctx context.Context, sess *session.Session, action Action, resource ResourceType, resourceID int64, path string) error {
	if !sess.LoggedIn() {
		return ErrLoginRequired
	}
	if c.Can(ctx, sess, action, resource, resourceID) {
		return nil
	}

	return c.RecordDenial(ctx, sess, action, resource, resourceID, path, nil)
}

// RecordDenial writes the UNAUTHORIZED_ACCESS_ATTEMPT entry for a refusal
// decided outside Can, such as the role hierarchy rule. extra is merged into
// the entry details.
func (c *Checker) RecordDenial(ctx context.Context, sess *session.Session, action Action, resource ResourceType, resourceID int64, path string, extra map[string]any) *DeniedError {
	logging.Warn().
		Int64("user_id", sess.UserID).
		Str("role", string(sess.Role)).
		Str("action", string(action)).
		Str("resource", string(resource)).
		Int64("resource_id", resourceID).
		Str("path", path).
		Msg("AUTHZ DENIED")

	details := map[string]any{
		"action":   string(action),
		"resource": string(resource),
		"path":     path,
		"role":     string(sess.Role),
	}
	if resourceID != 0 {
		details["resource_id"] = resourceID
	}
	for k, v := range extra {
		details[k] = v
	}
	c.audit.Log(ctx, sess, audit.Entry{
		Action:   audit.UnauthorizedAccessAttempt,
		Table:    string(resource),
		RecordID: resourceID,
		Details:  details,
		Denial: &audit.Denial{
			Action:     string(action),
			Resource:   string(resource),
			ResourceID: resourceID,
			Path:       path,
		},
	})

	return &DeniedError{Reason: denialReason(sess, action, resource)}
}

func denialReason(sess *session.Session, action Action, resource ResourceType) string {
	if sess.Impersonating && blockedWhileImpersonating(action, resource) {
		return "This action is not available while impersonating another user."
	}
	verb := string(action)
	if action == ActionChangePassword {
		verb = "change the password of"
	}
	return fmt.Sprintf("You do not have permission to %s this %s.", verb, resource.describe())
}
