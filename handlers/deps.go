package handlers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ecclesia-org/ecclesia/audit"
	"github.com/ecclesia-org/ecclesia/db"
	"github.com/ecclesia-org/ecclesia/role"
	"github.com/ecclesia-org/ecclesia/session"
)

// ActivityLogger is satisfied by *audit.Logger
type ActivityLogger interface {
	Log(ctx context.Context, actor *session.Session, e audit.Entry)
}

// RateLimiter is satisfied by *ratelimit.Limiter
type RateLimiter interface {
	Check(ctx context.Context, identifier string, maxAttempts int, window time.Duration) bool
	Reset(ctx context.Context, identifier string) error
}

// Authenticator checks login credentials
type Authenticator interface {
	Authenticate(ctx context.Context, email, password string) (db.User, error)
}

// MemberDirectory is the scope-filtered read side of the member store
type MemberDirectory interface {
	Find(ctx context.Context, id int64) (db.User, error)
	ListVisible(ctx context.Context, sess *session.Session, f db.ListMembersFilter) ([]db.User, error)
	PendingApprovals(ctx context.Context, sess *session.Session) ([]db.User, error)
	CountPending(ctx context.Context, sess *session.Session) (int, error)
}

// MembershipManager changes status and role of members
type MembershipManager interface {
	ChangeStatus(ctx context.Context, sess *session.Session, targetID int64, status, reason, path string) (db.User, error)
	ChangeRole(ctx context.Context, sess *session.Session, targetID int64, newRole role.Role, reason, path string) (db.User, error)
}

// PasswordStore verifies and replaces a user's password
type PasswordStore interface {
	CheckPassword(ctx context.Context, userID int64, password string) (bool, error)
	UpdatePassword(ctx context.Context, userID int64, password string) error
}

// Impersonator switches a session to another user and back
type Impersonator interface {
	Start(ctx context.Context, sess *session.Session, targetUserID int64) error
	Stop(ctx context.Context, sess *session.Session) (bool, error)
}

// AccountActivator redeems activation links
type AccountActivator interface {
	Activate(ctx context.Context, token, password string) (int64, error)
}

// LimitPolicy is the attempt budget of one rate-limited action
type LimitPolicy struct {
	MaxAttempts int
	Window      time.Duration
}

func (p LimitPolicy) withDefaults() LimitPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 5
	}
	if p.Window <= 0 {
		p.Window = 15 * time.Minute
	}
	return p
}

func wantsJSON(c *gin.Context) bool {
	return strings.Contains(c.GetHeader("Accept"), "application/json") ||
		strings.Contains(c.GetHeader("Content-Type"), "application/json")
}

// redirectOrJSON sends browsers to target and gives API clients body
func redirectOrJSON(c *gin.Context, target string, body gin.H) {
	if wantsJSON(c) {
		c.JSON(http.StatusOK, body)
		return
	}
	c.Redirect(http.StatusSeeOther, target)
}

func internalError(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
		"error":   "internal_error",
		"message": "Something went wrong. Please try again.",
	})
}

func badRequest(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
		"error":   "bad_request",
		"message": message,
	})
}
