package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ecclesia-org/ecclesia/audit"
	"github.com/ecclesia-org/ecclesia/authz"
	"github.com/ecclesia-org/ecclesia/internal/logging"
	"github.com/ecclesia-org/ecclesia/session"
)

// SessionMiddleware validates logged in sessions and CSRF tokens
type SessionMiddleware struct {
	Guard *session.Guard
	CSRF  *session.CSRF
	Audit ActivityLogger
}

func NewSessionMiddleware(guard *session.Guard, csrf *session.CSRF, logger ActivityLogger) *SessionMiddleware {
	return &SessionMiddleware{Guard: guard, CSRF: csrf, Audit: logger}
}

// RequireLogin validates the session started for this request. Anonymous
// requests go to the login page; expired or hijacked sessions are destroyed
// and sent there with a reason flag.
func (m *SessionMiddleware) RequireLogin() gin.HandlerFunc {
	return func(c *gin.Context) {
		sess := session.FromContext(c)
		if !sess.LoggedIn() {
			m.toLogin(c, authz.LoginRedirect(c.Request.URL.RequestURI()), "User not authenticated")
			return
		}

		err := m.Guard.Validate(c.Request.Context(), c.Writer, c.Request, sess)
		switch {
		case err == nil:
			c.Next()
		case errors.Is(err, session.ErrSessionIdle):
			m.toLogin(c, authz.LoginPath+"?inactive=1", "Session ended after inactivity")
		case errors.Is(err, session.ErrSessionExpired):
			m.toLogin(c, authz.LoginPath+"?expired=1", "Session expired")
		case errors.Is(err, session.ErrSessionInvalid):
			m.toLogin(c, authz.LoginPath, "Session is no longer valid")
		default:
			logging.Error().Err(err).Msg("session validation failed")
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{
				"error":   "session_unavailable",
				"message": "Session store is unavailable",
			})
		}
	}
}

func (m *SessionMiddleware) toLogin(c *gin.Context, target, message string) {
	if wantsJSON(c) {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
			"error":    "unauthorized",
			"message":  message,
			"redirect": target,
		})
		return
	}
	status := http.StatusFound
	if c.Request.Method != http.MethodGet && c.Request.Method != http.MethodHead {
		status = http.StatusSeeOther
	}
	c.Redirect(status, target)
	c.Abort()
}

// RequireCSRF rejects mutating requests whose token does not match the session
func (m *SessionMiddleware) RequireCSRF() gin.HandlerFunc {
	return func(c *gin.Context) {
		if session.IsSafeMethod(c.Request.Method) {
			c.Next()
			return
		}

		sess := session.FromContext(c)
		if m.CSRF.Validate(sess, session.TokenFromRequest(c.Request)) {
			c.Next()
			return
		}

		logging.Warn().
			Str("path", c.Request.URL.Path).
			Str("method", c.Request.Method).
			Str("ip", c.ClientIP()).
			Msg("CSRF token mismatch")
		m.Audit.Log(c.Request.Context(), sess, audit.Entry{
			Action:    audit.CSRFMismatch,
			IP:        c.ClientIP(),
			UserAgent: c.Request.UserAgent(),
			Details: map[string]any{
				"path":   c.Request.URL.Path,
				"method": c.Request.Method,
			},
		})
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
			"error":   "csrf_mismatch",
			"message": "Your form has expired. Please reload the page and try again.",
		})
	}
}
