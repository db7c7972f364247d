package authz

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/ecclesia-org/ecclesia/internal/logging"
	"github.com/ecclesia-org/ecclesia/session"
)

const (
	LoginPath        = "/login"
	AccessDeniedPath = "/access-denied"
)

// SessionSaver persists the flash message set on a denied session
type SessionSaver interface {
	Save(ctx context.Context, sess *session.Session) error
}

// Middleware turns Checker decisions into gin responses
type Middleware struct {
	Checker  *Checker
	Sessions SessionSaver
}

// NewMiddleware creates the authorization middleware
func NewMiddleware(checker *Checker, sessions SessionSaver) *Middleware {
	return &Middleware{Checker: checker, Sessions: sessions}
}

// RequirePermission guards a route. idParam names the path parameter holding
// the resource id; empty checks the role-level rule only. An empty action is
// derived from the request method.
// Usage: router.GET("/parishes/:id", m.RequirePermission(authz.ActionView, authz.ResourceParish, "id"), handler)
func (m *Middleware) RequirePermission(action Action, resource ResourceType, idParam string) gin.HandlerFunc {
	return func(c *gin.Context) {
		var resourceID int64
		if idParam != "" {
			id, err := strconv.ParseInt(c.Param(idParam), 10, 64)
			if err != nil || id <= 0 {
				c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
					"error":   "bad_request",
					"message": "Invalid resource id",
				})
				return
			}
			resourceID = id
		}

		act := action
		if act == "" {
			act = MethodToAction(c.Request.Method)
		}
		sess := session.FromContext(c)
		err := m.Checker.Require(c.Request.Context(), sess, act, resource, resourceID, c.Request.URL.Path)
		if err == nil {
			c.Next()
			return
		}
		m.Deny(c, sess, err)
	}
}

// Deny responds to a Require failure: redirect to login carrying the requested
// path, or to the access-denied page with the reason flashed on the session.
// JSON clients get a status code instead of a redirect.
func (m *Middleware) Deny(c *gin.Context, sess *session.Session, err error) {
	if errors.Is(err, ErrLoginRequired) {
		if wantsJSON(c) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "User not authenticated",
			})
			return
		}
		c.Redirect(redirectStatus(c), LoginRedirect(c.Request.URL.RequestURI()))
		c.Abort()
		return
	}

	reason := "You do not have permission to access this page."
	var denied *DeniedError
	if errors.As(err, &denied) {
		reason = denied.Reason
	}

	if wantsJSON(c) {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
			"error":   "forbidden",
			"message": reason,
		})
		return
	}

	if sess != nil {
		sess.Flash = reason
		if err := m.Sessions.Save(c.Request.Context(), sess); err != nil {
			logging.Error().Err(err).Msg("failed to store access denied reason")
		}
	}
	c.Redirect(redirectStatus(c), AccessDeniedPath)
	c.Abort()
}

// LoginRedirect returns the login URL that brings the user back to returnTo
func LoginRedirect(returnTo string) string {
	if returnTo == "" || returnTo == LoginPath {
		return LoginPath
	}
	return LoginPath + "?return_to=" + url.QueryEscape(returnTo)
}

func redirectStatus(c *gin.Context) int {
	if c.Request.Method == http.MethodGet || c.Request.Method == http.MethodHead {
		return http.StatusFound
	}
	return http.StatusSeeOther
}

func wantsJSON(c *gin.Context) bool {
	return strings.Contains(c.GetHeader("Accept"), "application/json")
}
