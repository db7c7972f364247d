package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ecclesia-org/ecclesia/authz"
	"github.com/ecclesia-org/ecclesia/impersonation"
	"github.com/ecclesia-org/ecclesia/internal/logging"
	"github.com/ecclesia-org/ecclesia/session"
)

type ImpersonationHandler struct {
	Manager Impersonator
	Authz   *authz.Middleware
}

func NewImpersonationHandler(manager Impersonator, mw *authz.Middleware) *ImpersonationHandler {
	return &ImpersonationHandler{Manager: manager, Authz: mw}
}

// Start switches the caller's session to the user in the path
func (h *ImpersonationHandler) Start(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	sess := session.FromContext(c)
	ctx := c.Request.Context()

	err := h.Manager.Start(ctx, sess, id)
	switch {
	case err == nil:
		redirectOrJSON(c, DashboardPath, gin.H{
			"impersonating":    true,
			"user_id":          sess.UserID,
			"role":             sess.Role,
			"original_user_id": sess.OriginalUserID,
		})
	case errors.Is(err, impersonation.ErrPermissionDenied):
		h.Authz.Checker.RecordDenial(ctx, sess, authz.ActionImpersonate, authz.ResourceUser, id, c.Request.URL.Path, nil)
		h.Authz.Deny(c, sess, &authz.DeniedError{Reason: "Only a super administrator can impersonate users."})
	case errors.Is(err, impersonation.ErrAlreadyImpersonating):
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{
			"error":   "already_impersonating",
			"message": "Stop the current impersonation first.",
		})
	case errors.Is(err, impersonation.ErrSelf):
		badRequest(c, "You cannot impersonate yourself")
	case errors.Is(err, impersonation.ErrNotFound):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "User not found"})
	default:
		logging.Error().Err(err).Int64("target_user_id", id).Msg("impersonation start failed")
		internalError(c)
	}
}

// Stop restores the caller's own identity
func (h *ImpersonationHandler) Stop(c *gin.Context) {
	sess := session.FromContext(c)
	stopped, err := h.Manager.Stop(c.Request.Context(), sess)
	if err != nil {
		logging.Error().Err(err).Msg("impersonation stop failed")
		internalError(c)
		return
	}
	if !stopped {
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{
			"error":   "not_impersonating",
			"message": "You are not impersonating anyone.",
		})
		return
	}
	redirectOrJSON(c, DashboardPath, gin.H{
		"impersonating": false,
		"user_id":       sess.UserID,
		"role":          sess.Role,
	})
}
