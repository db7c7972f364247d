package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/ecclesia-org/ecclesia/audit"
	"github.com/ecclesia-org/ecclesia/authz"
	"github.com/ecclesia-org/ecclesia/db"
	"github.com/ecclesia-org/ecclesia/internal/logging"
	"github.com/ecclesia-org/ecclesia/ratelimit"
	"github.com/ecclesia-org/ecclesia/services"
	"github.com/ecclesia-org/ecclesia/session"
)

type AccountHandler struct {
	Passwords  PasswordStore
	Activation AccountActivator
	Authz      *authz.Middleware
	Limiter    RateLimiter
	Audit      ActivityLogger
	Policy     LimitPolicy
}

func NewAccountHandler(passwords PasswordStore, activation AccountActivator, mw *authz.Middleware, limiter RateLimiter, logger ActivityLogger, policy LimitPolicy) *AccountHandler {
	return &AccountHandler{
		Passwords:  passwords,
		Activation: activation,
		Authz:      mw,
		Limiter:    limiter,
		Audit:      logger,
		Policy:     policy.withDefaults(),
	}
}

// ChangePassword replaces the caller's own password. It is refused while
// impersonating.
func (h *AccountHandler) ChangePassword(c *gin.Context) {
	sess := session.FromContext(c)
	ctx := c.Request.Context()

	if err := h.Authz.Checker.Require(ctx, sess, authz.ActionChangePassword, authz.ResourceUser, sess.UserID, c.Request.URL.Path); err != nil {
		h.Authz.Deny(c, sess, err)
		return
	}

	var req db.ChangePasswordRequest
	if err := c.ShouldBind(&req); err != nil {
		badRequest(c, "Current password and a new password of at least 8 characters are required")
		return
	}

	key := ratelimit.Key("password", "user", strconv.FormatInt(sess.UserID, 10))
	if !h.Limiter.Check(ctx, key, h.Policy.MaxAttempts, h.Policy.Window) {
		h.Audit.Log(ctx, sess, audit.Entry{Action: audit.RateLimited, Details: map[string]any{"action": "change_password"}})
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"error":   "rate_limited",
			"message": "Too many attempts. Please try again later.",
		})
		return
	}

	ok, err := h.Passwords.CheckPassword(ctx, sess.UserID, req.CurrentPassword)
	if err != nil {
		logging.Error().Err(err).Int64("user_id", sess.UserID).Msg("password check failed")
		internalError(c)
		return
	}
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
			"error":   "invalid_credentials",
			"message": "Current password is incorrect",
		})
		return
	}

	if err := h.Passwords.UpdatePassword(ctx, sess.UserID, req.NewPassword); err != nil {
		logging.Error().Err(err).Int64("user_id", sess.UserID).Msg("password update failed")
		internalError(c)
		return
	}
	if err := h.Limiter.Reset(ctx, key); err != nil {
		logging.Warn().Err(err).Msg("failed to reset password rate limit")
	}
	h.Audit.Log(ctx, sess, audit.Entry{Action: audit.PasswordChanged, Table: "users", RecordID: sess.UserID})
	c.JSON(http.StatusOK, gin.H{"message": "Password changed"})
}

// Activate redeems an activation link sent to a member who came of age
func (h *AccountHandler) Activate(c *gin.Context) {
	var req db.ActivateRequest
	if err := c.ShouldBind(&req); err != nil {
		badRequest(c, "Token and a password of at least 8 characters are required")
		return
	}
	ctx := c.Request.Context()

	key := ratelimit.Key("activate", "ip", c.ClientIP())
	if !h.Limiter.Check(ctx, key, h.Policy.MaxAttempts, h.Policy.Window) {
		h.Audit.Log(ctx, session.FromContext(c), audit.Entry{Action: audit.RateLimited, Details: map[string]any{"action": "activate"}})
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"error":   "rate_limited",
			"message": "Too many attempts. Please try again later.",
		})
		return
	}

	userID, err := h.Activation.Activate(ctx, req.Token, req.Password)
	switch {
	case errors.Is(err, services.ErrInvalidActivationToken), errors.Is(err, services.ErrActivationDisabled):
		badRequest(c, "This activation link is invalid or has expired")
		return
	case err != nil:
		logging.Error().Err(err).Msg("account activation failed")
		internalError(c)
		return
	}
	logging.Info().Int64("user_id", userID).Msg("account activated")
	redirectOrJSON(c, authz.LoginPath, gin.H{"message": "Account activated. You can now log in.", "redirect": authz.LoginPath})
}
