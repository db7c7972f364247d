package handlers

import (
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/ecclesia-org/ecclesia/audit"
	"github.com/ecclesia-org/ecclesia/authz"
	"github.com/ecclesia-org/ecclesia/db"
	"github.com/ecclesia-org/ecclesia/internal/logging"
	"github.com/ecclesia-org/ecclesia/ratelimit"
	"github.com/ecclesia-org/ecclesia/services"
	"github.com/ecclesia-org/ecclesia/session"
)

const DashboardPath = "/dashboard"

type AuthHandler struct {
	Users   Authenticator
	Guard   *session.Guard
	CSRF    *session.CSRF
	Limiter RateLimiter
	Audit   ActivityLogger
	Policy  LimitPolicy
}

func NewAuthHandler(users Authenticator, guard *session.Guard, csrf *session.CSRF, limiter RateLimiter, logger ActivityLogger, login LimitPolicy) *AuthHandler {
	return &AuthHandler{Users: users, Guard: guard, CSRF: csrf, Limiter: limiter, Audit: logger, Policy: login.withDefaults()}
}

// LoginPage hands out the CSRF token for the login form together with the
// reason the user was sent here
func (h *AuthHandler) LoginPage(c *gin.Context) {
	sess := session.FromContext(c)
	token, err := h.CSRF.GetOrCreate(c.Request.Context(), sess)
	if err != nil {
		logging.Error().Err(err).Msg("failed to issue csrf token")
		internalError(c)
		return
	}

	expired := c.Query("expired") == "1"
	inactive := c.Query("inactive") == "1"
	message := ""
	switch {
	case inactive:
		message = "You were logged out after a period of inactivity."
	case expired:
		message = "Your session has expired. Please log in again."
	}

	c.JSON(http.StatusOK, gin.H{
		"csrf_token": token,
		"expired":    expired,
		"inactive":   inactive,
		"message":    message,
		"return_to":  safeReturnTo(c.Query("return_to")),
	})
}

// Login authenticates the user and binds the session to them
func (h *AuthHandler) Login(c *gin.Context) {
	var req db.LoginRequest
	if err := c.ShouldBind(&req); err != nil {
		badRequest(c, "Email and password are required")
		return
	}
	ctx := c.Request.Context()
	sess := session.FromContext(c)
	email := strings.ToLower(strings.TrimSpace(req.Email))
	ip := c.ClientIP()

	ipKey := ratelimit.Key("login", "ip", ip)
	emailKey := ratelimit.Key("login", "email", email)
	if !h.Limiter.Check(ctx, ipKey, h.Policy.MaxAttempts, h.Policy.Window) ||
		!h.Limiter.Check(ctx, emailKey, h.Policy.MaxAttempts, h.Policy.Window) {
		h.Audit.Log(ctx, sess, audit.Entry{
			Action:  audit.RateLimited,
			Details: map[string]any{"action": "login", "email": email},
		})
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"error":   "rate_limited",
			"message": "Too many login attempts. Please try again later.",
		})
		return
	}

	user, err := h.Users.Authenticate(ctx, email, req.Password)
	switch {
	case errors.Is(err, services.ErrInvalidCredentials):
		h.Audit.Log(ctx, sess, audit.Entry{
			Action:  audit.LoginFailed,
			Details: map[string]any{"email": email, "reason": "invalid_credentials"},
		})
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
			"error":   "invalid_credentials",
			"message": "Invalid email or password",
		})
		return
	case errors.Is(err, services.ErrAccountInactive):
		h.Audit.Log(ctx, sess, audit.Entry{
			Action:   audit.LoginFailed,
			Table:    "users",
			RecordID: user.ID,
			Details:  map[string]any{"email": email, "reason": "inactive", "status": user.Status},
		})
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
			"error":   "account_inactive",
			"message": "Your account is not active yet.",
		})
		return
	case err != nil:
		logging.Error().Err(err).Msg("login lookup failed")
		internalError(c)
		return
	}

	sess.SetIdentity(user.Identity())
	sess.CSRFToken = ""
	if err := h.Guard.Regenerate(ctx, c.Writer, c.Request, sess); err != nil {
		logging.Error().Err(err).Int64("user_id", user.ID).Msg("failed to regenerate session on login")
		internalError(c)
		return
	}
	token, err := h.CSRF.GetOrCreate(ctx, sess)
	if err != nil {
		logging.Error().Err(err).Msg("failed to issue csrf token")
		internalError(c)
		return
	}
	if err := h.Limiter.Reset(ctx, emailKey); err != nil {
		logging.Warn().Err(err).Msg("failed to reset login rate limit")
	}

	h.Audit.Log(ctx, sess, audit.Entry{
		Action:   audit.LoginSuccess,
		Table:    "users",
		RecordID: user.ID,
	})
	logging.Info().Int64("user_id", user.ID).Str("role", string(user.Role)).Msg("login")

	target := safeReturnTo(req.ReturnTo)
	if target == "" {
		target = DashboardPath
	}
	redirectOrJSON(c, target, gin.H{
		"redirect":   target,
		"csrf_token": token,
		"user":       user,
	})
}

// Logout destroys the session
func (h *AuthHandler) Logout(c *gin.Context) {
	sess := session.FromContext(c)
	if sess.LoggedIn() {
		h.Audit.Log(c.Request.Context(), sess, audit.Entry{Action: audit.Logout})
	}
	h.Guard.Destroy(c.Request.Context(), c.Writer, c.Request, sess, session.ReasonLogout)
	redirectOrJSON(c, authz.LoginPath, gin.H{"redirect": authz.LoginPath})
}

// ActivatePage hands out the CSRF token for the activation form
func (h *AuthHandler) ActivatePage(c *gin.Context) {
	token, err := h.CSRF.GetOrCreate(c.Request.Context(), session.FromContext(c))
	if err != nil {
		logging.Error().Err(err).Msg("failed to issue csrf token")
		internalError(c)
		return
	}
	c.JSON(http.StatusOK, gin.H{"csrf_token": token, "token": c.Query("token")})
}

// AccessDenied shows the reason flashed by the authorization middleware
func (h *AuthHandler) AccessDenied(c *gin.Context) {
	sess := session.FromContext(c)
	message := "You do not have permission to access this page."
	if sess != nil {
		if flash := sess.TakeFlash(); flash != "" {
			message = flash
			if err := h.Guard.Save(c.Request.Context(), sess); err != nil {
				logging.Warn().Err(err).Msg("failed to clear flash")
			}
		}
	}
	c.JSON(http.StatusForbidden, gin.H{
		"error":   "forbidden",
		"message": message,
	})
}

// safeReturnTo returns raw if it is a same-origin path, otherwise ""
func safeReturnTo(raw string) string {
	if raw == "" || !strings.HasPrefix(raw, "/") || strings.HasPrefix(raw, "//") || strings.Contains(raw, `\`) {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme != "" || u.Host != "" || u.User != nil {
		return ""
	}
	if u.Path == authz.LoginPath {
		return ""
	}
	return u.RequestURI()
}
