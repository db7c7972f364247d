package router

import (
	"database/sql"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"

	"github.com/ecclesia-org/ecclesia/audit"
	"github.com/ecclesia-org/ecclesia/authz"
	"github.com/ecclesia-org/ecclesia/handlers"
	"github.com/ecclesia-org/ecclesia/impersonation"
	"github.com/ecclesia-org/ecclesia/internal/config"
	"github.com/ecclesia-org/ecclesia/internal/logging"
	"github.com/ecclesia-org/ecclesia/internal/metrics"
	"github.com/ecclesia-org/ecclesia/ratelimit"
	"github.com/ecclesia-org/ecclesia/services"
	"github.com/ecclesia-org/ecclesia/session"
)

func NewGinRouter(pg *sql.DB, rdb *redis.Client) (*gin.Engine, error) {
	if config.App.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	cfg := config.App

	r := gin.New()
	if err := r.SetTrustedProxies(cfg.TrustedProxies); err != nil {
		return nil, fmt.Errorf("trusted proxies: %w", err)
	}
	proxies, err := session.ParseTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		return nil, err
	}
	r.Use(gin.Recovery(), logging.GinMiddleware())

	// Core access control
	activity := audit.NewLogger(pg)
	guard := session.NewGuard(session.NewRedisStore(rdb), session.Config{
		AbsoluteTimeout: cfg.Session.AbsoluteTimeout,
		IdleTimeout:     cfg.Session.IdleTimeout,
		Cookie: session.CookiePolicy{
			Name:     cfg.Session.CookieName,
			Mode:     session.CookieMode(cfg.Session.CookieMode),
			DevHosts: cfg.Session.DevHosts,
		},
		Proxies: proxies,
	}, session.WithAuditor(activity))
	csrf := session.NewCSRF(guard)
	limiter := ratelimit.New(pg)
	checker := authz.NewChecker(authz.NewScopeResolver(pg), activity)
	authzMiddleware := authz.NewMiddleware(checker, guard)
	sessionMiddleware := handlers.NewSessionMiddleware(guard, csrf, activity)

	// Services
	userService := services.NewUserService(pg)
	notifier := services.NewNotifier(cfg.SMTP)
	membershipService := services.NewMembershipService(pg, userService, checker, activity, notifier)
	activationService := services.NewActivationService(pg, activity, notifier, cfg.Activation.Secret, cfg.Activation.TokenTTL, cfg.PublicURL)
	impersonationManager := impersonation.NewManager(userService, guard, activity)

	// Handlers
	loginPolicy := handlers.LimitPolicy{MaxAttempts: cfg.RateLimit.LoginMaxAttempts, Window: cfg.RateLimit.LoginWindow}
	authHandler := handlers.NewAuthHandler(userService, guard, csrf, limiter, activity, loginPolicy)
	accountHandler := handlers.NewAccountHandler(userService, activationService, authzMiddleware, limiter, activity, loginPolicy)
	memberHandler := handlers.NewMemberHandler(userService, membershipService, authzMiddleware)
	impersonationHandler := handlers.NewImpersonationHandler(impersonationManager, authzMiddleware)
	activityHandler := handlers.NewActivityHandler(activity)

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "time": time.Now().UTC()})
	})
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	web := r.Group("/")
	web.Use(session.Middleware(guard))

	public := web.Group("/")
	public.Use(sessionMiddleware.RequireCSRF())
	{
		public.GET("/login", authHandler.LoginPage)
		public.POST("/login", authHandler.Login)
		public.POST("/logout", authHandler.Logout)
		public.GET("/activate", authHandler.ActivatePage)
		public.POST("/activate", accountHandler.Activate)
		public.GET(authz.AccessDeniedPath, authHandler.AccessDenied)
	}

	// session validation runs before the CSRF check
	protected := web.Group("/")
	protected.Use(sessionMiddleware.RequireLogin(), sessionMiddleware.RequireCSRF())
	{
		protected.GET(handlers.DashboardPath, memberHandler.Dashboard)

		members := protected.Group("/members")
		{
			members.GET("", authzMiddleware.RequirePermission(authz.ActionView, authz.ResourceUser, ""), memberHandler.ListMembers)
			members.GET("/:id", authzMiddleware.RequirePermission(authz.ActionView, authz.ResourceUser, "id"), memberHandler.GetMember)
			// permission and hierarchy checks happen in the membership service
			members.POST("/:id/status", memberHandler.ChangeStatus)
			members.POST("/:id/role", memberHandler.ChangeRole)
		}

		protected.POST("/account/password", accountHandler.ChangePassword)

		admin := protected.Group("/admin")
		{
			admin.GET("/approvals", authzMiddleware.RequirePermission(authz.ActionApprove, authz.ResourceUser, ""), memberHandler.PendingApprovals)
			admin.GET("/activity", authzMiddleware.RequirePermission(authz.ActionView, authz.ResourceActivityLog, ""), activityHandler.Recent)
			admin.POST("/impersonate/stop", impersonationHandler.Stop)
			admin.POST("/impersonate/:id", impersonationHandler.Start)
		}
	}

	return r, nil
}
