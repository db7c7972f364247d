package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/ecclesia-org/ecclesia/internal/logging"
	"github.com/ecclesia-org/ecclesia/internal/metrics"
)

// Event names reported to the Auditor
const (
	EventDestroyed = "SESSION_DESTROYED"
	EventIPChanged = "SESSION_IP_CHANGED"
)

// Destroy reasons
const (
	ReasonLogout          = "logout"
	ReasonUserAgentChange = "user_agent_mismatch"
	ReasonAbsoluteTimeout = "absolute_timeout"
	ReasonIdleTimeout     = "idle_timeout"
)

// Auditor receives security events about sessions. Failures are the
// auditor's own concern and never reach the guard.
type Auditor interface {
	LogSessionEvent(ctx context.Context, s *Session, action string, details map[string]any)
}

// Config holds the guard timeouts and cookie policy
type Config struct {
	AbsoluteTimeout time.Duration
	IdleTimeout     time.Duration
	Cookie          CookiePolicy
	Proxies         TrustedProxies
}

// Guard creates, validates and destroys sessions
type Guard struct {
	store   Store
	cfg     Config
	auditor Auditor
	now     func() time.Time
}

// Option configures a Guard
type Option func(*Guard)

// WithAuditor reports destroy and IP change events to a
func WithAuditor(a Auditor) Option {
	return func(g *Guard) { g.auditor = a }
}

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(g *Guard) { g.now = now }
}

// NewGuard creates a guard over store
func NewGuard(store Store, cfg Config, opts ...Option) *Guard {
	if cfg.AbsoluteTimeout <= 0 {
		cfg.AbsoluteTimeout = 1800 * time.Second
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 900 * time.Second
	}
	if cfg.Cookie.Name == "" {
		cfg.Cookie.Name = "ecclesia_session"
	}
	if cfg.Cookie.Mode == "" {
		cfg.Cookie.Mode = CookieAuto
	}
	g := &Guard{store: store, cfg: cfg, now: time.Now}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// CookieName returns the name of the session cookie
func (g *Guard) CookieName() string {
	return g.cfg.Cookie.Name
}

// Start returns the session for r, creating a fresh one when the client has
// none. Client-supplied ids are never adopted: an unknown id gets a new
// server-generated one. Calling Start again within the same request returns
// the same session.
func (g *Guard) Start(ctx context.Context, w http.ResponseWriter, r *http.Request) (*Session, error) {
	if c, err := r.Cookie(g.cfg.Cookie.Name); err == nil && c.Value != "" {
		sess, err := g.store.Load(ctx, c.Value)
		if err == nil {
			return sess, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
	}

	id, err := newID()
	if err != nil {
		return nil, err
	}
	now := g.now()
	sess := &Session{
		ID:           id,
		CreatedAt:    now,
		LastActivity: now,
		UserAgent:    r.UserAgent(),
		IP:           g.ClientIP(r),
	}
	if err := g.Save(ctx, sess); err != nil {
		return nil, err
	}
	metrics.SessionEvents.WithLabelValues("created").Inc()
	g.writeCookie(w, r, sess.ID)
	return sess, nil
}

// Regenerate moves sess to a new id and rebinds it to the current client.
// Called on login so a pre-login id can never be reused afterwards.
func (g *Guard) Regenerate(ctx context.Context, w http.ResponseWriter, r *http.Request, sess *Session) error {
	id, err := newID()
	if err != nil {
		return err
	}
	if err := g.store.Delete(ctx, sess.ID); err != nil {
		logging.Warn().Err(err).Msg("failed to delete previous session id")
	}
	now := g.now()
	sess.ID = id
	sess.CreatedAt = now
	sess.LastActivity = now
	sess.UserAgent = r.UserAgent()
	sess.IP = g.ClientIP(r)
	if err := g.Save(ctx, sess); err != nil {
		return err
	}
	metrics.SessionEvents.WithLabelValues("regenerated").Inc()
	g.writeCookie(w, r, sess.ID)
	return nil
}

// Save persists sess until its absolute lifetime ends
func (g *Guard) Save(ctx context.Context, sess *Session) error {
	ttl := g.cfg.AbsoluteTimeout - g.now().Sub(sess.CreatedAt)
	if ttl < time.Second {
		ttl = time.Second
	}
	return g.store.Save(ctx, sess, ttl)
}

// Validate checks sess against the current request. A changed user agent or
// an exceeded timeout destroys the session. A changed IP is only reported.
// On success the activity timestamp is refreshed.
func (g *Guard) Validate(ctx context.Context, w http.ResponseWriter, r *http.Request, sess *Session) error {
	if sess == nil {
		return ErrSessionInvalid
	}

	if sess.UserAgent != r.UserAgent() {
		logging.Warn().
			Int64("user_id", sess.UserID).
			Str("bound_user_agent", sess.UserAgent).
			Str("user_agent", r.UserAgent()).
			Msg("session user agent changed, possible hijack")
		g.Destroy(ctx, w, r, sess, ReasonUserAgentChange)
		return ErrSessionHijackSuspected
	}

	if ip := g.ClientIP(r); ip != sess.IP {
		logging.Info().
			Int64("user_id", sess.UserID).
			Str("previous_ip", sess.IP).
			Str("ip", ip).
			Msg("session ip changed")
		metrics.SessionEvents.WithLabelValues("ip_changed").Inc()
		if g.auditor != nil && sess.LoggedIn() {
			g.auditor.LogSessionEvent(ctx, sess, EventIPChanged, map[string]any{
				"previous_ip": sess.IP,
				"ip":          ip,
			})
		}
		sess.IP = ip
	}

	now := g.now()
	if now.Sub(sess.CreatedAt) > g.cfg.AbsoluteTimeout {
		g.Destroy(ctx, w, r, sess, ReasonAbsoluteTimeout)
		return ErrSessionExpired
	}
	if now.Sub(sess.LastActivity) > g.cfg.IdleTimeout {
		g.Destroy(ctx, w, r, sess, ReasonIdleTimeout)
		return ErrSessionIdle
	}

	sess.LastActivity = now
	if err := g.Save(ctx, sess); err != nil {
		return fmt.Errorf("refresh session: %w", err)
	}
	return nil
}

// Destroy removes sess from the store, expires the cookie and wipes the
// in-memory state. If a user was logged in the reason is audited first.
func (g *Guard) Destroy(ctx context.Context, w http.ResponseWriter, r *http.Request, sess *Session, reason string) {
	if sess == nil {
		return
	}
	metrics.SessionEvents.WithLabelValues(reason).Inc()
	if sess.LoggedIn() && g.auditor != nil {
		g.auditor.LogSessionEvent(ctx, sess, EventDestroyed, map[string]any{"reason": reason})
	}
	if err := g.store.Delete(ctx, sess.ID); err != nil {
		logging.Error().Err(err).Str("reason", reason).Msg("failed to delete session")
	}
	http.SetCookie(w, g.cfg.Cookie.Cookie(r, "", -1))
	sess.clear()
}

func (g *Guard) writeCookie(w http.ResponseWriter, r *http.Request, id string) {
	http.SetCookie(w, g.cfg.Cookie.Cookie(r, id, 0))
	setRequestCookie(r, g.cfg.Cookie.Name, id)
}

// newID returns 256 bits of randomness, hex encoded
func newID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate session id: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// ClientIP returns the client address of r as seen through the trusted
// proxies
func (g *Guard) ClientIP(r *http.Request) string {
	return g.cfg.Proxies.ClientIP(r)
}
