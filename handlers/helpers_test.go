package handlers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/require"

	"github.com/ecclesia-org/ecclesia/audit"
	"github.com/ecclesia-org/ecclesia/authz"
	"github.com/ecclesia-org/ecclesia/session"
)

type recordingLogger struct {
	mu      sync.Mutex
	entries []audit.Entry
}

func (l *recordingLogger) Log(_ context.Context, _ *session.Session, e audit.Entry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, e)
}

func (l *recordingLogger) actions() []audit.Action {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]audit.Action, 0, len(l.entries))
	for _, e := range l.entries {
		out = append(out, e.Action)
	}
	return out
}

type fakeLimiter struct {
	mu      sync.Mutex
	deny    map[string]bool
	checked []string
	reset   []string
}

func (f *fakeLimiter) Check(_ context.Context, identifier string, _ int, _ time.Duration) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.checked = append(f.checked, identifier)
	return !f.deny[identifier]
}

func (f *fakeLimiter) Reset(_ context.Context, identifier string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reset = append(f.reset, identifier)
	return nil
}

type allowScopes struct{}

func (allowScopes) InScope(context.Context, *session.Session, authz.ResourceType, int64) (bool, error) {
	return true, nil
}

type testClock struct{ t time.Time }

func (c *testClock) now() time.Time          { return c.t }
func (c *testClock) advance(d time.Duration) { c.t = c.t.Add(d) }

type testEnv struct {
	guard   *session.Guard
	csrf    *session.CSRF
	clock   *testClock
	logger  *recordingLogger
	limiter *fakeLimiter
	authz   *authz.Middleware
	mw      *SessionMiddleware
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	clock := &testClock{t: time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)}
	guard := session.NewGuard(session.NewRedisStore(rdb), session.Config{
		AbsoluteTimeout: 1800 * time.Second,
		IdleTimeout:     900 * time.Second,
		Cookie:          session.CookiePolicy{Name: "sid", Mode: session.CookieAuto, DevHosts: []string{"example.com"}},
	}, session.WithClock(clock.now))
	csrf := session.NewCSRF(guard)
	logger := &recordingLogger{}

	return &testEnv{
		guard:   guard,
		csrf:    csrf,
		clock:   clock,
		logger:  logger,
		limiter: &fakeLimiter{deny: map[string]bool{}},
		authz:   authz.NewMiddleware(authz.NewChecker(allowScopes{}, logger), guard),
		mw:      NewSessionMiddleware(guard, csrf, logger),
	}
}

// engine wires the session and CSRF middleware the way the router does and
// lets the test register routes on the public and the logged in group.
// No proxy is trusted, so the TCP peer is always the client.
func (e *testEnv) engine(register func(web, protected *gin.RouterGroup)) *gin.Engine {
	r := gin.New()
	if err := r.SetTrustedProxies(nil); err != nil {
		panic(err)
	}
	root := r.Group("/")
	root.Use(session.Middleware(e.guard))
	web := root.Group("/")
	web.Use(e.mw.RequireCSRF())
	protected := root.Group("/")
	protected.Use(e.mw.RequireLogin(), e.mw.RequireCSRF())
	register(web, protected)
	return r
}

// login stores a logged in session and returns its cookie and CSRF token
func (e *testEnv) login(t *testing.T, id session.Identity) (*http.Cookie, string) {
	t.Helper()
	ctx := context.Background()
	w := httptest.NewRecorder()
	sess, err := e.guard.Start(ctx, w, httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, err)
	sess.SetIdentity(id)
	token, err := e.csrf.GetOrCreate(ctx, sess)
	require.NoError(t, err)
	return sessionCookie(t, w), token
}

func sessionCookie(t *testing.T, w *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, c := range w.Result().Cookies() {
		if c.Name == "sid" && c.Value != "" {
			return c
		}
	}
	t.Fatal("no session cookie set")
	return nil
}

type reqOpts struct {
	cookie *http.Cookie
	csrf   string
	body   string
	json   bool
}

func do(r http.Handler, method, path string, o reqOpts) *httptest.ResponseRecorder {
	var body io.Reader
	if o.body != "" {
		body = strings.NewReader(o.body)
	}
	req := httptest.NewRequest(method, path, body)
	if o.body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if o.json {
		req.Header.Set("Accept", "application/json")
	}
	if o.cookie != nil {
		req.AddCookie(o.cookie)
	}
	if o.csrf != "" {
		req.Header.Set(session.CSRFHeader, o.csrf)
	}
	return serve(r, req)
}

func serve(r http.Handler, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

// withSession injects sess directly, for handlers that do not touch the guard
func withSession(sess *session.Session) gin.HandlerFunc {
	return func(c *gin.Context) {
		session.SetContext(c, sess)
		c.Next()
	}
}
