package router

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ecclesia-org/ecclesia/internal/config"
)

func newTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	pg, _, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = pg.Close() })

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	prev := config.App
	config.App = config.Config{
		Environment: config.EnvDevelopment,
		Session: config.SessionConfig{
			AbsoluteTimeout: 30 * time.Minute,
			IdleTimeout:     15 * time.Minute,
			CookieName:      "ecclesia_session",
			CookieMode:      "auto",
		},
	}
	t.Cleanup(func() { config.App = prev })

	r, err := NewGinRouter(pg, rdb)
	require.NoError(t, err)
	return r
}

func TestRoutes(t *testing.T) {
	r := newTestRouter(t)

	tests := []struct {
		name         string
		method       string
		path         string
		wantStatus   int
		wantLocation string
	}{
		{"health", http.MethodGet, "/health", http.StatusOK, ""},
		{"metrics", http.MethodGet, "/metrics", http.StatusOK, ""},
		{"login page", http.MethodGet, "/login", http.StatusOK, ""},
		{"dashboard needs login", http.MethodGet, "/dashboard", http.StatusFound, "/login?return_to=%2Fdashboard"},
		{"members need login", http.MethodGet, "/members/4", http.StatusFound, "/login?return_to=%2Fmembers%2F4"},
		{"approvals need login", http.MethodGet, "/admin/approvals", http.StatusFound, "/login?return_to=%2Fadmin%2Fapprovals"},
		{"activity needs login", http.MethodGet, "/admin/activity", http.StatusFound, "/login?return_to=%2Fadmin%2Factivity"},
		{"public post without csrf token", http.MethodPost, "/logout", http.StatusForbidden, ""},
		{"protected post checks login first", http.MethodPost, "/admin/impersonate/stop", http.StatusSeeOther, "/login?return_to=%2Fadmin%2Fimpersonate%2Fstop"},
		{"unknown route", http.MethodGet, "/nope", http.StatusNotFound, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			r.ServeHTTP(w, httptest.NewRequest(tt.method, tt.path, nil))
			assert.Equal(t, tt.wantStatus, w.Code)
			if tt.wantLocation != "" {
				assert.Equal(t, tt.wantLocation, w.Header().Get("Location"))
			}
		})
	}
}

func TestLoginPageSetsSessionCookie(t *testing.T) {
	r := newTestRouter(t)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/login", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.NotEmpty(t, body["csrf_token"])

	var found bool
	for _, c := range w.Result().Cookies() {
		if c.Name == "ecclesia_session" {
			found = true
			assert.True(t, c.HttpOnly)
		}
	}
	assert.True(t, found)
}
