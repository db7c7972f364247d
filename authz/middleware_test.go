package authz

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/ecclesia-org/ecclesia/role"
	"github.com/ecclesia-org/ecclesia/session"
)

type recordingSaver struct {
	saved []*session.Session
}

func (r *recordingSaver) Save(_ context.Context, s *session.Session) error {
	r.saved = append(r.saved, s)
	return nil
}

func setupRouter(sess *session.Session, scopes Scoper, saver *recordingSaver) *gin.Engine {
	gin.SetMode(gin.TestMode)
	logger := &mockActivityLogger{}
	logger.On("Log", mock.Anything, mock.Anything, mock.Anything).Return()

	m := NewMiddleware(NewChecker(scopes, logger), saver)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		if sess != nil {
			session.SetContext(c, sess)
		}
		c.Next()
	})
	r.GET("/parishes/:id", m.RequirePermission(ActionView, ResourceParish, "id"), func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})
	r.POST("/members", m.RequirePermission(ActionCreate, ResourceUser, ""), func(c *gin.Context) {
		c.String(http.StatusCreated, "created")
	})
	// action derived from the method
	r.PUT("/parishes/:id", m.RequirePermission("", ResourceParish, "id"), func(c *gin.Context) {
		c.String(http.StatusOK, "updated")
	})
	r.DELETE("/parishes/:id", m.RequirePermission("", ResourceParish, "id"), func(c *gin.Context) {
		c.String(http.StatusNoContent, "")
	})
	return r
}

func TestRequirePermission(t *testing.T) {
	scopes := &mockScoper{}
	scopes.On("InScope", mock.Anything, mock.Anything, ResourceParish, int64(42)).Return(false, nil)
	scopes.On("InScope", mock.Anything, mock.Anything, ResourceParish, int64(43)).Return(true, nil)
	admin := func() *session.Session { return sess(role.DioceseAdmin, session.Scope{DioceseID: 7}) }

	tests := []struct {
		name         string
		sess         *session.Session
		method       string
		path         string
		accept       string
		wantStatus   int
		wantLocation string
	}{
		{"allowed", admin(), http.MethodGet, "/parishes/43", "", http.StatusOK, ""},
		{"out of scope redirects", admin(), http.MethodGet, "/parishes/42", "", http.StatusFound, "/access-denied"},
		{"out of scope json", admin(), http.MethodGet, "/parishes/42", "application/json", http.StatusForbidden, ""},
		{"anonymous redirects to login", nil, http.MethodGet, "/parishes/42?tab=members", "", http.StatusFound, "/login?return_to=%2Fparishes%2F42%3Ftab%3Dmembers"},
		{"anonymous json", nil, http.MethodGet, "/parishes/42", "application/json", http.StatusUnauthorized, ""},
		{"invalid id", admin(), http.MethodGet, "/parishes/abc", "", http.StatusBadRequest, ""},
		{"member cannot create users", sess(role.Member, session.Scope{}), http.MethodPost, "/members", "", http.StatusSeeOther, "/access-denied"},
		{"put implies update", admin(), http.MethodPut, "/parishes/43", "", http.StatusOK, ""},
		{"delete implies delete", admin(), http.MethodDelete, "/parishes/43", "application/json", http.StatusForbidden, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			saver := &recordingSaver{}
			r := setupRouter(tt.sess, scopes, saver)

			w := httptest.NewRecorder()
			req := httptest.NewRequest(tt.method, tt.path, nil)
			if tt.accept != "" {
				req.Header.Set("Accept", tt.accept)
			}
			r.ServeHTTP(w, req)

			assert.Equal(t, tt.wantStatus, w.Code)
			if tt.wantLocation != "" {
				assert.Equal(t, tt.wantLocation, w.Header().Get("Location"))
			}
			if tt.wantLocation == AccessDeniedPath {
				if assert.Len(t, saver.saved, 1) {
					assert.NotEmpty(t, saver.saved[0].Flash)
				}
			}
		})
	}
}

func TestLoginRedirect(t *testing.T) {
	assert.Equal(t, "/login", LoginRedirect(""))
	assert.Equal(t, "/login", LoginRedirect("/login"))
	assert.Equal(t, "/login?return_to=%2Fdashboard", LoginRedirect("/dashboard"))
}
