package handlers

import (
	"context"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/ecclesia-org/ecclesia/audit"
	"github.com/ecclesia-org/ecclesia/authz"
	"github.com/ecclesia-org/ecclesia/role"
	"github.com/ecclesia-org/ecclesia/session"
)

type mockFeed struct {
	mock.Mock
}

func (m *mockFeed) Recent(ctx context.Context, limit int) ([]audit.Record, error) {
	args := m.Called(ctx, limit)
	return args.Get(0).([]audit.Record), args.Error(1)
}

func activityRouter(env *testEnv, sess *session.Session, feed ActivityFeed) *gin.Engine {
	h := NewActivityHandler(feed)
	r := gin.New()
	r.Use(withSession(sess))
	r.GET("/admin/activity", env.authz.RequirePermission(authz.ActionView, authz.ResourceActivityLog, ""), h.Recent)
	return r
}

func TestActivityRecent(t *testing.T) {
	t.Run("national admin", func(t *testing.T) {
		env := newTestEnv(t)
		feed := &mockFeed{}
		feed.On("Recent", mock.Anything, 20).Return([]audit.Record{{ID: 3, Action: audit.LoginSuccess}}, nil)

		sess := &session.Session{UserID: 2, Role: role.NationalAdmin}
		w := do(activityRouter(env, sess, feed), http.MethodGet, "/admin/activity?limit=20", reqOpts{json: true})
		require.Equal(t, http.StatusOK, w.Code)
		assert.EqualValues(t, 1, decode(t, w)["total"])
		assert.Empty(t, env.logger.actions())
	})

	t.Run("scoped admin is denied", func(t *testing.T) {
		env := newTestEnv(t)
		feed := &mockFeed{}

		sess := &session.Session{UserID: 4, Role: role.DioceseAdmin, Scope: session.Scope{DioceseID: 3}}
		w := do(activityRouter(env, sess, feed), http.MethodGet, "/admin/activity", reqOpts{json: true})
		assert.Equal(t, http.StatusForbidden, w.Code)
		assert.Equal(t, []audit.Action{audit.UnauthorizedAccessAttempt}, env.logger.actions())
		assert.Equal(t, "You do not have permission to view this activity log.", decode(t, w)["message"])
		require.NotNil(t, env.logger.entries[0].Denial)
		assert.Equal(t, "activity_log", env.logger.entries[0].Denial.Resource)
		feed.AssertNotCalled(t, "Recent", mock.Anything, mock.Anything)
	})
}
