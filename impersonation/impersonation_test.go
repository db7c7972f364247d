package impersonation

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/ecclesia-org/ecclesia/audit"
	"github.com/ecclesia-org/ecclesia/role"
	"github.com/ecclesia-org/ecclesia/session"
)

type mockUsers struct{ mock.Mock }

func (m *mockUsers) Identity(ctx context.Context, userID int64) (session.Identity, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).(session.Identity), args.Error(1)
}

type mockSaver struct{ mock.Mock }

func (m *mockSaver) Save(ctx context.Context, sess *session.Session) error {
	return m.Called(ctx, sess).Error(0)
}

type recordingLogger struct {
	entries []audit.Entry
	actors  []session.Session
}

func (r *recordingLogger) Log(_ context.Context, actor *session.Session, e audit.Entry) {
	r.entries = append(r.entries, e)
	r.actors = append(r.actors, *actor)
}

func superAdmin() *session.Session {
	return &session.Session{
		ID:     "sid",
		UserID: 1,
		Role:   role.SuperAdmin,
	}
}

var member = session.Identity{
	UserID: 55,
	Role:   role.Member,
	Scope:  session.Scope{DioceseID: 7, ArchdeaconryID: 70, DeaneryID: 700, ParishID: 42},
}

func newManager() (*Manager, *mockUsers, *mockSaver, *recordingLogger) {
	users := &mockUsers{}
	saver := &mockSaver{}
	logger := &recordingLogger{}
	return NewManager(users, saver, logger), users, saver, logger
}

func TestManager_RoundTrip(t *testing.T) {
	m, users, saver, logger := newManager()
	users.On("Identity", mock.Anything, int64(55)).Return(member, nil)
	saver.On("Save", mock.Anything, mock.Anything).Return(nil)
	ctx := context.Background()

	sess := superAdmin()
	require.NoError(t, m.Start(ctx, sess, 55))

	assert.True(t, sess.Impersonating)
	assert.Equal(t, int64(55), sess.UserID)
	assert.Equal(t, role.Member, sess.Role)
	assert.Equal(t, int64(42), sess.Scope.ParishID)
	assert.Equal(t, int64(1), sess.OriginalUserID)
	assert.Equal(t, role.SuperAdmin, sess.OriginalRole)

	stopped, err := m.Stop(ctx, sess)
	require.NoError(t, err)
	assert.True(t, stopped)

	assert.Equal(t, int64(1), sess.UserID)
	assert.Equal(t, role.SuperAdmin, sess.Role)
	assert.Equal(t, session.Scope{}, sess.Scope)
	assert.False(t, sess.Impersonating)
	assert.Zero(t, sess.OriginalUserID)
	assert.Empty(t, sess.OriginalRole)

	require.Len(t, logger.entries, 2)
	assert.Equal(t, audit.ImpersonateStart, logger.entries[0].Action)
	assert.Equal(t, int64(55), logger.entries[0].RecordID)
	assert.True(t, logger.actors[0].Impersonating, "start is logged after the switch")
	assert.Equal(t, audit.ImpersonateEnd, logger.entries[1].Action)
	assert.Equal(t, int64(55), logger.entries[1].RecordID)
	assert.Equal(t, int64(1), logger.actors[1].UserID)

	saver.AssertNumberOfCalls(t, "Save", 2)
}

func TestManager_StartDenied(t *testing.T) {
	for _, r := range []role.Role{role.NationalAdmin, role.DioceseAdmin, role.ParishAdmin, role.Member} {
		t.Run(string(r), func(t *testing.T) {
			m, users, _, logger := newManager()
			sess := &session.Session{ID: "sid", UserID: 2, Role: r}

			err := m.Start(context.Background(), sess, 55)
			assert.ErrorIs(t, err, ErrPermissionDenied)
			assert.Equal(t, int64(2), sess.UserID)
			assert.False(t, sess.Impersonating)
			users.AssertNotCalled(t, "Identity", mock.Anything, mock.Anything)
			assert.Empty(t, logger.entries)
		})
	}

	m, _, _, _ := newManager()
	assert.ErrorIs(t, m.Start(context.Background(), nil, 55), ErrPermissionDenied)
}

func TestManager_StartTargetNotFound(t *testing.T) {
	m, users, _, logger := newManager()
	users.On("Identity", mock.Anything, int64(404)).Return(session.Identity{}, ErrNotFound)

	sess := superAdmin()
	err := m.Start(context.Background(), sess, 404)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.False(t, sess.Impersonating)
	assert.Equal(t, int64(1), sess.UserID)
	assert.Empty(t, logger.entries)
}

func TestManager_StartRejectsReentry(t *testing.T) {
	m, users, saver, _ := newManager()
	users.On("Identity", mock.Anything, int64(55)).Return(member, nil)
	saver.On("Save", mock.Anything, mock.Anything).Return(nil)
	ctx := context.Background()

	sess := superAdmin()
	require.NoError(t, m.Start(ctx, sess, 55))

	err := m.Start(ctx, sess, 56)
	assert.ErrorIs(t, err, ErrAlreadyImpersonating)
	assert.Equal(t, int64(1), sess.OriginalUserID)
}

func TestManager_StartSelf(t *testing.T) {
	m, _, _, _ := newManager()
	assert.ErrorIs(t, m.Start(context.Background(), superAdmin(), 1), ErrSelf)
}

func TestManager_StartSaveFailureRollsBack(t *testing.T) {
	m, users, saver, logger := newManager()
	users.On("Identity", mock.Anything, int64(55)).Return(member, nil)
	saver.On("Save", mock.Anything, mock.Anything).Return(errors.New("redis down"))

	sess := superAdmin()
	err := m.Start(context.Background(), sess, 55)
	assert.Error(t, err)
	assert.Equal(t, *superAdmin(), *sess)
	assert.Empty(t, logger.entries)
}

func TestManager_StopWithoutImpersonation(t *testing.T) {
	m, _, saver, logger := newManager()

	stopped, err := m.Stop(context.Background(), superAdmin())
	require.NoError(t, err)
	assert.False(t, stopped)
	saver.AssertNotCalled(t, "Save", mock.Anything, mock.Anything)
	assert.Empty(t, logger.entries)

	stopped, err = m.Stop(context.Background(), nil)
	require.NoError(t, err)
	assert.False(t, stopped)
}
