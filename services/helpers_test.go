package services

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/ecclesia-org/ecclesia/audit"
	"github.com/ecclesia-org/ecclesia/db"
	"github.com/ecclesia-org/ecclesia/session"
)

func newMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	pg, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { pg.Close() })
	return pg, mock
}

var userColumnNames = []string{
	"id", "email", "password_hash", "first_name", "last_name", "date_of_birth",
	"role_level", "status",
	"province_id", "diocese_id", "archdeaconry_id", "deanery_id", "parish_id",
	"created_at", "updated_at", "parish_name",
}

var created = time.Date(2025, 1, 10, 9, 0, 0, 0, time.UTC)

func userRows(users ...db.User) *sqlmock.Rows {
	rows := sqlmock.NewRows(userColumnNames)
	for _, u := range users {
		var dob any
		if u.DateOfBirth != nil {
			dob = *u.DateOfBirth
		}
		rows.AddRow(u.ID, u.Email, u.PasswordHash, u.FirstName, u.LastName, dob,
			string(u.Role), u.Status,
			u.ProvinceID, u.DioceseID, u.ArchdeaconryID, u.DeaneryID, u.ParishID,
			created, created, u.ParishName)
	}
	return rows
}

type recordingLogger struct {
	entries []audit.Entry
	actors  []*session.Session
}

func (r *recordingLogger) Log(_ context.Context, actor *session.Session, e audit.Entry) {
	r.entries = append(r.entries, e)
	r.actors = append(r.actors, actor)
}

func (r *recordingLogger) actions() []audit.Action {
	out := make([]audit.Action, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.Action)
	}
	return out
}

type sentMessage struct {
	to, subject, body string
}

type recordingNotifier struct {
	sent []sentMessage
	err  error
}

func (r *recordingNotifier) Notify(_ context.Context, to, subject, body string) error {
	r.sent = append(r.sent, sentMessage{to, subject, body})
	return r.err
}
