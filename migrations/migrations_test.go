package migrations

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNames(t *testing.T) {
	names, err := Names()
	require.NoError(t, err)
	require.NotEmpty(t, names)
	assert.Equal(t, "0001_access_control.sql", names[0])
}

func TestApply(t *testing.T) {
	t.Run("applies pending migration", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectExec("CREATE TABLE IF NOT EXISTS schema_migrations").
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery("SELECT EXISTS").
			WithArgs("0001_access_control.sql").
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
		mock.ExpectBegin()
		mock.ExpectExec("CREATE TABLE IF NOT EXISTS provinces").
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectExec("INSERT INTO schema_migrations").
			WithArgs("0001_access_control.sql").
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectCommit()

		n, err := Apply(context.Background(), db)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("skips applied migration", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectExec("CREATE TABLE IF NOT EXISTS schema_migrations").
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery("SELECT EXISTS").
			WithArgs("0001_access_control.sql").
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

		n, err := Apply(context.Background(), db)
		require.NoError(t, err)
		assert.Equal(t, 0, n)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rolls back on failure", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectExec("CREATE TABLE IF NOT EXISTS schema_migrations").
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery("SELECT EXISTS").
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
		mock.ExpectBegin()
		mock.ExpectExec("CREATE TABLE IF NOT EXISTS provinces").
			WillReturnError(errors.New("syntax error"))
		mock.ExpectRollback()

		_, err = Apply(context.Background(), db)
		assert.Error(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
