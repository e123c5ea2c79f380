package database

import (
	"errors"
	"regexp"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/onurcolak/unified-inbox/environments"
)

func newMockDB(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = mockDB.Close() })

	return sqlx.NewDb(mockDB, "sqlmock"), mock
}

func TestDSN(t *testing.T) {
	dsn := DSN(environments.DatabaseConfig{
		Host: "db", Port: "3306", User: "u", Password: "p", DBName: "inbox",
	})

	assert.True(t, strings.HasPrefix(dsn, "u:p@tcp(db:3306)/inbox?"))
	assert.Contains(t, dsn, "parseTime=true")
}

func TestRunMigrations(t *testing.T) {
	db, mock := newMockDB(t)

	for _, table := range []string{"message_templates", "scheduled_notifications", "processed_records"} {
		mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS " + table)).
			WillReturnResult(sqlmock.NewResult(0, 0))
	}

	require.NoError(t, RunMigrations(db))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunMigrations_StopsOnError(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS message_templates")).
		WillReturnError(errors.New("access denied"))

	err := RunMigrations(db)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "migration 1")
}

func TestSeedTemplates(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectExec(regexp.QuoteMeta("INSERT IGNORE INTO message_templates")).
		WithArgs(DefaultTemplates[0].Name, DefaultTemplates[0].Type, DefaultTemplates[0].Body, true).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT IGNORE INTO message_templates")).
		WithArgs(DefaultTemplates[1].Name, DefaultTemplates[1].Type, DefaultTemplates[1].Body, true).
		WillReturnResult(sqlmock.NewResult(0, 0))

	inserted, err := SeedTemplates(db)
	require.NoError(t, err)
	assert.Equal(t, int64(1), inserted)
	assert.NoError(t, mock.ExpectationsWereMet())
}
