package db

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeMigrations(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, body := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o600))
	}
	require.NoError(t, os.Mkdir(filepath.Join(dir, "archive"), 0o700))
	return dir
}

func TestRunMigrations_AppliesOnlyNewFilesInOrder(t *testing.T) {
	dir := writeMigrations(t, map[string]string{
		"001_init.sql":     "CREATE TABLE jobs (id UUID);",
		"002_settings.sql": "CREATE TABLE platform_settings (key TEXT);",
		"README.md":        "not a migration",
	})

	raw, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer raw.Close()
	conn := sqlx.NewDb(raw, "postgres")

	mock.ExpectExec(regexp.QuoteMeta("SELECT pg_advisory_lock($1)")).WithArgs(migrationLockID).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS schema_migrations")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT name FROM schema_migrations")).
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("001_init.sql"))
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE platform_settings")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO schema_migrations (name) VALUES ($1)")).
		WithArgs("002_settings.sql").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	mock.ExpectExec(regexp.QuoteMeta("SELECT pg_advisory_unlock($1)")).WithArgs(migrationLockID).WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, RunMigrations(context.Background(), conn, dir))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunMigrations_MissingDir(t *testing.T) {
	raw, _, err := sqlmock.New()
	require.NoError(t, err)
	defer raw.Close()

	err = RunMigrations(context.Background(), sqlx.NewDb(raw, "postgres"), filepath.Join(t.TempDir(), "nope"))
	assert.Error(t, err)
}
