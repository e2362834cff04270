package migrate

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateSQLMigrationBumpsPastLatestVersion(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

	first, err := createSQLMigration(dir, "first", now)
	require.NoError(t, err)
	second, err := createSQLMigration(dir, "second", now)
	require.NoError(t, err)

	assert.Equal(t, "20260501090000_first.sql", filepath.Base(first))
	assert.Equal(t, "20260501090001_second.sql", filepath.Base(second))

	files, err := List(dir)
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, "first", files[0].Name)
	assert.Equal(t, "second", files[1].Name)
}

func TestCreateSQLMigrationRejectsEmptyName(t *testing.T) {
	_, err := createSQLMigration(t.TempDir(), "!!!", time.Now())
	require.Error(t, err)
}

func TestValidateDirRejectsEmptyDown(t *testing.T) {
	dir := t.TempDir()
	body := "-- +goose Up\nCREATE TABLE x (id int);\n\n-- +goose Down\n-- nothing\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "20260501090000_x.sql"), []byte(body), 0o644))

	err := ValidateDir(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "down section has no statements")
}

func TestValidateDirRejectsBadFilename(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "1_x.sql"), []byte("-- +goose Up\n-- +goose Down\nSELECT 1;\n"), 0o644))

	err := ValidateDir(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid migration filename")
}
