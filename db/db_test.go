package db

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenSQLite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "gallery.db")
	conn, err := Open(Config{SQLiteFile: path}, nil)
	require.NoError(t, err)
	assert.Equal(t, "sqlite", conn.Dialector.Name())

	sqlDB, err := conn.DB()
	require.NoError(t, err)
	require.NoError(t, sqlDB.Ping())
	require.NoError(t, sqlDB.Close())
}

func TestOpenRequiresLocation(t *testing.T) {
	_, err := Open(Config{}, nil)
	assert.Error(t, err)
}
