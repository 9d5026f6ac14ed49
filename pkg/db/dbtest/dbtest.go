// Package dbtest opens throwaway sqlite databases for package tests.
package dbtest

import (
	"path/filepath"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/yourorg/provision-gateway/pkg/db"
)

// New returns a migrated database living in t.TempDir().
// A single connection serializes writers so sqlite never reports busy.
func New(t testing.TB) *db.Connection {
	t.Helper()

	path := filepath.Join(t.TempDir(), "provision.db")
	gdb, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := gdb.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	conn := db.Open(gdb, zap.NewNop())
	require.NoError(t, conn.AutoMigrate())
	return conn
}
