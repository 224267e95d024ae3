// Package testdata provides migrated SQLite databases and fake billing rows for tests.
package testdata

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/greenofig/greenofig/pkg/database"
	"github.com/greenofig/greenofig/pkg/logger"
	_ "github.com/mattn/go-sqlite3"
)

// OpenDB returns a fresh in-memory SQLite database with the production
// migrations applied. The database lives until the test ends.
func OpenDB(t testing.TB) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", "file:"+uuid.NewString()+"?mode=memory&cache=shared&_busy_timeout=5000")
	if err != nil {
		t.Fatalf("failed opening sqlite: %v", err)
	}
	// One long-lived connection keeps the in-memory database alive
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)
	db.SetConnMaxIdleTime(0)

	if err := database.Migrate(context.Background(), db, database.DialectSQLite, logger.Nop()); err != nil {
		_ = db.Close()
		t.Fatalf("failed migrating sqlite: %v", err)
	}

	t.Cleanup(func() { _ = db.Close() })
	return db
}

// OpenConcurrentDB returns a migrated file-backed SQLite database that
// allows conns connections, for tests that race writers against each other.
// Writers queue on the busy timeout and transactions take the write lock up front.
func OpenConcurrentDB(t testing.TB, conns int) *sql.DB {
	t.Helper()

	path := filepath.Join(t.TempDir(), "greenofig.db")
	db, err := sql.Open("sqlite3", "file:"+path+"?_busy_timeout=10000&_journal_mode=WAL&_txlock=immediate")
	if err != nil {
		t.Fatalf("failed opening sqlite: %v", err)
	}
	db.SetMaxOpenConns(conns)

	if err := database.Migrate(context.Background(), db, database.DialectSQLite, logger.Nop()); err != nil {
		_ = db.Close()
		t.Fatalf("failed migrating sqlite: %v", err)
	}

	t.Cleanup(func() { _ = db.Close() })
	return db
}

// Count returns the number of rows in table matching the optional where clause
func Count(t testing.TB, db *sql.DB, table, where string, args ...interface{}) int {
	t.Helper()

	query := "SELECT COUNT(*) FROM " + table
	if where != "" {
		query += " WHERE " + where
	}
	var n int
	if err := db.QueryRow(query, args...).Scan(&n); err != nil {
		t.Fatalf("failed counting %s: %v", table, err)
	}
	return n
}
