package storage

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

// OpenTest connects to the local test database and applies migrations.
// Tests that call it require a running PostgreSQL; otherwise they skip.
// The DSN can be overridden with TEST_POSTGRES_DSN.
func OpenTest(t *testing.T) *sql.DB {
	t.Helper()

	cfg := DefaultConfig()
	if dsn := os.Getenv("TEST_POSTGRES_DSN"); dsn != "" {
		cfg.DSN = dsn
	}

	db, err := Open(context.Background(), cfg)
	if err != nil {
		t.Skipf("postgres not available: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := Migrate(db, migrationsDir()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

// migrationsDir locates the migrations directory relative to this source
// file, so tests work regardless of the package they run from.
func migrationsDir() string {
	_, file, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(file), "..", "..", "migrations")
}
