package store

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// openTestDB connects to the database named by LOGBOOK_TEST_DATABASE_URL on a fresh public schema.
func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	dsn := strings.TrimSpace(os.Getenv("LOGBOOK_TEST_DATABASE_URL"))
	if dsn == "" {
		t.Skip("LOGBOOK_TEST_DATABASE_URL is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	db, err := Open(ctx, dsn, PoolOptions{MaxOpenConns: 4})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	_, err = db.ExecContext(ctx, `DROP SCHEMA IF EXISTS public CASCADE; CREATE SCHEMA public;`)
	require.NoError(t, err)
	return db
}

func TestMigrationsRoundTripPostgres(t *testing.T) {
	db := openTestDB(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	applied, err := ApplyMigrations(ctx, db, migrationsDir)
	require.NoError(t, err)
	require.Len(t, applied, 2)

	pending, err := PendingMigrations(ctx, db, migrationsDir)
	require.NoError(t, err)
	require.Empty(t, pending)

	require.NoError(t, applyDownMigrations(ctx, db, migrationsDir))
	_, err = db.ExecContext(ctx, `DELETE FROM schema_migrations`)
	require.NoError(t, err)

	applied, err = ApplyMigrations(ctx, db, migrationsDir)
	require.NoError(t, err)
	require.Len(t, applied, 2)
}

func applyDownMigrations(ctx context.Context, db *sql.DB, dir string) error {
	downs, err := migrationFiles(dir, ".down.sql")
	if err != nil {
		return err
	}
	slices.Reverse(downs)
	for _, name := range downs {
		contents, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return err
		}
		if _, err := db.ExecContext(ctx, string(contents)); err != nil {
			return err
		}
	}
	return nil
}
