package db

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"sort"
	"strings"

	"keygate/internal/db/migrations"

	"github.com/jackc/pgx/v5"
)

// migrationLockID serializes migration runs across gateway replicas
const migrationLockID int64 = 0x6b657967617465 // "keygate"

// migration is one embedded .sql file
type migration struct {
	version string
	sql     string
}

// Migrate applies pending migrations while holding a session-level advisory
// lock on a single dedicated connection.
func (db *DB) Migrate(ctx context.Context) error {
	conn, err := db.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire connection for migrations: %w", err)
	}
	defer conn.Release()

	c := conn.Conn()
	if _, err := c.Exec(ctx, "SELECT pg_advisory_lock($1)", migrationLockID); err != nil {
		return fmt.Errorf("failed to acquire migration lock: %w", err)
	}
	defer c.Exec(ctx, "SELECT pg_advisory_unlock($1)", migrationLockID) //nolint:errcheck

	if _, err := c.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`); err != nil {
		return fmt.Errorf("failed to create schema_migrations table: %w", err)
	}

	pending, err := pendingMigrations(ctx, c)
	if err != nil {
		return err
	}

	for _, m := range pending {
		slog.Info("applying migration", "version", m.version)
		if err := applyMigration(ctx, c, m); err != nil {
			return err
		}
	}
	return nil
}

// pendingMigrations returns embedded migrations not yet recorded, in order
func pendingMigrations(ctx context.Context, conn *pgx.Conn) ([]migration, error) {
	all, err := readMigrations()
	if err != nil {
		return nil, fmt.Errorf("failed to read migrations: %w", err)
	}

	rows, err := conn.Query(ctx, "SELECT version FROM schema_migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to query applied migrations: %w", err)
	}
	versions, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("failed to scan applied migrations: %w", err)
	}

	applied := make(map[string]bool, len(versions))
	for _, v := range versions {
		applied[v] = true
	}

	var pending []migration
	for _, m := range all {
		if !applied[m.version] {
			pending = append(pending, m)
		}
	}
	return pending, nil
}

func applyMigration(ctx context.Context, conn *pgx.Conn, m migration) error {
	tx, err := conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction for %s: %w", m.version, err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, m.sql); err != nil {
		return fmt.Errorf("failed to apply migration %s: %w", m.version, err)
	}
	if _, err := tx.Exec(ctx, "INSERT INTO schema_migrations (version) VALUES ($1)", m.version); err != nil {
		return fmt.Errorf("failed to record migration %s: %w", m.version, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit migration %s: %w", m.version, err)
	}
	return nil
}

// readMigrations reads all .sql files from the embedded FS, sorted by name
func readMigrations() ([]migration, error) {
	migrationsFS := migrations.FS()

	entries, err := fs.ReadDir(migrationsFS, ".")
	if err != nil {
		return nil, err
	}

	var migs []migration
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		content, err := fs.ReadFile(migrationsFS, entry.Name())
		if err != nil {
			return nil, fmt.Errorf("failed to read migration %s: %w", entry.Name(), err)
		}
		migs = append(migs, migration{
			version: strings.TrimSuffix(entry.Name(), ".sql"),
			sql:     string(content),
		})
	}

	sort.Slice(migs, func(i, j int) bool {
		return migs[i].version < migs[j].version
	})
	return migs, nil
}
