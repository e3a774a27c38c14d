// Package testutil provides testing utilities for database operations
package testutil

import (
	"context"
	"fmt"
	"io/fs"
	"os/exec"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"keygate/internal/db/migrations"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	postgresImage = "postgres:16-alpine"
	dbName        = "keygate_test"
	dbUser        = "keygate_test"
	dbPassword    = "test_password"
)

var (
	dockerAvailable     bool
	dockerAvailableOnce sync.Once
)

// IsDockerAvailable checks if Docker is available and running
func IsDockerAvailable() bool {
	dockerAvailableOnce.Do(func() {
		if _, err := exec.LookPath("docker"); err != nil {
			return
		}
		dockerAvailable = exec.Command("docker", "info").Run() == nil
	})
	return dockerAvailable
}

// SkipIfNoDocker skips the test if Docker is not available
func SkipIfNoDocker(t *testing.T) {
	t.Helper()
	if !IsDockerAvailable() {
		t.Skip("Docker is not available, skipping test")
	}
}

// TestDB is a throwaway postgres container and a pool connected to it
type TestDB struct {
	Container testcontainers.Container
	Pool      *pgxpool.Pool
}

// NewTestDB starts postgres and applies the embedded migrations
func NewTestDB(t *testing.T) *TestDB {
	t.Helper()

	tdb := NewBareTestDB(t)
	if err := tdb.applyMigrations(t); err != nil {
		tdb.Close(t)
		t.Fatalf("Failed to apply migrations: %v", err)
	}
	return tdb
}

// NewBareTestDB starts postgres with an empty schema, for exercising the
// migration runner itself
func NewBareTestDB(t *testing.T) *TestDB {
	t.Helper()
	SkipIfNoDocker(t)

	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        postgresImage,
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_DB":       dbName,
				"POSTGRES_USER":     dbUser,
				"POSTGRES_PASSWORD": dbPassword,
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("Failed to start PostgreSQL container: %v", err)
	}

	tdb := &TestDB{Container: container}

	host, err := container.Host(ctx)
	if err != nil {
		tdb.Close(t)
		t.Fatalf("Failed to get container host: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		tdb.Close(t)
		t.Fatalf("Failed to get container port: %v", err)
	}

	connString := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		dbUser, dbPassword, host, port.Port(), dbName)

	tdb.Pool, err = pgxpool.New(ctx, connString)
	if err != nil {
		tdb.Close(t)
		t.Fatalf("Failed to create connection pool: %v", err)
	}
	if err := tdb.Pool.Ping(ctx); err != nil {
		tdb.Close(t)
		t.Fatalf("Failed to ping database: %v", err)
	}

	return tdb
}

// applyMigrations runs every embedded .sql file in name order. It bypasses
// the migration runner so store tests do not depend on it.
func (tdb *TestDB) applyMigrations(t *testing.T) error {
	t.Helper()

	files := migrations.FS()
	entries, err := fs.ReadDir(files, ".")
	if err != nil {
		return fmt.Errorf("failed to read migrations: %w", err)
	}

	var names []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".sql") {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)

	for _, name := range names {
		content, err := fs.ReadFile(files, name)
		if err != nil {
			return fmt.Errorf("failed to read migration %s: %w", name, err)
		}
		if _, err := tdb.Pool.Exec(context.Background(), string(content)); err != nil {
			return fmt.Errorf("failed to apply migration %s: %w", name, err)
		}
		t.Logf("Applied migration: %s", name)
	}
	return nil
}

// Close terminates the container and closes the connection pool
func (tdb *TestDB) Close(t *testing.T) {
	t.Helper()

	if tdb.Pool != nil {
		tdb.Pool.Close()
	}

	if tdb.Container != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := tdb.Container.Terminate(ctx); err != nil {
			t.Logf("Warning: failed to terminate container: %v", err)
		}
	}
}

// Truncate removes all rows and keeps the schema
func (tdb *TestDB) Truncate(t *testing.T) {
	t.Helper()

	_, err := tdb.Pool.Exec(context.Background(),
		"TRUNCATE TABLE usage_records, processed_webhook_events, accounts CASCADE")
	if err != nil {
		t.Fatalf("Failed to truncate tables: %v", err)
	}
}
