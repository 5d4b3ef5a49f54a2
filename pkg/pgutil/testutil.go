package pgutil

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/uptrace/bun"
	"go.uber.org/zap/zaptest"

	"github.com/chainsafe/senate-indexer/pkg/config"
)

// RequireDocker skips the test when no docker daemon socket answers.
func RequireDocker(t *testing.T) {
	t.Helper()

	if os.Getenv("DOCKER_HOST") != "" {
		return
	}
	candidates := []string{
		"/var/run/docker.sock",
		filepath.Join(os.Getenv("HOME"), ".docker/run/docker.sock"),
	}
	for _, sock := range candidates {
		if _, err := os.Stat(sock); err != nil {
			continue
		}
		conn, err := (&net.Dialer{Timeout: time.Second}).DialContext(context.Background(), "unix", sock)
		if err == nil {
			_ = conn.Close()
			return
		}
	}

	t.Skip("docker daemon socket is not accessible; skipping testcontainer-backed test")
}

// SetupTestDB starts a PostgreSQL testcontainer and returns a connection to it.
// The test is skipped when docker is unavailable.
func SetupTestDB(t *testing.T) (*bun.DB, func()) {
	t.Helper()
	RequireDocker(t)
	ctx := context.Background()

	// Start PostgreSQL container with wait strategy
	container, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("senate_test"),
		postgres.WithUsername("senate"),
		postgres.WithPassword("senate"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("failed to start postgres container: %v", err)
	}

	// Get connection details
	host, err := container.Host(ctx)
	if err != nil {
		_ = testcontainers.TerminateContainer(container)
		t.Fatalf("failed to get container host: %v", err)
	}

	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		_ = testcontainers.TerminateContainer(container)
		t.Fatalf("failed to get container port: %v", err)
	}

	// Create database config
	cfg := &config.DatabaseConfig{
		Host:     host,
		Port:     port.Int(),
		User:     "senate",
		Password: "senate",
		Database: "senate_test",
		SSLMode:  "disable",

		MaxOpenConns: 8,
	}

	// the container may accept connections shortly after the ready log line
	var db *bun.DB
	const maxAttempts = 10
	for i := range maxAttempts {
		db, err = ConnectDB(cfg, zaptest.NewLogger(t))
		if err == nil {
			break
		}
		if i == maxAttempts-1 {
			_ = testcontainers.TerminateContainer(container)
			t.Fatalf("failed to connect to test database after %d attempts: %v", maxAttempts, err)
		}
		time.Sleep(time.Duration(100<<i) * time.Millisecond)
	}

	// Return cleanup function
	cleanup := func() {
		_ = db.Close()
		if err := testcontainers.TerminateContainer(container); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	}

	return db, cleanup
}

// AssertTableExists checks if a table exists in the database
func AssertTableExists(t *testing.T, db *bun.DB, tableName string) {
	t.Helper()
	ctx := context.Background()

	var exists bool
	err := db.NewSelect().
		ColumnExpr("EXISTS (SELECT 1 FROM information_schema.tables WHERE table_schema = ? AND table_name = ?)", "public", tableName).
		Scan(ctx, &exists)
	if err != nil {
		t.Fatalf("failed to check if table %s exists: %v", tableName, err)
	}

	if !exists {
		t.Errorf("table %s does not exist", tableName)
	}
}

// AssertIndexExists checks if an index exists in the database
func AssertIndexExists(t *testing.T, db *bun.DB, indexName string) {
	t.Helper()
	ctx := context.Background()

	var exists bool
	err := db.NewSelect().
		ColumnExpr("EXISTS (SELECT 1 FROM pg_indexes WHERE schemaname = ? AND indexname = ?)", "public", indexName).
		Scan(ctx, &exists)
	if err != nil {
		t.Fatalf("failed to check if index %s exists: %v", indexName, err)
	}

	if !exists {
		t.Errorf("index %s does not exist", indexName)
	}
}

// AssertRowCount checks if a table has the expected number of rows
func AssertRowCount(t *testing.T, db *bun.DB, tableName string, expected int) {
	t.Helper()
	ctx := context.Background()

	var count int
	err := db.NewSelect().
		TableExpr("?", bun.Ident(tableName)).
		ColumnExpr("COUNT(*)").
		Scan(ctx, &count)
	if err != nil {
		t.Fatalf("failed to count rows in table %s: %v", tableName, err)
	}

	if count != expected {
		t.Errorf("table %s: expected %d rows, got %d", tableName, expected, count)
	}
}

// AssertTableNotExists checks if a table does not exist in the database
func AssertTableNotExists(t *testing.T, db *bun.DB, tableName string) {
	t.Helper()
	ctx := context.Background()

	var exists bool
	err := db.NewSelect().
		ColumnExpr("EXISTS (SELECT 1 FROM information_schema.tables WHERE table_schema = ? AND table_name = ?)", "public", tableName).
		Scan(ctx, &exists)
	if err != nil {
		t.Fatalf("failed to check if table %s exists: %v", tableName, err)
	}

	if exists {
		t.Errorf("table %s should not exist but it does", tableName)
	}
}
