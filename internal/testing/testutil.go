/*-------------------------------------------------------------------------
 *
 * testutil.go
 *    PostgreSQL fixtures for integration tests
 *
 * SetupTestDB connects to TEST_DATABASE_URL when it is set and otherwise
 * starts a disposable PostgreSQL container. Either way the ledger schema is
 * migrated before the handle is returned. Tests are skipped when neither a
 * URL nor a container runtime is available.
 *
 * Copyright (c) 2024-2026, neurondb, Inc. <admin@neurondb.com>
 *
 * IDENTIFICATION
 *    NeuronLedger/internal/testing/testutil.go
 *
 *-------------------------------------------------------------------------
 */

package testing

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/neurondb/NeuronLedger/internal/db"
)

const (
	testDBUser     = "ledger"
	testDBPassword = "ledger"
	testDBName     = "ledger_test"
)

/* TestDB is a migrated database for one test */
type TestDB struct {
	DB      *db.DB
	Queries *db.Queries
	URL     string
}

/* SetupTestDB returns a migrated database, cleaned up when the test ends */
func SetupTestDB(t *testing.T) *TestDB {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping database test in short mode")
	}

	if err := godotenv.Load(); err != nil {
		t.Logf("No .env file loaded: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		url = startPostgres(ctx, t)
	}

	conn, err := sqlx.Open("postgres", url)
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	for i := 0; ; i++ {
		if err = conn.PingContext(ctx); err == nil {
			break
		}
		if i == 20 {
			_ = conn.Close()
			t.Fatalf("Failed to ping test database after retries: %v", err)
		}
		time.Sleep(500 * time.Millisecond)
	}

	if err := db.NewMigrationRunner(url).Run(ctx); err != nil {
		_ = conn.Close()
		t.Fatalf("Failed to apply migrations: %v", err)
	}

	database := db.NewDBFromConn(conn)
	tdb := &TestDB{DB: database, Queries: db.NewQueries(conn), URL: url}
	t.Cleanup(func() {
		tdb.truncate(t)
		if err := database.Close(); err != nil {
			t.Errorf("Failed to close test database: %v", err)
		}
	})
	return tdb
}

var (
	providerOnce sync.Once
	providerErr  error
)

/*
 * dockerHealth checks the container provider once per test binary.
 * testcontainers panics rather than erroring when no Docker host can be
 * found, so the check recovers.
 */
func dockerHealth(ctx context.Context) error {
	providerOnce.Do(func() {
		providerErr = checkProvider(ctx, func(ctx context.Context) error {
			provider, err := testcontainers.NewDockerProvider()
			if err != nil {
				return err
			}
			defer provider.Close()
			return provider.Health(ctx)
		})
	})
	return providerErr
}

func checkProvider(ctx context.Context, check func(context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("container provider unavailable: %v", r)
		}
	}()
	return check(ctx)
}

func startPostgres(ctx context.Context, t *testing.T) string {
	t.Helper()
	if err := dockerHealth(ctx); err != nil {
		t.Skipf("skipping database test, set TEST_DATABASE_URL or start Docker: %v", err)
	}

	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     testDBUser,
			"POSTGRES_PASSWORD": testDBPassword,
			"POSTGRES_DB":       testDBName,
		},
		WaitingFor: wait.ForListeningPort("5432/tcp").WithStartupTimeout(60 * time.Second),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start PostgreSQL container: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Errorf("Failed to terminate container: %v", err)
		}
	})

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to read container host: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("Failed to read container port: %v", err)
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		testDBUser, testDBPassword, host, port.Port(), testDBName)
}

/* truncate empties every ledger table so a shared TEST_DATABASE_URL stays reusable */
func (tdb *TestDB) truncate(t *testing.T) {
	_, err := tdb.Queries.DB.Exec(`TRUNCATE neurondb_ledger.webhook_deliveries, neurondb_ledger.webhooks,
		neurondb_ledger.budget_alerts, neurondb_ledger.budgets, neurondb_ledger.execution_log,
		neurondb_ledger.event_log, neurondb_ledger.model_pricing CASCADE`)
	if err != nil {
		t.Logf("Failed to truncate ledger tables: %v", err)
	}
}
