// Package testhelpers starts the Postgres and Redis containers shared by
// integration tests.
package testhelpers

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-geoenrich/pkg/config"
	"github.com/ekaya-inc/ekaya-geoenrich/pkg/database"
)

const (
	PostgresImage = "postgres:16-alpine"
	RedisImage    = "redis:7-alpine"
)

// TestDB is a migrated Postgres container shared by every test in the run.
type TestDB struct {
	Container testcontainers.Container
	DB        *database.DB
	ConnStr   string
}

// TestRedis is a Redis container shared by every test in the run.
type TestRedis struct {
	Container testcontainers.Container
	Client    *redis.Client
}

var (
	dbOnce sync.Once
	testDB *TestDB
	dbErr  error

	redisOnce sync.Once
	testRedis *TestRedis
	redisErr  error
)

// GetTestDB returns the shared Postgres container, starting and migrating it
// on first use.
func GetTestDB(t *testing.T) *TestDB {
	t.Helper()
	skipShort(t)

	dbOnce.Do(func() { testDB, dbErr = startPostgres() })
	if dbErr != nil {
		t.Fatalf("Failed to setup test database: %v", dbErr)
	}
	return testDB
}

// GetTestRedis returns the shared Redis container. Each test gets a flushed
// database.
func GetTestRedis(t *testing.T) *TestRedis {
	t.Helper()
	skipShort(t)

	redisOnce.Do(func() { testRedis, redisErr = startRedis() })
	if redisErr != nil {
		t.Fatalf("Failed to setup test redis: %v", redisErr)
	}
	if err := testRedis.Client.FlushDB(context.Background()).Err(); err != nil {
		t.Fatalf("failed to flush redis: %v", err)
	}
	return testRedis
}

func skipShort(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode (requires Docker)")
	}
}

func startContainer(ctx context.Context, req testcontainers.ContainerRequest, port string) (testcontainers.Container, string, int, error) {
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return nil, "", 0, fmt.Errorf("failed to start %s: %w", req.Image, err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		return nil, "", 0, fmt.Errorf("failed to get container host: %w", err)
	}
	mapped, err := container.MappedPort(ctx, nat.Port(port))
	if err != nil {
		return nil, "", 0, fmt.Errorf("failed to get container port: %w", err)
	}
	p, _ := strconv.Atoi(mapped.Port())
	return container, host, p, nil
}

func startPostgres() (*TestDB, error) {
	ctx := context.Background()

	container, host, port, err := startContainer(ctx, testcontainers.ContainerRequest{
		Image:        PostgresImage,
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_DB":       "geoenrich_test",
			"POSTGRES_USER":     "ekaya",
			"POSTGRES_PASSWORD": "test_password",
		},
		// Postgres reports readiness once for the init run and once for real.
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}, "5432")
	if err != nil {
		return nil, err
	}

	cfg := config.DatabaseConfig{
		Host:     host,
		Port:     port,
		User:     "ekaya",
		Password: "test_password",
		Database: "geoenrich_test",
		SSLMode:  "disable",
	}
	connStr := cfg.ConnectionString()

	db, err := database.NewConnection(ctx, &database.Config{URL: connStr, MaxConnections: 5})
	if err != nil {
		return nil, err
	}
	if err := database.Migrate(connStr, zap.NewNop()); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &TestDB{Container: container, DB: db, ConnStr: connStr}, nil
}

func startRedis() (*TestRedis, error) {
	ctx := context.Background()

	container, host, port, err := startContainer(ctx, testcontainers.ContainerRequest{
		Image:        RedisImage,
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(30 * time.Second),
	}, "6379")
	if err != nil {
		return nil, err
	}

	client, err := database.NewRedisClient(ctx, &config.RedisConfig{Host: host, Port: port})
	if err != nil {
		return nil, err
	}
	return &TestRedis{Container: container, Client: client}, nil
}

// Truncate empties the given tables. Tests call it in setup so they do not
// depend on execution order.
func (tdb *TestDB) Truncate(t *testing.T, tables ...string) {
	t.Helper()
	for _, table := range tables {
		if _, err := tdb.DB.Exec(context.Background(), "TRUNCATE "+table+" CASCADE"); err != nil {
			t.Fatalf("failed to truncate %s: %v", table, err)
		}
	}
}
