package store

import (
	"context"
	"fmt"
	"strconv"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"mana-sync-service/internal/config"
	"mana-sync-service/internal/database"
	"mana-sync-service/internal/migrations"
)

func startContainer(t *testing.T, req testcontainers.ContainerRequest) (string, int) {
	t.Helper()
	testcontainers.SkipIfProviderIsNotHealthy(t)
	if testing.Short() {
		t.Skip("container tests skipped in -short mode")
	}

	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, nat.Port(req.ExposedPorts[0]))
	require.NoError(t, err)
	n, err := strconv.Atoi(port.Port())
	require.NoError(t, err)
	return host, n
}

func TestMySQLStoreContract(t *testing.T) {
	host, port := startContainer(t, testcontainers.ContainerRequest{
		Image:        "mysql:8.4",
		Env:          map[string]string{"MYSQL_ROOT_PASSWORD": "secret", "MYSQL_DATABASE": "manasync"},
		ExposedPorts: []string{"3306/tcp"},
		WaitingFor:   wait.ForLog("port: 3306  MySQL Community Server").WithStartupTimeout(2 * time.Minute),
	})

	cfg := config.StateStorage{
		Type:           "mysql",
		Host:           host,
		Port:           port,
		User:           "root",
		Password:       "secret",
		Database:       "manasync",
		ConnectTimeout: time.Minute,
	}
	ctx := context.Background()
	db, err := database.NewDatabase(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, migrations.Up(ctx, cfg))

	runStoreContract(t, func(t *testing.T) Store {
		_, err := db.DB.ExecContext(ctx, `DELETE FROM sync_records`)
		require.NoError(t, err)
		_, err = db.DB.ExecContext(ctx, `DELETE FROM sync_history`)
		require.NoError(t, err)
		return NewMySQLStore(db, 2)
	})
}

func TestPostgresStoreContract(t *testing.T) {
	host, port := startContainer(t, testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		Env:          map[string]string{"POSTGRES_PASSWORD": "secret", "POSTGRES_USER": "postgres", "POSTGRES_DB": "manasync"},
		ExposedPorts: []string{"5432/tcp"},
		WaitingFor:   wait.ForLog("database system is ready to accept connections").WithOccurrence(2).WithStartupTimeout(time.Minute),
	})

	cfg := config.StateStorage{
		Type:           "postgres",
		DSN:            fmt.Sprintf("postgres://postgres:secret@%s:%d/manasync?sslmode=disable", host, port),
		ConnectTimeout: time.Minute,
	}
	ctx := context.Background()
	pool, err := database.NewPostgresPool(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	require.NoError(t, migrations.Up(ctx, cfg))

	runStoreContract(t, func(t *testing.T) Store {
		truncate(t, pool)
		return NewPostgresStore(pool)
	})
}

func truncate(t *testing.T, pool *pgxpool.Pool) {
	t.Helper()
	_, err := pool.Exec(context.Background(), `TRUNCATE sync_records, sync_history`)
	require.NoError(t, err)
}
