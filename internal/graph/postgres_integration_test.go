package graph

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// startPostgres launches a disposable Postgres container and returns its
// DSN. Requires a local Docker daemon, so short runs skip it.
func startPostgres(t *testing.T) string {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping container-backed test in short mode")
	}
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:18-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "ecoverify",
			"POSTGRES_PASSWORD": "ecoverify",
			"POSTGRES_DB":       "ecoverify",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err, "start postgres container")
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)

	return fmt.Sprintf("postgres://ecoverify:ecoverify@%s:%s/ecoverify?sslmode=disable", host, port.Port())
}

func TestPostgresCheckpointer(t *testing.T) {
	dsn := startPostgres(t)

	cp, err := NewPostgresCheckpointer(context.Background(), dsn)
	require.NoError(t, err)
	defer cp.Close()

	runCheckpointerSuite(t, cp)
}

func TestPostgresCheckpointer_SurvivesReconnect(t *testing.T) {
	dsn := startPostgres(t)
	ctx := context.Background()

	cp, err := NewPostgresCheckpointer(ctx, dsn)
	require.NoError(t, err)
	require.NoError(t, cp.Put(ctx, sampleCheckpoint("thread-pg", 7)))
	require.NoError(t, cp.Close())

	reopened, err := NewPostgresCheckpointer(ctx, dsn)
	require.NoError(t, err)
	defer reopened.Close()

	latest, err := reopened.Latest(ctx, "thread-pg")
	require.NoError(t, err)
	require.Equal(t, 7, latest.StepIndex)
	require.Equal(t, "jurist", latest.Next)
}
