package sqlstore_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/dukex/missionflow/pkg/persistence/sqlstore"
)

func TestPostgres_Store(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping PostgreSQL integration test in short mode")
	}

	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Second)
	defer cancel()

	container, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("missionflow_test"),
		postgres.WithUsername("missionflow"),
		postgres.WithPassword("missionflow"),
		postgres.BasicWaitStrategies(),
	)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = testcontainers.TerminateContainer(container)
	})

	databaseURL, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	store, err := sqlstore.Open(ctx, testLogger(), databaseURL)
	require.NoError(t, err)

	t.Cleanup(func() {
		require.NoError(t, store.Close(context.Background()))
	})

	assert.Equal(t, sqlstore.DialectPostgres, store.Dialect())

	exerciseStore(t, ctx, store)
}
