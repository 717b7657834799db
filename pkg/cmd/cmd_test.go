package cmd_test

import (
	"context"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukex/missionflow/pkg/actions/backend"
	"github.com/dukex/missionflow/pkg/cmd"
	"github.com/dukex/missionflow/pkg/config"
	"github.com/dukex/missionflow/pkg/mocks"
	"github.com/dukex/missionflow/pkg/models"
)

func TestNewEventBus(t *testing.T) {
	t.Parallel()

	bus, err := cmd.NewEventBus(&config.Config{EventBus: "gochannel"}, slog.Default())
	require.NoError(t, err)
	require.NoError(t, bus.Close())

	_, err = cmd.NewEventBus(&config.Config{EventBus: "nats"}, slog.Default())
	require.Error(t, err)
}

func TestNewRegistry(t *testing.T) {
	t.Parallel()

	reg, err := cmd.NewRegistry(slog.Default(), config.BackendConfig{Type: "file", Dir: t.TempDir()}, &mocks.MockEventBus{})
	require.NoError(t, err)

	ids := make([]models.ActionType, 0, 4)
	for _, factory := range reg.ActionFactories() {
		ids = append(ids, factory.ID())
	}

	assert.ElementsMatch(t, []models.ActionType{
		models.ActionTypeNotification,
		models.ActionTypeCreateTask,
		models.ActionTypeCreateDeadline,
		models.ActionTypeDraftEmail,
	}, ids)
}

func TestNewBackend(t *testing.T) {
	t.Parallel()

	records, err := cmd.NewBackend(config.BackendConfig{Type: "http", BaseURL: "https://tasks.internal", TimeoutSeconds: 5}, slog.Default())
	require.NoError(t, err)

	httpBackend, ok := records.(*backend.HTTPBackend)
	require.True(t, ok)
	assert.Equal(t, "https://tasks.internal", httpBackend.BaseURL)

	_, err = cmd.NewBackend(config.BackendConfig{Type: "http", BaseURL: "tasks.internal"}, slog.Default())
	require.ErrorIs(t, err, backend.ErrBaseURLInvalid)

	_, err = cmd.NewBackend(config.BackendConfig{Type: "s3"}, slog.Default())
	require.Error(t, err)
}

func TestNewPersistence(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	store, err := cmd.NewPersistence(ctx, slog.Default(), filepath.Join(t.TempDir(), "missionflow.db"))
	require.NoError(t, err)

	defer func() { _ = store.Close(ctx) }()

	require.NoError(t, store.HealthCheck(ctx))
}
