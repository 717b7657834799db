package registry_test

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukex/missionflow/pkg/actions/createdeadline"
	"github.com/dukex/missionflow/pkg/actions/draftemail"
	"github.com/dukex/missionflow/pkg/actions/notification"
	"github.com/dukex/missionflow/pkg/mocks"
	"github.com/dukex/missionflow/pkg/models"
	"github.com/dukex/missionflow/pkg/registry"
)

func newRegistry() *registry.Registry {
	r := registry.NewRegistry(slog.Default())
	r.RegisterAction(notification.NewActionFactory(&mocks.MockEventBus{}))
	r.RegisterAction(draftemail.NewActionFactory(&mocks.MockEmailBackend{}))
	r.RegisterAction(createdeadline.NewActionFactory(&mocks.MockTaskBackend{}))

	return r
}

func TestRegistry_CreateAction(t *testing.T) {
	t.Parallel()

	r := newRegistry()

	action, err := r.CreateAction(context.Background(), models.ActionTypeNotification, nil)
	require.NoError(t, err)
	assert.NotNil(t, action)

	_, err = r.CreateAction(context.Background(), models.ActionTypeCreateTask, nil)
	require.ErrorIs(t, err, registry.ErrActionNotRegistered)
}

func TestRegistry_ActionFactoriesSorted(t *testing.T) {
	t.Parallel()

	var ids []models.ActionType
	for _, f := range newRegistry().ActionFactories() {
		ids = append(ids, f.ID())
	}

	assert.Equal(t, []models.ActionType{
		models.ActionTypeCreateDeadline,
		models.ActionTypeDraftEmail,
		models.ActionTypeNotification,
	}, ids)
}

func TestRegistry_ValidateConfig(t *testing.T) {
	t.Parallel()

	r := newRegistry()

	tests := []struct {
		name    string
		config  models.ActionConfig
		wantErr error
	}{
		{
			name:   "notification without config",
			config: models.ActionConfig{Type: models.ActionTypeNotification},
		},
		{
			name: "notification with severity",
			config: models.ActionConfig{
				Type:   models.ActionTypeNotification,
				Config: map[string]any{"title": "Daily sweep", "severity": "high"},
			},
		},
		{
			name: "notification with unknown severity",
			config: models.ActionConfig{
				Type:   models.ActionTypeNotification,
				Config: map[string]any{"severity": "extreme"},
			},
			wantErr: registry.ErrInvalidActionConfig,
		},
		{
			name: "draft email missing recipients",
			config: models.ActionConfig{
				Type:   models.ActionTypeDraftEmail,
				Config: map[string]any{"subject": "Weekly"},
			},
			wantErr: registry.ErrInvalidActionConfig,
		},
		{
			name: "draft email with unknown field",
			config: models.ActionConfig{
				Type:   models.ActionTypeDraftEmail,
				Config: map[string]any{"to": []any{"a@example.com"}, "subject": "Weekly", "cc": "b@example.com"},
			},
			wantErr: registry.ErrInvalidActionConfig,
		},
		{
			name: "deadline",
			config: models.ActionConfig{
				Type:   models.ActionTypeCreateDeadline,
				Config: map[string]any{"title": "Renewal", "due_date": "2026-06-30"},
			},
		},
		{
			name:    "unregistered type",
			config:  models.ActionConfig{Type: models.ActionTypeCreateTask},
			wantErr: registry.ErrActionNotRegistered,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := r.ValidateConfig(tt.config)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)

				return
			}

			require.NoError(t, err)
		})
	}
}
