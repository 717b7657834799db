// Package cmd provides common initialization functions for command-line applications.
package cmd

import (
	"fmt"
	"log/slog"

	"github.com/dukex/missionflow/pkg/actions/backend"
	"github.com/dukex/missionflow/pkg/actions/createdeadline"
	"github.com/dukex/missionflow/pkg/actions/createtask"
	"github.com/dukex/missionflow/pkg/actions/draftemail"
	"github.com/dukex/missionflow/pkg/actions/notification"
	"github.com/dukex/missionflow/pkg/config"
	"github.com/dukex/missionflow/pkg/eventbus"
	"github.com/dukex/missionflow/pkg/protocol"
	"github.com/dukex/missionflow/pkg/registry"
)

// ActionBackend receives tasks, deadlines and email drafts.
type ActionBackend interface {
	protocol.TaskBackend
	protocol.EmailBackend
}

// NewBackend builds the task, deadline and draft back-end from configuration.
func NewBackend(cfg config.BackendConfig, logger *slog.Logger) (ActionBackend, error) {
	switch cfg.Type {
	case "http":
		headers := make(map[string]any, len(cfg.Headers))
		for k, v := range cfg.Headers {
			headers[k] = v
		}

		httpBackend, err := backend.NewHTTPBackend(map[string]any{
			"base_url":        cfg.BaseURL,
			"headers":         headers,
			"timeout_seconds": float64(cfg.TimeoutSeconds),
			"retry": map[string]any{
				"attempts":      float64(cfg.RetryAttempts),
				"delay_seconds": float64(1),
			},
		}, logger)
		if err != nil {
			return nil, err
		}

		return httpBackend, nil
	case "file", "":
		fileBackend, err := backend.NewFileBackend(cfg.Dir)
		if err != nil {
			return nil, err
		}

		return fileBackend, nil
	default:
		return nil, fmt.Errorf("unsupported back-end type: %s", cfg.Type)
	}
}

func registerNativeActions(reg *registry.Registry, records ActionBackend, publisher eventbus.EventPublisher) {
	reg.RegisterAction(notification.NewActionFactory(publisher))
	reg.RegisterAction(createtask.NewActionFactory(records))
	reg.RegisterAction(createdeadline.NewActionFactory(records))
	reg.RegisterAction(draftemail.NewActionFactory(records))
}

func NewRegistry(log *slog.Logger, cfg config.BackendConfig, publisher eventbus.EventPublisher) (*registry.Registry, error) {
	records, err := NewBackend(cfg, log)
	if err != nil {
		return nil, err
	}

	reg := registry.NewRegistry(log)
	registerNativeActions(reg, records, publisher)

	return reg, nil
}
