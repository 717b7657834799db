// Package registry holds the action executors known to the engine.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"

	"github.com/dukex/missionflow/pkg/models"
	"github.com/dukex/missionflow/pkg/protocol"
)

var (
	ErrActionNotRegistered = errors.New("action type not registered")
	ErrInvalidActionConfig = errors.New("invalid action config")
)

type Registry struct {
	logger          *slog.Logger
	mu              sync.RWMutex
	actionFactories map[models.ActionType]protocol.ActionFactory
}

func NewRegistry(log *slog.Logger) *Registry {
	return &Registry{
		logger:          log.With("module", "registry"),
		actionFactories: make(map[models.ActionType]protocol.ActionFactory),
	}
}

func (r *Registry) RegisterAction(actionFactory protocol.ActionFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.actionFactories[actionFactory.ID()] = actionFactory
	r.logger.Debug("Registered action", "type", actionFactory.ID())
}

func (r *Registry) factory(actionType models.ActionType) (protocol.ActionFactory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	factory, ok := r.actionFactories[actionType]
	if !ok {
		return nil, fmt.Errorf("%w: '%s'", ErrActionNotRegistered, actionType)
	}

	return factory, nil
}

func (r *Registry) CreateAction(ctx context.Context, actionType models.ActionType, config map[string]any) (protocol.Action, error) {
	factory, err := r.factory(actionType)
	if err != nil {
		return nil, err
	}

	return factory.Create(ctx, config)
}

// ActionFactories returns the registered factories ordered by type.
func (r *Registry) ActionFactories() []protocol.ActionFactory {
	r.mu.RLock()
	defer r.mu.RUnlock()

	factories := make([]protocol.ActionFactory, 0, len(r.actionFactories))
	for _, f := range r.actionFactories {
		factories = append(factories, f)
	}

	slices.SortFunc(factories, func(a, b protocol.ActionFactory) int {
		return strings.Compare(string(a.ID()), string(b.ID()))
	})

	return factories
}

// ValidateConfig checks an automation action config against the schema of
// its executor.
func (r *Registry) ValidateConfig(config models.ActionConfig) error {
	factory, err := r.factory(config.Type)
	if err != nil {
		return err
	}

	data := config.Config
	if data == nil {
		data = map[string]any{}
	}

	result, err := gojsonschema.Validate(gojsonschema.NewGoLoader(factory.Schema()), gojsonschema.NewGoLoader(data))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidActionConfig, err)
	}

	if !result.Valid() {
		messages := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			messages = append(messages, e.String())
		}

		return fmt.Errorf("%w: %s", ErrInvalidActionConfig, strings.Join(messages, "; "))
	}

	return nil
}
