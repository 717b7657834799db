package cmd

import (
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"

	"github.com/dukex/missionflow/pkg/channels/gochannel"
	"github.com/dukex/missionflow/pkg/channels/kafka"
	"github.com/dukex/missionflow/pkg/config"
	"github.com/dukex/missionflow/pkg/eventbus"
)

// NewEventBus creates the event bus selected by cfg.EventBus.
func NewEventBus(cfg *config.Config, logger *slog.Logger) (eventbus.EventBus, error) {
	wmLogger := watermill.NewSlogLogger(logger)

	switch cfg.EventBus {
	case "kafka":
		pub, sub, err := kafka.CreateChannel(wmLogger, cfg.Kafka.Brokers, cfg.Kafka.ConsumerGroup)
		if err != nil {
			return nil, fmt.Errorf("failed to create Kafka pub/sub: %w", err)
		}

		return eventbus.NewWatermillEventBus(logger, pub, sub), nil
	case "gochannel":
		pub, sub, err := gochannel.CreateChannel(wmLogger, gochannel.DefaultBuffer)
		if err != nil {
			return nil, fmt.Errorf("failed to create in-process pub/sub: %w", err)
		}

		return eventbus.NewWatermillEventBus(logger, pub, sub), nil
	default:
		return nil, fmt.Errorf("unsupported event bus provider: %s", cfg.EventBus)
	}
}
