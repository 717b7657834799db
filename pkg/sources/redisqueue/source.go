// Package redisqueue feeds domain events pushed onto a Redis list into the
// event bus.
package redisqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/dukex/missionflow/pkg/eventbus"
	"github.com/dukex/missionflow/pkg/events"
	"github.com/dukex/missionflow/pkg/models"
)

// DefaultQueue is the list popped when no queue is configured.
const DefaultQueue = "missionflow:domain-events"

var (
	ErrInvalidMessage = errors.New("invalid domain event message")
	ErrInvalidDB      = errors.New("invalid redis db")
)

// Message is the JSON document expected on the list.
type Message struct {
	Name     models.DomainEventName `json:"name"`
	DomainID string                 `json:"domain_id"`
	Payload  map[string]any         `json:"payload"`
}

type Source struct {
	Addr     string
	Password string
	DB       int
	Queue    string

	client    redis.UniversalClient
	publisher eventbus.EventPublisher
	logger    *slog.Logger
	stopCh    chan struct{}
	wg        sync.WaitGroup
}

// NewSource builds a source from config keys queue and connection
// (addr, password, db).
func NewSource(config map[string]any, publisher eventbus.EventPublisher, logger *slog.Logger) (*Source, error) {
	queue, _ := config["queue"].(string)
	if queue == "" {
		queue = DefaultQueue
	}

	source := &Source{
		Addr:      "localhost:6379",
		Queue:     queue,
		publisher: publisher,
		stopCh:    make(chan struct{}),
		logger:    logger.With("module", "redisqueue", "queue", queue),
	}

	connection, _ := config["connection"].(map[string]any)

	if addr, ok := connection["addr"].(string); ok && addr != "" {
		source.Addr = addr
	}

	source.Password, _ = connection["password"].(string)

	switch db := connection["db"].(type) {
	case nil:
	case int:
		source.DB = db
	case float64:
		source.DB = int(db)
	case string:
		parsed, err := strconv.Atoi(db)
		if err != nil {
			return nil, fmt.Errorf("%w: %q", ErrInvalidDB, db)
		}

		source.DB = parsed
	default:
		return nil, fmt.Errorf("%w: %v", ErrInvalidDB, db)
	}

	if source.DB < 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidDB, source.DB)
	}

	return source, nil
}

func (s *Source) Start(ctx context.Context) error {
	s.client = redis.NewClient(&redis.Options{
		Addr:     s.Addr,
		Password: s.Password,
		DB:       s.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := s.client.Ping(pingCtx).Err(); err != nil {
		_ = s.client.Close()

		return fmt.Errorf("failed to connect to Redis: %w", err)
	}

	s.logger.InfoContext(ctx, "Connected to Redis", "addr", s.Addr, "db", s.DB)

	s.wg.Add(1)

	go s.consume(ctx)

	return nil
}

func (s *Source) consume(ctx context.Context) {
	defer s.wg.Done()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		default:
			if err := s.pop(ctx); err != nil {
				s.logger.ErrorContext(ctx, "Error reading domain event", "error", err)

				select {
				case <-s.stopCh:
					return
				case <-ctx.Done():
					return
				case <-time.After(time.Second):
				}
			}
		}
	}
}

func (s *Source) pop(ctx context.Context) error {
	result, err := s.client.BLPop(ctx, time.Second, s.Queue).Result()
	if errors.Is(err, redis.Nil) {
		return nil
	}

	if err != nil {
		return fmt.Errorf("failed to pop message from queue: %w", err)
	}

	if len(result) < 2 {
		return nil
	}

	event, err := Decode([]byte(result[1]))
	if err != nil {
		s.logger.WarnContext(ctx, "Dropping domain event", "error", err)

		return nil
	}

	s.logger.InfoContext(ctx, "Domain event received", "name", event.Name, "domain_id", event.DomainID)

	return s.publisher.Publish(ctx, event.DomainID, event)
}

// Decode turns a queue message into a domain event.
func Decode(raw []byte) (*events.DomainEvent, error) {
	var msg Message

	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidMessage, err)
	}

	if !msg.Name.Valid() {
		return nil, fmt.Errorf("%w: unsupported event %q", ErrInvalidMessage, msg.Name)
	}

	if msg.DomainID == "" {
		return nil, fmt.Errorf("%w: domain_id is required", ErrInvalidMessage)
	}

	return events.NewDomainEvent(msg.Name, msg.DomainID, msg.Payload), nil
}

func (s *Source) Stop(ctx context.Context) error {
	s.logger.InfoContext(ctx, "Stopping domain event source")

	close(s.stopCh)
	s.wg.Wait()

	if s.client != nil {
		if err := s.client.Close(); err != nil {
			return fmt.Errorf("failed to close Redis client: %w", err)
		}
	}

	return nil
}
