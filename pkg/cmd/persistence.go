package cmd

import (
	"context"
	"log/slog"

	"github.com/dukex/missionflow/pkg/persistence"
	"github.com/dukex/missionflow/pkg/persistence/sqlstore"
)

// NewPersistence opens PostgreSQL for postgres:// URLs and SQLite otherwise.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (persistence.Persistence, error) {
	return sqlstore.Open(ctx, logger, databaseURL)
}
