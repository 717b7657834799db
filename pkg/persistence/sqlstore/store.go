// Package sqlstore implements persistence on an embedded SQLite file, or on
// PostgreSQL when a postgres:// URL is configured.
package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/dukex/missionflow/pkg/persistence"
	"github.com/dukex/missionflow/pkg/persistence/sqlbase"
)

// Dialect selects driver-specific SQL.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

var _ persistence.Persistence = (*Store)(nil)

// Store implements persistence.Persistence on database/sql.
type Store struct {
	db      *sql.DB
	dialect Dialect
	logger  *slog.Logger
}

// Open opens the database named by databaseURL and runs migrations.
// postgres:// and postgresql:// URLs use PostgreSQL; anything else is a SQLite file path.
func Open(ctx context.Context, logger *slog.Logger, databaseURL string) (*Store, error) {
	if strings.HasPrefix(databaseURL, "postgres://") || strings.HasPrefix(databaseURL, "postgresql://") {
		return openPostgres(ctx, logger, databaseURL)
	}

	return OpenSQLite(ctx, logger, strings.TrimPrefix(databaseURL, "sqlite://"))
}

// OpenSQLite opens (creating if needed) a SQLite database file.
func OpenSQLite(ctx context.Context, logger *slog.Logger, path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)

	database, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}

	// A single connection serializes writers; callers never hold rows open
	// across another query.
	database.SetMaxOpenConns(1)

	return newStore(ctx, logger, database, DialectSQLite)
}

func openPostgres(ctx context.Context, logger *slog.Logger, databaseURL string) (*Store, error) {
	database, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL database: %w", err)
	}

	return newStore(ctx, logger, database, DialectPostgres)
}

func newStore(ctx context.Context, logger *slog.Logger, database *sql.DB, dialect Dialect) (*Store, error) {
	err := database.PingContext(ctx)
	if err != nil {
		_ = database.Close()

		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := &Store{
		db:      database,
		dialect: dialect,
		logger:  logger.With("module", "sqlstore", "dialect", string(dialect)),
	}

	// Run migrations on initialization
	migrationManager := sqlbase.NewMigrationManager(store.logger, database, migrations(), store.rebind)

	err = migrationManager.RunMigrations(ctx)
	if err != nil {
		_ = database.Close()

		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return store, nil
}

// Dialect returns the SQL dialect in use.
func (s *Store) Dialect() Dialect {
	return s.dialect
}

// Close closes the database connection.
func (s *Store) Close(_ context.Context) error {
	if s.db != nil {
		err := s.db.Close()
		if err != nil {
			return fmt.Errorf("failed to close database connection: %w", err)
		}
	}

	return nil
}

// HealthCheck verifies the database connection is healthy.
func (s *Store) HealthCheck(ctx context.Context) error {
	err := s.db.PingContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	return nil
}

// rebind rewrites "?" placeholders into "$n" for PostgreSQL.
func (s *Store) rebind(query string) string {
	if s.dialect != DialectPostgres {
		return query
	}

	var (
		b strings.Builder
		n int
	)

	b.Grow(len(query) + 8)

	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))

			continue
		}

		b.WriteRune(r)
	}

	return b.String()
}
