package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dukex/missionflow/pkg/models"
	"github.com/dukex/missionflow/pkg/persistence"
)

// SetEnablement stores whether a mission is enabled for a domain.
func (s *Store) SetEnablement(ctx context.Context, e *models.MissionEnablement) error {
	_, err := s.db.ExecContext(ctx, s.rebind(`INSERT INTO mission_enablements (mission_id, domain_id, enabled, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (mission_id, domain_id) DO UPDATE SET enabled = excluded.enabled, updated_at = excluded.updated_at`),
		e.MissionID, e.DomainID, boolToInt(e.Enabled), formatTime(e.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to save enablement %s/%s: %w", e.MissionID, e.DomainID, err)
	}

	return nil
}

// Enablement returns the stored enablement for a mission and domain.
func (s *Store) Enablement(ctx context.Context, missionID, domainID string) (*models.MissionEnablement, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT mission_id, domain_id, enabled, updated_at
		FROM mission_enablements WHERE mission_id = ? AND domain_id = ?`), missionID, domainID)

	e, err := scanEnablement(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("enablement %s/%s: %w", missionID, domainID, persistence.ErrEnablementNotFound)
	}

	return e, err
}

// Enablements lists the enablements of a domain, or all when domainID is empty.
func (s *Store) Enablements(ctx context.Context, domainID string) ([]*models.MissionEnablement, error) {
	query := `SELECT mission_id, domain_id, enabled, updated_at FROM mission_enablements`

	var args []any

	if domainID != "" {
		query += ` WHERE domain_id = ?`
		args = append(args, domainID)
	}

	query += ` ORDER BY domain_id, mission_id`

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query enablements: %w", err)
	}
	defer func() { _ = rows.Close() }()

	enablements := []*models.MissionEnablement{}

	for rows.Next() {
		e, err := scanEnablement(rows)
		if err != nil {
			return nil, err
		}

		enablements = append(enablements, e)
	}

	return enablements, rows.Err()
}

func scanEnablement(scanner rowScanner) (*models.MissionEnablement, error) {
	var (
		e         models.MissionEnablement
		enabled   int
		updatedAt string
	)

	err := scanner.Scan(&e.MissionID, &e.DomainID, &enabled, &updatedAt)
	if err != nil {
		return nil, err
	}

	e.Enabled = enabled == 1

	if e.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}

	return &e, nil
}
