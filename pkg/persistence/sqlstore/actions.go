package sqlstore

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dukex/missionflow/pkg/models"
	"github.com/dukex/missionflow/pkg/persistence"
)

// SaveActions inserts or replaces actions proposed by a run.
func (s *Store) SaveActions(ctx context.Context, actions []*models.MissionRunAction) error {
	if len(actions) == 0 {
		return nil
	}

	runID := actions[0].RunID

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return persistence.NewRunError("SaveActions", runID, err)
	}

	query := s.rebind(`INSERT INTO mission_run_actions
		(id, run_id, type, status, payload, source_output_index, position, result, error, created_at, updated_at, executed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			status = excluded.status,
			payload = excluded.payload,
			result = excluded.result,
			error = excluded.error,
			updated_at = excluded.updated_at,
			executed_at = excluded.executed_at`)

	for i, action := range actions {
		payload, err := encodeJSON(action.Payload)
		if err != nil {
			_ = tx.Rollback()

			return persistence.NewRunError("SaveActions", runID, err)
		}

		result := ""
		if action.Result != nil {
			if result, err = encodeJSON(action.Result); err != nil {
				_ = tx.Rollback()

				return persistence.NewRunError("SaveActions", runID, err)
			}
		}

		_, err = tx.ExecContext(ctx, query,
			action.ID, action.RunID, string(action.Type), string(action.Status), payload, action.SourceOutputIndex, i,
			result, action.Error, formatTime(action.CreatedAt), formatTime(action.UpdatedAt), formatTimePtr(action.ExecutedAt))
		if err != nil {
			_ = tx.Rollback()

			return persistence.NewRunError("SaveActions", runID, fmt.Errorf("failed to save action %s: %w", action.ID, err))
		}
	}

	err = tx.Commit()
	if err != nil {
		return persistence.NewRunError("SaveActions", runID, err)
	}

	return nil
}

// Actions returns the actions of a run in proposal order.
func (s *Store) Actions(ctx context.Context, runID string) ([]*models.MissionRunAction, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`SELECT id, run_id, type, status, payload, source_output_index,
		result, error, created_at, updated_at, executed_at
		FROM mission_run_actions WHERE run_id = ? ORDER BY position ASC, created_at ASC, id ASC`), runID)
	if err != nil {
		return nil, persistence.NewRunError("Actions", runID, err)
	}
	defer func() { _ = rows.Close() }()

	actions := []*models.MissionRunAction{}

	for rows.Next() {
		action, err := scanAction(rows)
		if err != nil {
			return nil, persistence.NewRunError("Actions", runID, err)
		}

		actions = append(actions, action)
	}

	return actions, rows.Err()
}

func scanAction(scanner rowScanner) (*models.MissionRunAction, error) {
	var (
		action               models.MissionRunAction
		payload, result      string
		createdAt, updatedAt string
		executedAt           sql.NullString
	)

	err := scanner.Scan(&action.ID, &action.RunID, &action.Type, &action.Status, &payload, &action.SourceOutputIndex,
		&result, &action.Error, &createdAt, &updatedAt, &executedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to scan action: %w", err)
	}

	action.Payload, err = models.DecodeActionPayload(action.Type, []byte(payload))
	if err != nil {
		return nil, err
	}

	if err := decodeJSON(result, &action.Result); err != nil {
		return nil, err
	}

	if action.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}

	if action.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}

	if action.ExecutedAt, err = parseTimePtr(executedAt); err != nil {
		return nil, err
	}

	return &action, nil
}

// UpdateActionStatus moves an action from update.From to update.To atomically.
func (s *Store) UpdateActionStatus(ctx context.Context, update persistence.ActionUpdate) (bool, error) {
	result := ""

	if update.Result != nil {
		var err error
		if result, err = encodeJSON(update.Result); err != nil {
			return false, err
		}
	}

	executedAt := sql.NullString{}
	if update.To == models.ActionStatusExecuted {
		executedAt = formatTimePtr(&update.At)
	}

	res, err := s.db.ExecContext(ctx, s.rebind(`UPDATE mission_run_actions
		SET status = ?, result = ?, error = ?, updated_at = ?, executed_at = COALESCE(?, executed_at)
		WHERE id = ? AND status = ?`),
		string(update.To), result, update.Error, formatTime(update.At), executedAt, update.ID, string(update.From))
	if err != nil {
		return false, fmt.Errorf("failed to update action %s: %w", update.ID, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}

	if affected == 1 {
		return true, nil
	}

	var exists int

	err = s.db.QueryRowContext(ctx, s.rebind(`SELECT COUNT(*) FROM mission_run_actions WHERE id = ?`), update.ID).Scan(&exists)
	if err != nil {
		return false, err
	}

	if exists == 0 {
		return false, fmt.Errorf("update action %s: %w", update.ID, persistence.ErrActionNotFound)
	}

	return false, nil
}
