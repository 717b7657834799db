package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dukex/missionflow/pkg/models"
	"github.com/dukex/missionflow/pkg/persistence"
)

const automationColumns = `id, domain_id, name, description, trigger_type, cron, event, prompt_template,
	mission_id, mission_inputs, action, require_approval, enabled, catch_up, store_payloads,
	failure_streak, last_error, last_run_at, next_run_at, run_count, created_at, updated_at`

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// SaveAutomation inserts or updates an automation.
func (s *Store) SaveAutomation(ctx context.Context, a *models.Automation) error {
	return s.saveAutomation(ctx, s.db, a)
}

// UpdateAutomation reloads the automation inside a transaction, applies
// mutate and stores the result. Concurrent updates of the same row are
// serialized, so mutate always sees the latest stored state.
func (s *Store) UpdateAutomation(ctx context.Context, id string, mutate func(*models.Automation) error) (*models.Automation, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, persistence.NewAutomationError("UpdateAutomation", id, fmt.Errorf("failed to begin transaction: %w", err))
	}
	defer func() { _ = tx.Rollback() }()

	query := `SELECT ` + automationColumns + ` FROM automations WHERE id = ?`
	if s.dialect == DialectPostgres {
		query += ` FOR UPDATE`
	}

	automation, err := scanAutomation(tx.QueryRowContext(ctx, s.rebind(query), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.NewAutomationError("UpdateAutomation", id, persistence.ErrAutomationNotFound)
	}

	if err != nil {
		return nil, persistence.NewAutomationError("UpdateAutomation", id, err)
	}

	if err := mutate(automation); err != nil {
		return nil, err
	}

	if err := s.saveAutomation(ctx, tx, automation); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, persistence.NewAutomationError("UpdateAutomation", id, fmt.Errorf("failed to commit: %w", err))
	}

	return automation, nil
}

func (s *Store) saveAutomation(ctx context.Context, db execer, a *models.Automation) error {
	inputs, err := encodeJSON(a.MissionInputs)
	if err != nil {
		return persistence.NewAutomationError("SaveAutomation", a.ID, err)
	}

	action := ""
	if a.Action != nil {
		if action, err = encodeJSON(a.Action); err != nil {
			return persistence.NewAutomationError("SaveAutomation", a.ID, err)
		}
	}

	query := `INSERT INTO automations (` + automationColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			domain_id = excluded.domain_id,
			name = excluded.name,
			description = excluded.description,
			trigger_type = excluded.trigger_type,
			cron = excluded.cron,
			event = excluded.event,
			prompt_template = excluded.prompt_template,
			mission_id = excluded.mission_id,
			mission_inputs = excluded.mission_inputs,
			action = excluded.action,
			require_approval = excluded.require_approval,
			enabled = excluded.enabled,
			catch_up = excluded.catch_up,
			store_payloads = excluded.store_payloads,
			failure_streak = excluded.failure_streak,
			last_error = excluded.last_error,
			last_run_at = excluded.last_run_at,
			next_run_at = excluded.next_run_at,
			run_count = excluded.run_count,
			updated_at = excluded.updated_at`

	_, err = db.ExecContext(ctx, s.rebind(query),
		a.ID, a.DomainID, a.Name, a.Description, string(a.Trigger), a.Cron, string(a.Event), a.PromptTemplate,
		a.MissionID, inputs, action, boolToInt(a.RequireApproval), boolToInt(a.Enabled), boolToInt(a.CatchUp),
		boolToInt(a.StorePayloads), a.FailureStreak, a.LastError, formatTimePtr(a.LastRunAt), formatTimePtr(a.NextRunAt),
		a.RunCount, formatTime(a.CreatedAt), formatTime(a.UpdatedAt))
	if err != nil {
		return persistence.NewAutomationError("SaveAutomation", a.ID, fmt.Errorf("failed to save automation: %w", err))
	}

	return nil
}

func scanAutomation(scanner rowScanner) (*models.Automation, error) {
	var (
		a                                               models.Automation
		inputs, action, createdAt, updatedAt            string
		requireApproval, enabled, catchUp, storePayload int
		lastRunAt, nextRunAt                            sql.NullString
	)

	err := scanner.Scan(&a.ID, &a.DomainID, &a.Name, &a.Description, &a.Trigger, &a.Cron, &a.Event, &a.PromptTemplate,
		&a.MissionID, &inputs, &action, &requireApproval, &enabled, &catchUp, &storePayload,
		&a.FailureStreak, &a.LastError, &lastRunAt, &nextRunAt, &a.RunCount, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	a.RequireApproval = requireApproval == 1
	a.Enabled = enabled == 1
	a.CatchUp = catchUp == 1
	a.StorePayloads = storePayload == 1

	if err := decodeJSON(inputs, &a.MissionInputs); err != nil {
		return nil, err
	}

	if action != "" {
		a.Action = &models.ActionConfig{}
		if err := decodeJSON(action, a.Action); err != nil {
			return nil, err
		}
	}

	if a.LastRunAt, err = parseTimePtr(lastRunAt); err != nil {
		return nil, err
	}

	if a.NextRunAt, err = parseTimePtr(nextRunAt); err != nil {
		return nil, err
	}

	if a.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}

	if a.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}

	return &a, nil
}

// AutomationByID returns an automation by its ID.
func (s *Store) AutomationByID(ctx context.Context, id string) (*models.Automation, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+automationColumns+` FROM automations WHERE id = ?`), id)

	automation, err := scanAutomation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.NewAutomationError("AutomationByID", id, persistence.ErrAutomationNotFound)
	}

	if err != nil {
		return nil, persistence.NewAutomationError("AutomationByID", id, err)
	}

	return automation, nil
}

// Automations lists automations ordered by creation time.
func (s *Store) Automations(ctx context.Context, domainID string) ([]*models.Automation, error) {
	query := `SELECT ` + automationColumns + ` FROM automations`

	var args []any

	if domainID != "" {
		query += ` WHERE domain_id = ?`
		args = append(args, domainID)
	}

	query += ` ORDER BY created_at ASC, id ASC`

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query automations: %w", err)
	}
	defer func() { _ = rows.Close() }()

	automations := []*models.Automation{}

	for rows.Next() {
		automation, err := scanAutomation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan automation: %w", err)
		}

		automations = append(automations, automation)
	}

	return automations, rows.Err()
}

// DeleteAutomation removes an automation. Its run history is kept.
func (s *Store) DeleteAutomation(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM automations WHERE id = ?`), id)
	if err != nil {
		return persistence.NewAutomationError("DeleteAutomation", id, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return persistence.NewAutomationError("DeleteAutomation", id, err)
	}

	if affected == 0 {
		return persistence.NewAutomationError("DeleteAutomation", id, persistence.ErrAutomationNotFound)
	}

	return nil
}

const automationRunColumns = `id, automation_id, mission_run_id, trigger_source, status, scheduled_for, started_at,
	finished_at, duration_ms, error_code, error_message, prompt_hash, prompt, response`

// AppendAutomationRun records the start of an automation run.
func (s *Store) AppendAutomationRun(ctx context.Context, r *models.AutomationRun) error {
	_, err := s.db.ExecContext(ctx, s.rebind(`INSERT INTO automation_runs (`+automationRunColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		r.ID, r.AutomationID, r.MissionRunID, string(r.Trigger), string(r.Status), formatTimePtr(r.ScheduledFor),
		formatTime(r.StartedAt), formatTimePtr(r.FinishedAt), r.DurationMS, r.ErrorCode, r.ErrorMessage,
		r.PromptHash, r.Prompt, r.Response)
	if err != nil {
		return persistence.NewAutomationError("AppendAutomationRun", r.AutomationID, err)
	}

	return nil
}

// FinishAutomationRun stores the outcome of a previously appended run.
func (s *Store) FinishAutomationRun(ctx context.Context, r *models.AutomationRun) error {
	_, err := s.db.ExecContext(ctx, s.rebind(`UPDATE automation_runs SET
			mission_run_id = ?, status = ?, finished_at = ?, duration_ms = ?, error_code = ?, error_message = ?,
			prompt_hash = ?, prompt = ?, response = ?
		WHERE id = ?`),
		r.MissionRunID, string(r.Status), formatTimePtr(r.FinishedAt), r.DurationMS, r.ErrorCode, r.ErrorMessage,
		r.PromptHash, r.Prompt, r.Response, r.ID)
	if err != nil {
		return persistence.NewAutomationError("FinishAutomationRun", r.AutomationID, err)
	}

	return nil
}

// AutomationRuns returns the history of an automation, newest first.
func (s *Store) AutomationRuns(ctx context.Context, automationID string, limit int) ([]*models.AutomationRun, error) {
	query := `SELECT ` + automationRunColumns + ` FROM automation_runs WHERE automation_id = ?
		ORDER BY started_at DESC, id DESC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := s.db.QueryContext(ctx, s.rebind(query), automationID)
	if err != nil {
		return nil, persistence.NewAutomationError("AutomationRuns", automationID, err)
	}
	defer func() { _ = rows.Close() }()

	runs := []*models.AutomationRun{}

	for rows.Next() {
		var (
			r                        models.AutomationRun
			startedAt                string
			scheduledFor, finishedAt sql.NullString
		)

		err := rows.Scan(&r.ID, &r.AutomationID, &r.MissionRunID, &r.Trigger, &r.Status, &scheduledFor, &startedAt,
			&finishedAt, &r.DurationMS, &r.ErrorCode, &r.ErrorMessage, &r.PromptHash, &r.Prompt, &r.Response)
		if err != nil {
			return nil, persistence.NewAutomationError("AutomationRuns", automationID, err)
		}

		if r.StartedAt, err = parseTime(startedAt); err != nil {
			return nil, err
		}

		if r.ScheduledFor, err = parseTimePtr(scheduledFor); err != nil {
			return nil, err
		}

		if r.FinishedAt, err = parseTimePtr(finishedAt); err != nil {
			return nil, err
		}

		runs = append(runs, &r)
	}

	return runs, rows.Err()
}
