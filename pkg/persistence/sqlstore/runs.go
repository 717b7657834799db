package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/dukex/missionflow/pkg/models"
	"github.com/dukex/missionflow/pkg/persistence"
)

const runColumns = `id, mission_id, automation_id, domain_id, status, mode, inputs, provenance,
	raw_text, raw_text_hash, diagnostics, error, created_at, started_at, finished_at, duration_ms`

const terminalStatuses = `('success', 'failed', 'cancelled')`

type runRow struct {
	inputs, provenance, diagnostics, runErr string
	createdAt                               string
	startedAt, finishedAt                   sql.NullString
}

func runArgs(run *models.MissionRun) ([]any, error) {
	inputs, err := encodeJSON(run.Inputs)
	if err != nil {
		return nil, err
	}

	provenance, err := encodeJSON(run.Provenance)
	if err != nil {
		return nil, err
	}

	diagnostics, err := encodeJSON(run.Diagnostics)
	if err != nil {
		return nil, err
	}

	runErr := ""

	if run.Error != nil {
		runErr, err = encodeJSON(run.Error)
		if err != nil {
			return nil, err
		}
	}

	return []any{
		run.ID, run.MissionID, run.AutomationID, run.DomainID, string(run.Status), run.Mode, inputs, provenance,
		run.RawText, run.RawTextHash, diagnostics, runErr, formatTime(run.CreatedAt),
		formatTimePtr(run.StartedAt), formatTimePtr(run.FinishedAt), run.DurationMS,
	}, nil
}

func scanRun(scanner rowScanner) (*models.MissionRun, error) {
	var (
		run models.MissionRun
		row runRow
	)

	err := scanner.Scan(
		&run.ID, &run.MissionID, &run.AutomationID, &run.DomainID, &run.Status, &run.Mode, &row.inputs, &row.provenance,
		&run.RawText, &run.RawTextHash, &row.diagnostics, &row.runErr, &row.createdAt,
		&row.startedAt, &row.finishedAt, &run.DurationMS,
	)
	if err != nil {
		return nil, err
	}

	if err := decodeJSON(row.inputs, &run.Inputs); err != nil {
		return nil, err
	}

	if err := decodeJSON(row.provenance, &run.Provenance); err != nil {
		return nil, err
	}

	if err := decodeJSON(row.diagnostics, &run.Diagnostics); err != nil {
		return nil, err
	}

	if row.runErr != "" {
		run.Error = &models.RunError{}
		if err := decodeJSON(row.runErr, run.Error); err != nil {
			return nil, err
		}
	}

	if run.CreatedAt, err = parseTime(row.createdAt); err != nil {
		return nil, err
	}

	if run.StartedAt, err = parseTimePtr(row.startedAt); err != nil {
		return nil, err
	}

	if run.FinishedAt, err = parseTimePtr(row.finishedAt); err != nil {
		return nil, err
	}

	return &run, nil
}

// CreateRun inserts a new run row.
func (s *Store) CreateRun(ctx context.Context, run *models.MissionRun) error {
	args, err := runArgs(run)
	if err != nil {
		return persistence.NewRunError("CreateRun", run.ID, err)
	}

	query := `INSERT INTO mission_runs (` + runColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = s.db.ExecContext(ctx, s.rebind(query), args...)
	if err != nil {
		return persistence.NewRunError("CreateRun", run.ID, fmt.Errorf("failed to insert run: %w", err))
	}

	return nil
}

// UpdateRun updates a run unless its stored status is already terminal.
func (s *Store) UpdateRun(ctx context.Context, run *models.MissionRun) error {
	args, err := runArgs(run)
	if err != nil {
		return persistence.NewRunError("UpdateRun", run.ID, err)
	}

	query := `UPDATE mission_runs SET
		mission_id = ?, automation_id = ?, domain_id = ?, status = ?, mode = ?, inputs = ?, provenance = ?,
		raw_text = ?, raw_text_hash = ?, diagnostics = ?, error = ?, created_at = ?,
		started_at = ?, finished_at = ?, duration_ms = ?
		WHERE id = ? AND status NOT IN ` + terminalStatuses

	result, err := s.db.ExecContext(ctx, s.rebind(query), append(args[1:], run.ID)...)
	if err != nil {
		return persistence.NewRunError("UpdateRun", run.ID, fmt.Errorf("failed to update run: %w", err))
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return persistence.NewRunError("UpdateRun", run.ID, err)
	}

	if affected > 0 {
		return nil
	}

	var status string

	err = s.db.QueryRowContext(ctx, s.rebind(`SELECT status FROM mission_runs WHERE id = ?`), run.ID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return persistence.NewRunError("UpdateRun", run.ID, persistence.ErrRunNotFound)
	}

	if err != nil {
		return persistence.NewRunError("UpdateRun", run.ID, err)
	}

	return persistence.NewRunError("UpdateRun", run.ID, persistence.ErrRunTerminal)
}

// RunByID returns a run with its outputs and actions.
func (s *Store) RunByID(ctx context.Context, id string) (*models.MissionRun, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+runColumns+` FROM mission_runs WHERE id = ?`), id)

	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.NewRunError("RunByID", id, persistence.ErrRunNotFound)
	}

	if err != nil {
		return nil, persistence.NewRunError("RunByID", id, err)
	}

	run.Outputs, err = s.outputs(ctx, id)
	if err != nil {
		return nil, persistence.NewRunError("RunByID", id, err)
	}

	run.Actions, err = s.Actions(ctx, id)
	if err != nil {
		return nil, err
	}

	return run, nil
}

// Runs lists runs newest first.
func (s *Store) Runs(ctx context.Context, filter persistence.RunFilter) ([]*models.MissionRun, error) {
	var (
		where []string
		args  []any
	)

	if filter.DomainID != "" {
		where = append(where, "domain_id = ?")
		args = append(args, filter.DomainID)
	}

	if filter.MissionID != "" {
		where = append(where, "mission_id = ?")
		args = append(args, filter.MissionID)
	}

	if filter.AutomationID != "" {
		where = append(where, "automation_id = ?")
		args = append(args, filter.AutomationID)
	}

	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(filter.Status))
	}

	query := `SELECT ` + runColumns + ` FROM mission_runs`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}

	query += " ORDER BY created_at DESC, id DESC"

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	return s.queryRuns(ctx, query, args...)
}

// ActiveRuns returns runs that still hold their domain.
func (s *Store) ActiveRuns(ctx context.Context) ([]*models.MissionRun, error) {
	query := `SELECT ` + runColumns + ` FROM mission_runs
		WHERE status IN ('pending', 'running', 'gated') ORDER BY created_at ASC`

	return s.queryRuns(ctx, query)
}

func (s *Store) queryRuns(ctx context.Context, query string, args ...any) ([]*models.MissionRun, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	runs := []*models.MissionRun{}

	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}

		runs = append(runs, run)
	}

	return runs, rows.Err()
}

// SaveOutputs writes the parsed outputs of a run in one transaction.
func (s *Store) SaveOutputs(ctx context.Context, runID string, outputs []*models.MissionRunOutput) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return persistence.NewRunError("SaveOutputs", runID, err)
	}

	query := s.rebind(`INSERT INTO mission_run_outputs (id, run_id, output_index, type, content, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`)

	for _, output := range outputs {
		content, err := encodeJSON(output.Content)
		if err != nil {
			_ = tx.Rollback()

			return persistence.NewRunError("SaveOutputs", runID, err)
		}

		_, err = tx.ExecContext(ctx, query,
			output.ID, runID, output.Index, string(output.Type), content, formatTime(output.CreatedAt))
		if err != nil {
			_ = tx.Rollback()

			return persistence.NewRunError("SaveOutputs", runID, fmt.Errorf("failed to insert output: %w", err))
		}
	}

	err = tx.Commit()
	if err != nil {
		return persistence.NewRunError("SaveOutputs", runID, err)
	}

	return nil
}

func (s *Store) outputs(ctx context.Context, runID string) ([]*models.MissionRunOutput, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`SELECT id, run_id, output_index, type, content, created_at
		FROM mission_run_outputs WHERE run_id = ? ORDER BY output_index ASC`), runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query outputs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	outputs := []*models.MissionRunOutput{}

	for rows.Next() {
		var (
			output    models.MissionRunOutput
			content   string
			createdAt string
		)

		err := rows.Scan(&output.ID, &output.RunID, &output.Index, &output.Type, &content, &createdAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan output: %w", err)
		}

		output.Content, err = models.DecodeOutputContent(output.Type, []byte(content))
		if err != nil {
			return nil, err
		}

		if output.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}

		outputs = append(outputs, &output)
	}

	return outputs, rows.Err()
}
