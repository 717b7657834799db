package sqlstore

// migrations use portable column types so one schema serves SQLite and
// PostgreSQL. Times are fixed-width UTC text and sort lexically.
func migrations() map[int]string {
	return map[int]string{
		1: initialSchema(),
	}
}

func initialSchema() string {
	return `
		CREATE TABLE IF NOT EXISTS mission_runs (
			id TEXT PRIMARY KEY,
			mission_id TEXT NOT NULL,
			automation_id TEXT NOT NULL DEFAULT '',
			domain_id TEXT NOT NULL,
			status TEXT NOT NULL,
			mode TEXT NOT NULL DEFAULT '',
			inputs TEXT NOT NULL DEFAULT '{}',
			provenance TEXT NOT NULL DEFAULT '{}',
			raw_text TEXT NOT NULL DEFAULT '',
			raw_text_hash TEXT NOT NULL DEFAULT '',
			diagnostics TEXT NOT NULL DEFAULT '{}',
			error TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL,
			started_at TEXT,
			finished_at TEXT,
			duration_ms BIGINT NOT NULL DEFAULT 0
		);

		CREATE INDEX IF NOT EXISTS idx_mission_runs_domain ON mission_runs(domain_id, created_at);
		CREATE INDEX IF NOT EXISTS idx_mission_runs_status ON mission_runs(status);
		CREATE INDEX IF NOT EXISTS idx_mission_runs_automation ON mission_runs(automation_id);

		CREATE TABLE IF NOT EXISTS mission_run_outputs (
			id TEXT PRIMARY KEY,
			run_id TEXT NOT NULL REFERENCES mission_runs(id) ON DELETE CASCADE,
			output_index INTEGER NOT NULL,
			type TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_mission_run_outputs_run ON mission_run_outputs(run_id, output_index);

		CREATE TABLE IF NOT EXISTS mission_run_actions (
			id TEXT PRIMARY KEY,
			run_id TEXT NOT NULL REFERENCES mission_runs(id) ON DELETE CASCADE,
			type TEXT NOT NULL,
			status TEXT NOT NULL,
			payload TEXT NOT NULL,
			source_output_index INTEGER NOT NULL,
			position INTEGER NOT NULL DEFAULT 0,
			result TEXT NOT NULL DEFAULT '',
			error TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			executed_at TEXT
		);

		CREATE INDEX IF NOT EXISTS idx_mission_run_actions_run ON mission_run_actions(run_id);

		CREATE TABLE IF NOT EXISTS automations (
			id TEXT PRIMARY KEY,
			domain_id TEXT NOT NULL,
			name TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			trigger_type TEXT NOT NULL,
			cron TEXT NOT NULL DEFAULT '',
			event TEXT NOT NULL DEFAULT '',
			prompt_template TEXT NOT NULL DEFAULT '',
			mission_id TEXT NOT NULL DEFAULT '',
			mission_inputs TEXT NOT NULL DEFAULT '{}',
			action TEXT NOT NULL DEFAULT '',
			require_approval INTEGER NOT NULL DEFAULT 1,
			enabled INTEGER NOT NULL DEFAULT 1,
			catch_up INTEGER NOT NULL DEFAULT 0,
			store_payloads INTEGER NOT NULL DEFAULT 0,
			failure_streak INTEGER NOT NULL DEFAULT 0,
			last_error TEXT NOT NULL DEFAULT '',
			last_run_at TEXT,
			next_run_at TEXT,
			run_count INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_automations_domain ON automations(domain_id);

		CREATE TABLE IF NOT EXISTS automation_runs (
			id TEXT PRIMARY KEY,
			automation_id TEXT NOT NULL,
			mission_run_id TEXT NOT NULL DEFAULT '',
			trigger_source TEXT NOT NULL,
			status TEXT NOT NULL,
			scheduled_for TEXT,
			started_at TEXT NOT NULL,
			finished_at TEXT,
			duration_ms BIGINT NOT NULL DEFAULT 0,
			error_code TEXT NOT NULL DEFAULT '',
			error_message TEXT NOT NULL DEFAULT '',
			prompt_hash TEXT NOT NULL DEFAULT '',
			prompt TEXT NOT NULL DEFAULT '',
			response TEXT NOT NULL DEFAULT ''
		);

		CREATE INDEX IF NOT EXISTS idx_automation_runs_automation ON automation_runs(automation_id, started_at);

		CREATE TABLE IF NOT EXISTS mission_enablements (
			mission_id TEXT NOT NULL,
			domain_id TEXT NOT NULL,
			enabled INTEGER NOT NULL,
			updated_at TEXT NOT NULL,
			PRIMARY KEY (mission_id, domain_id)
		);
	`
}
