// Package decisionstore provides the append-only, content-addressed
// persistence layer for pipeline runs, decisions, artifacts, requirements,
// constraints, token usage, and plan versions.
//
// It is backed by a single-file SQLite database, matching the store
// package of the cortex example: schema-as-const-string, CREATE TABLE IF
// NOT EXISTS, WAL + busy_timeout via DSN, ALTER TABLE ADD COLUMN
// migrations gated on pragma_table_info, and upserts that look the row
// up first and then run an UPDATE or an INSERT.
package decisionstore

const schema = `
CREATE TABLE IF NOT EXISTS pipeline_runs (
	id TEXT PRIMARY KEY,
	methodology TEXT NOT NULL,
	current_phase TEXT,
	status TEXT NOT NULL DEFAULT 'running',
	config_json TEXT,
	token_usage_json TEXT,
	parent_run_id TEXT,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS decisions (
	id TEXT PRIMARY KEY,
	pipeline_run_id TEXT,
	phase TEXT NOT NULL,
	category TEXT NOT NULL,
	key TEXT NOT NULL,
	value TEXT NOT NULL,
	rationale TEXT,
	superseded_by TEXT,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS artifacts (
	id TEXT PRIMARY KEY,
	pipeline_run_id TEXT,
	phase TEXT NOT NULL,
	type TEXT NOT NULL,
	path TEXT NOT NULL,
	content_hash TEXT,
	summary TEXT,
	created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS requirements (
	id TEXT PRIMARY KEY,
	pipeline_run_id TEXT,
	source TEXT NOT NULL,
	type TEXT NOT NULL,
	description TEXT NOT NULL,
	priority TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'active',
	created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS constraints (
	id TEXT PRIMARY KEY,
	pipeline_run_id TEXT,
	category TEXT NOT NULL,
	description TEXT NOT NULL,
	source TEXT NOT NULL,
	created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS token_usage (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	pipeline_run_id TEXT NOT NULL,
	phase TEXT NOT NULL,
	agent TEXT NOT NULL,
	input_tokens INTEGER NOT NULL DEFAULT 0,
	output_tokens INTEGER NOT NULL DEFAULT 0,
	cost_usd REAL NOT NULL DEFAULT 0,
	metadata_json TEXT,
	created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS plan_versions (
	plan_id TEXT NOT NULL,
	version INTEGER NOT NULL,
	task_graph_yaml TEXT NOT NULL,
	feedback_used TEXT,
	planning_cost_usd REAL NOT NULL DEFAULT 0,
	created_at TEXT NOT NULL,
	PRIMARY KEY (plan_id, version)
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_decisions_run_category_key
	ON decisions(pipeline_run_id, category, key);
CREATE INDEX IF NOT EXISTS idx_decisions_run_phase ON decisions(pipeline_run_id, phase);
CREATE INDEX IF NOT EXISTS idx_artifacts_phase_type ON artifacts(phase, type, created_at);
CREATE INDEX IF NOT EXISTS idx_requirements_run ON requirements(pipeline_run_id);
CREATE INDEX IF NOT EXISTS idx_constraints_run ON constraints(pipeline_run_id);
CREATE INDEX IF NOT EXISTS idx_token_usage_run_phase_agent ON token_usage(pipeline_run_id, phase, agent);
CREATE INDEX IF NOT EXISTS idx_pipeline_runs_parent ON pipeline_runs(parent_run_id);
`

// migrate applies incremental, additive schema migrations for databases
// created by an earlier version of this package. Every step is gated on
// pragma_table_info so re-running it against an up-to-date database is a
// no-op, matching the cortex store's migrate().
func migrate(exec execer) error {
	if err := addColumnIfMissing(exec, "pipeline_runs", "parent_run_id", "TEXT"); err != nil {
		return err
	}
	if err := addColumnIfMissing(exec, "decisions", "rationale", "TEXT"); err != nil {
		return err
	}
	if err := addColumnIfMissing(exec, "artifacts", "content_hash", "TEXT"); err != nil {
		return err
	}
	if err := addColumnIfMissing(exec, "artifacts", "summary", "TEXT"); err != nil {
		return err
	}
	return nil
}
