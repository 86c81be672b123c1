package decisionstore

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/substratehq/substrate/contracts"
)

// MaxAmendmentDepth is the default bound on parent_run_id chain
// walks, overridable through the layered Config System.
const MaxAmendmentDepth = 10

// execer is the subset of *sql.DB used by schema setup, satisfied by
// *sql.DB itself; it exists only so migrate() doesn't need the full type.
type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
	QueryRow(query string, args ...any) *sql.Row
}

// Store is the SQLite-backed Decision Store.
type Store struct {
	db *sql.DB
}

// Open creates or opens the decision database at path, applying the
// schema and any pending additive migrations. WAL mode and a
// busy_timeout are set via DSN query params, matching the cortex
// example's store.Open.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("decisionstore: open %s: %w", path, err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("decisionstore: create schema: %w", err)
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("decisionstore: migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error { return s.db.Close() }

func nowISO() string { return time.Now().UTC().Format(time.RFC3339Nano) }

func addColumnIfMissing(exec execer, table, column, ddlType string) error {
	var count int
	err := exec.QueryRow(
		fmt.Sprintf(`SELECT COUNT(*) FROM pragma_table_info('%s') WHERE name = ?`, table),
		column,
	).Scan(&count)
	if err != nil {
		return fmt.Errorf("check %s.%s column: %w", table, column, err)
	}
	if count > 0 {
		return nil
	}
	if _, err := exec.Exec(fmt.Sprintf(`ALTER TABLE %s ADD COLUMN %s %s`, table, column, ddlType)); err != nil {
		return fmt.Errorf("add %s.%s column: %w", table, column, err)
	}
	return nil
}

// ---- PipelineRun ----

// CreatePipelineRun inserts a new run. If parentRunID is non-empty, the
// parent must exist and have status RunCompleted, and the new chain
// depth (walked via GetAmendmentRunChain) must not exceed maxDepth.
func (s *Store) CreatePipelineRun(methodology, parentRunID string, maxDepth int) (*PipelineRun, error) {
	if maxDepth <= 0 {
		maxDepth = MaxAmendmentDepth
	}
	if parentRunID != "" {
		parent, err := s.GetPipelineRun(parentRunID)
		if err != nil {
			return nil, err
		}
		if parent.Status != RunCompleted {
			return nil, fmt.Errorf("decisionstore: create run: parent %s: %w", parentRunID, ErrParentRunNotCompleted)
		}
		if _, err := s.GetAmendmentRunChain(parentRunID, maxDepth-1); err != nil {
			return nil, err
		}
	}

	now := nowISO()
	run := &PipelineRun{
		ID:          uuid.NewString(),
		Methodology: methodology,
		Status:      RunRunning,
		ParentRunID: parentRunID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	_, err := s.db.Exec(
		`INSERT INTO pipeline_runs (id, methodology, current_phase, status, config_json, token_usage_json, parent_run_id, created_at, updated_at)
		 VALUES (?, ?, '', ?, '', '', ?, ?, ?)`,
		run.ID, run.Methodology, run.Status, nullableString(run.ParentRunID), run.CreatedAt, run.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("decisionstore: create run: %w", err)
	}
	return run, nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// GetPipelineRun loads a run by ID.
func (s *Store) GetPipelineRun(id string) (*PipelineRun, error) {
	row := s.db.QueryRow(
		`SELECT id, methodology, current_phase, status, config_json, token_usage_json, COALESCE(parent_run_id, ''), created_at, updated_at
		 FROM pipeline_runs WHERE id = ?`, id)
	var r PipelineRun
	if err := row.Scan(&r.ID, &r.Methodology, &r.CurrentPhase, &r.Status, &r.ConfigJSON, &r.TokenUsageJSON, &r.ParentRunID, &r.CreatedAt, &r.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("decisionstore: run %s: %w", id, contracts.ErrNotFound)
		}
		return nil, fmt.Errorf("decisionstore: get run: %w", err)
	}
	return &r, nil
}

// UpdatePipelineRunStatus transitions a run to a new status and, if
// phase is non-empty, updates current_phase too.
func (s *Store) UpdatePipelineRunStatus(id string, status RunStatus, phase string) error {
	if phase == "" {
		_, err := s.db.Exec(`UPDATE pipeline_runs SET status = ?, updated_at = ? WHERE id = ?`, status, nowISO(), id)
		if err != nil {
			return fmt.Errorf("decisionstore: update run status: %w", err)
		}
		return nil
	}
	_, err := s.db.Exec(`UPDATE pipeline_runs SET status = ?, current_phase = ?, updated_at = ? WHERE id = ?`,
		status, phase, nowISO(), id)
	if err != nil {
		return fmt.Errorf("decisionstore: update run status: %w", err)
	}
	return nil
}

// GetAmendmentRunChain walks parent_run_id pointers starting at runID
// until null or depth exceeds maxDepth, returning root-first entries
// with depth = index. Depth exceeding maxDepth fails ErrChainTooDeep.
func (s *Store) GetAmendmentRunChain(runID string, maxDepth int) ([]AmendmentEntry, error) {
	if maxDepth <= 0 {
		maxDepth = MaxAmendmentDepth
	}
	var chain []*PipelineRun
	cur := runID
	for depth := 0; ; depth++ {
		if depth > maxDepth {
			return nil, fmt.Errorf("decisionstore: amendment chain from %s: %w", runID, ErrChainTooDeep)
		}
		run, err := s.GetPipelineRun(cur)
		if err != nil {
			return nil, err
		}
		chain = append(chain, run)
		if run.ParentRunID == "" {
			break
		}
		cur = run.ParentRunID
	}

	// chain is leaf-first (runID first); reverse to root-first.
	entries := make([]AmendmentEntry, len(chain))
	for i, run := range chain {
		entries[len(chain)-1-i] = AmendmentEntry{Run: *run, Depth: len(chain) - 1 - i}
	}
	return entries, nil
}

// ---- Decision ----

// UpsertDecision inserts a new decision or updates the existing row for
// (pipelineRunID, category, key), bumping updated_at. A null
// pipelineRunID is its own uniqueness bucket (never coalesced with
// any non-null run).
func (s *Store) UpsertDecision(pipelineRunID, phase, category, key, value, rationale string) (*Decision, error) {
	if category == "" || key == "" {
		return nil, fmt.Errorf("decisionstore: upsert decision: %w", ErrEmptyKey)
	}
	now := nowISO()
	existing, err := s.findDecision(pipelineRunID, category, key)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		_, err := s.db.Exec(
			`UPDATE decisions SET value = ?, rationale = ?, phase = ?, updated_at = ? WHERE id = ?`,
			value, nullableString(rationale), phase, now, existing.ID,
		)
		if err != nil {
			return nil, fmt.Errorf("decisionstore: upsert decision: %w", err)
		}
		existing.Value, existing.Rationale, existing.Phase, existing.UpdatedAt = value, rationale, phase, now
		return existing, nil
	}

	d := &Decision{
		ID:            uuid.NewString(),
		PipelineRunID: pipelineRunID,
		Phase:         phase,
		Category:      category,
		Key:           key,
		Value:         value,
		Rationale:     rationale,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	_, err = s.db.Exec(
		`INSERT INTO decisions (id, pipeline_run_id, phase, category, key, value, rationale, superseded_by, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, NULL, ?, ?)`,
		d.ID, nullableString(d.PipelineRunID), d.Phase, d.Category, d.Key, d.Value, nullableString(d.Rationale), d.CreatedAt, d.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("decisionstore: upsert decision: %w", err)
	}
	return d, nil
}

func (s *Store) findDecision(pipelineRunID, category, key string) (*Decision, error) {
	var row *sql.Row
	if pipelineRunID == "" {
		row = s.db.QueryRow(
			`SELECT id, COALESCE(pipeline_run_id,''), phase, category, key, value, COALESCE(rationale,''), COALESCE(superseded_by,''), created_at, updated_at
			 FROM decisions WHERE pipeline_run_id IS NULL AND category = ? AND key = ?`, category, key)
	} else {
		row = s.db.QueryRow(
			`SELECT id, COALESCE(pipeline_run_id,''), phase, category, key, value, COALESCE(rationale,''), COALESCE(superseded_by,''), created_at, updated_at
			 FROM decisions WHERE pipeline_run_id = ? AND category = ? AND key = ?`, pipelineRunID, category, key)
	}
	var d Decision
	if err := row.Scan(&d.ID, &d.PipelineRunID, &d.Phase, &d.Category, &d.Key, &d.Value, &d.Rationale, &d.SupersededBy, &d.CreatedAt, &d.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("decisionstore: find decision: %w", err)
	}
	return &d, nil
}

// GetDecision loads a decision by ID.
func (s *Store) GetDecision(id string) (*Decision, error) {
	row := s.db.QueryRow(
		`SELECT id, COALESCE(pipeline_run_id,''), phase, category, key, value, COALESCE(rationale,''), COALESCE(superseded_by,''), created_at, updated_at
		 FROM decisions WHERE id = ?`, id)
	var d Decision
	if err := row.Scan(&d.ID, &d.PipelineRunID, &d.Phase, &d.Category, &d.Key, &d.Value, &d.Rationale, &d.SupersededBy, &d.CreatedAt, &d.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("decisionstore: decision %s: %w", id, contracts.ErrNotFound)
		}
		return nil, fmt.Errorf("decisionstore: get decision: %w", err)
	}
	return &d, nil
}

// SupersedeDecision marks originalID as superseded by supersedingID.
// Fails NotFound if either row is missing, AlreadySuperseded if
// original.superseded_by is already set. The superseding row is never
// mutated.
func (s *Store) SupersedeDecision(originalID, supersedingID string) error {
	original, err := s.GetDecision(originalID)
	if err != nil {
		return err
	}
	if _, err := s.GetDecision(supersedingID); err != nil {
		return err
	}
	if original.SupersededBy != "" {
		return fmt.Errorf("decisionstore: supersede %s: %w", originalID, ErrAlreadySuperseded)
	}
	res, err := s.db.Exec(
		`UPDATE decisions SET superseded_by = ?, updated_at = ? WHERE id = ? AND superseded_by IS NULL`,
		supersedingID, nowISO(), originalID,
	)
	if err != nil {
		return fmt.Errorf("decisionstore: supersede decision: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("decisionstore: supersede decision: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("decisionstore: supersede %s: %w", originalID, ErrAlreadySuperseded)
	}
	return nil
}

// GetDecisionsByPhaseForRun returns non-superseded decisions for a run
// and phase, ordered created_at ASC.
func (s *Store) GetDecisionsByPhaseForRun(pipelineRunID, phase string) ([]Decision, error) {
	rows, err := s.db.Query(
		`SELECT id, COALESCE(pipeline_run_id,''), phase, category, key, value, COALESCE(rationale,''), COALESCE(superseded_by,''), created_at, updated_at
		 FROM decisions WHERE pipeline_run_id = ? AND phase = ? AND superseded_by IS NULL ORDER BY created_at ASC, id ASC`,
		pipelineRunID, phase,
	)
	if err != nil {
		return nil, fmt.Errorf("decisionstore: list decisions by phase: %w", err)
	}
	defer rows.Close()
	return scanDecisions(rows)
}

// LoadParentRunDecisions returns only non-superseded decisions for the
// given run, ordered created_at ASC.
func (s *Store) LoadParentRunDecisions(parentRunID string) ([]Decision, error) {
	rows, err := s.db.Query(
		`SELECT id, COALESCE(pipeline_run_id,''), phase, category, key, value, COALESCE(rationale,''), COALESCE(superseded_by,''), created_at, updated_at
		 FROM decisions WHERE pipeline_run_id = ? AND superseded_by IS NULL ORDER BY created_at ASC, id ASC`,
		parentRunID,
	)
	if err != nil {
		return nil, fmt.Errorf("decisionstore: load parent run decisions: %w", err)
	}
	defer rows.Close()
	return scanDecisions(rows)
}

func scanDecisions(rows *sql.Rows) ([]Decision, error) {
	var out []Decision
	for rows.Next() {
		var d Decision
		if err := rows.Scan(&d.ID, &d.PipelineRunID, &d.Phase, &d.Category, &d.Key, &d.Value, &d.Rationale, &d.SupersededBy, &d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, fmt.Errorf("decisionstore: scan decision: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// ---- Artifact ----

// CreateArtifact registers a new artifact for a phase.
func (s *Store) CreateArtifact(pipelineRunID, phase, typ, path, contentHash, summary string) (*Artifact, error) {
	a := &Artifact{
		ID:            uuid.NewString(),
		PipelineRunID: pipelineRunID,
		Phase:         phase,
		Type:          typ,
		Path:          path,
		ContentHash:   contentHash,
		Summary:       summary,
		CreatedAt:     nowISO(),
	}
	_, err := s.db.Exec(
		`INSERT INTO artifacts (id, pipeline_run_id, phase, type, path, content_hash, summary, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, nullableString(a.PipelineRunID), a.Phase, a.Type, a.Path, nullableString(a.ContentHash), nullableString(a.Summary), a.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("decisionstore: create artifact: %w", err)
	}
	return a, nil
}

// GetLatestArtifact returns the most recent artifact of (phase, type),
// ordered created_at DESC.
func (s *Store) GetLatestArtifact(phase, typ string) (*Artifact, error) {
	row := s.db.QueryRow(
		`SELECT id, COALESCE(pipeline_run_id,''), phase, type, path, COALESCE(content_hash,''), COALESCE(summary,''), created_at
		 FROM artifacts WHERE phase = ? AND type = ? ORDER BY created_at DESC, rowid DESC LIMIT 1`,
		phase, typ,
	)
	var a Artifact
	if err := row.Scan(&a.ID, &a.PipelineRunID, &a.Phase, &a.Type, &a.Path, &a.ContentHash, &a.Summary, &a.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("decisionstore: artifact (%s,%s): %w", phase, typ, contracts.ErrNotFound)
		}
		return nil, fmt.Errorf("decisionstore: get latest artifact: %w", err)
	}
	return &a, nil
}

// ---- Requirement / Constraint ----

// CreateRequirement records a new requirement for a run.
func (s *Store) CreateRequirement(pipelineRunID, source, typ, description, priority string) (*Requirement, error) {
	r := &Requirement{
		ID:            uuid.NewString(),
		PipelineRunID: pipelineRunID,
		Source:        source,
		Type:          typ,
		Description:   description,
		Priority:      priority,
		Status:        RequirementActive,
		CreatedAt:     nowISO(),
	}
	_, err := s.db.Exec(
		`INSERT INTO requirements (id, pipeline_run_id, source, type, description, priority, status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, nullableString(r.PipelineRunID), r.Source, r.Type, r.Description, r.Priority, r.Status, r.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("decisionstore: create requirement: %w", err)
	}
	return r, nil
}

// UpdateRequirementStatus transitions a requirement's status.
func (s *Store) UpdateRequirementStatus(id string, status RequirementStatus) error {
	res, err := s.db.Exec(`UPDATE requirements SET status = ? WHERE id = ?`, status, id)
	if err != nil {
		return fmt.Errorf("decisionstore: update requirement status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("decisionstore: requirement %s: %w", id, contracts.ErrNotFound)
	}
	return nil
}

// ListRequirements returns all requirements for a run, created_at ASC.
func (s *Store) ListRequirements(pipelineRunID string) ([]Requirement, error) {
	rows, err := s.db.Query(
		`SELECT id, COALESCE(pipeline_run_id,''), source, type, description, priority, status, created_at
		 FROM requirements WHERE pipeline_run_id = ? ORDER BY created_at ASC`, pipelineRunID,
	)
	if err != nil {
		return nil, fmt.Errorf("decisionstore: list requirements: %w", err)
	}
	defer rows.Close()
	var out []Requirement
	for rows.Next() {
		var r Requirement
		if err := rows.Scan(&r.ID, &r.PipelineRunID, &r.Source, &r.Type, &r.Description, &r.Priority, &r.Status, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("decisionstore: scan requirement: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// CreateConstraint records a new constraint for a run.
func (s *Store) CreateConstraint(pipelineRunID, category, description, source string) (*Constraint, error) {
	c := &Constraint{
		ID:            uuid.NewString(),
		PipelineRunID: pipelineRunID,
		Category:      category,
		Description:   description,
		Source:        source,
		CreatedAt:     nowISO(),
	}
	_, err := s.db.Exec(
		`INSERT INTO constraints (id, pipeline_run_id, category, description, source, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		c.ID, nullableString(c.PipelineRunID), c.Category, c.Description, c.Source, c.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("decisionstore: create constraint: %w", err)
	}
	return c, nil
}

// ListConstraints returns all constraints for a run, created_at ASC.
func (s *Store) ListConstraints(pipelineRunID string) ([]Constraint, error) {
	rows, err := s.db.Query(
		`SELECT id, COALESCE(pipeline_run_id,''), category, description, source, created_at
		 FROM constraints WHERE pipeline_run_id = ? ORDER BY created_at ASC`, pipelineRunID,
	)
	if err != nil {
		return nil, fmt.Errorf("decisionstore: list constraints: %w", err)
	}
	defer rows.Close()
	var out []Constraint
	for rows.Next() {
		var c Constraint
		if err := rows.Scan(&c.ID, &c.PipelineRunID, &c.Category, &c.Description, &c.Source, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("decisionstore: scan constraint: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ---- TokenUsage ----

// RecordTokenUsage appends a token usage row.
func (s *Store) RecordTokenUsage(u TokenUsage) error {
	u.CreatedAt = nowISO()
	_, err := s.db.Exec(
		`INSERT INTO token_usage (pipeline_run_id, phase, agent, input_tokens, output_tokens, cost_usd, metadata_json, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		u.PipelineRunID, u.Phase, u.Agent, u.InputTokens, u.OutputTokens, u.CostUSD, nullableString(u.MetadataJSON), u.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("decisionstore: record token usage: %w", err)
	}
	return nil
}

// GetTokenUsageSummary returns usage aggregated by (phase, agent) for a
// run. Aggregation is associative, so row insertion order never affects
// the result.
func (s *Store) GetTokenUsageSummary(runID string) ([]TokenUsageSummary, error) {
	rows, err := s.db.Query(
		`SELECT phase, agent, COALESCE(SUM(input_tokens),0), COALESCE(SUM(output_tokens),0), COALESCE(SUM(cost_usd),0)
		 FROM token_usage WHERE pipeline_run_id = ? GROUP BY phase, agent ORDER BY phase ASC, agent ASC`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("decisionstore: token usage summary: %w", err)
	}
	defer rows.Close()
	var out []TokenUsageSummary
	for rows.Next() {
		var t TokenUsageSummary
		if err := rows.Scan(&t.Phase, &t.Agent, &t.InputTokens, &t.OutputTokens, &t.CostUSD); err != nil {
			return nil, fmt.Errorf("decisionstore: scan token usage summary: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// ---- PlanVersion ----

// CreatePlanVersion inserts the next version for planID. version must
// be exactly one greater than the current max version (or 1 if none
// exists); callers typically obtain it via GetNextVersion.
func (s *Store) CreatePlanVersion(pv PlanVersion) error {
	pv.CreatedAt = nowISO()
	_, err := s.db.Exec(
		`INSERT INTO plan_versions (plan_id, version, task_graph_yaml, feedback_used, planning_cost_usd, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		pv.PlanID, pv.Version, pv.TaskGraphYAML, nullableString(pv.FeedbackUsed), pv.PlanningCostUSD, pv.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("decisionstore: create plan version: %w", err)
	}
	return nil
}

// LatestPlanVersion returns the highest recorded version number for a
// plan, or 0 if none exist.
func (s *Store) LatestPlanVersion(planID string) (int, error) {
	var v sql.NullInt64
	err := s.db.QueryRow(`SELECT MAX(version) FROM plan_versions WHERE plan_id = ?`, planID).Scan(&v)
	if err != nil {
		return 0, fmt.Errorf("decisionstore: latest plan version: %w", err)
	}
	if !v.Valid {
		return 0, nil
	}
	return int(v.Int64), nil
}
