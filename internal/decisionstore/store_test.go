package decisionstore

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "decisions.db")
	s, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestUpsertDecision_InsertThenUpdate(t *testing.T) {
	s := openTestStore(t)

	run, err := s.CreatePipelineRun("standard-delivery", "", 0)
	require.NoError(t, err)

	d1, err := s.UpsertDecision(run.ID, "analysis", "data", "store", "postgres", "team preference")
	require.NoError(t, err)
	require.NotEmpty(t, d1.ID)

	d2, err := s.UpsertDecision(run.ID, "analysis", "data", "store", "mysql", "changed mind")
	require.NoError(t, err)

	require.Equal(t, d1.ID, d2.ID, "upsert must reuse the row keyed by (run, category, key)")
	require.Equal(t, "mysql", d2.Value)
	require.NotEqual(t, d1.UpdatedAt, d2.UpdatedAt, "updated_at must advance")

	all, err := s.GetDecisionsByPhaseForRun(run.ID, "analysis")
	require.NoError(t, err)
	require.Len(t, all, 1)
}

func TestUpsertDecision_NullRunIsOwnBucket(t *testing.T) {
	s := openTestStore(t)
	run, err := s.CreatePipelineRun("standard-delivery", "", 0)
	require.NoError(t, err)

	global, err := s.UpsertDecision("", "analysis", "data", "store", "postgres", "")
	require.NoError(t, err)
	scoped, err := s.UpsertDecision(run.ID, "analysis", "data", "store", "mysql", "")
	require.NoError(t, err)

	require.NotEqual(t, global.ID, scoped.ID, "null pipeline_run_id is a distinct uniqueness bucket")
}

func TestUpsertDecision_EmptyKeyRejected(t *testing.T) {
	s := openTestStore(t)
	_, err := s.UpsertDecision("", "analysis", "data", "", "x", "")
	require.ErrorIs(t, err, ErrEmptyKey)
}

func TestSupersedeDecision(t *testing.T) {
	s := openTestStore(t)
	run, err := s.CreatePipelineRun("standard-delivery", "", 0)
	require.NoError(t, err)

	a, err := s.UpsertDecision(run.ID, "analysis", "data", "store", "postgres", "")
	require.NoError(t, err)
	b, err := s.UpsertDecision(run.ID, "planning", "data", "store-v2", "mysql", "")
	require.NoError(t, err)

	require.NoError(t, s.SupersedeDecision(a.ID, b.ID))

	reloaded, err := s.GetDecision(a.ID)
	require.NoError(t, err)
	require.False(t, reloaded.Active())
	require.Equal(t, b.ID, reloaded.SupersededBy)

	bReloaded, err := s.GetDecision(b.ID)
	require.NoError(t, err)
	require.True(t, bReloaded.Active(), "superseding row is never mutated")

	err = s.SupersedeDecision(a.ID, b.ID)
	require.ErrorIs(t, err, ErrAlreadySuperseded)
}

func TestSupersedeDecision_NotFound(t *testing.T) {
	s := openTestStore(t)
	run, err := s.CreatePipelineRun("standard-delivery", "", 0)
	require.NoError(t, err)
	d, err := s.UpsertDecision(run.ID, "analysis", "data", "store", "postgres", "")
	require.NoError(t, err)

	err = s.SupersedeDecision("does-not-exist", d.ID)
	require.Error(t, err)
}

func TestAmendmentChain(t *testing.T) {
	s := openTestStore(t)

	var parentID string
	var last *PipelineRun
	for i := 0; i < 11; i++ {
		run, err := s.CreatePipelineRun("standard-delivery", parentID, MaxAmendmentDepth)
		require.NoError(t, err)
		require.NoError(t, s.UpdatePipelineRunStatus(run.ID, RunCompleted, ""))
		parentID = run.ID
		last = run
	}

	chain, err := s.GetAmendmentRunChain(last.ID, MaxAmendmentDepth)
	require.NoError(t, err)
	require.Len(t, chain, 11)
	require.Equal(t, 0, chain[0].Depth)
	require.Equal(t, 10, chain[10].Depth)
	require.Equal(t, last.ID, chain[10].Run.ID)

	_, err = s.CreatePipelineRun("standard-delivery", last.ID, MaxAmendmentDepth)
	require.ErrorIs(t, err, ErrChainTooDeep)
}

func TestCreatePipelineRun_ParentMustBeCompleted(t *testing.T) {
	s := openTestStore(t)
	parent, err := s.CreatePipelineRun("standard-delivery", "", 0)
	require.NoError(t, err)

	_, err = s.CreatePipelineRun("standard-delivery", parent.ID, 0)
	require.ErrorIs(t, err, ErrParentRunNotCompleted)
}

func TestGetTokenUsageSummary(t *testing.T) {
	s := openTestStore(t)
	run, err := s.CreatePipelineRun("standard-delivery", "", 0)
	require.NoError(t, err)

	require.NoError(t, s.RecordTokenUsage(TokenUsage{PipelineRunID: run.ID, Phase: "analysis", Agent: "claude-code", InputTokens: 100, OutputTokens: 50, CostUSD: 0.01}))
	require.NoError(t, s.RecordTokenUsage(TokenUsage{PipelineRunID: run.ID, Phase: "analysis", Agent: "claude-code", InputTokens: 200, OutputTokens: 100, CostUSD: 0.02}))
	require.NoError(t, s.RecordTokenUsage(TokenUsage{PipelineRunID: run.ID, Phase: "planning", Agent: "codex", InputTokens: 10, OutputTokens: 5, CostUSD: 0.001}))

	summary, err := s.GetTokenUsageSummary(run.ID)
	require.NoError(t, err)
	require.Len(t, summary, 2)
	require.Equal(t, "analysis", summary[0].Phase)
	require.EqualValues(t, 300, summary[0].InputTokens)
	require.EqualValues(t, 150, summary[0].OutputTokens)
}

func TestGetLatestArtifact(t *testing.T) {
	s := openTestStore(t)
	run, err := s.CreatePipelineRun("standard-delivery", "", 0)
	require.NoError(t, err)

	_, err = s.CreateArtifact(run.ID, "planning", "brief", "decision-store://run/brief-v1", "", "v1")
	require.NoError(t, err)
	latest, err := s.CreateArtifact(run.ID, "planning", "brief", "decision-store://run/brief-v2", "", "v2")
	require.NoError(t, err)

	got, err := s.GetLatestArtifact("planning", "brief")
	require.NoError(t, err)
	require.Equal(t, latest.ID, got.ID)
}

func TestParseVersionRoundTrip(t *testing.T) {
	next, err := GetNextVersion("3")
	require.NoError(t, err)
	require.Equal(t, "4", next)

	_, err = ParseVersion("0")
	require.Error(t, err)
	_, err = ParseVersion("-1")
	require.Error(t, err)
	_, err = ParseVersion("abc")
	require.Error(t, err)
}
