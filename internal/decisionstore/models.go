package decisionstore

// RunStatus is the lifecycle state of a PipelineRun.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
	RunPaused    RunStatus = "paused"
)

// RequirementStatus is the lifecycle state of a Requirement.
type RequirementStatus string

const (
	RequirementActive    RequirementStatus = "active"
	RequirementSatisfied RequirementStatus = "satisfied"
	RequirementDropped   RequirementStatus = "dropped"
)

// PipelineRun is a single execution of a methodology against a concept.
// ParentRunID, when set, marks this run as an amendment of a prior
// completed run.
type PipelineRun struct {
	ID             string
	Methodology    string
	CurrentPhase   string
	Status         RunStatus
	ConfigJSON     string
	TokenUsageJSON string
	ParentRunID    string
	CreatedAt      string
	UpdatedAt      string
}

// Decision is a named (category, key, value) record for a pipeline run.
// SupersededBy is append-only: once set it is never cleared.
type Decision struct {
	ID            string
	PipelineRunID string
	Phase         string
	Category      string
	Key           string
	Value         string
	Rationale     string
	SupersededBy  string
	CreatedAt     string
	UpdatedAt     string
}

// Active reports whether the decision has not been superseded.
func (d Decision) Active() bool { return d.SupersededBy == "" }

// Artifact is an addressable output of a phase.
type Artifact struct {
	ID            string
	PipelineRunID string
	Phase         string
	Type          string
	Path          string
	ContentHash   string
	Summary       string
	CreatedAt     string
}

// Requirement is a sourced, prioritized requirement tracked for a run.
type Requirement struct {
	ID            string
	PipelineRunID string
	Source        string
	Type          string
	Description   string
	Priority      string
	Status        RequirementStatus
	CreatedAt     string
}

// Constraint is a sourced constraint tracked for a run.
type Constraint struct {
	ID            string
	PipelineRunID string
	Category      string
	Description   string
	Source        string
	CreatedAt     string
}

// TokenUsage is a single recorded usage event for a (phase, agent) pair.
type TokenUsage struct {
	PipelineRunID string
	Phase         string
	Agent         string
	InputTokens   int64
	OutputTokens  int64
	CostUSD       float64
	MetadataJSON  string
	CreatedAt     string
}

// TokenUsageSummary is the aggregate view of TokenUsage grouped by
// (phase, agent).
type TokenUsageSummary struct {
	Phase        string
	Agent        string
	InputTokens  int64
	OutputTokens int64
	CostUSD      float64
}

// PlanVersion is one numbered revision of a generated task graph.
type PlanVersion struct {
	PlanID          string
	Version         int
	TaskGraphYAML   string
	FeedbackUsed    string
	PlanningCostUSD float64
	CreatedAt       string
}

// AmendmentEntry is one hop in an amendment chain walk, root-first.
type AmendmentEntry struct {
	Run   PipelineRun
	Depth int
}
