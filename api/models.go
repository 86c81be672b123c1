// Package api provides the HTTP sidecar surface for the orchestration
// engine: start a run, poll its status, abort it.
package api

import (
	"github.com/substratehq/substrate/contracts"
)

// ============================================================================
// Request DTOs
// ============================================================================

// StartRunRequest is the request body for POST /api/v1/runs.
type StartRunRequest struct {
	ID      string    `json:"id,omitempty"`
	Session string    `json:"session,omitempty"`
	Policy  PolicyDTO `json:"policy"`
	Tasks   []TaskDTO `json:"tasks"`
}

// PolicyDTO represents execution constraints for a run.
type PolicyDTO struct {
	TimeoutMs      int64             `json:"timeout_ms"`
	MaxParallelism int               `json:"max_parallelism"`
	BudgetLimit    CostDTO           `json:"budget_limit"`
	ContextPolicy  *ContextPolicyDTO `json:"context_policy,omitempty"`
}

// ContextPolicyDTO represents context management settings.
type ContextPolicyDTO struct {
	MaxTokens int64  `json:"max_tokens,omitempty"`
	Strategy  string `json:"strategy,omitempty"`
	KeepLastN int    `json:"keep_last_n,omitempty"`
}

// TaskDTO represents a task in the request.
type TaskDTO struct {
	ID        string            `json:"id"`
	Prompt    string            `json:"prompt"`
	Model     string            `json:"model"`
	Agent     string            `json:"agent,omitempty"`
	Priority  string            `json:"priority,omitempty"` // "normal" (default) | "high"
	BudgetUSD float64           `json:"budget_usd,omitempty"`
	TimeoutMs int64             `json:"timeout_ms,omitempty"`
	Inputs    map[string]string `json:"inputs,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Deps      []string          `json:"deps,omitempty"`
}

// CostDTO represents a monetary cost.
type CostDTO struct {
	Amount   float64 `json:"amount"`
	Currency string  `json:"currency"`
}

// ============================================================================
// Response DTOs
// ============================================================================

// RunResponse is the response body for run-related endpoints.
type RunResponse struct {
	ID        string                   `json:"id"`
	Session   string                   `json:"session,omitempty"`
	State     string                   `json:"state"`
	Tasks     map[string]TaskStatusDTO `json:"tasks,omitempty"`
	Usage     *UsageDTO                `json:"usage,omitempty"`
	Error     *ErrorDTO                `json:"error,omitempty"`
	CreatedAt int64                    `json:"created_at"`
	UpdatedAt int64                    `json:"updated_at,omitempty"`
}

// TaskStatusDTO represents the status of a single task.
type TaskStatusDTO struct {
	State  string    `json:"state"`
	Agent  string    `json:"agent,omitempty"`
	Output string    `json:"output,omitempty"`
	Error  *ErrorDTO `json:"error,omitempty"`
}

// UsageDTO represents token and cost usage.
type UsageDTO struct {
	Tokens int64    `json:"tokens"`
	Cost   *CostDTO `json:"cost,omitempty"`
}

// ErrorDTO represents an error in the response.
type ErrorDTO struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ============================================================================
// Converters: Request DTO -> contracts
// ============================================================================

// ToRunPolicy converts PolicyDTO to contracts.RunPolicy.
func (p *PolicyDTO) ToRunPolicy() contracts.RunPolicy {
	policy := contracts.RunPolicy{
		TimeoutMs:      p.TimeoutMs,
		MaxParallelism: p.MaxParallelism,
		BudgetLimit: contracts.Cost{
			Amount:   p.BudgetLimit.Amount,
			Currency: contracts.Currency(p.BudgetLimit.Currency),
		},
	}
	if p.ContextPolicy != nil {
		policy.ContextPolicy = contracts.ContextPolicy{
			MaxTokens: contracts.TokenCount(p.ContextPolicy.MaxTokens),
			Strategy:  p.ContextPolicy.Strategy,
			KeepLastN: p.ContextPolicy.KeepLastN,
		}
	}
	return policy
}

// ToTask converts TaskDTO to contracts.Task.
func (t *TaskDTO) ToTask() *contracts.Task {
	task := &contracts.Task{
		ID:        contracts.TaskID(t.ID),
		State:     contracts.TaskPending,
		Model:     contracts.ModelID(t.Model),
		Agent:     contracts.AgentID(t.Agent),
		BudgetUSD: t.BudgetUSD,
		TimeoutMs: t.TimeoutMs,
		Inputs: &contracts.TaskInput{
			Prompt:   t.Prompt,
			Inputs:   t.Inputs,
			Metadata: t.Metadata,
		},
	}
	if t.Priority == "high" {
		task.Priority = contracts.PriorityHigh
	}
	if len(t.Deps) > 0 {
		task.Deps = make([]contracts.TaskID, len(t.Deps))
		for i, dep := range t.Deps {
			task.Deps[i] = contracts.TaskID(dep)
		}
	}
	return task
}

// ============================================================================
// Converters: contracts -> Response DTO
// ============================================================================

// ErrorToResponse converts an error to ErrorDTO with the given code.
func ErrorToResponse(err error, code string) *ErrorDTO {
	return &ErrorDTO{
		Code:    code,
		Message: err.Error(),
	}
}

// SnapshotToResponse converts a RunSnapshot to RunResponse. Handlers
// build responses only from snapshots, never from the live run the
// orchestrator goroutine is mutating.
func SnapshotToResponse(snap *RunSnapshot) *RunResponse {
	resp := &RunResponse{
		ID:        string(snap.ID),
		Session:   string(snap.Session),
		State:     snap.APIState,
		CreatedAt: snap.CreatedAt,
		UpdatedAt: snap.UpdatedAt,
	}

	if len(snap.Tasks) > 0 {
		resp.Tasks = make(map[string]TaskStatusDTO, len(snap.Tasks))
		for id, task := range snap.Tasks {
			taskDTO := TaskStatusDTO{
				State:  task.State.String(),
				Agent:  string(task.Agent),
				Output: task.Output,
			}
			if task.Error != nil {
				taskDTO.Error = &ErrorDTO{
					Code:    task.Error.Code,
					Message: task.Error.Message,
				}
			}
			resp.Tasks[string(id)] = taskDTO
		}
	}

	if snap.Usage.Tokens > 0 || snap.Usage.Cost.Amount > 0 {
		resp.Usage = &UsageDTO{
			Tokens: int64(snap.Usage.Tokens),
			Cost: &CostDTO{
				Amount:   snap.Usage.Cost.Amount,
				Currency: string(snap.Usage.Cost.Currency),
			},
		}
	}

	if snap.Error != nil {
		httpErr := MapError(snap.Error)
		resp.Error = &ErrorDTO{
			Code:    string(httpErr.Code),
			Message: snap.Error.Error(),
		}
	}

	return resp
}
