// Package contracts defines the shared types and interfaces of the
// orchestration substrate: runs, tasks, dependency graphs, usage and
// cost accounting, and the component contracts wired together at
// startup.
package contracts

// RunID uniquely identifies a pipeline run.
type RunID string

// TaskID uniquely identifies a task within a run.
type TaskID string

// SessionID groups runs that share one session-level budget.
type SessionID string

// ModelID identifies an LLM model an agent executes with
// (e.g. "claude-sonnet-4-5-20250929").
type ModelID string

// AgentID identifies an adapter-backed coding agent after alias
// normalization (e.g. "claude-code", "codex", "gemini").
type AgentID string

// TokenCount represents a count of tokens.
type TokenCount int64

// Currency represents a currency code (e.g. "USD").
type Currency string

// Timestamp represents a Unix timestamp in milliseconds.
type Timestamp int64

// Priority orders admission into the worker pool. Higher runs first.
type Priority int

const (
	PriorityNormal Priority = 0
	PriorityHigh   Priority = 10
)
