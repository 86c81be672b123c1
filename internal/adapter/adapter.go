// Package adapter implements drivers for external agent CLIs (Claude
// Code, Codex, Gemini) and the registry the Routing Engine and
// Task-Graph Engine query for health and availability.
package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/substratehq/substrate/contracts"
	"github.com/substratehq/substrate/internal/dispatch"
	"github.com/substratehq/substrate/internal/logging"
)

// terminationGrace is how long a cancelled subprocess has to exit after
// SIGTERM before it is killed.
const terminationGrace = 5 * time.Second

// Capabilities describes what one adapter advertises: the task types it
// handles, its concurrency ceiling, and its billing mode.
type Capabilities struct {
	ID            string
	TaskTypes     []string
	MaxConcurrent int
	BillingMode   string // subscription | api
}

// CLIAdapter drives an external agent by invoking its CLI binary as a
// subprocess and parsing its stdout as JSON. When the dispatch ctx is
// cancelled the process receives SIGTERM; if it has not exited after
// terminationGrace it is killed.
type CLIAdapter struct {
	id      string
	binary  string
	args    []string
	workDir string
	caps    Capabilities
}

// NewCLIAdapter constructs an adapter for the given CLI binary.
func NewCLIAdapter(id, binary string, args []string, workDir string, caps Capabilities) *CLIAdapter {
	caps.ID = id
	return &CLIAdapter{id: id, binary: binary, args: args, workDir: workDir, caps: caps}
}

// ID implements dispatch.Adapter.
func (a *CLIAdapter) ID() string { return a.id }

// Capabilities returns the adapter's advertised capabilities.
func (a *CLIAdapter) Capabilities() Capabilities { return a.caps }

// Dispatch runs the CLI against task.Inputs.Prompt, parsing stdout as
// JSON when possible. A non-JSON stdout is preserved as DispatchResult.Output
// with Parsed left nil and ParseError set.
func (a *CLIAdapter) Dispatch(ctx context.Context, task contracts.Task) (*dispatch.DispatchResult, error) {
	args := append([]string{}, a.args...)
	if task.Inputs != nil {
		args = append(args, task.Inputs.Prompt)
	}

	cmd := exec.CommandContext(ctx, a.binary, args...)
	cmd.Dir = a.workDir
	cmd.Cancel = func() error { return cmd.Process.Signal(syscall.SIGTERM) }
	cmd.WaitDelay = terminationGrace

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	result := &dispatch.DispatchResult{
		ID:     string(task.ID),
		Output: stdout.String(),
	}
	if cmd.ProcessState != nil {
		result.ExitCode = cmd.ProcessState.ExitCode()
	}

	if ctx.Err() != nil {
		if ctx.Err() == context.DeadlineExceeded {
			result.Status = dispatch.StatusTimeout
		} else {
			result.Status = dispatch.StatusCancelled
		}
		return result, ctx.Err()
	}
	if err != nil {
		result.Status = dispatch.StatusFailed
		logging.Errorf("event=adapter_dispatch_failed adapter=%s task=%s err=%v stderr=%s", a.id, task.ID, err, stderr.String())
		return result, fmt.Errorf("adapter %s: dispatch: %w", a.id, err)
	}

	var parsed any
	if jsonErr := json.Unmarshal(stdout.Bytes(), &parsed); jsonErr != nil {
		result.ParseError = jsonErr
	} else {
		result.Parsed = parsed
	}

	result.Status = dispatch.StatusCompleted
	return result, nil
}

// HealthCheck reports whether the adapter's binary resolves on PATH.
func (a *CLIAdapter) HealthCheck(ctx context.Context) error {
	path, err := exec.LookPath(a.binary)
	if err != nil {
		return fmt.Errorf("adapter %s: binary %q not found: %w", a.id, a.binary, contracts.ErrNotFound)
	}
	_ = path
	return nil
}

// Registry holds the process-wide set of registered adapters, shared as
// a singleton and consulted by both the
// Routing Engine and the Task-Graph Engine's availability check.
type Registry struct {
	mu         sync.RWMutex
	adapters   map[string]*CLIAdapter
	healthTTL  time.Duration
	lastHealth map[string]time.Time
	healthy    map[string]bool
}

// NewRegistry creates an empty Registry. healthTTL governs how long a
// HealthCheck result is cached before being re-probed.
func NewRegistry(healthTTL time.Duration) *Registry {
	if healthTTL <= 0 {
		healthTTL = 30 * time.Second
	}
	return &Registry{
		adapters:   make(map[string]*CLIAdapter),
		healthTTL:  healthTTL,
		lastHealth: make(map[string]time.Time),
		healthy:    make(map[string]bool),
	}
}

// Register adds or replaces an adapter.
func (r *Registry) Register(a *CLIAdapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[a.id] = a
}

// Get returns the adapter for id, if registered.
func (r *Registry) Get(id string) (*CLIAdapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[id]
	return a, ok
}

// Available reports whether id is registered, satisfying
// taskgraph.AgentAvailability. It does not probe health; use Healthy for
// that (registration alone is "known", health is "usable now").
func (r *Registry) Available(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.adapters[id]
	return ok
}

// Healthy runs (or reuses a cached) HealthCheck for id and reports
// whether the adapter is currently usable.
func (r *Registry) Healthy(ctx context.Context, id string) bool {
	r.mu.Lock()
	a, ok := r.adapters[id]
	if !ok {
		r.mu.Unlock()
		return false
	}
	if last, seen := r.lastHealth[id]; seen && time.Since(last) < r.healthTTL {
		healthy := r.healthy[id]
		r.mu.Unlock()
		return healthy
	}
	r.mu.Unlock()

	healthy := a.HealthCheck(ctx) == nil
	r.mu.Lock()
	r.lastHealth[id] = time.Now()
	r.healthy[id] = healthy
	r.mu.Unlock()
	return healthy
}

// BillingMode returns the adapter's advertised billing mode, if
// registered.
func (r *Registry) BillingMode(id string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[id]
	if !ok {
		return "", false
	}
	return a.caps.BillingMode, true
}

// SupportsTaskType reports whether id advertises support for taskType.
func (r *Registry) SupportsTaskType(id, taskType string) bool {
	r.mu.RLock()
	a, ok := r.adapters[id]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	for _, t := range a.caps.TaskTypes {
		if t == taskType {
			return true
		}
	}
	return false
}

// HealthyAdaptersForType returns every registered, healthy adapter id
// that advertises taskType, sorted alphabetically for deterministic
// fallback selection.
func (r *Registry) HealthyAdaptersForType(ctx context.Context, taskType string) []string {
	r.mu.RLock()
	ids := make([]string, 0, len(r.adapters))
	for id := range r.adapters {
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	sort.Strings(ids)

	var out []string
	for _, id := range ids {
		if r.SupportsTaskType(id, taskType) && r.Healthy(ctx, id) {
			out = append(out, id)
		}
	}
	return out
}
