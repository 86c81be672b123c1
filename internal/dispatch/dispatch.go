// Package dispatch implements the dispatcher contract:
// dispatch(task, adapter, opts) -> Handle, where the Handle exposes
// id/status/cancel()/a result future. Adapter subprocess mechanics are
// deliberately out of this package's concern; Adapter is satisfied by
// internal/adapter's CLI-driving implementation.
package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/substratehq/substrate/contracts"
)

// Status is the terminal or in-flight state of a dispatched task.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusTimeout   Status = "timeout"
	StatusCancelled Status = "cancelled"
)

// TokenEstimate is the adapter-reported (or estimated) token split for
// one dispatch.
type TokenEstimate struct {
	Input  int
	Output int
}

// DispatchResult is the outcome of one adapter invocation.
type DispatchResult struct {
	ID            string
	Status        Status
	ExitCode      int
	Output        string
	Parsed        any
	ParseError    error
	DurationMs    int64
	TokenEstimate TokenEstimate
}

// Adapter drives one external agent CLI. The mechanics of how the
// subprocess is invoked belong to the concrete implementation; the
// Dispatcher only relies on this contract.
type Adapter interface {
	ID() string
	Dispatch(ctx context.Context, task contracts.Task) (*DispatchResult, error)
	HealthCheck(ctx context.Context) error
}

// CancelGrace is the delay between a graceful cancellation signal and a
// forced kill.
// Adapter.Dispatch implementations honor ctx cancellation within this
// contract; the grace window itself is applied by the adapter since only
// it holds the subprocess handle.
const CancelGrace = 5 * time.Second

// Handle is the live handle to one in-flight or completed dispatch.
type Handle struct {
	id           string
	mu           sync.Mutex
	status       Status
	cancelReason string
	cancel       context.CancelFunc
	done         chan struct{}
	result       *DispatchResult
	err          error
}

// ID returns the dispatch's identifier.
func (h *Handle) ID() string { return h.id }

// Status returns the current status, safe for concurrent use.
func (h *Handle) Status() Status {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.status
}

// Cancel requests cancellation. The underlying adapter is responsible
// for the SIGTERM-then-grace-then-SIGKILL sequence; Cancel only tears
// down the context the adapter was dispatched with.
func (h *Handle) Cancel() {
	h.CancelWithReason("")
}

// CancelWithReason cancels like Cancel and records why, so callers
// observing the cancelled result can tell a budget termination apart
// from an operator abort. Only the first cancellation's reason sticks;
// repeated cancellations stay no-ops.
func (h *Handle) CancelWithReason(reason string) {
	h.mu.Lock()
	if h.status == StatusRunning {
		h.status = StatusCancelled
		h.cancelReason = reason
	}
	h.mu.Unlock()
	h.cancel()
}

// CancelReason returns the reason recorded by the cancellation that
// terminated this dispatch, or "" if it was not cancelled (or was
// cancelled without one).
func (h *Handle) CancelReason() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.cancelReason
}

// Result blocks until the dispatch finishes (or ctx is done) and
// returns its DispatchResult: the future half of the dispatch
// contract.
func (h *Handle) Result(ctx context.Context) (*DispatchResult, error) {
	select {
	case <-h.done:
		return h.result, h.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (h *Handle) finish(result *DispatchResult, err error) {
	h.mu.Lock()
	if result != nil {
		h.status = result.Status
	} else if h.status != StatusCancelled {
		h.status = StatusFailed
	}
	h.result = result
	h.err = err
	h.mu.Unlock()
	close(h.done)
}

// Dispatch starts task on adapter and returns immediately with a Handle;
// the adapter call runs on its own goroutine. opts.TimeoutMs, if set, bounds the dispatch.
func Dispatch(ctx context.Context, task contracts.Task, adapter Adapter, opts Opts) (*Handle, error) {
	if adapter == nil {
		return nil, fmt.Errorf("dispatch: adapter is nil")
	}

	dctx, cancel := context.WithCancel(ctx)
	if opts.TimeoutMs > 0 {
		var timeoutCancel context.CancelFunc
		dctx, timeoutCancel = context.WithTimeout(dctx, time.Duration(opts.TimeoutMs)*time.Millisecond)
		prev := cancel
		cancel = func() {
			timeoutCancel()
			prev()
		}
	}

	h := &Handle{
		id:     string(task.ID),
		status: StatusRunning,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	go func() {
		defer cancel()
		start := time.Now()
		result, err := adapter.Dispatch(dctx, task)
		if result != nil {
			result.DurationMs = time.Since(start).Milliseconds()
		}
		if err != nil && result == nil {
			status := StatusFailed
			if dctx.Err() == context.DeadlineExceeded {
				status = StatusTimeout
			} else if h.Status() == StatusCancelled {
				status = StatusCancelled
			}
			result = &DispatchResult{
				ID:         h.id,
				Status:     status,
				Output:     "",
				ParseError: err,
				DurationMs: time.Since(start).Milliseconds(),
			}
		}
		h.finish(result, err)
	}()

	return h, nil
}

// Priority is a dispatch's admission priority class.
type Priority string

const (
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
)

// Opts carries per-dispatch overrides.
type Opts struct {
	Priority  Priority
	TimeoutMs int
}
