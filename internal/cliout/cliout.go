// Package cliout implements the CLI's NDJSON streaming envelope: one
// JSON object per line, each wrapping a result or an in-flight event
// as {success, data?, error?, timestamp, version, command}.
package cliout

import (
	"encoding/json"
	"io"
	"sync"
	"time"

	"github.com/substratehq/substrate/internal/eventbus"
)

// Version is stamped into every emitted envelope's "version" field.
const Version = "1"

// Envelope is the single-line JSON shape every cliout write produces.
type Envelope struct {
	Success   bool   `json:"success"`
	Data      any    `json:"data,omitempty"`
	Error     string `json:"error,omitempty"`
	Timestamp string `json:"timestamp"`
	Version   string `json:"version"`
	Command   string `json:"command"`
}

// Clock lets tests substitute a fixed time instead of time.Now, since
// the rest of this module may not call time.Now directly in workflow
// contexts but the CLI's own runtime output is allowed to.
type Clock func() time.Time

// Encoder writes one Envelope per line to an underlying writer. It is
// safe for concurrent use by multiple goroutines publishing events from
// the same run.
type Encoder struct {
	mu      sync.Mutex
	w       io.Writer
	enc     *json.Encoder
	command string
	clock   Clock
}

// NewEncoder creates an Encoder that stamps every envelope with command.
func NewEncoder(w io.Writer, command string) *Encoder {
	return &Encoder{w: w, enc: json.NewEncoder(w), command: command, clock: time.Now}
}

// WithClock overrides the Encoder's time source, for deterministic tests.
func (e *Encoder) WithClock(clock Clock) *Encoder {
	e.clock = clock
	return e
}

// Emit writes a successful envelope carrying data.
func (e *Encoder) Emit(data any) error {
	return e.write(Envelope{Success: true, Data: data})
}

// EmitError writes a failed envelope carrying err's message.
func (e *Encoder) EmitError(err error) error {
	return e.write(Envelope{Success: false, Error: err.Error()})
}

func (e *Encoder) write(env Envelope) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	env.Timestamp = e.clock().UTC().Format(time.RFC3339Nano)
	env.Version = Version
	env.Command = e.command
	return e.enc.Encode(env)
}

// Subscribe wires the Encoder to the event types cmd/substrate run
// streams to the operator: task dispatch/routing/completion, cost
// recording, budget-exceeded notices, decision upserts, and run
// completion. Each event's Data map is emitted verbatim as the
// envelope's data field, tagged with its event type.
func (e *Encoder) Subscribe(bus *eventbus.Bus) {
	for _, t := range []eventbus.Type{
		eventbus.TaskDispatched,
		eventbus.TaskRouted,
		eventbus.TaskCompleted,
		eventbus.TaskFailed,
		eventbus.CostRecorded,
		eventbus.BudgetExceededTask,
		eventbus.SessionBudgetExceeded,
		eventbus.DecisionUpsert,
		eventbus.RunCompleted,
	} {
		t := t
		bus.Subscribe(t, func(ev eventbus.Event) {
			_ = e.Emit(eventData{Event: string(t), Fields: ev.Data})
		})
	}
}

// eventData is the "data" payload shape for event-stream envelopes,
// naming which event produced the line alongside its fields.
type eventData struct {
	Event  string         `json:"event"`
	Fields map[string]any `json:"fields,omitempty"`
}
