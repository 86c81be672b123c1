// Package eventbus implements the in-process publish/subscribe bus that
// decouples the Budget Enforcer, Worker Pool, and other components from
// direct method calls.
//
// Dispatch is synchronous: Publish delivers to every subscriber of the
// event's Type, in subscription order, on the caller's goroutine before
// returning. Publish copies the subscriber list and releases the bus lock
// before delivering, so a handler may itself publish or subscribe, and
// events published from different goroutines may be delivered
// concurrently. A panicking subscriber is isolated from its siblings and
// from the publisher.
package eventbus

import (
	"fmt"
	"sync"

	"github.com/substratehq/substrate/internal/logging"
)

// Type identifies an event kind.
type Type string

const (
	TaskDispatched Type = "task.dispatched"
	TaskRouted     Type = "task.routed"
	TaskCompleted  Type = "task.completed"
	TaskFailed     Type = "task.failed"
	CostRecorded   Type = "cost.recorded"

	// BudgetExceededTask fires when a single task's cost check trips; the
	// Worker Pool subscribes and terminates that task's worker only.
	BudgetExceededTask Type = "budget:exceeded:task"
	// SessionBudgetExceeded fires when a session-wide cost check trips;
	// the Worker Pool subscribes and terminates every active worker.
	SessionBudgetExceeded Type = "session:budget:exceeded"

	DecisionUpsert Type = "decision.upsert"
	RunCompleted   Type = "run.completed"
	ConfigReloaded Type = "config:reloaded"
)

// Event is the payload delivered to subscribers. Data is deliberately
// loosely typed (map) so new event producers never need to touch this
// package; consumers type-assert the fields they know about.
type Event struct {
	Type Type
	Data map[string]any
}

// Handler receives an event. It must not block indefinitely - the bus
// delivers synchronously on the publisher's goroutine.
type Handler func(Event)

// Bus is a synchronous event bus that delivers each event to its type's
// subscribers in subscription order.
type Bus struct {
	mu          sync.Mutex
	subscribers map[Type][]Handler
}

// New creates an empty Bus.
func New() *Bus {
	return &Bus{subscribers: make(map[Type][]Handler)}
}

// Subscribe registers h to be invoked for every event of type t, in the
// order subscriptions were added.
func (b *Bus) Subscribe(t Type, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[t] = append(b.subscribers[t], h)
}

// Publish delivers ev to every subscriber of ev.Type, synchronously, in
// subscription order. A subscriber panic is recovered and logged; it
// does not stop delivery to remaining subscribers and does not propagate
// to the caller.
func (b *Bus) Publish(ev Event) {
	b.mu.Lock()
	handlers := make([]Handler, len(b.subscribers[ev.Type]))
	copy(handlers, b.subscribers[ev.Type])
	b.mu.Unlock()

	for _, h := range handlers {
		b.deliverOne(h, ev)
	}
}

func (b *Bus) deliverOne(h Handler, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			logging.WithFields(map[string]any{
				"event_type": string(ev.Type),
				"panic":      fmt.Sprintf("%v", r),
			}).Error("eventbus: subscriber panicked, isolated")
		}
	}()
	h(ev)
}
