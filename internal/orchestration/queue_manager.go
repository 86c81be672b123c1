package orchestration

import (
	"sync"

	"github.com/substratehq/substrate/contracts"
)

// queueManager implements contracts.QueueManager with one FIFO queue
// per priority class. Dequeue drains higher classes first; within a
// class, admission order is preserved.
type queueManager struct {
	mu   sync.Mutex
	high []contracts.TaskID
	norm []contracts.TaskID
}

// NewQueueManager creates a QueueManager.
func NewQueueManager() contracts.QueueManager {
	return &queueManager{}
}

// Enqueue adds a task to the ready queue at the given priority.
func (q *queueManager) Enqueue(taskID contracts.TaskID, priority contracts.Priority) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if priority >= contracts.PriorityHigh {
		q.high = append(q.high, taskID)
		return
	}
	q.norm = append(q.norm, taskID)
}

// Dequeue removes and returns the next task, high class first.
// Returns ("", false) if the queue is empty.
func (q *queueManager) Dequeue() (contracts.TaskID, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.high) > 0 {
		taskID := q.high[0]
		q.high = q.high[1:]
		return taskID, true
	}
	if len(q.norm) > 0 {
		taskID := q.norm[0]
		q.norm = q.norm[1:]
		return taskID, true
	}
	return "", false
}

// Len returns the number of queued tasks across both classes.
func (q *queueManager) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.high) + len(q.norm)
}
