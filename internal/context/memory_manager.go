package context

import (
	"sort"
	"sync"

	"github.com/substratehq/substrate/contracts"
)

// memoryManager implements contracts.MemoryManager over run.Memory.
// The lock is package-wide rather than per-run: memory traffic is a few
// small strings per task, far below contention worth sharding for.
type memoryManager struct {
	mu sync.RWMutex
}

// NewMemoryManager creates a MemoryManager.
func NewMemoryManager() contracts.MemoryManager {
	return &memoryManager{}
}

// Get retrieves a value from the run's memory. A nil run or unset key
// reports ("", false).
func (m *memoryManager) Get(run *contracts.Run, key string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if run == nil || run.Memory == nil {
		return "", false
	}
	val, ok := run.Memory[key]
	return val, ok
}

// Put stores a value in the run's memory, creating the map on first
// write. A nil run is ignored.
func (m *memoryManager) Put(run *contracts.Run, key string, value string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if run == nil {
		return
	}
	if run.Memory == nil {
		run.Memory = make(map[string]string)
	}
	run.Memory[key] = value
}

// Keys returns the run's memory keys in sorted order, for diagnostics
// and deterministic rendering.
func (m *memoryManager) Keys(run *contracts.Run) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if run == nil || run.Memory == nil {
		return nil
	}
	keys := make([]string, 0, len(run.Memory))
	for k := range run.Memory {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
