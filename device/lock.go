package device

import "sync"

// optionalMutex is a no-op unless enabled.
type optionalMutex struct {
	enabled bool
	mu      sync.Mutex
}

func (m *optionalMutex) Lock() {
	if m.enabled {
		m.mu.Lock()
	}
}

func (m *optionalMutex) Unlock() {
	if m.enabled {
		m.mu.Unlock()
	}
}
