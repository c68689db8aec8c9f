package testutil

import (
	"sync"
	"time"
)

// MockTimeProvider is a manually advanced clock for testing TTL behavior.
type MockTimeProvider struct {
	current time.Time
	mu      sync.Mutex
}

// NewMockTimeProvider creates a new MockTimeProvider with the given current time.
func NewMockTimeProvider(now time.Time) *MockTimeProvider {
	return &MockTimeProvider{current: now}
}

// Now returns the configured current time.
func (m *MockTimeProvider) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Advance advances the mock time by the given duration.
func (m *MockTimeProvider) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current = m.current.Add(d)
}
