package radio

import "sync"

// MockAdapter is a test double for Adapter. It records every frame passed to
// Send and returns Result.
type MockAdapter struct {
	mu     sync.Mutex
	Result bool
	Frames [][]byte
}

// Send records the frame and returns the configured result.
func (m *MockAdapter) Send(data []byte) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Frames = append(m.Frames, data)
	return m.Result
}

// Calls returns how many times Send was invoked.
func (m *MockAdapter) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Frames)
}

// SetResult changes what subsequent Send calls return.
func (m *MockAdapter) SetResult(ok bool) {
	m.mu.Lock()
	m.Result = ok
	m.mu.Unlock()
}
