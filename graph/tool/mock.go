package tool

import (
	"context"
	"encoding/json"
	"sync"
)

// MockTool is a scripted test double. Responses play back in order and the
// last one repeats; calls are recorded for assertions.
type MockTool struct {
	ToolName  string
	Responses []json.RawMessage
	Err       error

	mu    sync.Mutex
	calls []json.RawMessage
}

// Name implements Tool.
func (m *MockTool) Name() string { return m.ToolName }

// Invoke implements Tool.
func (m *MockTool) Invoke(_ context.Context, input json.RawMessage) (json.RawMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, append(json.RawMessage(nil), input...))
	if m.Err != nil {
		return nil, m.Err
	}
	if len(m.Responses) == 0 {
		return json.RawMessage(`{}`), nil
	}
	idx := len(m.calls) - 1
	if idx >= len(m.Responses) {
		idx = len(m.Responses) - 1
	}
	return m.Responses[idx], nil
}

// Calls returns the recorded inputs.
func (m *MockTool) Calls() []json.RawMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]json.RawMessage(nil), m.calls...)
}
