package adapter

import (
	"context"
	"sync"
)

// Mock is a scripted Completer for tests. Responses play back in order;
// the last repeats. Errs, when shorter than the call count, yields nil
// afterwards, which lets a test script transient failures followed by
// success.
type Mock struct {
	Responses []Response
	Errs      []error

	mu    sync.Mutex
	calls []Request
}

// Complete implements Completer.
func (m *Mock) Complete(_ context.Context, req Request) (Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	idx := len(m.calls)
	m.calls = append(m.calls, req)

	if idx < len(m.Errs) && m.Errs[idx] != nil {
		return Response{}, m.Errs[idx]
	}
	if len(m.Responses) == 0 {
		return Response{Text: "ok"}, nil
	}
	ri := idx
	if ri >= len(m.Responses) {
		ri = len(m.Responses) - 1
	}
	return m.Responses[ri], nil
}

// Calls returns the recorded requests.
func (m *Mock) Calls() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Request(nil), m.calls...)
}
