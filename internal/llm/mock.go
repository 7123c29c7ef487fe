package llm

import (
	"context"
	"errors"
	"sync"
)

// MockResponse is a canned response for the Mock generator.
type MockResponse struct {
	Text string
	Err  error
}

// Mock is a deterministic Generator for tests. It returns canned responses
// in FIFO order and records every request it receives.
type Mock struct {
	mu        sync.Mutex
	responses []MockResponse
	Calls     []Request
}

func NewMock(responses ...MockResponse) *Mock {
	return &Mock{responses: responses}
}

func (m *Mock) Generate(_ context.Context, req Request) (*Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Calls = append(m.Calls, req)

	if len(m.responses) == 0 {
		return nil, errors.New("mock generator: no responses queued")
	}
	resp := m.responses[0]
	m.responses = m.responses[1:]
	if resp.Err != nil {
		return nil, resp.Err
	}
	return &Result{Text: resp.Text, Model: "mock"}, nil
}

func (m *Mock) ModelID() string { return "mock" }

// CallCount returns how many Generate calls were made.
func (m *Mock) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}
