package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// MockTransport provides a mock implementation for testing.
type MockTransport struct {
	mu sync.Mutex

	// Response configuration, keyed by path
	GetResponses  map[string]interface{}
	PostResponses map[string]interface{}

	// Error injection, keyed by path; "*" applies to every path
	Errors map[string]error

	// Request tracking
	Requests []Request

	// State
	token  string
	closed bool
}

// Request tracks one call.
type Request struct {
	Method  string
	Path    string
	Payload interface{}
	Token   string
}

// NewMockTransport creates a mock transport.
func NewMockTransport() *MockTransport {
	return &MockTransport{
		GetResponses:  make(map[string]interface{}),
		PostResponses: make(map[string]interface{}),
		Errors:        make(map[string]error),
	}
}

// GetJSON mocks HTTP GET.
func (m *MockTransport) GetJSON(ctx context.Context, path string, out interface{}) error {
	return m.call(ctx, "GET", path, nil, out, m.GetResponses)
}

// PostJSON mocks HTTP POST.
func (m *MockTransport) PostJSON(ctx context.Context, path string, payload, out interface{}) error {
	return m.call(ctx, "POST", path, payload, out, m.PostResponses)
}

func (m *MockTransport) call(ctx context.Context, method, path string, payload, out interface{}, responses map[string]interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Requests = append(m.Requests, Request{Method: method, Path: path, Payload: payload, Token: m.token})

	if err := ctx.Err(); err != nil {
		return err
	}
	if err, ok := m.Errors[path]; ok {
		return err
	}
	if err, ok := m.Errors["*"]; ok {
		return err
	}

	resp, ok := responses[path]
	if !ok {
		return fmt.Errorf("no mock response for %s %s", method, path)
	}
	if out == nil {
		return nil
	}

	// Round-trip through JSON so callers see wire semantics.
	data, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

// SetToken mocks token setting.
func (m *MockTransport) SetToken(token string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.token = token
}

// GetToken returns the mock token.
func (m *MockTransport) GetToken() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.token
}

// Close mocks connection closing.
func (m *MockTransport) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Calls returns a copy of the tracked requests.
func (m *MockTransport) Calls() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Request(nil), m.Requests...)
}

// Closed reports whether Close was called.
func (m *MockTransport) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}
