package transport

import (
	"context"

	"github.com/TheMichaelB/stepsync/internal/config"
	"github.com/TheMichaelB/stepsync/internal/events"
)

// Transport is the JSON-over-HTTP surface the fitness services use.
type Transport interface {
	// GetJSON decodes the response of GET path into out.
	GetJSON(ctx context.Context, path string, out interface{}) error

	// PostJSON sends payload and decodes the response into out (may be nil).
	PostJSON(ctx context.Context, path string, payload, out interface{}) error

	// Authentication
	SetToken(token string)
	GetToken() string

	// Lifecycle
	Close() error
}

// DefaultTransport implements the Transport interface.
type DefaultTransport struct {
	httpClient *HTTPClient
	logger     *events.Logger
}

// NewTransport creates a transport instance.
func NewTransport(cfg *config.APIConfig, logger *events.Logger) Transport {
	return &DefaultTransport{
		httpClient: NewHTTPClient(cfg, logger),
		logger:     logger,
	}
}

// GetJSON forwards to HTTP client.
func (t *DefaultTransport) GetJSON(ctx context.Context, path string, out interface{}) error {
	return t.httpClient.GetJSON(ctx, path, out)
}

// PostJSON forwards to HTTP client.
func (t *DefaultTransport) PostJSON(ctx context.Context, path string, payload, out interface{}) error {
	return t.httpClient.PostJSON(ctx, path, payload, out)
}

// SetToken sets the auth token.
func (t *DefaultTransport) SetToken(token string) {
	t.httpClient.SetToken(token)
}

// GetToken returns the current auth token.
func (t *DefaultTransport) GetToken() string {
	return t.httpClient.GetToken()
}

// Close releases idle connections.
func (t *DefaultTransport) Close() error {
	t.httpClient.client.CloseIdleConnections()
	return nil
}
