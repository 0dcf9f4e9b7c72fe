// Package graph is the HTTP client for the downstream GraphQL service that
// executes the expensive queries this gateway exists to cache. The client is
// deliberately thin: one POST per query, raw JSON in and out, with a circuit
// breaker so a failing backend degrades to fast errors instead of pile-ups.
package graph

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/arbor-labs/graph-gateway/internal/circuitbreaker"
	"github.com/arbor-labs/graph-gateway/internal/metrics"
)

// DefaultTimeout bounds a single backend round trip.
const DefaultTimeout = 30 * time.Second

// BackendError describes a non-2xx response from the graph service.
type BackendError struct {
	Status  int
	Message string
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("graph backend error (%d): %s", e.Status, e.Message)
}

// Client talks GraphQL-over-HTTP to a single backend endpoint.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	breaker    *circuitbreaker.Breaker
}

// NewClient creates a Client for the backend at baseURL. token is sent as a
// bearer credential when non-empty. A nil breaker disables circuit breaking.
func NewClient(baseURL, token string, timeout time.Duration, breaker *circuitbreaker.Breaker) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: timeout},
		breaker:    breaker,
	}
}

type graphRequest struct {
	Query         string         `json:"query"`
	Variables     map[string]any `json:"variables,omitempty"`
	OperationName string         `json:"operationName,omitempty"`
}

type graphError struct {
	Message string `json:"message"`
}

type graphResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []graphError    `json:"errors,omitempty"`
}

// Execute posts the GraphQL document with its variables and returns the raw
// data payload. Resolver-level errors are surfaced as Go errors even when the
// transport round trip succeeded.
func (c *Client) Execute(ctx context.Context, operationName, query string, variables map[string]any) (json.RawMessage, error) {
	if c.breaker != nil && !c.breaker.Allow() {
		metrics.BackendErrors.WithLabelValues("circuit_open").Inc()
		return nil, circuitbreaker.ErrOpen
	}

	start := time.Now()
	data, err := c.post(ctx, graphRequest{
		Query:         query,
		Variables:     variables,
		OperationName: operationName,
	})
	metrics.BackendDuration.WithLabelValues(operationName).Observe(time.Since(start).Seconds())

	if err != nil {
		if c.breaker != nil {
			c.breaker.RecordFailure()
			c.publishBreakerState()
		}
		if errors.Is(err, context.DeadlineExceeded) {
			metrics.BackendErrors.WithLabelValues("timeout").Inc()
		} else {
			metrics.BackendErrors.WithLabelValues("backend_error").Inc()
		}
		return nil, err
	}

	if c.breaker != nil {
		c.breaker.RecordSuccess()
		c.publishBreakerState()
	}
	return data, nil
}

// Ping issues a minimal introspection query to verify the backend is up.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.Execute(ctx, "ping", "{ __typename }", nil)
	return err
}

// BreakerSnapshot exposes the breaker state for status endpoints. The zero
// Snapshot is returned when circuit breaking is disabled.
func (c *Client) BreakerSnapshot() circuitbreaker.Snapshot {
	if c.breaker == nil {
		return circuitbreaker.Snapshot{}
	}
	return c.breaker.Snapshot()
}

func (c *Client) post(ctx context.Context, req graphRequest) (json.RawMessage, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/graphql", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.token)
	}

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = httpResp.Body.Close() }()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if httpResp.StatusCode != http.StatusOK {
		var errResp graphResponse
		if json.Unmarshal(respBody, &errResp) == nil && len(errResp.Errors) > 0 {
			return nil, &BackendError{Status: httpResp.StatusCode, Message: joinErrors(errResp.Errors)}
		}
		return nil, &BackendError{Status: httpResp.StatusCode, Message: string(respBody)}
	}

	var resp graphResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	if len(resp.Errors) > 0 {
		return nil, fmt.Errorf("graph query failed: %s", joinErrors(resp.Errors))
	}
	return resp.Data, nil
}

func (c *Client) publishBreakerState() {
	metrics.CircuitBreakerState.WithLabelValues("graph").Set(float64(c.breaker.State()))
}

func joinErrors(errs []graphError) string {
	msgs := make([]string, 0, len(errs))
	for _, e := range errs {
		msgs = append(msgs, e.Message)
	}
	return strings.Join(msgs, "; ")
}
