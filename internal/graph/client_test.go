package graph

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/arbor-labs/graph-gateway/internal/circuitbreaker"
)

func TestClient_Execute(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/graphql" {
			t.Errorf("path = %q, want /graphql", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer backend-token" {
			t.Errorf("Authorization = %q, want bearer token", got)
		}

		var req graphRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.OperationName != "getNode" {
			t.Errorf("operationName = %q, want getNode", req.OperationName)
		}
		if req.Variables["id"] != "n-1" {
			t.Errorf("variables.id = %v, want n-1", req.Variables["id"])
		}

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":{"node":{"id":"n-1","label":"Person"}}}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "backend-token", time.Second, nil)
	data, err := c.Execute(context.Background(), "getNode",
		"query getNode($id: ID!) { node(id: $id) { id label } }",
		map[string]any{"id": "n-1"})
	if err != nil {
		t.Fatalf("Execute() error: %v", err)
	}

	var payload struct {
		Node struct {
			ID    string `json:"id"`
			Label string `json:"label"`
		} `json:"node"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		t.Fatalf("unmarshal data: %v", err)
	}
	if payload.Node.ID != "n-1" || payload.Node.Label != "Person" {
		t.Errorf("unexpected payload: %+v", payload)
	}
}

func TestClient_ResolverErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":null,"errors":[{"message":"node not found"}]}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", time.Second, nil)
	_, err := c.Execute(context.Background(), "getNode", "query { node }", nil)
	if err == nil {
		t.Fatal("expected error for resolver failure")
	}
}

func TestClient_BackendError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "internal server error", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", time.Second, nil)
	_, err := c.Execute(context.Background(), "getNode", "query { node }", nil)

	var be *BackendError
	if !errors.As(err, &be) {
		t.Fatalf("expected *BackendError, got %v", err)
	}
	if be.Status != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", be.Status)
	}
}

func TestClient_CircuitOpensAfterFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "down", http.StatusBadGateway)
	}))
	defer srv.Close()

	breaker := circuitbreaker.New(2, 1, time.Minute)
	c := NewClient(srv.URL, "", time.Second, breaker)

	for i := 0; i < 2; i++ {
		if _, err := c.Execute(context.Background(), "q", "query { x }", nil); err == nil {
			t.Fatalf("call %d: expected error", i+1)
		}
	}

	_, err := c.Execute(context.Background(), "q", "query { x }", nil)
	if !errors.Is(err, circuitbreaker.ErrOpen) {
		t.Fatalf("expected circuit open, got %v", err)
	}
	if snap := c.BreakerSnapshot(); snap.State != "open" {
		t.Errorf("breaker state = %q, want open", snap.State)
	}
}

func TestClient_Ping(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":{"__typename":"Query"}}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", time.Second, nil)
	if err := c.Ping(context.Background()); err != nil {
		t.Fatalf("Ping() error: %v", err)
	}
}

func TestClient_ContextCancellation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(200 * time.Millisecond)
		_, _ = w.Write([]byte(`{"data":{}}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", time.Second, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if _, err := c.Execute(ctx, "slow", "query { x }", nil); err == nil {
		t.Fatal("expected error for cancelled context")
	}
}
