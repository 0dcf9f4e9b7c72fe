package main

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	graphgateway "github.com/arbor-labs/graph-gateway"
	"github.com/arbor-labs/graph-gateway/auth"
	"github.com/arbor-labs/graph-gateway/internal/catalog"
	"github.com/arbor-labs/graph-gateway/internal/circuitbreaker"
	"github.com/arbor-labs/graph-gateway/internal/graph"
	"github.com/arbor-labs/graph-gateway/ratelimit"
	"github.com/arbor-labs/graph-gateway/web"
	"github.com/go-chi/chi/v5"
)

// listToolsHandler handles GET /v1/tools: the catalog of named operations a
// caller can invoke, without the backing GraphQL documents.
func listToolsHandler(gw *graphgateway.Gateway) http.HandlerFunc {
	type toolInfo struct {
		Name        string          `json:"name"`
		Description string          `json:"description"`
		Params      []catalog.Param `json:"params"`
		TTLSeconds  int             `json:"ttl_seconds"`
		MinTier     string          `json:"min_tier"`
	}

	return func(w http.ResponseWriter, r *http.Request) {
		caller := callerFrom(r)
		if res := gw.CheckRateLimit(caller); !res.Allowed {
			writeRateLimited(w, &ratelimit.Error{Result: res})
			return
		}

		tools := gw.Tools()
		out := make([]toolInfo, 0, len(tools))
		for _, t := range tools {
			minTier := t.MinTier
			if minTier == "" {
				minTier = "anonymous"
			}
			out = append(out, toolInfo{
				Name:        t.Name,
				Description: t.Description,
				Params:      t.Params,
				TTLSeconds:  t.TTLSeconds,
				MinTier:     minTier,
			})
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"tools": out,
			"count": len(out),
		})
	}
}

// callToolHandler handles POST /v1/tools/{tool}. The body is optional for
// tools without parameters: {"params": {...}}.
func callToolHandler(gw *graphgateway.Gateway) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Params map[string]any `json:"params"`
		}
		if r.ContentLength != 0 {
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				writeAPIError(w, http.StatusBadRequest, "invalid request body: "+err.Error(), "invalid_request")
				return
			}
		}

		res, err := gw.CallTool(r.Context(), callerFrom(r), chi.URLParam(r, "tool"), body.Params)
		if err != nil {
			writeGatewayError(w, err)
			return
		}
		writeResult(w, res)
	}
}

// runQueryHandler handles POST /v1/query/{operation}: an ad-hoc named GraphQL
// document with variables, cached under the operation name.
func runQueryHandler(gw *graphgateway.Gateway) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Query     string         `json:"query"`
			Variables map[string]any `json:"variables"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeAPIError(w, http.StatusBadRequest, "invalid request body: "+err.Error(), "invalid_request")
			return
		}

		res, err := gw.RunQuery(r.Context(), callerFrom(r), chi.URLParam(r, "operation"), body.Query, body.Variables)
		if err != nil {
			writeGatewayError(w, err)
			return
		}
		writeResult(w, res)
	}
}

// invalidateQueryHandler handles DELETE /v1/query/{operation}: drop one
// cached query result. Admin-tier callers only.
func invalidateQueryHandler(gw *graphgateway.Gateway) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if caller := callerFrom(r); caller.Tier < ratelimit.TierAdmin {
			writeAPIError(w, http.StatusForbidden, "query invalidation requires an admin key", "forbidden")
			return
		}

		var body struct {
			Variables map[string]any `json:"variables"`
		}
		if r.ContentLength != 0 {
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				writeAPIError(w, http.StatusBadRequest, "invalid request body: "+err.Error(), "invalid_request")
				return
			}
		}

		if err := gw.InvalidateQuery(chi.URLParam(r, "operation"), body.Variables); err != nil {
			writeAPIError(w, http.StatusBadRequest, err.Error(), "invalid_request")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// callerFrom returns the caller identity resolved by the auth middleware. A
// route wired outside the middleware sees an anonymous caller.
func callerFrom(r *http.Request) auth.Context {
	caller, _ := auth.FromContext(r.Context())
	return caller
}

func writeResult(w http.ResponseWriter, res graphgateway.Result) {
	w.Header().Set("Content-Type", "application/json")
	if res.CacheHit {
		w.Header().Set("X-Cache", "HIT")
	} else {
		w.Header().Set("X-Cache", "MISS")
	}
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"data":      res.Data,
		"cache_hit": res.CacheHit,
	})
}

// writeGatewayError maps pipeline errors onto HTTP statuses.
func writeGatewayError(w http.ResponseWriter, err error) {
	var rlErr *ratelimit.Error
	var backendErr *graph.BackendError
	switch {
	case errors.As(err, &rlErr):
		writeRateLimited(w, rlErr)
	case errors.Is(err, graphgateway.ErrUnknownTool):
		writeAPIError(w, http.StatusNotFound, err.Error(), "not_found")
	case errors.Is(err, graphgateway.ErrForbidden):
		writeAPIError(w, http.StatusForbidden, err.Error(), "forbidden")
	case errors.Is(err, graphgateway.ErrInvalidParams):
		writeAPIError(w, http.StatusBadRequest, err.Error(), "invalid_request")
	case errors.Is(err, circuitbreaker.ErrOpen):
		writeAPIError(w, http.StatusServiceUnavailable, "backend temporarily unavailable", "upstream_unavailable")
	case errors.Is(err, context.DeadlineExceeded):
		writeAPIError(w, http.StatusGatewayTimeout, "backend timed out", "upstream_timeout")
	case errors.As(err, &backendErr):
		writeAPIError(w, http.StatusBadGateway, backendErr.Error(), "upstream_error")
	default:
		writeAPIError(w, http.StatusInternalServerError, err.Error(), "server_error")
	}
}

// writeRateLimited writes the 429 response: Retry-After in whole seconds
// (rounded up), a human-readable retry hint, and the full window state.
func writeRateLimited(w http.ResponseWriter, rlErr *ratelimit.Error) {
	retryAfter := time.Until(rlErr.Result.ResetTime)
	if retryAfter < 0 {
		retryAfter = 0
	}
	w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(retryAfter.Seconds()))))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"error": map[string]interface{}{
			"message": "rate limit exceeded, retry in " + ratelimit.FormatRetryAfter(rlErr.Result.ResetTime),
			"type":    "rate_limited",
		},
		"rate_limit": rlErr.Result,
	})
}

// adminUIHandler serves the embedded single-page admin dashboard.
func adminUIHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		page, err := web.Assets.ReadFile("dashboard.html")
		if err != nil {
			http.Error(w, "dashboard unavailable", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write(page)
	}
}

// writeAPIError writes the gateway's JSON error envelope.
func writeAPIError(w http.ResponseWriter, status int, message, errType string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"error": map[string]interface{}{
			"message": message,
			"type":    errType,
		},
	})
}
