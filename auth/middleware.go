package auth

import (
	"context"
	"encoding/json"
	"net/http"
)

type contextKey string

const callerContextKey contextKey = "caller"

// FromContext retrieves the caller Context stored by Middleware. The second
// return is false when the middleware did not run.
func FromContext(ctx context.Context) (Context, bool) {
	c, ok := ctx.Value(callerContextKey).(Context)
	return c, ok
}

// WithContext stores a caller Context, mainly for tests and internal calls.
func WithContext(ctx context.Context, c Context) context.Context {
	return context.WithValue(ctx, callerContextKey, c)
}

// Middleware resolves caller identity and stores it in the request context.
// Requests presenting invalid credentials are rejected with 401; requests
// with no credentials proceed as anonymous.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		caller, err := a.Resolve(r)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid or revoked credentials", "authentication_error", "invalid_credentials")
			return
		}
		next.ServeHTTP(w, r.WithContext(WithContext(r.Context(), caller)))
	})
}

// writeError writes the gateway's unified JSON error shape:
//
//	{"error":{"message":"...","type":"...","code":"..."}}
func writeError(w http.ResponseWriter, status int, message, errType, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]string{
			"message": message,
			"type":    errType,
			"code":    code,
		},
	})
}
