// Package auth resolves caller identity for gateway requests. Callers
// authenticate with an API key (validated against the admin key store) or a
// short-lived HS256 session token; requests without credentials proceed as
// anonymous and are rate-limited by client IP instead.
package auth

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/arbor-labs/graph-gateway/internal/admin"
	"github.com/arbor-labs/graph-gateway/ratelimit"
)

// Authentication methods reported in Context.Method.
const (
	MethodAPIKey  = "api_key"
	MethodSession = "session"
)

// ErrInvalidCredentials is returned when a request presents credentials that
// do not validate. Requests with no credentials at all are not an error;
// they resolve to an anonymous Context.
var ErrInvalidCredentials = errors.New("invalid credentials")

// Context is the resolved caller identity attached to every request.
type Context struct {
	Authenticated bool
	Method        string // api_key | session, empty when anonymous
	Subject       string // key name or token subject
	APIKey        string // raw key when authenticated by API key
	IP            string
	Tier          ratelimit.Tier
	Permissions   []string
}

// LimiterKey returns the rate-limiter key for this caller: the hashed API
// key or session subject for authenticated callers, the client IP otherwise.
// The two namespaces are prefixed so they can never collide.
func (c Context) LimiterKey() string {
	switch {
	case c.Authenticated && c.APIKey != "":
		return ratelimit.KeyForAPIKey(c.APIKey)
	case c.Authenticated:
		return ratelimit.KeyForAPIKey(c.Subject)
	default:
		return ratelimit.KeyForIP(c.IP)
	}
}

// HasPermission reports whether the caller holds perm. The admin scope
// implies every permission.
func (c Context) HasPermission(perm string) bool {
	for _, p := range c.Permissions {
		if p == perm || p == admin.ScopeAdmin {
			return true
		}
	}
	return false
}

// KeyValidator checks a presented API key. The admin key stores implement
// this.
type KeyValidator interface {
	ValidateKey(key string) (*admin.APIKey, bool)
}

// SessionConfig configures HS256 session-token validation. An empty Secret
// disables session tokens entirely.
type SessionConfig struct {
	Secret []byte
	Issuer string
}

// Authenticator resolves request credentials into a Context.
type Authenticator struct {
	keys    KeyValidator
	session SessionConfig
}

// New creates an Authenticator. keys may be nil to disable API key auth.
func New(keys KeyValidator, session SessionConfig) *Authenticator {
	return &Authenticator{keys: keys, session: session}
}

// Resolve inspects the request's credentials and returns the caller's
// Context. Credentials are read from the Authorization bearer header or the
// X-API-Key header. Invalid credentials return ErrInvalidCredentials rather
// than silently downgrading the caller to anonymous.
func (a *Authenticator) Resolve(r *http.Request) (Context, error) {
	ip := clientIP(r)

	credential := bearerToken(r)
	if credential == "" {
		credential = r.Header.Get("X-API-Key")
	}
	if credential == "" {
		return Context{IP: ip, Tier: ratelimit.TierAnonymous}, nil
	}

	// Session tokens are JWTs; API keys never contain dots.
	if strings.Count(credential, ".") == 2 && len(a.session.Secret) > 0 {
		ctx, err := a.resolveSession(credential)
		if err != nil {
			return Context{}, err
		}
		ctx.IP = ip
		return ctx, nil
	}

	if a.keys != nil {
		if key, ok := a.keys.ValidateKey(credential); ok {
			return Context{
				Authenticated: true,
				Method:        MethodAPIKey,
				Subject:       key.Name,
				APIKey:        credential,
				IP:            ip,
				Tier:          tierForScopes(key.Scopes),
				Permissions:   key.Scopes,
			}, nil
		}
	}
	return Context{}, ErrInvalidCredentials
}

func (a *Authenticator) resolveSession(token string) (Context, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{"HS256"})}
	if a.session.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.session.Issuer))
	}

	parsed, err := jwt.Parse(token, func(_ *jwt.Token) (any, error) {
		return a.session.Secret, nil
	}, opts...)
	if err != nil || !parsed.Valid {
		return Context{}, fmt.Errorf("%w: session token rejected", ErrInvalidCredentials)
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return Context{}, fmt.Errorf("%w: malformed claims", ErrInvalidCredentials)
	}

	ctx := Context{
		Authenticated: true,
		Method:        MethodSession,
		Tier:          ratelimit.TierAuthenticated,
	}
	if sub, ok := claims["sub"].(string); ok {
		ctx.Subject = sub
	}
	if tier, ok := claims["tier"].(string); ok {
		ctx.Tier = ratelimit.ParseTier(tier)
	}
	if scopes, ok := claims["scopes"].([]any); ok {
		for _, s := range scopes {
			if str, ok := s.(string); ok {
				ctx.Permissions = append(ctx.Permissions, str)
			}
		}
	}
	return ctx, nil
}

func tierForScopes(scopes []string) ratelimit.Tier {
	for _, s := range scopes {
		if s == admin.ScopeAdmin {
			return ratelimit.TierAdmin
		}
	}
	return ratelimit.TierAuthenticated
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	}
	return ""
}

// clientIP strips the port from RemoteAddr. The server installs chi's RealIP
// middleware ahead of this, so RemoteAddr already reflects X-Forwarded-For
// when the gateway runs behind a proxy.
func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
