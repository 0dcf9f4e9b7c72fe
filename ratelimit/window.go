// Package ratelimit implements the fixed-window request limiter that guards
// the graph backend. Each caller key gets one counter per window; the window
// boundary is set by the first request and held fixed until it expires. A
// caller can therefore burst up to twice its limit across a boundary, which
// is an accepted tradeoff of the fixed-window design, not a bug.
package ratelimit

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"sync"
	"time"
)

// DefaultWindow is the counting window applied unless configured otherwise.
const DefaultWindow = time.Hour

// Tier is a caller's authentication level. Higher tiers get higher ceilings.
type Tier int

const (
	TierAnonymous Tier = iota
	TierAuthenticated
	TierAdmin
)

func (t Tier) String() string {
	switch t {
	case TierAuthenticated:
		return "authenticated"
	case TierAdmin:
		return "admin"
	default:
		return "anonymous"
	}
}

// ParseTier maps a tier name to its Tier. Unknown names parse as anonymous,
// the most restrictive tier.
func ParseTier(s string) Tier {
	switch s {
	case "authenticated":
		return TierAuthenticated
	case "admin":
		return TierAdmin
	default:
		return TierAnonymous
	}
}

// Limits holds the per-window request ceiling for each tier.
type Limits struct {
	Anonymous     int `yaml:"anonymous" json:"anonymous"`
	Authenticated int `yaml:"authenticated" json:"authenticated"`
	Admin         int `yaml:"admin" json:"admin"`
}

// DefaultLimits returns the production ceilings per window.
func DefaultLimits() Limits {
	return Limits{Anonymous: 100, Authenticated: 1000, Admin: 5000}
}

// ForTier returns the ceiling for t.
func (l Limits) ForTier(t Tier) int {
	switch t {
	case TierAuthenticated:
		return l.Authenticated
	case TierAdmin:
		return l.Admin
	default:
		return l.Anonymous
	}
}

// Result reports the outcome of a window check.
type Result struct {
	Allowed   bool      `json:"allowed"`
	Limit     int       `json:"limit"`
	Remaining int       `json:"remaining"`
	ResetTime time.Time `json:"reset_time"`
}

// Error is returned by callers that translate a denied Result into an error.
// It carries the full Result so HTTP layers can build a 429 response with
// retry information.
type Error struct {
	Result Result
}

func (e *Error) Error() string {
	return fmt.Sprintf("rate limit exceeded: retry in %s", FormatRetryAfter(e.Result.ResetTime))
}

type windowEntry struct {
	count     int
	resetTime time.Time
}

// Store tracks one fixed window per caller key. All request handlers share a
// single Store; per-operation atomicity is guaranteed by an internal mutex.
type Store struct {
	mu      sync.Mutex
	window  time.Duration
	limits  Limits
	entries map[string]*windowEntry
}

// NewStore creates a Store counting over the given window. window <= 0 falls
// back to DefaultWindow.
func NewStore(window time.Duration, limits Limits) *Store {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Store{
		window:  window,
		limits:  limits,
		entries: make(map[string]*windowEntry),
	}
}

// Check counts one request for key at the given tier. The first request of a
// window fixes its reset time; subsequent requests only increment the counter
// until the ceiling is reached, after which requests are denied with
// Remaining 0 and the unchanged reset time.
func (s *Store) Check(key string, tier Tier) Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	e, ok := s.entries[key]
	if !ok || !now.Before(e.resetTime) {
		e = &windowEntry{resetTime: now.Add(s.window)}
		s.entries[key] = e
	}

	limit := s.limits.ForTier(tier)
	if e.count >= limit {
		return Result{Allowed: false, Limit: limit, Remaining: 0, ResetTime: e.resetTime}
	}
	e.count++
	return Result{
		Allowed:   true,
		Limit:     limit,
		Remaining: limit - e.count,
		ResetTime: e.resetTime,
	}
}

// Peek reports the state of key's current window without counting a request.
// Useful for status endpoints.
func (s *Store) Peek(key string, tier Tier) Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	limit := s.limits.ForTier(tier)
	now := time.Now()
	e, ok := s.entries[key]
	if !ok || !now.Before(e.resetTime) {
		return Result{Allowed: true, Limit: limit, Remaining: limit, ResetTime: now.Add(s.window)}
	}
	remaining := limit - e.count
	if remaining < 0 {
		remaining = 0
	}
	return Result{Allowed: e.count < limit, Limit: limit, Remaining: remaining, ResetTime: e.resetTime}
}

// Len returns the number of caller windows currently tracked.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Snapshot reports the limiter's configuration and tracking state.
type Snapshot struct {
	WindowSeconds int    `json:"window_seconds"`
	Limits        Limits `json:"limits"`
	TrackedKeys   int    `json:"tracked_keys"`
}

// Snapshot returns the limiter configuration and current tracked key count.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		WindowSeconds: int(s.window / time.Second),
		Limits:        s.limits,
		TrackedKeys:   len(s.entries),
	}
}

// GC drops entries whose window has already expired and reports how many
// were removed. It bounds map growth from one-off callers; correctness never
// depends on it since Check reinitialises expired windows lazily.
func (s *Store) GC() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	removed := 0
	for key, e := range s.entries {
		if !now.Before(e.resetTime) {
			delete(s.entries, key)
			removed++
		}
	}
	return removed
}

// Reset forgets every tracked window; the next request from any caller
// starts fresh. Safe to call repeatedly.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[string]*windowEntry)
}

// KeyForAPIKey builds the caller key for an authenticated request. The API
// key is hashed so the limiter map never holds raw credentials, and prefixed
// so the key and IP namespaces cannot collide.
func KeyForAPIKey(apiKey string) string {
	sum := sha256.Sum256([]byte(apiKey))
	return "key:" + hex.EncodeToString(sum[:8])
}

// KeyForIP builds the caller key for an unauthenticated request.
func KeyForIP(ip string) string {
	return "ip:" + ip
}

// FormatRetryAfter renders the time until resetTime as a human-readable
// duration: "Xm Ys" for a minute or more, "Zs" below that. Seconds are
// rounded up so callers never retry before the window actually resets.
func FormatRetryAfter(resetTime time.Time) string {
	remaining := time.Until(resetTime)
	if remaining < 0 {
		remaining = 0
	}
	secs := int(math.Ceil(remaining.Seconds()))
	if secs >= 60 {
		return fmt.Sprintf("%dm %ds", secs/60, secs%60)
	}
	return fmt.Sprintf("%ds", secs)
}
