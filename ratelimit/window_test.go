package ratelimit

import (
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"
)

func testLimits() Limits {
	return Limits{Anonymous: 3, Authenticated: 10, Admin: 20}
}

func TestStore_FixedWindowCountdown(t *testing.T) {
	s := NewStore(time.Hour, testLimits())

	var results []Result
	for i := 0; i < 4; i++ {
		results = append(results, s.Check("ip:1.2.3.4", TierAnonymous))
	}

	for i, want := range []int{2, 1, 0} {
		if !results[i].Allowed {
			t.Fatalf("request %d: expected allowed", i+1)
		}
		if results[i].Remaining != want {
			t.Errorf("request %d: remaining %d, want %d", i+1, results[i].Remaining, want)
		}
	}
	denied := results[3]
	if denied.Allowed {
		t.Fatal("4th request: expected denied")
	}
	if denied.Remaining != 0 {
		t.Errorf("4th request: remaining %d, want 0", denied.Remaining)
	}
	if denied.Limit != 3 {
		t.Errorf("4th request: limit %d, want 3", denied.Limit)
	}
	for i := 1; i < 4; i++ {
		if !results[i].ResetTime.Equal(results[0].ResetTime) {
			t.Errorf("request %d: reset time drifted within window", i+1)
		}
	}
}

func TestStore_WindowReset(t *testing.T) {
	s := NewStore(30*time.Millisecond, testLimits())

	first := s.Check("ip:1.2.3.4", TierAnonymous)
	s.Check("ip:1.2.3.4", TierAnonymous)
	s.Check("ip:1.2.3.4", TierAnonymous)
	if r := s.Check("ip:1.2.3.4", TierAnonymous); r.Allowed {
		t.Fatal("expected denial at ceiling")
	}

	time.Sleep(40 * time.Millisecond)

	r := s.Check("ip:1.2.3.4", TierAnonymous)
	if !r.Allowed {
		t.Fatal("expected fresh window to allow")
	}
	if r.Remaining != 2 {
		t.Errorf("fresh window remaining %d, want 2 (count restarted at 1)", r.Remaining)
	}
	if !r.ResetTime.After(first.ResetTime) {
		t.Error("expected a new reset time after window expiry")
	}
}

func TestStore_TierCeilings(t *testing.T) {
	s := NewStore(time.Hour, testLimits())

	if r := s.Check("ip:a", TierAnonymous); r.Limit != 3 {
		t.Errorf("anonymous limit %d, want 3", r.Limit)
	}
	if r := s.Check(KeyForAPIKey("gw-user"), TierAuthenticated); r.Limit != 10 {
		t.Errorf("authenticated limit %d, want 10", r.Limit)
	}
	if r := s.Check(KeyForAPIKey("gw-admin"), TierAdmin); r.Limit != 20 {
		t.Errorf("admin limit %d, want 20", r.Limit)
	}
}

func TestStore_AuthenticatedTierExhaustion(t *testing.T) {
	s := NewStore(time.Hour, Limits{Anonymous: 100, Authenticated: 1000, Admin: 5000})
	key := KeyForAPIKey("gw-reader")

	for i := 0; i < 1000; i++ {
		if r := s.Check(key, TierAuthenticated); !r.Allowed {
			t.Fatalf("request %d: expected allowed", i+1)
		}
	}
	r := s.Check(key, TierAuthenticated)
	if r.Allowed {
		t.Fatal("1001st request: expected denied")
	}
	if r.Limit != 1000 || r.Remaining != 0 {
		t.Errorf("1001st request: limit %d remaining %d, want 1000 / 0", r.Limit, r.Remaining)
	}
}

func TestStore_IndependentKeys(t *testing.T) {
	s := NewStore(time.Hour, testLimits())

	for i := 0; i < 3; i++ {
		s.Check("ip:1.1.1.1", TierAnonymous)
	}
	if r := s.Check("ip:1.1.1.1", TierAnonymous); r.Allowed {
		t.Fatal("expected first caller denied")
	}
	if r := s.Check("ip:2.2.2.2", TierAnonymous); !r.Allowed {
		t.Error("expected second caller unaffected")
	}
}

func TestStore_PeekDoesNotCount(t *testing.T) {
	s := NewStore(time.Hour, testLimits())
	s.Check("ip:1.2.3.4", TierAnonymous)

	p1 := s.Peek("ip:1.2.3.4", TierAnonymous)
	p2 := s.Peek("ip:1.2.3.4", TierAnonymous)
	if p1.Remaining != 2 || p2.Remaining != 2 {
		t.Errorf("peek changed remaining: %d then %d, want 2", p1.Remaining, p2.Remaining)
	}
}

func TestStore_GC(t *testing.T) {
	s := NewStore(10*time.Millisecond, testLimits())
	s.Check("ip:a", TierAnonymous)
	s.Check("ip:b", TierAnonymous)

	time.Sleep(20 * time.Millisecond)
	s.Check("ip:c", TierAnonymous)

	if n := s.GC(); n != 2 {
		t.Errorf("expected 2 expired windows removed, got %d", n)
	}
	if s.Len() != 1 {
		t.Errorf("expected 1 window tracked, got %d", s.Len())
	}
}

func TestStore_Reset(t *testing.T) {
	s := NewStore(time.Hour, testLimits())
	for i := 0; i < 3; i++ {
		s.Check("ip:1.2.3.4", TierAnonymous)
	}
	if r := s.Check("ip:1.2.3.4", TierAnonymous); r.Allowed {
		t.Fatal("expected denial at ceiling")
	}

	s.Reset()

	if s.Len() != 0 {
		t.Errorf("expected no tracked windows after reset, got %d", s.Len())
	}
	r := s.Check("ip:1.2.3.4", TierAnonymous)
	if !r.Allowed {
		t.Fatal("expected fresh window after reset")
	}
	if r.Remaining != 2 {
		t.Errorf("remaining %d, want 2", r.Remaining)
	}

	// Repeated resets are safe.
	s.Reset()
	s.Reset()
	if s.Len() != 0 {
		t.Errorf("expected no tracked windows, got %d", s.Len())
	}
}

func TestKeyNamespaces(t *testing.T) {
	// An attacker-controlled IP string must not be able to collide with an
	// API key's limiter entry.
	apiKey := KeyForAPIKey("abc")
	ip := KeyForIP("abc")
	if apiKey == ip {
		t.Errorf("namespaces collide: %q", apiKey)
	}
	if !strings.HasPrefix(apiKey, "key:") {
		t.Errorf("unexpected api key namespace: %q", apiKey)
	}
	if !strings.HasPrefix(ip, "ip:") {
		t.Errorf("unexpected ip namespace: %q", ip)
	}
	if strings.Contains(apiKey, "abc") {
		t.Error("raw api key leaked into limiter key")
	}
}

func TestFormatRetryAfter(t *testing.T) {
	now := time.Now()
	tests := []struct {
		reset time.Time
		want  string
	}{
		{now.Add(45 * time.Second), "45s"},
		{now.Add(90 * time.Second), "1m 30s"},
		{now.Add(10 * time.Minute), "10m 0s"},
		{now.Add(-time.Second), "0s"},
	}
	for _, tt := range tests {
		if got := FormatRetryAfter(tt.reset); got != tt.want {
			t.Errorf("FormatRetryAfter(%v): got %q, want %q", tt.reset.Sub(now), got, tt.want)
		}
	}
}

func TestError_Message(t *testing.T) {
	err := &Error{Result: Result{
		Limit:     100,
		ResetTime: time.Now().Add(30 * time.Second),
	}}
	msg := err.Error()
	if !strings.Contains(msg, "rate limit exceeded") {
		t.Errorf("unexpected message: %q", msg)
	}
	if !strings.Contains(msg, "30s") {
		t.Errorf("expected retry hint in message, got %q", msg)
	}
}

func TestStore_Concurrent(t *testing.T) {
	s := NewStore(time.Hour, Limits{Anonymous: 1000, Authenticated: 1000, Admin: 1000})
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := KeyForIP(fmt.Sprintf("10.0.0.%d", i%5))
			for j := 0; j < 10; j++ {
				s.Check(key, TierAnonymous)
			}
		}(i)
	}
	wg.Wait()

	// 5 distinct IPs, 100 checks each, all under the ceiling.
	for i := 0; i < 5; i++ {
		r := s.Peek(KeyForIP(fmt.Sprintf("10.0.0.%d", i)), TierAnonymous)
		if r.Remaining != 900 {
			t.Errorf("ip %d: remaining %d, want 900", i, r.Remaining)
		}
	}
}
