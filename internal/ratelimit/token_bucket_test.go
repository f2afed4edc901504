package ratelimit

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
)

func newTestLimiter(t *testing.T) (*miniredis.Miniredis, *TokenBucketLimiter) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, NewTokenBucketLimiter(rdb, "test")
}

func TestTokenBucketLimiter_Allow_Disabled(t *testing.T) {
	_, lim := newTestLimiter(t)

	dec, err := lim.Allow(context.Background(), "submit", "session-1", Bucket{})
	if err != nil {
		t.Fatalf("allow: %v", err)
	}
	if !dec.Allowed {
		t.Fatalf("expected allowed when bucket disabled")
	}
}

func TestTokenBucketLimiter_Allow_BlocksAfterBurst(t *testing.T) {
	_, lim := newTestLimiter(t)
	bucket := Bucket{RequestsPerMinute: 60, BurstSize: 1}

	dec1, err := lim.Allow(context.Background(), "submit", "session-1", bucket)
	if err != nil {
		t.Fatalf("allow 1: %v", err)
	}
	if !dec1.Allowed {
		t.Fatalf("expected first request to be allowed")
	}

	dec2, err := lim.Allow(context.Background(), "submit", "session-1", bucket)
	if err != nil {
		t.Fatalf("allow 2: %v", err)
	}
	if dec2.Allowed {
		t.Fatalf("expected second request to be rate limited")
	}
	if dec2.RetryAfter <= 0 {
		t.Fatalf("expected retryAfter to be set")
	}

	decOther, err := lim.Allow(context.Background(), "submit", "session-2", bucket)
	if err != nil {
		t.Fatalf("allow other: %v", err)
	}
	if !decOther.Allowed {
		t.Fatalf("expected other session to be allowed (independent bucket)")
	}
}

func TestTokenBucketLimiter_Allow_RefillsOverTime(t *testing.T) {
	_, lim := newTestLimiter(t)
	clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	lim.now = func() time.Time { return clock }
	bucket := Bucket{RequestsPerMinute: 60, BurstSize: 1}

	if dec, err := lim.Allow(context.Background(), "submit", "s", bucket); err != nil || !dec.Allowed {
		t.Fatalf("first allow: %+v %v", dec, err)
	}
	if dec, err := lim.Allow(context.Background(), "submit", "s", bucket); err != nil || dec.Allowed {
		t.Fatalf("second allow should be blocked: %+v %v", dec, err)
	}

	clock = clock.Add(1500 * time.Millisecond)
	if dec, err := lim.Allow(context.Background(), "submit", "s", bucket); err != nil || !dec.Allowed {
		t.Fatalf("expected refill after 1.5s: %+v %v", dec, err)
	}
}

func TestTokenBucketLimiter_KeysArePrefixedAndHashed(t *testing.T) {
	mr, lim := newTestLimiter(t)
	if _, err := lim.Allow(context.Background(), "submit", "session-secret", Bucket{RequestsPerMinute: 10, BurstSize: 2}); err != nil {
		t.Fatalf("allow: %v", err)
	}
	keys := mr.Keys()
	if len(keys) != 1 {
		t.Fatalf("expected one bucket key, got %v", keys)
	}
	if !strings.HasPrefix(keys[0], "test:rl:submit:") {
		t.Fatalf("unexpected key %q", keys[0])
	}
	if strings.Contains(keys[0], "session-secret") {
		t.Fatalf("subject leaked into key %q", keys[0])
	}
}

func TestTokenBucketLimiter_Allow_ReportsRemaining(t *testing.T) {
	_, lim := newTestLimiter(t)
	clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	lim.now = func() time.Time { return clock }
	bucket := Bucket{RequestsPerMinute: 1, BurstSize: 3}

	for want := 2; want >= 0; want-- {
		dec, err := lim.Allow(context.Background(), "submit", "s", bucket)
		if err != nil || !dec.Allowed {
			t.Fatalf("allow: %+v %v", dec, err)
		}
		if dec.Remaining != want {
			t.Fatalf("remaining = %d, want %d", dec.Remaining, want)
		}
	}
	dec, err := lim.Allow(context.Background(), "submit", "s", bucket)
	if err != nil || dec.Allowed {
		t.Fatalf("expected block: %+v %v", dec, err)
	}
	if dec.RetryAfter < 59*time.Second || dec.RetryAfter > 61*time.Second {
		t.Fatalf("retry after = %v, want about one minute", dec.RetryAfter)
	}
}

func TestSubject(t *testing.T) {
	tests := []struct {
		sessionID, clientIP, want string
	}{
		{"0f8fad5b", "10.0.0.1", "session:0f8fad5b"},
		{"", "10.0.0.1", "ip:10.0.0.1"},
		{"  ", " ", "unknown"},
	}
	for _, tt := range tests {
		if got := Subject(tt.sessionID, tt.clientIP); got != tt.want {
			t.Errorf("Subject(%q, %q) = %q, want %q", tt.sessionID, tt.clientIP, got, tt.want)
		}
	}
}

func TestDecisionRetryAfterSeconds(t *testing.T) {
	if got := (Decision{RetryAfter: 1500 * time.Millisecond}).RetryAfterSeconds(); got != 2 {
		t.Errorf("1.5s rounds to %d, want 2", got)
	}
	if got := (Decision{}).RetryAfterSeconds(); got != 1 {
		t.Errorf("zero rounds to %d, want 1", got)
	}
}

func TestBucketTTL(t *testing.T) {
	tests := []struct {
		name   string
		bucket Bucket
		want   time.Duration
	}{
		{"disabled", Bucket{}, 2 * time.Minute},
		{"fast refill clamps to min", Bucket{RequestsPerMinute: 6000, BurstSize: 1}, 30 * time.Second},
		{"slow refill clamps to max", Bucket{RequestsPerMinute: 1, BurstSize: 100}, time.Hour},
		{"two refills plus slack", Bucket{RequestsPerMinute: 60, BurstSize: 60}, 2*time.Minute + 5*time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := bucketTTL(tt.bucket); got != tt.want {
				t.Fatalf("bucketTTL = %v, want %v", got, tt.want)
			}
		})
	}
}
