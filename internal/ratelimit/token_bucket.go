package ratelimit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
)

// Bucket is a token bucket refilled at RequestsPerMinute and capped at BurstSize.
// A bucket with either value <= 0 is disabled.
type Bucket struct {
	RequestsPerMinute int `yaml:"requestsPerMinute"`
	BurstSize         int `yaml:"burstSize"`
}

func (b Bucket) Enabled() bool {
	return b.RequestsPerMinute > 0 && b.BurstSize > 0
}

type Decision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// RetryAfterSeconds rounds RetryAfter up to whole seconds, never below 1.
func (d Decision) RetryAfterSeconds() int {
	s := int(math.Ceil(d.RetryAfter.Seconds()))
	if s < 1 {
		s = 1
	}
	return s
}

type Limiter interface {
	Allow(ctx context.Context, scope string, subject string, bucket Bucket) (Decision, error)
}

// Subject identifies who a submission budget belongs to: the browser session
// when the cookie is set, the client address otherwise. The two never collide.
func Subject(sessionID, clientIP string) string {
	if sid := strings.TrimSpace(sessionID); sid != "" {
		return "session:" + sid
	}
	if ip := strings.TrimSpace(clientIP); ip != "" {
		return "ip:" + ip
	}
	return "unknown"
}

// TokenBucketLimiter keeps one bucket per (scope, subject) in Redis, next to
// the session views, so every front-end replica charges the same budget.
// Subjects are hashed before they reach a key.
type TokenBucketLimiter struct {
	rdb    *redis.Client
	prefix string
	now    func() time.Time
}

func NewTokenBucketLimiter(rdb *redis.Client, prefix string) *TokenBucketLimiter {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "nftbatch"
	}
	return &TokenBucketLimiter{rdb: rdb, prefix: prefix, now: time.Now}
}

// KEYS[1] bucket hash; ARGV rate (tokens/ms), capacity, now (ms), ttl (ms).
// Returns {allowed, retry_after_ms, remaining}.
var submitBucketScript = redis.NewScript(`
local key = KEYS[1]
local rate = tonumber(ARGV[1])
local capacity = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local ttl = tonumber(ARGV[4])

local state = redis.call("HMGET", key, "tokens", "ts")
local tokens = tonumber(state[1]) or capacity
local ts = tonumber(state[2]) or now
if now < ts then ts = now end

tokens = math.min(capacity, tokens + (now - ts) * rate)

local allowed = 0
local wait = 0
if tokens >= 1.0 then
  allowed = 1
  tokens = tokens - 1.0
else
  wait = math.ceil((1.0 - tokens) / rate)
end

redis.call("HSET", key, "tokens", tokens, "ts", now)
redis.call("PEXPIRE", key, ttl)
return {allowed, wait, math.floor(tokens)}
`)

func (l *TokenBucketLimiter) Allow(ctx context.Context, scope string, subject string, bucket Bucket) (Decision, error) {
	if l == nil || l.rdb == nil || !bucket.Enabled() {
		return Decision{Allowed: true, Remaining: bucket.BurstSize}, nil
	}
	scope = strings.TrimSpace(scope)
	if scope == "" {
		scope = "default"
	}
	subject = strings.TrimSpace(subject)
	if subject == "" {
		subject = "unknown"
	}

	ratePerMS := float64(bucket.RequestsPerMinute) / float64(time.Minute/time.Millisecond)
	capacity := float64(bucket.BurstSize)
	ttl := bucketTTL(bucket)

	res, err := submitBucketScript.Run(ctx, l.rdb, []string{l.key(scope, subject)},
		ratePerMS, capacity, l.now().UTC().UnixMilli(), ttl.Milliseconds()).Result()
	if err != nil {
		return Decision{}, fmt.Errorf("rate limit %s: %w", scope, err)
	}
	vals, ok := res.([]interface{})
	if !ok || len(vals) < 3 {
		return Decision{}, fmt.Errorf("unexpected redis ratelimit response: %T", res)
	}

	allowed, _ := vals[0].(int64)
	waitMS, _ := vals[1].(int64)
	remaining, _ := vals[2].(int64)
	if allowed == 1 {
		return Decision{Allowed: true, Remaining: int(remaining)}, nil
	}
	if waitMS <= 0 {
		waitMS = 1
	}
	return Decision{Allowed: false, RetryAfter: time.Duration(waitMS) * time.Millisecond}, nil
}

func (l *TokenBucketLimiter) key(scope, subject string) string {
	sum := sha256.Sum256([]byte(subject))
	return fmt.Sprintf("%s:rl:%s:%s", l.prefix, scope, hex.EncodeToString(sum[:]))
}

// bucketTTL keeps idle bucket state for two empty-to-full refills, clamped to
// [30s, 1h].
func bucketTTL(b Bucket) time.Duration {
	const (
		minTTL = 30 * time.Second
		maxTTL = time.Hour
	)
	if !b.Enabled() {
		return 2 * time.Minute
	}
	fill := time.Duration(float64(b.BurstSize) / float64(b.RequestsPerMinute) * float64(time.Minute))
	ttl := 2*fill + 5*time.Second
	if ttl < minTTL {
		return minTTL
	}
	if ttl > maxTTL {
		return maxTTL
	}
	return ttl
}
