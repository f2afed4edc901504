package backoff

import (
	"math"
	"math/rand"
	"time"
)

const (
	PolicyFixed          = "fixed"
	PolicyLinear         = "linear"
	PolicyExponential    = "exponential"
	PolicyExpEqualJitter = "exp_equal_jitter"
	PolicyExpFullJitter  = "exp_full_jitter"
)

// Delay returns how long to wait before retry number attempt (0-based) under
// policy. Delays are computed at millisecond resolution and capped at max.
func Delay(policy string, base time.Duration, max time.Duration, attempt int, rng *rand.Rand) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	baseMS := int(base / time.Millisecond)
	maxMS := int(max / time.Millisecond)
	if baseMS <= 0 {
		baseMS = 1
	}
	if maxMS <= 0 {
		maxMS = baseMS
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return time.Duration(computeMS(policy, baseMS, maxMS, attempt, rng)) * time.Millisecond
}

func computeMS(policy string, baseMS int, maxMS int, attempt int, rng *rand.Rand) int {
	switch policy {
	case PolicyFixed:
		return minInt(baseMS, maxMS)
	case PolicyLinear:
		return minInt(baseMS*maxInt(1, attempt), maxMS)
	case PolicyExponential:
		return expCapped(baseMS, maxMS, attempt)
	case PolicyExpEqualJitter:
		half := expCapped(baseMS, maxMS, attempt) / 2
		return half + rng.Intn(half+1)
	default: // exp_full_jitter
		maxDelay := expCapped(baseMS, maxMS, attempt)
		if maxDelay <= 0 {
			return 0
		}
		return rng.Intn(maxDelay + 1)
	}
}

func expCapped(baseMS, maxMS, attempt int) int {
	v := float64(baseMS) * math.Pow(2, float64(attempt))
	if v > float64(maxMS) {
		return maxMS
	}
	return int(v)
}

// Valid reports whether policy is one Delay understands by name.
func Valid(policy string) bool {
	switch policy {
	case PolicyFixed, PolicyLinear, PolicyExponential, PolicyExpEqualJitter, PolicyExpFullJitter:
		return true
	}
	return false
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
