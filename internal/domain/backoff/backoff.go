package backoff

import (
	"math"
	"time"
)

// Calculate returns the delay to apply after the given 1-based failed attempt.
//
// The undecorated curve is delay(n) = min(BaseDelay * Multiplier^(n-1), MaxDelay).
// With jitter the result is drawn from [delay(n), delay(n) + Jitter*(delay(n+1)-delay(n))],
// so for fixed params Calculate is non-decreasing in attempt for any random draw.
// A nil params uses NewDefaultParams. The result is never negative.
func Calculate(attempt int, params *Params) time.Duration {
	if params == nil {
		params = NewDefaultParams()
	}
	if attempt < 1 {
		attempt = 1
	}

	d := curve(attempt, params)

	jitter := clamp(params.Jitter, 0, 1)
	if jitter == 0 {
		return d
	}

	next := curve(attempt+1, params)
	spread := float64(next-d) * jitter
	if spread <= 0 {
		return d
	}

	r := 0.0
	if params.Rand != nil {
		r = clamp(params.Rand(), 0, 1)
	}
	// float64 rounding can push the product past next-d, which near
	// math.MaxInt64 does not convert back to a Duration.
	extra := r * spread
	if extra >= float64(next-d) {
		return next
	}
	return d + time.Duration(extra)
}

// curve is the jitter-free delay for attempt.
func curve(attempt int, params *Params) time.Duration {
	base := params.BaseDelay
	if base < 0 {
		base = 0
	}
	mult := params.Multiplier
	if mult < 1 {
		mult = 1
	}

	maxDelay := params.MaxDelay
	if maxDelay <= 0 {
		maxDelay = time.Duration(math.MaxInt64)
	}

	raw := float64(base) * math.Pow(mult, float64(attempt-1))
	if math.IsInf(raw, 0) || math.IsNaN(raw) || raw >= float64(maxDelay) {
		return maxDelay
	}
	return time.Duration(raw)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
