// Package backoff computes how long a failed task waits before it becomes
// claimable again.
package backoff

import (
	"math/rand"
	"time"
)

// Params defines the retry curve
type Params struct {
	// BaseDelay is the delay after the first failed attempt
	BaseDelay time.Duration

	// Multiplier scales the delay for each further attempt; values below 1 are treated as 1
	Multiplier float64

	// MaxDelay caps the computed delay
	MaxDelay time.Duration

	// Jitter spreads the delay toward the next attempt's delay, as a fraction in [0, 1]
	Jitter float64

	// Rand supplies values in [0, 1) for jitter. Defaults to math/rand.
	Rand func() float64
}

// ParamsConfig allows overriding the default parameters when creating a new Params instance.
// Zero values keep the default.
type ParamsConfig struct {
	BaseDelay  time.Duration
	Multiplier float64
	MaxDelay   time.Duration
	Jitter     float64
}

// NewDefaultParams creates a new Params instance with default values:
// one second doubling per attempt, capped at one hour, without jitter.
func NewDefaultParams() *Params {
	return &Params{
		BaseDelay:  time.Second,
		Multiplier: 2,
		MaxDelay:   time.Hour,
		Jitter:     0,
		Rand:       rand.Float64,
	}
}

// NewParams creates a new Params instance with custom configuration
func NewParams(config ParamsConfig) *Params {
	params := NewDefaultParams()

	if config.BaseDelay > 0 {
		params.BaseDelay = config.BaseDelay
	}
	if config.Multiplier > 0 {
		params.Multiplier = config.Multiplier
	}
	if config.MaxDelay > 0 {
		params.MaxDelay = config.MaxDelay
	}
	if config.Jitter > 0 {
		params.Jitter = config.Jitter
	}

	return params
}
