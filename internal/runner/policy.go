package runner

import (
	"math"
	"time"
)

// Policy bounds how often a chunk is retried after a transient failure.
type Policy struct {
	MaxAttempts int           // total attempts, including the first
	MinBackoff  time.Duration // floor between attempts
	MaxBackoff  time.Duration // ceiling between attempts
	Multiplier  float64
}

// DefaultPolicy allows 5 attempts with waits of 4s, 8s, 16s, 32s (capped at 60s).
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 5,
		MinBackoff:  4 * time.Second,
		MaxBackoff:  60 * time.Second,
		Multiplier:  1,
	}
}

// Backoff returns the wait before retry number n (1 = wait after the first attempt).
func (p Policy) Backoff(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	mult := p.Multiplier
	if mult <= 0 {
		mult = 1
	}

	d := float64(p.MinBackoff) * mult * math.Pow(2, float64(n-1))
	if p.MaxBackoff > 0 && d > float64(p.MaxBackoff) {
		return p.MaxBackoff
	}
	if d < float64(p.MinBackoff) {
		return p.MinBackoff
	}
	return time.Duration(d)
}

func (p Policy) normalize() Policy {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	if p.MinBackoff < 0 {
		p.MinBackoff = 0
	}
	if p.MaxBackoff > 0 && p.MaxBackoff < p.MinBackoff {
		p.MaxBackoff = p.MinBackoff
	}
	return p
}
