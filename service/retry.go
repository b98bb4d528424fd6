package service

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy spaces settlement attempts. Kind is "exponential" or "fixed".
type RetryPolicy struct {
	Kind       string
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
	// Jitter is the randomization factor of exponential delays, 0 disables it.
	Jitter float64
}

func (p RetryPolicy) newBackOff() backoff.BackOff {
	if p.Kind == "fixed" {
		return backoff.NewConstantBackOff(p.Initial)
	}
	b := &backoff.ExponentialBackOff{
		InitialInterval:     p.Initial,
		RandomizationFactor: p.Jitter,
		Multiplier:          p.Multiplier,
		MaxInterval:         p.Max,
		MaxElapsedTime:      0,
		Stop:                backoff.Stop,
		Clock:               backoff.SystemClock,
	}
	if b.Multiplier < 1 {
		b.Multiplier = backoff.DefaultMultiplier
	}
	if b.MaxInterval <= 0 {
		b.MaxInterval = backoff.DefaultMaxInterval
	}
	b.Reset()
	return b
}

// Delay returns the wait before the attempt that follows failed attempt n
// (n starts at 1).
func (p RetryPolicy) Delay(n int) time.Duration {
	b := p.newBackOff()
	d := p.Initial
	for i := 0; i < max(n, 1); i++ {
		d = b.NextBackOff()
	}
	if d == backoff.Stop {
		return p.Max
	}
	return d
}
