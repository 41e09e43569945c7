package conn

import (
	"context"
	"math/rand"
	"time"
)

// BackoffConfig defines dial retry backoff behavior.
type BackoffConfig struct {
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	Jitter       bool
}

// Delay returns the wait before retry number retry (1-based). Jitter scales the delay into
// [0.5, 1.5) of its nominal value; a nil rng pins the factor at 0.5.
func (b BackoffConfig) Delay(retry int, rng *rand.Rand) time.Duration {
	if b.InitialDelay <= 0 {
		return 0
	}
	growth := max(b.Multiplier, 1.0)
	delay := float64(b.InitialDelay)
	for i := 1; i < retry; i++ {
		delay *= growth
		if b.MaxDelay > 0 && delay >= float64(b.MaxDelay) {
			delay = float64(b.MaxDelay)
			break
		}
	}
	if b.Jitter {
		f := 0.5
		if rng != nil {
			f += rng.Float64()
		}
		delay *= f
	}
	return time.Duration(delay)
}

// Config defines connection timeouts.
type Config struct {
	ConnectTimeout   time.Duration
	HandshakeTimeout time.Duration
	ReadTimeout      time.Duration
	WriteTimeout     time.Duration
	DialAttempts     int
	Backoff          BackoffConfig
}

func DefaultConfig() Config {
	return Config{
		ConnectTimeout:   5 * time.Second,
		HandshakeTimeout: 5 * time.Second,
		ReadTimeout:      15 * time.Second,
		WriteTimeout:     15 * time.Second,
		DialAttempts:     3,
		Backoff: BackoffConfig{
			InitialDelay: 250 * time.Millisecond,
			Multiplier:   2.0,
			MaxDelay:     5 * time.Second,
			Jitter:       true,
		},
	}
}

// ReadContext bounds parent by ReadTimeout unless parent already carries a deadline.
func (c Config) ReadContext(parent context.Context) (context.Context, context.CancelFunc) {
	return withTimeout(parent, c.ReadTimeout)
}

func (c Config) WriteContext(parent context.Context) (context.Context, context.CancelFunc) {
	return withTimeout(parent, c.WriteTimeout)
}

func (c Config) HandshakeContext(parent context.Context) (context.Context, context.CancelFunc) {
	return withTimeout(parent, c.HandshakeTimeout)
}

func withTimeout(parent context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if _, ok := parent.Deadline(); ok || d <= 0 {
		return context.WithCancel(parent)
	}
	return context.WithTimeout(parent, d)
}
