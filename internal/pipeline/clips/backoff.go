package clips

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"github.com/beatframe/beatframe/internal/pipeline/config"
)

// Backoff computes retry delays between clip generation attempts.
type Backoff struct {
	InitialDelay time.Duration
	Factor       float64
	MaxDelay     time.Duration
	Jitter       bool
}

// BackoffFromConfig resolves the retry knobs from the run config.
func BackoffFromConfig(cfg config.RetryConfig) Backoff {
	b := Backoff{
		InitialDelay: 200 * time.Millisecond,
		Factor:       2.0,
		MaxDelay:     60 * time.Second,
	}
	if cfg.InitialDelayMS != nil && *cfg.InitialDelayMS >= 0 {
		b.InitialDelay = time.Duration(*cfg.InitialDelayMS) * time.Millisecond
	}
	if cfg.BackoffFactor != nil && *cfg.BackoffFactor > 0 {
		b.Factor = *cfg.BackoffFactor
	}
	if cfg.MaxDelayMS != nil && *cfg.MaxDelayMS >= 0 {
		b.MaxDelay = time.Duration(*cfg.MaxDelayMS) * time.Millisecond
	}
	if cfg.Jitter != nil {
		b.Jitter = *cfg.Jitter
	}
	return b
}

// Delay returns the wait before retry number attempt (1-indexed). Jitter is
// seeded so the same session/clip/attempt always waits the same time.
func (b Backoff) Delay(attempt int, seed string) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if b.InitialDelay <= 0 {
		return 0
	}
	d := float64(b.InitialDelay) * math.Pow(b.Factor, float64(attempt-1))
	if b.MaxDelay > 0 {
		d = math.Min(d, float64(b.MaxDelay))
	}
	if b.Jitter {
		d *= 0.5 + jitterUnit(fmt.Sprintf("%s:%d", seed, attempt)) // [0.5, 1.5)
	}
	if d < 0 {
		d = 0
	}
	return time.Duration(d)
}

// Wait sleeps for the attempt's delay, returning false when ctx ended first.
func (b Backoff) Wait(ctx context.Context, attempt int, seed string) bool {
	return sleepWithContext(ctx, b.Delay(attempt, seed))
}

func jitterUnit(seed string) float64 {
	sum := sha256.Sum256([]byte(seed))
	u := binary.BigEndian.Uint64(sum[:8])
	return float64(u) / float64(^uint64(0))
}

// sleepWithContext waits for delay unless the context ends first.
func sleepWithContext(ctx context.Context, delay time.Duration) bool {
	if delay <= 0 {
		return true
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
