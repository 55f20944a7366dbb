package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"

	"github.com/mariia-hub/apiguard/internal/core"
)

// Result is the outcome of a rate limit check.
type Result struct {
	Allowed   bool      `json:"allowed"`
	Remaining int       `json:"remaining"`
	ResetAt   time.Time `json:"reset_at"`
}

// counterWindow tracks one (client, endpoint) key. violations never
// decrease, so repeat offenders only ever get stricter limits.
type counterWindow struct {
	windowStart time.Time
	count       int
	violations  int
}

// Limiter is a sliding-window rate limiter keyed by (client, endpoint).
// Tracked keys are bounded by an LRU so hostile clients cannot exhaust
// memory by fabricating identifiers.
type Limiter struct {
	logger  zerolog.Logger
	cfg     core.RateLimitConfig
	mu      sync.Mutex
	windows *lru.Cache[string, *counterWindow]
	now     func() time.Time

	totalChecks  int64
	totalBlocked int64
}

// New creates a Limiter from configuration.
func New(cfg core.RateLimitConfig, logger zerolog.Logger) (*Limiter, error) {
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = time.Minute
	}
	if cfg.Limit <= 0 {
		cfg.Limit = 100
	}
	if cfg.MaxMultiplier <= 0 {
		cfg.MaxMultiplier = 16
	}
	if cfg.DecayFraction <= 0 || cfg.DecayFraction >= 1 {
		cfg.DecayFraction = 0.5
	}
	if cfg.MaxTrackedKeys <= 0 {
		cfg.MaxTrackedKeys = 100000
	}
	windows, err := lru.New[string, *counterWindow](cfg.MaxTrackedKeys)
	if err != nil {
		return nil, fmt.Errorf("creating window cache: %w", err)
	}
	return &Limiter{
		logger:  logger.With().Str("component", "rate_limiter").Logger(),
		cfg:     cfg,
		windows: windows,
		now:     time.Now,
	}, nil
}

// Check applies the configured window size and limit.
func (l *Limiter) Check(clientID, endpoint string) Result {
	return l.CheckWith(clientID, endpoint, l.cfg.WindowSize, l.cfg.Limit)
}

// CheckWith runs a rate limit check with an explicit window size and limit.
// An unknown key starts a fresh window with count zero.
func (l *Limiter) CheckWith(clientID, endpoint string, windowSize time.Duration, limit int) Result {
	if windowSize <= 0 {
		windowSize = l.cfg.WindowSize
	}
	if limit <= 0 {
		limit = l.cfg.Limit
	}
	key := clientID + "|" + endpoint
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()
	l.totalChecks++

	w, ok := l.windows.Get(key)
	if !ok {
		w = &counterWindow{windowStart: now}
		l.windows.Add(key, w)
	}

	l.rollover(w, now, windowSize)

	effective := effectiveLimit(limit, w.violations, l.cfg.MaxMultiplier)
	resetAt := w.windowStart.Add(windowSize)

	if w.count >= effective {
		w.violations++
		l.totalBlocked++
		l.logger.Debug().
			Str("client", clientID).
			Str("endpoint", endpoint).
			Int("violations", w.violations).
			Msg("rate limit exceeded")
		return Result{Allowed: false, Remaining: 0, ResetAt: resetAt}
	}

	w.count++
	return Result{Allowed: true, Remaining: effective - w.count, ResetAt: resetAt}
}

// rollover advances the window, decaying the count by the configured fraction
// once per elapsed window instead of resetting to zero. This prevents a
// full-rate burst immediately after rollover. Negative elapsed time from
// clock skew is clamped to zero.
func (l *Limiter) rollover(w *counterWindow, now time.Time, windowSize time.Duration) {
	elapsed := now.Sub(w.windowStart)
	if elapsed < 0 {
		elapsed = 0
		w.windowStart = now
	}
	if elapsed < windowSize {
		return
	}
	n := int(elapsed / windowSize)
	for i := 0; i < n && w.count > 0; i++ {
		w.count = int(float64(w.count) * l.cfg.DecayFraction)
	}
	w.windowStart = w.windowStart.Add(time.Duration(n) * windowSize)
}

// effectiveLimit shrinks the limit for repeat offenders:
// multiplier = min(max, 2^(violations/5)), effective = limit / multiplier,
// never below one.
func effectiveLimit(limit, violations, maxMultiplier int) int {
	m := Multiplier(violations, maxMultiplier)
	effective := limit / m
	if effective < 1 {
		effective = 1
	}
	return effective
}

// Multiplier computes the penalty multiplier for a violation count.
func Multiplier(violations, maxMultiplier int) int {
	steps := violations / 5
	m := 1
	for i := 0; i < steps; i++ {
		m *= 2
		if m >= maxMultiplier {
			return maxMultiplier
		}
	}
	return m
}

// Violations reports the violation count for a key, zero when untracked.
func (l *Limiter) Violations(clientID, endpoint string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if w, ok := l.windows.Peek(clientID + "|" + endpoint); ok {
		return w.violations
	}
	return 0
}

// Stats returns total checks and blocked counts.
func (l *Limiter) Stats() (checks, blocked int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.totalChecks, l.totalBlocked
}

// TrackedKeys returns how many keys are currently tracked.
func (l *Limiter) TrackedKeys() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.windows.Len()
}

// Reset drops all tracked windows.
func (l *Limiter) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.windows.Purge()
	l.totalChecks = 0
	l.totalBlocked = 0
}

// CleanupLoop evicts windows idle for several window sizes. Run as a
// goroutine; returns when ctx is done.
func (l *Limiter) CleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(l.cfg.WindowSize)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.cleanup()
		}
	}
}

func (l *Limiter) cleanup() {
	cutoff := l.now().Add(-10 * l.cfg.WindowSize)
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, key := range l.windows.Keys() {
		if w, ok := l.windows.Peek(key); ok && w.windowStart.Before(cutoff) && w.violations == 0 {
			l.windows.Remove(key)
		}
	}
}
