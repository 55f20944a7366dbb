package ratelimit

import "time"

// SharedCounter is the external cross-node counter collaborator. Increment
// must be atomic: it adds one to the bucket for (key, windowStart) and
// returns the new cross-node total.
type SharedCounter interface {
	IncrementAndGet(key string, windowStart time.Time, ttl time.Duration) (int64, error)
}

// CheckDistributed checks a limit against the cross-node sum held by the
// shared counter. When the counter is missing or fails, the verdict follows
// the configured fail-open/fail-closed policy instead of silently
// mis-counting.
func (l *Limiter) CheckDistributed(counter SharedCounter, clientID, endpoint string, windowSize time.Duration, limit int) Result {
	if windowSize <= 0 {
		windowSize = l.cfg.WindowSize
	}
	if limit <= 0 {
		limit = l.cfg.Limit
	}
	now := l.now()
	windowStart := now.Truncate(windowSize)
	resetAt := windowStart.Add(windowSize)

	if counter == nil {
		return l.degraded("shared counter unavailable", resetAt)
	}

	key := clientID + "|" + endpoint
	total, err := counter.IncrementAndGet(key, windowStart, windowSize)
	if err != nil {
		l.logger.Warn().Err(err).Str("client", clientID).Msg("shared counter failed")
		return l.degraded("shared counter error", resetAt)
	}

	if total > int64(limit) {
		l.mu.Lock()
		l.totalBlocked++
		l.mu.Unlock()
		return Result{Allowed: false, Remaining: 0, ResetAt: resetAt}
	}
	return Result{Allowed: true, Remaining: limit - int(total), ResetAt: resetAt}
}

func (l *Limiter) degraded(reason string, resetAt time.Time) Result {
	l.logger.Warn().Bool("fail_open", l.cfg.FailOpen).Msg(reason)
	if l.cfg.FailOpen {
		return Result{Allowed: true, Remaining: 0, ResetAt: resetAt}
	}
	return Result{Allowed: false, Remaining: 0, ResetAt: resetAt}
}
