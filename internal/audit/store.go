package audit

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/mariia-hub/apiguard/internal/core"
)

// Evicted receives events pushed out of the bounded store. Implementations
// must not block: Log runs on the request path.
type Evicted interface {
	OnEvict(event *core.SecurityEvent)
}

// Filter narrows a Recent query. Zero values match everything.
type Filter struct {
	Type        *core.EventType
	MinSeverity core.Severity
	Actor       string
	Result      string
	SessionID   string
	Since       time.Time
	Limit       int
}

// Store is the bounded append-only audit log. Oldest events are evicted FIFO
// once the retention cap is reached.
type Store struct {
	logger  zerolog.Logger
	mu      sync.RWMutex
	events  []*core.SecurityEvent
	maxSize int
	pos     int
	full    bool
	evicted Evicted
	now     func() time.Time

	total      int64
	failures   int64
	bySeverity [5]int64
}

// NewStore creates an audit store retaining up to maxSize events.
func NewStore(maxSize int, logger zerolog.Logger) *Store {
	if maxSize <= 0 {
		maxSize = 50000
	}
	return &Store{
		logger:  logger.With().Str("component", "audit_store").Logger(),
		events:  make([]*core.SecurityEvent, maxSize),
		maxSize: maxSize,
		now:     time.Now,
	}
}

// SetEvicted registers a sink for evicted events, typically the cold archive.
func (s *Store) SetEvicted(e Evicted) {
	s.mu.Lock()
	s.evicted = e
	s.mu.Unlock()
}

// Log appends an event. Appends and evictions are serialized so no event is
// lost under concurrent writers.
func (s *Store) Log(event *core.SecurityEvent) {
	if event == nil {
		return
	}
	s.mu.Lock()
	var old *core.SecurityEvent
	if s.full {
		old = s.events[s.pos]
	}
	s.events[s.pos] = event
	s.pos = (s.pos + 1) % s.maxSize
	if s.pos == 0 {
		s.full = true
	}
	s.total++
	if event.Result == core.ResultFailure || event.Result == core.ResultBlocked {
		s.failures++
	}
	if event.Severity >= core.SeverityInfo && event.Severity <= core.SeverityCritical {
		s.bySeverity[event.Severity]++
	}
	evicted := s.evicted
	s.mu.Unlock()

	if old != nil && evicted != nil {
		evicted.OnEvict(old)
	}
}

// Recent returns events matching the filter, most recent first.
func (s *Store) Recent(f Filter) []*core.SecurityEvent {
	limit := f.Limit
	if limit <= 0 {
		limit = s.maxSize
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	total := s.pos
	if s.full {
		total = s.maxSize
	}

	result := make([]*core.SecurityEvent, 0, min(limit, total))
	for i := 1; i <= total && len(result) < limit; i++ {
		idx := s.pos - i
		if idx < 0 {
			idx += s.maxSize
		}
		e := s.events[idx]
		if e == nil || !matches(e, f) {
			continue
		}
		result = append(result, e)
	}
	return result
}

func matches(e *core.SecurityEvent, f Filter) bool {
	if f.Type != nil && e.Type != *f.Type {
		return false
	}
	if e.Severity < f.MinSeverity {
		return false
	}
	if f.Actor != "" && e.Actor != f.Actor {
		return false
	}
	if f.Result != "" && e.Result != f.Result {
		return false
	}
	if f.SessionID != "" && e.SessionID != f.SessionID {
		return false
	}
	if !f.Since.IsZero() && e.Timestamp.Before(f.Since) {
		return false
	}
	return true
}

// Count returns the number of retained events.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.full {
		return s.maxSize
	}
	return s.pos
}

// Metrics is a point-in-time aggregate over the audit log.
type Metrics struct {
	TotalEvents    int64            `json:"total_events"`
	RetainedEvents int              `json:"retained_events"`
	Failures       int64            `json:"failures"`
	BySeverity     map[string]int64 `json:"by_severity"`
}

// GetMetrics derives aggregate metrics. Totals cover the store's lifetime,
// not just retained events.
func (s *Store) GetMetrics() Metrics {
	s.mu.RLock()
	defer s.mu.RUnlock()

	bySev := make(map[string]int64, 5)
	for sev := core.SeverityInfo; sev <= core.SeverityCritical; sev++ {
		if s.bySeverity[sev] > 0 {
			bySev[sev.String()] = s.bySeverity[sev]
		}
	}
	retained := s.pos
	if s.full {
		retained = s.maxSize
	}
	return Metrics{
		TotalEvents:    s.total,
		RetainedEvents: retained,
		Failures:       s.failures,
		BySeverity:     bySev,
	}
}

// Reset drops all retained events and zeroes the aggregates.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = make([]*core.SecurityEvent, s.maxSize)
	s.pos = 0
	s.full = false
	s.total = 0
	s.failures = 0
	s.bySeverity = [5]int64{}
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
