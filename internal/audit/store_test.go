package audit

import (
	"bytes"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/mariia-hub/apiguard/internal/core"
)

func newTestStore(maxSize int) *Store {
	return NewStore(maxSize, zerolog.Nop())
}

func authFailure(actor, ip string) *core.SecurityEvent {
	e := core.NewSecurityEvent(core.EventAuthentication, core.SeverityMedium, actor, "/api/login", core.ResultFailure)
	e.SourceIP = ip
	return e
}

func sessionTouch(sessionID, ip string) *core.SecurityEvent {
	e := core.NewSecurityEvent(core.EventSession, core.SeverityInfo, "user-1", "session", core.ResultSuccess)
	e.SessionID = sessionID
	e.SourceIP = ip
	return e
}

// ─── Store ──────────────────────────────────────────────────────────────────

func TestStore_LogAndRecent(t *testing.T) {
	s := newTestStore(100)
	for i := 0; i < 5; i++ {
		s.Log(core.NewSecurityEvent(core.EventAPISecurity, core.SeverityInfo, "a", "/r", core.ResultSuccess))
	}
	if s.Count() != 5 {
		t.Errorf("count = %d, want 5", s.Count())
	}
	events := s.Recent(Filter{})
	if len(events) != 5 {
		t.Errorf("recent = %d, want 5", len(events))
	}
}

func TestStore_RecentMostRecentFirst(t *testing.T) {
	s := newTestStore(100)
	first := core.NewSecurityEvent(core.EventAPISecurity, core.SeverityInfo, "a", "/r", core.ResultSuccess)
	second := core.NewSecurityEvent(core.EventAPISecurity, core.SeverityInfo, "a", "/r", core.ResultSuccess)
	s.Log(first)
	s.Log(second)

	events := s.Recent(Filter{})
	if events[0].ID != second.ID {
		t.Error("most recent event should come first")
	}
}

func TestStore_FIFOEviction(t *testing.T) {
	s := newTestStore(3)
	var ids []string
	for i := 0; i < 5; i++ {
		e := core.NewSecurityEvent(core.EventAPISecurity, core.SeverityInfo, "a", "/r", core.ResultSuccess)
		ids = append(ids, e.ID)
		s.Log(e)
	}
	if s.Count() != 3 {
		t.Errorf("count = %d, want 3 (retention cap)", s.Count())
	}
	events := s.Recent(Filter{})
	for _, e := range events {
		if e.ID == ids[0] || e.ID == ids[1] {
			t.Error("oldest events should have been evicted")
		}
	}
}

type captureEvicted struct {
	mu     sync.Mutex
	events []*core.SecurityEvent
}

func (c *captureEvicted) OnEvict(e *core.SecurityEvent) {
	c.mu.Lock()
	c.events = append(c.events, e)
	c.mu.Unlock()
}

func TestStore_EvictedEventsReachSink(t *testing.T) {
	s := newTestStore(3)
	sink := &captureEvicted{}
	s.SetEvicted(sink)

	var ids []string
	for i := 0; i < 5; i++ {
		e := core.NewSecurityEvent(core.EventAPISecurity, core.SeverityInfo, "a", "/r", core.ResultSuccess)
		ids = append(ids, e.ID)
		s.Log(e)
	}

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.events) != 2 {
		t.Fatalf("sink got %d events, want exactly the 2 evicted", len(sink.events))
	}
	if sink.events[0].ID != ids[0] || sink.events[1].ID != ids[1] {
		t.Error("sink should receive exactly the evicted events in order")
	}
}

func TestStore_Filters(t *testing.T) {
	s := newTestStore(100)
	s.Log(authFailure("admin@test.com", "1.1.1.1"))
	s.Log(sessionTouch("sess-1", "2.2.2.2"))
	s.Log(core.NewSecurityEvent(core.EventSecurityIncident, core.SeverityCritical, "attacker", "/api", core.ResultBlocked))

	authType := core.EventAuthentication
	if got := s.Recent(Filter{Type: &authType}); len(got) != 1 {
		t.Errorf("type filter got %d, want 1", len(got))
	}
	if got := s.Recent(Filter{MinSeverity: core.SeverityHigh}); len(got) != 1 {
		t.Errorf("severity filter got %d, want 1", len(got))
	}
	if got := s.Recent(Filter{Actor: "admin@test.com"}); len(got) != 1 {
		t.Errorf("actor filter got %d, want 1", len(got))
	}
	if got := s.Recent(Filter{Result: core.ResultBlocked}); len(got) != 1 {
		t.Errorf("result filter got %d, want 1", len(got))
	}
	if got := s.Recent(Filter{Limit: 2}); len(got) != 2 {
		t.Errorf("limit filter got %d, want 2", len(got))
	}
}

func TestStore_ConcurrentAppends(t *testing.T) {
	s := newTestStore(10000)
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Log(core.NewSecurityEvent(core.EventAPISecurity, core.SeverityInfo, "a", "/r", core.ResultSuccess))
		}()
	}
	wg.Wait()
	if s.Count() != 100 {
		t.Errorf("count = %d after 100 concurrent appends, want 100", s.Count())
	}
}

func TestStore_Metrics(t *testing.T) {
	s := newTestStore(100)
	s.Log(authFailure("a", "1.1.1.1"))
	s.Log(authFailure("a", "1.1.1.1"))
	s.Log(core.NewSecurityEvent(core.EventAPISecurity, core.SeverityCritical, "x", "/r", core.ResultBlocked))
	s.Log(core.NewSecurityEvent(core.EventAPISecurity, core.SeverityInfo, "x", "/r", core.ResultSuccess))

	m := s.GetMetrics()
	if m.TotalEvents != 4 {
		t.Errorf("total = %d, want 4", m.TotalEvents)
	}
	if m.Failures != 3 {
		t.Errorf("failures = %d, want 3 (2 FAILURE + 1 BLOCKED)", m.Failures)
	}
	if m.BySeverity["CRITICAL"] != 1 {
		t.Errorf("critical count = %d, want 1", m.BySeverity["CRITICAL"])
	}
}

func TestStore_Reset(t *testing.T) {
	s := newTestStore(100)
	s.Log(authFailure("a", "1.1.1.1"))
	s.Reset()
	if s.Count() != 0 {
		t.Errorf("count = %d after reset, want 0", s.Count())
	}
	if s.GetMetrics().TotalEvents != 0 {
		t.Error("metrics should be zeroed by reset")
	}
}

// ─── Anomaly detection ──────────────────────────────────────────────────────

func TestDetectAnomalies_BruteForce(t *testing.T) {
	s := newTestStore(1000)
	for i := 0; i < 6; i++ {
		s.Log(authFailure("admin@test.com", "1.1.1.1"))
	}

	anomalies := s.DetectAnomalies(time.Minute)
	found := false
	for _, a := range anomalies {
		if a.Type == AnomalyBruteForce && a.Actor == "admin@test.com" {
			found = true
			if a.Count != 6 {
				t.Errorf("count = %d, want 6", a.Count)
			}
		}
	}
	if !found {
		t.Errorf("anomalies = %+v, want brute_force_attempt for admin@test.com", anomalies)
	}
}

func TestDetectAnomalies_BelowThreshold(t *testing.T) {
	s := newTestStore(1000)
	for i := 0; i < 4; i++ {
		s.Log(authFailure("admin@test.com", "1.1.1.1"))
	}
	// Successful logins never count toward brute force.
	e := core.NewSecurityEvent(core.EventAuthentication, core.SeverityInfo, "admin@test.com", "/api/login", core.ResultSuccess)
	s.Log(e)

	if anomalies := s.DetectAnomalies(time.Minute); len(anomalies) != 0 {
		t.Errorf("anomalies = %+v, want none below threshold", anomalies)
	}
}

func TestDetectAnomalies_MultipleIPs(t *testing.T) {
	s := newTestStore(1000)
	for _, ip := range []string{"1.1.1.1", "2.2.2.2", "3.3.3.3"} {
		s.Log(sessionTouch("sess-1", ip))
	}
	// A second session from a single IP stays clean.
	s.Log(sessionTouch("sess-2", "4.4.4.4"))

	anomalies := s.DetectAnomalies(time.Minute)
	if len(anomalies) != 1 {
		t.Fatalf("anomalies = %+v, want exactly 1", anomalies)
	}
	a := anomalies[0]
	if a.Type != AnomalyMultipleIPs || a.Session != "sess-1" || a.Count != 3 {
		t.Errorf("anomaly = %+v, want multiple_ips for sess-1 with 3 IPs", a)
	}
}

func TestDetectAnomalies_WindowExcludesOldEvents(t *testing.T) {
	s := newTestStore(1000)
	base := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 6; i++ {
		e := authFailure("admin@test.com", "1.1.1.1")
		e.Timestamp = base.Add(-10 * time.Minute)
		s.Log(e)
	}
	s.now = func() time.Time { return base }

	if anomalies := s.DetectAnomalies(time.Minute); len(anomalies) != 0 {
		t.Errorf("anomalies = %+v, want none outside the window", anomalies)
	}
}

// ─── Export ─────────────────────────────────────────────────────────────────

func TestExportTable(t *testing.T) {
	s := newTestStore(100)
	e := core.NewSecurityEvent(core.EventAuthentication, core.SeverityHigh, "admin@test.com", "/api/login", core.ResultFailure)
	s.Log(e)

	var buf bytes.Buffer
	if err := s.ExportTable(&buf, Filter{}); err != nil {
		t.Fatalf("ExportTable() error: %v", err)
	}
	out := buf.String()
	for _, want := range []string{
		"ID", "Timestamp", "EventType", "Severity", "Actor", "Resource", "Result",
		e.ID, "authentication_event", "HIGH", "admin@test.com", "/api/login", "FAILURE",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("table missing %q:\n%s", want, out)
		}
	}
}

func TestExportJSON(t *testing.T) {
	s := newTestStore(100)
	e := core.NewSecurityEvent(core.EventAPISecurity, core.SeverityMedium, "x", "/r", core.ResultFlagged)
	s.Log(e)

	var buf bytes.Buffer
	if err := s.ExportJSON(&buf, Filter{}); err != nil {
		t.Fatalf("ExportJSON() error: %v", err)
	}
	if !strings.Contains(buf.String(), e.ID) {
		t.Error("JSON export missing event ID")
	}
	if !strings.Contains(buf.String(), "api_security_event") {
		t.Error("JSON export missing event type name")
	}
}
