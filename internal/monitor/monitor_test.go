package monitor

import (
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/mariia-hub/apiguard/internal/core"
)

func newTestMonitor(t *testing.T) *Monitor {
	t.Helper()
	pipeline := core.NewAlertPipeline(zerolog.Nop(), 1000)
	return New(pipeline, core.SeverityHigh, zerolog.Nop())
}

func TestMonitor_ScoreStartsAt100(t *testing.T) {
	m := newTestMonitor(t)
	if got := m.SecurityScore(); got != 100 {
		t.Errorf("score = %d, want 100", got)
	}
}

func TestMonitor_ScoreUsesLargestDeductionOnly(t *testing.T) {
	m := newTestMonitor(t)

	m.RecordSecurityViolation("xss", core.SeverityMedium, nil)
	if got := m.SecurityScore(); got != 75 {
		t.Errorf("score after medium = %d, want 75", got)
	}

	// Many violations of different classes never compound: the worst one
	// dominates.
	m.RecordSecurityViolation("sql_injection", core.SeverityCritical, nil)
	m.RecordSecurityViolation("path_traversal", core.SeverityHigh, nil)
	m.RecordSecurityViolation("csrf", core.SeverityLow, nil)
	if got := m.SecurityScore(); got != 40 {
		t.Errorf("score = %d, want 40 (100 - critical's 60)", got)
	}
}

func TestMonitor_ScoreClamped(t *testing.T) {
	m := newTestMonitor(t)
	for i := 0; i < 20; i++ {
		m.RecordSecurityViolation("sql_injection", core.SeverityCritical, nil)
	}
	if got := m.SecurityScore(); got < 0 || got > 100 {
		t.Errorf("score = %d, want within [0,100]", got)
	}
}

func TestMonitor_AuthFailureRateDeduction(t *testing.T) {
	m := newTestMonitor(t)
	for i := 0; i < 4; i++ {
		m.RecordAuthAttempt(true, "1.1.1.1")
	}
	for i := 0; i < 8; i++ {
		m.RecordAuthAttempt(false, "1.1.1.1")
	}
	if got := m.SecurityScore(); got != 70 {
		t.Errorf("score = %d, want 70 after failure-heavy auth mix", got)
	}
}

func TestMonitor_AlertOnSevereViolation(t *testing.T) {
	m := newTestMonitor(t)

	// Below the alert threshold: no alert.
	m.RecordSecurityViolation("csrf", core.SeverityMedium, nil)
	if got := len(m.GetUnresolvedAlerts()); got != 0 {
		t.Fatalf("unresolved = %d after medium violation, want 0", got)
	}

	m.RecordSecurityViolation("sql_injection", core.SeverityHigh, nil)
	alerts := m.GetUnresolvedAlerts()
	if len(alerts) != 1 {
		t.Fatalf("unresolved = %d, want 1", len(alerts))
	}
	if alerts[0].Severity != core.SeverityHigh {
		t.Errorf("alert severity = %v, want High", alerts[0].Severity)
	}
	if len(alerts[0].Mitigations) == 0 {
		t.Error("alert should carry mitigations")
	}
}

func TestMonitor_RepeatViolationEscalatesNotDuplicates(t *testing.T) {
	m := newTestMonitor(t)

	m.RecordSecurityViolation("sql_injection", core.SeverityHigh, nil)
	m.RecordSecurityViolation("sql_injection", core.SeverityCritical, nil)
	m.RecordSecurityViolation("sql_injection", core.SeverityHigh, nil)

	alerts := m.GetUnresolvedAlerts()
	if len(alerts) != 1 {
		t.Fatalf("unresolved = %d, want 1 (escalate, not duplicate)", len(alerts))
	}
	// Escalate-only: the critical repeat raised it and the later high one
	// did not lower it.
	if alerts[0].Severity != core.SeverityCritical {
		t.Errorf("alert severity = %v, want Critical", alerts[0].Severity)
	}
}

func TestMonitor_ConcurrentSameKindViolationsOpenOneAlert(t *testing.T) {
	m := newTestMonitor(t)

	// A slow handler widens the gap between deciding to alert and the alert
	// landing in the pipeline. Racing violations of the same kind must still
	// converge on a single open alert.
	m.pipeline.AddHandler(func(*core.Alert) {
		time.Sleep(50 * time.Millisecond)
	})

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(stagger time.Duration) {
			defer wg.Done()
			time.Sleep(stagger)
			m.RecordSecurityViolation("sql_injection", core.SeverityHigh, nil)
		}(time.Duration(i) * 10 * time.Millisecond)
	}
	wg.Wait()

	if got := len(m.GetUnresolvedAlerts()); got != 1 {
		t.Fatalf("unresolved = %d after concurrent same-kind violations, want 1", got)
	}
}

func TestMonitor_AuthFailureDeductionClearsOnRecovery(t *testing.T) {
	m := newTestMonitor(t)
	for i := 0; i < 2; i++ {
		m.RecordAuthAttempt(true, "1.1.1.1")
	}
	for i := 0; i < 8; i++ {
		m.RecordAuthAttempt(false, "1.1.1.1")
	}
	if got := m.SecurityScore(); got != 70 {
		t.Fatalf("score = %d during failure streak, want 70", got)
	}

	// Mostly-successful traffic afterwards restores the score.
	for i := 0; i < 8; i++ {
		m.RecordAuthAttempt(true, "1.1.1.1")
	}
	if got := m.SecurityScore(); got != 100 {
		t.Errorf("score = %d after recovery, want 100", got)
	}
}

func TestMonitor_ResolveAlert(t *testing.T) {
	m := newTestMonitor(t)
	m.RecordSecurityViolation("sql_injection", core.SeverityCritical, nil)

	id := m.GetUnresolvedAlerts()[0].ID
	if !m.ResolveAlert(id) {
		t.Fatal("resolve failed")
	}
	if got := len(m.GetUnresolvedAlerts()); got != 0 {
		t.Errorf("unresolved = %d after resolve, want 0", got)
	}
	// Resolution clears the deduction so the score recovers.
	if got := m.SecurityScore(); got != 100 {
		t.Errorf("score = %d after resolve, want 100", got)
	}

	// Resolving twice is a no-op: still exactly one history entry.
	if !m.ResolveAlert(id) {
		t.Error("second resolve should report success")
	}
	if got := len(m.pipeline.GetHistory()); got != 1 {
		t.Errorf("history = %d, want exactly 1", got)
	}
	if got := len(m.GetUnresolvedAlerts()); got != 0 {
		t.Errorf("unresolved = %d, want 0", got)
	}

	if m.ResolveAlert("ghost") {
		t.Error("resolving unknown ID must fail")
	}
}

func TestMonitor_NewViolationAfterResolveOpensFreshAlert(t *testing.T) {
	m := newTestMonitor(t)
	m.RecordSecurityViolation("sql_injection", core.SeverityHigh, nil)
	first := m.GetUnresolvedAlerts()[0].ID
	m.ResolveAlert(first)

	m.RecordSecurityViolation("sql_injection", core.SeverityHigh, nil)
	alerts := m.GetUnresolvedAlerts()
	if len(alerts) != 1 {
		t.Fatalf("unresolved = %d, want 1 fresh alert", len(alerts))
	}
	if alerts[0].ID == first {
		t.Error("resolved alert must not be reopened")
	}
}

func TestMonitor_Snapshot(t *testing.T) {
	m := newTestMonitor(t)
	m.RecordRequest(true)
	m.RecordRequest(false)
	m.RecordAuthAttempt(true, "1.1.1.1")
	m.RecordAuthAttempt(false, "1.1.1.1")
	m.RecordSecurityViolation("xss", core.SeverityMedium, nil)

	snap := m.Snapshot()
	if snap.TotalRequests != 2 || snap.BlockedRequests != 1 {
		t.Errorf("requests = %d/%d, want 2/1", snap.TotalRequests, snap.BlockedRequests)
	}
	if snap.AuthSuccess != 1 || snap.AuthFailure != 1 {
		t.Errorf("auth = %d/%d, want 1/1", snap.AuthSuccess, snap.AuthFailure)
	}
	if snap.Violations["xss"] != 1 {
		t.Errorf("violations[xss] = %d, want 1", snap.Violations["xss"])
	}
	if snap.Score != 75 {
		t.Errorf("score = %d, want 75", snap.Score)
	}
}

func TestMonitor_Reset(t *testing.T) {
	m := newTestMonitor(t)
	m.RecordRequest(false)
	m.RecordSecurityViolation("xss", core.SeverityMedium, nil)
	m.Reset()

	snap := m.Snapshot()
	if snap.TotalRequests != 0 || len(snap.Violations) != 0 {
		t.Errorf("snapshot after reset = %+v, want zeroed", snap)
	}
	if m.SecurityScore() != 100 {
		t.Errorf("score = %d after reset, want 100", m.SecurityScore())
	}
}
