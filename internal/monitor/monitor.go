package monitor

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/mariia-hub/apiguard/internal/core"
)

// Monitor aggregates request, auth, and violation counters into a live
// security posture score and raises alerts through the shared pipeline.
type Monitor struct {
	logger   zerolog.Logger
	pipeline *core.AlertPipeline
	alertMin core.Severity

	mu              sync.Mutex
	totalRequests   int64
	blockedRequests int64
	authSuccess     int64
	authFailure     int64
	violations      map[string]int64
	deductions      map[string]int
	openAlerts      map[string]string // violation kind -> open alert ID
}

// Metrics is a point-in-time snapshot of the monitor's counters.
type Metrics struct {
	TotalRequests    int64            `json:"total_requests"`
	BlockedRequests  int64            `json:"blocked_requests"`
	AuthSuccess      int64            `json:"auth_success"`
	AuthFailure      int64            `json:"auth_failure"`
	Violations       map[string]int64 `json:"violations"`
	Score            int              `json:"score"`
	UnresolvedAlerts int              `json:"unresolved_alerts"`
}

// New creates a Monitor. Violations at or above alertMin raise alerts.
func New(pipeline *core.AlertPipeline, alertMin core.Severity, logger zerolog.Logger) *Monitor {
	return &Monitor{
		logger:     logger.With().Str("component", "monitor").Logger(),
		pipeline:   pipeline,
		alertMin:   alertMin,
		violations: make(map[string]int64),
		deductions: make(map[string]int),
		openAlerts: make(map[string]string),
	}
}

// RecordRequest counts one processed request.
func (m *Monitor) RecordRequest(allowed bool) {
	m.mu.Lock()
	m.totalRequests++
	if !allowed {
		m.blockedRequests++
	}
	m.mu.Unlock()
}

// RecordAuthAttempt counts an authentication attempt. A failure-heavy mix
// registers a deduction of its own; the deduction clears once the mix
// recovers to mostly successes.
func (m *Monitor) RecordAuthAttempt(success bool, ip string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if success {
		m.authSuccess++
	} else {
		m.authFailure++
	}
	total := m.authSuccess + m.authFailure
	if total >= 10 && m.authFailure*2 > total {
		m.deductions["auth_failure_rate"] = 30
	} else {
		delete(m.deductions, "auth_failure_rate")
	}
}

// severityDeduction maps a violation's severity to its score deduction.
func severityDeduction(severity core.Severity) int {
	switch severity {
	case core.SeverityCritical:
		return 60
	case core.SeverityHigh:
		return 40
	case core.SeverityMedium:
		return 25
	case core.SeverityLow:
		return 10
	default:
		return 0
	}
}

// RecordSecurityViolation counts a violation, registers its deduction, and
// raises or escalates an alert when severe enough. One open alert exists per
// violation kind; repeat violations escalate its severity rather than piling
// up duplicates.
func (m *Monitor) RecordSecurityViolation(kind string, severity core.Severity, event *core.SecurityEvent) {
	m.mu.Lock()
	m.violations[kind]++
	if d := severityDeduction(severity); d > m.deductions[kind] {
		m.deductions[kind] = d
	}
	if severity < m.alertMin || m.pipeline == nil {
		m.mu.Unlock()
		return
	}

	// Decide create-vs-escalate and claim the kind while still holding the
	// lock: racing violations of the same kind must converge on one open
	// alert, never each create their own.
	if openID := m.openAlerts[kind]; openID != "" {
		alert := m.pipeline.GetAlertByID(openID)
		if alert == nil || alert.Status != core.AlertStatusResolved {
			m.mu.Unlock()
			m.pipeline.Escalate(openID, severity)
			return
		}
	}

	if event == nil {
		event = core.NewSecurityEvent(core.EventSecurityIncident, severity, "", "", core.ResultFlagged)
	}
	alert := core.NewAlert(event, "Security violation: "+kind,
		"Repeated or severe "+kind+" activity detected")
	alert.Severity = severity
	alert.Metadata["violation_kind"] = kind
	alert.Mitigations = mitigationsFor(kind)
	m.openAlerts[kind] = alert.ID
	m.mu.Unlock()

	// Handlers may be slow; they run outside the lock, after the kind is
	// already claimed.
	m.pipeline.Process(alert)

	m.logger.Warn().
		Str("kind", kind).
		Str("severity", severity.String()).
		Str("alert_id", alert.ID).
		Msg("security violation alerted")
}

// SecurityScore computes the posture score: 100 minus the single largest
// active deduction, clamped to [0, 100]. One critical issue dominates rather
// than many minor issues compounding.
func (m *Monitor) SecurityScore() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	worst := 0
	for _, d := range m.deductions {
		if d > worst {
			worst = d
		}
	}
	score := 100 - worst
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	return score
}

// GetUnresolvedAlerts returns open alerts, most recent first.
func (m *Monitor) GetUnresolvedAlerts() []*core.Alert {
	if m.pipeline == nil {
		return nil
	}
	return m.pipeline.GetUnresolved()
}

// ResolveAlert resolves an alert by ID and clears its deduction so the score
// can recover. Resolving twice is a no-op.
func (m *Monitor) ResolveAlert(id string) bool {
	if m.pipeline == nil {
		return false
	}
	alert := m.pipeline.GetAlertByID(id)
	if alert == nil {
		return false
	}
	if !m.pipeline.Resolve(id) {
		return false
	}

	m.mu.Lock()
	if kind, ok := alert.Metadata["violation_kind"].(string); ok {
		if m.openAlerts[kind] == id {
			delete(m.openAlerts, kind)
			delete(m.deductions, kind)
		}
	}
	m.mu.Unlock()
	return true
}

// Snapshot returns current counters plus the derived score.
func (m *Monitor) Snapshot() Metrics {
	score := m.SecurityScore()
	unresolved := 0
	if m.pipeline != nil {
		unresolved = len(m.pipeline.GetUnresolved())
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	violations := make(map[string]int64, len(m.violations))
	for k, v := range m.violations {
		violations[k] = v
	}
	return Metrics{
		TotalRequests:    m.totalRequests,
		BlockedRequests:  m.blockedRequests,
		AuthSuccess:      m.authSuccess,
		AuthFailure:      m.authFailure,
		Violations:       violations,
		Score:            score,
		UnresolvedAlerts: unresolved,
	}
}

// Reset zeroes all counters and deductions. Alerts stay in the pipeline.
func (m *Monitor) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.totalRequests = 0
	m.blockedRequests = 0
	m.authSuccess = 0
	m.authFailure = 0
	m.violations = make(map[string]int64)
	m.deductions = make(map[string]int)
	m.openAlerts = make(map[string]string)
}
