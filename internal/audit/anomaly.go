package audit

import (
	"time"

	"github.com/mariia-hub/apiguard/internal/core"
)

// Anomaly detection thresholds.
const (
	bruteForceThreshold = 5
	multipleIPThreshold = 3
)

// Anomaly is a pattern found across recent audit events.
type Anomaly struct {
	Type     string        `json:"type"`
	Actor    string        `json:"actor,omitempty"`
	Session  string        `json:"session,omitempty"`
	Count    int           `json:"count"`
	Window   time.Duration `json:"window"`
	Severity core.Severity `json:"severity"`
}

// Anomaly type names.
const (
	AnomalyBruteForce  = "brute_force_attempt"
	AnomalyMultipleIPs = "multiple_ips"
)

// DetectAnomalies scans events inside the window, pull-model: it derives
// anomalies from the log on demand and keeps no state between calls.
// Detected: five or more failed authentication events for one actor, and
// three or more distinct IPs touching one session.
func (s *Store) DetectAnomalies(window time.Duration) []Anomaly {
	if window <= 0 {
		window = time.Minute
	}
	since := s.now().Add(-window)

	authType := core.EventAuthentication
	failedAuth := s.Recent(Filter{Type: &authType, Since: since, Result: core.ResultFailure})

	failuresByActor := make(map[string]int)
	for _, e := range failedAuth {
		if e.Actor != "" {
			failuresByActor[e.Actor]++
		}
	}

	sessType := core.EventSession
	sessionEvents := s.Recent(Filter{Type: &sessType, Since: since})

	ipsBySession := make(map[string]map[string]struct{})
	for _, e := range sessionEvents {
		if e.SessionID == "" || e.SourceIP == "" {
			continue
		}
		if ipsBySession[e.SessionID] == nil {
			ipsBySession[e.SessionID] = make(map[string]struct{})
		}
		ipsBySession[e.SessionID][e.SourceIP] = struct{}{}
	}

	var anomalies []Anomaly
	for actor, n := range failuresByActor {
		if n >= bruteForceThreshold {
			anomalies = append(anomalies, Anomaly{
				Type:     AnomalyBruteForce,
				Actor:    actor,
				Count:    n,
				Window:   window,
				Severity: core.SeverityHigh,
			})
		}
	}
	for session, ips := range ipsBySession {
		if len(ips) >= multipleIPThreshold {
			anomalies = append(anomalies, Anomaly{
				Type:     AnomalyMultipleIPs,
				Session:  session,
				Count:    len(ips),
				Window:   window,
				Severity: core.SeverityHigh,
			})
		}
	}
	return anomalies
}
