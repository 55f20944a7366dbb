package core

import (
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// AlertStatus tracks the lifecycle of a security alert.
type AlertStatus int

const (
	AlertStatusOpen AlertStatus = iota
	AlertStatusAcknowledged
	AlertStatusResolved
	AlertStatusFalsePositive
)

func (s AlertStatus) String() string {
	switch s {
	case AlertStatusOpen:
		return "OPEN"
	case AlertStatusAcknowledged:
		return "ACKNOWLEDGED"
	case AlertStatusResolved:
		return "RESOLVED"
	case AlertStatusFalsePositive:
		return "FALSE_POSITIVE"
	default:
		return "UNKNOWN"
	}
}

func (s AlertStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// ParseAlertStatus converts a status name to an AlertStatus.
func ParseAlertStatus(s string) (AlertStatus, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "OPEN":
		return AlertStatusOpen, true
	case "ACKNOWLEDGED", "ACK":
		return AlertStatusAcknowledged, true
	case "RESOLVED":
		return AlertStatusResolved, true
	case "FALSE_POSITIVE":
		return AlertStatusFalsePositive, true
	default:
		return AlertStatusOpen, false
	}
}

// Alert is raised when a detector crosses an alerting threshold. While an
// alert is unresolved its severity may only escalate; resolution is terminal
// and idempotent.
type Alert struct {
	ID          string                 `json:"id"`
	Type        string                 `json:"type"`
	Severity    Severity               `json:"severity"`
	Status      AlertStatus            `json:"status"`
	Title       string                 `json:"title"`
	Description string                 `json:"description"`
	Timestamp   time.Time              `json:"timestamp"`
	ResolvedAt  *time.Time             `json:"resolved_at,omitempty"`
	EventIDs    []string               `json:"event_ids,omitempty"`
	Mitigations []string               `json:"mitigations,omitempty"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
}

// NewAlert creates an open alert from the event that triggered it.
func NewAlert(event *SecurityEvent, title, description string) *Alert {
	a := &Alert{
		ID:          uuid.New().String(),
		Type:        event.Type.String(),
		Severity:    event.Severity,
		Status:      AlertStatusOpen,
		Title:       title,
		Description: description,
		Timestamp:   time.Now().UTC(),
		Metadata:    make(map[string]interface{}),
	}
	if event.ID != "" {
		a.EventIDs = []string{event.ID}
	}
	return a
}

// Marshal serializes the alert to JSON.
func (a *Alert) Marshal() ([]byte, error) {
	return json.Marshal(a)
}

// AlertPipeline stores alerts and fans them out to registered handlers in
// registration order. Handlers run synchronously; a panicking handler is
// isolated so it cannot block the others.
type AlertPipeline struct {
	mu       sync.RWMutex
	logger   zerolog.Logger
	alerts   []*Alert
	byID     map[string]*Alert
	handlers []func(*Alert)
	maxStore int
}

// NewAlertPipeline creates a pipeline that retains up to maxStore alerts.
func NewAlertPipeline(logger zerolog.Logger, maxStore int) *AlertPipeline {
	if maxStore <= 0 {
		maxStore = 10000
	}
	return &AlertPipeline{
		logger:   logger.With().Str("component", "alert_pipeline").Logger(),
		alerts:   make([]*Alert, 0, 256),
		byID:     make(map[string]*Alert),
		maxStore: maxStore,
	}
}

// AddHandler registers a handler invoked for every processed alert.
func (p *AlertPipeline) AddHandler(h func(*Alert)) {
	p.mu.Lock()
	p.handlers = append(p.handlers, h)
	p.mu.Unlock()
}

// Process stores the alert and invokes all handlers in order.
func (p *AlertPipeline) Process(alert *Alert) {
	p.mu.Lock()
	if len(p.alerts) >= p.maxStore {
		drop := p.maxStore / 10
		if drop < 1 {
			drop = 1
		}
		for _, old := range p.alerts[:drop] {
			delete(p.byID, old.ID)
		}
		p.alerts = p.alerts[drop:]
	}
	p.alerts = append(p.alerts, alert)
	p.byID[alert.ID] = alert
	handlers := make([]func(*Alert), len(p.handlers))
	copy(handlers, p.handlers)
	p.mu.Unlock()

	for _, h := range handlers {
		p.safeInvoke(h, alert)
	}
}

func (p *AlertPipeline) safeInvoke(h func(*Alert), alert *Alert) {
	defer func() {
		if rec := recover(); rec != nil {
			p.logger.Error().
				Str("alert_id", alert.ID).
				Interface("panic", rec).
				Msg("alert handler panicked")
		}
	}()
	h(alert)
}

// Escalate raises the severity of an unresolved alert. Severity never
// decreases; resolved alerts are left untouched.
func (p *AlertPipeline) Escalate(id string, severity Severity) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	a, ok := p.byID[id]
	if !ok || a.Status == AlertStatusResolved {
		return false
	}
	if severity > a.Severity {
		a.Severity = severity
	}
	return true
}

// Resolve marks an alert resolved. Resolving an already-resolved alert is a
// no-op; the alert stays in the store as history either way.
func (p *AlertPipeline) Resolve(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	a, ok := p.byID[id]
	if !ok {
		return false
	}
	if a.Status == AlertStatusResolved {
		return true
	}
	a.Status = AlertStatusResolved
	now := time.Now().UTC()
	a.ResolvedAt = &now
	return true
}

// GetAlerts returns alerts at or above minSeverity, most recent first.
func (p *AlertPipeline) GetAlerts(minSeverity Severity, limit int) []*Alert {
	p.mu.RLock()
	defer p.mu.RUnlock()
	result := make([]*Alert, 0, limit)
	for i := len(p.alerts) - 1; i >= 0 && len(result) < limit; i-- {
		if p.alerts[i].Severity >= minSeverity {
			result = append(result, p.alerts[i])
		}
	}
	return result
}

// GetUnresolved returns all alerts that have not been resolved, most recent first.
func (p *AlertPipeline) GetUnresolved() []*Alert {
	p.mu.RLock()
	defer p.mu.RUnlock()
	result := make([]*Alert, 0)
	for i := len(p.alerts) - 1; i >= 0; i-- {
		if p.alerts[i].Status != AlertStatusResolved {
			result = append(result, p.alerts[i])
		}
	}
	return result
}

// GetHistory returns resolved alerts, most recent first.
func (p *AlertPipeline) GetHistory() []*Alert {
	p.mu.RLock()
	defer p.mu.RUnlock()
	result := make([]*Alert, 0)
	for i := len(p.alerts) - 1; i >= 0; i-- {
		if p.alerts[i].Status == AlertStatusResolved {
			result = append(result, p.alerts[i])
		}
	}
	return result
}

// GetAlertByID returns an alert by ID, or nil when unknown.
func (p *AlertPipeline) GetAlertByID(id string) *Alert {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.byID[id]
}

// UpdateAlertStatus sets the status of an alert by ID. Resolution is
// terminal: a resolved alert cannot move back to any other status.
func (p *AlertPipeline) UpdateAlertStatus(id string, status AlertStatus) (*Alert, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	a, ok := p.byID[id]
	if !ok {
		return nil, false
	}
	if a.Status == AlertStatusResolved && status != AlertStatusResolved {
		return nil, false
	}
	a.Status = status
	if status == AlertStatusResolved && a.ResolvedAt == nil {
		now := time.Now().UTC()
		a.ResolvedAt = &now
	}
	return a, true
}

// DeleteAlert removes an alert by ID. Returns false when the ID is unknown.
func (p *AlertPipeline) DeleteAlert(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.byID[id]; !ok {
		return false
	}
	delete(p.byID, id)
	for i, a := range p.alerts {
		if a.ID == id {
			p.alerts = append(p.alerts[:i], p.alerts[i+1:]...)
			break
		}
	}
	return true
}

// Count returns the number of stored alerts.
func (p *AlertPipeline) Count() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.alerts)
}

// ClearAlerts removes all alerts and returns how many were dropped.
func (p *AlertPipeline) ClearAlerts() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := len(p.alerts)
	p.alerts = p.alerts[:0]
	p.byID = make(map[string]*Alert)
	return n
}
