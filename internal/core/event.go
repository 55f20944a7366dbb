package core

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Severity represents the severity level of a security event or alert.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityLow
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "INFO"
	case SeverityLow:
		return "LOW"
	case SeverityMedium:
		return "MEDIUM"
	case SeverityHigh:
		return "HIGH"
	case SeverityCritical:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

func (s Severity) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *Severity) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	*s = ParseSeverity(str)
	return nil
}

// ParseSeverity converts a severity name to a Severity. Unknown names map to INFO.
func ParseSeverity(s string) Severity {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "LOW":
		return SeverityLow
	case "MEDIUM":
		return SeverityMedium
	case "HIGH":
		return SeverityHigh
	case "CRITICAL":
		return SeverityCritical
	default:
		return SeverityInfo
	}
}

// EventType classifies a security event. The set is closed: switches over
// EventType are expected to be exhaustive so new classes are compile-time
// visible additions.
type EventType int

const (
	EventCredentialAccess EventType = iota
	EventAuthentication
	EventSecurityIncident
	EventSession
	EventAPISecurity
)

func (t EventType) String() string {
	switch t {
	case EventCredentialAccess:
		return "credential_access"
	case EventAuthentication:
		return "authentication_event"
	case EventSecurityIncident:
		return "security_incident"
	case EventSession:
		return "session_event"
	case EventAPISecurity:
		return "api_security_event"
	default:
		return "unknown"
	}
}

func (t EventType) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

func (t *EventType) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	et, ok := ParseEventType(str)
	if !ok {
		et = EventSecurityIncident
	}
	*t = et
	return nil
}

// ParseEventType converts an event type name to an EventType.
func ParseEventType(s string) (EventType, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "credential_access":
		return EventCredentialAccess, true
	case "authentication_event":
		return EventAuthentication, true
	case "security_incident":
		return EventSecurityIncident, true
	case "session_event":
		return EventSession, true
	case "api_security_event":
		return EventAPISecurity, true
	default:
		return EventSecurityIncident, false
	}
}

// Result values for SecurityEvent.Result. Upper-snake codes match the
// platform SDK's error taxonomy so dashboards can join on them.
const (
	ResultSuccess = "SUCCESS"
	ResultFailure = "FAILURE"
	ResultBlocked = "BLOCKED"
	ResultFlagged = "FLAGGED"
)

// SecurityEvent is the append-only audit record produced by every component.
type SecurityEvent struct {
	ID        string                 `json:"id"`
	Timestamp time.Time              `json:"timestamp"`
	Type      EventType              `json:"type"`
	Severity  Severity               `json:"severity"`
	Actor     string                 `json:"actor,omitempty"`
	Resource  string                 `json:"resource,omitempty"`
	Result    string                 `json:"result"`
	SourceIP  string                 `json:"source_ip,omitempty"`
	UserAgent string                 `json:"user_agent,omitempty"`
	SessionID string                 `json:"session_id,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// NewSecurityEvent creates a new SecurityEvent with a generated ID and current timestamp.
func NewSecurityEvent(eventType EventType, severity Severity, actor, resource, result string) *SecurityEvent {
	return &SecurityEvent{
		ID:        uuid.New().String(),
		Timestamp: time.Now().UTC(),
		Type:      eventType,
		Severity:  severity,
		Actor:     actor,
		Resource:  resource,
		Result:    result,
		Metadata:  make(map[string]interface{}),
	}
}

// Marshal serializes the event to JSON.
func (e *SecurityEvent) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// UnmarshalSecurityEvent deserializes a SecurityEvent from JSON.
func UnmarshalSecurityEvent(data []byte) (*SecurityEvent, error) {
	var event SecurityEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return nil, err
	}
	return &event, nil
}

// StringMeta returns a string metadata value, or "" when absent.
func (e *SecurityEvent) StringMeta(key string) string {
	if e.Metadata == nil {
		return ""
	}
	if v, ok := e.Metadata[key].(string); ok {
		return v
	}
	return ""
}
