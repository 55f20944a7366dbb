package core

// RequestDescriptor is the structured view of an inbound HTTP request handed
// to the engine by the protected application's HTTP layer. The engine never
// sees the raw request.
type RequestDescriptor struct {
	Method    string              `json:"method"`
	Path      string              `json:"path"`
	Headers   map[string]string   `json:"headers,omitempty"`
	Query     map[string][]string `json:"query,omitempty"`
	Body      string              `json:"body,omitempty"`
	ClientIP  string              `json:"client_ip"`
	UserAgent string              `json:"user_agent,omitempty"`
	SessionID string              `json:"session_id,omitempty"`
}

// Verdict is the engine's per-request decision. RiskScore is 0-100 where 0 is
// clean; Issues carries upper-snake reason codes the HTTP layer maps to
// status codes.
type Verdict struct {
	Allowed   bool     `json:"allowed"`
	RiskScore int      `json:"risk_score"`
	Issues    []string `json:"issues,omitempty"`
}

// AllowVerdict returns a clean verdict.
func AllowVerdict() Verdict {
	return Verdict{Allowed: true}
}

// DenyVerdict returns a blocking verdict carrying the given reason codes.
func DenyVerdict(riskScore int, issues ...string) Verdict {
	if riskScore < 0 {
		riskScore = 0
	}
	if riskScore > 100 {
		riskScore = 100
	}
	return Verdict{Allowed: false, RiskScore: riskScore, Issues: issues}
}

// Flag marks an issue on the verdict without blocking, raising the risk score
// to at least floor. Risk never decreases.
func (v *Verdict) Flag(floor int, issue string) {
	if floor > v.RiskScore {
		v.RiskScore = floor
	}
	if v.RiskScore > 100 {
		v.RiskScore = 100
	}
	v.Issues = append(v.Issues, issue)
}

// Deny converts the verdict to a blocking one, accumulating the issue and
// raising the risk score the same way Flag does.
func (v *Verdict) Deny(floor int, issue string) {
	v.Allowed = false
	v.Flag(floor, issue)
}

// Reason codes shared across components. Upper-snake to match the platform
// SDK error taxonomy.
const (
	IssueEmptyInput       = "EMPTY_INPUT"
	IssueOversizedInput   = "OVERSIZED_INPUT"
	IssueMalformedInput   = "MALFORMED_INPUT"
	IssueThreatDetected   = "THREAT_DETECTED"
	IssueRateLimited      = "RATE_LIMITED"
	IssueSessionExpired   = "SESSION_EXPIRED"
	IssueSessionInactive  = "SESSION_INACTIVE"
	IssueSessionRevoked   = "SESSION_REVOKED"
	IssueSessionReplay    = "SESSION_REPLAY"
	IssueIPChanged        = "IP_CHANGED"
	IssueUserAgentChanged = "USER_AGENT_CHANGED"
	IssueImpossibleTravel = "IMPOSSIBLE_TRAVEL"
	IssueCSRFInvalid      = "CSRF_INVALID"
	IssueFixationAttempt  = "SESSION_FIXATION"
	IssueInternalError    = "INTERNAL_ERROR"
)
