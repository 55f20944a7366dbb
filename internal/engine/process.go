package engine

import (
	"strings"

	"github.com/mariia-hub/apiguard/internal/core"
	"github.com/mariia-hub/apiguard/internal/patterns"
	"github.com/mariia-hub/apiguard/internal/validator"
)

// Risk floors per finding class. The verdict keeps the highest floor seen.
const (
	riskThreatBlocking = 90
	riskRateLimited    = 60
	riskSessionHard    = 80
	riskThreatFlagged  = 40
	riskSessionSoft    = 30
	riskMalformed      = 20
)

// ProcessRequest runs the full inbound pipeline over one request: rate
// limiting, threat sweeps over path, query, and body, and session integrity
// when a session identifier is attached. Internal failures produce a
// conservative blocking verdict rather than letting the request through.
func (e *Engine) ProcessRequest(req core.RequestDescriptor) (verdict core.Verdict) {
	defer func() {
		if r := recover(); r != nil {
			e.Logger.Error().
				Interface("panic", r).
				Str("path", req.Path).
				Msg("request processing panicked")
			verdict = core.DenyVerdict(100, core.IssueInternalError)
			e.Monitor.RecordRequest(false)
		}
	}()

	verdict = core.AllowVerdict()

	if res := e.Limiter.Check(req.ClientIP, req.Path); !res.Allowed {
		verdict.Deny(riskRateLimited, core.IssueRateLimited)
		e.Monitor.RecordSecurityViolation("rate_limit_abuse", core.SeverityMedium, nil)
	}

	e.sweepValue(req.Path, validator.KindString, validator.Constraints{}, &verdict)
	for _, values := range req.Query {
		for _, value := range values {
			e.sweepValue(value, validator.KindString, validator.Constraints{QueryBound: true}, &verdict)
		}
	}
	if req.Body != "" {
		kind := validator.KindString
		c := validator.Constraints{}
		if strings.Contains(strings.ToLower(req.Headers["Content-Type"]), "json") {
			kind = validator.KindJSON
			c.QueryBound = true
		}
		e.sweepValue(req.Body, kind, c, &verdict)
	}

	if req.SessionID != "" {
		e.checkSession(&req, &verdict)
	}

	e.finishRequest(&req, &verdict)
	return verdict
}

// sweepValue validates one value and folds the result into the verdict.
// Matches at or above the configured block severity deny; weaker matches
// only flag.
func (e *Engine) sweepValue(value string, kind validator.Kind, c validator.Constraints, verdict *core.Verdict) {
	res := e.Validator.Validate(value, kind, c)
	if res.Safe {
		return
	}

	if len(res.Categories) > 0 {
		if res.Severity >= e.Config.BlockSeverity() {
			verdict.Deny(riskThreatBlocking, core.IssueThreatDetected)
		} else {
			verdict.Flag(riskThreatFlagged, core.IssueThreatDetected)
		}
		for _, cat := range res.Categories {
			e.Monitor.RecordSecurityViolation(string(cat), res.Severity, nil)
		}
		return
	}

	for _, reason := range res.Reasons {
		switch reason {
		case "oversized_input":
			verdict.Deny(riskMalformed, core.IssueOversizedInput)
		case "empty":
			verdict.Flag(riskMalformed, core.IssueEmptyInput)
		default:
			verdict.Flag(riskMalformed, core.IssueMalformedInput)
		}
	}
}

// checkSession validates the attached session and maps its findings onto the
// verdict. Hard failures deny; soft drift only flags.
func (e *Engine) checkSession(req *core.RequestDescriptor, verdict *core.Verdict) {
	res := e.Sessions.Validate(req.SessionID, req.ClientIP, req.UserAgent, countryOf(req))
	for _, issue := range res.Issues {
		switch issue {
		case "expired":
			verdict.Deny(riskSessionHard, core.IssueSessionExpired)
		case "inactive_too_long":
			verdict.Deny(riskSessionHard, core.IssueSessionInactive)
		case "unknown_session", "revoked", "usage_exceeded":
			verdict.Deny(riskSessionHard, core.IssueSessionRevoked)
		case "single_use_replay":
			verdict.Deny(riskSessionHard, core.IssueSessionReplay)
			e.Monitor.RecordSecurityViolation("session_hijack", core.SeverityHigh, nil)
		case "ip_changed":
			verdict.Flag(riskSessionSoft, core.IssueIPChanged)
		case "user_agent_changed":
			verdict.Flag(riskSessionSoft, core.IssueUserAgentChanged)
		case "impossible_travel":
			verdict.Flag(riskSessionHard, core.IssueImpossibleTravel)
			e.Monitor.RecordSecurityViolation("impossible_travel", core.SeverityHigh, nil)
		}
	}
}

// finishRequest records the request's outcome: monitor counters plus one
// audit event carrying the verdict.
func (e *Engine) finishRequest(req *core.RequestDescriptor, verdict *core.Verdict) {
	e.Monitor.RecordRequest(verdict.Allowed)

	result := core.ResultSuccess
	severity := core.SeverityInfo
	switch {
	case !verdict.Allowed:
		result = core.ResultBlocked
		severity = core.SeverityHigh
	case len(verdict.Issues) > 0:
		result = core.ResultFlagged
		severity = core.SeverityMedium
	}

	event := core.NewSecurityEvent(core.EventAPISecurity, severity, req.ClientIP, req.Method+" "+req.Path, result)
	event.SourceIP = req.ClientIP
	event.UserAgent = req.UserAgent
	event.SessionID = req.SessionID
	if len(verdict.Issues) > 0 {
		event.Metadata["issues"] = strings.Join(verdict.Issues, ",")
		event.Metadata["risk_score"] = verdict.RiskScore
	}
	e.record(event)
}

// ValidateInput exposes the validator directly for field-level checks in the
// application's own handlers.
func (e *Engine) ValidateInput(value string, kind validator.Kind, c validator.Constraints) validator.Verdict {
	return e.Validator.Validate(value, kind, c)
}

// ScanValue runs the raw signature sweep without structural validation.
func (e *Engine) ScanValue(value string) []patterns.Match {
	return e.Library.Scan(value)
}

func countryOf(req *core.RequestDescriptor) string {
	if req.Headers == nil {
		return ""
	}
	// Set by the platform's edge proxy.
	return req.Headers["X-Geo-Country"]
}
