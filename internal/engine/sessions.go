package engine

import (
	"github.com/mariia-hub/apiguard/internal/core"
	"github.com/mariia-hub/apiguard/internal/session"
)

// EstablishSession mints a session for an authenticated user. A supplied
// identifier is never honored; offering one is treated as a fixation attempt
// and recorded.
func (e *Engine) EstablishSession(userID, ip, userAgent, country string, singleUse bool, suppliedID string) *session.Descriptor {
	desc, fixation := e.Sessions.Establish(userID, ip, userAgent, country, singleUse, suppliedID)

	event := core.NewSecurityEvent(core.EventSession, core.SeverityInfo, userID, "session/establish", core.ResultSuccess)
	event.SourceIP = ip
	event.UserAgent = userAgent
	event.SessionID = desc.SessionID
	if fixation {
		event.Severity = core.SeverityHigh
		event.Result = core.ResultFlagged
		event.Metadata["supplied_id_fingerprint"] = session.TokenFingerprint(suppliedID)
		e.Monitor.RecordSecurityViolation("session_fixation", core.SeverityHigh, event)
	}
	e.record(event)
	return desc
}

// ValidateSession checks session integrity outside the request pipeline, for
// callers that manage their own verdict handling.
func (e *Engine) ValidateSession(sessionID, ip, userAgent, country string) session.Result {
	res := e.Sessions.Validate(sessionID, ip, userAgent, country)
	if !res.Valid || res.Suspicious {
		severity := core.SeverityMedium
		result := core.ResultFlagged
		if !res.Valid {
			severity = core.SeverityHigh
			result = core.ResultBlocked
		}
		event := core.NewSecurityEvent(core.EventSession, severity, "", "session/validate", result)
		event.SourceIP = ip
		event.UserAgent = userAgent
		event.SessionID = sessionID
		if len(res.Issues) > 0 {
			event.Metadata["issues"] = res.Issues
		}
		e.record(event)
	}
	return res
}

// DestroySession revokes a session.
func (e *Engine) DestroySession(sessionID string) bool {
	ok := e.Sessions.Destroy(sessionID)
	if ok {
		event := core.NewSecurityEvent(core.EventSession, core.SeverityInfo, "", "session/destroy", core.ResultSuccess)
		event.SessionID = sessionID
		e.record(event)
	}
	return ok
}

// ValidateCSRF checks a CSRF token against the session's issued token and
// records the failure when it does not match.
func (e *Engine) ValidateCSRF(sessionID, token string) bool {
	ok := e.Sessions.ValidateCSRF(sessionID, token)
	if !ok {
		event := core.NewSecurityEvent(core.EventAPISecurity, core.SeverityHigh, "", "csrf/validate", core.ResultBlocked)
		event.SessionID = sessionID
		event.Metadata["token_fingerprint"] = session.TokenFingerprint(token)
		e.record(event)
		e.Monitor.RecordSecurityViolation("csrf", core.SeverityHigh, event)
	}
	return ok
}

// RecordAuthAttempt records one authentication attempt for anomaly detection
// and the posture score. The caller performs the authentication itself.
func (e *Engine) RecordAuthAttempt(actor, ip string, success bool) {
	severity := core.SeverityInfo
	result := core.ResultSuccess
	if !success {
		severity = core.SeverityMedium
		result = core.ResultFailure
	}
	event := core.NewSecurityEvent(core.EventAuthentication, severity, actor, "/auth/login", result)
	event.SourceIP = ip
	e.record(event)
	e.Monitor.RecordAuthAttempt(success, ip)
}

// RecordCredentialAccess records a read or change of stored credentials.
func (e *Engine) RecordCredentialAccess(actor, resource, result string, ip string) {
	severity := core.SeverityInfo
	if result != core.ResultSuccess {
		severity = core.SeverityMedium
	}
	event := core.NewSecurityEvent(core.EventCredentialAccess, severity, actor, resource, result)
	event.SourceIP = ip
	e.record(event)
}
