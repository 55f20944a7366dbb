package monitor

// mitigationsFor maps a violation kind to operator guidance attached to the
// alert.
func mitigationsFor(kind string) []string {
	switch kind {
	case "sql_injection", "nosql_injection":
		return []string{
			"Use parameterized queries for all database access",
			"Review the offending endpoint's input validation rules",
			"Audit recent queries from the source IP for data exfiltration",
		}
	case "xss":
		return []string{
			"Apply context-aware output encoding in templates",
			"Tighten the Content-Security-Policy for the affected pages",
			"Review stored content created by the offending client",
		}
	case "command_injection", "code_injection", "template_injection":
		return []string{
			"Never pass request data to shells or interpreters",
			"Isolate the affected service and review process execution logs",
			"Rotate credentials reachable from the affected host",
		}
	case "path_traversal":
		return []string{
			"Resolve and verify canonical paths before file access",
			"Serve uploads from an isolated store with opaque names",
		}
	case "ssrf":
		return []string{
			"Deny egress to link-local and private ranges from app hosts",
			"Resolve and pin target hosts before issuing outbound requests",
		}
	case "brute_force_attempt":
		return []string{
			"Implement progressive account lockout with exponential backoff",
			"Deploy CAPTCHA after repeated failures",
			"Consider IP-based rate limiting at the load balancer",
		}
	case "rate_limit_abuse":
		return []string{
			"Lower the per-client limit for the abused endpoint",
			"Move static lookups behind a cache to cut origin load",
		}
	case "session_hijack", "impossible_travel", "multiple_ips":
		return []string{
			"Require step-up authentication for geographically anomalous access",
			"Use short-lived session tokens with frequent rotation",
			"Alert the user about access from an unexpected location",
		}
	case "session_fixation":
		return []string{
			"Regenerate session identifiers at login and privilege changes",
			"Reject externally supplied session identifiers outright",
		}
	case "csrf":
		return []string{
			"Verify the CSRF token on every state-changing request",
			"Set SameSite=Lax or stricter on session cookies",
		}
	default:
		return []string{
			"Review audit events for the offending actor and source IP",
			"Tighten validation rules for the affected endpoint",
		}
	}
}
