package validator

import (
	"html"
	"regexp"
)

// Sanitization strips active content rather than escaping it: the output is
// meant for rich-text fields (listing descriptions, reviews) where escaping
// the whole value is not an option.
var (
	scriptBlockRe  = regexp.MustCompile(`(?is)<\s*script[^>]*>.*?<\s*/\s*script\s*>`)
	scriptOpenRe   = regexp.MustCompile(`(?i)<\s*/?\s*script[^>]*>`)
	dangerousTagRe = regexp.MustCompile(`(?is)<\s*/?\s*(iframe|object|embed|applet|form|meta|base|link|style)[^>]*>`)
	eventAttrRe    = regexp.MustCompile(`(?i)\s+on[a-z]+\s*=\s*("[^"]*"|'[^']*'|[^\s>]+)`)
	scriptURIRe    = regexp.MustCompile(`(?i)(href|src|action|formaction)\s*=\s*("|')?\s*(javascript|vbscript|data)\s*:[^"'>\s]*("|')?`)
	commentRe      = regexp.MustCompile(`(?s)<!--.*?-->`)
)

// SanitizeHTML removes script blocks, dangerous tags, inline event handlers,
// and script-scheme URIs from an HTML fragment. The pass repeats until the
// output is stable so removals cannot reassemble a payload.
func SanitizeHTML(input string) string {
	out := input
	for i := 0; i < 10; i++ {
		prev := out
		out = commentRe.ReplaceAllString(out, "")
		out = scriptBlockRe.ReplaceAllString(out, "")
		out = scriptOpenRe.ReplaceAllString(out, "")
		out = dangerousTagRe.ReplaceAllString(out, "")
		out = eventAttrRe.ReplaceAllString(out, "")
		out = scriptURIRe.ReplaceAllString(out, "")
		if out == prev {
			return out
		}
	}
	// Could not reach a fixed point; fall back to full escaping.
	return html.EscapeString(input)
}
