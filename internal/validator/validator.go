package validator

import (
	"encoding/json"
	"html"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/text/unicode/norm"

	"github.com/mariia-hub/apiguard/internal/core"
	"github.com/mariia-hub/apiguard/internal/patterns"
)

// Kind classifies the expected shape of an input value. The set is closed;
// Validate switches exhaustively over it.
type Kind int

const (
	KindString Kind = iota
	KindEmail
	KindPhone
	KindURL
	KindNumber
	KindDate
	KindJSON
	KindFilename
	KindHTML
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindEmail:
		return "email"
	case KindPhone:
		return "phone"
	case KindURL:
		return "url"
	case KindNumber:
		return "number"
	case KindDate:
		return "date"
	case KindJSON:
		return "json"
	case KindFilename:
		return "filename"
	case KindHTML:
		return "html"
	default:
		return "unknown"
	}
}

// ParseKind converts a kind name to a Kind.
func ParseKind(s string) (Kind, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "string":
		return KindString, true
	case "email":
		return KindEmail, true
	case "phone":
		return KindPhone, true
	case "url":
		return KindURL, true
	case "number":
		return KindNumber, true
	case "date":
		return KindDate, true
	case "json":
		return KindJSON, true
	case "filename":
		return KindFilename, true
	case "html":
		return KindHTML, true
	default:
		return KindString, false
	}
}

// Constraints carries per-call structural rules.
type Constraints struct {
	Required  bool
	MinLength int
	MaxLength int
	// QueryBound marks JSON destined for a query object, enabling NoSQL
	// operator and prototype-pollution key scanning.
	QueryBound bool
}

// Verdict is the result of a validation call.
type Verdict struct {
	Input      string              `json:"input"`
	Categories []patterns.Category `json:"categories,omitempty"`
	Severity   core.Severity       `json:"severity"`
	Safe       bool                `json:"safe"`
	Reasons    []string            `json:"reasons,omitempty"`
	// Sanitized is set for the html kind: the input with active content removed.
	Sanitized string `json:"sanitized,omitempty"`
}

// Validator applies the signature library plus kind-specific structural rules
// to input values. It holds no per-call state and is safe for concurrent use.
type Validator struct {
	logger      zerolog.Logger
	lib         *patterns.Library
	maxInput    int
	decodeDepth int
}

// New creates a Validator around a compiled signature library.
func New(lib *patterns.Library, cfg core.ValidatorConfig, logger zerolog.Logger) *Validator {
	maxInput := cfg.MaxInputLength
	if maxInput <= 0 {
		maxInput = 100000
	}
	depth := cfg.DecodeDepth
	if depth <= 0 {
		depth = 3
	}
	return &Validator{
		logger:      logger.With().Str("component", "validator").Logger(),
		lib:         lib,
		maxInput:    maxInput,
		decodeDepth: depth,
	}
}

var (
	emailRe    = regexp.MustCompile(`^[a-zA-Z0-9.!#$%&'*+/=?^_` + "`" + `{|}~-]+@[a-zA-Z0-9](?:[a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?(?:\.[a-zA-Z0-9](?:[a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?)+$`)
	phoneRe    = regexp.MustCompile(`^\+?[0-9][0-9 ().-]{5,18}[0-9]$`)
	filenameRe = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._ -]{0,254}$`)
)

var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02",
	"2006-01-02 15:04:05",
	"02/01/2006",
}

// Validate normalizes the value, applies the kind's structural check, then
// sweeps the raw and decoded forms against the signature library. A panic in
// any step degrades to an unsafe verdict rather than propagating.
func (v *Validator) Validate(value string, kind Kind, c Constraints) (verdict Verdict) {
	verdict = Verdict{Input: value, Safe: true}

	defer func() {
		if rec := recover(); rec != nil {
			v.logger.Error().Interface("panic", rec).Str("kind", kind.String()).
				Msg("validation panicked")
			verdict = Verdict{
				Input:    value,
				Safe:     false,
				Severity: core.SeverityHigh,
				Reasons:  []string{"internal_error"},
			}
		}
	}()

	if value == "" {
		if c.Required {
			verdict.Safe = false
			verdict.Reasons = append(verdict.Reasons, "empty")
		}
		return verdict
	}

	// Oversized input is rejected before the signature sweep to bound
	// worst-case cost.
	ceiling := v.maxInput
	if c.MaxLength > 0 && c.MaxLength < ceiling {
		ceiling = c.MaxLength
	}
	if len(value) > ceiling {
		verdict.Safe = false
		verdict.Severity = core.SeverityHigh
		verdict.Reasons = append(verdict.Reasons, "oversized_input")
		return verdict
	}
	if c.MinLength > 0 && len(value) < c.MinLength {
		verdict.Safe = false
		verdict.Reasons = append(verdict.Reasons, "too_short")
	}

	normalized := norm.NFKC.String(value)
	if reason := scanDangerousRunes(normalized); reason != "" {
		verdict.Safe = false
		verdict.Severity = maxSeverity(verdict.Severity, core.SeverityHigh)
		verdict.Reasons = append(verdict.Reasons, reason)
	}

	if !v.structuralCheck(normalized, kind, c, &verdict) {
		verdict.Safe = false
	}

	// Sweep raw, normalized, and iteratively decoded forms so encoding
	// tricks cannot slip a payload past the signatures.
	forms := v.decodedForms(value, normalized)
	var allMatches []patterns.Match
	for _, form := range forms {
		allMatches = append(allMatches, v.lib.Scan(form)...)
	}
	if len(allMatches) > 0 {
		verdict.Safe = false
		verdict.Categories = patterns.Categories(allMatches)
		verdict.Severity = maxSeverity(verdict.Severity, patterns.MaxSeverity(allMatches))
		verdict.Reasons = append(verdict.Reasons, "threat_signature")
	}

	if kind == KindHTML {
		verdict.Sanitized = SanitizeHTML(normalized)
	}

	return verdict
}

// MaxInputLength returns the configured oversize ceiling.
func (v *Validator) MaxInputLength() int {
	return v.maxInput
}

func (v *Validator) structuralCheck(value string, kind Kind, c Constraints, verdict *Verdict) bool {
	switch kind {
	case KindString:
		return true
	case KindEmail:
		if !emailRe.MatchString(value) {
			verdict.Reasons = append(verdict.Reasons, "malformed_email")
			return false
		}
	case KindPhone:
		if !phoneRe.MatchString(value) {
			verdict.Reasons = append(verdict.Reasons, "malformed_phone")
			return false
		}
	case KindURL:
		u, err := url.Parse(value)
		if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
			verdict.Reasons = append(verdict.Reasons, "malformed_url")
			return false
		}
	case KindNumber:
		if _, err := strconv.ParseFloat(strings.TrimSpace(value), 64); err != nil {
			verdict.Reasons = append(verdict.Reasons, "malformed_number")
			return false
		}
	case KindDate:
		if !parseAnyDate(value) {
			verdict.Reasons = append(verdict.Reasons, "malformed_date")
			return false
		}
	case KindJSON:
		return v.checkJSON(value, c, verdict)
	case KindFilename:
		if !filenameRe.MatchString(value) || strings.Contains(value, "..") {
			verdict.Reasons = append(verdict.Reasons, "malformed_filename")
			return false
		}
	case KindHTML:
		return true
	}
	return true
}

func (v *Validator) checkJSON(value string, c Constraints, verdict *Verdict) bool {
	var parsed interface{}
	if err := json.Unmarshal([]byte(value), &parsed); err != nil {
		verdict.Reasons = append(verdict.Reasons, "malformed_json")
		return false
	}

	ok := true
	if hasPollutionKey(parsed, 0) {
		verdict.Reasons = append(verdict.Reasons, "prototype_pollution")
		verdict.Severity = maxSeverity(verdict.Severity, core.SeverityHigh)
		ok = false
	}
	if c.QueryBound && hasOperatorKey(parsed, 0) {
		verdict.Reasons = append(verdict.Reasons, "nosql_operator")
		verdict.Severity = maxSeverity(verdict.Severity, core.SeverityHigh)
		if !containsCategory(verdict.Categories, patterns.CategoryNoSQL) {
			verdict.Categories = append(verdict.Categories, patterns.CategoryNoSQL)
		}
		ok = false
	}
	return ok
}

const maxJSONDepth = 32

func hasPollutionKey(node interface{}, depth int) bool {
	if depth > maxJSONDepth {
		return true
	}
	switch n := node.(type) {
	case map[string]interface{}:
		for key, child := range n {
			lower := strings.ToLower(key)
			if lower == "__proto__" || lower == "prototype" || lower == "constructor" {
				return true
			}
			if hasPollutionKey(child, depth+1) {
				return true
			}
		}
	case []interface{}:
		for _, child := range n {
			if hasPollutionKey(child, depth+1) {
				return true
			}
		}
	}
	return false
}

func hasOperatorKey(node interface{}, depth int) bool {
	if depth > maxJSONDepth {
		return true
	}
	switch n := node.(type) {
	case map[string]interface{}:
		for key, child := range n {
			if strings.HasPrefix(key, "$") {
				return true
			}
			if hasOperatorKey(child, depth+1) {
				return true
			}
		}
	case []interface{}:
		for _, child := range n {
			if hasOperatorKey(child, depth+1) {
				return true
			}
		}
	}
	return false
}

// decodedForms returns the raw value, the normalized value, and up to
// decodeDepth rounds of URL/HTML-entity decoding applied to the normalized
// form. Decoding stops early once a round changes nothing.
func (v *Validator) decodedForms(raw, normalized string) []string {
	forms := []string{raw}
	if normalized != raw {
		forms = append(forms, normalized)
	}
	current := normalized
	for i := 0; i < v.decodeDepth; i++ {
		next := decodeOnce(current)
		if next == current {
			break
		}
		forms = append(forms, next)
		current = next
	}
	return forms
}

func decodeOnce(s string) string {
	decoded := s
	if u, err := url.QueryUnescape(decoded); err == nil {
		decoded = u
	}
	decoded = html.UnescapeString(decoded)
	decoded = decodeHexEscapes(decoded)
	return decoded
}

var hexEscapeRe = regexp.MustCompile(`\\x([0-9a-fA-F]{2})`)

func decodeHexEscapes(s string) string {
	return hexEscapeRe.ReplaceAllStringFunc(s, func(m string) string {
		n, err := strconv.ParseUint(m[2:], 16, 8)
		if err != nil {
			return m
		}
		return string(rune(n))
	})
}

// scanDangerousRunes rejects bidi override and non-whitespace control
// characters, which are used to disguise payloads and spoof rendered text.
func scanDangerousRunes(s string) string {
	for _, r := range s {
		switch r {
		case 0x202A, 0x202B, 0x202C, 0x202D, 0x202E, // LRE/RLE/PDF/LRO/RLO
			0x2066, 0x2067, 0x2068, 0x2069: // LRI/RLI/FSI/PDI
			return "bidi_control"
		}
		if r < 0x20 && r != '\t' && r != '\n' && r != '\r' {
			return "control_character"
		}
		if r == 0x7F || r == 0xFEFF {
			return "control_character"
		}
	}
	return ""
}

func parseAnyDate(value string) bool {
	for _, layout := range dateLayouts {
		if _, err := time.Parse(layout, strings.TrimSpace(value)); err == nil {
			return true
		}
	}
	return false
}

func containsCategory(cats []patterns.Category, c patterns.Category) bool {
	for _, existing := range cats {
		if existing == c {
			return true
		}
	}
	return false
}

func maxSeverity(a, b core.Severity) core.Severity {
	if a > b {
		return a
	}
	return b
}
