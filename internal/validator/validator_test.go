package validator

import (
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/mariia-hub/apiguard/internal/core"
	"github.com/mariia-hub/apiguard/internal/patterns"
)

func newTestValidator(t *testing.T) *Validator {
	t.Helper()
	return New(patterns.NewLibrary(), core.DefaultConfig().Validator, zerolog.Nop())
}

// ─── Kind ───────────────────────────────────────────────────────────────────

func TestParseKind(t *testing.T) {
	for _, k := range []Kind{
		KindString, KindEmail, KindPhone, KindURL, KindNumber,
		KindDate, KindJSON, KindFilename, KindHTML,
	} {
		got, ok := ParseKind(k.String())
		if !ok || got != k {
			t.Errorf("ParseKind(%q) = (%v, %v), want (%v, true)", k.String(), got, ok, k)
		}
	}
	if _, ok := ParseKind("integer"); ok {
		t.Error("unknown kind must not parse")
	}
}

// ─── Signature detection ────────────────────────────────────────────────────

func TestValidate_SQLInjection(t *testing.T) {
	v := newTestValidator(t)
	verdict := v.Validate("'; DROP TABLE users; --", KindString, Constraints{})

	if verdict.Safe {
		t.Fatal("SQL injection payload must be unsafe")
	}
	found := false
	for _, c := range verdict.Categories {
		if c == patterns.CategorySQL {
			found = true
		}
	}
	if !found {
		t.Errorf("categories = %v, want sql_injection", verdict.Categories)
	}
	if verdict.Severity < core.SeverityHigh {
		t.Errorf("severity = %v, want at least High", verdict.Severity)
	}
}

func TestValidate_EncodedPayloads(t *testing.T) {
	v := newTestValidator(t)

	cases := []struct {
		name  string
		input string
	}{
		{"url encoded script", "%3Cscript%3Ealert(1)%3C/script%3E"},
		{"double url encoded", "%253Cscript%253Ealert(1)%253C/script%253E"},
		{"html entity script", "&lt;script&gt;alert(1)&lt;/script&gt;"},
		{"hex escaped", `\x3cscript\x3ealert(1)\x3c/script\x3e`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			verdict := v.Validate(tc.input, KindString, Constraints{})
			if verdict.Safe {
				t.Errorf("encoded payload %q slipped through", tc.input)
			}
		})
	}
}

func TestValidate_BenignStrings(t *testing.T) {
	v := newTestValidator(t)

	for _, input := range []string{
		"Seaside apartment near the old town",
		"MH48213",
		"Checkout at 11am please",
	} {
		verdict := v.Validate(input, KindString, Constraints{})
		if !verdict.Safe {
			t.Errorf("Validate(%q) unsafe: %v %v", input, verdict.Reasons, verdict.Categories)
		}
	}
}

// ─── Structural checks ──────────────────────────────────────────────────────

func TestValidate_Empty(t *testing.T) {
	v := newTestValidator(t)

	verdict := v.Validate("", KindString, Constraints{Required: true})
	if verdict.Safe {
		t.Error("empty required field must be unsafe")
	}
	if len(verdict.Reasons) != 1 || verdict.Reasons[0] != "empty" {
		t.Errorf("reasons = %v, want [empty]", verdict.Reasons)
	}

	optional := v.Validate("", KindString, Constraints{})
	if !optional.Safe {
		t.Error("empty optional field should be safe")
	}
}

func TestValidate_Oversized(t *testing.T) {
	v := newTestValidator(t)
	huge := strings.Repeat("a", 100001)

	verdict := v.Validate(huge, KindString, Constraints{})
	if verdict.Safe {
		t.Error("oversized input must be unsafe")
	}
	if len(verdict.Reasons) != 1 || verdict.Reasons[0] != "oversized_input" {
		t.Errorf("reasons = %v, want early [oversized_input] only", verdict.Reasons)
	}
}

func TestValidate_Email(t *testing.T) {
	v := newTestValidator(t)

	cases := []struct {
		input string
		safe  bool
	}{
		{"guest@mariia-hub.com", true},
		{"first.last+tag@example.co.uk", true},
		{"not-an-email", false},
		{"a@b", false},
		{"guest@mariia-hub.com<script>", false},
	}
	for _, tc := range cases {
		verdict := v.Validate(tc.input, KindEmail, Constraints{})
		if verdict.Safe != tc.safe {
			t.Errorf("Validate(%q, email).Safe = %v, want %v (%v)",
				tc.input, verdict.Safe, tc.safe, verdict.Reasons)
		}
	}
}

func TestValidate_Phone(t *testing.T) {
	v := newTestValidator(t)

	if verdict := v.Validate("+380 44 123 4567", KindPhone, Constraints{}); !verdict.Safe {
		t.Errorf("valid phone rejected: %v", verdict.Reasons)
	}
	if verdict := v.Validate("call me maybe", KindPhone, Constraints{}); verdict.Safe {
		t.Error("non-numeric phone accepted")
	}
}

func TestValidate_URL(t *testing.T) {
	v := newTestValidator(t)

	cases := []struct {
		input string
		safe  bool
	}{
		{"https://mariia-hub.com/listings/42", true},
		{"http://example.com", true},
		{"ftp://example.com/file", false},
		{"javascript:alert(1)", false},
		{"http://169.254.169.254/latest/meta-data/", false},
		{"not a url", false},
	}
	for _, tc := range cases {
		verdict := v.Validate(tc.input, KindURL, Constraints{})
		if verdict.Safe != tc.safe {
			t.Errorf("Validate(%q, url).Safe = %v, want %v (%v)",
				tc.input, verdict.Safe, tc.safe, verdict.Reasons)
		}
	}
}

func TestValidate_NumberAndDate(t *testing.T) {
	v := newTestValidator(t)

	if verdict := v.Validate("149.99", KindNumber, Constraints{}); !verdict.Safe {
		t.Errorf("valid number rejected: %v", verdict.Reasons)
	}
	if verdict := v.Validate("12abc", KindNumber, Constraints{}); verdict.Safe {
		t.Error("malformed number accepted")
	}
	if verdict := v.Validate("2026-08-29", KindDate, Constraints{}); !verdict.Safe {
		t.Errorf("valid date rejected: %v", verdict.Reasons)
	}
	if verdict := v.Validate("29th of August", KindDate, Constraints{}); verdict.Safe {
		t.Error("malformed date accepted")
	}
}

func TestValidate_JSON(t *testing.T) {
	v := newTestValidator(t)

	if verdict := v.Validate(`{"guests": 2, "nights": 3}`, KindJSON, Constraints{}); !verdict.Safe {
		t.Errorf("benign JSON rejected: %v", verdict.Reasons)
	}

	verdict := v.Validate(`{"__proto__": {"admin": true}}`, KindJSON, Constraints{})
	if verdict.Safe {
		t.Error("prototype pollution payload accepted")
	}
	hasReason := false
	for _, r := range verdict.Reasons {
		if r == "prototype_pollution" {
			hasReason = true
		}
	}
	if !hasReason {
		t.Errorf("reasons = %v, want prototype_pollution", verdict.Reasons)
	}

	// Operator keys only matter for query-bound JSON.
	query := `{"price": {"$gt": 0}}`
	if verdict := v.Validate(query, KindJSON, Constraints{QueryBound: true}); verdict.Safe {
		t.Error("NoSQL operator in query-bound JSON accepted")
	}

	if verdict := v.Validate(`{"nested": [1, {"constructor": 1}]}`, KindJSON, Constraints{}); verdict.Safe {
		t.Error("nested pollution key accepted")
	}

	if verdict := v.Validate(`{broken`, KindJSON, Constraints{}); verdict.Safe {
		t.Error("malformed JSON accepted")
	}
}

func TestValidate_Filename(t *testing.T) {
	v := newTestValidator(t)

	if verdict := v.Validate("invoice_2026-08.pdf", KindFilename, Constraints{}); !verdict.Safe {
		t.Errorf("valid filename rejected: %v", verdict.Reasons)
	}
	for _, bad := range []string{"../../etc/passwd", "file/with/slash", ".hidden", "a\x00b"} {
		if verdict := v.Validate(bad, KindFilename, Constraints{}); verdict.Safe {
			t.Errorf("filename %q accepted", bad)
		}
	}
}

func TestValidate_HTMLSanitized(t *testing.T) {
	v := newTestValidator(t)

	verdict := v.Validate("<p>Nice place</p><script>alert(1)</script>", KindHTML, Constraints{})
	if verdict.Safe {
		t.Error("script-bearing HTML must be unsafe")
	}
	if strings.Contains(strings.ToLower(verdict.Sanitized), "<script") {
		t.Errorf("sanitized output still has script tag: %q", verdict.Sanitized)
	}
	if !strings.Contains(verdict.Sanitized, "<p>Nice place</p>") {
		t.Errorf("sanitized output lost benign markup: %q", verdict.Sanitized)
	}
}

func TestValidate_DangerousRunes(t *testing.T) {
	v := newTestValidator(t)

	bidi := "user‮gnp.exe"
	if verdict := v.Validate(bidi, KindString, Constraints{}); verdict.Safe {
		t.Error("bidi override accepted")
	}
	ctrl := "value\x00null"
	if verdict := v.Validate(ctrl, KindString, Constraints{}); verdict.Safe {
		t.Error("control character accepted")
	}
	tabs := "line1\tline2\nline3"
	if verdict := v.Validate(tabs, KindString, Constraints{}); !verdict.Safe {
		t.Errorf("tab/newline whitespace rejected: %v", verdict.Reasons)
	}
}

func TestValidate_LengthBounds(t *testing.T) {
	v := newTestValidator(t)

	if verdict := v.Validate("ab", KindString, Constraints{MinLength: 3}); verdict.Safe {
		t.Error("below-minimum input accepted")
	}
	if verdict := v.Validate("abcdef", KindString, Constraints{MaxLength: 4}); verdict.Safe {
		t.Error("above-maximum input accepted")
	}
}

// ─── Sanitizer ──────────────────────────────────────────────────────────────

func TestSanitizeHTML(t *testing.T) {
	cases := []struct {
		name    string
		input   string
		banned  []string
		keep    string
	}{
		{
			name:   "script block",
			input:  "<b>hi</b><script>alert(1)</script>",
			banned: []string{"<script", "alert(1)"},
			keep:   "<b>hi</b>",
		},
		{
			name:   "event handler",
			input:  `<img src="x.png" onerror="alert(1)">`,
			banned: []string{"onerror"},
			keep:   "<img",
		},
		{
			name:   "javascript href",
			input:  `<a href="javascript:alert(1)">click</a>`,
			banned: []string{"javascript:"},
			keep:   "click",
		},
		{
			name:   "split tag reassembly",
			input:  "<scr<script>ipt>alert(1)</scr</script>ipt>",
			banned: []string{"<script"},
		},
		{
			name:   "iframe",
			input:  `<iframe src="https://evil.example"></iframe>ok`,
			banned: []string{"<iframe"},
			keep:   "ok",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			out := strings.ToLower(SanitizeHTML(tc.input))
			for _, b := range tc.banned {
				if strings.Contains(out, strings.ToLower(b)) {
					t.Errorf("sanitized output %q still contains %q", out, b)
				}
			}
			if tc.keep != "" && !strings.Contains(out, strings.ToLower(tc.keep)) {
				t.Errorf("sanitized output %q lost %q", out, tc.keep)
			}
		})
	}
}
