package patterns

import "github.com/mariia-hub/apiguard/internal/core"

// Match records a signature hit against a scanned value.
type Match struct {
	Signature string
	Category  Category
	Severity  core.Severity
}

// Library holds the compiled signature table. Compiled once at construction
// and read-only afterwards, so it is safe for concurrent use.
type Library struct {
	signatures []Signature
}

// NewLibrary compiles the built-in signature table.
func NewLibrary() *Library {
	return &Library{signatures: compileSignatures()}
}

// Scan runs every signature against the value and returns all matches.
func (l *Library) Scan(value string) []Match {
	var matches []Match
	for i := range l.signatures {
		sig := &l.signatures[i]
		if sig.Regex.MatchString(value) {
			matches = append(matches, Match{
				Signature: sig.Name,
				Category:  sig.Category,
				Severity:  sig.Severity,
			})
		}
	}
	return matches
}

// ScanCategory runs only the signatures of a single category.
func (l *Library) ScanCategory(value string, category Category) []Match {
	var matches []Match
	for i := range l.signatures {
		sig := &l.signatures[i]
		if sig.Category != category {
			continue
		}
		if sig.Regex.MatchString(value) {
			matches = append(matches, Match{
				Signature: sig.Name,
				Category:  sig.Category,
				Severity:  sig.Severity,
			})
		}
	}
	return matches
}

// Size returns the number of compiled signatures.
func (l *Library) Size() int {
	return len(l.signatures)
}

// MaxSeverity returns the highest severity among matches, or SeverityInfo
// for an empty slice.
func MaxSeverity(matches []Match) core.Severity {
	max := core.SeverityInfo
	for _, m := range matches {
		if m.Severity > max {
			max = m.Severity
		}
	}
	return max
}

// Categories returns the distinct categories among matches, in first-seen order.
func Categories(matches []Match) []Category {
	seen := make(map[Category]bool, len(matches))
	var out []Category
	for _, m := range matches {
		if !seen[m.Category] {
			seen[m.Category] = true
			out = append(out, m.Category)
		}
	}
	return out
}
