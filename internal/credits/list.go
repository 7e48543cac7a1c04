package credits

import "strings"

// ParseStringList splits s on every delimiter in delims (DefaultDelimiters
// when none are given) and returns the trimmed, non-empty parts in order.
// An explicitly empty delimiter set is produced by WithoutDelimiterSplitting
// and returns s as its only element.
func ParseStringList(s string, delims ...string) []string {
	if delims == nil {
		delims = DefaultDelimiters
	}
	parts := []string{s}
	for _, d := range delims {
		if d == "" {
			continue
		}
		var next []string
		for _, p := range parts {
			next = append(next, strings.Split(p, d)...)
		}
		parts = next
	}

	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// ContainsDelimiters reports whether s contains any default delimiter.
func ContainsDelimiters(s string) bool {
	return len(FindDelimiters(s)) > 0
}

// FindDelimiters returns the default delimiters present in s, or nil.
func FindDelimiters(s string) []string {
	var found []string
	for _, d := range DefaultDelimiters {
		if strings.Contains(s, d) {
			found = append(found, d)
		}
	}
	return found
}
