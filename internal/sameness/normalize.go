// Package sameness canonicalizes text and scores how likely two strings
// name the same real-world value (a track title, an artist credit).
package sameness

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// fold lower-cases s, decomposes it and removes combining marks. Invalid
// UTF-8 bytes are dropped first. A new chain is built per call because the
// casing transformer is stateful.
func fold(s string) string {
	t := transform.Chain(
		cases.Lower(language.Und),
		norm.NFD,
		runes.Remove(runes.In(unicode.Mn)),
	)
	out, _, err := transform.String(t, strings.ToValidUTF8(s, ""))
	if err != nil {
		return ""
	}
	return out
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}

// Normalize returns the tight form of s: lower-cased, diacritics removed and
// every rune that is not a letter or digit dropped. Used for exact dedup checks.
func Normalize(s string) string {
	folded := fold(s)
	var b strings.Builder
	b.Grow(len(folded))
	for _, r := range folded {
		if isWordRune(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// NormalizeLoose is like Normalize but keeps token boundaries: punctuation is
// dropped, whitespace runs collapse to a single space and the result is trimmed.
func NormalizeLoose(s string) string {
	folded := fold(s)
	var b strings.Builder
	b.Grow(len(folded))
	for _, r := range folded {
		switch {
		case isWordRune(r):
			b.WriteRune(r)
		case unicode.IsSpace(r):
			b.WriteByte(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// UniqueNormalized returns values with later duplicates removed, where two
// values are duplicates when their tight forms are equal. Order and the
// original spelling of the first occurrence are kept.
func UniqueNormalized(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		key := Normalize(v)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, v)
	}
	return out
}
