// Package credits splits combined artist or track strings into a primary
// value and the secondary ("featuring") values credited alongside it.
//
// A credit string is read with this grammar:
//
//	credits  = [primary] [section]
//	primary  = any text without an opening bracket
//	section  = [open] joiner ["."] space names ([close] {space}) EOF
//	joiner   = "ft" | "feat" | "featuring" | "vs"   (case-insensitive)
//
// "ft", "feat" and "vs" must follow some other character (a space or the
// opening bracket); "featuring" may start the string.
package credits

import (
	"strings"
)

// DefaultDelimiters separate names in a credit list.
var DefaultDelimiters = []string{",", "&", "/", "\\"}

var joiners = map[string]bool{
	"ft":        true,
	"feat":      true,
	"featuring": false,
	"vs":        true,
}

// Credits is a primary value and the ordered secondary values credited with it.
type Credits struct {
	Primary   string   `json:"primary"`
	Secondary []string `json:"secondary,omitempty"`
}

type options struct {
	delimiters []string
}

// Option configures how credit sections are split into names.
type Option func(*options)

// WithDelimiters replaces the default delimiter set.
func WithDelimiters(delims []string) Option {
	return func(o *options) {
		o.delimiters = append([]string(nil), delims...)
	}
}

// WithoutDelimiterSplitting keeps every section as a single name.
func WithoutDelimiterSplitting() Option {
	return func(o *options) {
		o.delimiters = []string{}
	}
}

func buildOptions(opts []Option) options {
	o := options{delimiters: DefaultDelimiters}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// section is a successful parse of the grammar: the primary text and the raw
// text of the secondary names.
type section struct {
	primary   string
	secondary string
}

// parseSection finds the rightmost joiner that starts a valid secondary
// section running to the end of s.
func parseSection(s string) (section, bool) {
	toks := lex(s)
	for i := len(toks) - 1; i >= 0; i-- {
		if sec, ok := sectionAt(s, toks, i); ok {
			return sec, true
		}
	}
	return section{}, false
}

func sectionAt(s string, toks []token, i int) (section, bool) {
	tok := toks[i]
	if tok.kind != tokWord {
		return section{}, false
	}
	needsLead, isJoiner := joiners[strings.ToLower(tok.text)]
	if !isJoiner {
		return section{}, false
	}
	if needsLead && i == 0 {
		return section{}, false
	}

	start := tok.start
	if i > 0 && toks[i-1].kind == tokOpen {
		start = toks[i-1].start
	}
	primary := s[:start]
	if strings.ContainsAny(primary, "([") {
		return section{}, false
	}

	j := i + 1
	if j < len(toks) && toks[j].kind == tokDot {
		j++
	}
	if j >= len(toks) || toks[j].kind != tokSpace {
		return section{}, false
	}
	j++

	namesStart := len(s)
	if j < len(toks) {
		namesStart = toks[j].start
	}
	namesEnd := len(s)
	for k := j; k < len(toks); k++ {
		if toks[k].kind != tokClose {
			continue
		}
		for _, rest := range toks[k+1:] {
			if rest.kind != tokSpace {
				return section{}, false
			}
		}
		namesEnd = toks[k].start
		break
	}

	return section{
		primary:   strings.TrimSpace(primary),
		secondary: strings.TrimSpace(s[namesStart:namesEnd]),
	}, true
}

// ParseCredits parses s when it contains a joiner section such as
// "Primary ft. A, B" or "Title (feat. A & B)". ok is false when s is blank or
// has no valid joiner section. The primary value is not split.
func ParseCredits(s string, opts ...Option) (Credits, bool) {
	if strings.TrimSpace(s) == "" {
		return Credits{}, false
	}
	sec, ok := parseSection(s)
	if !ok {
		return Credits{}, false
	}
	o := buildOptions(opts)
	return Credits{
		Primary:   sec.primary,
		Secondary: ParseStringList(sec.secondary, o.delimiters...),
	}, true
}

// ParseTrackCredits is ParseCredits applied to a track title.
func ParseTrackCredits(s string, opts ...Option) (Credits, bool) {
	return ParseCredits(s, opts...)
}

// ParseArtistCredits parses an artist string. A joiner section is honoured
// first; when the primary segment lists several names the extras are placed
// ahead of the joiner's names. Without a joiner the whole string is read as a
// delimited list whose first element is primary.
func ParseArtistCredits(s string, opts ...Option) (Credits, bool) {
	if strings.TrimSpace(s) == "" {
		return Credits{}, false
	}
	o := buildOptions(opts)

	if withJoiner, ok := ParseCredits(s, opts...); ok {
		primaries := ParseStringList(withJoiner.Primary, o.delimiters...)
		if len(primaries) > 1 {
			secondary := make([]string, 0, len(primaries)-1+len(withJoiner.Secondary))
			secondary = append(secondary, primaries[1:]...)
			secondary = append(secondary, withJoiner.Secondary...)
			return Credits{Primary: primaries[0], Secondary: secondary}, true
		}
		return withJoiner, true
	}

	names := ParseStringList(s, o.delimiters...)
	if len(names) == 0 {
		return Credits{}, false
	}
	c := Credits{Primary: names[0]}
	if len(names) > 1 {
		c.Secondary = names[1:]
	}
	return c, true
}
