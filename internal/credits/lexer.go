package credits

import (
	"unicode"
	"unicode/utf8"
)

type tokenKind int

const (
	tokWord tokenKind = iota
	tokSpace
	tokOpen
	tokClose
	tokDot
	tokOther
)

// token is a lexeme of a credit string. start and end are byte offsets into
// the lexed string.
type token struct {
	kind       tokenKind
	text       string
	start, end int
}

// lex splits s into runs of letters/digits, runs of whitespace, brackets,
// dots and single other runes. Every byte of s belongs to exactly one token.
func lex(s string) []token {
	var toks []token
	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		kind := classify(r)
		j := i + size
		if kind == tokWord || kind == tokSpace {
			for j < len(s) {
				next, n := utf8.DecodeRuneInString(s[j:])
				if classify(next) != kind {
					break
				}
				j += n
			}
		}
		toks = append(toks, token{kind: kind, text: s[i:j], start: i, end: j})
		i = j
	}
	return toks
}

func classify(r rune) tokenKind {
	switch {
	case unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsMark(r):
		return tokWord
	case unicode.IsSpace(r):
		return tokSpace
	case r == '(' || r == '[':
		return tokOpen
	case r == ')' || r == ']':
		return tokClose
	case r == '.':
		return tokDot
	default:
		return tokOther
	}
}
