package query

import (
	"strconv"
	"strings"
	"unicode"
)

// span is a slice of the input together with its byte offset.
type span struct {
	text string
	pos  int
}

// matchBracket returns the index of the ']' closing the '[' at open, or -1.
// Brackets inside double-quoted values do not count, unless a stray quote
// leaves the bracket unclosed; then quotes are ignored.
func matchBracket(s string, open int) int {
	if i := scanBracket(s, open, true); i != -1 {
		return i
	}
	return scanBracket(s, open, false)
}

func scanBracket(s string, open int, quoteAware bool) int {
	depth := 0
	inQuote := false
	for i := open; i < len(s); i++ {
		switch s[i] {
		case '"':
			if quoteAware {
				inQuote = !inQuote
			}
		case '[':
			if !inQuote {
				depth++
			}
		case ']':
			if inQuote {
				continue
			}
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

// splitTopLevel splits s on sep wherever sep is outside double quotes.
func splitTopLevel(s span, sep byte) []span {
	var parts []span
	inQuote := false
	start := 0
	for i := 0; i < len(s.text); i++ {
		switch s.text[i] {
		case '"':
			inQuote = !inQuote
		case sep:
			if !inQuote {
				parts = append(parts, span{text: s.text[start:i], pos: s.pos + start})
				start = i + 1
			}
		}
	}
	return append(parts, span{text: s.text[start:], pos: s.pos + start})
}

// trim strips surrounding whitespace and keeps the offset pointing at the
// first remaining byte.
func (s span) trim() span {
	lead := len(s.text) - len(strings.TrimLeftFunc(s.text, unicode.IsSpace))
	return span{text: strings.TrimSpace(s.text), pos: s.pos + lead}
}

// modifierKind is the repetition suffix that may follow a closing bracket.
type modifierKind int

const (
	modNone modifierKind = iota
	modRange
	modOptional
	modStar
)

// modifier is a parsed repetition suffix.
type modifier struct {
	kind      modifierKind
	min       int
	max       int
	unbounded bool
	length    int
}

// readModifier reads a repetition suffix starting at pos. A {...} counts as a
// modifier only when digits, commas and blanks run up to its closing brace;
// anything else is not a modifier and is left for the caller to skip. A
// well-delimited but meaningless range yields modNone and a non-nil error
// whose Length covers the braces.
func readModifier(s string, pos int) (modifier, *ParseError) {
	if pos >= len(s) {
		return modifier{}, nil
	}
	switch s[pos] {
	case '?':
		return modifier{kind: modOptional, min: 0, max: 1, length: 1}, nil
	case '*':
		return modifier{kind: modStar, min: 0, unbounded: true, length: 1}, nil
	case '{':
	default:
		return modifier{}, nil
	}

	end := pos + 1
	for end < len(s) && isRangeByte(s[end]) {
		end++
	}
	if end >= len(s) || s[end] != '}' {
		return modifier{}, nil
	}
	body := s[pos+1 : end]
	length := end - pos + 1
	bad := &ParseError{
		Message:  "Malformed repetition range {" + body + "}",
		Position: pos,
		Length:   length,
	}

	lo, hi, hasComma := strings.Cut(body, ",")
	minCount, err := strconv.Atoi(strings.TrimSpace(lo))
	if err != nil || minCount < 0 {
		return modifier{}, bad
	}
	m := modifier{kind: modRange, min: minCount, max: minCount, length: length}
	if !hasComma {
		return m, nil
	}
	hi = strings.TrimSpace(hi)
	if hi == "" {
		m.unbounded = true
		return m, nil
	}
	maxCount, err := strconv.Atoi(hi)
	if err != nil || maxCount < 0 {
		return modifier{}, bad
	}
	m.max = maxCount
	return m, nil
}

func isRangeByte(ch byte) bool {
	return ch >= '0' && ch <= '9' || ch == ',' || ch == ' ' || ch == '\t'
}
