package query

import (
	"strings"
)

// parseCondition parses one `[!]attribute operator "value"` fragment.
// Whitespace around the operator is tolerated.
func parseCondition(s span) (Condition, *ParseError) {
	text := s.text
	fail := func(msg string) (Condition, *ParseError) {
		return Condition{}, &ParseError{Message: msg, Position: s.pos, Length: len(text)}
	}
	if text == "" {
		return fail("Empty condition")
	}

	negated := false
	if text[0] == '!' && (len(text) < 2 || text[1] != '=') {
		negated = true
		text = strings.TrimLeft(text[1:], " \t")
	}

	i := 0
	for i < len(text) && isIdentByte(text[i]) {
		i++
	}
	if i == 0 {
		return fail("Expected attribute name in " + quoteFragment(s.text))
	}
	attr := Attribute(text[:i])
	rest := strings.TrimLeft(text[i:], " \t")

	var op Operator
	for _, candidate := range operators {
		if strings.HasPrefix(rest, string(candidate)) {
			op = candidate
			break
		}
	}
	if op == "" {
		return fail("Expected operator after " + string(attr))
	}
	if j := operatorRun(rest); j > len(op) {
		return fail("Unsupported operator " + rest[:j])
	}
	rest = strings.TrimLeft(rest[len(op):], " \t")

	if len(rest) < 2 || rest[0] != '"' || rest[len(rest)-1] != '"' {
		return fail("Expected quoted value in " + quoteFragment(s.text))
	}
	value := rest[1 : len(rest)-1]
	if strings.IndexByte(value, '"') != -1 {
		return fail("Unexpected quote inside value in " + quoteFragment(s.text))
	}

	if !attr.Valid() {
		return fail("Unknown attribute " + quoteFragment(string(attr)))
	}
	if negated {
		op = op.Negate()
	}
	return Condition{Attribute: attr, Operator: op, Value: value}, nil
}

// operatorRun returns the length of the leading run of = and ! in s.
func operatorRun(s string) int {
	j := 0
	for j < len(s) && (s[j] == '=' || s[j] == '!') {
		j++
	}
	return j
}

func isIdentByte(ch byte) bool {
	return ch == '_' || ch >= 'a' && ch <= 'z' || ch >= 'A' && ch <= 'Z' || ch >= '0' && ch <= '9'
}

func quoteFragment(s string) string {
	return "'" + s + "'"
}
