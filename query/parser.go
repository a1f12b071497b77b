package query

import (
	"strconv"
	"strings"
	"unicode"
)

// parser scans a query string left to right and rebuilds the element
// sequence. It never stops on bad input except where noted; problems are
// collected as diagnostics and only surfaced by ParseStrict.
//
// Grammar:
//
//	query         → element { WS element }
//	element       → bracket-token | quoted-word | "|"
//	bracket-token → "[" [ conditions ] "]" [ modifier ]
//	modifier      → "{" INT [ "," [ INT ] ] "}" | "?" | "*"
//	conditions    → or-group { "|" or-group }
//	or-group      → condition { "&" condition }
//	condition     → [ "!" ] ATTR OP '"' VALUE '"'
//	quoted-word   → '"' VALUE '"'
type parser struct {
	input    string
	base     int // offset of input within the caller's string
	pos      int
	elements Sequence
	errs     ParseErrors
}

// newParser creates a parser for raw, which is trimmed before scanning.
func newParser(raw string) *parser {
	trimmed := strings.TrimSpace(raw)
	return &parser{
		input: trimmed,
		base:  len(raw) - len(strings.TrimLeftFunc(raw, unicode.IsSpace)),
	}
}

// report records a diagnostic positioned in trimmed-input coordinates.
func (p *parser) report(err *ParseError) {
	if err == nil {
		return
	}
	err.Position += p.base
	if err.Length < 1 {
		err.Length = 1
	}
	p.errs = append(p.errs, err)
}

// parse runs the scan to completion or until an unrecoverable truncation.
func (p *parser) parse() Sequence {
	for p.pos < len(p.input) {
		ch := p.input[p.pos]

		switch ch {
		case ' ', '\t', '\n', '\r', '\v', '\f':
			p.pos++
		case '[':
			if !p.readBracket() {
				return p.elements
			}
		case '"':
			if !p.readQuotedWord() {
				return p.elements
			}
		case '|':
			p.elements = append(p.elements, NewAlternation())
			p.pos++
		default:
			p.skipUnknown()
		}
	}
	return p.elements
}

// skipUnknown drops a run of characters that cannot start an element.
func (p *parser) skipUnknown() {
	start := p.pos
	for p.pos < len(p.input) && !startsElement(p.input[p.pos]) {
		p.pos++
	}
	msg := "Unexpected input "
	if p.input[start] == '{' {
		msg = "Malformed repetition range "
	}
	p.report(&ParseError{
		Message:  msg + strconv.Quote(p.input[start:p.pos]),
		Position: start,
		Length:   p.pos - start,
	})
}

func startsElement(ch byte) bool {
	switch ch {
	case '[', '"', '|', ' ', '\t', '\n', '\r', '\v', '\f':
		return true
	}
	return false
}

// readQuotedWord reads a bare "literal" as a word= condition. It returns
// false when the quote is never closed, which ends the scan.
func (p *parser) readQuotedWord() bool {
	start := p.pos
	end := strings.IndexByte(p.input[start+1:], '"')
	if end == -1 {
		p.report(&ParseError{
			Message:  "Unterminated quoted string",
			Position: start,
			Length:   len(p.input) - start,
		})
		return false
	}
	value := p.input[start+1 : start+1+end]
	p.elements = append(p.elements, NewNormalToken(LogicAnd, Condition{
		Attribute: AttrWord,
		Operator:  OpRegex,
		Value:     value,
	}))
	p.pos = start + end + 2
	return true
}

// readBracket reads one [...] token and its optional modifier. It returns
// false when the bracket is never closed, which ends the scan.
func (p *parser) readBracket() bool {
	start := p.pos
	closing := matchBracket(p.input, start)
	if closing == -1 {
		p.report(&ParseError{
			Message:  "Unclosed bracket",
			Position: start,
			Length:   len(p.input) - start,
		})
		return false
	}

	content := span{text: p.input[start+1 : closing], pos: start + 1}.trim()
	p.pos = closing + 1

	mod, err := readModifier(p.input, p.pos)
	if err != nil {
		p.pos += err.Length
		p.report(err)
	}
	if mod.kind != modNone {
		p.pos += mod.length
		if content.text != "" {
			p.report(&ParseError{
				Message:  "Repetition applies to an empty token only; conditions dropped",
				Position: start,
				Length:   p.pos - start,
			})
		}
		if !mod.unbounded && mod.min > mod.max {
			p.report(&ParseError{
				Message:  "Repetition minimum exceeds maximum",
				Position: closing + 1,
				Length:   mod.length,
			})
		}
		p.elements = append(p.elements, &Distance{
			ID:        NewID(),
			Min:       mod.min,
			Max:       mod.max,
			Unbounded: mod.unbounded,
		})
		return true
	}

	if content.text == "" {
		p.elements = append(p.elements, NewUnspecifiedToken())
		return true
	}

	p.elements = append(p.elements, &NormalToken{
		ID:              NewID(),
		ConditionGroups: []ConditionGroup{p.readConditionGroup(content)},
	})
	return true
}

// readConditionGroup turns a bracket interior into a single group. A top-level
// | makes the whole group OR; & parts inside each branch are flattened into it.
func (p *parser) readConditionGroup(content span) ConditionGroup {
	branches := splitTopLevel(content, '|')
	group := ConditionGroup{Logic: LogicAnd, Conditions: []Condition{}}
	if len(branches) > 1 {
		group.Logic = LogicOr
	}
	for _, branch := range branches {
		for _, part := range splitTopLevel(branch, '&') {
			cond, err := parseCondition(part.trim())
			if err != nil {
				p.report(err)
				continue
			}
			group.Conditions = append(group.Conditions, cond)
		}
	}
	return group
}
