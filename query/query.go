// Package query compiles the visual query builder's element model to and from
// the corpus query language.
//
// The language is a sequence of bracketed tokens:
//   - [lemma="run"]: a token with one condition (= regex, == exact, != and !== negated)
//   - [pos="NOUN" & tag="NNS"]: conditions joined by AND
//   - [pos="NOUN" | pos="VERB"]: conditions joined by OR
//   - []: any single token
//   - []{1,3}, []?, []*: a gap of arbitrary tokens
//   - "walk": shorthand for [word="walk"]
//   - |: alternation between two branches
//
// Serialize, Parse and Validate are pure functions and safe for concurrent use.
package query

import (
	"encoding/json"
	"strconv"
	"strings"
)

// ParseError represents a syntax problem with position information.
// Position and Length are byte offsets into the string given to ParseStrict.
type ParseError struct {
	Message  string `json:"message"`
	Position int    `json:"position"`
	Length   int    `json:"length"`
}

func (e *ParseError) Error() string {
	return e.Message + " at position " + strconv.Itoa(e.Position)
}

// ParseErrors collects every diagnostic produced while parsing.
type ParseErrors []*ParseError

func (e ParseErrors) Error() string {
	switch len(e) {
	case 0:
		return "no parse errors"
	case 1:
		return e[0].Error()
	}
	msgs := make([]string, len(e))
	for i, err := range e {
		msgs[i] = err.Error()
	}
	return strconv.Itoa(len(e)) + " parse errors: " + strings.Join(msgs, "; ")
}

// Parse rebuilds an element sequence from a query string. It is lenient:
// unknown characters and unrecognised conditions are dropped, and an
// unterminated quote or bracket ends the scan.
func Parse(text string) Sequence {
	return newParser(text).parse()
}

// ParseStrict parses like Parse but also reports what was dropped. The
// returned sequence is always the same best-effort result Parse gives; the
// error, if non-nil, is a ParseErrors.
func ParseStrict(text string) (Sequence, error) {
	p := newParser(text)
	seq := p.parse()
	if len(p.errs) > 0 {
		return seq, p.errs
	}
	return seq, nil
}

// CompileResult bundles a strict parse with its canonical form and validation.
type CompileResult struct {
	Valid       bool        `json:"valid"`
	Query       string      `json:"query"`
	Elements    Sequence    `json:"elements"`
	Error       ErrorKind   `json:"error,omitempty"`
	Diagnostics ParseErrors `json:"diagnostics,omitempty"`
}

// Compile parses text, re-serializes the result, and validates the input.
// The result is valid only when the input validates and parses without loss.
func Compile(text string) *CompileResult {
	seq, err := ParseStrict(text)
	if seq == nil {
		seq = Sequence{}
	}
	validation := Validate(text)

	result := &CompileResult{
		Valid:    validation.Valid,
		Query:    Serialize(seq),
		Elements: seq,
		Error:    validation.Error,
	}
	if diags, ok := err.(ParseErrors); ok {
		result.Diagnostics = diags
		result.Valid = false
	}
	return result
}

// CompileToJSON compiles a query string and returns the result as JSON.
func CompileToJSON(text string) ([]byte, error) {
	return json.Marshal(Compile(text))
}
