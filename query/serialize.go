package query

import (
	"strconv"
	"strings"
)

// emptyCondition is written for a token that has no conditions left.
const emptyCondition = `[lemma=""]`

// Serialize compiles elements into a query string. Elements are written in
// order and separated by a single space. It never fails.
func Serialize(elements []Element) string {
	parts := make([]string, 0, len(elements))
	for _, e := range elements {
		if e == nil {
			continue
		}
		parts = append(parts, serializeElement(e))
	}
	return strings.Join(parts, " ")
}

func serializeElement(e Element) string {
	switch x := e.(type) {
	case *NormalToken:
		return serializeToken(x)
	case *UnspecifiedToken:
		return "[]"
	case *Distance:
		return serializeDistance(x)
	case *Alternation:
		return "|"
	}
	return ""
}

func serializeToken(t *NormalToken) string {
	conds := t.Conditions()
	if len(conds) == 0 {
		return emptyCondition
	}

	joiner := " & "
	if t.Joiner() == LogicOr {
		joiner = " | "
	}

	var b strings.Builder
	b.WriteByte('[')
	for i, c := range conds {
		if i > 0 {
			b.WriteString(joiner)
		}
		b.WriteString(FormatCondition(c))
	}
	b.WriteByte(']')
	return b.String()
}

// FormatCondition writes a condition as attribute operator "value".
func FormatCondition(c Condition) string {
	return string(c.Attribute) + string(c.Operator) + `"` + c.Value + `"`
}

func serializeDistance(d *Distance) string {
	minCount := strconv.Itoa(d.Min)
	switch {
	case d.Unbounded && d.Min == 0:
		return "[]*"
	case d.Unbounded:
		return "[]{" + minCount + ",}"
	case d.Min == d.Max:
		return "[]{" + minCount + "}"
	}
	return "[]{" + minCount + "," + strconv.Itoa(d.Max) + "}"
}
