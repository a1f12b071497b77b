package query

import (
	"github.com/google/uuid"
)

// Attribute names a token attribute a condition can test.
type Attribute string

const (
	AttrWord      Attribute = "word"
	AttrLemma     Attribute = "lemma"
	AttrPOS       Attribute = "pos"
	AttrTag       Attribute = "tag"
	AttrDep       Attribute = "dep"
	AttrHeadword  Attribute = "headword"
	AttrHeadlemma Attribute = "headlemma"
	AttrHeadPOS   Attribute = "headpos"
	AttrHeadDep   Attribute = "headdep"
)

// Attributes lists every attribute the query language accepts, in display order.
var Attributes = []Attribute{
	AttrWord, AttrLemma, AttrPOS, AttrTag, AttrDep,
	AttrHeadword, AttrHeadlemma, AttrHeadPOS, AttrHeadDep,
}

// Valid reports whether a is one of the known attributes.
func (a Attribute) Valid() bool {
	for _, known := range Attributes {
		if a == known {
			return true
		}
	}
	return false
}

// Operator is the comparison applied between an attribute and a value.
type Operator string

const (
	OpRegex    Operator = "="   // regex match
	OpExact    Operator = "=="  // exact match
	OpNotRegex Operator = "!="  // regex non-match
	OpNotExact Operator = "!==" // exact non-match
)

// operators is ordered longest first so scanning picks the longest match.
var operators = []Operator{OpNotExact, OpNotRegex, OpExact, OpRegex}

// Valid reports whether o is one of the four operators.
func (o Operator) Valid() bool {
	switch o {
	case OpRegex, OpExact, OpNotRegex, OpNotExact:
		return true
	}
	return false
}

// Negate returns the operator with the opposite polarity.
func (o Operator) Negate() Operator {
	switch o {
	case OpRegex:
		return OpNotRegex
	case OpExact:
		return OpNotExact
	case OpNotRegex:
		return OpRegex
	case OpNotExact:
		return OpExact
	}
	return o
}

// Logic combines the conditions of a group.
type Logic string

const (
	LogicAnd Logic = "AND"
	LogicOr  Logic = "OR"
)

// Condition is a single `attribute operator "value"` test.
type Condition struct {
	Attribute Attribute `json:"attribute"`
	Operator  Operator  `json:"operator"`
	Value     string    `json:"value"`
}

// ConditionGroup holds conditions joined by one logic operator.
type ConditionGroup struct {
	Conditions []Condition `json:"conditions"`
	Logic      Logic       `json:"logic"`
}

// Kind identifies the variant of an Element.
type Kind string

const (
	KindNormal      Kind = "normal"
	KindUnspecified Kind = "unspecified"
	KindDistance    Kind = "distance"
	KindAlternation Kind = "alternation"
)

// Element is one entry of a visual query. The set of implementations is closed:
// *NormalToken, *UnspecifiedToken, *Distance and *Alternation.
type Element interface {
	Kind() Kind
	ElementID() string
	element()
}

// NormalToken is a bracketed token with attribute conditions.
type NormalToken struct {
	ID              string
	ConditionGroups []ConditionGroup
}

// UnspecifiedToken matches exactly one arbitrary token: [].
type UnspecifiedToken struct {
	ID string
}

// LegacyUnboundedMax is the finite stand-in for "unbounded" used by consumers
// that cannot represent an open range.
const LegacyUnboundedMax = 100

// Distance is a gap of Min..Max arbitrary tokens. When Unbounded is set, Max is ignored.
type Distance struct {
	ID        string
	Min       int
	Max       int
	Unbounded bool
}

// Alternation is the | connector between two branches.
type Alternation struct {
	ID string
}

func (*NormalToken) Kind() Kind      { return KindNormal }
func (*UnspecifiedToken) Kind() Kind { return KindUnspecified }
func (*Distance) Kind() Kind         { return KindDistance }
func (*Alternation) Kind() Kind      { return KindAlternation }

func (t *NormalToken) ElementID() string      { return t.ID }
func (t *UnspecifiedToken) ElementID() string { return t.ID }
func (d *Distance) ElementID() string         { return d.ID }
func (a *Alternation) ElementID() string      { return a.ID }

func (*NormalToken) element()      {}
func (*UnspecifiedToken) element() {}
func (*Distance) element()         {}
func (*Alternation) element()      {}

// NewID returns a fresh element identifier.
func NewID() string {
	return uuid.NewString()
}

// NewNormalToken builds a token with a single group of conditions.
func NewNormalToken(logic Logic, conds ...Condition) *NormalToken {
	return &NormalToken{
		ID:              NewID(),
		ConditionGroups: []ConditionGroup{{Conditions: conds, Logic: logic}},
	}
}

// NewUnspecifiedToken returns a [] element.
func NewUnspecifiedToken() *UnspecifiedToken {
	return &UnspecifiedToken{ID: NewID()}
}

// NewDistance returns a bounded distance element.
func NewDistance(minCount, maxCount int) *Distance {
	return &Distance{ID: NewID(), Min: minCount, Max: maxCount}
}

// NewUnboundedDistance returns a distance with no upper bound.
func NewUnboundedDistance(minCount int) *Distance {
	return &Distance{ID: NewID(), Min: minCount, Unbounded: true}
}

// NewAlternation returns a | element.
func NewAlternation() *Alternation {
	return &Alternation{ID: NewID()}
}

// Conditions flattens all groups of the token into one list.
func (t *NormalToken) Conditions() []Condition {
	var out []Condition
	for _, g := range t.ConditionGroups {
		out = append(out, g.Conditions...)
	}
	return out
}

// Joiner returns the logic used between the token's conditions. Only the
// first group's logic is significant.
func (t *NormalToken) Joiner() Logic {
	if len(t.ConditionGroups) == 0 || t.ConditionGroups[0].Logic != LogicOr {
		return LogicAnd
	}
	return LogicOr
}

// Valid reports whether the range is well formed.
func (d *Distance) Valid() bool {
	if d.Min < 0 {
		return false
	}
	return d.Unbounded || d.Min <= d.Max
}

// LegacyMax returns Max, or LegacyUnboundedMax for an unbounded distance.
func (d *Distance) LegacyMax() int {
	if d.Unbounded {
		return LegacyUnboundedMax
	}
	return d.Max
}

// Equal reports whether two sequences are grammatically equivalent.
// Element identifiers are ignored.
func Equal(a, b []Element) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !equalElement(a[i], b[i]) {
			return false
		}
	}
	return true
}

func equalElement(a, b Element) bool {
	switch x := a.(type) {
	case *NormalToken:
		y, ok := b.(*NormalToken)
		if !ok || len(x.ConditionGroups) != len(y.ConditionGroups) {
			return false
		}
		for i := range x.ConditionGroups {
			gx, gy := x.ConditionGroups[i], y.ConditionGroups[i]
			if gx.Logic != gy.Logic || len(gx.Conditions) != len(gy.Conditions) {
				return false
			}
			for j := range gx.Conditions {
				if gx.Conditions[j] != gy.Conditions[j] {
					return false
				}
			}
		}
		return true
	case *UnspecifiedToken:
		_, ok := b.(*UnspecifiedToken)
		return ok
	case *Distance:
		y, ok := b.(*Distance)
		if !ok || x.Min != y.Min || x.Unbounded != y.Unbounded {
			return false
		}
		return x.Unbounded || x.Max == y.Max
	case *Alternation:
		_, ok := b.(*Alternation)
		return ok
	}
	return a == nil && b == nil
}
