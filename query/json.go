package query

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Sequence is an ordered list of elements with a JSON encoding that
// preserves each element's variant.
type Sequence []Element

// wireElement is the JSON shape shared by all element variants.
type wireElement struct {
	ID              string           `json:"id,omitempty"`
	Type            Kind             `json:"type"`
	ConditionGroups []ConditionGroup `json:"conditionGroups,omitempty"`
	MinCount        *int             `json:"minCount,omitempty"`
	MaxCount        *int             `json:"maxCount,omitempty"`
	Unbounded       bool             `json:"unbounded,omitempty"`
}

// MarshalJSON encodes the sequence as an array of tagged objects.
func (s Sequence) MarshalJSON() ([]byte, error) {
	out := make([]wireElement, 0, len(s))
	for _, e := range s {
		if e == nil {
			continue
		}
		out = append(out, toWire(e))
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes an array of tagged objects. Missing identifiers are
// generated, a group without logic is AND, and a distance without counts
// defaults to {1,2}.
func (s *Sequence) UnmarshalJSON(data []byte) error {
	var raw []wireElement
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	seq := make(Sequence, 0, len(raw))
	for i, w := range raw {
		e, err := fromWire(w)
		if err != nil {
			return fmt.Errorf("element %d: %w", i, err)
		}
		seq = append(seq, e)
	}
	*s = seq
	return nil
}

func toWire(e Element) wireElement {
	w := wireElement{ID: e.ElementID(), Type: e.Kind()}
	switch x := e.(type) {
	case *NormalToken:
		w.ConditionGroups = x.ConditionGroups
	case *Distance:
		minCount := x.Min
		w.MinCount = &minCount
		if x.Unbounded {
			w.Unbounded = true
		} else {
			maxCount := x.Max
			w.MaxCount = &maxCount
		}
	case *UnspecifiedToken, *Alternation:
		// type and id only
	}
	return w
}

func fromWire(w wireElement) (Element, error) {
	id := w.ID
	if id == "" {
		id = NewID()
	}
	switch w.Type {
	case KindNormal:
		for i, g := range w.ConditionGroups {
			if g.Logic == "" {
				w.ConditionGroups[i].Logic = LogicAnd
			} else if g.Logic != LogicAnd && g.Logic != LogicOr {
				return nil, fmt.Errorf("unknown logic %q", g.Logic)
			}
			for _, c := range g.Conditions {
				if !c.Attribute.Valid() {
					return nil, fmt.Errorf("unknown attribute %q", c.Attribute)
				}
				if !c.Operator.Valid() {
					return nil, fmt.Errorf("unknown operator %q", c.Operator)
				}
				if strings.IndexByte(c.Value, '"') != -1 {
					return nil, fmt.Errorf("value %q contains a double quote", c.Value)
				}
			}
		}
		return &NormalToken{ID: id, ConditionGroups: w.ConditionGroups}, nil
	case KindUnspecified:
		return &UnspecifiedToken{ID: id}, nil
	case KindDistance:
		d := &Distance{ID: id, Min: 1, Max: 2, Unbounded: w.Unbounded}
		if w.MinCount != nil {
			d.Min = *w.MinCount
		}
		if w.MaxCount != nil && !w.Unbounded {
			d.Max = *w.MaxCount
		}
		if !d.Valid() {
			return nil, fmt.Errorf("invalid distance range {%d,%d}", d.Min, d.Max)
		}
		return d, nil
	case KindAlternation:
		return &Alternation{ID: id}, nil
	}
	return nil, fmt.Errorf("unknown element type %q", w.Type)
}
