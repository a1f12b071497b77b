// Package shapes contains test cases for the sealedswitch analyzer.
package shapes

// Shape is sealed by its unexported method.
type Shape interface {
	Area() float64
	shape()
}

type Circle struct{ R float64 }
type Square struct{ Side float64 }
type Triangle struct{ Base, Height float64 }

func (c *Circle) Area() float64   { return 3 * c.R * c.R }
func (s *Square) Area() float64   { return s.Side * s.Side }
func (t *Triangle) Area() float64 { return t.Base * t.Height / 2 }

func (*Circle) shape()   {}
func (*Square) shape()   {}
func (*Triangle) shape() {}

// Named is open: any package may implement it.
type Named interface {
	Name() string
}

func (*Circle) Name() string { return "circle" }

// Corners forgets circles.
func Corners(s Shape) int {
	switch s.(type) { // want `type switch on shapes\.Shape is missing \*shapes\.Circle`
	case *Square:
		return 4
	case *Triangle:
		return 3
	}
	return -1
}

// Describe handles every shape, two of them in one clause.
func Describe(s Shape) string {
	switch x := s.(type) {
	case *Circle:
		return "circle"
	case *Square, *Triangle:
		_ = x
		return "polygon"
	}
	return ""
}

// WithDefault is exhaustive through its default clause.
func WithDefault(s Shape) bool {
	switch s.(type) {
	case *Circle:
		return true
	default:
		return false
	}
}

// OpenSwitch switches over an interface that is not sealed.
func OpenSwitch(n Named) string {
	switch n.(type) {
	case *Circle:
		return "circle"
	}
	return ""
}
