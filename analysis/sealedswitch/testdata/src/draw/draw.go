// Package draw switches over shapes from another package.
package draw

import "shapes"

func Label(s shapes.Shape) string {
	switch s.(type) { // want `type switch on shapes\.Shape is missing \*shapes\.Square, \*shapes\.Triangle`
	case *shapes.Circle:
		return "round"
	}
	return ""
}

func Nil(s shapes.Shape) bool {
	switch s.(type) {
	case nil:
		return true
	case *shapes.Circle, *shapes.Square, *shapes.Triangle:
		return false
	}
	return false
}
