package query

import (
	"strings"
)

// ErrorKind classifies why a query string failed validation.
type ErrorKind string

const (
	ErrUnbalancedBrackets ErrorKind = "unbalanced_brackets"
	ErrEmptyValue         ErrorKind = "empty_value"
)

// Hint returns a short English explanation suitable for display.
func (k ErrorKind) Hint() string {
	switch k {
	case ErrUnbalancedBrackets:
		return "Every [ needs a matching ]."
	case ErrEmptyValue:
		return "A condition has an empty value."
	}
	return ""
}

// Validation is the verdict of Validate. An invalid result with no Error
// means nothing has been entered yet.
type Validation struct {
	Valid bool      `json:"valid"`
	Error ErrorKind `json:"error,omitempty"`
}

// Validate performs a purely textual well-formedness check. It does not parse
// the query and accepts strings the parser cannot fully interpret.
func Validate(text string) Validation {
	if strings.TrimSpace(text) == "" {
		return Validation{Valid: false}
	}
	if strings.Count(text, "[") != strings.Count(text, "]") {
		return Validation{Valid: false, Error: ErrUnbalancedBrackets}
	}
	if strings.Contains(text, `=""`) {
		return Validation{Valid: false, Error: ErrEmptyValue}
	}
	return Validation{Valid: true}
}
