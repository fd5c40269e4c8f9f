package errors

import (
	"context"
	"errors"
)

// ErrorCategory decides how a failed record is handled.
type ErrorCategory int

const (
	ErrorFatal    ErrorCategory = iota // I/O or unknown failure - stop without advancing
	ErrorInvalid                       // Malformed record - halt or skip per policy
	ErrorCanceled                      // Shutdown requested
)

func (c ErrorCategory) String() string {
	switch c {
	case ErrorInvalid:
		return "invalid"
	case ErrorCanceled:
		return "canceled"
	default:
		return "fatal"
	}
}

// Classifier categorizes errors returned while replaying.
type Classifier struct {
	invalid []func(error) bool
}

// NewClassifier creates a classifier; invalid predicates recognize
// malformed-record errors.
func NewClassifier(invalid ...func(error) bool) *Classifier {
	return &Classifier{invalid: invalid}
}

// Classify determines the category of an error.
func (c *Classifier) Classify(err error) ErrorCategory {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return ErrorCanceled
	}
	for _, is := range c.invalid {
		if is(err) {
			return ErrorInvalid
		}
	}
	return ErrorFatal
}

// Skippable returns true if the record may be skipped under a lenient policy.
func (c *Classifier) Skippable(category ErrorCategory) bool {
	return category == ErrorInvalid
}
