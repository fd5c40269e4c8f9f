package oplog

import (
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
)

var (
	ErrInvalidOperation = errors.New("invalid operation")
	ErrInvalidInsert    = errors.New("invalid insert")
	ErrInvalidUpdate    = errors.New("invalid update")
	ErrInvalidDelete    = errors.New("invalid delete")
	ErrInvalidCommand   = errors.New("invalid command")
	ErrInvalidApplyOps  = errors.New("invalid applyOps")
	ErrInvalidNoop      = errors.New("invalid noop")

	// ErrType is wrapped by every TypeError.
	ErrType = errors.New("wrong field type")

	// ErrMissingIdentifier is returned at apply time when a document or
	// query has no _id.
	ErrMissingIdentifier = errors.New("missing _id")
)

// ParseError reports a change-log record that could not be turned into an
// operation. Kind is one of the ErrInvalid* sentinels.
type ParseError struct {
	Kind   error
	Field  string
	Reason string
	Record bson.D
	Err    error
}

func (e *ParseError) Error() string {
	msg := e.Kind.Error()
	switch {
	case e.Reason != "":
		msg += ": " + e.Reason
	case e.Field != "":
		msg += ": missing field " + e.Field
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ParseError) Unwrap() []error {
	if e.Err != nil {
		return []error{e.Kind, e.Err}
	}
	return []error{e.Kind}
}

// TypeError reports a present field holding the wrong BSON type.
type TypeError struct {
	Field string
	Want  string
	Got   any
}

func (e *TypeError) Error() string {
	return fmt.Sprintf("%s: expected %s, got %T", e.Field, e.Want, e.Got)
}

func (e *TypeError) Unwrap() error {
	return ErrType
}

// IsInvalid reports whether err means the record itself is malformed, as
// opposed to a failure talking to the source or destination.
func IsInvalid(err error) bool {
	var pe *ParseError
	var te *TypeError
	return errors.As(err, &pe) || errors.As(err, &te) || errors.Is(err, ErrMissingIdentifier)
}
