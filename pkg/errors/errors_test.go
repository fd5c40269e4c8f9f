package errors

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
)

var errBad = errors.New("bad record")

func TestClassify(t *testing.T) {
	c := NewClassifier(func(err error) bool { return errors.Is(err, errBad) })

	cases := []struct {
		err  error
		want ErrorCategory
	}{
		{fmt.Errorf("parse: %w", errBad), ErrorInvalid},
		{context.Canceled, ErrorCanceled},
		{fmt.Errorf("tail: %w", context.DeadlineExceeded), ErrorCanceled},
		{errors.New("connection reset"), ErrorFatal},
	}
	for _, tc := range cases {
		if got := c.Classify(tc.err); got != tc.want {
			t.Errorf("Classify(%v) = %v, want %v", tc.err, got, tc.want)
		}
	}
	if !c.Skippable(ErrorInvalid) || c.Skippable(ErrorFatal) {
		t.Error("unexpected Skippable")
	}
}

func TestAppError(t *testing.T) {
	err := Internal(errors.New("db down"))
	if err.Code != http.StatusInternalServerError {
		t.Errorf("Code = %d", err.Code)
	}
	if err.Error() != "Internal Server Error: db down" {
		t.Errorf("Error() = %q", err.Error())
	}
	if !errors.Is(err, err.Err) {
		t.Error("expected AppError to unwrap")
	}
	if NotFound("x").Code != http.StatusNotFound || Unavailable("y").Code != http.StatusServiceUnavailable {
		t.Error("unexpected codes")
	}
}
