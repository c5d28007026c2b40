// Package executor turns proposed actions into platform effects: it
// validates, rate-limits, retries, and records exactly one outcome per
// action. All action-level errors are contained here and never reach the
// orchestration loop.
package executor

import (
	"context"
	"errors"
	"fmt"
)

// ErrorKind classifies an action failure for the record and retry policy.
type ErrorKind string

const (
	KindRateLimited  ErrorKind = "rate_limited"
	KindTransient    ErrorKind = "transient"
	KindPermanent    ErrorKind = "permanent"
	KindInvalidInput ErrorKind = "invalid_input"
)

// ClassifiedError tags an underlying platform error with its kind.
// Backends wrap their failures in one of the constructors below;
// anything unclassified is treated as transient.
type ClassifiedError struct {
	Kind ErrorKind
	Err  error
}

func (e *ClassifiedError) Error() string { return fmt.Sprintf("%s: %v", e.Kind, e.Err) }
func (e *ClassifiedError) Unwrap() error { return e.Err }

func RateLimited(err error) error  { return &ClassifiedError{Kind: KindRateLimited, Err: err} }
func Transient(err error) error    { return &ClassifiedError{Kind: KindTransient, Err: err} }
func Permanent(err error) error    { return &ClassifiedError{Kind: KindPermanent, Err: err} }
func InvalidInput(err error) error { return &ClassifiedError{Kind: KindInvalidInput, Err: err} }

// Classify returns the error's kind. Timeouts and unwrapped errors count as
// transient so the retry bound gets a chance at them.
func Classify(err error) ErrorKind {
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTransient
	}
	return KindTransient
}
