// Package apperr defines the error taxonomy shared by the analysis service,
// the HTTP layer and the background workers.
package apperr

import (
	"errors"
	"fmt"

	"github.com/azrilxx/tradenestkgsb-sub002/internal/contracts"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	ErrLimitReached = errors.New("usage limit reached")
	ErrValidation   = errors.New("validation failed")
	ErrTransient    = errors.New("data store unavailable")
)

// NotFound wraps ErrNotFound with the missing entity.
func NotFound(what, id string) error {
	return fmt.Errorf("%s %q: %w", what, id, ErrNotFound)
}

// TierError rejects a feature the caller's tier does not include.
type TierError struct {
	Feature      string
	CurrentTier  contracts.Tier
	RequiredTier contracts.Tier
	Message      string
}

func (e *TierError) Error() string {
	return fmt.Sprintf("%s requires %s tier (current: %s)", e.Feature, e.RequiredTier, e.CurrentTier)
}

func (e *TierError) Unwrap() error { return ErrForbidden }

// LimitError rejects a request once the monthly quota is used up.
type LimitError struct {
	Tier    contracts.Tier
	Limit   int
	Used    int
	Message string
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("monthly analysis limit reached (%d/%d on %s tier)", e.Used, e.Limit, e.Tier)
}

func (e *LimitError) Unwrap() error { return ErrLimitReached }

type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return e.Field + ": " + e.Reason
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

func Invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// TransientError marks a data-store failure. It is surfaced per call and
// never retried or cached.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() []error { return []error{ErrTransient, e.Err} }

func Transient(op string, err error) error {
	return &TransientError{Op: op, Err: err}
}

func IsNotFound(err error) bool  { return errors.Is(err, ErrNotFound) }
func IsTransient(err error) bool { return errors.Is(err, ErrTransient) }
