package apperrors

import (
	"errors"
	"fmt"

	"github.com/onurcolak/unified-inbox/internal/domain"
)

var (
	// ErrTemplateNotFound means no template exists for the requested type.
	ErrTemplateNotFound = errors.New("template not found")
	// ErrTemplateInactive means the template exists but is disabled.
	ErrTemplateInactive = errors.New("template inactive")
	// ErrDestinationUnresolved means a phone could not be mapped to any chat.
	ErrDestinationUnresolved = errors.New("destination unresolved")
	// ErrValidation marks malformed input rejected before any network call.
	ErrValidation = errors.New("validation failed")
	// ErrDuplicate is returned when a uniqueness constraint rejects an insert.
	ErrDuplicate = errors.New("duplicate resource")
	// ErrNotFound indicates a requested resource was not found.
	ErrNotFound = errors.New("resource not found")
)

// CredentialError means the bearer-token exchange failed. The caller retries the
// outer operation; no stale token is ever handed out.
type CredentialError struct {
	Err error
}

func (e *CredentialError) Error() string {
	return fmt.Sprintf("credential exchange failed: %v", e.Err)
}

func (e *CredentialError) Unwrap() error {
	return e.Err
}

// AdapterError means one channel backend was unreachable or rejected a call.
type AdapterError struct {
	Source domain.Source
	Op     string
	Err    error
}

func (e *AdapterError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Source, e.Op, e.Err)
}

func (e *AdapterError) Unwrap() error {
	return e.Err
}

func NewAdapterError(source domain.Source, op string, err error) error {
	return &AdapterError{Source: source, Op: op, Err: err}
}

func IsCredentialError(err error) bool {
	var target *CredentialError
	return errors.As(err, &target)
}

func IsAdapterError(err error) bool {
	var target *AdapterError
	return errors.As(err, &target)
}
