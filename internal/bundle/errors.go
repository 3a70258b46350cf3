package bundle

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrTxAlreadyClosed   = errors.New("tx already closed")
	ErrLocked            = errors.New("locked by another worker")
	ErrNotReady          = errors.New("not ready")

	// ErrRetry marks a task that wasn't started and should be delivered again later.
	ErrRetry = errors.New("retry later")
)

// ValidationError reports a rejected bundle spec. A job is never created for it.
type ValidationError struct {
	Issues []string
}

func (e *ValidationError) Error() string {
	return "invalid spec: " + strings.Join(e.Issues, "; ")
}

// FetchError reports a failed image pull, image save or package download.
type FetchError struct {
	Item string
	Err  error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.Item, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// EnvironmentError reports that neither the sandbox nor the host tooling can run a fetch.
type EnvironmentError struct {
	Err error
}

func (e *EnvironmentError) Error() string {
	return fmt.Sprintf("execution environment: %v", e.Err)
}

func (e *EnvironmentError) Unwrap() error {
	return e.Err
}

// IOError reports a failed write or archive operation on the bundle layout.
type IOError struct {
	Op  string
	Err error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *IOError) Unwrap() error {
	return e.Err
}
