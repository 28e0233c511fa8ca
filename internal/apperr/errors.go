// Package apperr defines the structured error kinds surfaced by the ingestion,
// retrieval and status layers.
package apperr

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies a failure so callers can react without parsing messages.
type Kind string

const (
	// NotInitialized means the core was used before setup completed.
	NotInitialized Kind = "not_initialized"
	// SourceUnavailable means the data directory is missing or unreadable.
	SourceUnavailable Kind = "source_unavailable"
	// NoEligibleInput means a sync found no eligible files.
	NoEligibleInput Kind = "no_eligible_input"
	// ProviderFailure means the embedding or synthesis provider failed.
	ProviderFailure Kind = "provider_failure"
	// ProviderTimeout means a provider call exceeded its deadline.
	ProviderTimeout Kind = "provider_timeout"
	// IndexWriteFailure means the index rejected a write.
	IndexWriteFailure Kind = "index_write_failure"
	// ValidationFailure means a request was out of range.
	ValidationFailure Kind = "validation_failure"
	// Internal is used for errors that carry no kind.
	Internal Kind = "internal"
)

// Error is a failure with a kind and a human readable message.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New returns an error of the given kind.
func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap returns an error of the given kind wrapping err.
func Wrap(kind Kind, err error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf returns the kind of err, or Internal when err carries none.
// A nil error has an empty kind.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

// Is reports whether err is of the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// MessageOf returns the message of a structured error, or err.Error() otherwise.
func MessageOf(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		if e.Err != nil {
			return fmt.Sprintf("%s: %v", e.Message, e.Err)
		}
		return e.Message
	}
	return err.Error()
}

// FromProvider classifies an error returned by an embedding or synthesis call.
// Deadline expiry becomes ProviderTimeout; anything else is ProviderFailure.
// Errors that already carry a kind are returned unchanged.
func FromProvider(op string, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Wrap(ProviderTimeout, err, "%s timed out", op)
	}
	return Wrap(ProviderFailure, err, "%s failed", op)
}
