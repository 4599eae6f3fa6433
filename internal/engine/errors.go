package engine

import (
	"errors"
	"fmt"
)

var (
	// ErrQueueClosed is returned by Enqueue after Stop.
	ErrQueueClosed = errors.New("engine: admission queue closed")
	// ErrQueueFull is returned by Enqueue when a shard queue is at its limit.
	ErrQueueFull = errors.New("engine: admission queue full")
)

// AdmissionError reports why an event was not admitted.
//
// Nothing is written for a rejected event. Err carries the underlying cause
// for storage failures.
type AdmissionError struct {
	// Code identifies the error category.
	Code AdmissionErrorCode

	// Message is a human-readable description.
	Message string

	// EventID identifies the rejected event.
	EventID string

	// Err is the wrapped cause, if any.
	Err error
}

// AdmissionErrorCode categorizes admission errors.
type AdmissionErrorCode string

const (
	// ErrCodeInvalidEvent indicates the event failed validation.
	ErrCodeInvalidEvent AdmissionErrorCode = "INVALID_EVENT"

	// ErrCodeDuplicateEvent indicates the event id is already admitted.
	ErrCodeDuplicateEvent AdmissionErrorCode = "DUPLICATE_EVENT"

	// ErrCodeUnauthorized indicates the sender's power level is too low.
	ErrCodeUnauthorized AdmissionErrorCode = "UNAUTHORIZED"

	// ErrCodeStorage indicates a read or commit failed.
	ErrCodeStorage AdmissionErrorCode = "STORAGE"
)

// Error implements the error interface.
func (e *AdmissionError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.EventID != "" {
		msg = fmt.Sprintf("%s (event=%s)", msg, e.EventID)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap returns the cause.
func (e *AdmissionError) Unwrap() error {
	return e.Err
}

func hasCode(err error, code AdmissionErrorCode) bool {
	var ae *AdmissionError
	if errors.As(err, &ae) {
		return ae.Code == code
	}
	return false
}

// IsInvalid reports whether err rejects a malformed event.
func IsInvalid(err error) bool { return hasCode(err, ErrCodeInvalidEvent) }

// IsDuplicate reports whether err rejects an already admitted event.
func IsDuplicate(err error) bool { return hasCode(err, ErrCodeDuplicateEvent) }

// IsUnauthorized reports whether err rejects an event its sender may not
// send.
func IsUnauthorized(err error) bool { return hasCode(err, ErrCodeUnauthorized) }

// IsStorage reports whether err is a storage failure.
func IsStorage(err error) bool { return hasCode(err, ErrCodeStorage) }

func invalidEvent(id string, err error) *AdmissionError {
	return &AdmissionError{Code: ErrCodeInvalidEvent, Message: "event failed validation", EventID: id, Err: err}
}

func duplicateEvent(id string) *AdmissionError {
	return &AdmissionError{Code: ErrCodeDuplicateEvent, Message: "event already admitted", EventID: id}
}

func unauthorized(id, format string, args ...any) *AdmissionError {
	return &AdmissionError{Code: ErrCodeUnauthorized, Message: fmt.Sprintf(format, args...), EventID: id}
}

func storageFailure(id, op string, err error) *AdmissionError {
	return &AdmissionError{Code: ErrCodeStorage, Message: op, EventID: id, Err: err}
}
