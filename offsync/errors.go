// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package offsync

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrNotFound is matched by every NotFoundError
	ErrNotFound = errors.New("not found")

	// ErrOffline is returned by remotes when the connection is known to be down.
	// Entries that hit it are left in the queue untouched.
	ErrOffline = errors.New("offline")
)

// ValidationError reports an entity payload that can never be accepted.
// It is returned synchronously to the writer and nothing is queued.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Message
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Message)
}

// NewValidationError creates a validation error for a single field
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// NotFoundError reports a mutation or lookup of an id the local store does not hold
type NotFoundError struct {
	EntityType string
	ID         string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.EntityType, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// TransientSyncError is a delivery failure that is expected to go away on its own
// (network error, timeout, 5xx). The queue entry is kept and retried.
type TransientSyncError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *TransientSyncError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: transient failure (status %d): %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: transient failure: %v", e.Op, e.Err)
}

func (e *TransientSyncError) Unwrap() error { return e.Err }

// PermanentSyncError is a delivery failure the remote will keep returning for the
// same payload (4xx). The queue entry is dropped and the record is left FAILED.
type PermanentSyncError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *PermanentSyncError) Error() string {
	return fmt.Sprintf("%s: rejected (status %d): %v", e.Op, e.StatusCode, e.Err)
}

func (e *PermanentSyncError) Unwrap() error { return e.Err }

// ConflictError is returned when the remote rejects a change because it is based on a stale version.
// There is no field-level merge, so it is handled like any other permanent failure.
type ConflictError struct {
	PermanentSyncError
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s: conflict: %v", e.Op, e.Err)
}

// Unwrap exposes the embedded permanent error so errors.As finds both types
func (e *ConflictError) Unwrap() error { return &e.PermanentSyncError }

// IsTransient reports whether err should leave its queue entry in place for another attempt
func IsTransient(err error) bool {
	var te *TransientSyncError
	return errors.As(err, &te)
}

// IsPermanent reports whether err can never succeed for the same payload
func IsPermanent(err error) bool {
	var pe *PermanentSyncError
	return errors.As(err, &pe)
}

// IsConflict reports whether err is a stale-version rejection
func IsConflict(err error) bool {
	var ce *ConflictError
	return errors.As(err, &ce)
}

// Classify turns an HTTP status code (or a transport error when statusCode is 0)
// into the sync error taxonomy. It returns nil for successful codes.
func Classify(op string, statusCode int, err error) error {
	if statusCode == 0 {
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrOffline) || errors.Is(err, context.Canceled) {
			return err
		}
		return &TransientSyncError{Op: op, Err: err}
	}
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}
	if err == nil {
		err = errors.New(http.StatusText(statusCode))
	}
	switch {
	case statusCode == http.StatusConflict:
		return &ConflictError{PermanentSyncError{Op: op, StatusCode: statusCode, Err: err}}
	case statusCode == http.StatusRequestTimeout,
		statusCode == http.StatusTooManyRequests,
		statusCode == http.StatusUnauthorized,
		statusCode >= 500:
		return &TransientSyncError{Op: op, StatusCode: statusCode, Err: err}
	case statusCode >= 400:
		return &PermanentSyncError{Op: op, StatusCode: statusCode, Err: err}
	default:
		return &TransientSyncError{Op: op, StatusCode: statusCode, Err: err}
	}
}
