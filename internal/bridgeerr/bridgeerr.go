// Package bridgeerr defines the error kinds used across the bridge (§7),
// following the teacher's sentinel-and-wrapped-error idiom
// (spilldb/db.ErrUserUnavailable / UserError).
package bridgeerr

import (
	"errors"
	"fmt"
)

// Sentinel errors with no payload of their own.
var (
	// ErrAuthRequired: credentials missing or rejected by the remote host.
	ErrAuthRequired = errors.New("bridgeerr: auth required")
	// ErrBridgeOffline: local storage or hot cache unreachable.
	ErrBridgeOffline = errors.New("bridgeerr: bridge offline")
	// ErrRemoteTransient: transport reset or read timeout talking to the remote host.
	ErrRemoteTransient = errors.New("bridgeerr: remote transient error")
	// ErrRemoteOverloaded: remote host reported "too many simultaneous connections".
	ErrRemoteOverloaded = errors.New("bridgeerr: remote overloaded")
	// ErrNotFound: requested id/uid absent both locally and on the remote.
	ErrNotFound = errors.New("bridgeerr: not found")
	// ErrValidation: malformed request body.
	ErrValidation = errors.New("bridgeerr: validation error")
)

// FetchTimeoutError is returned by the read path (§4.11) when the poll
// budget is exhausted before hydration completes.
type FetchTimeoutError struct {
	ID string
}

func (e *FetchTimeoutError) Error() string {
	return fmt.Sprintf("bridgeerr: fetch timeout for %s", e.ID)
}

// IsFetchTimeout reports whether err (or something it wraps) is a
// FetchTimeoutError.
func IsFetchTimeout(err error) bool {
	var fte *FetchTimeoutError
	return errors.As(err, &fte)
}

// ValidationError wraps ErrValidation with a field-level message.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("bridgeerr: validation error: %s", e.Msg)
	}
	return fmt.Sprintf("bridgeerr: validation error: %s: %s", e.Field, e.Msg)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }
