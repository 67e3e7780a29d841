// Package faults defines the error kinds shared across the catalog engine.
//
// Parser and network failures never cross the catalog boundary as raw
// errors: the refresh layer records them on the owning source's LastError
// field and leaves the previous snapshot intact. The distinct kinds matter
// because they drive retry policy: NetworkError is retry-eligible with
// backoff, AuthError and ParseError are not.
package faults

import (
	"errors"
	"fmt"
	"time"
)

// ParseError reports malformed input. M3U parsing is per-entry tolerant
// (one bad entry does not produce a ParseError for the whole playlist);
// XMLTV parsing is all-or-nothing and fails the entire fetch.
type ParseError struct {
	Format string // "m3u", "xmltv", "xtream"
	Msg    string
	Err    error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("parse %s: %s: %v", e.Format, e.Msg, e.Err)
	}
	return fmt.Sprintf("parse %s: %s", e.Format, e.Msg)
}

func (e *ParseError) Unwrap() error { return e.Err }

// AuthError reports rejected credentials. Never retried automatically.
type AuthError struct {
	Msg string
}

func (e *AuthError) Error() string {
	if e.Msg == "" {
		return "authentication failed"
	}
	return "authentication failed: " + e.Msg
}

// NetworkError reports a transient transport failure (connection error,
// timeout, non-2xx status that is not a recognized auth rejection).
type NetworkError struct {
	URL    string
	Status int // 0 when the request never got a response
	Err    error
}

func (e *NetworkError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("fetch %s: status %d", e.URL, e.Status)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// ValidationError reports input rejected at a boundary (malformed form
// fields, bad HH:MM restriction times). Invalid values are never stored.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Msg)
}

// LockoutError reports a PIN check attempted during an active lockout
// window. Distinct from a plain wrong-PIN failure: the attempt is rejected
// outright, even if the PIN is correct.
type LockoutError struct {
	Until time.Time
}

func (e *LockoutError) Error() string {
	return fmt.Sprintf("pin entry locked out until %s", e.Until.Format(time.RFC3339))
}

// Retryable reports whether err is eligible for automatic retry with
// backoff. Only transient network failures qualify.
func Retryable(err error) bool {
	var ne *NetworkError
	return errors.As(err, &ne)
}

// IsAuth reports whether err is (or wraps) an AuthError.
func IsAuth(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae)
}
