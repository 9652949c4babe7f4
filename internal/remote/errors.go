package remote

import (
	"errors"
	"fmt"
)

// ErrorKind classifies remote failures structurally. Callers branch on
// the kind, never on message contents.
type ErrorKind string

const (
	// KindConnectivity covers timeouts, DNS and transport failures, and
	// anything else that means the server could not be reached.
	KindConnectivity ErrorKind = "connectivity"
	// KindAuth is an explicit credential rejection (401/403).
	KindAuth ErrorKind = "auth"
	// KindServer is a reachable server failing internally (5xx).
	KindServer ErrorKind = "server"
	// KindData is a malformed or unexpected payload or request (other 4xx,
	// undecodable body).
	KindData ErrorKind = "data"
)

// Error is the structured failure returned by every client method.
type Error struct {
	Kind       ErrorKind
	StatusCode int
	Message    string
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("remote %s error (status %d): %s", e.Kind, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("remote %s error: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func kindFromStatus(status int) ErrorKind {
	switch {
	case status == 401 || status == 403:
		return KindAuth
	case status >= 500:
		return KindServer
	default:
		return KindData
	}
}

// KindOf extracts the error kind, defaulting to connectivity for
// non-remote errors (which can only come from the transport layer).
func KindOf(err error) ErrorKind {
	var rerr *Error
	if errors.As(err, &rerr) {
		return rerr.Kind
	}
	return KindConnectivity
}

// IsAuth reports whether err is an explicit credential rejection.
func IsAuth(err error) bool {
	return KindOf(err) == KindAuth
}

// IsConnectivity reports whether err means the server was unreachable.
func IsConnectivity(err error) bool {
	return KindOf(err) == KindConnectivity
}

// Retryable reports whether falling back to the local replica (or
// retrying later) is appropriate for err.
func Retryable(err error) bool {
	k := KindOf(err)
	return k == KindConnectivity || k == KindServer
}
