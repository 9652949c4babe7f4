package models

// Auth errors. ErrNotCachedLocally is deliberately distinct from
// ErrInvalidPassword so callers can tell "log in online once" apart
// from "wrong password".
var (
	ErrEmptyUsername    = AuthError{"username cannot be empty"}
	ErrEmptyRole        = AuthError{"role id cannot be empty"}
	ErrPasswordTooShort = AuthError{"password must be at least 8 characters"}
	ErrInvalidPassword  = AuthError{"invalid password"}
	ErrUserInactive     = AuthError{"user account is disabled"}
	ErrNotCachedLocally = AuthError{"account not cached locally; log in online once to enable offline access"}
)

// AuthError is a caller-facing authentication failure.
type AuthError struct {
	Message string
}

func (e AuthError) Error() string {
	return e.Message
}
