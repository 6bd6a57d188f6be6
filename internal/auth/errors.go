package auth

import (
	"errors"
	"fmt"
)

var (
	// ErrNoSession means nobody is signed in.
	ErrNoSession = errors.New("no session")
	// ErrExpired means the access token is past its expiry.
	ErrExpired = errors.New("access token expired")
	// ErrUnauthorized matches AuthError values of KindUnauthorized.
	ErrUnauthorized = errors.New("refresh token rejected")
	// ErrTransient matches AuthError values of KindTransient.
	ErrTransient = errors.New("token endpoint unavailable")
)

// ErrorKind classifies token endpoint failures.
type ErrorKind int

const (
	// KindUnauthorized is permanent: the session is ended and never retried.
	KindUnauthorized ErrorKind = iota + 1
	// KindTransient leaves the session untouched; the next tick retries.
	KindTransient
)

func (k ErrorKind) String() string {
	switch k {
	case KindUnauthorized:
		return "unauthorized"
	case KindTransient:
		return "transient"
	default:
		return "unknown"
	}
}

// AuthError is returned by Refresh and Exchange.
type AuthError struct {
	Kind       ErrorKind
	StatusCode int
	Err        error
}

func (e *AuthError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("auth %s (http %d): %v", e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("auth %s: %v", e.Kind, e.Err)
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

func (e *AuthError) Is(target error) bool {
	switch e.Kind {
	case KindUnauthorized:
		return target == ErrUnauthorized
	case KindTransient:
		return target == ErrTransient
	}
	return false
}
