package notification

import (
	"errors"
	"fmt"
)

var (
	ErrUnauthenticated = errors.New("not authenticated")
	ErrNetwork         = errors.New("notification fetch failed")
	ErrDecode          = errors.New("notification collection malformed")
)

// FetchKind classifies poll failures.
type FetchKind int

const (
	KindUnauthenticated FetchKind = iota + 1
	KindNetwork
	KindDecode
)

func (k FetchKind) String() string {
	switch k {
	case KindUnauthenticated:
		return "unauthenticated"
	case KindNetwork:
		return "network"
	case KindDecode:
		return "decode"
	default:
		return "unknown"
	}
}

// FetchError is returned by a failed poll. The snapshot is never modified
// when a FetchError is returned.
type FetchError struct {
	Kind       FetchKind
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s (http %d): %v", e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("fetch %s: %v", e.Kind, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

func (e *FetchError) Is(target error) bool {
	switch e.Kind {
	case KindUnauthenticated:
		return target == ErrUnauthenticated
	case KindNetwork:
		return target == ErrNetwork
	case KindDecode:
		return target == ErrDecode
	}
	return false
}
