package cacheurl

import (
	"errors"
	"fmt"
)

// Sentinel errors for cache URL construction.
var (
	ErrInvalidURL  = errors.New("cacheurl: invalid publisher url")
	ErrUnknownMode = errors.New("cacheurl: unknown mode")
)

// InvalidURLError describes why a publisher URL was rejected. It matches
// ErrInvalidURL with errors.Is.
type InvalidURLError struct {
	URL    string
	Reason string
	Err    error
}

func (e *InvalidURLError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %q: %s: %v", ErrInvalidURL, e.URL, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: %q: %s", ErrInvalidURL, e.URL, e.Reason)
}

// Is reports whether target is ErrInvalidURL.
func (e *InvalidURLError) Is(target error) bool {
	return target == ErrInvalidURL
}

func (e *InvalidURLError) Unwrap() error {
	return e.Err
}

// IsInvalidURL checks if err is an invalid publisher URL error.
func IsInvalidURL(err error) bool {
	return errors.Is(err, ErrInvalidURL)
}
