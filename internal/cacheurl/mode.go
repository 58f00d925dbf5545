package cacheurl

import (
	"fmt"
	"strings"
)

// Mode selects the cache entry point.
type Mode int

const (
	// ModeViewer is the browser viewer path (/v/), which bootstraps the
	// AMP runtime at a pinned version.
	ModeViewer Mode = iota
	// ModeNative is the native shell path (/c/).
	ModeNative
)

// String returns the string representation of the mode
func (m Mode) String() string {
	switch m {
	case ModeViewer:
		return "viewer"
	case ModeNative:
		return "native"
	default:
		return "unknown"
	}
}

// ParseMode converts a mode name. The empty string means ModeViewer.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "viewer", "v":
		return ModeViewer, nil
	case "native", "c":
		return ModeNative, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownMode, s)
	}
}

func (m Mode) pathPrefix() string {
	if m == ModeNative {
		return "/c/"
	}
	return "/v/"
}
