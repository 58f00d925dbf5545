package utils

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

// Size limits (in bytes)
const (
	MaxFrameSize   = 256 * 1024 // single websocket frame
	MaxBodySize    = 64 * 1024  // HTTP request body
	MaxMessageSize = 128 * 1024 // relayed postMessage payload
)

// String length limits
const (
	MaxIDLength   = 128
	MaxHostLength = 253
	MaxURLLength  = 8192
	MaxParamCount = 64
)

// SafeIDPattern allows alphanumeric, hyphens, underscores
var SafeIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// ValidateString validates a string field with length and content checks
func ValidateString(value, fieldName string, minLen, maxLen int, required bool) error {
	if required && value == "" {
		return fmt.Errorf("%s is required", fieldName)
	}

	if value == "" && !required {
		return nil
	}

	length := utf8.RuneCountInString(value)
	if length < minLen {
		return fmt.Errorf("%s must be at least %d characters", fieldName, minLen)
	}
	if length > maxLen {
		return fmt.Errorf("%s must not exceed %d characters", fieldName, maxLen)
	}

	if strings.Contains(value, "\x00") {
		return fmt.Errorf("%s contains invalid characters", fieldName)
	}

	return nil
}

// ValidateID validates an ID field
func ValidateID(id, fieldName string, required bool) error {
	if err := ValidateString(id, fieldName, 1, MaxIDLength, required); err != nil {
		return err
	}

	if id != "" && !SafeIDPattern.MatchString(id) {
		return fmt.Errorf("%s contains invalid characters (only alphanumeric, hyphens, and underscores allowed)", fieldName)
	}

	return nil
}

// ValidateHost checks a bare host name as typed by a user. Unicode is
// allowed; scheme, path and whitespace are not.
func ValidateHost(host string) error {
	if err := ValidateString(host, "host", 1, MaxHostLength, true); err != nil {
		return err
	}
	if strings.ContainsAny(host, "/?#@ \t\r\n") {
		return fmt.Errorf("host must be a bare host name")
	}
	return nil
}

// ValidateURL applies length limits to a URL field. Parsing is left to
// the cache URL builder.
func ValidateURL(raw, fieldName string) error {
	return ValidateString(raw, fieldName, 1, MaxURLLength, true)
}

// ValidateSize checks a payload against a byte limit.
func ValidateSize(data []byte, maxSize int) error {
	if len(data) > maxSize {
		return fmt.Errorf("payload size %d bytes exceeds maximum %d bytes", len(data), maxSize)
	}
	return nil
}
