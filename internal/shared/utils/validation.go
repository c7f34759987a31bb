package utils

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// MaxNameLength bounds version and bucket names
const MaxNameLength = 256

// ValidateName checks that a version or bucket name is usable as a storage
// key on every backend. Names must be non-empty valid UTF-8 within
// MaxNameLength, free of whitespace and control characters, and must not be
// a path element ("." or "..") or contain a path separator.
func ValidateName(name string) error {
	if name == "" {
		return fmt.Errorf("name is required")
	}
	if name == "." || name == ".." {
		return fmt.Errorf("name %q is reserved", name)
	}
	if strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("name %q contains a path separator", name)
	}
	if len(name) > MaxNameLength {
		return fmt.Errorf("name exceeds maximum length of %d", MaxNameLength)
	}
	if !utf8.ValidString(name) {
		return fmt.Errorf("name must be valid UTF-8")
	}
	if strings.IndexFunc(name, func(r rune) bool {
		return unicode.IsSpace(r) || unicode.IsControl(r)
	}) >= 0 {
		return fmt.Errorf("name %q contains whitespace or control characters", name)
	}
	return nil
}
