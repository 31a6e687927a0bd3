package sdk

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
)

// ErrInvalidName is returned for container names and uids that cannot travel
// as a single token of the line protocol.
var ErrInvalidName = errors.New("name must be non-empty without whitespace or control characters")

// ValidateName checks that s is one protocol token.
func ValidateName(s string) error {
	if s == "" {
		return ErrInvalidName
	}
	if i := strings.IndexFunc(s, func(r rune) bool {
		return unicode.IsSpace(r) || unicode.IsControl(r)
	}); i >= 0 {
		return fmt.Errorf("%w: %q", ErrInvalidName, s)
	}
	return nil
}
