package utils

import (
	"fmt"
	"regexp"
)

var (
	emailRegex      = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)
	identifierRegex = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._@\-]{0,127}$`)
)

// ValidateEmail validates an email address
func ValidateEmail(email string) error {
	if !emailRegex.MatchString(email) {
		return fmt.Errorf("invalid email format: %s", email)
	}
	return nil
}

// ValidateIdentifier validates a user or developer id: 1 to 128 characters of
// letters, digits and ._@- starting with a letter or digit
func ValidateIdentifier(id string) error {
	if !identifierRegex.MatchString(id) {
		return fmt.Errorf("invalid identifier: %q", id)
	}
	return nil
}
