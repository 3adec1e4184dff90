package device

import (
	"fmt"
	"regexp"
)

const (
	minPasswordLength = 4
	maxPasswordLength = 128
)

// Identifiers and usernames share one character class so they are safe to
// embed in MQTT topics and URL paths.
var nameRegex = regexp.MustCompile(`^[A-Za-z0-9._:-]{1,64}$`)

// ValidateID checks a device identifier.
func ValidateID(id string) error {
	if !nameRegex.MatchString(id) {
		return fmt.Errorf("%w: id must be 1-64 characters of [A-Za-z0-9._:-]", ErrInvalidDevice)
	}
	return nil
}

// ValidateSignup checks the fields of a device signup.
func ValidateSignup(username, id, password string) error {
	if !nameRegex.MatchString(username) {
		return fmt.Errorf("%w: username must be 1-64 characters of [A-Za-z0-9._:-]", ErrInvalidDevice)
	}
	if err := ValidateID(id); err != nil {
		return err
	}
	if len(password) < minPasswordLength || len(password) > maxPasswordLength {
		return fmt.Errorf("%w: password must be %d-%d bytes", ErrInvalidDevice, minPasswordLength, maxPasswordLength)
	}
	return nil
}
