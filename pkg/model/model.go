// Package model defines the core domain types for chatrelay.
package model

import (
	"errors"
	"fmt"
	"strings"
)

const (
	MaxNameLength  = 64
	MaxAboutLength = 256
)

var ErrEmailEmpty = errors.New("email must not be empty")
var ErrEmailInvalid = errors.New("email must contain a single @ with text on both sides")
var ErrNameEmpty = errors.New("name must not be empty")
var ErrNameTooLong = fmt.Errorf("name must not exceed %d characters", MaxNameLength)

// ValidateEmail performs a minimal structural check. Deliverability is the
// mail collaborator's problem, not ours.
func ValidateEmail(email string) error {
	if email == "" {
		return ErrEmailEmpty
	}
	at := strings.IndexByte(email, '@')
	if at <= 0 || at == len(email)-1 || strings.Count(email, "@") != 1 {
		return ErrEmailInvalid
	}
	return nil
}

// ValidateName checks that a display name is 1-64 characters.
func ValidateName(name string) error {
	if strings.TrimSpace(name) == "" {
		return ErrNameEmpty
	}
	if len(name) > MaxNameLength {
		return ErrNameTooLong
	}
	return nil
}
