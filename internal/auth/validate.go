package auth

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

var emailRegex = regexp.MustCompile(`^[a-zA-Z0-9_.+-]+@[a-zA-Z0-9-]+\.[a-zA-Z0-9-.]+$`)

const (
	minPasswordLength = 8
	// bcrypt only accepts 72 bytes of input.
	maxPasswordBytes  = 72
	passwordSpecials  = "!@#$%^&*()-_=+[]{}|;:,.<>?/~"
)

// IsValidEmail is a syntax filter only. It does not check deliverability.
func IsValidEmail(s string) bool {
	return emailRegex.MatchString(s)
}

func IsStrongPassword(s string) bool {
	if utf8.RuneCountInString(s) < minPasswordLength || len(s) > maxPasswordBytes {
		return false
	}

	var hasUpper, hasLower, hasDigit, hasSpecial bool
	for _, r := range s {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasDigit = true
		case strings.ContainsRune(passwordSpecials, r):
			hasSpecial = true
		}
	}

	return hasUpper && hasLower && hasDigit && hasSpecial
}
