package service

import (
	"unicode"

	appErrors "github.com/Leadrat/Quotation-Management-System-sub012/pkg/errors"
)

const minPasswordLength = 8

// ValidatePassword enforces the password strength policy. The returned error
// names the first rule that failed; it only ever describes the caller's own
// input, so the specificity is not an enumeration vector.
func ValidatePassword(password string) error {
	if len(password) < minPasswordLength {
		return appErrors.Clone(appErrors.ErrWeakPassword, "password must be at least 8 characters long")
	}

	var hasLower, hasUpper, hasDigit, hasSymbol bool
	for _, r := range password {
		switch {
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsDigit(r):
			hasDigit = true
		default:
			hasSymbol = true
		}
	}

	switch {
	case !hasLower:
		return appErrors.Clone(appErrors.ErrWeakPassword, "password must contain a lowercase letter")
	case !hasUpper:
		return appErrors.Clone(appErrors.ErrWeakPassword, "password must contain an uppercase letter")
	case !hasDigit:
		return appErrors.Clone(appErrors.ErrWeakPassword, "password must contain a digit")
	case !hasSymbol:
		return appErrors.Clone(appErrors.ErrWeakPassword, "password must contain a symbol")
	}

	return nil
}
