// Package auth implements credential handling and the dual-token session
// layer: short-lived access tokens and single-use refresh tokens, both
// HS256-signed with independent secrets, with revocation marks kept in the
// key/value cache.
package auth

import (
	"strings"
	"unicode"

	"golang.org/x/crypto/bcrypt"

	"github.com/bobmcallan/depot/internal/apperr"
)

const (
	bcryptCost        = 10
	minPasswordLength = 8
	maxPasswordLength = 128

	// passwordSymbols is the accepted symbol set. Runes outside it (and
	// outside the letter/digit classes) count toward no requirement.
	passwordSymbols = "!@#$%^&*()_+-=[]{};':\"|,.<>/?~"
)

// HashPassword hashes a password using bcrypt. bcrypt only reads the first
// 72 bytes, so longer inputs are truncated before hashing to keep
// verification consistent.
func HashPassword(password string) (string, error) {
	b := []byte(password)
	if len(b) > 72 {
		b = b[:72]
	}
	hash, err := bcrypt.GenerateFromPassword(b, bcryptCost)
	if err != nil {
		return "", apperr.Wrap(apperr.KindInternal, "failed to hash password", err)
	}
	return string(hash), nil
}

// CheckPassword verifies a password against its stored hash.
func CheckPassword(hash, password string) bool {
	b := []byte(password)
	if len(b) > 72 {
		b = b[:72]
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), b) == nil
}

// ValidatePassword enforces the password policy: 8 to 128 characters with
// at least one uppercase letter, one lowercase letter, one digit, and one
// symbol. All violations are reported together.
func ValidatePassword(password string) []apperr.FieldError {
	var errs []apperr.FieldError

	if len(password) < minPasswordLength {
		errs = append(errs, apperr.FieldError{Field: "password", Message: "must be at least 8 characters"})
	}
	if len(password) > maxPasswordLength {
		errs = append(errs, apperr.FieldError{Field: "password", Message: "must be at most 128 characters"})
	}

	var upper, lower, digit, symbol bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		case strings.ContainsRune(passwordSymbols, r):
			symbol = true
		}
	}
	if !upper {
		errs = append(errs, apperr.FieldError{Field: "password", Message: "must contain an uppercase letter"})
	}
	if !lower {
		errs = append(errs, apperr.FieldError{Field: "password", Message: "must contain a lowercase letter"})
	}
	if !digit {
		errs = append(errs, apperr.FieldError{Field: "password", Message: "must contain a digit"})
	}
	if !symbol {
		errs = append(errs, apperr.FieldError{Field: "password", Message: "must contain a symbol"})
	}
	return errs
}
