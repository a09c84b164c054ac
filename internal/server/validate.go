package server

import (
	"regexp"
	"strings"

	"github.com/bobmcallan/depot/internal/apperr"
)

var emailPattern = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

// fieldCheck accumulates validation failures so every violation in a
// request is reported in one response.
type fieldCheck struct {
	errs []apperr.FieldError
}

func (c *fieldCheck) require(field, value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		c.errs = append(c.errs, apperr.FieldError{Field: field, Message: "is required"})
	}
	return value
}

func (c *fieldCheck) optional(field, value string, maxLen int) string {
	value = strings.TrimSpace(value)
	if maxLen > 0 && len(value) > maxLen {
		c.errs = append(c.errs, apperr.FieldError{Field: field, Message: "is too long"})
	}
	return value
}

func (c *fieldCheck) email(field, value string, required bool) string {
	value = strings.TrimSpace(strings.ToLower(value))
	if value == "" {
		if required {
			c.errs = append(c.errs, apperr.FieldError{Field: field, Message: "is required"})
		}
		return value
	}
	if !emailPattern.MatchString(value) {
		c.errs = append(c.errs, apperr.FieldError{Field: field, Message: "must be a valid email address"})
	}
	return value
}

func (c *fieldCheck) oneOf(field, value string, allowed ...string) string {
	value = strings.TrimSpace(value)
	for _, a := range allowed {
		if value == a {
			return value
		}
	}
	c.errs = append(c.errs, apperr.FieldError{Field: field, Message: "must be one of: " + strings.Join(allowed, ", ")})
	return value
}

func (c *fieldCheck) min(field string, value, floor int) int {
	if value < floor {
		c.errs = append(c.errs, apperr.FieldError{Field: field, Message: "is too small"})
	}
	return value
}

func (c *fieldCheck) add(errs ...apperr.FieldError) {
	c.errs = append(c.errs, errs...)
}

// err returns the accumulated validation error, or nil when clean.
func (c *fieldCheck) err() error {
	if len(c.errs) == 0 {
		return nil
	}
	return apperr.Validation(c.errs...)
}
