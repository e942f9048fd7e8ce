// Package services implements the blog's operations on top of gorm: post
// listing and editing, account registration and login, and profile saves.
package services

import (
	"errors"
	"sort"
	"strings"

	"github.com/diewo77/go-blog/validation"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrPageNotFound       = errors.New("invalid page")
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrUsernameTaken      = errors.New("a user with that username already exists")
)

// ValidationError carries field-level messages for a rejected form.
type ValidationError struct {
	Violations validation.Violations
}

func (e *ValidationError) Error() string {
	fields := make([]string, 0, len(e.Violations))
	for f := range e.Violations {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	return "invalid input: " + strings.Join(fields, ", ")
}

func invalid(v validation.Violations) error {
	if v.Empty() {
		return nil
	}
	return &ValidationError{Violations: v}
}

// Violations extracts field messages from err, if it is a ValidationError.
func Violations(err error) (validation.Violations, bool) {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve.Violations, true
	}
	return nil, false
}
