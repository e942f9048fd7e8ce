// Package validation collects field-level form errors.
package validation

import (
	"net/mail"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Violations maps a form field to the message shown next to it.
type Violations map[string]string

func (v Violations) Empty() bool { return len(v) == 0 }

// Add records msg for field unless the field already has an error.
func (v Violations) Add(field, msg string) {
	if _, exists := v[field]; !exists {
		v[field] = msg
	}
}

// Basic validators
func Required(field, value string, v Violations) {
	if strings.TrimSpace(value) == "" {
		v.Add(field, "This field is required.")
	}
}

// MaxLength counts characters, not bytes.
func MaxLength(field, value string, limit int, v Violations) {
	if utf8.RuneCountInString(value) > limit {
		v.Add(field, "Ensure this value has at most "+strconv.Itoa(limit)+" characters.")
	}
}

func Email(field, value string, v Violations) {
	if value == "" {
		return
	}
	addr, err := mail.ParseAddress(value)
	if err != nil || addr.Address != value || !strings.Contains(addr.Address, ".") {
		v.Add(field, "Enter a valid email address.")
	}
}

// Username accepts letters, digits and @ . + - _ only.
func Username(field, value string, v Violations) {
	for _, r := range value {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || strings.ContainsRune("@.+-_", r) {
			continue
		}
		v.Add(field, "Enter a valid username. This value may contain only letters, numbers, and @/./+/-/_ characters.")
		return
	}
}

// Password checks a new password and its confirmation.
func Password(field, confirmField, password, confirm string, v Violations) {
	if password != confirm {
		v.Add(confirmField, "The two password fields didn't match.")
		return
	}
	if utf8.RuneCountInString(password) < 8 {
		v.Add(field, "This password is too short. It must contain at least 8 characters.")
		return
	}
	numeric := true
	for _, r := range password {
		if !unicode.IsDigit(r) {
			numeric = false
			break
		}
	}
	if numeric {
		v.Add(field, "This password is entirely numeric.")
	}
}
