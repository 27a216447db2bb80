// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

package auth

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Password policy bounds.
const (
	MinPasswordLength = 8
	MaxPasswordLength = 128
)

// PasswordSpecialChars lists the characters that satisfy the special
// character requirement.
const PasswordSpecialChars = "@$!%*?&"

const msgPasswordComplexity = "Password must contain at least one uppercase letter, one lowercase letter, one number, and one special character (@$!%*?&)"

// ValidatePassword checks a candidate password against the policy.
// It runs before any storage is touched.
func ValidatePassword(password string) error {
	n := utf8.RuneCountInString(password)
	if n < MinPasswordLength {
		return ValidationError("password", "Password must be at least 8 characters long")
	}
	if n > MaxPasswordLength {
		return ValidationError("password", "Password must not exceed 128 characters")
	}

	var upper, lower, digit, special bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		case strings.ContainsRune(PasswordSpecialChars, r):
			special = true
		}
	}
	if !upper || !lower || !digit || !special {
		return ValidationError("password", msgPasswordComplexity)
	}
	return nil
}
