// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

// Package ratelimit implements fixed-window request counters keyed by a
// limit class and a client identifier.
package ratelimit

import (
	"time"

	"github.com/samber/oops"
)

// Class names.
const (
	ClassGeneral           = "general"
	ClassAuth              = "auth"
	ClassPasswordReset     = "password-reset"
	ClassEmailVerification = "email-verification"
)

// Class is one independent limit: at most Limit hits per Window.
type Class struct {
	Name    string
	Limit   int
	Window  time.Duration
	Message string
}

// Validate checks that the class can be enforced.
func (c Class) Validate() error {
	if c.Name == "" {
		return oops.Code("RATELIMIT_INVALID_CLASS").Errorf("class name is required")
	}
	if c.Limit <= 0 {
		return oops.Code("RATELIMIT_INVALID_CLASS").With("class", c.Name).Errorf("limit must be positive, got %d", c.Limit)
	}
	if c.Window <= 0 {
		return oops.Code("RATELIMIT_INVALID_CLASS").With("class", c.Name).Errorf("window must be positive, got %s", c.Window)
	}
	return nil
}

// DefaultClasses returns the stock limits and their rejection messages.
func DefaultClasses() map[string]Class {
	return map[string]Class{
		ClassGeneral: {
			Name:    ClassGeneral,
			Limit:   100,
			Window:  15 * time.Minute,
			Message: "Too many requests, please try again later.",
		},
		ClassAuth: {
			Name:    ClassAuth,
			Limit:   10,
			Window:  15 * time.Minute,
			Message: "Too many authentication attempts, please try again after 15 minutes.",
		},
		ClassPasswordReset: {
			Name:    ClassPasswordReset,
			Limit:   3,
			Window:  time.Hour,
			Message: "Too many password reset attempts, please try again after 1 hour.",
		},
		ClassEmailVerification: {
			Name:    ClassEmailVerification,
			Limit:   5,
			Window:  time.Hour,
			Message: "Too many verification email requests, please try again after 1 hour.",
		},
	}
}
