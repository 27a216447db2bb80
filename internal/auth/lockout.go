// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

package auth

import (
	"time"
)

// DefaultLockoutDuration is how long sign-in stays blocked once an enabled
// lockout policy trips.
const DefaultLockoutDuration = 15 * time.Minute

// LockoutPolicy decides when repeated sign-in failures lock an identity.
// A zero Threshold disables lockout; per-IP rate limiting still applies.
type LockoutPolicy struct {
	Threshold int
	Duration  time.Duration
}

// DefaultLockoutPolicy returns the default policy: lockout disabled, with the
// standard duration ready for when a threshold is configured.
func DefaultLockoutPolicy() LockoutPolicy {
	return LockoutPolicy{Duration: DefaultLockoutDuration}
}

// Enabled reports whether the policy locks accounts at all.
func (p LockoutPolicy) Enabled() bool {
	return p.Threshold > 0 && p.Duration > 0
}

// LockUntil returns the lockout expiry for a failure recorded at now.
func (p LockoutPolicy) LockUntil(now time.Time) time.Time {
	return now.Add(p.Duration)
}

// IsLockedOut returns true if lockedUntil is after now.
func IsLockedOut(lockedUntil *time.Time, now time.Time) bool {
	return lockedUntil != nil && lockedUntil.After(now)
}
