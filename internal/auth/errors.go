// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

package auth

import (
	"errors"

	"github.com/samber/oops"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("not found")

// Error codes surfaced by the auth package. The HTTP layer maps these codes
// to status codes and client messages.
const (
	CodeValidation               = "VALIDATION_FAILED"
	CodeEmailTaken               = "IDENTITY_EMAIL_TAKEN"
	CodeInvalidCredentials       = "AUTH_INVALID_CREDENTIALS"
	CodeEmailNotVerified         = "AUTH_EMAIL_NOT_VERIFIED"
	CodeUnauthorized             = "AUTH_UNAUTHORIZED"
	CodeForbidden                = "AUTH_FORBIDDEN"
	CodeCurrentPasswordIncorrect = "AUTH_CURRENT_PASSWORD_INCORRECT"
	CodeResetLinkInvalid         = "AUTH_RESET_LINK_INVALID"
	CodeVerifyLinkInvalid        = "AUTH_VERIFY_LINK_INVALID"
	CodeNotFound                 = "NOT_FOUND"

	CodeTokenInvalid     = "TOKEN_INVALID"
	CodeTokenExpired     = "TOKEN_EXPIRED"
	CodeTokenAlreadyUsed = "TOKEN_ALREADY_USED"
)

// Client-facing messages. Login failures share one message regardless of
// whether the email exists.
const (
	MsgInvalidCredentials       = "Invalid email or password"
	MsgEmailNotVerified         = "Please verify your email address before signing in"
	MsgUnauthorized             = "Unauthorized - Please sign in to continue"
	MsgForbiddenUnverified      = "Please verify your email address to access this resource"
	MsgEmailTaken               = "An account with this email already exists"
	MsgCurrentPasswordIncorrect = "Current password is incorrect"
	MsgResetLinkInvalid         = "Password reset link has expired or is invalid. Please request a new one."
	MsgVerifyLinkInvalid        = "Verification link has expired or is invalid. Please request a new one."
	MsgProfileNotFound          = "Profile not found"
)

// Success messages returned alongside use-case results.
const (
	MsgSignupSuccess    = "Account created successfully. Please check your email to verify your account."
	MsgLoginSuccess     = "Login successful"
	MsgLogoutSuccess    = "Logged out successfully"
	MsgResetRequested   = "If an account with that email exists, we sent a password reset link."
	MsgPasswordReset    = "Password reset successfully. You can now sign in."
	MsgPasswordChanged  = "Password changed successfully."
	MsgVerificationSent = "Verification email sent. Please check your inbox."
	MsgEmailVerified    = "Email verified successfully"
	MsgProfileUpdated   = "Profile updated successfully"
)

// ClientError creates an error whose message is safe to show to the client.
// The message travels in the oops context under "message".
func ClientError(code, message string) error {
	return oops.Code(code).With("message", message).Errorf("%s", message)
}

// ValidationError creates a validation failure carrying a client-safe message.
func ValidationError(field, message string) error {
	return oops.Code(CodeValidation).
		With("field", field).
		With("message", message).
		Errorf("%s", message)
}

// ErrInvalidCredentials is the single failure returned for unknown emails and
// wrong passwords alike.
func ErrInvalidCredentials() error {
	return ClientError(CodeInvalidCredentials, MsgInvalidCredentials)
}

// ErrUnauthorized is returned when a request carries no live session.
func ErrUnauthorized() error {
	return ClientError(CodeUnauthorized, MsgUnauthorized)
}

// ErrEmailUnverified is returned by guards that require a verified email.
func ErrEmailUnverified() error {
	return ClientError(CodeForbidden, MsgForbiddenUnverified)
}

// IsCode reports whether err carries the given oops code.
func IsCode(err error, code string) bool {
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return false
	}
	return oopsErr.Code() == code
}

// ClientMessage extracts the client-safe message attached by ClientError or
// ValidationError. ok is false when err carries none.
func ClientMessage(err error) (msg string, ok bool) {
	oopsErr, isOops := oops.AsOops(err)
	if !isOops {
		return "", false
	}
	msg, ok = oopsErr.Context()["message"].(string)
	return msg, ok && msg != ""
}
