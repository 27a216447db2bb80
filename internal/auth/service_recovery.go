// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

package auth

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// RequestPasswordReset sends a reset link when email names an identity. The
// outcome is indistinguishable to the caller: the same nil result after at
// least the enumeration floor, whether or not the account exists.
func (s *Service) RequestPasswordReset(ctx context.Context, email, redirectTo string) error {
	start := time.Now()
	defer s.padTo(ctx, start)

	target, err := s.resolveRedirect("redirectTo", redirectTo, strings.TrimRight(s.cfg.FrontendURL, "/")+"/reset-password")
	if err != nil {
		return err
	}
	normalized, err := NormalizeEmail(email)
	if err != nil {
		return err
	}

	identity, err := s.identities.GetByEmail(ctx, normalized)
	if errors.Is(err, ErrNotFound) {
		s.tokens.Decoy()
		s.event("password_reset_request", "unknown_email")
		return nil
	}
	if err != nil {
		// Storage failures are logged, not surfaced, so the response stays uniform.
		s.logger.Error("password reset lookup failed", "operation", "get identity by email", "error", err.Error())
		s.event("password_reset_request", "error")
		return nil
	}

	plaintext, _, err := s.tokens.Issue(ctx, identity.ID, PurposeResetPassword, s.cfg.ResetTokenTTL)
	if err != nil {
		s.bestEffort("issue_reset_token", identity.ID, err)
		s.event("password_reset_request", "error")
		return nil
	}

	s.notifier.Notify(ctx, Notification{
		Kind: NotifyResetPassword,
		To:   identity.Email,
		Name: identity.Name,
		Link: withQuery(target, url.Values{"token": {plaintext}}),
	})
	s.event("password_reset_request", "success")
	return nil
}

// ResetPassword sets a new password using a reset token. The password policy
// is checked before the token is spent. Every token failure surfaces as the
// same ResetLinkInvalid error.
func (s *Service) ResetPassword(ctx context.Context, token, newPassword string) error {
	if err := ValidatePassword(newPassword); err != nil {
		return err
	}

	identityID, err := s.tokens.ValidateAndConsume(ctx, token, PurposeResetPassword)
	if err != nil {
		if isTokenFailure(err) {
			s.event("password_reset", "invalid_token")
			return ClientError(CodeResetLinkInvalid, MsgResetLinkInvalid)
		}
		return oops.Code("AUTH_RESET_FAILED").With("operation", "consume token").Wrap(err)
	}

	identity, err := s.identities.GetByID(ctx, identityID)
	if errors.Is(err, ErrNotFound) {
		return ClientError(CodeResetLinkInvalid, MsgResetLinkInvalid)
	}
	if err != nil {
		return oops.Code("AUTH_RESET_FAILED").With("operation", "get identity").Wrap(err)
	}

	if err := s.setPassword(ctx, identity.ID, newPassword); err != nil {
		return oops.Code("AUTH_RESET_FAILED").With("identity_id", identity.ID.String()).Wrap(err)
	}

	if s.cfg.RevokeSessionsOnReset {
		if _, err := s.sessions.RevokeAll(ctx, identity.ID, nil); err != nil {
			s.bestEffort("revoke_sessions", identity.ID, err)
		}
	}

	s.notifier.Notify(ctx, Notification{Kind: NotifyPasswordChanged, To: identity.Email, Name: identity.Name})
	s.event("password_reset", "success")
	return nil
}

// ChangePasswordInput is the authenticated password change request.
// RevokeOtherSessions defaults to true when nil.
type ChangePasswordInput struct {
	Session             *Session
	CurrentPassword     string
	NewPassword         string
	RevokeOtherSessions *bool
}

// ChangePassword replaces the password of the session's identity after
// verifying the current one.
func (s *Service) ChangePassword(ctx context.Context, in ChangePasswordInput) error {
	if in.Session == nil {
		return ErrUnauthorized()
	}

	identity, err := s.identities.GetByID(ctx, in.Session.IdentityID)
	if errors.Is(err, ErrNotFound) {
		return ErrUnauthorized()
	}
	if err != nil {
		return oops.Code("AUTH_CHANGE_PASSWORD_FAILED").With("operation", "get identity").Wrap(err)
	}

	valid, err := s.hasher.Verify(in.CurrentPassword, identity.PasswordHash)
	if err != nil {
		return oops.Code("AUTH_CHANGE_PASSWORD_FAILED").
			With("operation", "verify password").
			With("identity_id", identity.ID.String()).
			Wrap(err)
	}
	if !valid {
		s.event("password_change", "incorrect_password")
		return ClientError(CodeCurrentPasswordIncorrect, MsgCurrentPasswordIncorrect)
	}
	if err := ValidatePassword(in.NewPassword); err != nil {
		return err
	}

	if err := s.setPassword(ctx, identity.ID, in.NewPassword); err != nil {
		return oops.Code("AUTH_CHANGE_PASSWORD_FAILED").With("identity_id", identity.ID.String()).Wrap(err)
	}

	if in.RevokeOtherSessions == nil || *in.RevokeOtherSessions {
		current := in.Session.ID
		if _, err := s.sessions.RevokeAll(ctx, identity.ID, &current); err != nil {
			s.bestEffort("revoke_other_sessions", identity.ID, err)
		}
	}

	s.notifier.Notify(ctx, Notification{Kind: NotifyPasswordChanged, To: identity.Email, Name: identity.Name})
	s.event("password_change", "success")
	return nil
}

func (s *Service) setPassword(ctx context.Context, id ulid.ULID, password string) error {
	hash, err := s.hasher.Hash(password)
	if err != nil {
		return oops.With("operation", "hash password").Wrap(err)
	}
	if err := s.identities.UpdatePasswordHash(ctx, id, hash, s.now()); err != nil {
		return oops.With("operation", "update password hash").Wrap(err)
	}
	return nil
}

func isTokenFailure(err error) bool {
	return IsCode(err, CodeTokenInvalid) || IsCode(err, CodeTokenExpired) || IsCode(err, CodeTokenAlreadyUsed)
}
