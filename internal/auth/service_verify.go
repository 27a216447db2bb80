// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

package auth

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"time"

	"github.com/samber/oops"
)

// SendVerificationEmail issues a fresh verification link to an unverified
// identity. The result is the same for unknown, verified and unverified
// addresses.
func (s *Service) SendVerificationEmail(ctx context.Context, email, callbackURL string) error {
	start := time.Now()
	defer s.padTo(ctx, start)

	callback, err := s.resolveRedirect("callbackURL", callbackURL, "")
	if err != nil {
		return err
	}
	normalized, err := NormalizeEmail(email)
	if err != nil {
		return err
	}

	identity, err := s.identities.GetByEmail(ctx, normalized)
	switch {
	case errors.Is(err, ErrNotFound):
		s.tokens.Decoy()
		s.event("verification_request", "unknown_email")
		return nil
	case err != nil:
		s.logger.Error("verification lookup failed", "operation", "get identity by email", "error", err.Error())
		s.event("verification_request", "error")
		return nil
	case identity.EmailVerified:
		s.tokens.Decoy()
		s.event("verification_request", "already_verified")
		return nil
	}

	s.sendVerification(ctx, identity, callback)
	s.event("verification_request", "success")
	return nil
}

// sendVerification issues a verify-email token and notifies the identity.
// Failures are logged; the caller's flow continues.
func (s *Service) sendVerification(ctx context.Context, identity *Identity, callbackURL string) {
	plaintext, _, err := s.tokens.Issue(ctx, identity.ID, PurposeVerifyEmail, s.cfg.VerificationTokenTTL)
	if err != nil {
		s.bestEffort("issue_verification_token", identity.ID, err)
		return
	}
	s.notifier.Notify(ctx, Notification{
		Kind: NotifyVerifyEmail,
		To:   identity.Email,
		Name: identity.Name,
		Link: s.VerificationLink(plaintext, callbackURL),
	})
}

// VerificationLink builds the link delivered in verification emails. It
// points at this service, which consumes the token and then redirects to the
// callback.
func (s *Service) VerificationLink(token, callbackURL string) string {
	if callbackURL == "" {
		callbackURL = strings.TrimRight(s.cfg.FrontendURL, "/") + "/verify-email"
	}
	base := strings.TrimRight(s.cfg.PublicURL, "/") + "/auth/verify-email"
	return withQuery(base, url.Values{"token": {token}, "callbackURL": {callbackURL}})
}

// VerifyEmailInput is the verification request. UserAgent and IPAddress are
// used for the session created on auto sign-in.
type VerifyEmailInput struct {
	Token     string
	UserAgent string
	IPAddress string
}

// VerifyEmailResult carries the verified identity and, when auto sign-in is
// enabled, a new session.
type VerifyEmailResult struct {
	User    UserView
	Session *Session
	Token   string
}

// VerifyEmail consumes a verification token and marks the identity verified.
// Every token failure surfaces as the same VerifyLinkInvalid error.
func (s *Service) VerifyEmail(ctx context.Context, in VerifyEmailInput) (*VerifyEmailResult, error) {
	identityID, err := s.tokens.ValidateAndConsume(ctx, in.Token, PurposeVerifyEmail)
	if err != nil {
		if isTokenFailure(err) {
			s.event("email_verification", "invalid_token")
			return nil, ClientError(CodeVerifyLinkInvalid, MsgVerifyLinkInvalid)
		}
		return nil, oops.Code("AUTH_VERIFY_FAILED").With("operation", "consume token").Wrap(err)
	}

	identity, err := s.identities.GetByID(ctx, identityID)
	if errors.Is(err, ErrNotFound) {
		return nil, ClientError(CodeVerifyLinkInvalid, MsgVerifyLinkInvalid)
	}
	if err != nil {
		return nil, oops.Code("AUTH_VERIFY_FAILED").With("operation", "get identity").Wrap(err)
	}

	firstVerification := !identity.EmailVerified
	if firstVerification {
		if err := s.identities.MarkEmailVerified(ctx, identity.ID, s.now()); err != nil {
			return nil, oops.Code("AUTH_VERIFY_FAILED").
				With("operation", "mark email verified").
				With("identity_id", identity.ID.String()).
				Wrap(err)
		}
		identity.EmailVerified = true
	}

	result := &VerifyEmailResult{User: identity.View()}
	if s.cfg.AutoSignInAfterVerification {
		token, session, err := s.sessions.Create(ctx, identity.ID, false, in.UserAgent, in.IPAddress)
		if err != nil {
			return nil, oops.Code("AUTH_VERIFY_FAILED").With("operation", "create session").Wrap(err)
		}
		result.Session = session
		result.Token = token
	}

	if firstVerification {
		s.notifier.Notify(ctx, Notification{Kind: NotifyWelcome, To: identity.Email, Name: identity.Name})
	}
	s.event("email_verification", "success")
	return result, nil
}
