// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

package web

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/hilsha/gatehouse/internal/auth"
)

// Accounts is the account service behind the HTTP surface.
type Accounts interface {
	SessionResolver
	Signup(ctx context.Context, in auth.SignupInput) (*auth.UserView, error)
	Login(ctx context.Context, in auth.LoginInput) (*auth.LoginResult, error)
	Logout(ctx context.Context, token string) error
	RequestPasswordReset(ctx context.Context, email, redirectTo string) error
	ResetPassword(ctx context.Context, token, newPassword string) error
	ChangePassword(ctx context.Context, in auth.ChangePasswordInput) error
	SendVerificationEmail(ctx context.Context, email, callbackURL string) error
	VerifyEmail(ctx context.Context, in auth.VerifyEmailInput) (*auth.VerifyEmailResult, error)
	GetProfile(ctx context.Context, identityID ulid.ULID) (*auth.ProfileView, error)
	UpdateProfile(ctx context.Context, identityID ulid.ULID, patch auth.ProfilePatch) (*auth.ProfileView, error)
	SessionTTL() time.Duration
}

// URLPolicy decides whether a redirect target is trusted.
type URLPolicy interface {
	AllowURL(raw string) bool
}

// verifyErrorParam is appended to the callback when a verification link
// fails.
const verifyErrorParam = "INVALID_TOKEN"

type handler struct {
	accounts   Accounts
	validator  *validator
	cookies    cookieJar
	urls       URLPolicy
	trustProxy bool
	logger     *slog.Logger
}

type sessionData struct {
	User    auth.UserView `json:"user"`
	Session *auth.Session `json:"session,omitempty"`
	Token   string        `json:"token,omitempty"`
}

// persist detaches ctx from client cancellation so a disconnect cannot
// abandon a half-finished write.
func persist(r *http.Request) context.Context {
	return context.WithoutCancel(r.Context())
}

func (h *handler) signup(w http.ResponseWriter, r *http.Request) {
	var req SignupRequest
	if err := h.validator.decode(w, r, "signup", &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	user, err := h.accounts.Signup(persist(r), auth.SignupInput{Email: req.Email, Password: req.Password, Name: req.Name})
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeSuccess(w, http.StatusCreated, auth.MsgSignupSuccess, map[string]any{"user": user})
}

func (h *handler) login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := h.validator.decode(w, r, "login", &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	res, err := h.accounts.Login(persist(r), auth.LoginInput{
		Email:      req.Email,
		Password:   req.Password,
		RememberMe: req.RememberMe,
		UserAgent:  r.UserAgent(),
		IPAddress:  ClientIP(r, h.trustProxy),
	})
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	h.cookies.setSession(w, res.Token, req.RememberMe, h.accounts.SessionTTL())
	writeSuccess(w, http.StatusOK, auth.MsgLoginSuccess, sessionData{User: res.User, Session: res.Session, Token: res.Token})
}

func (h *handler) logout(w http.ResponseWriter, r *http.Request) {
	st, _ := authStateFrom(r.Context())
	if st != nil && st.token != "" {
		if err := h.accounts.Logout(persist(r), st.token); err != nil {
			writeError(w, r, h.logger, err)
			return
		}
	}
	h.cookies.clear(w)
	writeSuccess(w, http.StatusOK, auth.MsgLogoutSuccess, nil)
}

func (h *handler) forgotPassword(w http.ResponseWriter, r *http.Request) {
	var req ForgotPasswordRequest
	if err := h.validator.decode(w, r, "forgot-password", &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if err := h.accounts.RequestPasswordReset(persist(r), req.Email, req.RedirectTo); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeSuccess(w, http.StatusOK, auth.MsgResetRequested, nil)
}

func (h *handler) resetPassword(w http.ResponseWriter, r *http.Request) {
	var req ResetPasswordRequest
	if err := h.validator.decode(w, r, "reset-password", &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if err := h.accounts.ResetPassword(persist(r), req.Token, req.NewPassword); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeSuccess(w, http.StatusOK, auth.MsgPasswordReset, nil)
}

func (h *handler) changePassword(w http.ResponseWriter, r *http.Request) {
	var req ChangePasswordRequest
	if err := h.validator.decode(w, r, "change-password", &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	session, _ := SessionFromContext(r.Context())
	err := h.accounts.ChangePassword(persist(r), auth.ChangePasswordInput{
		Session:             session,
		CurrentPassword:     req.CurrentPassword,
		NewPassword:         req.NewPassword,
		RevokeOtherSessions: req.RevokeOtherSessions,
	})
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeSuccess(w, http.StatusOK, auth.MsgPasswordChanged, nil)
}

func (h *handler) sendVerificationEmail(w http.ResponseWriter, r *http.Request) {
	var req SendVerificationRequest
	if err := h.validator.decode(w, r, "send-verification-email", &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if err := h.accounts.SendVerificationEmail(persist(r), req.Email, req.CallbackURL); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeSuccess(w, http.StatusOK, auth.MsgVerificationSent, nil)
}

// verifyEmail consumes the link from a verification email. With a trusted
// callbackURL the browser is redirected there, with ?error=INVALID_TOKEN on
// failure; without one the result is JSON.
func (h *handler) verifyEmail(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	callback := q.Get("callbackURL")
	if callback != "" && !h.urls.AllowURL(callback) {
		writeError(w, r, h.logger, auth.ValidationError("callbackURL", "Callback URL is not a trusted origin"))
		return
	}

	res, err := h.accounts.VerifyEmail(persist(r), auth.VerifyEmailInput{
		Token:     q.Get("token"),
		UserAgent: r.UserAgent(),
		IPAddress: ClientIP(r, h.trustProxy),
	})
	if err != nil {
		if callback != "" && auth.IsCode(err, auth.CodeVerifyLinkInvalid) {
			http.Redirect(w, r, withParam(callback, "error", verifyErrorParam), http.StatusFound)
			return
		}
		writeError(w, r, h.logger, err)
		return
	}

	if res.Token != "" {
		h.cookies.setSession(w, res.Token, false, h.accounts.SessionTTL())
	}
	if callback != "" {
		http.Redirect(w, r, callback, http.StatusFound)
		return
	}
	writeSuccess(w, http.StatusOK, auth.MsgEmailVerified, sessionData{User: res.User, Session: res.Session, Token: res.Token})
}

// session reports the current session, with null data when there is none.
func (h *handler) session(w http.ResponseWriter, r *http.Request) {
	user, ok := IdentityFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusOK, nullableEnvelope{Success: true})
		return
	}
	session, _ := SessionFromContext(r.Context())
	writeJSON(w, http.StatusOK, nullableEnvelope{Success: true, Data: sessionData{User: *user, Session: session}})
}

func (h *handler) getProfile(w http.ResponseWriter, r *http.Request) {
	session, _ := SessionFromContext(r.Context())
	view, err := h.accounts.GetProfile(r.Context(), session.IdentityID)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeSuccess(w, http.StatusOK, "", view)
}

func (h *handler) updateProfile(w http.ResponseWriter, r *http.Request) {
	var req UpdateProfileRequest
	if err := h.validator.decode(w, r, "update-profile", &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	session, _ := SessionFromContext(r.Context())
	view, err := h.accounts.UpdateProfile(persist(r), session.IdentityID, req.patch())
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeSuccess(w, http.StatusOK, auth.MsgProfileUpdated, view)
}

func withParam(base, key, value string) string {
	u, err := url.Parse(base)
	if err != nil {
		return base
	}
	q := u.Query()
	q.Set(key, value)
	u.RawQuery = q.Encode()
	return u.String()
}
