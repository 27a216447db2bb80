// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

package web_test

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hilsha/gatehouse/internal/auth"
	"github.com/hilsha/gatehouse/internal/auth/authtest"
	"github.com/hilsha/gatehouse/internal/origin"
	"github.com/hilsha/gatehouse/internal/ratelimit"
	"github.com/hilsha/gatehouse/internal/web"
)

const (
	testFrontend = "http://localhost:3000"
	testPassword = "Str0ng!Pass"
	sessionName  = "gatehouse.session_token"
)

type testEnv struct {
	harness *authtest.Harness
	handler http.Handler
}

type envOption func(*auth.Config, map[string]ratelimit.Class)

func withAuthLimit(n int) envOption {
	return func(_ *auth.Config, classes map[string]ratelimit.Class) {
		c := classes[ratelimit.ClassAuth]
		c.Limit = n
		classes[ratelimit.ClassAuth] = c
	}
}

func withoutVerification() envOption {
	return func(cfg *auth.Config, _ map[string]ratelimit.Class) {
		cfg.RequireEmailVerification = false
	}
}

func newTestEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()

	cfg := authtest.TestConfig()
	classes := ratelimit.DefaultClasses()
	for _, opt := range opts {
		opt(&cfg, classes)
	}

	h, err := authtest.NewHarness(cfg)
	require.NoError(t, err)

	store := ratelimit.NewMemoryStore(ratelimit.MemoryConfig{Clock: h.Clock.Now})
	t.Cleanup(func() { _ = store.Close() })
	limiter, err := ratelimit.New(store, classes)
	require.NoError(t, err)

	policy, err := origin.NewPolicy(testFrontend)
	require.NoError(t, err)

	handler, err := web.NewRouter(web.Config{Clock: h.Clock.Now}, web.Deps{
		Accounts: h.Service,
		Limiter:  limiter,
		Origins:  policy,
	})
	require.NoError(t, err)
	return &testEnv{harness: h, handler: handler}
}

type reqOption func(*http.Request)

func withCookie(c *http.Cookie) reqOption {
	return func(r *http.Request) { r.AddCookie(c) }
}

func withBearer(token string) reqOption {
	return func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+token) }
}

func withHeader(key, value string) reqOption {
	return func(r *http.Request) { r.Header.Set(key, value) }
}

func (e *testEnv) do(t *testing.T, method, path string, body any, opts ...reqOption) *httptest.ResponseRecorder {
	t.Helper()
	var rdr io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		rdr = strings.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		rdr = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, rdr)
	if rdr != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for _, opt := range opts {
		opt(req)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

type response struct {
	Success bool            `json:"success"`
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) response {
	t.Helper()
	var resp response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp), rec.Body.String())
	return resp
}

func sessionCookie(rec *httptest.ResponseRecorder) *http.Cookie {
	for _, c := range rec.Result().Cookies() {
		if c.Name == sessionName {
			return c
		}
	}
	return nil
}

func (e *testEnv) signup(t *testing.T, email string) {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/auth/signup", map[string]any{
		"email": email, "password": testPassword, "name": "Ada Lovelace",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}

func (e *testEnv) verify(t *testing.T) {
	t.Helper()
	token := e.harness.Outbox.LastToken(auth.NotifyVerifyEmail)
	require.NotEmpty(t, token)
	rec := e.do(t, http.MethodGet, "/auth/verify-email?token="+url.QueryEscape(token), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func (e *testEnv) login(t *testing.T, email string, rememberMe bool) *http.Cookie {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/auth/login", map[string]any{
		"email": email, "password": testPassword, "rememberMe": rememberMe,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	c := sessionCookie(rec)
	require.NotNil(t, c)
	return c
}

func TestSignupVerifyLoginFlow(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/auth/signup", map[string]any{
		"email": "  Ada@Example.com ", "password": testPassword, "name": "Ada Lovelace",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	resp := decode(t, rec)
	assert.True(t, resp.Success)
	assert.Equal(t, auth.MsgSignupSuccess, resp.Message)

	var created struct {
		User auth.UserView `json:"user"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &created))
	assert.Equal(t, "ada@example.com", created.User.Email)
	assert.False(t, created.User.EmailVerified)

	rec = env.do(t, http.MethodPost, "/auth/login", map[string]any{"email": "ada@example.com", "password": testPassword})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, auth.MsgEmailNotVerified, decode(t, rec).Message)

	env.verify(t)

	rec = env.do(t, http.MethodPost, "/auth/login", map[string]any{"email": "ada@example.com", "password": testPassword})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp = decode(t, rec)
	assert.Equal(t, auth.MsgLoginSuccess, resp.Message)

	var login struct {
		User    auth.UserView `json:"user"`
		Session struct {
			ID string `json:"id"`
		} `json:"session"`
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &login))
	assert.True(t, login.User.EmailVerified)
	assert.NotEmpty(t, login.Session.ID)

	cookie := sessionCookie(rec)
	require.NotNil(t, cookie)
	assert.Equal(t, login.Token, cookie.Value)
	assert.True(t, cookie.HttpOnly)
	assert.Equal(t, http.SameSiteLaxMode, cookie.SameSite)
	assert.Zero(t, cookie.MaxAge, "session cookie without rememberMe")
}

func TestLoginRememberMeSetsPersistentCookie(t *testing.T) {
	env := newTestEnv(t, withoutVerification())
	env.signup(t, "ada@example.com")

	cookie := env.login(t, "ada@example.com", true)

	assert.Equal(t, int(env.harness.Service.SessionTTL()/time.Second), cookie.MaxAge)
}

func TestLoginInvalidCredentials(t *testing.T) {
	env := newTestEnv(t, withoutVerification())
	env.signup(t, "ada@example.com")

	for _, body := range []map[string]any{
		{"email": "ada@example.com", "password": "Wr0ng!Pass"},
		{"email": "nobody@example.com", "password": testPassword},
	} {
		rec := env.do(t, http.MethodPost, "/auth/login", body)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		resp := decode(t, rec)
		assert.Equal(t, "fail", resp.Status)
		assert.Equal(t, auth.MsgInvalidCredentials, resp.Message)
	}
}

func TestSignupDuplicateEmail(t *testing.T) {
	env := newTestEnv(t)
	env.signup(t, "ada@example.com")

	rec := env.do(t, http.MethodPost, "/auth/signup", map[string]any{
		"email": "ADA@example.com", "password": testPassword, "name": "Other",
	})

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, auth.MsgEmailTaken, decode(t, rec).Message)
}

func TestSignupValidation(t *testing.T) {
	tests := []struct {
		name string
		body any
		want string
	}{
		{"missing email", map[string]any{"password": testPassword, "name": "Ada"}, "email is required"},
		{"wrong type", map[string]any{"email": 42, "password": testPassword, "name": "Ada"}, "email must be of type string"},
		{"malformed json", `{"email":`, "Request body must be valid JSON"},
		{"empty body", "", "Request body is required"},
		{"weak password", map[string]any{"email": "ada@example.com", "password": "short", "name": "Ada"}, "Password must be at least 8 characters long"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			rec := env.do(t, http.MethodPost, "/auth/signup", tt.body)

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			resp := decode(t, rec)
			assert.False(t, resp.Success)
			assert.Equal(t, tt.want, resp.Message)
		})
	}
}

func TestSessionEndpoint(t *testing.T) {
	env := newTestEnv(t, withoutVerification())
	env.signup(t, "ada@example.com")
	cookie := env.login(t, "ada@example.com", false)

	t.Run("unauthenticated returns null data", func(t *testing.T) {
		rec := env.do(t, http.MethodGet, "/auth/session", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"success":true,"data":null}`, rec.Body.String())
	})

	t.Run("cookie", func(t *testing.T) {
		rec := env.do(t, http.MethodGet, "/auth/session", nil, withCookie(cookie))
		require.Equal(t, http.StatusOK, rec.Code)
		var data struct {
			User auth.UserView `json:"user"`
		}
		require.NoError(t, json.Unmarshal(decode(t, rec).Data, &data))
		assert.Equal(t, "ada@example.com", data.User.Email)
	})

	t.Run("bearer", func(t *testing.T) {
		rec := env.do(t, http.MethodGet, "/auth/session", nil, withBearer(cookie.Value))
		require.Equal(t, http.StatusOK, rec.Code)
		assert.NotEqual(t, "null", string(decode(t, rec).Data))
	})

	t.Run("unknown token", func(t *testing.T) {
		rec := env.do(t, http.MethodGet, "/auth/session", nil, withBearer("not-a-token"))
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "null", string(decode(t, rec).Data))
	})
}

func TestLogout(t *testing.T) {
	env := newTestEnv(t, withoutVerification())
	env.signup(t, "ada@example.com")
	cookie := env.login(t, "ada@example.com", true)

	rec := env.do(t, http.MethodPost, "/auth/logout", nil, withCookie(cookie))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, auth.MsgLogoutSuccess, decode(t, rec).Message)

	cleared := sessionCookie(rec)
	require.NotNil(t, cleared)
	assert.Empty(t, cleared.Value)
	assert.Negative(t, cleared.MaxAge)

	rec = env.do(t, http.MethodGet, "/auth/session", nil, withCookie(cookie))
	assert.Equal(t, "null", string(decode(t, rec).Data))
}

func TestLogoutWithoutSession(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/auth/logout", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotNil(t, sessionCookie(rec))
}

func TestVerifyEmailCallback(t *testing.T) {
	env := newTestEnv(t)
	env.signup(t, "ada@example.com")
	token := env.harness.Outbox.LastToken(auth.NotifyVerifyEmail)
	callback := testFrontend + "/verified"

	t.Run("untrusted callback", func(t *testing.T) {
		rec := env.do(t, http.MethodGet, "/auth/verify-email?token="+url.QueryEscape(token)+"&callbackURL="+url.QueryEscape("https://evil.example/x"), nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("invalid token redirects with error", func(t *testing.T) {
		rec := env.do(t, http.MethodGet, "/auth/verify-email?token=bogus&callbackURL="+url.QueryEscape(callback), nil)
		require.Equal(t, http.StatusFound, rec.Code)
		assert.Equal(t, callback+"?error=INVALID_TOKEN", rec.Header().Get("Location"))
	})

	t.Run("invalid token without callback", func(t *testing.T) {
		rec := env.do(t, http.MethodGet, "/auth/verify-email?token=bogus", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, auth.MsgVerifyLinkInvalid, decode(t, rec).Message)
	})

	t.Run("success signs in and redirects", func(t *testing.T) {
		rec := env.do(t, http.MethodGet, "/auth/verify-email?token="+url.QueryEscape(token)+"&callbackURL="+url.QueryEscape(callback), nil)
		require.Equal(t, http.StatusFound, rec.Code)
		assert.Equal(t, callback, rec.Header().Get("Location"))
		cookie := sessionCookie(rec)
		require.NotNil(t, cookie)
		assert.NotEmpty(t, cookie.Value)
	})

	t.Run("token is single use", func(t *testing.T) {
		rec := env.do(t, http.MethodGet, "/auth/verify-email?token="+url.QueryEscape(token), nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestForgotAndResetPassword(t *testing.T) {
	env := newTestEnv(t, withoutVerification())
	env.signup(t, "ada@example.com")
	old := env.login(t, "ada@example.com", false)

	for _, email := range []string{"ada@example.com", "nobody@example.com"} {
		rec := env.do(t, http.MethodPost, "/auth/forgot-password", map[string]any{"email": email})
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, auth.MsgResetRequested, decode(t, rec).Message)
	}

	token := env.harness.Outbox.LastToken(auth.NotifyResetPassword)
	require.NotEmpty(t, token)

	rec := env.do(t, http.MethodPost, "/auth/reset-password", map[string]any{"token": token, "newPassword": "N3w!Passw0rd"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, auth.MsgPasswordReset, decode(t, rec).Message)

	rec = env.do(t, http.MethodGet, "/auth/session", nil, withCookie(old))
	assert.Equal(t, "null", string(decode(t, rec).Data), "reset revokes existing sessions")

	rec = env.do(t, http.MethodPost, "/auth/reset-password", map[string]any{"token": token, "newPassword": "An0ther!Pass"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, auth.MsgResetLinkInvalid, decode(t, rec).Message)
}

func TestForgotPasswordRejectsUntrustedRedirect(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/auth/forgot-password", map[string]any{
		"email": "ada@example.com", "redirectTo": "https://evil.example/reset",
	})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestChangePassword(t *testing.T) {
	env := newTestEnv(t, withoutVerification())
	env.signup(t, "ada@example.com")
	cookie := env.login(t, "ada@example.com", false)

	rec := env.do(t, http.MethodPost, "/auth/change-password", map[string]any{
		"currentPassword": testPassword, "newPassword": "N3w!Passw0rd",
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, auth.MsgUnauthorized, decode(t, rec).Message)

	rec = env.do(t, http.MethodPost, "/auth/change-password", map[string]any{
		"currentPassword": "Wr0ng!Pass", "newPassword": "N3w!Passw0rd",
	}, withCookie(cookie))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, auth.MsgCurrentPasswordIncorrect, decode(t, rec).Message)

	rec = env.do(t, http.MethodPost, "/auth/change-password", map[string]any{
		"currentPassword": testPassword, "newPassword": "N3w!Passw0rd",
	}, withCookie(cookie))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, auth.MsgPasswordChanged, decode(t, rec).Message)
}

func TestSendVerificationEmail(t *testing.T) {
	env := newTestEnv(t)
	env.signup(t, "ada@example.com")
	before := len(env.harness.Outbox.All())

	rec := env.do(t, http.MethodPost, "/auth/send-verification-email", map[string]any{"email": "ada@example.com"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, auth.MsgVerificationSent, decode(t, rec).Message)
	assert.Len(t, env.harness.Outbox.All(), before+1)

	rec = env.do(t, http.MethodPost, "/auth/send-verification-email", map[string]any{"email": "nobody@example.com"})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestProfile(t *testing.T) {
	t.Run("requires auth", func(t *testing.T) {
		env := newTestEnv(t)
		rec := env.do(t, http.MethodGet, "/auth/profile", nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("update requires verified email", func(t *testing.T) {
		env := newTestEnv(t, withoutVerification())
		env.signup(t, "ada@example.com")
		cookie := env.login(t, "ada@example.com", false)

		rec := env.do(t, http.MethodGet, "/auth/profile", nil, withCookie(cookie))
		assert.Equal(t, http.StatusOK, rec.Code)

		rec = env.do(t, http.MethodPatch, "/auth/profile", map[string]any{"bio": "hi"}, withCookie(cookie))
		assert.Equal(t, http.StatusForbidden, rec.Code)
		assert.Equal(t, auth.MsgForbiddenUnverified, decode(t, rec).Message)
	})

	t.Run("update", func(t *testing.T) {
		env := newTestEnv(t)
		env.signup(t, "ada@example.com")
		env.verify(t)
		cookie := env.login(t, "ada@example.com", false)

		rec := env.do(t, http.MethodPatch, "/auth/profile", map[string]any{
			"displayName": "Countess", "theme": "dark",
		}, withCookie(cookie))
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		resp := decode(t, rec)
		assert.Equal(t, auth.MsgProfileUpdated, resp.Message)

		var view auth.ProfileView
		require.NoError(t, json.Unmarshal(resp.Data, &view))
		assert.Equal(t, "Countess", view.Profile.DisplayName)
		assert.Equal(t, auth.Theme("dark"), view.Profile.Preferences.Theme)

		rec = env.do(t, http.MethodPatch, "/auth/profile", map[string]any{"theme": "neon"}, withCookie(cookie))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestAuthRateLimit(t *testing.T) {
	env := newTestEnv(t, withAuthLimit(2))
	body := map[string]any{"email": "nobody@example.com", "password": testPassword}

	for range 2 {
		rec := env.do(t, http.MethodPost, "/auth/login", body)
		require.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, "2", rec.Header().Get("RateLimit-Limit"))
	}

	rec := env.do(t, http.MethodPost, "/auth/login", body)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "900", rec.Header().Get("Retry-After"))
	assert.Equal(t, "0", rec.Header().Get("RateLimit-Remaining"))
	assert.Equal(t, ratelimit.DefaultClasses()[ratelimit.ClassAuth].Message, decode(t, rec).Message)

	// Other clients have their own window.
	rec = env.do(t, http.MethodPost, "/auth/login", body, func(r *http.Request) { r.RemoteAddr = "198.51.100.7:4000" })
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// The session endpoint is only in the general class.
	rec = env.do(t, http.MethodGet, "/auth/session", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	env.harness.Clock.Advance(15 * time.Minute)
	rec = env.do(t, http.MethodPost, "/auth/login", body)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestUnknownRouteAndMethod(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/auth/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Route /auth/nope not found", decode(t, rec).Message)

	rec = env.do(t, http.MethodGet, "/auth/login", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.False(t, decode(t, rec).Success)
}

func TestCORS(t *testing.T) {
	env := newTestEnv(t)

	t.Run("preflight from trusted origin", func(t *testing.T) {
		rec := env.do(t, http.MethodOptions, "/auth/login", nil,
			withHeader("Origin", testFrontend),
			withHeader("Access-Control-Request-Method", http.MethodPost))
		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.Equal(t, testFrontend, rec.Header().Get("Access-Control-Allow-Origin"))
		assert.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))
		assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), http.MethodPatch)
	})

	t.Run("untrusted origin gets no grant", func(t *testing.T) {
		rec := env.do(t, http.MethodGet, "/auth/session", nil, withHeader("Origin", "https://evil.example"))
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
	})
}

func TestResponseHeaders(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/auth/session", nil)
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	assert.NotEmpty(t, rec.Header().Get(web.RequestIDHeader))
	assert.Equal(t, "application/json; charset=utf-8", rec.Header().Get("Content-Type"))

	rec = env.do(t, http.MethodGet, "/auth/session", nil, withHeader(web.RequestIDHeader, "req-123"))
	assert.Equal(t, "req-123", rec.Header().Get(web.RequestIDHeader))
}

func TestNewRouterRequiresDeps(t *testing.T) {
	policy, err := origin.NewPolicy(testFrontend)
	require.NoError(t, err)

	_, err = web.NewRouter(web.Config{}, web.Deps{Origins: policy})
	assert.Error(t, err)

	h, err := authtest.NewHarness(authtest.TestConfig())
	require.NoError(t, err)
	_, err = web.NewRouter(web.Config{}, web.Deps{Accounts: h.Service})
	assert.Error(t, err)
}
