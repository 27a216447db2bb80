// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

package auth_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hilsha/gatehouse/internal/auth"
	"github.com/hilsha/gatehouse/internal/auth/authtest"
	"github.com/hilsha/gatehouse/pkg/errutil"
)

const testPassword = "Passw0rd!"

func newHarness(t *testing.T) *authtest.Harness {
	t.Helper()
	h, err := authtest.NewHarness(authtest.TestConfig())
	require.NoError(t, err)
	return h
}

// signupVerified registers and verifies an identity, returning its ID.
func signupVerified(t *testing.T, h *authtest.Harness, email string) ulid.ULID {
	t.Helper()
	ctx := context.Background()
	user, err := h.Service.Signup(ctx, auth.SignupInput{Email: email, Password: testPassword, Name: "Test User"})
	require.NoError(t, err)

	_, err = h.Service.VerifyEmail(ctx, auth.VerifyEmailInput{Token: h.Outbox.LastToken(auth.NotifyVerifyEmail)})
	require.NoError(t, err)

	id, err := ulid.Parse(user.ID)
	require.NoError(t, err)
	return id
}

func TestNewService_RequiresDependencies(t *testing.T) {
	_, err := auth.NewService(auth.DefaultConfig(), auth.ServiceDeps{})
	assert.Error(t, err)
}

func TestService_Signup(t *testing.T) {
	ctx := context.Background()

	t.Run("creates unverified identity, profile and verification email", func(t *testing.T) {
		h := newHarness(t)

		user, err := h.Service.Signup(ctx, auth.SignupInput{Email: " Ada@Example.com ", Password: testPassword, Name: " Ada "})
		require.NoError(t, err)
		assert.Equal(t, "ada@example.com", user.Email)
		assert.Equal(t, "Ada", user.Name)
		assert.Equal(t, auth.RoleUser, user.Role)
		assert.False(t, user.EmailVerified)

		id, err := ulid.Parse(user.ID)
		require.NoError(t, err)
		profile, err := h.Store.Profiles.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, "Ada", profile.DisplayName)

		n, ok := h.Outbox.Last(auth.NotifyVerifyEmail)
		require.True(t, ok)
		assert.Equal(t, "ada@example.com", n.To)
		assert.True(t, strings.HasPrefix(n.Link, "http://localhost:5000/auth/verify-email?"))
		assert.Contains(t, n.Link, "callbackURL=http%3A%2F%2Flocalhost%3A3000%2Fverify-email")
		assert.NotEmpty(t, h.Outbox.LastToken(auth.NotifyVerifyEmail))
		assert.Equal(t, 1, h.Events.Count("signup", "success"))
	})

	t.Run("duplicate email in any case conflicts", func(t *testing.T) {
		h := newHarness(t)
		_, err := h.Service.Signup(ctx, auth.SignupInput{Email: "ada@example.com", Password: testPassword, Name: "Ada"})
		require.NoError(t, err)

		for _, email := range []string{"ada@example.com", "ADA@example.com", " Ada@Example.Com"} {
			_, err := h.Service.Signup(ctx, auth.SignupInput{Email: email, Password: testPassword, Name: "Ada"})
			errutil.AssertErrorCode(t, err, auth.CodeEmailTaken)
			msg, _ := auth.ClientMessage(err)
			assert.Equal(t, auth.MsgEmailTaken, msg)
		}
		assert.Equal(t, 1, h.Store.Identities.Count())
	})

	invalid := []struct {
		name  string
		in    auth.SignupInput
		field string
	}{
		{"bad email", auth.SignupInput{Email: "nope", Password: testPassword, Name: "Ada"}, "email"},
		{"short name", auth.SignupInput{Email: "a@example.com", Password: testPassword, Name: "A"}, "name"},
		{"weak password", auth.SignupInput{Email: "a@example.com", Password: "password", Name: "Ada"}, "password"},
	}
	for _, tt := range invalid {
		t.Run("validation before storage: "+tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.Store.Identities.CreateErr = authtest.ErrInjected

			_, err := h.Service.Signup(ctx, tt.in)
			errutil.AssertErrorCode(t, err, auth.CodeValidation)
			errutil.AssertErrorContext(t, err, "field", tt.field)
			assert.Empty(t, h.Outbox.All())
		})
	}

	t.Run("storage failure is internal", func(t *testing.T) {
		h := newHarness(t)
		h.Store.Identities.CreateErr = authtest.ErrInjected
		_, err := h.Service.Signup(ctx, auth.SignupInput{Email: "a@example.com", Password: testPassword, Name: "Ada"})
		errutil.AssertErrorCode(t, err, "AUTH_SIGNUP_FAILED")
		_, ok := auth.ClientMessage(err)
		assert.False(t, ok)
	})

	t.Run("profile failure does not fail signup", func(t *testing.T) {
		h := newHarness(t)
		h.Store.Profiles.CreateErr = authtest.ErrInjected
		_, err := h.Service.Signup(ctx, auth.SignupInput{Email: "a@example.com", Password: testPassword, Name: "Ada"})
		assert.NoError(t, err)
	})
}

func TestService_LoginFailuresAreIdentical(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	signupVerified(t, h, "ada@example.com")

	_, unknownErr := h.Service.Login(ctx, auth.LoginInput{Email: "nobody@example.com", Password: testPassword})
	_, wrongErr := h.Service.Login(ctx, auth.LoginInput{Email: "ada@example.com", Password: "Wrong0rd!"})

	for _, err := range []error{unknownErr, wrongErr} {
		errutil.AssertErrorCode(t, err, auth.CodeInvalidCredentials)
		msg, ok := auth.ClientMessage(err)
		require.True(t, ok)
		assert.Equal(t, "Invalid email or password", msg)
	}
	assert.Equal(t, unknownErr.Error(), wrongErr.Error())
	assert.Equal(t, 2, h.Events.Count("login", "invalid_credentials"))
}

func TestService_LoginSuccess(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	id := signupVerified(t, h, "ada@example.com")

	res, err := h.Service.Login(ctx, auth.LoginInput{
		Email: "ADA@example.com", Password: testPassword, RememberMe: true, UserAgent: "ua", IPAddress: "10.1.1.1",
	})
	require.NoError(t, err)
	assert.Equal(t, id.String(), res.User.ID)
	assert.True(t, res.Session.RememberMe)
	assert.Equal(t, "10.1.1.1", res.Session.IPAddress)
	assert.NotEmpty(t, res.Token)

	info, err := h.Service.GetSession(ctx, res.Token)
	require.NoError(t, err)
	require.NotNil(t, info)
	assert.Equal(t, res.Session.ID, info.Session.ID)

	profile, err := h.Store.Profiles.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 1, profile.Metadata.LoginCount)
	require.NotNil(t, profile.Metadata.LastLogin)
	assert.Equal(t, h.Clock.Now(), *profile.Metadata.LastLogin)
}

func newLockoutHarness(t *testing.T, threshold int) *authtest.Harness {
	t.Helper()
	cfg := authtest.TestConfig()
	cfg.Lockout = auth.LockoutPolicy{Threshold: threshold, Duration: auth.DefaultLockoutDuration}
	h, err := authtest.NewHarness(cfg)
	require.NoError(t, err)
	return h
}

// loginFailure returns the error code and client message of a failed login.
func loginFailure(t *testing.T, h *authtest.Harness, email, password string) (any, string) {
	t.Helper()
	_, err := h.Service.Login(context.Background(), auth.LoginInput{Email: email, Password: password})
	require.Error(t, err)
	oopsErr, ok := oops.AsOops(err)
	require.True(t, ok)
	msg, _ := auth.ClientMessage(err)
	return oopsErr.Code(), msg
}

func TestService_LoginLockoutDisabledByDefault(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	signupVerified(t, h, "ada@example.com")

	assert.False(t, auth.DefaultConfig().Lockout.Enabled())
	for i := 0; i < 20; i++ {
		_, err := h.Service.Login(ctx, auth.LoginInput{Email: "ada@example.com", Password: "Wrong0rd!"})
		errutil.AssertErrorCode(t, err, auth.CodeInvalidCredentials)
	}

	_, err := h.Service.Login(ctx, auth.LoginInput{Email: "ada@example.com", Password: testPassword})
	require.NoError(t, err)
	assert.Zero(t, h.Store.Identities.FailureWrites.Load())
}

func TestService_LoginLockout(t *testing.T) {
	ctx := context.Background()
	const threshold = 5
	h := newLockoutHarness(t, threshold)
	signupVerified(t, h, "ada@example.com")

	for i := 0; i < threshold; i++ {
		_, err := h.Service.Login(ctx, auth.LoginInput{Email: "ada@example.com", Password: "Wrong0rd!"})
		errutil.AssertErrorCode(t, err, auth.CodeInvalidCredentials)
	}
	locked, err := h.Store.Identities.GetByEmail(ctx, "ada@example.com")
	require.NoError(t, err)
	require.NotNil(t, locked.LockedUntil)

	t.Run("correct and wrong passwords fail identically while locked", func(t *testing.T) {
		wrongCode, wrongMsg := loginFailure(t, h, "ada@example.com", "Wrong0rd!")
		rightCode, rightMsg := loginFailure(t, h, "ada@example.com", testPassword)
		unknownCode, unknownMsg := loginFailure(t, h, "nobody@example.com", testPassword)

		assert.Equal(t, auth.CodeInvalidCredentials, wrongCode)
		assert.Equal(t, wrongCode, rightCode)
		assert.Equal(t, wrongMsg, rightMsg)
		assert.Equal(t, unknownCode, rightCode)
		assert.Equal(t, unknownMsg, rightMsg)
	})

	t.Run("attempts while locked do not extend the lock", func(t *testing.T) {
		identity, err := h.Store.Identities.GetByEmail(ctx, "ada@example.com")
		require.NoError(t, err)
		assert.Equal(t, threshold, identity.FailedAttempts)
		assert.Equal(t, *locked.LockedUntil, *identity.LockedUntil)
	})

	t.Run("lock expires", func(t *testing.T) {
		h.Clock.Advance(auth.DefaultLockoutDuration + time.Second)
		_, err := h.Service.Login(ctx, auth.LoginInput{Email: "ada@example.com", Password: testPassword})
		require.NoError(t, err)

		identity, err := h.Store.Identities.GetByEmail(ctx, "ada@example.com")
		require.NoError(t, err)
		assert.Zero(t, identity.FailedAttempts)
		assert.Nil(t, identity.LockedUntil)
	})
}

func TestService_LoginLockoutExpiryRestartsCount(t *testing.T) {
	ctx := context.Background()
	const threshold = 3
	h := newLockoutHarness(t, threshold)
	signupVerified(t, h, "ada@example.com")

	for i := 0; i < threshold; i++ {
		_, err := h.Service.Login(ctx, auth.LoginInput{Email: "ada@example.com", Password: "Wrong0rd!"})
		errutil.AssertErrorCode(t, err, auth.CodeInvalidCredentials)
	}
	h.Clock.Advance(auth.DefaultLockoutDuration + time.Second)

	// One typo after the lock lapses counts as the first failure of a new run.
	_, err := h.Service.Login(ctx, auth.LoginInput{Email: "ada@example.com", Password: "Wrong0rd!"})
	errutil.AssertErrorCode(t, err, auth.CodeInvalidCredentials)

	identity, err := h.Store.Identities.GetByEmail(ctx, "ada@example.com")
	require.NoError(t, err)
	assert.Equal(t, 1, identity.FailedAttempts)
	assert.Nil(t, identity.LockedUntil)

	_, err = h.Service.Login(ctx, auth.LoginInput{Email: "ada@example.com", Password: testPassword})
	require.NoError(t, err)
}

func TestService_LoginFailureWritesDoNotDependOnEmail(t *testing.T) {
	h := newLockoutHarness(t, 5)
	signupVerified(t, h, "ada@example.com")

	loginFailure(t, h, "ada@example.com", "Wrong0rd!")
	assert.EqualValues(t, 1, h.Store.Identities.FailureWrites.Load())

	loginFailure(t, h, "nobody@example.com", "Wrong0rd!")
	assert.EqualValues(t, 2, h.Store.Identities.FailureWrites.Load())

	identity, err := h.Store.Identities.GetByEmail(context.Background(), "ada@example.com")
	require.NoError(t, err)
	assert.Equal(t, 1, identity.FailedAttempts)
}

func TestService_LoginUpgradesWeakHash(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	id := signupVerified(t, h, "ada@example.com")

	weak, err := auth.NewArgon2idHasherWithParams(auth.Argon2Params{Time: 1, Memory: 512, Threads: 1}).Hash(testPassword)
	require.NoError(t, err)
	require.NoError(t, h.Store.Identities.UpdatePasswordHash(ctx, id, weak, h.Clock.Now()))

	_, err = h.Service.Login(ctx, auth.LoginInput{Email: "ada@example.com", Password: testPassword})
	require.NoError(t, err)

	identity, err := h.Store.Identities.GetByID(ctx, id)
	require.NoError(t, err)
	assert.NotEqual(t, weak, identity.PasswordHash)
	assert.Contains(t, identity.PasswordHash, "m=1024")
}

func TestService_SignupVerifyLoginScenario(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	_, err := h.Service.Signup(ctx, auth.SignupInput{Email: "ada@example.com", Password: testPassword, Name: "Ada"})
	require.NoError(t, err)

	_, err = h.Service.Login(ctx, auth.LoginInput{Email: "ada@example.com", Password: testPassword})
	errutil.AssertErrorCode(t, err, auth.CodeEmailNotVerified)
	msg, _ := auth.ClientMessage(err)
	assert.Equal(t, "Please verify your email address before signing in", msg)

	verified, err := h.Service.VerifyEmail(ctx, auth.VerifyEmailInput{Token: h.Outbox.LastToken(auth.NotifyVerifyEmail)})
	require.NoError(t, err)
	assert.True(t, verified.User.EmailVerified)
	assert.NotEmpty(t, verified.Token, "auto sign-in after verification")

	welcome, ok := h.Outbox.Last(auth.NotifyWelcome)
	require.True(t, ok)
	assert.Equal(t, "ada@example.com", welcome.To)

	res, err := h.Service.Login(ctx, auth.LoginInput{Email: "ada@example.com", Password: testPassword})
	require.NoError(t, err)
	assert.True(t, res.User.EmailVerified)
}

func TestService_LoginWithoutVerificationRequirement(t *testing.T) {
	cfg := authtest.TestConfig()
	cfg.RequireEmailVerification = false
	h, err := authtest.NewHarness(cfg)
	require.NoError(t, err)

	ctx := context.Background()
	_, err = h.Service.Signup(ctx, auth.SignupInput{Email: "ada@example.com", Password: testPassword, Name: "Ada"})
	require.NoError(t, err)

	_, err = h.Service.Login(ctx, auth.LoginInput{Email: "ada@example.com", Password: testPassword})
	assert.NoError(t, err)
}

func TestService_LogoutIsIdempotent(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	signupVerified(t, h, "ada@example.com")

	res, err := h.Service.Login(ctx, auth.LoginInput{Email: "ada@example.com", Password: testPassword})
	require.NoError(t, err)

	require.NoError(t, h.Service.Logout(ctx, res.Token))
	require.NoError(t, h.Service.Logout(ctx, res.Token))
	require.NoError(t, h.Service.Logout(ctx, ""))
	require.NoError(t, h.Service.Logout(ctx, "garbage"))

	info, err := h.Service.GetSession(ctx, res.Token)
	require.NoError(t, err)
	assert.Nil(t, info)
}

func TestService_GetSession(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	info, err := h.Service.GetSession(ctx, "")
	require.NoError(t, err)
	assert.Nil(t, info)

	signupVerified(t, h, "ada@example.com")
	res, err := h.Service.Login(ctx, auth.LoginInput{Email: "ada@example.com", Password: testPassword})
	require.NoError(t, err)

	h.Clock.Advance(auth.DefaultSessionTTL)
	info, err = h.Service.GetSession(ctx, res.Token)
	require.NoError(t, err)
	assert.Nil(t, info, "expired sessions do not exist")
}

type logEntry struct {
	Level     string `json:"level"`
	Msg       string `json:"msg"`
	Operation string `json:"operation"`
	Error     string `json:"error"`
}

func TestService_LogsBestEffortFailures(t *testing.T) {
	ctx := context.Background()
	store := authtest.NewStore()
	clock := authtest.NewClock(time.Now())
	sessions, err := auth.NewSessionManager(store.Sessions, auth.SessionConfig{Clock: clock.Now})
	require.NoError(t, err)
	tokens, err := auth.NewTokenIssuer(store.Tokens, clock.Now)
	require.NoError(t, err)

	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	svc, err := auth.NewService(authtest.TestConfig(), auth.ServiceDeps{
		Identities: store.Identities,
		Profiles:   store.Profiles,
		Sessions:   sessions,
		Tokens:     tokens,
		Hasher:     authtest.FastHasher(),
		Logger:     logger,
		Clock:      clock.Now,
	})
	require.NoError(t, err)

	store.Profiles.CreateErr = authtest.ErrInjected
	_, err = svc.Signup(ctx, auth.SignupInput{Email: "ada@example.com", Password: testPassword, Name: "Ada"})
	require.NoError(t, err)

	var entry logEntry
	require.NoError(t, json.Unmarshal(bytes.SplitN(buf.Bytes(), []byte("\n"), 2)[0], &entry))
	assert.Equal(t, "WARN", entry.Level)
	assert.Contains(t, entry.Msg, "best-effort")
	assert.Equal(t, "create_profile", entry.Operation)
	assert.Contains(t, entry.Error, "injected failure")
}
