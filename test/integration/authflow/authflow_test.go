// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

//go:build integration

package authflow_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/hilsha/gatehouse/internal/auth"
)

const password = "Str0ng!Pass"

var emailSeq atomic.Int64

func uniqueEmail() string {
	return fmt.Sprintf("user%d@example.com", emailSeq.Add(1))
}

type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type userData struct {
	User struct {
		ID            string `json:"id"`
		Email         string `json:"email"`
		EmailVerified bool   `json:"emailVerified"`
	} `json:"user"`
	Token string `json:"token"`
}

// call sends one request and decodes the envelope when the body is JSON.
func call(method, path string, body any, cookie *http.Cookie) (*http.Response, envelope) {
	GinkgoHelper()
	var rdr *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		Expect(err).NotTo(HaveOccurred())
		rdr = bytes.NewReader(raw)
	} else {
		rdr = bytes.NewReader(nil)
	}
	req, err := http.NewRequestWithContext(env.ctx, method, env.server.URL+path, rdr)
	Expect(err).NotTo(HaveOccurred())
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if cookie != nil {
		req.AddCookie(cookie)
	}

	resp, err := env.client().Do(req)
	Expect(err).NotTo(HaveOccurred())
	defer resp.Body.Close()

	var out envelope
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		Expect(json.NewDecoder(resp.Body).Decode(&out)).To(Succeed())
	}
	return resp, out
}

func sessionCookie(resp *http.Response) *http.Cookie {
	for _, c := range resp.Cookies() {
		if c.Name == "gatehouse.session_token" {
			return c
		}
	}
	return nil
}

func waitForToken(email, subject string) string {
	GinkgoHelper()
	var token string
	Eventually(func() string {
		token = env.mailer.lastToken(email, subject)
		return token
	}).WithTimeout(5 * time.Second).ShouldNot(BeEmpty())
	return token
}

func signup(email string) {
	GinkgoHelper()
	resp, body := call(http.MethodPost, "/auth/signup", map[string]any{
		"email": email, "password": password, "name": "Grace Hopper",
	}, nil)
	Expect(resp.StatusCode).To(Equal(http.StatusCreated))
	Expect(body.Success).To(BeTrue())
}

// verify follows the emailed link and returns the auto sign-in cookie.
func verify(email string) *http.Cookie {
	GinkgoHelper()
	token := waitForToken(email, "Verify your email address")
	resp, _ := call(http.MethodGet, "/auth/verify-email?token="+url.QueryEscape(token), nil, nil)
	Expect(resp.StatusCode).To(Equal(http.StatusOK))
	return sessionCookie(resp)
}

func login(email, pw string) (*http.Response, envelope) {
	GinkgoHelper()
	return call(http.MethodPost, "/auth/login", map[string]any{"email": email, "password": pw}, nil)
}

var _ = Describe("Account lifecycle", func() {
	Describe("signup and verification", func() {
		It("requires verification before login and signs in on verify", func() {
			email := uniqueEmail()
			signup(email)

			resp, body := login(email, password)
			Expect(resp.StatusCode).To(Equal(http.StatusForbidden))
			Expect(body.Success).To(BeFalse())

			cookie := verify(email)
			Expect(cookie).NotTo(BeNil())

			resp, body = call(http.MethodGet, "/auth/session", nil, cookie)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			var data userData
			Expect(json.Unmarshal(body.Data, &data)).To(Succeed())
			Expect(data.User.Email).To(Equal(email))
			Expect(data.User.EmailVerified).To(BeTrue())
		})

		It("redirects to the callback with an error for a bad token", func() {
			callback := url.QueryEscape(frontendURL + "/verified")
			resp, _ := call(http.MethodGet, "/auth/verify-email?token=bogus&callbackURL="+callback, nil, nil)

			Expect(resp.StatusCode).To(Equal(http.StatusFound))
			Expect(resp.Header.Get("Location")).To(Equal(frontendURL + "/verified?error=INVALID_TOKEN"))
		})

		It("rejects a duplicate email", func() {
			email := uniqueEmail()
			signup(email)

			resp, body := call(http.MethodPost, "/auth/signup", map[string]any{
				"email": strings.ToUpper(email), "password": password, "name": "Again",
			}, nil)
			Expect(resp.StatusCode).To(Equal(http.StatusConflict))
			Expect(body.Success).To(BeFalse())
		})

		It("sends a welcome email once verified", func() {
			email := uniqueEmail()
			signup(email)
			verify(email)

			Eventually(func() int {
				return env.mailer.count(email, "Welcome to Gatehouse!")
			}).WithTimeout(5 * time.Second).Should(Equal(1))
		})
	})

	Describe("sessions", func() {
		var (
			email  string
			cookie *http.Cookie
		)

		BeforeEach(func() {
			email = uniqueEmail()
			signup(email)
			verify(email)

			resp, _ := login(email, password)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			cookie = sessionCookie(resp)
			Expect(cookie).NotTo(BeNil())
		})

		It("rejects a wrong password", func() {
			resp, body := login(email, "Wr0ng!Pass")
			Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
			Expect(body.Message).To(Equal(auth.MsgInvalidCredentials))
		})

		It("ends the session on logout", func() {
			resp, _ := call(http.MethodPost, "/auth/logout", nil, cookie)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			resp, body := call(http.MethodGet, "/auth/session", nil, cookie)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(string(body.Data)).To(Equal("null"))
		})

		It("reads and updates the profile", func() {
			resp, _ := call(http.MethodPatch, "/auth/profile", map[string]any{
				"displayName": "Amazing Grace", "theme": "dark",
			}, cookie)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			resp, body := call(http.MethodGet, "/auth/profile", nil, cookie)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(string(body.Data)).To(ContainSubstring(`"Amazing Grace"`))
			Expect(string(body.Data)).To(ContainSubstring(`"dark"`))
		})

		It("changes the password", func() {
			resp, _ := call(http.MethodPost, "/auth/change-password", map[string]any{
				"currentPassword": password, "newPassword": "N3w!Passw0rd",
			}, cookie)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			resp, _ = login(email, password)
			Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
			resp, _ = login(email, "N3w!Passw0rd")
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
		})

		It("resets the password and revokes existing sessions", func() {
			resp, body := call(http.MethodPost, "/auth/forgot-password", map[string]any{"email": email}, nil)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(body.Success).To(BeTrue())

			token := waitForToken(email, "Reset your password")
			resp, _ = call(http.MethodPost, "/auth/reset-password", map[string]any{
				"token": token, "newPassword": "Res3t!Passw0rd",
			}, nil)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			_, body = call(http.MethodGet, "/auth/session", nil, cookie)
			Expect(string(body.Data)).To(Equal("null"))

			resp, _ = call(http.MethodPost, "/auth/reset-password", map[string]any{
				"token": token, "newPassword": "Other!Passw0rd",
			}, nil)
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest), "tokens are single use")

			resp, _ = login(email, "Res3t!Passw0rd")
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
		})
	})

	Describe("forgot password for an unknown email", func() {
		It("answers exactly like a known one", func() {
			resp, body := call(http.MethodPost, "/auth/forgot-password", map[string]any{"email": uniqueEmail()}, nil)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(body.Success).To(BeTrue())
		})
	})

	Describe("sweeping", func() {
		It("removes expired sessions", func() {
			email := uniqueEmail()
			signup(email)
			Expect(verify(email)).NotTo(BeNil())

			_, err := env.pool.Exec(env.ctx, `UPDATE sessions SET expires_at = now() - interval '1 minute'`)
			Expect(err).NotTo(HaveOccurred())

			res, err := env.sweeper.Once(env.ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Sessions).To(BeNumerically(">=", 1))

			var remaining int
			Expect(env.pool.QueryRow(env.ctx, `SELECT count(*) FROM sessions`).Scan(&remaining)).To(Succeed())
			Expect(remaining).To(BeZero())
		})
	})
})
