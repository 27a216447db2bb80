// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

package web

import (
	"net/http"
	"time"
)

// DefaultCookiePrefix names the session cookie "gatehouse.session_token".
const DefaultCookiePrefix = "gatehouse"

type cookieJar struct {
	name   string
	secure bool
}

func newCookieJar(prefix string, secure bool) cookieJar {
	if prefix == "" {
		prefix = DefaultCookiePrefix
	}
	return cookieJar{name: prefix + ".session_token", secure: secure}
}

// setSession writes the session cookie. Only remember-me sessions persist
// across browser restarts.
func (c cookieJar) setSession(w http.ResponseWriter, token string, rememberMe bool, ttl time.Duration) {
	cookie := &http.Cookie{
		Name:     c.name,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   c.secure,
		SameSite: http.SameSiteLaxMode,
	}
	if rememberMe {
		cookie.MaxAge = int(ttl / time.Second)
	}
	http.SetCookie(w, cookie)
}

func (c cookieJar) clear(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     c.name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   c.secure,
		SameSite: http.SameSiteLaxMode,
	})
}
