// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

package web

import (
	"context"

	"github.com/hilsha/gatehouse/internal/auth"
)

type ctxKey int

const (
	ctxKeyAuth ctxKey = iota
)

// authState is what the guard resolved for a request. info is nil when the
// request carries no live session.
type authState struct {
	info  *auth.SessionInfo
	token string
}

func withAuthState(ctx context.Context, st *authState) context.Context {
	return context.WithValue(ctx, ctxKeyAuth, st)
}

func authStateFrom(ctx context.Context) (*authState, bool) {
	st, ok := ctx.Value(ctxKeyAuth).(*authState)
	return st, ok
}

// IdentityFromContext returns the authenticated identity, if any.
func IdentityFromContext(ctx context.Context) (*auth.UserView, bool) {
	st, ok := authStateFrom(ctx)
	if !ok || st.info == nil {
		return nil, false
	}
	return &st.info.User, true
}

// SessionFromContext returns the authenticated session, if any.
func SessionFromContext(ctx context.Context) (*auth.Session, bool) {
	st, ok := authStateFrom(ctx)
	if !ok || st.info == nil {
		return nil, false
	}
	return st.info.Session, true
}
