// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

package web

import (
	"log/slog"
	"net/http"

	"github.com/samber/oops"

	"github.com/hilsha/gatehouse/internal/auth"
	"github.com/hilsha/gatehouse/pkg/errutil"
)

// CodeRateLimited marks rejections by the rate limiter.
const CodeRateLimited = "RATE_LIMITED"

const msgInternal = "Internal server error"

var statusByCode = map[string]int{
	auth.CodeValidation:               http.StatusBadRequest,
	auth.CodeEmailTaken:               http.StatusConflict,
	auth.CodeInvalidCredentials:       http.StatusUnauthorized,
	auth.CodeEmailNotVerified:         http.StatusForbidden,
	auth.CodeUnauthorized:             http.StatusUnauthorized,
	auth.CodeForbidden:                http.StatusForbidden,
	auth.CodeCurrentPasswordIncorrect: http.StatusBadRequest,
	auth.CodeResetLinkInvalid:         http.StatusBadRequest,
	auth.CodeVerifyLinkInvalid:        http.StatusBadRequest,
	CodeRateLimited:                   http.StatusTooManyRequests,
	auth.CodeNotFound:                 http.StatusNotFound,
}

// fallbackMessages is used when a mapped error carries no client message.
var fallbackMessages = map[int]string{
	http.StatusBadRequest:      "Invalid request",
	http.StatusUnauthorized:    auth.MsgUnauthorized,
	http.StatusForbidden:       "Forbidden",
	http.StatusNotFound:        "Not found",
	http.StatusConflict:        "Conflict",
	http.StatusTooManyRequests: "Too many requests, please try again later.",
}

func errorCode(err error) string {
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return ""
	}
	code, _ := oopsErr.Code().(string)
	return code
}

// classify returns the status and the client-safe message for err. Unmapped
// errors are internal; their details never reach the client.
func classify(err error) (int, string) {
	status, ok := statusByCode[errorCode(err)]
	if !ok {
		return http.StatusInternalServerError, msgInternal
	}
	if msg, ok := auth.ClientMessage(err); ok {
		return status, msg
	}
	return status, fallbackMessages[status]
}

// writeError maps err to a response. Server errors are logged with their
// full oops context.
func writeError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	status, msg := classify(err)
	if status >= http.StatusInternalServerError {
		errutil.LogErrorContext(r.Context(), logger, "request failed", oops.
			With("method", r.Method).
			With("path", r.URL.Path).
			Wrap(err))
	} else {
		logger.DebugContext(r.Context(), "request rejected", "status", status, "code", errorCode(err))
	}
	writeFailure(w, status, msg)
}
