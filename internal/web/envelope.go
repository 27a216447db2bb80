// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

package web

import (
	"encoding/json"
	"net/http"
)

// envelope is the body of every JSON response.
type envelope struct {
	Success bool   `json:"success"`
	Status  string `json:"status,omitempty"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// nullableEnvelope always emits data, so an absent value reads as null.
type nullableEnvelope struct {
	Success bool `json:"success"`
	Data    any  `json:"data"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeSuccess(w http.ResponseWriter, status int, message string, data any) {
	writeJSON(w, status, envelope{Success: true, Message: message, Data: data})
}

// writeFailure writes an error envelope. status is "fail" for client errors
// and "error" for server errors.
func writeFailure(w http.ResponseWriter, status int, message string) {
	kind := "fail"
	if status >= http.StatusInternalServerError {
		kind = "error"
	}
	writeJSON(w, status, envelope{Success: false, Status: kind, Message: message})
}
