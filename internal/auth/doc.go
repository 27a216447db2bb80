// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

// Package auth implements the account lifecycle of Gatehouse: signup,
// sign-in, sessions, password recovery, email verification and profiles.
//
// # Domain Types
//
// Identity, Profile, Session and PurposeToken are the persisted records.
// Identities are built with NewIdentity, which normalizes and validates the
// inputs; profiles with NewProfile. Repository implementations receive
// pre-validated values.
//
// # Collaborators
//
//   - SessionManager creates, resolves, renews and revokes sessions
//   - TokenIssuer issues and atomically redeems single-use purpose tokens
//   - PasswordHasher hashes and verifies passwords (Argon2idHasher)
//   - Notifier hands account notifications to the delivery channel
//
// # Service
//
// Service orchestrates the use cases over these collaborators. Errors carry
// oops codes (see errors.go); errors meant for clients also carry a
// client-safe message retrievable with ClientMessage. Every other error is
// internal.
package auth
