// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

package store

import (
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrationsFS_EmbeddedFiles(t *testing.T) {
	entries, err := migrationsFS.ReadDir("migrations")
	require.NoError(t, err)

	names := make(map[string]bool, len(entries))
	pattern := regexp.MustCompile(`^\d{6}_\w+\.(up|down)\.sql$`)
	for _, entry := range entries {
		names[entry.Name()] = true
		assert.Regexp(t, pattern, entry.Name())
	}

	for _, want := range []string{
		"000001_identities", "000002_profiles", "000003_sessions", "000004_purpose_tokens",
	} {
		assert.True(t, names[want+".up.sql"], "missing %s.up.sql", want)
		assert.True(t, names[want+".down.sql"], "missing %s.down.sql", want)
	}
}

func TestMigrationsFS_EmailUniqueIgnoresCase(t *testing.T) {
	sql, err := migrationsFS.ReadFile("migrations/000001_identities.up.sql")
	require.NoError(t, err)
	assert.Contains(t, strings.ToLower(string(sql)), "unique index")
	assert.Contains(t, string(sql), "lower(email)")
}
