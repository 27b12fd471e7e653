// SPDX-FileCopyrightText: 2025 The fleetresv Authors
// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeUsersFile(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "users.txt")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

func TestLoadFileSkipsMalformedLines(t *testing.T) {
	path := writeUsersFile(t, "alice:secret1\nnotaline\nbob:secret2\n:nouser\nnopass:\n")
	c, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 2, c.Count())
}

func TestVerifyAcceptsExactPassword(t *testing.T) {
	path := writeUsersFile(t, "alice:secret1\n")
	c, err := LoadFile(path)
	require.NoError(t, err)

	assert.True(t, c.Verify("alice", "secret1"))
	assert.False(t, c.Verify("alice", "wrong"))
	assert.False(t, c.Verify("ghost", "secret1"))
}

func TestVerifyIsCaseInsensitiveOnUsername(t *testing.T) {
	path := writeUsersFile(t, "Alice:secret1\n")
	c, err := LoadFile(path)
	require.NoError(t, err)

	assert.True(t, c.Verify("alice", "secret1"))
	assert.True(t, c.Verify("ALICE", "secret1"))
}
