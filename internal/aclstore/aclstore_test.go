package aclstore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeACL(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "acl.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestEffectiveExactRepoEntry(t *testing.T) {
	path := writeACL(t, `
[myrepo]
alice = "Read"

[default]
alice = "Modify"
`)
	s, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, Read, s.Effective("alice", "myrepo", true))
}

func TestEffectiveFallsBackToDefault(t *testing.T) {
	path := writeACL(t, `
[default]
bob = "Append"
`)
	s, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, Append, s.Effective("bob", "other-repo", true))
}

func TestEffectivePrivateReposDeniesUnlisted(t *testing.T) {
	path := writeACL(t, `
[default]
bob = "Append"
`)
	s, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, None, s.Effective("carol", "other-repo", true))
	assert.Equal(t, Modify, s.Effective("carol", "other-repo", false))
}

func TestReloadRejectsBadLevel(t *testing.T) {
	path := writeACL(t, `
[myrepo]
alice = "Read"
`)
	s, err := Load(path)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte(`
[myrepo]
alice = "SuperUser"
`), 0o644))
	assert.Error(t, s.Reload())
	// Previous snapshot still in effect.
	assert.Equal(t, Read, s.Effective("alice", "myrepo", true))
}
