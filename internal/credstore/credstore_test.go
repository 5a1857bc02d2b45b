package credstore

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"restserve/internal/resticerr"
)

func writeHtpasswd(t *testing.T, dir string, lines ...string) string {
	t.Helper()
	path := filepath.Join(dir, "htpasswd")
	require.NoError(t, writeLines(path, lines))
	return path
}

func TestVerifyBcrypt(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("hunter2"), bcrypt.MinCost)
	require.NoError(t, err)

	path := writeHtpasswd(t, t.TempDir(), "alice:"+string(hash))
	s, err := Load(path)
	require.NoError(t, err)

	assert.NoError(t, s.Verify("alice", "hunter2"))
	assert.Error(t, s.Verify("alice", "wrong"))
	assert.Error(t, s.Verify("bob", "hunter2"))
}

func TestVerifySHA1Legacy(t *testing.T) {
	// sha1("hunter2") base64-encoded, precomputed.
	path := writeHtpasswd(t, t.TempDir(), "alice:{SHA}87u9ZqY9S/F0eUBXjsPQEDUw4h0=")
	s, err := Load(path)
	require.NoError(t, err)
	assert.NoError(t, s.Verify("alice", "hunter2"))
	assert.Error(t, s.Verify("alice", "wrong"))
}

func TestLoadSkipsMD5CryptEntry(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("x"), bcrypt.MinCost)
	require.NoError(t, err)
	path := writeHtpasswd(t, t.TempDir(),
		"alice:$apr1$abcd1234$somethingsomething",
		"bob:"+string(hash),
	)

	s, loadErr := Load(path)
	require.NoError(t, loadErr)
	assert.False(t, s.HasUser("alice"))
	assert.True(t, s.HasUser("bob"))
	assert.NoError(t, s.Verify("bob", "x"))
}

func TestSetPasswordAddsAndReplaces(t *testing.T) {
	path := writeHtpasswd(t, t.TempDir())
	require.NoError(t, SetPassword(path, "alice", "first", bcrypt.MinCost))

	s, err := Load(path)
	require.NoError(t, err)
	assert.NoError(t, s.Verify("alice", "first"))

	require.NoError(t, SetPassword(path, "alice", "second", bcrypt.MinCost))
	require.NoError(t, s.Reload())
	assert.Error(t, s.Verify("alice", "first"))
	assert.NoError(t, s.Verify("alice", "second"))
}

func TestRemoveUser(t *testing.T) {
	hash, _ := bcrypt.GenerateFromPassword([]byte("x"), bcrypt.MinCost)
	path := writeHtpasswd(t, t.TempDir(), "alice:"+string(hash))

	require.NoError(t, RemoveUser(path, "alice"))
	err := RemoveUser(path, "alice")
	require.Error(t, err)
	assert.Equal(t, resticerr.NotFound, resticerr.KindOf(err))
}

func TestReloadKeepsPreviousSnapshotOnError(t *testing.T) {
	hash, _ := bcrypt.GenerateFromPassword([]byte("x"), bcrypt.MinCost)
	path := writeHtpasswd(t, t.TempDir(), "alice:"+string(hash))
	s, err := Load(path)
	require.NoError(t, err)

	require.NoError(t, writeLines(path, []string{"malformed-line-no-colon"}))
	assert.Error(t, s.Reload())
	assert.NoError(t, s.Verify("alice", "x"))
}
