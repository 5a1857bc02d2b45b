package gate

import (
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"restserve/internal/aclstore"
	"restserve/internal/credstore"
	"restserve/internal/resticerr"
)

func newGate(t *testing.T, aclBody string, policy Policy) (*Gate, func(user, pass string)) {
	t.Helper()
	dir := t.TempDir()

	credPath := filepath.Join(dir, "htpasswd")
	require.NoError(t, os.WriteFile(credPath, nil, 0o644))
	creds, err := credstore.Load(credPath)
	require.NoError(t, err)

	aclPath := filepath.Join(dir, "acl.toml")
	require.NoError(t, os.WriteFile(aclPath, []byte(aclBody), 0o644))
	acls, err := aclstore.Load(aclPath)
	require.NoError(t, err)

	addUser := func(user, pass string) {
		require.NoError(t, credstore.SetPassword(credPath, user, pass, bcrypt.MinCost))
		require.NoError(t, creds.Reload())
	}
	return New(creds, acls, policy), addUser
}

func TestAuthenticateRejectsMissingCreds(t *testing.T) {
	g, _ := newGate(t, "", Policy{})
	req := httptest.NewRequest("GET", "/r/config", nil)
	_, err := g.Authenticate(req)
	require.Error(t, err)
	assert.Equal(t, resticerr.Auth, resticerr.KindOf(err))
}

func TestAuthenticateDisableAuthIgnoresHeader(t *testing.T) {
	g, _ := newGate(t, "", Policy{DisableAuth: true})
	req := httptest.NewRequest("GET", "/r/config", nil)
	req.SetBasicAuth("nobody", "wrong")
	user, err := g.Authenticate(req)
	require.NoError(t, err)
	assert.Equal(t, AnonymousUser, user)
}

func TestAuthorizeACLMatrix(t *testing.T) {
	g, addUser := newGate(t, `
[r]
alice = "Read"
`, Policy{PrivateRepos: true})
	addUser("alice", "pw")

	assert.NoError(t, g.Authorize("alice", "r", OpRead))
	err := g.Authorize("alice", "r", OpAppend)
	require.Error(t, err)
	assert.Equal(t, resticerr.Permission, resticerr.KindOf(err))
}

func TestAuthorizeAppendOnlyForbidsDelete(t *testing.T) {
	g, addUser := newGate(t, `
[r]
alice = "Modify"
`, Policy{AppendOnly: true})
	addUser("alice", "pw")

	assert.NoError(t, g.Authorize("alice", "r", OpAppend))
	err := g.Authorize("alice", "r", OpModifyDelete)
	require.Error(t, err)
	assert.Equal(t, resticerr.Permission, resticerr.KindOf(err))
}

func TestAllowLockDeleteByOwner(t *testing.T) {
	g, addUser := newGate(t, `
[r]
alice = "Append"
`, Policy{})
	addUser("alice", "pw")

	assert.NoError(t, g.AllowLockDelete("alice", "r", "alice"))
	err := g.AllowLockDelete("alice", "r", "bob")
	require.Error(t, err)
	assert.Equal(t, resticerr.Permission, resticerr.KindOf(err))
}

func TestAuthorizeAppendOnlyForbidsConfigCreate(t *testing.T) {
	g, addUser := newGate(t, `
[r]
alice = "Modify"
`, Policy{AppendOnly: true})
	addUser("alice", "pw")

	assert.NoError(t, g.Authorize("alice", "r", OpAppend))
	err := g.Authorize("alice", "r", OpConfigCreate)
	require.Error(t, err)
	assert.Equal(t, resticerr.Permission, resticerr.KindOf(err))
}

func TestDisableACLGrantsModify(t *testing.T) {
	g, addUser := newGate(t, "", Policy{DisableACL: true})
	addUser("alice", "pw")
	assert.NoError(t, g.Authorize("alice", "anything", OpDeleteRepo))
}
