// Package gate composes the credential store, ACL store, and global
// policy flags into a single allow/deny decision per request (spec
// §4.5). It is pure composition: no I/O beyond what credstore.Verify
// itself performs, no filesystem access, no locking beyond what its
// inputs already do.
//
// Grounded on the teacher's internal/auth.go, whose RequireAuth +
// Allowed pair plays the same role (authenticate, then check a
// path-scoped permission) for a flat path-prefix ACL; generalized here
// to the repo-scoped Level/OperationClass model of spec §4.5.
package gate

import (
	"errors"
	"fmt"
	"net/http"

	"restserve/internal/aclstore"
	"restserve/internal/credstore"
	"restserve/internal/resticerr"
)

// OperationClass is the access-control category of an HTTP operation
// (spec §4.5).
type OperationClass int

const (
	OpRead OperationClass = iota
	OpAppend
	// OpConfigCreate is POST config (spec §4.5's endpoint table requires
	// only Append for it, same as any other create), but unlike OpAppend
	// it is blocked under append-only: see the append-only switch in
	// Authorize below.
	OpConfigCreate
	OpModifyOverwrite
	OpModifyDelete
	OpCreateRepo
	OpDeleteRepo
)

// requiredLevel returns the minimum aclstore.Level an operation class
// needs, per spec §4.5 step 3.
func requiredLevel(op OperationClass) aclstore.Level {
	switch op {
	case OpRead:
		return aclstore.Read
	case OpAppend, OpConfigCreate, OpCreateRepo:
		return aclstore.Append
	case OpModifyOverwrite, OpModifyDelete, OpDeleteRepo:
		return aclstore.Modify
	default:
		return aclstore.Modify
	}
}

// Policy holds the global flags that affect every decision (spec §6's
// auth.disable-auth, acl.disable-acl, acl.append-only, acl.private-repos).
type Policy struct {
	DisableAuth  bool
	DisableACL   bool
	AppendOnly   bool
	PrivateRepos bool
}

// AnonymousUser is the sentinel identity used whenever auth is
// disabled, whether or not a credential was supplied (spec §4.2's
// "anonymous sentinel user").
const AnonymousUser = ""

// Gate composes a credential store and ACL store under a Policy.
type Gate struct {
	Creds *credstore.Store
	ACLs  *aclstore.Store
	Policy Policy
}

// New builds a Gate. Creds may be nil only if Policy.DisableAuth is
// true; ACLs may be nil only if Policy.DisableACL is true.
func New(creds *credstore.Store, acls *aclstore.Store, policy Policy) *Gate {
	return &Gate{Creds: creds, ACLs: acls, Policy: policy}
}

// Authenticate verifies HTTP Basic credentials per spec §4.5 step 1.
// When auth is disabled it returns AnonymousUser unconditionally, even
// if credentials were supplied (spec: "credentials are ignored").
func (g *Gate) Authenticate(r *http.Request) (string, error) {
	if g.Policy.DisableAuth {
		return AnonymousUser, nil
	}
	user, pass, ok := r.BasicAuth()
	if !ok {
		return "", resticerr.New(resticerr.Auth, "gate.Authenticate", errMissingCredentials)
	}
	if err := g.Creds.Verify(user, pass); err != nil {
		return "", err
	}
	return user, nil
}

var errMissingCredentials = errors.New("missing or malformed Authorization header")

// Authorize decides whether user may perform op against repo, per
// spec §4.5 steps 2-4.
func (g *Gate) Authorize(user, repo string, op OperationClass) error {
	level := g.effectiveLevel(user, repo)
	if level < requiredLevel(op) {
		return resticerr.New(resticerr.Permission, "gate.Authorize", fmt.Errorf("level %s insufficient for operation", level))
	}
	if g.Policy.AppendOnly {
		switch op {
		case OpConfigCreate, OpModifyOverwrite, OpModifyDelete, OpDeleteRepo:
			return resticerr.New(resticerr.Permission, "gate.Authorize", fmt.Errorf("append-only forbids this operation"))
		}
	}
	return nil
}

func (g *Gate) effectiveLevel(user, repo string) aclstore.Level {
	if g.Policy.DisableACL {
		return aclstore.Modify
	}
	return g.ACLs.Effective(user, repo, g.Policy.PrivateRepos)
}

// AllowLockDelete implements the locks-kind exception (spec §9's
// "Locks kind semantics"): a user below Modify level may still delete
// a lock object they created themselves.
func (g *Gate) AllowLockDelete(user, repo, owner string) error {
	if user != "" && user == owner {
		return g.Authorize(user, repo, OpAppend)
	}
	return g.Authorize(user, repo, OpModifyDelete)
}
