// Package aclstore loads and queries the per-repository access
// control table (spec §4.2): a TOML document whose section headers
// name repositories (plus a distinguished "default" section) and
// whose keys map a username to an access level.
//
// Grounded on the teacher's config.ACL (a flat path-prefix-to-permission
// rule list), generalized to the repo-keyed table TOML grammar of
// spec §6, using BurntSushi/toml for parsing.
package aclstore

import (
	"fmt"
	"os"
	"sync/atomic"

	"github.com/BurntSushi/toml"
)

// Level is an access level, ordered Read < Append < Modify.
type Level int

const (
	// None is the zero value: no access at all.
	None Level = iota
	Read
	Append
	Modify
)

func (l Level) String() string {
	switch l {
	case Read:
		return "Read"
	case Append:
		return "Append"
	case Modify:
		return "Modify"
	default:
		return "None"
	}
}

// parseLevel maps a TOML string value to a Level.
func parseLevel(s string) (Level, error) {
	switch s {
	case "Read":
		return Read, nil
	case "Append":
		return Append, nil
	case "Modify":
		return Modify, nil
	default:
		return None, fmt.Errorf("unknown access level %q", s)
	}
}

// defaultSection is the distinguished section name used as a fallback
// (spec §4.2 step 2).
const defaultSection = "default"

// doc mirrors the raw TOML shape: map of section name to user->level string.
type doc map[string]map[string]string

// snapshot is the parsed, validated, immutable table swapped in on
// each Reload.
type snapshot struct {
	table map[string]map[string]Level
}

// Store answers effective-level queries against a reloadable ACL file.
type Store struct {
	path string
	cur  atomic.Pointer[snapshot]
}

// Load parses path and returns a ready Store.
func Load(path string) (*Store, error) {
	s := &Store{path: path}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Reload re-reads and re-parses the ACL file, atomically replacing
// the in-memory table. A parse or grammar error leaves the previous
// snapshot in place.
func (s *Store) Reload() error {
	b, err := os.ReadFile(s.path)
	if err != nil {
		return fmt.Errorf("aclstore: read %s: %w", s.path, err)
	}
	var raw doc
	if _, err := toml.Decode(string(b), &raw); err != nil {
		return fmt.Errorf("aclstore: parse %s: %w", s.path, err)
	}
	table := make(map[string]map[string]Level, len(raw))
	for repo, users := range raw {
		levels := make(map[string]Level, len(users))
		for user, levelStr := range users {
			lvl, err := parseLevel(levelStr)
			if err != nil {
				return fmt.Errorf("aclstore: %s: [%s] %s: %w", s.path, repo, user, err)
			}
			levels[user] = lvl
		}
		table[repo] = levels
	}
	s.cur.Store(&snapshot{table: table})
	return nil
}

// Effective computes the access level for (user, repo) per spec
// §4.2's lookup rule, NOT accounting for disable-acl/disable-auth
// (those global policy shortcuts are applied by the caller, typically
// internal/gate, since they depend on flags this store doesn't hold).
func (s *Store) Effective(user, repo string, privateRepos bool) Level {
	snap := s.cur.Load()
	if users, ok := snap.table[repo]; ok {
		if lvl, ok := users[user]; ok {
			return lvl
		}
	}
	if users, ok := snap.table[defaultSection]; ok {
		if lvl, ok := users[user]; ok {
			return lvl
		}
	}
	if !privateRepos {
		return Modify
	}
	return None
}
