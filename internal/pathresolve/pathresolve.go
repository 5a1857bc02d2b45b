// Package pathresolve maps (repository-name, object-kind, object-id)
// triples to filesystem paths under a data root (spec §4.3). It is a
// pure function package: it never touches the filesystem, and it is
// the sole authority on what counts as a well-formed name, kind, or id.
//
// Grounded on the teacher's internal/fsutil (CleanRelPath/JoinWithinRoot),
// generalized from free-form share-relative paths to the fixed
// repo+kind+id grammar of spec §3.
package pathresolve

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"restserve/internal/resticerr"
)

// Kind is one of the closed set of object kinds (spec §3).
type Kind string

const (
	KindData      Kind = "data"
	KindKeys      Kind = "keys"
	KindLocks     Kind = "locks"
	KindSnapshots Kind = "snapshots"
	KindIndex     Kind = "index"
	KindConfig    Kind = "config"
)

// Dirs lists the kinds that are directories of many objects, in the
// order repositories are provisioned (spec §3's "Repository on disk").
var Dirs = []Kind{KindKeys, KindLocks, KindSnapshots, KindIndex, KindData}

// ParseKind validates a wire-level kind string, rejecting anything
// outside the closed set of spec §3.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindData, KindKeys, KindLocks, KindSnapshots, KindIndex, KindConfig:
		return Kind(s), nil
	default:
		return "", resticerr.New(resticerr.Malformed, "pathresolve.ParseKind", fmt.Errorf("unsupported kind %q", s))
	}
}

var (
	repoNameSegment = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)
	hexID           = regexp.MustCompile(`^[0-9a-f]{64}$`)
)

// ValidRepoName reports whether name matches spec §3's grammar: a
// non-empty string of [A-Za-z0-9._-]+, optionally with one "/" level.
// The dot segments "." and ".." are rejected.
func ValidRepoName(name string) bool {
	if name == "" {
		return false
	}
	parts := strings.Split(name, "/")
	if len(parts) > 2 {
		return false
	}
	for _, p := range parts {
		if p == "." || p == ".." {
			return false
		}
		if !repoNameSegment.MatchString(p) {
			return false
		}
	}
	return true
}

// ValidID reports whether id is a 64-character lowercase hex string.
func ValidID(id string) bool {
	return hexID.MatchString(id)
}

// Repo resolves the directory for a repository under dataRoot.
func Repo(dataRoot, repoName string) (string, error) {
	if !ValidRepoName(repoName) {
		return "", resticerr.New(resticerr.Malformed, "pathresolve.Repo", fmt.Errorf("invalid repository name %q", repoName))
	}
	return joinContained(dataRoot, filepath.FromSlash(repoName))
}

// Object resolves the path for a single object. id must be "" for
// KindConfig and a valid 64-hex string otherwise.
func Object(dataRoot, repoName string, kind Kind, id string) (string, error) {
	repoDir, err := Repo(dataRoot, repoName)
	if err != nil {
		return "", err
	}
	switch kind {
	case KindConfig:
		if id != "" {
			return "", resticerr.New(resticerr.Malformed, "pathresolve.Object", fmt.Errorf("config object takes no id"))
		}
		return joinContained(repoDir, "config")
	case KindData, KindKeys, KindLocks, KindSnapshots, KindIndex:
		if !ValidID(id) {
			return "", resticerr.New(resticerr.Malformed, "pathresolve.Object", fmt.Errorf("invalid object id %q", id))
		}
		if kind == KindData {
			return joinContained(repoDir, "data", ShardOf(id), id)
		}
		return joinContained(repoDir, string(kind), id)
	default:
		return "", resticerr.New(resticerr.Unsupported, "pathresolve.Object", fmt.Errorf("unsupported kind %q", kind))
	}
}

// KindDir resolves the directory holding all objects of kind (only
// meaningful for the five directory kinds, never KindConfig).
func KindDir(dataRoot, repoName string, kind Kind) (string, error) {
	repoDir, err := Repo(dataRoot, repoName)
	if err != nil {
		return "", err
	}
	switch kind {
	case KindData, KindKeys, KindLocks, KindSnapshots, KindIndex:
		return joinContained(repoDir, string(kind))
	default:
		return "", resticerr.New(resticerr.Unsupported, "pathresolve.KindDir", fmt.Errorf("unsupported kind %q", kind))
	}
}

// ShardOf returns the two-character shard prefix used to fan out the
// data directory into 256 subdirectories (spec §3/§4.4).
func ShardOf(id string) string {
	return id[:2]
}

// joinContained joins elems onto root and verifies the lexically
// cleaned result is root itself or a strict descendant, failing
// closed (spec §3 I4) before any I/O is attempted by the caller.
func joinContained(root string, elems ...string) (string, error) {
	abs := filepath.Join(append([]string{root}, elems...)...)
	absClean := filepath.Clean(abs)
	rootClean := filepath.Clean(root)
	if absClean != rootClean && !strings.HasPrefix(absClean, rootClean+string(filepath.Separator)) {
		return "", resticerr.New(resticerr.Traversal, "pathresolve.joinContained", fmt.Errorf("path escapes data root"))
	}
	return absClean, nil
}
