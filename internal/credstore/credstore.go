// Package credstore loads and verifies HTTP Basic credentials from an
// htpasswd-format file (spec §4.1). The file is reloaded on Reload and
// swapped in atomically so concurrent requests never observe a partial
// parse; lookups and verification are lock-free.
//
// Grounded on the teacher's internal/auth.go (RequireAuth's bcrypt
// CompareHashAndPassword + parseBasicAuth), generalized from an
// in-memory user map to a reloadable on-disk htpasswd file, and
// extended with the "{SHA}"+base64(SHA1) legacy hash form.
package credstore

import (
	"bufio"
	"crypto/sha1"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"os"
	"strings"
	"sync/atomic"

	"golang.org/x/crypto/bcrypt"

	"restserve/internal/resticerr"
	"restserve/internal/rlog"
)

const shaPrefix = "{SHA}"

// entry is a single parsed htpasswd line.
type entry struct {
	user string
	hash string // bcrypt hash, or "{SHA}"+base64(sha1(password))
}

// snapshot is the immutable parsed state swapped in on each Reload.
type snapshot struct {
	byUser map[string]entry
}

// Store verifies HTTP Basic credentials against a reloadable htpasswd
// file. The zero value is not usable; construct with Load.
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

// Reload re-reads the htpasswd file from disk and atomically replaces
// the in-memory snapshot. A genuinely malformed line (no "user:hash"
// shape) fails the whole reload, leaving the previous snapshot in
// place. A line with an unsupported hash form (MD5-crypt, plaintext)
// is only a warning: that one entry is skipped and the rest of the
// file still loads (spec §4.1).
func (s *Store) Reload() error {
	f, err := os.Open(s.path)
	if err != nil {
		return fmt.Errorf("credstore: open %s: %w", s.path, err)
	}
	defer f.Close()

	snap := &snapshot{byUser: make(map[string]entry)}
	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		user, hash, ok := strings.Cut(line, ":")
		if !ok || user == "" || hash == "" {
			return fmt.Errorf("credstore: %s:%d: malformed line", s.path, lineNo)
		}
		if err := checkSupportedHash(hash); err != nil {
			rlog.Logger.Warn().Str("path", s.path).Int("line", lineNo).Str("user", user).Err(err).
				Msg("credstore: skipping entry with unsupported hash")
			continue
		}
		snap.byUser[user] = entry{user: user, hash: hash}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("credstore: read %s: %w", s.path, err)
	}
	s.cur.Store(snap)
	return nil
}

// checkSupportedHash rejects hash forms credstore cannot verify
// (MD5-crypt, plaintext) at load time rather than failing every later
// login attempt against them.
func checkSupportedHash(hash string) error {
	if strings.HasPrefix(hash, shaPrefix) {
		return nil
	}
	if strings.HasPrefix(hash, "$2a$") || strings.HasPrefix(hash, "$2b$") || strings.HasPrefix(hash, "$2y$") {
		return nil
	}
	if strings.HasPrefix(hash, "$1$") || strings.HasPrefix(hash, "$apr1$") {
		return fmt.Errorf("MD5-crypt hashes are not supported")
	}
	return fmt.Errorf("unsupported or plaintext hash form")
}

// Verify checks user/pass against the current snapshot. A missing
// user and a wrong password are indistinguishable to the caller
// (both return an Auth-kind error) so login timing and error handling
// can't be used to enumerate valid usernames.
func (s *Store) Verify(user, pass string) error {
	snap := s.cur.Load()
	e, ok := snap.byUser[user]
	if !ok {
		// Still do bcrypt-shaped work so a missing-user request takes
		// roughly as long as a wrong-password one.
		_, _ = bcrypt.GenerateFromPassword([]byte(pass), bcrypt.DefaultCost)
		return resticerr.New(resticerr.Auth, "credstore.Verify", fmt.Errorf("unknown user"))
	}
	if err := verifyHash(e.hash, pass); err != nil {
		return resticerr.New(resticerr.Auth, "credstore.Verify", err)
	}
	return nil
}

func verifyHash(hash, pass string) error {
	if strings.HasPrefix(hash, shaPrefix) {
		sum := sha1.Sum([]byte(pass))
		want := strings.TrimPrefix(hash, shaPrefix)
		got := base64.StdEncoding.EncodeToString(sum[:])
		if subtle.ConstantTimeCompare([]byte(want), []byte(got)) != 1 {
			return fmt.Errorf("password mismatch")
		}
		return nil
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(pass))
}

// HasUser reports whether user exists in the current snapshot, used
// by the access gate to distinguish "unknown user" from "known user,
// wrong repo" when composing ACL decisions.
func (s *Store) HasUser(user string) bool {
	snap := s.cur.Load()
	_, ok := snap.byUser[user]
	return ok
}

// Users returns the usernames in the current snapshot, sorted by the
// caller if order matters; used by the `restserve auth list` subcommand.
func (s *Store) Users() []string {
	snap := s.cur.Load()
	users := make([]string, 0, len(snap.byUser))
	for u := range snap.byUser {
		users = append(users, u)
	}
	return users
}

// SetPassword adds user or rewrites its password with a freshly
// generated bcrypt hash at cost, then reloads the store. Grounded on
// the teacher's `passwd` subcommand (bcrypt.GenerateFromPassword with
// cost-bound validation), generalized to persist into the shared
// htpasswd file rather than print a single hash to stdout.
func SetPassword(path, user, pass string, cost int) error {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		return fmt.Errorf("credstore: invalid bcrypt cost %d", cost)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(pass), cost)
	if err != nil {
		return fmt.Errorf("credstore: generate hash: %w", err)
	}
	lines, err := readLines(path)
	if err != nil {
		return err
	}
	replaced := false
	for i, line := range lines {
		u, _, ok := strings.Cut(line, ":")
		if ok && u == user {
			lines[i] = user + ":" + string(hash)
			replaced = true
			break
		}
	}
	if !replaced {
		lines = append(lines, user+":"+string(hash))
	}
	return writeLines(path, lines)
}

// RemoveUser deletes user's line from the htpasswd file at path.
func RemoveUser(path, user string) error {
	lines, err := readLines(path)
	if err != nil {
		return err
	}
	out := lines[:0]
	found := false
	for _, line := range lines {
		u, _, ok := strings.Cut(line, ":")
		if ok && u == user {
			found = true
			continue
		}
		out = append(out, line)
	}
	if !found {
		return resticerr.New(resticerr.NotFound, "credstore.RemoveUser", fmt.Errorf("user %q not found", user))
	}
	return writeLines(path, out)
}

func readLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("credstore: open %s: %w", path, err)
	}
	defer f.Close()
	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("credstore: read %s: %w", path, err)
	}
	return lines, nil
}

// writeLines rewrites path atomically: write to a sibling temp file,
// fsync, rename over the original. Mirrors the create-then-rename
// pattern used throughout the storage engine so a crash mid-write
// never leaves a half-written credentials file (spec §3 I2).
func writeLines(path string, lines []string) error {
	tmp := path + ".tmp"
	var b strings.Builder
	for _, l := range lines {
		b.WriteString(l)
		b.WriteByte('\n')
	}
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("credstore: create temp file: %w", err)
	}
	if _, err := f.WriteString(b.String()); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("credstore: write temp file: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("credstore: fsync temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("credstore: close temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("credstore: rename temp file: %w", err)
	}
	return nil
}
