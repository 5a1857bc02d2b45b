// Package config defines the server configuration document (spec §6):
// a single YAML file with server/storage/auth/acl/tls/log sections, all
// overridable by CLI flags in cmd/restserve.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration document.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Storage StorageConfig `yaml:"storage"`
	Auth    AuthConfig    `yaml:"auth"`
	ACL     ACLConfig     `yaml:"acl"`
	TLS     TLSConfig     `yaml:"tls"`
	Log     LogConfig     `yaml:"log"`

	// Root is the common root relative paths below are resolved
	// against. Empty means the current working directory.
	Root string `yaml:"root,omitempty"`
}

type ServerConfig struct {
	Listen string `yaml:"listen"` // host:port
	Prefix string `yaml:"prefix"` // optional URL path prefix
}

type StorageConfig struct {
	DataDir string `yaml:"data-dir"`
	// Quota is accepted and stored but never enforced (spec §1 Non-goals).
	Quota string `yaml:"quota,omitempty"`
}

type AuthConfig struct {
	DisableAuth  bool   `yaml:"disable-auth"`
	HtpasswdFile string `yaml:"htpasswd-file"`
}

type ACLConfig struct {
	DisableACL   bool   `yaml:"disable-acl"`
	ACLPath      string `yaml:"acl-path"`
	AppendOnly   bool   `yaml:"append-only"`
	PrivateRepos bool   `yaml:"private-repos"`
}

type TLSConfig struct {
	DisableTLS bool   `yaml:"disable-tls"`
	TLSCert    string `yaml:"tls-cert"`
	TLSKey     string `yaml:"tls-key"`
}

type LogConfig struct {
	LogLevel string `yaml:"log-level"`
	LogFile  string `yaml:"log-file"`
}

// Default returns a Config with the conservative defaults the `config`
// CLI subcommand bootstraps from.
func Default() Config {
	return Config{
		Server: ServerConfig{Listen: "0.0.0.0:8000"},
		Log:    LogConfig{LogLevel: "info"},
	}
}

// Load reads and parses a YAML configuration document from path.
func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// Save writes cfg as YAML to path, creating parent directories as needed.
func Save(path string, cfg Config) error {
	b, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("mkdir config dir: %w", err)
		}
	}
	return os.WriteFile(path, b, 0o644)
}

// ResolvePaths rewrites relative Storage/Auth/ACL/TLS paths against
// Root, matching spec §6's "all paths may be absolute or relative to a
// configurable common root".
func (c *Config) ResolvePaths() error {
	root := c.Root
	if root == "" {
		var err error
		root, err = os.Getwd()
		if err != nil {
			return fmt.Errorf("resolve root: %w", err)
		}
	}
	resolve := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(root, p)
	}
	c.Storage.DataDir = resolve(c.Storage.DataDir)
	c.Auth.HtpasswdFile = resolve(c.Auth.HtpasswdFile)
	c.ACL.ACLPath = resolve(c.ACL.ACLPath)
	c.TLS.TLSCert = resolve(c.TLS.TLSCert)
	c.TLS.TLSKey = resolve(c.TLS.TLSKey)
	c.Log.LogFile = resolve(c.Log.LogFile)
	return nil
}

// Validate checks the minimal invariants the server needs to start.
func (c *Config) Validate() error {
	if c.Storage.DataDir == "" {
		return fmt.Errorf("storage.data-dir is required")
	}
	if c.Server.Listen == "" {
		return fmt.Errorf("server.listen is required")
	}
	if !c.Auth.DisableAuth && c.Auth.HtpasswdFile == "" {
		return fmt.Errorf("auth.htpasswd-file is required unless auth.disable-auth is set")
	}
	return nil
}
