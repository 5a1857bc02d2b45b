package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigWithOverrides(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "restserve.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(`
server:
  listen: "0.0.0.0:8000"
storage:
  data-dir: "./data"
auth:
  disable-auth: true
acl:
  disable-acl: true
`), 0o644))

	cmd := serveCmd
	require.NoError(t, cmd.ParseFlags([]string{"--config=" + cfgPath, "--listen=127.0.0.1:9000"}))

	cfg, err := loadConfigWithOverrides(cmd)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9000", cfg.Server.Listen)
	assert.True(t, cfg.Auth.DisableAuth)
	assert.True(t, filepath.IsAbs(cfg.Storage.DataDir))
}
