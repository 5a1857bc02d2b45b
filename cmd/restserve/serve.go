package main

import (
	"fmt"
	"net/http"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"restserve/internal/aclstore"
	"restserve/internal/config"
	"restserve/internal/credstore"
	"restserve/internal/gate"
	"restserve/internal/httpserver"
	"restserve/internal/rlog"
	"restserve/internal/store"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the REST repository server",
	RunE:  runServe,
}

func init() {
	flags := serveCmd.Flags()
	flags.String("listen", "", "override server.listen (host:port)")
	flags.String("data-dir", "", "override storage.data-dir")
	flags.Bool("disable-auth", false, "override auth.disable-auth")
	flags.String("htpasswd-file", "", "override auth.htpasswd-file")
	flags.Bool("disable-acl", false, "override acl.disable-acl")
	flags.String("acl-path", "", "override acl.acl-path")
	flags.Bool("append-only", false, "override acl.append-only")
	flags.Bool("private-repos", false, "override acl.private-repos")
	flags.String("tls-cert", "", "override tls.tls-cert")
	flags.String("tls-key", "", "override tls.tls-key")
	flags.Bool("disable-tls", false, "override tls.disable-tls")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfigWithOverrides(cmd)
	if err != nil {
		return asConfigError(err)
	}

	if err := rlog.Init(rlog.Config{Level: cfg.Log.LogLevel, File: cfg.Log.LogFile}); err != nil {
		return asConfigError(fmt.Errorf("init logging: %w", err))
	}
	logger := rlog.WithComponent("serve")

	var creds *credstore.Store
	if !cfg.Auth.DisableAuth {
		creds, err = credstore.Load(cfg.Auth.HtpasswdFile)
		if err != nil {
			return asConfigError(fmt.Errorf("load credentials: %w", err))
		}
	}

	var acls *aclstore.Store
	if !cfg.ACL.DisableACL {
		acls, err = aclstore.Load(cfg.ACL.ACLPath)
		if err != nil {
			return asConfigError(fmt.Errorf("load ACL: %w", err))
		}
	}

	policy := gate.Policy{
		DisableAuth:  cfg.Auth.DisableAuth,
		DisableACL:   cfg.ACL.DisableACL,
		AppendOnly:   cfg.ACL.AppendOnly,
		PrivateRepos: cfg.ACL.PrivateRepos,
	}
	g := gate.New(creds, acls, policy)
	eng := store.NewEngine(cfg.Storage.DataDir)
	srv := httpserver.New(g, eng, cfg.Server.Prefix)

	logger.Info().Str("listen", cfg.Server.Listen).Str("data_dir", cfg.Storage.DataDir).Msg("starting server")

	if !cfg.TLS.DisableTLS {
		return http.ListenAndServeTLS(cfg.Server.Listen, cfg.TLS.TLSCert, cfg.TLS.TLSKey, srv)
	}
	return http.ListenAndServe(cfg.Server.Listen, srv)
}

// loadConfigWithOverrides loads the configured file, if any, then
// layers in any explicitly set CLI flags. Flags exist for the listen,
// data-dir, auth, acl and tls keys only; server.prefix, storage.quota,
// log.log-level, log.log-file and root are taken from the file alone.
func loadConfigWithOverrides(cmd *cobra.Command) (config.Config, error) {
	cfg := config.Default()
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		var err error
		cfg, err = config.Load(path)
		if err != nil {
			return config.Config{}, err
		}
	}

	flags := cmd.Flags()
	applyStringOverride(flags, "listen", &cfg.Server.Listen)
	applyStringOverride(flags, "data-dir", &cfg.Storage.DataDir)
	applyBoolOverride(flags, "disable-auth", &cfg.Auth.DisableAuth)
	applyStringOverride(flags, "htpasswd-file", &cfg.Auth.HtpasswdFile)
	applyBoolOverride(flags, "disable-acl", &cfg.ACL.DisableACL)
	applyStringOverride(flags, "acl-path", &cfg.ACL.ACLPath)
	applyBoolOverride(flags, "append-only", &cfg.ACL.AppendOnly)
	applyBoolOverride(flags, "private-repos", &cfg.ACL.PrivateRepos)
	applyStringOverride(flags, "tls-cert", &cfg.TLS.TLSCert)
	applyStringOverride(flags, "tls-key", &cfg.TLS.TLSKey)
	applyBoolOverride(flags, "disable-tls", &cfg.TLS.DisableTLS)

	if err := cfg.ResolvePaths(); err != nil {
		return config.Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func applyStringOverride(flags *pflag.FlagSet, name string, dst *string) {
	if flags.Changed(name) {
		v, _ := flags.GetString(name)
		*dst = v
	}
}

func applyBoolOverride(flags *pflag.FlagSet, name string, dst *bool) {
	if flags.Changed(name) {
		v, _ := flags.GetBool(name)
		*dst = v
	}
}
