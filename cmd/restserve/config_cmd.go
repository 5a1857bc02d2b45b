package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"restserve/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Interactively bootstrap a server configuration file",
	Args:  cobra.ExactArgs(1),
	RunE:  runConfigBootstrap,
}

func runConfigBootstrap(cmd *cobra.Command, args []string) error {
	outPath := args[0]
	reader := bufio.NewReader(os.Stdin)
	cfg := config.Default()

	cfg.Server.Listen = prompt(reader, "Listen address", cfg.Server.Listen)
	cfg.Storage.DataDir = prompt(reader, "Data directory", "./data")
	cfg.Auth.HtpasswdFile = prompt(reader, "Htpasswd file (blank to disable auth)", "")
	cfg.Auth.DisableAuth = cfg.Auth.HtpasswdFile == ""
	cfg.ACL.ACLPath = prompt(reader, "ACL file (blank to disable ACL)", "")
	cfg.ACL.DisableACL = cfg.ACL.ACLPath == ""
	cfg.ACL.AppendOnly = promptBool(reader, "Append-only", false)
	cfg.ACL.PrivateRepos = promptBool(reader, "Private repos", false)
	cfg.TLS.DisableTLS = !promptBool(reader, "Enable TLS", false)
	if !cfg.TLS.DisableTLS {
		cfg.TLS.TLSCert = prompt(reader, "TLS certificate path", "")
		cfg.TLS.TLSKey = prompt(reader, "TLS key path", "")
	}

	if err := cfg.Validate(); err != nil {
		return asConfigError(fmt.Errorf("invalid configuration: %w", err))
	}
	if err := config.Save(outPath, cfg); err != nil {
		return asConfigError(fmt.Errorf("save config: %w", err))
	}
	fmt.Printf("wrote %s\n", outPath)
	return nil
}

func prompt(r *bufio.Reader, label, def string) string {
	if def != "" {
		fmt.Printf("%s [%s]: ", label, def)
	} else {
		fmt.Printf("%s: ", label)
	}
	line, _ := r.ReadString('\n')
	line = strings.TrimSpace(line)
	if line == "" {
		return def
	}
	return line
}

func promptBool(r *bufio.Reader, label string, def bool) bool {
	defStr := "y/N"
	if def {
		defStr = "Y/n"
	}
	fmt.Printf("%s? [%s]: ", label, defStr)
	line, _ := r.ReadString('\n')
	line = strings.TrimSpace(strings.ToLower(line))
	if line == "" {
		return def
	}
	return line == "y" || line == "yes"
}
