package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"

	"restserve/internal/config"
	"restserve/internal/credstore"
)

var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Manage users in the credential file",
}

var authAddCmd = &cobra.Command{
	Use:   "add <user> <password>",
	Short: "Add or update a user's password",
	Args:  cobra.ExactArgs(2),
	RunE:  runAuthAdd,
}

var authRemoveCmd = &cobra.Command{
	Use:   "remove <user>",
	Short: "Remove a user",
	Args:  cobra.ExactArgs(1),
	RunE:  runAuthRemove,
}

var authListCmd = &cobra.Command{
	Use:   "list",
	Short: "List users",
	Args:  cobra.NoArgs,
	RunE:  runAuthList,
}

func init() {
	authCmd.PersistentFlags().Int("cost", bcrypt.DefaultCost, "bcrypt cost for newly set passwords")
	authCmd.AddCommand(authAddCmd, authRemoveCmd, authListCmd)
}

func htpasswdPathFromFlags(cmd *cobra.Command) (string, error) {
	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		return "", fmt.Errorf("--config is required to locate the credential file")
	}
	cfg, err := config.Load(path)
	if err != nil {
		return "", fmt.Errorf("load config: %w", err)
	}
	if err := cfg.ResolvePaths(); err != nil {
		return "", err
	}
	if cfg.Auth.HtpasswdFile == "" {
		return "", fmt.Errorf("auth.htpasswd-file is not set in %s", path)
	}
	return cfg.Auth.HtpasswdFile, nil
}

func runAuthAdd(cmd *cobra.Command, args []string) error {
	path, err := htpasswdPathFromFlags(cmd)
	if err != nil {
		return asConfigError(err)
	}
	cost, _ := cmd.Flags().GetInt("cost")
	if err := credstore.SetPassword(path, args[0], args[1], cost); err != nil {
		return err
	}
	fmt.Printf("user %q set\n", args[0])
	return nil
}

func runAuthRemove(cmd *cobra.Command, args []string) error {
	path, err := htpasswdPathFromFlags(cmd)
	if err != nil {
		return asConfigError(err)
	}
	if err := credstore.RemoveUser(path, args[0]); err != nil {
		return err
	}
	fmt.Printf("user %q removed\n", args[0])
	return nil
}

func runAuthList(cmd *cobra.Command, args []string) error {
	path, err := htpasswdPathFromFlags(cmd)
	if err != nil {
		return asConfigError(err)
	}
	store, err := credstore.Load(path)
	if err != nil {
		return err
	}
	users := store.Users()
	sort.Strings(users)
	for _, u := range users {
		fmt.Println(u)
	}
	return nil
}
