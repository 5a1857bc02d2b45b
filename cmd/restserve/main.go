// Command restserve runs a restic/rustic-compatible REST repository
// server.
//
// Grounded on the teacher's cmd/lanparty/main.go (flag parsing, a
// passwd subcommand alongside the implicit serve path) and on
// cuemby-warren's cmd/warren/main.go (cobra root command with
// PersistentFlags, cobra.OnInitialize for logging setup, subcommands
// registered in init()).
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitCodeFor(err))
	}
}

var rootCmd = &cobra.Command{
	Use:   "restserve",
	Short: "restserve serves a restic/rustic-compatible REST repository",
	Long: `restserve is a REST repository server compatible with the restic
and rustic backup clients: it stores repository objects on the local
filesystem behind HTTP Basic authentication and a per-repository
access control list.`,
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "path to the server configuration file")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(authCmd)
	rootCmd.AddCommand(configCmd)
}

// exitCodeFor maps an error to the CLI exit code: 2 for configuration
// errors, 1 for everything else (0 success is cobra's default on nil).
func exitCodeFor(err error) int {
	if _, ok := err.(*configError); ok {
		return 2
	}
	return 1
}

// configError tags an error as a configuration-time failure so main
// can map it to exit code 2 per the CLI surface's contract.
type configError struct{ err error }

func (e *configError) Error() string { return e.err.Error() }
func (e *configError) Unwrap() error { return e.err }

func asConfigError(err error) error {
	if err == nil {
		return nil
	}
	return &configError{err: err}
}
