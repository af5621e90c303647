// Package cli wires the engine behind a cobra command tree: ingest, ask,
// rm, status, and version.
package cli

import (
	"errors"

	"github.com/spf13/cobra"
)

// Exit codes.
const (
	ExitSuccess       = 0
	ExitGenericError  = 1
	ExitConfigInvalid = 2
	ExitStoreFailure  = 3
	ExitIngestFatal   = 4
)

// GlobalFlags holds flags shared across all commands.
type GlobalFlags struct {
	ConfigPath string
	StateDir   string
	JSON       bool
	Debug      bool
	Quiet      bool
}

var globalFlags GlobalFlags

var rootCmd = &cobra.Command{
	Use:   "docrag",
	Short: "Grounded question answering over your own documents",
	Long:  "docrag ingests PDF and plain-text documents into a multimodal knowledge base and answers questions with citations back to pages.",
	// Errors are printed once by main; command failures are not usage errors.
	SilenceUsage:  true,
	SilenceErrors: true,
}

// exitCodeError is an error that carries a process exit code. Commands
// return it from RunE so deferred cleanup still runs; main maps it with
// ExitCode.
type exitCodeError struct {
	code int
	msg  string
}

func (e *exitCodeError) Error() string { return e.msg }

// ExitCode returns the process exit code for err.
func ExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var ec *exitCodeError
	if errors.As(err, &ec) {
		return ec.code
	}
	return ExitGenericError
}

func init() {
	rootCmd.PersistentFlags().StringVar(&globalFlags.ConfigPath, "config", "", "config file path (TOML)")
	rootCmd.PersistentFlags().StringVar(&globalFlags.StateDir, "state-dir", "", "state directory (default: ./.docrag)")
	rootCmd.PersistentFlags().BoolVar(&globalFlags.JSON, "json", false, "emit JSON output for automation")
	rootCmd.PersistentFlags().BoolVar(&globalFlags.Debug, "debug", false, "verbose logging")
	rootCmd.PersistentFlags().BoolVar(&globalFlags.Quiet, "quiet", false, "reduce output")

	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(askCmd)
	rootCmd.AddCommand(rmCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(versionCmd)
}

// Execute runs the root command. The caller maps the returned error to a
// process exit code with ExitCode.
func Execute() error {
	return rootCmd.Execute()
}
