package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"robottelo/internal/fixture"
	"robottelo/internal/selection"
	"robottelo/internal/settings"
	"robottelo/pkg/logging"
)

// Exit codes for CLI commands.
const (
	// ExitCodeSuccess indicates every selected test passed or was skipped.
	ExitCodeSuccess = 0
	// ExitCodeFailures indicates failed or errored tests, or a general error.
	ExitCodeFailures = 1
	// ExitCodeConfiguration indicates a collection or settings failure: a
	// missing first-in-subset item, a fixture cycle, a scope widening or
	// settings that do not validate.
	ExitCodeConfiguration = 2
	// ExitCodeInterrupted indicates the session was interrupted.
	ExitCodeInterrupted = 130
)

// ExitError carries an exit code. An empty Message prints nothing.
type ExitError struct {
	Code    int
	Message string
}

func (e *ExitError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("exit status %d", e.Code)
	}
	return e.Message
}

var (
	logLevel          string
	logFormat         string
	settingsPath      string
	settingsOverrides []string
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "robottelo",
	Short: "Run Satellite test suites with scoped fixtures and layered settings",
	Long: `robottelo runs test suites against a Satellite server.

Settings are read from a YAML file, an optional settings.local.yaml next to
it, ROBOTTELO_ environment variables and --set overrides, in that order, and
are validated before anything runs. Tests request fixtures that are set up
once per function, module or session and torn down in reverse order.`,
	// SilenceUsage prevents Cobra from printing the usage message on errors that are handled by the application.
	SilenceUsage: true,
	// Errors are printed by Execute so that exit-only errors stay quiet.
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level, err := logging.ParseLevel(logLevel)
		if err != nil {
			return err
		}
		format := logging.Format(logFormat)
		if format != logging.FormatText && format != logging.FormatJSON {
			return fmt.Errorf("invalid log format %q, must be 'text' or 'json'", logFormat)
		}
		logging.InitForCLIWithFormat(level, format, cmd.ErrOrStderr())
		return nil
	},
}

// SetVersion sets the version for the root command.
func SetVersion(v string) {
	rootCmd.Version = v
}

// GetVersion returns the current version of the application.
func GetVersion() string {
	return rootCmd.Version
}

// Execute is the main entry point for the CLI application.
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "robottelo version %s\n" .Version}}`)

	err := rootCmd.Execute()
	if err != nil {
		var exit *ExitError
		if !errors.As(err, &exit) || exit.Message != "" {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		os.Exit(getExitCode(err))
	}
}

// getExitCode determines the appropriate exit code based on the error type.
func getExitCode(err error) int {
	if err == nil {
		return ExitCodeSuccess
	}

	var exit *ExitError
	if errors.As(err, &exit) {
		return exit.Code
	}

	var (
		collection *selection.ConfigurationException
		cycle      *fixture.FixtureCycleError
		widening   *fixture.ScopeWideningError
		missing    *fixture.FixtureNotRegistered
		config     *settings.ConfigurationError
		path       *settings.ConfigPathMissing
	)
	switch {
	case errors.As(err, &collection),
		errors.As(err, &cycle),
		errors.As(err, &widening),
		errors.As(err, &missing),
		errors.As(err, &config),
		errors.As(err, &path):
		return ExitCodeConfiguration
	}

	return ExitCodeFailures
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "Log format (text, json)")
	rootCmd.PersistentFlags().StringVar(&settingsPath, "settings", "", "Settings file (default ./conf/settings.yaml when present)")
	rootCmd.PersistentFlags().StringArrayVar(&settingsOverrides, "set", nil, "Override a setting, e.g. --set server.port=8443 (repeatable)")

	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newSettingsCmd())
	rootCmd.AddCommand(newFixturesCmd())
}
