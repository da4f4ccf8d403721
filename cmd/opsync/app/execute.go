package app

import (
	"context"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/agentstation/opsync/cmd/opsync/cmd/ack"
	"github.com/agentstation/opsync/cmd/opsync/cmd/get"
	"github.com/agentstation/opsync/cmd/opsync/cmd/runbook"
	"github.com/agentstation/opsync/cmd/opsync/cmd/serve"
	"github.com/agentstation/opsync/cmd/opsync/cmd/skill"
	"github.com/agentstation/opsync/cmd/opsync/cmd/status"
	"github.com/agentstation/opsync/cmd/opsync/cmd/watch"
	"github.com/agentstation/opsync/internal/config"
	"github.com/agentstation/opsync/internal/output"
	"github.com/agentstation/opsync/internal/stream"
	"github.com/agentstation/opsync/pkg/errors"
)

// Execute runs the opsync CLI application with the given arguments.
func (a *App) Execute(ctx context.Context, args []string) error {
	rootCmd := a.createRootCommand()
	rootCmd.SetArgs(args)
	return rootCmd.ExecuteContext(ctx)
}

// createRootCommand creates the root cobra command with all subcommands.
func (a *App) createRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:     "opsync",
		Short:   "Operations console telemetry sync",
		Version: a.version,
		Long: `Opsync keeps a live local copy of an operations console backend:
metrics, alerts, incidents, runbooks, skills and dashboard stats.

Updates arrive over the backend's push channel when it is up, and every
class is re-polled over REST on a timer so the copy converges while the
push channel is down.`,
		PersistentPreRunE: a.setupCommand,
		SilenceUsage:      true,
		SilenceErrors:     true,
	}

	rootCmd.AddGroup(&cobra.Group{
		ID:    "core",
		Title: "Core Commands:",
	})
	rootCmd.AddGroup(&cobra.Group{
		ID:    "actions",
		Title: "Console Actions:",
	})

	rootCmd.PersistentFlags().StringVar(&a.flags.ConfigFile, "config", "", "config file (default is .opsync.yaml in . or $HOME)")
	rootCmd.PersistentFlags().BoolVarP(&a.flags.Verbose, "verbose", "v", false, "verbose output (shortcut for --log-level=debug)")
	rootCmd.PersistentFlags().BoolVarP(&a.flags.Quiet, "quiet", "q", false, "minimal output (shortcut for --log-level=warn)")
	rootCmd.PersistentFlags().BoolVar(&a.flags.NoColor, "no-color", false, "disable colored output")
	rootCmd.PersistentFlags().StringVarP(&a.flags.Output, "output", "o", "", "output format: table, json, yaml")
	rootCmd.PersistentFlags().StringVar(&a.flags.LogLevel, "log-level", "", "log level: trace, debug, info, warn, error (overrides -v/-q)")
	rootCmd.PersistentFlags().StringVar(&a.flags.BaseURL, "base-url", "", "console backend URL (default "+config.DefaultBaseURL+")")
	rootCmd.PersistentFlags().BoolVar(&a.flags.NoPush, "no-push", false, "poll only, never open the push channel")

	rootCmd.SetVersionTemplate("opsync {{.Version}}\n")

	a.registerCommands(rootCmd)

	return rootCmd
}

// setupCommand is called before any command runs.
func (a *App) setupCommand(cmd *cobra.Command, _ []string) error {
	// These flags are defined as persistent flags in createRootCommand, so errors indicate programming errors
	flags := Flags{
		ConfigFile: mustGetString(cmd, "config"),
		Verbose:    mustGetBool(cmd, "verbose"),
		Quiet:      mustGetBool(cmd, "quiet"),
		NoColor:    mustGetBool(cmd, "no-color"),
		Output:     mustGetString(cmd, "output"),
		LogLevel:   mustGetString(cmd, "log-level"),
		BaseURL:    mustGetString(cmd, "base-url"),
		NoPush:     mustGetBool(cmd, "no-push"),
	}
	a.flags = flags

	if flags.ConfigFile != "" {
		cfg, err := config.Load(flags.ConfigFile)
		if err != nil {
			return err
		}
		a.config = cfg
	}

	if err := a.applyFlags(flags); err != nil {
		return err
	}

	if flags.NoColor {
		color.NoColor = true
	}

	logger := NewLogger(a.config, flags)
	a.logger = &logger

	return nil
}

// applyFlags overlays command-line flags on the loaded configuration.
func (a *App) applyFlags(flags Flags) error {
	if flags.BaseURL != "" {
		a.config.BaseURL = strings.TrimRight(flags.BaseURL, "/")
		// the stream URL follows the backend named on the command line
		derived, err := stream.URLFromBase(a.config.BaseURL)
		if err != nil {
			return err
		}
		a.config.StreamURL = derived
	}
	if flags.NoPush {
		a.config.PushDisabled = true
	}
	if _, err := output.ParseFormat(flags.Output); err != nil {
		return err
	}
	return a.config.Validate()
}

// registerCommands registers all subcommands with the root command.
func (a *App) registerCommands(rootCmd *cobra.Command) {
	// Core commands
	rootCmd.AddCommand(watch.NewCommand(a))
	rootCmd.AddCommand(get.NewCommand(a))
	rootCmd.AddCommand(status.NewCommand(a))
	rootCmd.AddCommand(serve.NewCommand(a))

	// Console actions
	rootCmd.AddCommand(ack.NewCommand(a))
	rootCmd.AddCommand(runbook.NewCommand(a))
	rootCmd.AddCommand(skill.NewCommand(a))

	// Utility commands
	rootCmd.AddCommand(a.NewVersionCommand())
}

// NewVersionCommand creates the version command.
func (a *App) NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, _ []string) {
			cmd.Printf("opsync %s\n", a.version)
			if a.flags.Verbose {
				cmd.Printf("  commit:   %s\n", a.commit)
				cmd.Printf("  built:    %s\n", a.date)
				cmd.Printf("  built by: %s\n", a.builtBy)
			}
		},
	}
}

// ExitOnError is a helper that prints an error and exits with status 1.
// This is meant to be used in main.go for top-level error handling.
func ExitOnError(err error) {
	if err != nil {
		//nolint:errcheck // Ignoring write error since we're exiting anyway
		_, _ = os.Stderr.WriteString(err.Error() + "\n")
		os.Exit(exitCode(err))
	}
}

// exitCode maps usage mistakes to 2 and everything else to 1.
func exitCode(err error) int {
	if errors.IsValidationError(err) {
		return 2
	}
	return 1
}

// mustGetBool retrieves a boolean flag value or panics if the flag doesn't exist.
// This should only be used for flags defined in this package.
func mustGetBool(cmd *cobra.Command, name string) bool {
	val, err := cmd.Flags().GetBool(name)
	if err != nil {
		panic("programming error: failed to get flag " + name + ": " + err.Error())
	}
	return val
}

// mustGetString retrieves a string flag value or panics if the flag doesn't exist.
// This should only be used for flags defined in this package.
func mustGetString(cmd *cobra.Command, name string) string {
	val, err := cmd.Flags().GetString(name)
	if err != nil {
		panic("programming error: failed to get flag " + name + ": " + err.Error())
	}
	return val
}
