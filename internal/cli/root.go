// Package cli implements the rover command line.
package cli

import (
	"fmt"
	"io"
	"slices"

	"github.com/spf13/cobra"

	"github.com/roach88/rover/internal/config"
	"github.com/roach88/rover/internal/store"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose bool
	Format  string // "json" | "text"
	// Config is the path of the YAML configuration file. Empty uses
	// defaults and the environment only.
	Config string
	// Database overrides database.path from the configuration.
	Database string
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the rover CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "rover",
		Short: "rover - a host for bots reacting to community content",
		Long: `rover reads the submission and comment streams of a community service and
dispatches every item to a list of handlers, keeping each handler's
reactions deduplicated, honouring bans and revisiting items on a schedule.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			return nil
		},
	}

	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return WrapExitError(ExitCommandError, "bad flags", err)
	})

	// Global flags
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVarP(&opts.Config, "config", "c", "", "path to the YAML configuration file")
	cmd.PersistentFlags().StringVar(&opts.Database, "db", "", "path to the SQLite database (overrides database.path)")

	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewTestCommand(opts))
	cmd.AddCommand(NewPublishCommand(opts))
	cmd.AddCommand(NewRegisterCommand(opts))
	cmd.AddCommand(NewWipeCommand(opts))
	cmd.AddCommand(NewBanCommand(opts))
	cmd.AddCommand(NewUnbanCommand(opts))
	cmd.AddCommand(NewBansCommand(opts))
	cmd.AddCommand(NewStatsCommand(opts))
	cmd.AddCommand(NewTasksCommand(opts))
	cmd.AddCommand(NewScoresCommand(opts))
	cmd.AddCommand(NewMessagesCommand(opts))

	return cmd
}

// Main runs rover with args and returns the process exit code. A failure is
// reported on stderr in the output format the command was run with.
func Main(args []string, stdout, stderr io.Writer) int {
	cmd := NewRootCommand()
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	cmd.SilenceErrors = true

	err := cmd.Execute()
	if err != nil {
		format, _ := cmd.PersistentFlags().GetString("format")
		if !isValidFormat(format) {
			format = "text"
		}
		f := &OutputFormatter{Format: format, Writer: stdout, ErrWriter: stderr}
		f.Fail(err)
	}
	return GetExitCode(err)
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	return slices.Contains(ValidFormats, format)
}

// loadConfig loads the configuration and applies the --db override.
func (o *RootOptions) loadConfig() (config.Config, error) {
	cfg, err := config.Load(o.Config)
	if err != nil {
		return config.Config{}, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	if o.Database != "" {
		cfg.Database.Path = o.Database
	}
	return cfg, nil
}

// openStore opens the configured database. The caller closes it.
func (o *RootOptions) openStore() (*store.Store, error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return nil, err
	}
	st, err := store.Open(cfg.Database.Path)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}
	return st, nil
}

// formatter returns the output formatter of cmd.
func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    o.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   o.Verbose,
	}
}
