// Package cli implements the stixgraph command line.
package cli

import (
	"fmt"
	"log/slog"
	"slices"

	"github.com/spf13/cobra"
	"github.com/zero-day-ai/stixgraph"
	"github.com/zero-day-ai/stixgraph/config"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
	DBPath     string
	Verbose    bool
	Format     string // "json" | "text"
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the stixgraph CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "stixgraph",
		Short: "Exchange threat-intelligence graphs as STIX 2 bundles",
		Long: `stixgraph exports entities of a threat-intelligence graph as STIX 2
bundles and imports bundles back into the graph.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "path to stixgraph.yaml")
	cmd.PersistentFlags().StringVar(&opts.DBPath, "db", "", "SQLite database path (overrides store settings)")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(NewExportCommand(opts))
	cmd.AddCommand(NewImportCommand(opts))
	cmd.AddCommand(NewEnqueueCommand(opts))
	cmd.AddCommand(NewWorkerCommand(opts))
	cmd.AddCommand(NewHealthCommand(opts))

	return cmd
}

// loadConfig loads the configuration and applies flag overrides.
func (o *RootOptions) loadConfig() (*config.Config, error) {
	cfg, err := config.LoadOrDefault(o.ConfigPath)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	if o.DBPath != "" {
		cfg.Store = config.StoreConfig{Driver: "sqlite", DSN: o.DBPath}
	}
	return cfg, nil
}

// logger writes to the command's stderr; Warn and above unless verbose.
func (o *RootOptions) logger(cmd *cobra.Command) *slog.Logger {
	level := slog.LevelWarn
	if o.Verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
}

// client opens a stixgraph.Client from the configuration.
func (o *RootOptions) client(cmd *cobra.Command) (*stixgraph.Client, error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return nil, err
	}
	c, err := stixgraph.New(stixgraph.WithConfig(cfg), stixgraph.WithLogger(o.logger(cmd)))
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open graph", err)
	}
	return c, nil
}

func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    o.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   o.Verbose,
	}
}
