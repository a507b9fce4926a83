package cli

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/zero-day-ai/stixgraph/exporter"
	"github.com/zero-day-ai/stixgraph/graph"
	"github.com/zero-day-ai/stixgraph/stix"
)

// ExportOptions holds flags shared by the export subcommands.
type ExportOptions struct {
	*RootOptions
	Output string
	Indent bool
	Mode   string
	Filter []string
	Where  string
}

// NewExportCommand creates the export command and its subcommands.
func NewExportCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ExportOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export graph entities as a STIX bundle",
	}
	cmd.PersistentFlags().StringVarP(&opts.Output, "output", "o", "", "write the bundle to a file instead of stdout")
	cmd.PersistentFlags().BoolVar(&opts.Indent, "indent", false, "indent the bundle JSON")

	cmd.AddCommand(newExportEntityCommand(opts))
	cmd.AddCommand(newExportListCommand(opts))
	return cmd
}

func newExportEntityCommand(opts *ExportOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "entity <id>",
		Short: "Export one entity and what it references",
		Long: `Export one entity by internal id or STIX id.

In simple mode the bundle holds the entity and the objects it references.
In full mode it also holds every related entity and the relationships
between exported entities.

Example:
  stixgraph export entity intrusion-set--bef4c620-0787-42a8-a96d-b7eb6e85917c --mode full`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return exportEntity(opts, args[0], cmd)
		},
	}
	cmd.Flags().StringVar(&opts.Mode, "mode", string(exporter.ModeSimple), "export mode (simple|full)")
	return cmd
}

func newExportListCommand(opts *ExportOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list <type>",
		Short: "Export every entity of a type matching a filter",
		Long: `Export every entity of a type matching a filter.

Filters are key=value1,value2 pairs; all must match. --where takes a CEL
expression over attrs, labels, type and stix_id.

Example:
  stixgraph export list intrusion-set --filter labels=apt --where 'attrs.name.startsWith("APT")'`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return exportList(opts, args[0], cmd)
		},
	}
	cmd.Flags().StringArrayVar(&opts.Filter, "filter", nil, "filter condition key=v1,v2 (repeatable)")
	cmd.Flags().StringVar(&opts.Where, "where", "", "CEL filter expression")
	return cmd
}

func exportEntity(opts *ExportOptions, id string, cmd *cobra.Command) error {
	mode, err := exporter.ParseMode(opts.Mode)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid --mode", err)
	}

	client, err := opts.client(cmd)
	if err != nil {
		return err
	}
	defer client.Close()

	var bundle *stix.Bundle
	if strings.Contains(id, "--") {
		bundle, err = client.ExportEntityByStixID(cmd.Context(), id, mode)
	} else {
		bundle, err = client.ExportEntity(cmd.Context(), id, mode)
	}
	if err != nil {
		return err
	}
	return opts.writeBundle(cmd, bundle)
}

func exportList(opts *ExportOptions, typ string, cmd *cobra.Command) error {
	filter, err := parseFilter(opts.Filter, opts.Where)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid --filter", err)
	}

	client, err := opts.client(cmd)
	if err != nil {
		return err
	}
	defer client.Close()

	bundle, err := client.ExportList(cmd.Context(), graph.EntityType(typ), filter)
	if err != nil {
		return err
	}
	return opts.writeBundle(cmd, bundle)
}

func (opts *ExportOptions) writeBundle(cmd *cobra.Command, bundle *stix.Bundle) error {
	var w io.Writer = cmd.OutOrStdout()
	if opts.Output != "" {
		f, err := os.Create(opts.Output)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to create output file", err)
		}
		defer f.Close()
		w = f
	}
	if err := bundle.Encode(w, opts.Indent); err != nil {
		return err
	}
	opts.formatter(cmd).VerboseLog("exported %d objects", len(bundle.Objects))
	return nil
}

// parseFilter turns key=v1,v2 pairs into a graph.Filter.
func parseFilter(pairs []string, where string) (graph.Filter, error) {
	filter := graph.Filter{Where: where}
	for _, pair := range pairs {
		key, values, ok := strings.Cut(pair, "=")
		if !ok || key == "" || values == "" {
			return graph.Filter{}, fmt.Errorf("expected key=value[,value...], got %q", pair)
		}
		filter.Conditions = append(filter.Conditions, graph.Condition{
			Key:    key,
			Values: strings.Split(values, ","),
		})
	}
	return filter, nil
}
