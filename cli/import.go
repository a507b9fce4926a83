package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/zero-day-ai/stixgraph/importer"
)

// ImportOptions holds flags for the import command.
type ImportOptions struct {
	*RootOptions
	Update bool
}

// NewImportCommand creates the import command.
func NewImportCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ImportOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "import <file|->",
		Short: "Import a STIX bundle into the graph",
		Long: `Import a STIX bundle into the graph.

Objects are written in dependency order regardless of their order in the
bundle. Objects already in the graph are left untouched unless --update is
given. The command exits with status 1 when the import recorded failures or
skipped references.

Example:
  stixgraph import enterprise-attack.json --update`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImport(opts, args[0], cmd)
		},
	}
	cmd.Flags().BoolVar(&opts.Update, "update", false, "overwrite objects that already exist")

	return cmd
}

func runImport(opts *ImportOptions, path string, cmd *cobra.Command) error {
	r, closeFn, err := openInput(cmd, path)
	if err != nil {
		return err
	}
	defer closeFn()

	client, err := opts.client(cmd)
	if err != nil {
		return err
	}
	defer client.Close()

	res, err := client.Import(cmd.Context(), r, opts.Update)
	out := opts.formatter(cmd)
	if res != nil {
		if werr := out.Success(res, func(w io.Writer) { printResult(w, res) }); werr != nil {
			return werr
		}
	}
	if err != nil {
		return WrapExitError(ExitFailure, "import stopped", err)
	}
	if res.Status != importer.StatusComplete {
		return NewExitError(ExitFailure, fmt.Sprintf("import finished with status %s", res.Status))
	}
	return nil
}

func printResult(w io.Writer, res *importer.Result) {
	fmt.Fprintf(w, "Status:    %s\n", res.Status)
	fmt.Fprintf(w, "Created:   %d\n", len(res.CreatedIDs))
	fmt.Fprintf(w, "Updated:   %d\n", len(res.UpdatedIDs))
	fmt.Fprintf(w, "Unchanged: %d\n", res.Unchanged())
	for _, s := range res.SkippedRefs {
		fmt.Fprintf(w, "Skipped:   %s %s -> %s\n", s.StixID, s.Field, s.Ref)
	}
	for _, f := range res.Failures {
		fmt.Fprintf(w, "Failed:    %s (%s): %s\n", f.StixID, f.Kind, f.Reason)
	}
}

// openInput opens path, or stdin for "-".
func openInput(cmd *cobra.Command, path string) (io.Reader, func(), error) {
	if path == "-" {
		return cmd.InOrStdin(), func() {}, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, WrapExitError(ExitCommandError, "failed to open bundle", err)
	}
	return f, func() { f.Close() }, nil
}
