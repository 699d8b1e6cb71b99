package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/quillnb/quill/internal/schema"
	"github.com/quillnb/quill/internal/store"
)

// ExportOptions holds flags for the export command.
type ExportOptions struct {
	*RootOptions
	Database string
	Output   string
}

// NewExportCommand creates the export command.
func NewExportCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ExportOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export the stored notebook as YAML",
		Long: `Write the notebook held in a SQLite database out as a YAML document,
outputs and stale flags included.

Example:
  quill export --db quill.db -o notebook.yaml`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExport(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "output file (default stdout)")
	_ = cmd.MarkFlagRequired("db")

	return cmd
}

func runExport(opts *ExportOptions, cmd *cobra.Command) error {
	if _, err := os.Stat(opts.Database); err != nil {
		return WrapExitError(ExitCommandError,
			fmt.Sprintf("database not found: %s", opts.Database), err)
	}
	st, err := store.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	out, err := schema.Dump(st.Current())
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to render notebook", err)
	}

	if opts.Output == "" {
		_, err = cmd.OutOrStdout().Write(out)
		return err
	}
	if err := os.WriteFile(opts.Output, out, 0o644); err != nil {
		return WrapExitError(ExitCommandError,
			fmt.Sprintf("failed to write %s", opts.Output), err)
	}
	return nil
}
