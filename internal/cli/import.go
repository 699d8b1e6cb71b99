package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/quillnb/quill/internal/schema"
	"github.com/quillnb/quill/internal/store"
)

// ImportOptions holds flags for the import command.
type ImportOptions struct {
	*RootOptions
	Database string
}

// NewImportCommand creates the import command.
func NewImportCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ImportOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "import <notebook.yaml>",
		Short: "Import a YAML notebook into a database",
		Long: `Validate a YAML notebook document and replace the notebook stored in
the database with it. The document is rejected whole on any validation
error; the stored notebook is left untouched.

Example:
  quill import --db quill.db notebook.yaml`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImport(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")

	return cmd
}

func runImport(opts *ImportOptions, path string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	nb, err := loadNotebookFile(path)
	if err != nil {
		var verr *schema.ValidationError
		if errors.As(err, &verr) {
			if oerr := formatter.Error(ErrCodeInvalidDoc, verr.Message, nil); oerr != nil {
				return oerr
			}
			return NewExitError(ExitFailure, "notebook document is invalid")
		}
		return err
	}

	st, err := store.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	if err := st.Replace(nb); err != nil {
		return WrapExitError(ExitCommandError, "failed to store notebook", err)
	}

	return formatter.Success(fmt.Sprintf("imported %d cell(s) into %s", len(nb.Cells), opts.Database))
}
