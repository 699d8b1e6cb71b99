package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/quillnb/quill/internal/cell"
	"github.com/quillnb/quill/internal/schema"
	"github.com/quillnb/quill/internal/template"
)

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid      bool     `json:"valid"`
	Cells      int      `json:"cells"`
	Unresolved []string `json:"unresolved,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <notebook.yaml>",
		Short: "Validate a notebook document",
		Long: `Validate a YAML notebook document against the notebook schema.

Checks structure and cell types, then reports references that do not
resolve to any cell. Unresolved references are warnings, not errors:
they expand to the empty string at run time.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}
	return cmd
}

func runValidate(opts *RootOptions, path string, cmd *cobra.Command) error {
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

	formatter.VerboseLog("Loaded %d cell(s) from %s", len(nb.Cells), path)

	unresolved := unresolvedReferences(nb.Cells)
	result := ValidationResult{Valid: true, Cells: len(nb.Cells), Unresolved: unresolved}

	if opts.Format == "json" {
		return formatter.Success(result)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "valid: %d cell(s)\n", len(nb.Cells))
	for _, ref := range unresolved {
		fmt.Fprintf(cmd.ErrOrStderr(), "warning: unresolved reference {{%s}}\n", ref)
	}
	return nil
}

// unresolvedReferences collects reference bases that do not point at any
// cell, across every templated cell.
func unresolvedReferences(cells []cell.Cell) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, c := range cells {
		if !c.Type.Templated() {
			continue
		}
		for _, base := range template.References(c.Text) {
			if _, ok := template.LookupCell(cells, base); ok {
				continue
			}
			if _, dup := seen[base]; dup {
				continue
			}
			seen[base] = struct{}{}
			out = append(out, base)
		}
	}
	return out
}
