package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/quillnb/quill/internal/cell"
	"github.com/quillnb/quill/internal/llm"
	"github.com/quillnb/quill/internal/prompt"
	"github.com/quillnb/quill/internal/sandbox"
	"github.com/quillnb/quill/internal/store"
	"github.com/quillnb/quill/internal/template"
)

// ExecOptions holds flags for the exec command.
type ExecOptions struct {
	*RootOptions
	Cell    string
	Timeout time.Duration

	// Caller overrides the LLM provider registry (for testing).
	Caller llm.Caller
}

// NewExecCommand creates the exec command.
func NewExecCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ExecOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "exec <notebook.yaml>",
		Short: "Run a single cell",
		Long: `Execute one cell of a notebook and print its value.

The cell is addressed by id, name, or 1-based position. Markdown and
variable cells are expanded rather than executed.

Example:
  quill exec notebook.yaml --cell greeting
  quill exec notebook.yaml --cell 3`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExec(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Cell, "cell", "", "cell id, name, or 1-based position (required)")
	cmd.Flags().DurationVar(&opts.Timeout, "timeout", 0, "deadline for the run (0 = none)")
	_ = cmd.MarkFlagRequired("cell")

	return cmd
}

func runExec(opts *ExecOptions, path string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	nb, err := loadNotebookFile(path)
	if err != nil {
		return err
	}

	target, ok := resolveCellRef(nb.Cells, opts.Cell)
	if !ok {
		if oerr := formatter.Error(ErrCodeNoCell,
			fmt.Sprintf("no cell matches %q", opts.Cell), nil); oerr != nil {
			return oerr
		}
		return NewExitError(ExitCommandError, "cell not found")
	}

	st := store.NewMemory(nb)
	env := processEnv()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch target.Type {
	case cell.TypeCode:
		exec := sandbox.New(st, sandbox.WithEnv(env))
		defer exec.Close()
		select {
		case <-exec.RunNow(target.ID):
		case <-ctx.Done():
			return NewExitError(ExitCommandError, "timed out waiting for cell")
		}
	case cell.TypePrompt:
		caller := opts.Caller
		if caller == nil {
			caller = buildRegistry(ctx)
		}
		runner := prompt.New(st, caller, nil, prompt.WithEnv(env))
		runner.Run(ctx, target.ID)
	case cell.TypeMarkdown, cell.TypeVariable:
		expanded := template.ExpandTemplate(target.Text, template.Context{Cells: nb.Cells, Env: env})
		return formatter.Success(expanded)
	}

	final := st.Current()
	idx := cell.FindByID(final.Cells, target.ID)
	if idx < 0 {
		return NewExitError(ExitCommandError, "cell disappeared during run")
	}
	c := final.Cells[idx]
	if c.Error != "" {
		if oerr := formatter.Error(ErrCodeCellFailed, c.Error, nil); oerr != nil {
			return oerr
		}
		return NewExitError(ExitFailure, "cell failed")
	}
	return formatter.Success(c.LastOutput)
}
