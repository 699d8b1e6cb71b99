package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/quillnb/quill/internal/cell"
	"github.com/quillnb/quill/internal/llm"
	"github.com/quillnb/quill/internal/notebook"
	"github.com/quillnb/quill/internal/prompt"
	"github.com/quillnb/quill/internal/sandbox"
	"github.com/quillnb/quill/internal/store"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Database string
	Timeout  time.Duration

	// Caller overrides the LLM provider registry (for testing).
	Caller llm.Caller
}

// CellResult is one cell's outcome in structured run output.
type CellResult struct {
	ID     string `json:"id"`
	Type   string `json:"type"`
	Name   string `json:"name,omitempty"`
	Output string `json:"output,omitempty"`
	Error  string `json:"error,omitempty"`
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <notebook.yaml>",
		Short: "Run every cell of a notebook",
		Long: `Execute all prompt and code cells of a notebook in document order.

Code cells run in the embedded interpreter; prompt cells call the
configured LLM provider (set GEMINI_API_KEY for Gemini models). Each
cell's output is printed after the walk completes.

Example:
  quill run notebook.yaml
  quill run --db quill.db notebook.yaml --verbose`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runNotebook(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "persist results to a SQLite database at this path")
	cmd.Flags().DurationVar(&opts.Timeout, "timeout", 0, "overall deadline for the walk (0 = none)")

	return cmd
}

func runNotebook(opts *RunOptions, path string, cmd *cobra.Command) error {
	nb, err := loadNotebookFile(path)
	if err != nil {
		return err
	}

	st, err := openStore(opts.Database, nb)
	if err != nil {
		return err
	}

	env := processEnv()
	exec := sandbox.New(st, sandbox.WithEnv(env))
	defer exec.Close()

	// Staleness is maintained for the persisted result; auto-run is off
	// because the walk below executes every cell explicitly.
	notebook.New(st, exec, notebook.WithoutAutoRun())

	caller := opts.Caller
	if caller == nil {
		caller = buildRegistry(cmd.Context())
	}
	runner := prompt.New(st, caller, exec, prompt.WithEnv(env))

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

	slog.Info("running notebook", "path", path, "cells", len(nb.Cells))
	runner.RunAll(ctx)

	return reportResults(opts.RootOptions, st.Current(), cmd)
}

// openStore seeds either a SQLite-backed or a memory-only store with the
// loaded notebook.
func openStore(dbPath string, nb cell.Notebook) (*store.Store, error) {
	if dbPath == "" {
		return store.NewMemory(nb), nil
	}
	st, err := store.Open(dbPath)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}
	if err := st.Replace(nb); err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load notebook into database", err)
	}
	return st, nil
}

// buildRegistry wires the available LLM providers from the environment.
func buildRegistry(ctx context.Context) *llm.Registry {
	if ctx == nil {
		ctx = context.Background()
	}
	reg := llm.NewRegistry()
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		g, err := llm.NewGemini(ctx, key)
		if err != nil {
			slog.Warn("gemini provider unavailable", "error", err)
		} else {
			reg.Register("gemini", g)
		}
	}
	return reg
}

// reportResults prints each executable cell's outcome and returns a
// failure exit code when any cell recorded an error.
func reportResults(opts *RootOptions, nb cell.Notebook, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	var results []CellResult
	failed := 0
	for _, c := range nb.Cells {
		if !c.Type.Executable() {
			continue
		}
		results = append(results, CellResult{
			ID:     c.ID,
			Type:   c.Type.String(),
			Name:   c.Name,
			Output: c.LastOutput,
			Error:  c.Error,
		})
		if c.Error != "" {
			failed++
		}
	}

	if opts.Format == "json" {
		if err := formatter.Success(results); err != nil {
			return err
		}
	} else {
		for _, r := range results {
			label := r.Name
			if label == "" {
				label = r.ID
			}
			if r.Error != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "== %s (%s) FAILED\n%s\n", label, r.Type, r.Error)
				continue
			}
			fmt.Fprintf(cmd.OutOrStdout(), "== %s (%s)\n%s\n", label, r.Type, r.Output)
		}
	}

	if failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d cell(s) failed", failed))
	}
	return nil
}
