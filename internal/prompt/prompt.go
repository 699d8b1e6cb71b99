// Package prompt executes prompt cells: parameter precedence, template
// expansion of system and user prompts, cancellable provider calls, and
// the sequential run-all walk.
package prompt

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/quillnb/quill/internal/cell"
	"github.com/quillnb/quill/internal/llm"
	"github.com/quillnb/quill/internal/sandbox"
	"github.com/quillnb/quill/internal/template"
)

// Store is the slice of the cell store the runner needs.
type Store interface {
	Current() cell.Notebook
	Update(id string, patch cell.Patch, change cell.Change) error
}

// CodeRunner dispatches code cells during run-all. Implemented by
// sandbox.Executor.
type CodeRunner interface {
	RunNow(cellID string) <-chan sandbox.Result
}

// Runner executes prompt cells against an LLM provider.
type Runner struct {
	store  Store
	caller llm.Caller
	code   CodeRunner
	env    map[string]string
	now    func() time.Time

	// stopRequested is the cooperative stop flag for run-all: checked
	// between cells, never interrupting the one in flight.
	stopRequested atomic.Bool
}

// Option configures a Runner.
type Option func(*Runner)

// WithEnv sets the environment mapping visible to {{ ENV[...] }}.
func WithEnv(env map[string]string) Option {
	return func(r *Runner) { r.env = env }
}

// WithClock overrides the time source. Tests use a manual clock.
func WithClock(now func() time.Time) Option {
	return func(r *Runner) { r.now = now }
}

// New creates a prompt runner. code may be nil if run-all will never
// encounter code cells.
func New(store Store, caller llm.Caller, code CodeRunner, opts ...Option) *Runner {
	r := &Runner{
		store:  store,
		caller: caller,
		code:   code,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// EffectiveParams applies the parameter precedence rules:
//   - explicit model override on the cell: only the cell's own params
//     apply, notebook defaults are NOT inherited;
//   - notebook default model: the cell's params apply when non-empty,
//     otherwise the notebook-level defaults.
func EffectiveParams(nb cell.Notebook, c cell.Cell) (string, map[string]any) {
	if c.ModelID != "" {
		return c.ModelID, c.Params
	}
	if len(c.Params) > 0 {
		return nb.DefaultModel, c.Params
	}
	return nb.DefaultModel, nb.DefaultParams
}

// Run executes one prompt cell. Provider failures are captured into the
// cell's error field and reported through the normal update path; this
// method never propagates them. Cancellation is swallowed entirely.
func (r *Runner) Run(ctx context.Context, cellID string) {
	nb := r.store.Current()
	idx := cell.FindByID(nb.Cells, cellID)
	if idx < 0 || nb.Cells[idx].Type != cell.TypePrompt {
		return
	}
	c := nb.Cells[idx]
	model, params := EffectiveParams(nb, c)

	tctx := template.Context{Cells: nb.Cells, Env: r.env}
	userPrompt := template.ExpandTemplate(c.Text, tctx)
	systemPrompt := template.ExpandTemplate(c.SystemPrompt, tctx)

	started := r.now()
	res, err := r.caller.Call(ctx, model, userPrompt, systemPrompt, params)
	duration := r.now().Sub(started)

	if err != nil {
		if llm.IsCancellation(err) {
			// Deliberate user action: no error recorded, nothing surfaced.
			slog.Debug("prompt run cancelled", "cell", cellID, "model", model)
			return
		}
		slog.Error("prompt run failed", "cell", cellID, "model", model, "error", err)
		if uerr := r.store.Update(cellID, cell.Patch{
			Error:       cell.StringPtr(err.Error()),
			LastRunInfo: &cell.RunInfo{StartedAt: started, Duration: duration, Model: model},
		}, cell.Change{ChangedIDs: []string{cellID}, Reason: cell.ReasonUIOnly}); uerr != nil {
			slog.Error("recording prompt error failed", "cell", cellID, "error", uerr)
		}
		return
	}

	slog.Info("prompt run completed",
		"cell", cellID,
		"model", model,
		"duration", duration,
		"prompt_tokens", res.Usage.PromptTokens,
		"completion_tokens", res.Usage.CompletionTokens,
	)
	if uerr := r.store.Update(cellID, cell.Patch{
		LastOutput: cell.StringPtr(res.Text),
		Error:      cell.StringPtr(""),
		Stale:      cell.BoolPtr(false),
		LastRunInfo: &cell.RunInfo{
			StartedAt:        started,
			Duration:         duration,
			Model:            model,
			PromptTokens:     res.Usage.PromptTokens,
			CompletionTokens: res.Usage.CompletionTokens,
		},
	}, cell.Change{ChangedIDs: []string{cellID}, Reason: cell.ReasonOutputRefresh}); uerr != nil {
		slog.Error("recording prompt output failed", "cell", cellID, "error", uerr)
	}
}

// RunAll executes prompt and code cells in document order, sequentially.
// The stop flag is checked between cells: cooperative, not preemptive,
// so the cell in flight always finishes (or is stopped through its own
// mechanism) before the walk short-circuits.
func (r *Runner) RunAll(ctx context.Context) {
	r.stopRequested.Store(false)

	for _, c := range r.store.Current().Cells {
		if r.stopRequested.Load() || ctx.Err() != nil {
			slog.Info("run-all stopped", "at_cell", c.ID)
			return
		}
		switch c.Type {
		case cell.TypePrompt:
			r.Run(ctx, c.ID)
		case cell.TypeCode:
			if r.code == nil {
				continue
			}
			select {
			case <-r.code.RunNow(c.ID):
			case <-ctx.Done():
				return
			}
		case cell.TypeMarkdown, cell.TypeVariable:
			// nothing to execute
		}
	}
}

// Stop raises the cooperative stop flag for an in-progress RunAll.
func (r *Runner) Stop() {
	r.stopRequested.Store(true)
}
