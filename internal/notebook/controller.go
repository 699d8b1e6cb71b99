// Package notebook wires the engine's control loop: a store change
// triggers a whole-notebook staleness recomputation, stale code cells
// with fresh upstreams are auto-scheduled (debounced), stale markdown
// cells are cleared on the spot, and stale prompt cells wait for an
// explicit trigger.
package notebook

import (
	"log/slog"
	"sync"

	"github.com/quillnb/quill/internal/cell"
	"github.com/quillnb/quill/internal/staleness"
	"github.com/quillnb/quill/internal/store"
)

// Scheduler is the slice of the sandbox executor the controller drives.
type Scheduler interface {
	Schedule(cellID string)
}

// Controller subscribes to the store and keeps staleness current.
type Controller struct {
	store     *store.Store
	scheduler Scheduler

	mu   sync.Mutex
	prev []cell.Cell

	// autoRun gates scheduling; disabled for batch operations like
	// import where the caller runs cells explicitly afterwards.
	autoRun bool
}

// Option configures a Controller.
type Option func(*Controller)

// WithoutAutoRun disables debounced auto-execution of eligible code
// cells; staleness is still maintained.
func WithoutAutoRun() Option {
	return func(c *Controller) { c.autoRun = false }
}

// New creates a controller and subscribes it to the store.
func New(st *store.Store, scheduler Scheduler, opts ...Option) *Controller {
	c := &Controller{
		store:     st,
		scheduler: scheduler,
		prev:      st.Current().Cells,
		autoRun:   true,
	}
	for _, opt := range opts {
		opt(c)
	}
	st.Subscribe(c.onChange)
	return c
}

// onChange recomputes staleness for the whole notebook and applies the
// auto-scheduling policy. Runs synchronously in the mutation's control
// flow; the engine has a single logical writer, so there is no race
// between recomputations.
func (c *Controller) onChange(change cell.Change) {
	c.mu.Lock()
	prev := c.prev
	c.mu.Unlock()

	next := c.store.Current().Cells
	recomputed := staleness.Recompute(prev, next, change.ChangedIDs, change.Reason)

	code, markdown := staleness.AutoRunnable(recomputed)

	// Markdown "execution" is pure template expansion; clear it now
	// rather than round-tripping through the executor.
	for _, id := range markdown {
		if i := cell.FindByID(recomputed, id); i >= 0 {
			recomputed[i].Stale = false
		}
	}

	flags := make(map[string]bool, len(recomputed))
	for _, rc := range recomputed {
		flags[rc.ID] = rc.Stale
	}
	if err := c.store.SetStale(flags); err != nil {
		slog.Error("staleness write-back failed", "error", err)
	}

	c.mu.Lock()
	c.prev = recomputed
	c.mu.Unlock()

	if c.autoRun {
		for _, id := range code {
			c.scheduler.Schedule(id)
		}
	}
	if len(code) > 0 || len(markdown) > 0 {
		slog.Debug("auto-scheduling pass",
			"scheduled", len(code), "markdown_cleared", len(markdown))
	}
}

// Stale returns the ids of currently stale cells, for inspection.
func (c *Controller) Stale() []string {
	var out []string
	for _, cc := range c.store.Current().Cells {
		if cc.Stale {
			out = append(out, cc.ID)
		}
	}
	return out
}
