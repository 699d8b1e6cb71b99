// Package sandbox manages isolated execution of code cells.
//
// Each code cell gets its own execution context (a yaegi interpreter
// behind a mailbox, see context.go) and a monotonic version counter. The
// executor owns a single dispatch loop that matches incoming replies
// against the cell's current version and silently discards mismatches.
// Version matching is the core correctness mechanism: a cell stopped and
// re-run before its first reply arrives must not have that stale reply
// applied.
//
// Scheduling is debounced: an edit schedules execution after a fixed
// delay, and a second edit before the delay elapses cancels and
// reschedules.
package sandbox

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/quillnb/quill/internal/cell"
	"github.com/quillnb/quill/internal/template"
)

// DefaultDebounce is the delay between an edit and auto-execution.
const DefaultDebounce = 750 * time.Millisecond

// DefaultMaxOutputBytes caps a run's serialized output.
const DefaultMaxOutputBytes = 1 << 20

// Store is the slice of the cell store the executor needs: the current
// notebook for template expansion, and the update path for results.
type Store interface {
	Current() cell.Notebook
	Update(id string, patch cell.Patch, change cell.Change) error
}

// entry is the per-cell bookkeeping record. Inserted on first schedule,
// removed on Stop. Each entry exclusively owns its cell's execution
// context; there is no cross-cell sharing. Version counters live on the
// executor itself so they survive entry removal: a cell stopped and
// re-run must dispatch at a version its stopped run never used.
type entry struct {
	ctx       *execContext
	timer     *time.Timer
	running   bool
	startedAt time.Time
	waiters   []chan Result
}

// Executor runs code cells in isolated contexts with debounced
// scheduling, versioned completion correlation, and advisory stop.
type Executor struct {
	mu    sync.Mutex
	cells map[string]*entry

	// versions is monotonic per cell for the executor's lifetime; never
	// reset on Stop or StopAll, so late replies from discarded runs
	// cannot collide with a later run's version.
	versions map[string]int64

	store     Store
	env       map[string]string
	debounce  time.Duration
	maxOutput int
	now       func() time.Time

	mailbox chan Reply
	done    chan struct{}
	stopped sync.Once
}

// Option configures an Executor.
type Option func(*Executor)

// WithDebounce overrides the scheduling delay. Tests use zero.
func WithDebounce(d time.Duration) Option {
	return func(e *Executor) { e.debounce = d }
}

// WithEnv sets the environment mapping visible to {{ ENV[...] }}.
func WithEnv(env map[string]string) Option {
	return func(e *Executor) { e.env = env }
}

// WithClock overrides the time source for run durations. Tests use a
// manual clock.
func WithClock(now func() time.Time) Option {
	return func(e *Executor) { e.now = now }
}

// WithMaxOutputBytes caps serialized outputs; longer values are
// truncated with a marker. Zero disables the cap.
func WithMaxOutputBytes(n int) Option {
	return func(e *Executor) { e.maxOutput = n }
}

// New creates an executor and starts its dispatch loop.
// Callers must Close it when done.
func New(store Store, opts ...Option) *Executor {
	e := &Executor{
		cells:     make(map[string]*entry),
		versions:  make(map[string]int64),
		store:     store,
		debounce:  DefaultDebounce,
		maxOutput: DefaultMaxOutputBytes,
		now:       time.Now,
		mailbox:   make(chan Reply, 64),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	go e.dispatchLoop()
	return e
}

// Close shuts down the dispatch loop and destroys all contexts.
func (e *Executor) Close() {
	e.stopped.Do(func() { close(e.done) })

	e.mu.Lock()
	defer e.mu.Unlock()
	for id, ent := range e.cells {
		if ent.timer != nil {
			ent.timer.Stop()
		}
		if ent.ctx != nil {
			ent.ctx.Destroy()
		}
		resolveWaiters(ent, Result{Stopped: true})
		delete(e.cells, id)
	}
}

// Schedule queues a (re-)execution of the cell after the debounce delay.
// A second call before the delay elapses cancels and reschedules, so a
// burst of edits coalesces into one run.
func (e *Executor) Schedule(cellID string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	ent := e.ensure(cellID)
	if ent.timer != nil {
		ent.timer.Stop()
	}
	ent.timer = time.AfterFunc(e.debounce, func() {
		e.dispatch(cellID)
	})
	slog.Debug("code run scheduled", "cell", cellID, "delay", e.debounce)
}

// RunNow dispatches the cell immediately, bypassing the debounce, and
// returns a handle resolved with the run's result. Stopping the cell
// resolves the handle with a synthetic stopped result so callers are
// never left hanging.
func (e *Executor) RunNow(cellID string) <-chan Result {
	ch := make(chan Result, 1)

	e.mu.Lock()
	ent := e.ensure(cellID)
	if ent.timer != nil {
		ent.timer.Stop()
		ent.timer = nil
	}
	ent.waiters = append(ent.waiters, ch)
	e.mu.Unlock()

	e.dispatch(cellID)
	return ch
}

// Stop cancels any pending run of the cell and destroys its execution
// context outright. A script already in flight cannot be interrupted;
// its late reply is discarded by version matching instead.
func (e *Executor) Stop(cellID string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	ent, ok := e.cells[cellID]
	if !ok {
		return
	}
	if ent.timer != nil {
		ent.timer.Stop()
	}
	if ent.ctx != nil {
		ent.ctx.Destroy()
	}
	resolveWaiters(ent, Result{Stopped: true})
	delete(e.cells, cellID)
	slog.Debug("code cell stopped", "cell", cellID)
}

// StopAll clears every debounce timer and all running bookkeeping
// without destroying contexts individually. Coarse bulk reset used when
// leaving a notebook. Version counters keep counting: replies from runs
// that were in flight at stop time must never correlate with runs
// dispatched afterwards.
func (e *Executor) StopAll() {
	e.mu.Lock()
	defer e.mu.Unlock()

	for id, ent := range e.cells {
		if ent.timer != nil {
			ent.timer.Stop()
			ent.timer = nil
		}
		if ent.running {
			ent.running = false
			e.versions[id]++
		}
		resolveWaiters(ent, Result{Stopped: true})
		slog.Debug("code cell bookkeeping cleared", "cell", id)
	}
}

// Running reports whether the cell has a run in flight.
func (e *Executor) Running(cellID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	ent, ok := e.cells[cellID]
	return ok && ent.running
}

// ensure returns the cell's bookkeeping entry, inserting it on first use.
// Caller holds e.mu.
func (e *Executor) ensure(cellID string) *entry {
	ent, ok := e.cells[cellID]
	if !ok {
		ent = &entry{}
		e.cells[cellID] = ent
	}
	return ent
}

// dispatch expands the cell's code and sends it to the cell's execution
// context under a freshly incremented version.
func (e *Executor) dispatch(cellID string) {
	nb := e.store.Current()
	idx := cell.FindByID(nb.Cells, cellID)
	if idx < 0 || nb.Cells[idx].Type != cell.TypeCode {
		return
	}
	code := template.ExpandTemplate(nb.Cells[idx].Text, template.Context{
		Cells: nb.Cells,
		Env:   e.env,
	})

	e.mu.Lock()
	ent := e.ensure(cellID)
	ent.timer = nil
	if ent.ctx == nil {
		ent.ctx = newExecContext(e.mailbox)
	}
	e.versions[cellID]++
	version := e.versions[cellID]
	ent.running = true
	ent.startedAt = e.now()
	ctx := ent.ctx
	e.mu.Unlock()

	req := Request{Type: TypeCodeExec, CellID: cellID, Code: code, Version: version}
	if !ctx.Exec(req) {
		e.mu.Lock()
		ent.running = false
		resolveWaiters(ent, Result{Err: "execution context is not accepting requests"})
		e.mu.Unlock()
		return
	}
	slog.Debug("code dispatched", "cell", cellID, "version", version)
}

// dispatchLoop is the single loop matching replies to expectations.
// All result bookkeeping and store notification happens here.
func (e *Executor) dispatchLoop() {
	for {
		select {
		case <-e.done:
			return
		case rep := <-e.mailbox:
			e.handleReply(rep)
		}
	}
}

// handleReply applies a completion if and only if its version equals the
// cell's current tracked version. Anything else is a leftover from a
// stopped or superseded run and is dropped.
func (e *Executor) handleReply(rep Reply) {
	e.mu.Lock()
	ent, ok := e.cells[rep.CellID]
	if !ok || rep.Version != e.versions[rep.CellID] {
		e.mu.Unlock()
		slog.Debug("discarding stale code reply",
			"cell", rep.CellID, "version", rep.Version)
		return
	}
	ent.running = false
	startedAt := ent.startedAt
	e.mu.Unlock()

	var duration time.Duration
	if !startedAt.IsZero() {
		duration = e.now().Sub(startedAt)
	}

	if rep.Type == TypeCodeError {
		// A failed run is not an output refresh: staleness stays put and
		// only the error surfaces.
		err := e.store.Update(rep.CellID, cell.Patch{
			Error:       cell.StringPtr(rep.Error),
			LastRunInfo: &cell.RunInfo{StartedAt: startedAt, Duration: duration},
		}, cell.Change{ChangedIDs: []string{rep.CellID}, Reason: cell.ReasonUIOnly})
		if err != nil {
			slog.Error("recording code error failed", "cell", rep.CellID, "error", err)
		}
		e.resolve(rep.CellID, Result{Err: rep.Error})
		return
	}

	value := serializeValue(rep.Value)
	if e.maxOutput > 0 && len(value) > e.maxOutput {
		value = value[:e.maxOutput] + "\n... [output truncated]"
	}
	err := e.store.Update(rep.CellID, cell.Patch{
		LastOutput:  cell.StringPtr(value),
		Error:       cell.StringPtr(""),
		Stale:       cell.BoolPtr(false),
		LastRunInfo: &cell.RunInfo{StartedAt: startedAt, Duration: duration},
	}, cell.Change{ChangedIDs: []string{rep.CellID}, Reason: cell.ReasonOutputRefresh})
	if err != nil {
		slog.Error("recording code output failed", "cell", rep.CellID, "error", err)
	}
	slog.Info("code cell completed",
		"cell", rep.CellID, "version", rep.Version, "duration", duration)
	e.resolve(rep.CellID, Result{Value: value})
}

// resolve delivers a result to all waiters registered for the cell.
func (e *Executor) resolve(cellID string, res Result) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if ent, ok := e.cells[cellID]; ok {
		resolveWaiters(ent, res)
	}
}

// resolveWaiters drains an entry's waiter list. Caller holds e.mu.
func resolveWaiters(ent *entry, res Result) {
	for _, ch := range ent.waiters {
		ch <- res
	}
	ent.waiters = nil
}

// serializeValue renders a run's value for storage: strings pass through,
// other primitives take their natural form, structured values become
// pretty-printed JSON.
func serializeValue(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case bool, int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64:
		return fmt.Sprint(val)
	default:
		b, err := json.MarshalIndent(val, "", "  ")
		if err != nil {
			return fmt.Sprint(val)
		}
		return string(b)
	}
}
