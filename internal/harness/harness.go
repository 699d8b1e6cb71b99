package harness

import (
	"fmt"
	"sort"

	"github.com/quillnb/quill/internal/cell"
	"github.com/quillnb/quill/internal/notebook"
	"github.com/quillnb/quill/internal/store"
	"github.com/quillnb/quill/internal/testutil"
)

// TraceEvent records the engine's reaction to one step.
type TraceEvent struct {
	Step      string   `json:"step"`
	Stale     []string `json:"stale"`
	Scheduled []string `json:"scheduled"`
}

// Result is the outcome of a scenario run.
type Result struct {
	Trace []TraceEvent `json:"trace"`
}

// recorder captures auto-scheduling decisions in place of the real
// sandbox executor.
type recorder struct {
	ids []string
}

func (r *recorder) Schedule(cellID string) {
	r.ids = append(r.ids, cellID)
}

func (r *recorder) take() []string {
	out := r.ids
	r.ids = nil
	if out == nil {
		out = []string{}
	}
	return out
}

// Run executes a scenario against a fresh in-memory store and returns
// the trace. Scenarios are deterministic: fixed id generation, no
// debounce, no interpreter.
func Run(sc *Scenario) (*Result, error) {
	nb := cell.Notebook{ID: sc.Name}
	for i, def := range sc.Notebook {
		t, err := cell.ParseType(def.Type)
		if err != nil {
			return nil, fmt.Errorf("scenario %s: cell %d: %w", sc.Name, i, err)
		}
		nb.Cells = append(nb.Cells, cell.Cell{
			ID: def.ID, Type: t, Name: def.Name, Text: def.Text,
		})
	}

	st := store.NewMemory(nb, store.WithIDGenerator(testutil.NewFixedIDs("cell")))
	rec := &recorder{}
	ctrl := notebook.New(st, rec)

	result := &Result{Trace: []TraceEvent{}}
	for i, step := range sc.Steps {
		if err := apply(st, step); err != nil {
			return nil, fmt.Errorf("scenario %s: step %d: %w", sc.Name, i, err)
		}
		stale := ctrl.Stale()
		if stale == nil {
			stale = []string{}
		}
		sort.Strings(stale)
		result.Trace = append(result.Trace, TraceEvent{
			Step:      step.Label(),
			Stale:     stale,
			Scheduled: rec.take(),
		})
	}
	return result, nil
}

func apply(st *store.Store, step Step) error {
	switch step.Op {
	case "edit":
		return st.Update(step.Cell, cell.Patch{Text: cell.StringPtr(step.Text)},
			cell.Change{ChangedIDs: []string{step.Cell}, Reason: cell.ReasonContentEdit})
	case "rename":
		return st.Update(step.Cell, cell.Patch{Name: cell.StringPtr(step.Name)},
			cell.Change{ChangedIDs: []string{step.Cell}, Reason: cell.ReasonContentEdit})
	case "delete":
		return st.Delete(step.Cell)
	case "reorder":
		return st.Reorder(step.Cell, step.To)
	case "refresh":
		return st.Update(step.Cell, cell.Patch{
			LastOutput: cell.StringPtr(step.Output),
			Error:      cell.StringPtr(""),
			Stale:      cell.BoolPtr(false),
		}, cell.Change{ChangedIDs: []string{step.Cell}, Reason: cell.ReasonOutputRefresh})
	default:
		return fmt.Errorf("unknown op %q", step.Op)
	}
}
