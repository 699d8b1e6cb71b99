// Package staleness computes which cells must re-run after a change.
//
// Staleness is always recomputed wholesale from the previous and next cell
// lists, never patched incrementally. Full recomputation is what keeps the
// engine correct under renames and reorders: a cell's positional keys shift
// with the order, so the closure walks BOTH the pre-change and post-change
// reference index, and dependents holding a key that now points elsewhere
// are still invalidated.
//
// Recompute is pure and idempotent: the same (prev, next, changed, reason)
// input always yields the same stale set, and applying it twice in a row
// with no new changes is a fixed point.
package staleness

import (
	"log/slog"

	"github.com/quillnb/quill/internal/cell"
	"github.com/quillnb/quill/internal/refindex"
	"github.com/quillnb/quill/internal/template"
)

// workItem is one queue entry in the breadth-first closure. The
// (ID, Propagate) pair is the dedup signature that guarantees termination
// in the presence of reference cycles.
type workItem struct {
	ID        string
	Propagate bool
}

// Recompute derives a new cell list with the stale flag fully recomputed.
//
// Seeding rules per change reason:
//   - output-refresh: the changed cell just produced a new output. It is
//     fresh itself but acts as a propagation source for its dependents.
//   - content-edit: the changed cell's input no longer matches its declared
//     output, so executable (prompt/code) cells become stale; every changed
//     cell propagates to dependents regardless of type.
//   - ui-only: excluded from propagation entirely.
//
// Independently of the reason, executable cells that were already stale
// before the change and were not the one just refreshed remain stale and
// remain propagation sources: unexecuted staleness persists across
// unrelated edits.
func Recompute(prev, next []cell.Cell, changedIDs []string, reason cell.Reason) []cell.Cell {
	result := make([]cell.Cell, len(next))
	for i, c := range next {
		result[i] = c.Clone()
		result[i].Stale = false
	}

	prevIdx := refindex.Build(prev)
	nextIdx := refindex.Build(next)

	changed := make(map[string]struct{}, len(changedIDs))
	for _, id := range changedIDs {
		changed[id] = struct{}{}
	}

	var queue []workItem
	seen := make(map[workItem]struct{})
	enqueue := func(it workItem) {
		if _, dup := seen[it]; dup {
			return
		}
		seen[it] = struct{}{}
		queue = append(queue, it)
	}
	markStale := func(id string) {
		if i := cell.FindByID(result, id); i >= 0 {
			result[i].Stale = true
		}
	}

	// Seed from the changed set.
	if reason != cell.ReasonUIOnly {
		for _, id := range changedIDs {
			i := cell.FindByID(next, id)
			if i < 0 {
				// Deleted cell: it still propagates through its previous
				// aliases so dangling dependents get invalidated.
				enqueue(workItem{ID: id, Propagate: true})
				continue
			}
			if reason == cell.ReasonContentEdit && next[i].Type.Executable() {
				markStale(id)
			}
			enqueue(workItem{ID: id, Propagate: true})
		}
	}

	// Carry-forward: staleness that was never executed survives.
	for _, p := range prev {
		if !p.Type.Executable() || !p.Stale {
			continue
		}
		if reason == cell.ReasonOutputRefresh {
			if _, isRefreshed := changed[p.ID]; isRefreshed {
				continue // its output just landed; it is fresh now
			}
		}
		if cell.FindByID(next, p.ID) < 0 {
			continue // deleted while stale
		}
		markStale(p.ID)
		enqueue(workItem{ID: p.ID, Propagate: true})
	}

	// Breadth-first closure over the union of both indexes.
	for len(queue) > 0 {
		it := queue[0]
		queue = queue[1:]
		if !it.Propagate {
			continue
		}

		for _, key := range refindex.CollectCellKeys(prev, next, it.ID) {
			for _, depID := range unionDependents(prevIdx, nextIdx, key) {
				if depID == it.ID {
					continue // self-reference: already handled by seeding
				}
				if cell.FindByID(result, depID) < 0 {
					continue
				}
				markStale(depID)
				enqueue(workItem{ID: depID, Propagate: true})
			}
		}
	}

	slog.Debug("staleness recomputed",
		"reason", reason.String(),
		"changed", len(changedIDs),
		"stale", countStale(result),
	)

	return result
}

// AutoRunnable partitions the stale cells that have no stale upstream
// dependency: code cells are eligible for debounced auto-execution, and
// markdown cells can simply be cleared, since their "execution" is pure
// template expansion with no side effect worth debouncing.
//
// A stale cell whose upstream is also stale waits: running it now would
// consume an input that is itself about to change.
func AutoRunnable(cells []cell.Cell) (code, markdown []string) {
	for _, c := range cells {
		if !c.Stale {
			continue
		}
		switch c.Type {
		case cell.TypeCode:
			if !hasStaleUpstream(c, cells) {
				code = append(code, c.ID)
			}
		case cell.TypeMarkdown:
			if !hasStaleUpstream(c, cells) {
				markdown = append(markdown, c.ID)
			}
		case cell.TypeVariable, cell.TypePrompt:
			// variables have nothing to run; prompts wait for an
			// explicit trigger
		}
	}
	return code, markdown
}

// hasStaleUpstream reports whether any cell referenced by c's text is
// itself stale. Unresolvable references count as fresh.
func hasStaleUpstream(c cell.Cell, cells []cell.Cell) bool {
	for _, base := range template.References(c.Text) {
		up, ok := template.LookupCell(cells, base)
		if !ok || up.ID == c.ID {
			continue
		}
		if up.Stale {
			return true
		}
	}
	return false
}

func unionDependents(a, b refindex.Index, key string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, idx := range []refindex.Index{a, b} {
		for _, id := range idx.Dependents(key) {
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	return out
}

func countStale(cells []cell.Cell) int {
	n := 0
	for _, c := range cells {
		if c.Stale {
			n++
		}
	}
	return n
}
