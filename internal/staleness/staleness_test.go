package staleness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quillnb/quill/internal/cell"
)

func staleSet(cells []cell.Cell) map[string]bool {
	out := make(map[string]bool)
	for _, c := range cells {
		out[c.ID] = c.Stale
	}
	return out
}

func TestRecompute_ContentEditMarksExecutableStale(t *testing.T) {
	cells := []cell.Cell{
		{ID: "a", Type: cell.TypeCode, Text: "out = 1"},
	}
	got := Recompute(cells, cells, []string{"a"}, cell.ReasonContentEdit)
	assert.True(t, got[0].Stale)
}

func TestRecompute_ContentEditOnVariablePropagatesWithoutSelfStaleness(t *testing.T) {
	cells := []cell.Cell{
		{ID: "a", Type: cell.TypeVariable, Name: "x", Text: "5"},
		{ID: "b", Type: cell.TypePrompt, Text: "{{x}}"},
	}
	got := Recompute(cells, cells, []string{"a"}, cell.ReasonContentEdit)
	assert.False(t, got[0].Stale, "variable has no output to invalidate")
	assert.True(t, got[1].Stale, "dependent must re-evaluate")
}

func TestRecompute_OutputRefreshClearsSelfAndPropagates(t *testing.T) {
	prev := []cell.Cell{
		{ID: "a", Type: cell.TypeCode, Name: "calc", Text: "out = 1", Stale: true},
		{ID: "b", Type: cell.TypePrompt, Text: "{{calc}}"},
	}
	next := prev[0].Clone()
	next.LastOutput = "1"
	got := Recompute(prev, []cell.Cell{next, prev[1]}, []string{"a"}, cell.ReasonOutputRefresh)
	assert.False(t, got[0].Stale, "refreshed cell is fresh")
	assert.True(t, got[1].Stale, "dependent sees a new upstream value")
}

func TestRecompute_UIOnlyChangesNothing(t *testing.T) {
	cells := []cell.Cell{
		{ID: "a", Type: cell.TypeCode, Name: "calc", Text: "out = 1"},
		{ID: "b", Type: cell.TypePrompt, Text: "{{calc}}"},
	}
	got := Recompute(cells, cells, []string{"a"}, cell.ReasonUIOnly)
	assert.False(t, got[0].Stale)
	assert.False(t, got[1].Stale)
}

func TestRecompute_CarryForwardAcrossUnrelatedEdit(t *testing.T) {
	prev := []cell.Cell{
		{ID: "a", Type: cell.TypeCode, Text: "out = 1", Stale: true},
		{ID: "b", Type: cell.TypeMarkdown, Text: "notes"},
	}
	got := Recompute(prev, prev, []string{"b"}, cell.ReasonContentEdit)
	assert.True(t, got[0].Stale, "unexecuted staleness persists across unrelated edits")
}

func TestRecompute_FixedPoint(t *testing.T) {
	cells := []cell.Cell{
		{ID: "a", Type: cell.TypeVariable, Name: "x", Text: "5"},
		{ID: "b", Type: cell.TypeCode, Name: "c1", Text: "v := {{x}}\nout = v"},
		{ID: "c", Type: cell.TypePrompt, Text: "{{c1}}"},
	}
	once := Recompute(cells, cells, []string{"a"}, cell.ReasonContentEdit)
	twice := Recompute(once, once, nil, cell.ReasonUIOnly)
	assert.Equal(t, staleSet(once), staleSet(twice),
		"propagation with no new changes must be a fixed point")
}

func TestRecompute_CycleTerminates(t *testing.T) {
	cells := []cell.Cell{
		{ID: "a", Type: cell.TypeCode, Name: "alpha", Text: "v := {{beta}}\nout = v"},
		{ID: "b", Type: cell.TypeCode, Name: "beta", Text: "v := {{alpha}}\nout = v"},
	}
	got := Recompute(cells, cells, []string{"a"}, cell.ReasonContentEdit)
	assert.True(t, got[0].Stale)
	assert.True(t, got[1].Stale)
}

func TestRecompute_SelfReferenceTerminates(t *testing.T) {
	cells := []cell.Cell{
		{ID: "a", Type: cell.TypeCode, Name: "loop", Text: "v := {{loop}}\nout = v"},
	}
	got := Recompute(cells, cells, []string{"a"}, cell.ReasonContentEdit)
	assert.True(t, got[0].Stale)

	// A self-referencing cell must not re-stale itself off its own refresh,
	// or it would auto-run forever.
	refreshed := got[0].Clone()
	refreshed.LastOutput = "1"
	refreshed.Stale = false
	got2 := Recompute(got, []cell.Cell{refreshed}, []string{"a"}, cell.ReasonOutputRefresh)
	assert.False(t, got2[0].Stale)
}

func TestRecompute_RenameBreaksOldAlias(t *testing.T) {
	prev := []cell.Cell{
		{ID: "a", Type: cell.TypeVariable, Name: "foo", Text: "1"},
		{ID: "b", Type: cell.TypePrompt, Text: "{{foo}}"},
	}
	next := []cell.Cell{
		{ID: "a", Type: cell.TypeVariable, Name: "bar", Text: "1"},
		{ID: "b", Type: cell.TypePrompt, Text: "{{foo}}"},
	}
	got := Recompute(prev, next, []string{"a"}, cell.ReasonContentEdit)
	assert.True(t, staleSet(got)["b"],
		"referencing cell goes stale even though no new alias matches")
}

func TestRecompute_ReorderInvalidatesPositionalReferences(t *testing.T) {
	prev := []cell.Cell{
		{ID: "a", Type: cell.TypeVariable, Text: "1"},
		{ID: "b", Type: cell.TypeVariable, Text: "2"},
		{ID: "c", Type: cell.TypePrompt, Text: "{{#1}}"},
	}
	next := []cell.Cell{
		{ID: "b", Type: cell.TypeVariable, Text: "2"},
		{ID: "a", Type: cell.TypeVariable, Text: "1"},
		{ID: "c", Type: cell.TypePrompt, Text: "{{#1}}"},
	}
	got := Recompute(prev, next, []string{"a", "b"}, cell.ReasonContentEdit)
	assert.True(t, staleSet(got)["c"],
		"#1 points at a different cell after the reorder")
}

func TestRecompute_DeletedDependencyPropagates(t *testing.T) {
	prev := []cell.Cell{
		{ID: "a", Type: cell.TypeVariable, Name: "x", Text: "1"},
		{ID: "b", Type: cell.TypePrompt, Text: "{{x}}"},
	}
	next := []cell.Cell{
		{ID: "b", Type: cell.TypePrompt, Text: "{{x}}"},
	}
	got := Recompute(prev, next, []string{"a"}, cell.ReasonContentEdit)
	require.Len(t, got, 1)
	assert.True(t, got[0].Stale, "dangling reference invalidates the dependent")
}

func TestRecompute_TransitiveClosure(t *testing.T) {
	cells := []cell.Cell{
		{ID: "a", Type: cell.TypeVariable, Name: "x", Text: "1"},
		{ID: "b", Type: cell.TypeCode, Name: "mid", Text: "v := {{x}}\nout = v"},
		{ID: "c", Type: cell.TypeMarkdown, Text: "{{mid}}"},
		{ID: "d", Type: cell.TypePrompt, Text: "unrelated"},
	}
	got := Recompute(cells, cells, []string{"a"}, cell.ReasonContentEdit)
	s := staleSet(got)
	assert.True(t, s["b"])
	assert.True(t, s["c"])
	assert.False(t, s["d"])
}

func TestAutoRunnable_Partition(t *testing.T) {
	cells := []cell.Cell{
		{ID: "a", Type: cell.TypeCode, Name: "up", Text: "out = 1", Stale: true},
		{ID: "b", Type: cell.TypeCode, Text: "v := {{up}}\nout = v", Stale: true},
		{ID: "c", Type: cell.TypeMarkdown, Text: "done", Stale: true},
		{ID: "d", Type: cell.TypePrompt, Text: "ask", Stale: true},
	}
	code, markdown := AutoRunnable(cells)
	assert.Equal(t, []string{"a"}, code,
		"b waits: its upstream is itself stale")
	assert.Equal(t, []string{"c"}, markdown)
}

func TestAutoRunnable_FreshCellsExcluded(t *testing.T) {
	cells := []cell.Cell{
		{ID: "a", Type: cell.TypeCode, Text: "out = 1"},
	}
	code, markdown := AutoRunnable(cells)
	assert.Empty(t, code)
	assert.Empty(t, markdown)
}
