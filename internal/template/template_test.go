package template

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quillnb/quill/internal/cell"
)

func TestParseKeyPath_BaseOnly(t *testing.T) {
	base, path := ParseKeyPath("  summary ")
	assert.Equal(t, "summary", base)
	assert.Empty(t, path)
}

func TestParseKeyPath_PositionalBase(t *testing.T) {
	base, path := ParseKeyPath("#3")
	assert.Equal(t, "#3", base)
	assert.Empty(t, path)

	base, path = ParseKeyPath("out12")
	assert.Equal(t, "out12", base)
	assert.Empty(t, path)
}

func TestParseKeyPath_QuotedAndIndexAccessors(t *testing.T) {
	base, path := ParseKeyPath(`data['items'][1]`)
	assert.Equal(t, "data", base)
	require.Len(t, path, 2)
	assert.Equal(t, KeyStep("items"), path[0])
	assert.Equal(t, IndexStep(1), path[1])
}

func TestParseKeyPath_DoubleQuotes(t *testing.T) {
	base, path := ParseKeyPath(`cfg["max retries"]`)
	assert.Equal(t, "cfg", base)
	require.Len(t, path, 1)
	assert.Equal(t, KeyStep("max retries"), path[0])
}

func TestParseKeyPath_TrailingGarbageStopsPath(t *testing.T) {
	// The second accessor is malformed; parsing keeps what matched and
	// ignores the rest rather than erroring.
	base, path := ParseKeyPath(`data['a'].oops[2]`)
	assert.Equal(t, "data", base)
	require.Len(t, path, 1)
	assert.Equal(t, KeyStep("a"), path[0])

	base, path = ParseKeyPath(`data[broken]`)
	assert.Equal(t, "data", base)
	assert.Empty(t, path)
}

func TestBuildRefExpression_RoundTrip(t *testing.T) {
	cases := []struct {
		base string
		path []Step
	}{
		{"x", nil},
		{"#2", nil},
		{"data", []Step{KeyStep("items"), IndexStep(1)}},
		{"out3", []Step{IndexStep(0), KeyStep("name"), KeyStep("first")}},
		{"deep_1", []Step{KeyStep("a"), KeyStep("b"), IndexStep(10)}},
	}
	for _, tc := range cases {
		expr := BuildRefExpression(tc.base, tc.path)
		base, path := ParseKeyPath(expr)
		assert.Equal(t, tc.base, base, "expr %q", expr)
		assert.Equal(t, tc.path, path, "expr %q", expr)
	}
}

func testCells() []cell.Cell {
	return []cell.Cell{
		{ID: "c1", Type: cell.TypeVariable, Name: "x", Text: "5"},
		{ID: "c2", Type: cell.TypePrompt, Name: "data", Text: "{{x}}",
			LastOutput: `{"items":["a","b","c"]}`},
		{ID: "c3", Type: cell.TypeMarkdown, Text: "# Title"},
		{ID: "c4", Type: cell.TypeCode, Name: "calc", Text: "out = 1",
			LastOutput: "42"},
	}
}

func TestResolveValue_ByName(t *testing.T) {
	got := ResolveValue("x", Context{Cells: testCells()})
	assert.Equal(t, "5", got)
}

func TestResolveValue_ByID(t *testing.T) {
	got := ResolveValue("c4", Context{Cells: testCells()})
	assert.Equal(t, "42", got)
}

func TestResolveValue_Positional(t *testing.T) {
	ctx := Context{Cells: testCells()}
	assert.Equal(t, "5", ResolveValue("#1", ctx))
	assert.Equal(t, "5", ResolveValue("out1", ctx))
	assert.Equal(t, "# Title", ResolveValue("#3", ctx))
	// 1-indexed: #0 and out-of-range resolve to nothing
	assert.Equal(t, "", ResolveValue("#0", ctx))
	assert.Equal(t, "", ResolveValue("#9", ctx))
}

func TestResolveValue_JSONPath(t *testing.T) {
	got := ResolveValue(`data['items'][1]`, Context{Cells: testCells()})
	assert.Equal(t, "b", got)
}

func TestResolveValue_PathMismatchReturnsEmpty(t *testing.T) {
	ctx := Context{Cells: testCells()}
	// string key into an array
	assert.Equal(t, "", ResolveValue(`data['items']['oops']`, ctx))
	// index into an object
	assert.Equal(t, "", ResolveValue(`data[0]`, ctx))
	// missing key
	assert.Equal(t, "", ResolveValue(`data['nope']`, ctx))
	// index out of range
	assert.Equal(t, "", ResolveValue(`data['items'][7]`, ctx))
}

func TestResolveValue_StructuredValueSerializes(t *testing.T) {
	got := ResolveValue(`data['items']`, Context{Cells: testCells()})
	assert.Equal(t, `["a","b","c"]`, got)

	// No path, but the output looks like JSON: still round-trips to JSON.
	got = ResolveValue("data", Context{Cells: testCells()})
	assert.JSONEq(t, `{"items":["a","b","c"]}`, got)
}

func TestResolveValue_UnknownReference(t *testing.T) {
	assert.Equal(t, "", ResolveValue("ghost", Context{Cells: testCells()}))
}

func TestResolveValue_InvalidJSONFallsBackToOpaqueString(t *testing.T) {
	cells := []cell.Cell{
		{ID: "c1", Type: cell.TypeVariable, Name: "broken", Text: "{not json"},
	}
	ctx := Context{Cells: cells}
	// No path: the raw text passes through untouched.
	assert.Equal(t, "{not json", ResolveValue("broken", ctx))
	// With a path: traversal fails gracefully.
	assert.Equal(t, "", ResolveValue(`broken['k']`, ctx))
}

func TestResolveValue_Env(t *testing.T) {
	ctx := Context{Env: map[string]string{"HOME": "/home/u"}}
	assert.Equal(t, "/home/u", ResolveValue(`ENV['HOME']`, ctx))
	assert.Equal(t, "", ResolveValue(`ENV['MISSING']`, ctx))
}

func TestResolveValue_DuplicateNamesLastMatchWins(t *testing.T) {
	cells := []cell.Cell{
		{ID: "c1", Type: cell.TypeVariable, Name: "v", Text: "first"},
		{ID: "c2", Type: cell.TypeVariable, Name: "v", Text: "second"},
	}
	assert.Equal(t, "second", ResolveValue("v", Context{Cells: cells}))
}

func TestResolveValue_NullBecomesEmpty(t *testing.T) {
	cells := []cell.Cell{
		{ID: "c1", Type: cell.TypeCode, Name: "n", LastOutput: `{"v":null}`},
	}
	assert.Equal(t, "", ResolveValue(`n['v']`, Context{Cells: cells}))
}

func TestExpandTemplate_Basic(t *testing.T) {
	got := ExpandTemplate("value is {{x}}", Context{Cells: testCells()})
	assert.Equal(t, "value is 5", got)
}

func TestExpandTemplate_WhitespaceInsignificant(t *testing.T) {
	got := ExpandTemplate("{{   x   }}", Context{Cells: testCells()})
	assert.Equal(t, "5", got)
}

func TestExpandTemplate_MultipleAndMissing(t *testing.T) {
	got := ExpandTemplate("{{x}}+{{ghost}}+{{calc}}", Context{Cells: testCells()})
	assert.Equal(t, "5++42", got)
}

func TestExpandTemplate_NoReferences(t *testing.T) {
	got := ExpandTemplate("plain text", Context{Cells: testCells()})
	assert.Equal(t, "plain text", got)
}

func TestReferences_BasesOnlyDeduplicated(t *testing.T) {
	refs := References(`{{x}} {{data['items'][0]}} {{x}} {{ENV['HOME']}} {{#2}}`)
	assert.Equal(t, []string{"x", "data", "#2"}, refs)
}

func TestLookupCell_NFCNormalizedNames(t *testing.T) {
	// "café" with a combining acute must match the precomposed form.
	cells := []cell.Cell{
		{ID: "c1", Type: cell.TypeVariable, Name: "café", Text: "v"},
	}
	got, ok := LookupCell(cells, "café")
	require.True(t, ok)
	assert.Equal(t, "c1", got.ID)
}
