package schema

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quillnb/quill/internal/cell"
	"github.com/quillnb/quill/internal/testutil"
)

const validDoc = `
id: nb-1
default_model: gemini-2.0-flash
default_params:
  temperature: 0.5
cells:
  - id: c1
    type: variable
    name: x
    text: "5"
  - type: prompt
    text: "value is {{x}}"
    params:
      top_p: 0.9
  - type: code
    text: "out := {{x}}"
`

func TestLoad_ValidDocument(t *testing.T) {
	ids := testutil.NewFixedIDs("gen")
	nb, err := Load([]byte(validDoc), ids.NewID)
	require.NoError(t, err)

	assert.Equal(t, "nb-1", nb.ID)
	assert.Equal(t, "gemini-2.0-flash", nb.DefaultModel)
	require.Len(t, nb.Cells, 3)
	assert.Equal(t, "c1", nb.Cells[0].ID)
	assert.Equal(t, cell.TypeVariable, nb.Cells[0].Type)
	assert.Equal(t, "gen-1", nb.Cells[1].ID, "missing ids are generated")
	assert.Equal(t, cell.TypePrompt, nb.Cells[1].Type)
	assert.Equal(t, 0.9, nb.Cells[1].Params["top_p"])
}

func TestLoad_UnknownCellTypeRejected(t *testing.T) {
	doc := `
cells:
  - type: spreadsheet
    text: "a1"
`
	_, err := Load([]byte(doc), testutil.NewFixedIDs("").NewID)
	require.Error(t, err)
	var verr *ValidationError
	assert.True(t, errors.As(err, &verr))
}

func TestLoad_UnknownFieldRejected(t *testing.T) {
	doc := `
cells:
  - type: markdown
    text: "# hi"
    color: purple
`
	_, err := Load([]byte(doc), testutil.NewFixedIDs("").NewID)
	var verr *ValidationError
	require.True(t, errors.As(err, &verr), "closed definitions reject unknown fields")
}

func TestLoad_MissingCellsRejected(t *testing.T) {
	_, err := Load([]byte(`default_model: m`), testutil.NewFixedIDs("").NewID)
	var verr *ValidationError
	assert.True(t, errors.As(err, &verr))
}

func TestLoad_EmptyDocumentRejected(t *testing.T) {
	_, err := Load([]byte(""), testutil.NewFixedIDs("").NewID)
	var verr *ValidationError
	assert.True(t, errors.As(err, &verr))
}

func TestLoad_NotYAMLRejected(t *testing.T) {
	_, err := Load([]byte("\t{invalid"), testutil.NewFixedIDs("").NewID)
	var verr *ValidationError
	assert.True(t, errors.As(err, &verr))
}

func TestDump_RoundTrip(t *testing.T) {
	ids := testutil.NewFixedIDs("gen")
	nb, err := Load([]byte(validDoc), ids.NewID)
	require.NoError(t, err)

	out, err := Dump(nb)
	require.NoError(t, err)

	nb2, err := Load(out, ids.NewID)
	require.NoError(t, err)
	assert.Equal(t, nb.ID, nb2.ID)
	require.Len(t, nb2.Cells, len(nb.Cells))
	for i := range nb.Cells {
		assert.Equal(t, nb.Cells[i].ID, nb2.Cells[i].ID)
		assert.Equal(t, nb.Cells[i].Type, nb2.Cells[i].Type)
		assert.Equal(t, nb.Cells[i].Text, nb2.Cells[i].Text)
	}
}
