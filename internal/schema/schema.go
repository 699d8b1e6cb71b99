// Package schema loads and dumps notebook documents: YAML on the
// outside, validated against a CUE schema before anything is accepted.
// Invalid documents are rejected whole; there is no partial load.
package schema

import (
	_ "embed"
	"fmt"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"gopkg.in/yaml.v3"

	"github.com/quillnb/quill/internal/cell"
)

//go:embed notebook.cue
var schemaSrc string

// ValidationError is a malformed notebook document. The message carries
// CUE's per-field positions.
type ValidationError struct {
	Message string
	Err     error
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return "invalid notebook document: " + e.Message
}

// Unwrap exposes the underlying cause.
func (e *ValidationError) Unwrap() error { return e.Err }

// document is the YAML shape of a notebook on disk.
type document struct {
	ID            string         `yaml:"id,omitempty"`
	DefaultModel  string         `yaml:"default_model,omitempty"`
	DefaultParams map[string]any `yaml:"default_params,omitempty"`
	Cells         []cellDoc      `yaml:"cells"`
}

type cellDoc struct {
	ID           string         `yaml:"id,omitempty"`
	Type         string         `yaml:"type"`
	Name         string         `yaml:"name,omitempty"`
	Text         string         `yaml:"text,omitempty"`
	SystemPrompt string         `yaml:"system_prompt,omitempty"`
	Params       map[string]any `yaml:"params,omitempty"`
	ModelID      string         `yaml:"model_id,omitempty"`
	LastOutput   string         `yaml:"last_output,omitempty"`
	Error        string         `yaml:"error,omitempty"`
	Stale        bool           `yaml:"stale,omitempty"`
}

// Load parses and validates a YAML notebook document. Cells without ids
// get one from newID. Returns *ValidationError on any structural
// problem.
func Load(data []byte, newID func() string) (cell.Notebook, error) {
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return cell.Notebook{}, &ValidationError{Message: err.Error(), Err: err}
	}
	if raw == nil {
		return cell.Notebook{}, &ValidationError{Message: "document is empty"}
	}

	if err := validate(raw); err != nil {
		return cell.Notebook{}, err
	}

	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return cell.Notebook{}, &ValidationError{Message: err.Error(), Err: err}
	}

	nb := cell.Notebook{
		ID:            doc.ID,
		DefaultModel:  doc.DefaultModel,
		DefaultParams: doc.DefaultParams,
	}
	if nb.ID == "" {
		nb.ID = newID()
	}
	for _, cd := range doc.Cells {
		t, err := cell.ParseType(cd.Type)
		if err != nil {
			// Unreachable after CUE validation, but the fallback keeps
			// the load honest if the schema and parser ever diverge.
			return cell.Notebook{}, &ValidationError{Message: err.Error(), Err: err}
		}
		c := cell.Cell{
			ID:           cd.ID,
			Type:         t,
			Name:         cd.Name,
			Text:         cd.Text,
			SystemPrompt: cd.SystemPrompt,
			Params:       cd.Params,
			ModelID:      cd.ModelID,
			LastOutput:   cd.LastOutput,
			Error:        cd.Error,
			Stale:        cd.Stale,
		}
		if c.ID == "" {
			c.ID = newID()
		}
		nb.Cells = append(nb.Cells, c)
	}
	return nb, nil
}

// Dump renders a notebook back into its YAML document form.
func Dump(nb cell.Notebook) ([]byte, error) {
	doc := document{
		ID:            nb.ID,
		DefaultModel:  nb.DefaultModel,
		DefaultParams: nb.DefaultParams,
	}
	for _, c := range nb.Cells {
		doc.Cells = append(doc.Cells, cellDoc{
			ID:           c.ID,
			Type:         c.Type.String(),
			Name:         c.Name,
			Text:         c.Text,
			SystemPrompt: c.SystemPrompt,
			Params:       c.Params,
			ModelID:      c.ModelID,
			LastOutput:   c.LastOutput,
			Error:        c.Error,
			Stale:        c.Stale,
		})
	}
	out, err := yaml.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("marshal notebook document: %w", err)
	}
	return out, nil
}

// validate unifies the decoded document with the closed #Notebook
// definition. Uses the CUE SDK's Go API directly, not a CLI subprocess.
func validate(raw any) error {
	ctx := cuecontext.New()
	schemaVal := ctx.CompileString(schemaSrc)
	if err := schemaVal.Err(); err != nil {
		return fmt.Errorf("compile notebook schema: %w", err)
	}
	def := schemaVal.LookupPath(cue.ParsePath("#Notebook"))
	if err := def.Err(); err != nil {
		return fmt.Errorf("lookup #Notebook: %w", err)
	}

	docVal := ctx.Encode(raw)
	if err := docVal.Err(); err != nil {
		return &ValidationError{Message: cueerrors.Details(err, nil), Err: err}
	}

	unified := def.Unify(docVal)
	if err := unified.Validate(cue.Concrete(false)); err != nil {
		return &ValidationError{Message: cueerrors.Details(err, nil), Err: err}
	}
	return nil
}
