package cell

import (
	"fmt"
	"time"
)

// Type is the closed set of cell kinds. Behavior at every decision point
// (value source, auto-run eligibility, executor selection) switches
// exhaustively on this tag, so adding a kind is a compile-time exercise.
type Type int

const (
	// TypeMarkdown renders its text through template expansion.
	TypeMarkdown Type = iota + 1
	// TypeVariable holds a literal value; its text IS its value.
	TypeVariable
	// TypePrompt sends its expanded text to an LLM on explicit trigger.
	TypePrompt
	// TypeCode runs its expanded text in a sandboxed interpreter.
	TypeCode
)

// String returns the stable wire name of the type.
func (t Type) String() string {
	switch t {
	case TypeMarkdown:
		return "markdown"
	case TypeVariable:
		return "variable"
	case TypePrompt:
		return "prompt"
	case TypeCode:
		return "code"
	default:
		return fmt.Sprintf("Type(%d)", int(t))
	}
}

// ParseType converts a wire name back into a Type.
// Unknown names are a validation error, never a silent default.
func ParseType(s string) (Type, error) {
	switch s {
	case "markdown":
		return TypeMarkdown, nil
	case "variable":
		return TypeVariable, nil
	case "prompt":
		return TypePrompt, nil
	case "code":
		return TypeCode, nil
	default:
		return 0, fmt.Errorf("unknown cell type %q", s)
	}
}

// MarshalText implements encoding.TextMarshaler so Type round-trips
// through JSON and YAML as its wire name.
func (t Type) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *Type) UnmarshalText(b []byte) error {
	parsed, err := ParseType(string(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// Templated reports whether cells of this type participate in {{ }}
// templating (both as referencers and as dependents).
func (t Type) Templated() bool {
	switch t {
	case TypeMarkdown, TypeVariable, TypePrompt, TypeCode:
		return true
	default:
		return false
	}
}

// Executable reports whether cells of this type produce an output by
// running something (as opposed to being their own value).
func (t Type) Executable() bool {
	switch t {
	case TypePrompt, TypeCode:
		return true
	case TypeMarkdown, TypeVariable:
		return false
	default:
		return false
	}
}

// RunInfo is observational metadata about the most recent execution.
type RunInfo struct {
	StartedAt        time.Time     `json:"started_at"`
	Duration         time.Duration `json:"duration"`
	Model            string        `json:"model,omitempty"`
	PromptTokens     int           `json:"prompt_tokens,omitempty"`
	CompletionTokens int           `json:"completion_tokens,omitempty"`
}

// Cell is the unit of computation in a notebook.
//
// ID is opaque and immutable for the cell's lifetime. Name is a mutable,
// user-chosen alias and is NOT required to be unique; duplicate names
// resolve to the last match in document order.
type Cell struct {
	ID   string `json:"id"`
	Type Type   `json:"type"`
	Name string `json:"name,omitempty"`
	Text string `json:"text"`

	// Prompt-only execution configuration.
	SystemPrompt string         `json:"system_prompt,omitempty"`
	Params       map[string]any `json:"params,omitempty"`
	ModelID      string         `json:"model_id,omitempty"`

	LastOutput string `json:"last_output,omitempty"`
	Error      string `json:"error,omitempty"`

	// Stale is recomputed wholesale on every propagation pass, never
	// patched incrementally. See internal/staleness.
	Stale bool `json:"stale,omitempty"`

	LastRunInfo *RunInfo `json:"last_run_info,omitempty"`
}

// Value returns the cell's current value for reference resolution:
// executable cells expose their last output, the rest expose raw text.
func (c Cell) Value() string {
	switch c.Type {
	case TypePrompt, TypeCode:
		return c.LastOutput
	case TypeMarkdown, TypeVariable:
		return c.Text
	default:
		return ""
	}
}

// Clone returns a deep copy of the cell. Params and RunInfo are copied
// so callers can mutate the clone freely.
func (c Cell) Clone() Cell {
	out := c
	if c.Params != nil {
		out.Params = make(map[string]any, len(c.Params))
		for k, v := range c.Params {
			out.Params[k] = v
		}
	}
	if c.LastRunInfo != nil {
		ri := *c.LastRunInfo
		out.LastRunInfo = &ri
	}
	return out
}

// Notebook is an ordered sequence of cells plus notebook-level defaults.
// Cell order is significant: it defines the positional reference keys
// (#N, outN), which are always derived from the current index.
type Notebook struct {
	ID            string         `json:"id"`
	Cells         []Cell         `json:"cells"`
	DefaultModel  string         `json:"default_model,omitempty"`
	DefaultParams map[string]any `json:"default_params,omitempty"`
}

// CloneCells returns a deep copy of the notebook's cell slice.
func (n Notebook) CloneCells() []Cell {
	out := make([]Cell, len(n.Cells))
	for i, c := range n.Cells {
		out[i] = c.Clone()
	}
	return out
}

// FindByID returns the index of the cell with the given id, or -1.
func FindByID(cells []Cell, id string) int {
	for i, c := range cells {
		if c.ID == id {
			return i
		}
	}
	return -1
}
