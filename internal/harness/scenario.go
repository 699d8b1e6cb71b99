// Package harness runs YAML-defined notebook scenarios: an initial cell
// list plus a sequence of edits, with the resulting staleness and
// auto-scheduling decisions captured as a trace. Traces are compared
// against golden files, which serve as the source of truth for
// propagation behavior.
package harness

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Scenario defines one propagation scenario.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description,omitempty"`

	// Notebook is the initial cell list.
	Notebook []CellDef `yaml:"notebook"`

	// Steps are applied in order; the trace records one event per step.
	Steps []Step `yaml:"steps"`
}

// CellDef is one cell of the initial notebook.
type CellDef struct {
	ID   string `yaml:"id"`
	Type string `yaml:"type"`
	Name string `yaml:"name,omitempty"`
	Text string `yaml:"text,omitempty"`
}

// Step is a single mutation. Op selects which fields apply:
//   - edit:    Cell, Text
//   - rename:  Cell, Name
//   - delete:  Cell
//   - reorder: Cell, To (0-based target index)
//   - refresh: Cell, Output (simulates a completed run)
type Step struct {
	Op     string `yaml:"op"`
	Cell   string `yaml:"cell"`
	Text   string `yaml:"text,omitempty"`
	Name   string `yaml:"name,omitempty"`
	To     int    `yaml:"to,omitempty"`
	Output string `yaml:"output,omitempty"`
}

// Label renders the step for the trace.
func (s Step) Label() string {
	return s.Op + " " + s.Cell
}

var validOps = map[string]struct{}{
	"edit": {}, "rename": {}, "delete": {}, "reorder": {}, "refresh": {},
}

// LoadScenario reads and validates a scenario file.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario: %w", err)
	}
	var sc Scenario
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return nil, fmt.Errorf("parse scenario %s: %w", path, err)
	}
	if sc.Name == "" {
		return nil, fmt.Errorf("scenario %s: missing name", path)
	}
	if len(sc.Notebook) == 0 {
		return nil, fmt.Errorf("scenario %s: empty notebook", sc.Name)
	}
	for i, st := range sc.Steps {
		if _, ok := validOps[st.Op]; !ok {
			return nil, fmt.Errorf("scenario %s: step %d: unknown op %q", sc.Name, i, st.Op)
		}
		if st.Cell == "" {
			return nil, fmt.Errorf("scenario %s: step %d: missing cell", sc.Name, i)
		}
	}
	return &sc, nil
}
