package cell

import "fmt"

// Reason classifies why a set of cells changed. Staleness propagation
// treats each reason differently (see internal/staleness).
type Reason int

const (
	// ReasonContentEdit means the cell's own text or execution config
	// changed; executable cells become stale and propagate.
	ReasonContentEdit Reason = iota + 1
	// ReasonOutputRefresh means the cell's output was just replaced by a
	// successful execution; the cell itself is fresh but its dependents
	// must re-evaluate.
	ReasonOutputRefresh
	// ReasonUIOnly covers changes with no computational consequence
	// (error display, run metadata); excluded from propagation entirely.
	ReasonUIOnly
)

// String returns the stable wire name of the reason.
func (r Reason) String() string {
	switch r {
	case ReasonContentEdit:
		return "content-edit"
	case ReasonOutputRefresh:
		return "output-refresh"
	case ReasonUIOnly:
		return "ui-only"
	default:
		return fmt.Sprintf("Reason(%d)", int(r))
	}
}

// Change describes one store mutation for subscribers.
type Change struct {
	ChangedIDs []string
	Reason     Reason
}

// Patch is a partial update to a cell. Nil fields are left untouched.
// Every engine-side mutation of cell data goes through a Patch so the
// store remains the single writer of cell state.
type Patch struct {
	Name         *string
	Text         *string
	SystemPrompt *string
	Params       *map[string]any
	ModelID      *string
	LastOutput   *string
	Error        *string
	Stale        *bool
	LastRunInfo  *RunInfo
}

// Apply copies the patch's non-nil fields onto a cell.
func (p Patch) Apply(c *Cell) {
	if p.Name != nil {
		c.Name = *p.Name
	}
	if p.Text != nil {
		c.Text = *p.Text
	}
	if p.SystemPrompt != nil {
		c.SystemPrompt = *p.SystemPrompt
	}
	if p.Params != nil {
		c.Params = *p.Params
	}
	if p.ModelID != nil {
		c.ModelID = *p.ModelID
	}
	if p.LastOutput != nil {
		c.LastOutput = *p.LastOutput
	}
	if p.Error != nil {
		c.Error = *p.Error
	}
	if p.Stale != nil {
		c.Stale = *p.Stale
	}
	if p.LastRunInfo != nil {
		ri := *p.LastRunInfo
		c.LastRunInfo = &ri
	}
}

// StringPtr, BoolPtr etc. keep Patch construction readable at call sites.
func StringPtr(s string) *string { return &s }

// BoolPtr returns a pointer to b.
func BoolPtr(b bool) *bool { return &b }
