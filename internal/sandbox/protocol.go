package sandbox

// Wire protocol between the executor and an isolated execution context.
// Replies carry the (CellID, Version) correlation pair; the dispatch loop
// discards any reply whose version is not the cell's current one.

// Message type tags.
const (
	TypeCodeExec   = "code-exec"
	TypeCodeResult = "code-result"
	TypeCodeError  = "code-error"
)

// Request asks an execution context to run a code body.
type Request struct {
	Type    string `json:"type"`
	CellID  string `json:"cellId"`
	Code    string `json:"code"`
	Version int64  `json:"version"`
}

// Reply is a completion from an execution context: either a value
// (Type == TypeCodeResult) or an error message (Type == TypeCodeError).
type Reply struct {
	Type    string `json:"type"`
	CellID  string `json:"cellId"`
	Version int64  `json:"version"`
	Value   any    `json:"value,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Result is what callers awaiting a run receive.
type Result struct {
	Value   string
	Err     string
	Stopped bool
}
