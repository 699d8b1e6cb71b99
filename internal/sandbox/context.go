package sandbox

import (
	"context"
	"fmt"
	"strings"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"
)

// execContext is one isolated execution context: a yaegi interpreter
// driven by a single goroutine, reachable only through its request
// mailbox. Requests are evaluated serially; replies go to the executor's
// shared reply mailbox carrying the (cellId, version) correlation pair.
//
// Destroy cancels the context's goroutine. An evaluation already in
// flight cannot be preempted (the interpreter has no interrupt
// mechanism); its eventual reply is discarded by version matching
// instead. That is the advisory cancellation model: ignore late results,
// never wait on them.
type execContext struct {
	requests chan Request
	cancel   context.CancelFunc
}

// allowedImports is the stdlib whitelist for sandboxed code. Anything
// touching the filesystem, network, processes, or unsafe memory is
// rejected before evaluation.
var allowedImports = map[string]bool{
	"bytes":           true,
	"encoding/base64": true,
	"encoding/json":   true,
	"errors":          true,
	"fmt":             true,
	"math":            true,
	"math/rand":       true,
	"regexp":          true,
	"sort":            true,
	"strconv":         true,
	"strings":         true,
	"time":            true,
	"unicode":         true,
	"unicode/utf8":    true,
}

// newExecContext starts the context goroutine and returns its handle.
func newExecContext(replies chan<- Reply) *execContext {
	ctx, cancel := context.WithCancel(context.Background())
	c := &execContext{
		requests: make(chan Request, 4),
		cancel:   cancel,
	}
	go c.loop(ctx, replies)
	return c
}

// Exec submits a request to the context's mailbox.
// Returns false if the mailbox is full (a hung script is still draining).
func (c *execContext) Exec(req Request) bool {
	select {
	case c.requests <- req:
		return true
	default:
		return false
	}
}

// Destroy cancels the context goroutine. In-flight evaluation keeps
// running until it finishes on its own; its reply will not correlate.
func (c *execContext) Destroy() {
	c.cancel()
}

// loop owns the interpreter. One goroutine, serial evaluation.
func (c *execContext) loop(ctx context.Context, replies chan<- Reply) {
	i := interp.New(interp.Options{})
	if err := i.Use(stdlib.Symbols); err != nil {
		// Without stdlib symbols the context is useless; report the
		// first request as failed and bail.
		select {
		case req := <-c.requests:
			sendReply(ctx, replies, Reply{
				Type: TypeCodeError, CellID: req.CellID,
				Version: req.Version, Error: "sandbox init: " + err.Error(),
			})
		case <-ctx.Done():
		}
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case req := <-c.requests:
			value, err := evalCode(i, req.Code)
			rep := Reply{Type: TypeCodeResult, CellID: req.CellID, Version: req.Version}
			if err != nil {
				rep = Reply{Type: TypeCodeError, CellID: req.CellID,
					Version: req.Version, Error: err.Error()}
			} else {
				rep.Value = value
			}
			if !sendReply(ctx, replies, rep) {
				return
			}
		}
	}
}

func sendReply(ctx context.Context, replies chan<- Reply, rep Reply) bool {
	select {
	case replies <- rep:
		return true
	case <-ctx.Done():
		return false
	}
}

// evalCode runs a code body and extracts its result: the conventionally
// named "out" variable if the script assigned one, otherwise the value
// of the final expression.
//
// The interpreter requires import declarations and statements in
// separate Eval calls, so the leading import section is split off and
// evaluated first. "out" is reset before each run; the interpreter
// persists per cell and an earlier run's value must not leak into a run
// that never assigns it.
func evalCode(i *interp.Interpreter, code string) (any, error) {
	if err := checkImports(code); err != nil {
		return nil, err
	}

	imports, body := splitImports(code)
	if imports != "" {
		if _, err := i.Eval(imports); err != nil {
			return nil, err
		}
	}
	if _, err := i.Eval("var out interface{}"); err != nil {
		return nil, err
	}

	last, err := i.Eval(body)
	if err != nil {
		return nil, err
	}

	if out, outErr := i.Eval("out"); outErr == nil && out.IsValid() && out.Interface() != nil {
		return out.Interface(), nil
	}
	if !last.IsValid() {
		return nil, nil
	}
	return last.Interface(), nil
}

// splitImports separates the leading import declarations from the rest
// of the body. Blank lines and line comments may sit between import
// declarations; the first statement line ends the import section.
func splitImports(code string) (imports, body string) {
	lines := strings.Split(code, "\n")
	end := 0
	inBlock := false
scan:
	for idx, line := range lines {
		trimmed := strings.TrimSpace(line)
		switch {
		case inBlock:
			end = idx + 1
			if strings.HasPrefix(trimmed, ")") {
				inBlock = false
			}
		case strings.HasPrefix(trimmed, "import ("):
			inBlock = true
			end = idx + 1
		case strings.HasPrefix(trimmed, "import "):
			end = idx + 1
		case trimmed == "" || strings.HasPrefix(trimmed, "//"):
			// tolerated between import declarations
		default:
			break scan
		}
	}
	if end == 0 {
		return "", code
	}
	return strings.Join(lines[:end], "\n"), strings.Join(lines[end:], "\n")
}

// checkImports scans the code body for import statements and rejects
// anything outside the stdlib whitelist.
func checkImports(code string) error {
	inBlock := false
	for _, line := range strings.Split(code, "\n") {
		trimmed := strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(trimmed, "import ("):
			inBlock = true
		case inBlock && strings.HasPrefix(trimmed, ")"):
			inBlock = false
		case inBlock:
			if pkg := importPath(trimmed); pkg != "" && !allowedImports[pkg] {
				return fmt.Errorf("import %q is not permitted in sandboxed code", pkg)
			}
		case strings.HasPrefix(trimmed, "import "):
			rest := strings.TrimSpace(strings.TrimPrefix(trimmed, "import"))
			if pkg := importPath(rest); pkg != "" && !allowedImports[pkg] {
				return fmt.Errorf("import %q is not permitted in sandboxed code", pkg)
			}
		}
	}
	return nil
}

// importPath extracts the quoted path from one import spec line,
// tolerating an alias prefix.
func importPath(spec string) string {
	start := strings.IndexByte(spec, '"')
	if start < 0 {
		return ""
	}
	end := strings.IndexByte(spec[start+1:], '"')
	if end < 0 {
		return ""
	}
	return spec[start+1 : start+1+end]
}
