package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/quillnb/quill/internal/cell"
	"github.com/quillnb/quill/internal/schema"
	"github.com/quillnb/quill/internal/store"
)

// loadNotebookFile reads and validates a YAML notebook document.
// Cells without ids get generated ones.
func loadNotebookFile(path string) (cell.Notebook, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cell.Notebook{}, WrapExitError(ExitCommandError,
				fmt.Sprintf("notebook file not found: %s", path), err)
		}
		return cell.Notebook{}, WrapExitError(ExitCommandError,
			fmt.Sprintf("reading %s", path), err)
	}
	gen := store.UUIDv7Generator{}
	nb, err := schema.Load(data, gen.NewID)
	if err != nil {
		return cell.Notebook{}, err
	}
	return nb, nil
}

// processEnv snapshots the process environment for {{ ENV[...] }}.
func processEnv() map[string]string {
	env := make(map[string]string)
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			env[k] = v
		}
	}
	return env
}

// resolveCellRef finds a cell by id, name, or 1-based position.
func resolveCellRef(cells []cell.Cell, ref string) (cell.Cell, bool) {
	for _, c := range cells {
		if c.ID == ref {
			return c, true
		}
	}
	for i := len(cells) - 1; i >= 0; i-- {
		if cells[i].Name == ref {
			return cells[i], true
		}
	}
	var pos int
	if _, err := fmt.Sscanf(ref, "%d", &pos); err == nil && pos >= 1 && pos <= len(cells) {
		return cells[pos-1], true
	}
	return cell.Cell{}, false
}
