// Package refindex builds the reference graph over a notebook: a map from
// reference key to the set of cells whose text mentions that key.
//
// The index is always built fresh from a cell list and never mutated
// incrementally. A cell is reachable through several keys at once
// (positional #N/outN, id, name); the index records dependencies under the
// exact key the referencing cell wrote, so staleness propagation has to
// look up every alias of a changed cell; see CollectCellKeys.
package refindex

import (
	"strconv"

	"github.com/quillnb/quill/internal/cell"
	"github.com/quillnb/quill/internal/template"
)

// Index maps a reference key to the set of dependent cell ids.
type Index map[string]map[string]struct{}

// Build scans every templated cell's text and records key → dependent id.
// Keys are NFC-normalized so they compare the same way lookups do.
func Build(cells []cell.Cell) Index {
	idx := make(Index)
	for _, c := range cells {
		if !c.Type.Templated() {
			continue
		}
		for _, key := range template.References(c.Text) {
			key = template.NormalizeKey(key)
			deps, ok := idx[key]
			if !ok {
				deps = make(map[string]struct{})
				idx[key] = deps
			}
			deps[c.ID] = struct{}{}
		}
	}
	return idx
}

// Dependents returns the ids of cells referencing the given key.
func (idx Index) Dependents(key string) []string {
	deps, ok := idx[template.NormalizeKey(key)]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(deps))
	for id := range deps {
		out = append(out, id)
	}
	return out
}

// CollectCellKeys returns the union of every alias a cell answered to
// before and after a change: positional keys from both orderings, its id,
// and its previous and current names.
//
// Both sides matter: a rename or reorder changes which keys point at the
// cell, and dependents holding the OLD key are exactly the ones that must
// be invalidated.
func CollectCellKeys(prev, next []cell.Cell, cellID string) []string {
	seen := make(map[string]struct{})
	var keys []string
	add := func(k string) {
		if k == "" {
			return
		}
		k = template.NormalizeKey(k)
		if _, dup := seen[k]; dup {
			return
		}
		seen[k] = struct{}{}
		keys = append(keys, k)
	}

	add(cellID)
	for _, cells := range [][]cell.Cell{prev, next} {
		if i := cell.FindByID(cells, cellID); i >= 0 {
			add(positionalKey(i))
			add(outKey(i))
			add(cells[i].Name)
		}
	}
	return keys
}

func positionalKey(index int) string {
	return "#" + strconv.Itoa(index+1)
}

func outKey(index int) string {
	return "out" + strconv.Itoa(index+1)
}
