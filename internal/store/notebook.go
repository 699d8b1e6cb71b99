package store

import (
	"fmt"
	"log/slog"

	"github.com/quillnb/quill/internal/cell"
)

// Current returns a deep copy of the current notebook. Callers may
// mutate the copy freely; all writes go through Update and friends.
func (s *Store) Current() cell.Notebook {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Subscribe registers a callback invoked synchronously after every
// notifying mutation. Subscribers run outside the store lock, so they
// may call back into the store.
func (s *Store) Subscribe(fn func(cell.Change)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs = append(s.subs, fn)
}

// Update applies a partial patch to one cell and notifies subscribers
// with the given change.
func (s *Store) Update(id string, patch cell.Patch, change cell.Change) error {
	s.mu.Lock()
	i := cell.FindByID(s.nb.Cells, id)
	if i < 0 {
		s.mu.Unlock()
		return fmt.Errorf("update: no cell with id %s", id)
	}
	patch.Apply(&s.nb.Cells[i])
	if err := s.persistLocked(); err != nil {
		s.mu.Unlock()
		return err
	}
	s.mu.Unlock()

	s.notify(change)
	return nil
}

// Create appends a new empty cell of the given type and notifies with
// reason content-edit.
func (s *Store) Create(t cell.Type) (cell.Cell, error) {
	s.mu.Lock()
	c := cell.Cell{ID: s.idgen.NewID(), Type: t}
	s.nb.Cells = append(s.nb.Cells, c)
	if err := s.persistLocked(); err != nil {
		s.mu.Unlock()
		return cell.Cell{}, err
	}
	s.mu.Unlock()

	slog.Debug("cell created", "cell", c.ID, "type", t.String())
	s.notify(cell.Change{ChangedIDs: []string{c.ID}, Reason: cell.ReasonContentEdit})
	return c, nil
}

// Delete removes a cell. Dangling references to it resolve to the empty
// string from then on; dependents are invalidated by propagation.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	i := cell.FindByID(s.nb.Cells, id)
	if i < 0 {
		s.mu.Unlock()
		return fmt.Errorf("delete: no cell with id %s", id)
	}
	s.nb.Cells = append(s.nb.Cells[:i], s.nb.Cells[i+1:]...)
	if err := s.persistLocked(); err != nil {
		s.mu.Unlock()
		return err
	}
	s.mu.Unlock()

	slog.Debug("cell deleted", "cell", id)
	s.notify(cell.Change{ChangedIDs: []string{id}, Reason: cell.ReasonContentEdit})
	return nil
}

// Reorder moves a cell to a new index. Every cell whose position shifted
// is reported as changed, since positional keys now point elsewhere.
func (s *Store) Reorder(id string, newIndex int) error {
	s.mu.Lock()
	i := cell.FindByID(s.nb.Cells, id)
	if i < 0 {
		s.mu.Unlock()
		return fmt.Errorf("reorder: no cell with id %s", id)
	}
	if newIndex < 0 || newIndex >= len(s.nb.Cells) {
		s.mu.Unlock()
		return fmt.Errorf("reorder: index %d out of range", newIndex)
	}

	moved := s.nb.Cells[i]
	rest := append(append([]cell.Cell{}, s.nb.Cells[:i]...), s.nb.Cells[i+1:]...)
	cells := append(append(append([]cell.Cell{}, rest[:newIndex]...), moved), rest[newIndex:]...)

	lo, hi := i, newIndex
	if lo > hi {
		lo, hi = hi, lo
	}
	var changed []string
	for idx := lo; idx <= hi; idx++ {
		changed = append(changed, cells[idx].ID)
	}

	s.nb.Cells = cells
	if err := s.persistLocked(); err != nil {
		s.mu.Unlock()
		return err
	}
	s.mu.Unlock()

	slog.Debug("cell reordered", "cell", id, "to", newIndex)
	s.notify(cell.Change{ChangedIDs: changed, Reason: cell.ReasonContentEdit})
	return nil
}

// SetStale bulk-writes recomputed stale flags without notifying.
// This is the write-back path of staleness propagation; notifying here
// would re-trigger the propagation that produced the flags.
func (s *Store) SetStale(stale map[string]bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.nb.Cells {
		if v, ok := stale[s.nb.Cells[i].ID]; ok {
			s.nb.Cells[i].Stale = v
		}
	}
	return s.persistLocked()
}

// SetDefaults updates the notebook-level default model and params.
func (s *Store) SetDefaults(model string, params map[string]any) error {
	s.mu.Lock()
	s.nb.DefaultModel = model
	s.nb.DefaultParams = params
	if err := s.persistLocked(); err != nil {
		s.mu.Unlock()
		return err
	}
	s.mu.Unlock()

	s.notify(cell.Change{Reason: cell.ReasonUIOnly})
	return nil
}

// Replace swaps in an entirely new notebook (import path). Subscribers
// see one content-edit covering every cell of both notebooks.
func (s *Store) Replace(nb cell.Notebook) error {
	s.mu.Lock()
	var changed []string
	for _, c := range s.nb.Cells {
		changed = append(changed, c.ID)
	}
	for _, c := range nb.Cells {
		changed = append(changed, c.ID)
	}
	s.nb = nb
	if err := s.persistLocked(); err != nil {
		s.mu.Unlock()
		return err
	}
	s.mu.Unlock()

	s.notify(cell.Change{ChangedIDs: changed, Reason: cell.ReasonContentEdit})
	return nil
}

// snapshotLocked deep-copies the notebook. Caller holds s.mu.
func (s *Store) snapshotLocked() cell.Notebook {
	out := cell.Notebook{
		ID:           s.nb.ID,
		DefaultModel: s.nb.DefaultModel,
		Cells:        s.nb.CloneCells(),
	}
	if s.nb.DefaultParams != nil {
		out.DefaultParams = make(map[string]any, len(s.nb.DefaultParams))
		for k, v := range s.nb.DefaultParams {
			out.DefaultParams[k] = v
		}
	}
	return out
}

// notify runs subscribers outside the lock.
func (s *Store) notify(change cell.Change) {
	s.mu.Lock()
	subs := append([]func(cell.Change){}, s.subs...)
	s.mu.Unlock()
	for _, fn := range subs {
		fn(change)
	}
}
