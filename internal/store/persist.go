package store

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/quillnb/quill/internal/cell"
)

// persist writes the whole notebook. Notebooks are small; rewriting the
// cell rows in one transaction is simpler and safer than row diffing.
func (s *Store) persist() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.persistLocked()
}

// persistLocked writes the current notebook inside one transaction.
// Caller holds s.mu. No-op for memory-only stores.
func (s *Store) persistLocked() error {
	if s.db == nil {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin persist: %w", err)
	}
	defer tx.Rollback()

	params, err := json.Marshal(s.nb.DefaultParams)
	if err != nil {
		return fmt.Errorf("marshal default params: %w", err)
	}
	if _, err := tx.Exec(`UPDATE notebooks SET is_current = 0`); err != nil {
		return fmt.Errorf("clear current flag: %w", err)
	}
	if _, err := tx.Exec(`
		INSERT INTO notebooks (id, default_model, default_params, is_current)
		VALUES (?, ?, ?, 1)
		ON CONFLICT(id) DO UPDATE SET
			default_model = excluded.default_model,
			default_params = excluded.default_params,
			is_current = 1`,
		s.nb.ID, s.nb.DefaultModel, string(params)); err != nil {
		return fmt.Errorf("upsert notebook: %w", err)
	}

	if _, err := tx.Exec(`DELETE FROM cells WHERE notebook_id = ?`, s.nb.ID); err != nil {
		return fmt.Errorf("clear cells: %w", err)
	}
	for i, c := range s.nb.Cells {
		cellParams, err := json.Marshal(c.Params)
		if err != nil {
			return fmt.Errorf("marshal params for cell %s: %w", c.ID, err)
		}
		runInfo := ""
		if c.LastRunInfo != nil {
			b, err := json.Marshal(c.LastRunInfo)
			if err != nil {
				return fmt.Errorf("marshal run info for cell %s: %w", c.ID, err)
			}
			runInfo = string(b)
		}
		if _, err := tx.Exec(`
			INSERT INTO cells (id, notebook_id, position, type, name, text,
				system_prompt, params, model_id, last_output, error, stale,
				last_run_info)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			c.ID, s.nb.ID, i, c.Type.String(), c.Name, c.Text,
			c.SystemPrompt, string(cellParams), c.ModelID, c.LastOutput,
			c.Error, boolToInt(c.Stale), runInfo); err != nil {
			return fmt.Errorf("insert cell %s: %w", c.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit persist: %w", err)
	}
	return nil
}

// loadCurrent reads the current notebook. Any malformed row makes the
// whole load fail; the caller falls back to the default template rather
// than partially loading.
func loadCurrent(db *sql.DB) (cell.Notebook, error) {
	var nb cell.Notebook
	var params string
	err := db.QueryRow(`
		SELECT id, default_model, default_params
		FROM notebooks WHERE is_current = 1`).
		Scan(&nb.ID, &nb.DefaultModel, &params)
	if err == sql.ErrNoRows {
		return cell.Notebook{}, nil
	}
	if err != nil {
		return cell.Notebook{}, fmt.Errorf("read notebook row: %w", err)
	}
	if params != "" && params != "null" {
		if err := json.Unmarshal([]byte(params), &nb.DefaultParams); err != nil {
			return cell.Notebook{}, fmt.Errorf("decode default params: %w", err)
		}
	}

	rows, err := db.Query(`
		SELECT id, type, name, text, system_prompt, params, model_id,
			last_output, error, stale, last_run_info
		FROM cells WHERE notebook_id = ? ORDER BY position`, nb.ID)
	if err != nil {
		return cell.Notebook{}, fmt.Errorf("read cells: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var c cell.Cell
		var typ, cellParams, runInfo string
		var stale int
		if err := rows.Scan(&c.ID, &typ, &c.Name, &c.Text, &c.SystemPrompt,
			&cellParams, &c.ModelID, &c.LastOutput, &c.Error, &stale,
			&runInfo); err != nil {
			return cell.Notebook{}, fmt.Errorf("scan cell row: %w", err)
		}
		c.Type, err = cell.ParseType(typ)
		if err != nil {
			return cell.Notebook{}, fmt.Errorf("cell %s: %w", c.ID, err)
		}
		if cellParams != "" && cellParams != "null" {
			if err := json.Unmarshal([]byte(cellParams), &c.Params); err != nil {
				return cell.Notebook{}, fmt.Errorf("cell %s params: %w", c.ID, err)
			}
		}
		if runInfo != "" {
			var ri cell.RunInfo
			if err := json.Unmarshal([]byte(runInfo), &ri); err != nil {
				return cell.Notebook{}, fmt.Errorf("cell %s run info: %w", c.ID, err)
			}
			c.LastRunInfo = &ri
		}
		c.Stale = stale != 0
		nb.Cells = append(nb.Cells, c)
	}
	if err := rows.Err(); err != nil {
		return cell.Notebook{}, fmt.Errorf("iterate cells: %w", err)
	}
	return nb, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
