// Package store owns the current notebook: an ordered cell collection
// with CRUD, subscription, and SQLite persistence.
//
// Every mutation the engine performs on cell data goes through this
// package so persistence and subscribers can react. Subscribers are
// notified synchronously after the mutation commits; the engine's single
// control flow means no mutation races a notification.
package store

import (
	"database/sql"
	_ "embed"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/quillnb/quill/internal/cell"
)

//go:embed schema.sql
var schemaSQL string

// IDGenerator produces cell and notebook ids.
// Implemented by UUIDv7Generator (production) and testutil.FixedIDs.
type IDGenerator interface {
	NewID() string
}

// UUIDv7Generator generates time-sortable UUIDv7 ids.
type UUIDv7Generator struct{}

// NewID returns a new UUIDv7 as a hyphenated string.
func (UUIDv7Generator) NewID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// Store holds the current notebook and its persistence handle.
type Store struct {
	mu    sync.Mutex
	nb    cell.Notebook
	subs  []func(cell.Change)
	idgen IDGenerator
	db    *sql.DB // nil for a memory-only store
}

// Option configures a Store.
type Option func(*Store)

// WithIDGenerator overrides id generation. Tests use fixed sequences.
func WithIDGenerator(g IDGenerator) Option {
	return func(s *Store) { s.idgen = g }
}

// NewMemory creates a store with no persistence, seeded with the given
// notebook (or the default template when empty).
func NewMemory(nb cell.Notebook, opts ...Option) *Store {
	s := &Store{idgen: UUIDv7Generator{}}
	for _, opt := range opts {
		opt(s)
	}
	if nb.ID == "" {
		nb = DefaultTemplate(s.idgen)
	}
	s.nb = nb
	return s
}

// Open creates or opens the SQLite-backed store at path and loads the
// current notebook. A malformed persisted structure does not fail the
// open: the whole notebook falls back to the default template, never a
// partial load.
func Open(path string, opts ...Option) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect database: %w", err)
	}

	// SQLite supports one writer; keep the pool at a single connection
	// to avoid SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, err
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	s := &Store{idgen: UUIDv7Generator{}, db: db}
	for _, opt := range opts {
		opt(s)
	}

	nb, err := loadCurrent(db)
	if err != nil {
		slog.Warn("persisted notebook is malformed, falling back to default template",
			"error", err)
		nb = DefaultTemplate(s.idgen)
	}
	if nb.ID == "" {
		nb = DefaultTemplate(s.idgen)
	}
	s.nb = nb

	if err := s.persist(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("execute %q: %w", pragma, err)
		}
	}
	return nil
}

// DefaultTemplate is the notebook a fresh (or unrecoverable) store
// starts with.
func DefaultTemplate(idgen IDGenerator) cell.Notebook {
	return cell.Notebook{
		ID:           idgen.NewID(),
		DefaultModel: "gemini-2.0-flash",
		Cells: []cell.Cell{
			{
				ID:   idgen.NewID(),
				Type: cell.TypeMarkdown,
				Text: "# Welcome\n\nReference other cells with `{{name}}`, `{{#1}}`, or `{{out1}}`.",
			},
			{
				ID:   idgen.NewID(),
				Type: cell.TypeVariable,
				Name: "greeting",
				Text: "hello",
			},
			{
				ID:   idgen.NewID(),
				Type: cell.TypeCode,
				Name: "shout",
				Text: "import \"strings\"\nout := strings.ToUpper(\"{{greeting}}\")",
			},
		},
	}
}
