package store

import "database/sql"

// rawDB opens a plain connection for out-of-band corruption in tests.
func rawDB(path string) (*sql.DB, error) {
	return sql.Open("sqlite3", path)
}
