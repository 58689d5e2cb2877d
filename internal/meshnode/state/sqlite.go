package state

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"meshnode/internal/meshnode/domain"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS state_objects (
	obj_type INTEGER NOT NULL,
	obj_id   TEXT NOT NULL,
	data     BLOB NOT NULL,
	PRIMARY KEY (obj_type, obj_id)
);`

// sqliteStore keeps all state objects in a single SQLite file. The cgo-free
// driver keeps the daemon a plain static binary.
type sqliteStore struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the state database under dir.
func OpenSQLite(dir string) (Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}
	dsn := "file:" + filepath.Join(dir, "state.db") + "?_pragma=busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open state db: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init state schema: %w", err)
	}
	return &sqliteStore{db: db}, nil
}

func (s *sqliteStore) Get(objType domain.StateObjectType, id string) ([]byte, error) {
	var data []byte
	err := s.db.QueryRow(
		`SELECT data FROM state_objects WHERE obj_type=? AND obj_id=?`, int(objType), id,
	).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("state get %s/%s: %w", objType, id, err)
	}
	return data, nil
}

func (s *sqliteStore) Put(objType domain.StateObjectType, id string, data []byte) error {
	_, err := s.db.Exec(
		`INSERT INTO state_objects (obj_type, obj_id, data) VALUES (?,?,?)
		 ON CONFLICT (obj_type, obj_id) DO UPDATE SET data=excluded.data`,
		int(objType), id, data,
	)
	if err != nil {
		return fmt.Errorf("state put %s/%s: %w", objType, id, err)
	}
	return nil
}

func (s *sqliteStore) Delete(objType domain.StateObjectType, id string) error {
	if _, err := s.db.Exec(
		`DELETE FROM state_objects WHERE obj_type=? AND obj_id=?`, int(objType), id,
	); err != nil {
		return fmt.Errorf("state delete %s/%s: %w", objType, id, err)
	}
	return nil
}

func (s *sqliteStore) List(objType domain.StateObjectType) ([]string, error) {
	rows, err := s.db.Query(
		`SELECT obj_id FROM state_objects WHERE obj_type=? ORDER BY obj_id`, int(objType),
	)
	if err != nil {
		return nil, fmt.Errorf("state list %s: %w", objType, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *sqliteStore) Close() error { return s.db.Close() }
