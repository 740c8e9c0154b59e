package kvstore

import (
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"
)

// ErrNoFreePages mirrors the NVS partition's "no free pages" condition
// from spec.md §4.3 ("on 'no free pages' error, erase and reinit once").
// A real flash-backed NVS partition can run out of erase pages; the
// sqlite-backed stand-in below never does, but the sentinel and retry
// path are kept so the component-level contract matches the spec exactly.
// The retry lives in OpenSQLiteBlobStore; no unit test reaches it.
var ErrNoFreePages = errors.New("kvstore: no free pages")

// BlobStore is the raw, namespace+key -> bytes persistence the Store (NVS
// abstraction) is built on. spec.md treats the underlying flash I/O as an
// out-of-scope collaborator (§1); this interface is that collaborator's
// contract, with SQLiteBlobStore as the on-device implementation grounded
// on Tutu-Engine's and shoal-provision's modernc.org/sqlite usage.
type BlobStore interface {
	Get(namespace, key string) ([]byte, bool, error)
	Put(namespace, key string, value []byte) error
	Delete(namespace, key string) error
	EraseAll() error
	Close() error
}

// SQLiteBlobStore is a BlobStore backed by a single-table sqlite database,
// giving the settings store durability across process restarts as
// required by spec.md §1 ("persists configuration across reboots").
type SQLiteBlobStore struct {
	db *sql.DB
}

// OpenSQLiteBlobStore opens (creating if necessary) the sqlite database at
// path and ensures the backing table exists. Init retries up to 5 times
// and, on ErrNoFreePages, erases and reinitializes once, per spec.md
// §4.3 ("Init: retry up to 5 times; on 'no free pages' error, erase and
// reinit once").
func OpenSQLiteBlobStore(path string) (*SQLiteBlobStore, error) {
	var lastErr error
	for attempt := 0; attempt < 5; attempt++ {
		db, err := sql.Open("sqlite", path)
		if err != nil {
			lastErr = err
			continue
		}
		if err := initSchema(db); err != nil {
			if errors.Is(err, ErrNoFreePages) {
				db.Close()
				if eraseErr := eraseSQLiteFile(path); eraseErr != nil {
					return nil, fmt.Errorf("kvstore: erase after no-free-pages: %w", eraseErr)
				}
				db, err = sql.Open("sqlite", path)
				if err != nil {
					return nil, err
				}
				if err := initSchema(db); err != nil {
					return nil, fmt.Errorf("kvstore: reinit after erase: %w", err)
				}
				return &SQLiteBlobStore{db: db}, nil
			}
			lastErr = err
			db.Close()
			continue
		}
		return &SQLiteBlobStore{db: db}, nil
	}
	return nil, fmt.Errorf("kvstore: init failed after retries: %w", lastErr)
}

func initSchema(db *sql.DB) error {
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS kv (
		namespace TEXT NOT NULL,
		key       TEXT NOT NULL,
		value     BLOB NOT NULL,
		PRIMARY KEY (namespace, key)
	)`)
	return err
}

func eraseSQLiteFile(path string) error {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return err
	}
	defer db.Close()
	_, err = db.Exec(`DROP TABLE IF EXISTS kv`)
	return err
}

func (s *SQLiteBlobStore) Get(namespace, key string) ([]byte, bool, error) {
	var value []byte
	err := s.db.QueryRow(`SELECT value FROM kv WHERE namespace = ? AND key = ?`, namespace, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

func (s *SQLiteBlobStore) Put(namespace, key string, value []byte) error {
	_, err := s.db.Exec(`INSERT INTO kv (namespace, key, value) VALUES (?, ?, ?)
		ON CONFLICT(namespace, key) DO UPDATE SET value = excluded.value`, namespace, key, value)
	return err
}

func (s *SQLiteBlobStore) Delete(namespace, key string) error {
	_, err := s.db.Exec(`DELETE FROM kv WHERE namespace = ? AND key = ?`, namespace, key)
	return err
}

func (s *SQLiteBlobStore) EraseAll() error {
	_, err := s.db.Exec(`DELETE FROM kv`)
	return err
}

func (s *SQLiteBlobStore) Close() error {
	return s.db.Close()
}
