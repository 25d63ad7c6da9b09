package store

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/dgraph-io/badger"
)

// Database wraps the Badger key-value store.
type Database struct {
	db *badger.DB
}

// NewDatabase opens (or creates) the Badger database under path.
func NewDatabase(path string) (*Database, error) {
	// A stale lock file from a crashed process blocks reopening.
	lockFile := filepath.Join(path, "LOCK")
	if err := os.Remove(lockFile); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to remove existing lock file: %w", err)
	}

	opts := badger.DefaultOptions(path).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger database: %w", err)
	}
	return &Database{db: db}, nil
}

func (d *Database) GetDB() *badger.DB {
	return d.db
}

// Set stores a key-value pair.
func (d *Database) Set(key, value []byte) error {
	return d.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, value)
	})
}

// Get retrieves the value for key. Returns badger.ErrKeyNotFound if absent.
func (d *Database) Get(key []byte) ([]byte, error) {
	var valCopy []byte
	err := d.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		valCopy, err = item.ValueCopy(nil)
		return err
	})
	return valCopy, err
}

// Has reports whether key exists.
func (d *Database) Has(key []byte) (bool, error) {
	err := d.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(key)
		return err
	})
	if err == badger.ErrKeyNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Delete removes a key-value pair.
func (d *Database) Delete(key []byte) error {
	return d.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(key)
	})
}

// View runs fn in a read-only transaction.
func (d *Database) View(fn func(txn *badger.Txn) error) error {
	return d.db.View(fn)
}

// Update runs fn in a read-write transaction.
func (d *Database) Update(fn func(txn *badger.Txn) error) error {
	return d.db.Update(fn)
}

// Close closes the underlying database.
func (d *Database) Close() error {
	if d.db == nil {
		return nil
	}
	return d.db.Close()
}
