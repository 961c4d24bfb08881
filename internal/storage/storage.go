// Package storage persists the console's bounded histories.
//
// Each history kind lives in a single named slot holding the JSON encoding of
// the whole sequence. The default backend is a BoltDB file where every slot is
// one key in the history bucket, so each write replaces the slot in a single
// transaction and readers never observe a partial sequence.
package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"segmentation-console/internal/common"

	"go.etcd.io/bbolt"
)

const historyBucket = "history"

// Slot is one named durable location holding a serialized sequence.
type Slot interface {
	Name() string
	// Read returns nil, nil when nothing has been written yet.
	Read() ([]byte, error)
	Write(data []byte) error
	Delete() error
}

// Store provides BoltDB-backed slots.
type Store struct {
	db *bbolt.DB
}

// New opens (or creates) the history database under dataPath.
func New(dataPath string) (*Store, error) {
	if err := os.MkdirAll(dataPath, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create data path: %w", err)
	}
	dbPath := filepath.Join(dataPath, common.DefaultDBFile)

	db, err := bbolt.Open(dbPath, 0o600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(historyBucket)); err != nil {
			return fmt.Errorf("create history bucket: %w", err)
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// Close closes the database. Closing twice is harmless.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Slot returns the slot stored under name.
func (s *Store) Slot(name string) Slot {
	return &boltSlot{db: s.db, key: []byte(name)}
}

type boltSlot struct {
	db  *bbolt.DB
	key []byte
}

func (b *boltSlot) Name() string { return string(b.key) }

func (b *boltSlot) Read() ([]byte, error) {
	var data []byte
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(historyBucket))
		if bucket == nil {
			return nil
		}
		if v := bucket.Get(b.key); v != nil {
			// bbolt values are only valid inside the transaction
			data = append([]byte(nil), v...)
		}
		return nil
	})
	return data, err
}

func (b *boltSlot) Write(data []byte) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket, err := tx.CreateBucketIfNotExists([]byte(historyBucket))
		if err != nil {
			return fmt.Errorf("create history bucket: %w", err)
		}
		return bucket.Put(b.key, data)
	})
}

func (b *boltSlot) Delete() error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(historyBucket))
		if bucket == nil {
			return nil
		}
		return bucket.Delete(b.key)
	})
}
