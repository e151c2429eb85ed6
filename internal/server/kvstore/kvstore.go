// Package kvstore wraps go.etcd.io/bbolt as the ordered key-value store
// with atomic batch writes backing the server's share-fp and inode
// indexes. DedupCore and minDedupCore each open one Store for their own
// index pair.
package kvstore

import (
	"fmt"

	"go.etcd.io/bbolt"
)

// Store is an ordered key-value store backed by a single bbolt file with
// one bucket per logical index (share-fp index, inode index).
type Store struct {
	db *bbolt.DB
}

// Open opens or creates the bbolt file at path, creating bucket if it
// does not already exist.
func Open(path string, buckets ...string) (*Store, error) {
	db, err := bbolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("kvstore: open %s failed: %w", path, err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		for _, b := range buckets {
			if _, err := tx.CreateBucketIfNotExists([]byte(b)); err != nil {
				return fmt.Errorf("kvstore: create bucket %s failed: %w", b, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close closes the underlying bbolt database.
func (s *Store) Close() error { return s.db.Close() }

// Get reads one key from bucket. Returns nil, nil when the key is absent.
func (s *Store) Get(bucket string, key []byte) ([]byte, error) {
	var out []byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucket))
		if b == nil {
			return fmt.Errorf("kvstore: unknown bucket %s", bucket)
		}
		v := b.Get(key)
		if v != nil {
			out = append([]byte(nil), v...)
		}
		return nil
	})
	return out, err
}

// Put writes one key atomically.
func (s *Store) Put(bucket string, key, value []byte) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucket))
		if b == nil {
			return fmt.Errorf("kvstore: unknown bucket %s", bucket)
		}
		return b.Put(key, value)
	})
}

// Batch is one key/value write for WriteBatch, which applies a slice of
// them in a single bbolt transaction so related index updates land
// together or not at all.
type Batch struct {
	Bucket string
	Key    []byte
	Value  []byte
}

// WriteBatch commits every Batch entry in a single bbolt transaction.
func (s *Store) WriteBatch(batches []Batch) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		for _, w := range batches {
			b := tx.Bucket([]byte(w.Bucket))
			if b == nil {
				return fmt.Errorf("kvstore: unknown bucket %s", w.Bucket)
			}
			if err := b.Put(w.Key, w.Value); err != nil {
				return fmt.Errorf("kvstore: batch put failed: %w", err)
			}
		}
		return nil
	})
}

// ForEach iterates every key/value pair in bucket in lexicographic
// key order, bbolt's native ordering.
func (s *Store) ForEach(bucket string, fn func(key, value []byte) error) error {
	return s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucket))
		if b == nil {
			return fmt.Errorf("kvstore: unknown bucket %s", bucket)
		}
		return b.ForEach(fn)
	})
}
