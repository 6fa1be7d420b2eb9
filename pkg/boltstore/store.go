package boltstore

import (
	"bytes"
	"fmt"
	"strconv"

	bbolt "go.etcd.io/bbolt"

	"github.com/gaia-mud/gaia/pkg/world"
)

// Store is a bbolt-backed document store for world objects. It implements
// world.Store with optimistic revisions: each document carries an opaque
// revision string (a decimal counter) that must match on store and delete.
type Store struct {
	bolt *bbolt.DB
}

// Open opens or creates a bbolt database file and ensures all buckets exist.
func Open(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("boltstore: open %s: %w", path, err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketMeta, bucketObjects, bucketAccounts, bucketLogins, bucketRoles, bucketLocation} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return tx.Bucket(bucketMeta).Put(keySchemaVersion, []byte("1"))
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("boltstore: create buckets: %w", err)
	}

	return &Store{bolt: db}, nil
}

// Close closes the underlying bbolt database.
func (s *Store) Close() error {
	if s.bolt != nil {
		return s.bolt.Close()
	}
	return nil
}

// Path returns the filesystem path of the underlying bbolt database.
func (s *Store) Path() string {
	if s.bolt != nil {
		return s.bolt.Path()
	}
	return ""
}

// Fetch reads one object document and its revision.
func (s *Store) Fetch(id string) (*world.Object, string, error) {
	var doc *document
	err := s.bolt.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketObjects).Get([]byte(id))
		if data == nil {
			return fmt.Errorf("%w: %s", world.ErrNotFound, id)
		}
		var derr error
		doc, derr = decodeDocument(data)
		if derr != nil {
			return fmt.Errorf("boltstore: decode %s: %w", id, derr)
		}
		return nil
	})
	if err != nil {
		return nil, "", err
	}
	return &doc.Obj, doc.Rev, nil
}

// Store writes an object document. priorRev must match the stored revision
// ("" for a document that does not exist yet); the new revision is returned.
// The location index is maintained alongside.
func (s *Store) Store(obj *world.Object, priorRev string) (string, error) {
	var newRev string
	err := s.bolt.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketObjects)
		key := []byte(obj.ID)

		var oldLoc string
		cur := b.Get(key)
		if cur != nil {
			doc, err := decodeDocument(cur)
			if err != nil {
				return fmt.Errorf("boltstore: decode %s: %w", obj.ID, err)
			}
			if doc.Rev != priorRev {
				return fmt.Errorf("%w: %s (have %s, want %s)", world.ErrConflict, obj.ID, priorRev, doc.Rev)
			}
			oldLoc = doc.Obj.LocationID
		} else if priorRev != "" {
			return fmt.Errorf("%w: %s (have %s, document gone)", world.ErrConflict, obj.ID, priorRev)
		}

		newRev = nextRev(priorRev)
		data, err := encodeDocument(&document{Rev: newRev, Obj: *obj})
		if err != nil {
			return fmt.Errorf("boltstore: encode %s: %w", obj.ID, err)
		}
		if err := b.Put(key, data); err != nil {
			return err
		}

		// Maintain location index.
		idx := tx.Bucket(bucketLocation)
		if oldLoc != "" && oldLoc != obj.LocationID {
			if err := idx.Delete(indexKey(oldLoc, obj.ID)); err != nil {
				return err
			}
		}
		if obj.LocationID != "" {
			return idx.Put(indexKey(obj.LocationID, obj.ID), []byte(obj.ID))
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return newRev, nil
}

// DeleteByID removes an object document, enforcing the revision check.
func (s *Store) DeleteByID(id string, priorRev string) error {
	return s.bolt.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketObjects)
		key := []byte(id)
		cur := b.Get(key)
		if cur == nil {
			return fmt.Errorf("%w: %s", world.ErrNotFound, id)
		}
		doc, err := decodeDocument(cur)
		if err != nil {
			return fmt.Errorf("boltstore: decode %s: %w", id, err)
		}
		if priorRev != "" && doc.Rev != priorRev {
			return fmt.Errorf("%w: %s", world.ErrConflict, id)
		}
		if doc.Obj.LocationID != "" {
			if err := tx.Bucket(bucketLocation).Delete(indexKey(doc.Obj.LocationID, id)); err != nil {
				return err
			}
		}
		return b.Delete(key)
	})
}

// ListByIndex returns document IDs under a secondary index. Supported names:
// "location" (world), "login" and "role" (accounts).
func (s *Store) ListByIndex(name, key string) ([]string, error) {
	var bucket []byte
	switch name {
	case "location":
		bucket = bucketLocation
	case "login":
		bucket = bucketLogins
	case "role":
		bucket = bucketRoles
	default:
		return nil, fmt.Errorf("boltstore: unknown index %q", name)
	}

	var ids []string
	err := s.bolt.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucket)
		if name == "login" {
			if v := b.Get([]byte(key)); v != nil {
				ids = append(ids, string(v))
			}
			return nil
		}
		c := b.Cursor()
		prefix := indexPrefix(key)
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			ids = append(ids, string(v))
		}
		return nil
	})
	return ids, err
}

// EachObject iterates every stored object document. Used at startup to warm
// the cache and by the definition loader to detect an already-seeded world.
func (s *Store) EachObject(fn func(obj *world.Object, rev string) error) error {
	return s.bolt.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketObjects).ForEach(func(k, v []byte) error {
			doc, err := decodeDocument(v)
			if err != nil {
				return fmt.Errorf("boltstore: decode %s: %w", string(k), err)
			}
			return fn(&doc.Obj, doc.Rev)
		})
	})
}

// ObjectCount returns the number of stored object documents.
func (s *Store) ObjectCount() int {
	n := 0
	s.bolt.View(func(tx *bbolt.Tx) error {
		n = tx.Bucket(bucketObjects).Stats().KeyN
		return nil
	})
	return n
}

// nextRev increments the opaque decimal revision counter.
func nextRev(prior string) string {
	n, _ := strconv.ParseUint(prior, 10, 64)
	return strconv.FormatUint(n+1, 10)
}

var _ world.Store = (*Store)(nil)
