package boltstore

import (
	"fmt"
	"strings"

	bbolt "go.etcd.io/bbolt"

	"github.com/gaia-mud/gaia/pkg/world"
)

// Account operations live on the same Store but in their own buckets; they
// are touched only by the login and admin paths, never the game loop.

// FetchAccount reads one account and its revision by account ID.
func (s *Store) FetchAccount(id string) (*world.Account, string, error) {
	var doc *accountDoc
	err := s.bolt.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketAccounts).Get([]byte(id))
		if data == nil {
			return fmt.Errorf("%w: account %s", world.ErrNotFound, id)
		}
		var derr error
		doc, derr = decodeAccountDoc(data)
		if derr != nil {
			return fmt.Errorf("boltstore: decode account %s: %w", id, derr)
		}
		return nil
	})
	if err != nil {
		return nil, "", err
	}
	return &doc.Account, doc.Rev, nil
}

// FetchAccountByLogin resolves the login index then fetches the account.
func (s *Store) FetchAccountByLogin(loginID string) (*world.Account, string, error) {
	ids, err := s.ListByIndex("login", strings.ToLower(loginID))
	if err != nil {
		return nil, "", err
	}
	if len(ids) == 0 {
		return nil, "", fmt.Errorf("%w: login %s", world.ErrNotFound, loginID)
	}
	return s.FetchAccount(ids[0])
}

// StoreAccount writes an account with the optimistic revision check and
// maintains the login and role indexes.
func (s *Store) StoreAccount(a *world.Account, priorRev string) (string, error) {
	var newRev string
	err := s.bolt.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketAccounts)
		key := []byte(a.ID)

		var old *world.Account
		cur := b.Get(key)
		if cur != nil {
			doc, err := decodeAccountDoc(cur)
			if err != nil {
				return fmt.Errorf("boltstore: decode account %s: %w", a.ID, err)
			}
			if doc.Rev != priorRev {
				return fmt.Errorf("%w: account %s", world.ErrConflict, a.ID)
			}
			old = &doc.Account
		} else if priorRev != "" {
			return fmt.Errorf("%w: account %s", world.ErrConflict, a.ID)
		}

		newRev = nextRev(priorRev)
		data, err := encodeAccountDoc(&accountDoc{Rev: newRev, Account: *a})
		if err != nil {
			return fmt.Errorf("boltstore: encode account %s: %w", a.ID, err)
		}
		if err := b.Put(key, data); err != nil {
			return err
		}

		logins := tx.Bucket(bucketLogins)
		if old != nil && !strings.EqualFold(old.LoginID, a.LoginID) {
			if err := logins.Delete([]byte(strings.ToLower(old.LoginID))); err != nil {
				return err
			}
		}
		if err := logins.Put([]byte(strings.ToLower(a.LoginID)), []byte(a.ID)); err != nil {
			return err
		}

		roles := tx.Bucket(bucketRoles)
		if old != nil {
			for _, r := range old.Roles {
				if !a.HasRole(r) {
					if err := roles.Delete(indexKey(string(r), a.ID)); err != nil {
						return err
					}
				}
			}
		}
		for _, r := range a.Roles {
			if err := roles.Put(indexKey(string(r), a.ID), []byte(a.ID)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return newRev, nil
}

// DeleteAccount removes an account and its index entries.
func (s *Store) DeleteAccount(id string, priorRev string) error {
	return s.bolt.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketAccounts)
		cur := b.Get([]byte(id))
		if cur == nil {
			return fmt.Errorf("%w: account %s", world.ErrNotFound, id)
		}
		doc, err := decodeAccountDoc(cur)
		if err != nil {
			return fmt.Errorf("boltstore: decode account %s: %w", id, err)
		}
		if priorRev != "" && doc.Rev != priorRev {
			return fmt.Errorf("%w: account %s", world.ErrConflict, id)
		}
		if err := tx.Bucket(bucketLogins).Delete([]byte(strings.ToLower(doc.Account.LoginID))); err != nil {
			return err
		}
		for _, r := range doc.Account.Roles {
			if err := tx.Bucket(bucketRoles).Delete(indexKey(string(r), id)); err != nil {
				return err
			}
		}
		return b.Delete([]byte(id))
	})
}

// AccountCount returns the number of stored accounts.
func (s *Store) AccountCount() int {
	n := 0
	s.bolt.View(func(tx *bbolt.Tx) error {
		n = tx.Bucket(bucketAccounts).Stats().KeyN
		return nil
	})
	return n
}
