// Package settings implements the durable key/value store for UI-editable
// application settings (app name, maintenance flag), SPEC_FULL.md §4.7. It
// shares the history store's bbolt file under its own bucket rather than
// opening a second handle, per the teacher's one-resource-per-concern
// convention.
package settings

import (
	"encoding/json"
	"fmt"

	"go.etcd.io/bbolt"
)

var bucketSettings = []byte("settings")

// Store is a simple durable key/value store. Not part of the scheduler hot
// path: every call does its own short bbolt transaction.
type Store struct {
	db *bbolt.DB
}

// Open wraps an already-open bbolt handle (typically the same handle passed
// to history.NewStore), creating the settings bucket if absent.
func Open(db *bbolt.DB) (*Store, error) {
	err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketSettings)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("init settings bucket: %w", err)
	}
	return &Store{db: db}, nil
}

// Get returns the raw JSON value for key, or (nil, false) if unset.
func (s *Store) Get(key string) (json.RawMessage, bool, error) {
	var val json.RawMessage
	found := false
	err := s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(bucketSettings).Get([]byte(key))
		if v == nil {
			return nil
		}
		found = true
		val = append(json.RawMessage(nil), v...)
		return nil
	})
	return val, found, err
}

// Put stores value (an opaque structured value) under key, overwriting any
// existing entry.
func (s *Store) Put(key string, value interface{}) error {
	buf, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal setting %s: %w", key, err)
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketSettings).Put([]byte(key), buf)
	})
}

// Delete removes key, if present. A missing key is not an error.
func (s *Store) Delete(key string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketSettings).Delete([]byte(key))
	})
}

// All returns every key currently set, as a map from key to raw JSON value;
// the map carries no key order.
func (s *Store) All() (map[string]json.RawMessage, error) {
	out := make(map[string]json.RawMessage)
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketSettings).ForEach(func(k, v []byte) error {
			out[string(k)] = append(json.RawMessage(nil), v...)
			return nil
		})
	})
	return out, err
}
