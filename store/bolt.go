// SPDX-FileCopyrightText: © 2026 The hushwire authors
// SPDX-License-Identifier: AGPL-3.0-only

package store

import (
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	bolt "go.etcd.io/bbolt"

	"github.com/hushwire/hushwire/envelope"
)

const storesBucket = "stores"

var (
	// ErrNotFound is returned by Load when no record exists for the user.
	ErrNotFound = errors.New("store: no record for user")

	// ErrReadFailed and ErrWriteFailed wrap storage level failures. Both
	// are non-fatal to the in-memory session.
	ErrReadFailed  = errors.New("store: read failed")
	ErrWriteFailed = errors.New("store: write failed")
)

// BoltStore persists one serialized MessageStore blob per user identity
// in a single bolt bucket. The whole-blob layout keeps the debounced bulk
// write atomic from the caller's perspective.
type BoltStore struct {
	db *bolt.DB
}

// OpenBolt opens (creating as needed) the bolt database at path.
func OpenBolt(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrReadFailed, err)
	}
	return &BoltStore{db: db}, nil
}

// Load reads the MessageStore persisted for user, or ErrNotFound.
func (s *BoltStore) Load(user string) (*MessageStore, error) {
	var raw []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		bkt := tx.Bucket([]byte(storesBucket))
		if bkt == nil {
			return ErrNotFound
		}
		v := bkt.Get([]byte(user))
		if v == nil {
			return ErrNotFound
		}
		raw = make([]byte, len(v))
		copy(raw, v)
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrReadFailed, err)
	}

	state := NewMessageStore()
	if err := cbor.Unmarshal(raw, state); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrReadFailed, err)
	}
	if state.Participants == nil {
		state.Participants = make(map[string]*Participant)
	}
	if state.LastSync == nil {
		state.LastSync = make(map[envelope.Protocol]int64)
	}
	return state, nil
}

// Save writes snapshot as user's record, lazily creating the bucket.
func (s *BoltStore) Save(user string, snapshot *MessageStore) error {
	raw, err := cbor.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrWriteFailed, err)
	}
	err = s.db.Update(func(tx *bolt.Tx) error {
		bkt, err := tx.CreateBucketIfNotExists([]byte(storesBucket))
		if err != nil {
			return err
		}
		return bkt.Put([]byte(user), raw)
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrWriteFailed, err)
	}
	return nil
}

// Reset deletes user's persisted record, if any.
func (s *BoltStore) Reset(user string) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket([]byte(storesBucket))
		if bkt == nil {
			return nil
		}
		return bkt.Delete([]byte(user))
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrWriteFailed, err)
	}
	return nil
}

// Close closes the underlying database.
func (s *BoltStore) Close() error {
	return s.db.Close()
}
