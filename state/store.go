// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package state provides the codec-backed keyed stores shared by the
// protocol components. Every entity lives in its own prefixed keyspace of
// one underlying database, keyed by transaction id.
package state

import (
	"fmt"

	"github.com/luxfi/codec"
	"github.com/luxfi/database"
	"github.com/luxfi/ids"
)

// Store key prefixes, one keyspace per entity.
var (
	SpeculativeTxPrefix    = []byte("spec_tx")
	ConfirmableTxPrefix    = []byte("conf_tx")
	VirtualProofPrefix     = []byte("proof_v")
	ConfirmableProofPrefix = []byte("proof_c")
	ValidationPrefix       = []byte("validation")
	RBFPointsPrefix        = []byte("rbf_points")
	ConsensusPrefix        = []byte("consensus")
	StateUpdatePrefix      = []byte("state_update")
	RelayedPrefix          = []byte("relayed")
	ReceivedPrefix         = []byte("received")
)

// Store persists one codec-serialized record type keyed by id.
type Store[T any] struct {
	db      database.Database
	manager codec.Manager
	version uint16
}

func NewStore[T any](db database.Database, manager codec.Manager, version uint16) *Store[T] {
	return &Store[T]{
		db:      db,
		manager: manager,
		version: version,
	}
}

// Get returns the record stored under key, or database.ErrNotFound.
func (s *Store[T]) Get(key ids.ID) (*T, error) {
	recordBytes, err := s.db.Get(key[:])
	if err != nil {
		return nil, err
	}
	record := new(T)
	if _, err := s.manager.Unmarshal(recordBytes, record); err != nil {
		return nil, fmt.Errorf("failed to deserialize record %s: %w", key, err)
	}
	return record, nil
}

func (s *Store[T]) Put(key ids.ID, record *T) error {
	recordBytes, err := s.manager.Marshal(s.version, record)
	if err != nil {
		return fmt.Errorf("failed to serialize record %s: %w", key, err)
	}
	return s.db.Put(key[:], recordBytes)
}

func (s *Store[T]) Has(key ids.ID) (bool, error) {
	return s.db.Has(key[:])
}

func (s *Store[T]) Delete(key ids.ID) error {
	return s.db.Delete(key[:])
}
