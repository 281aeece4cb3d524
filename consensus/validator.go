// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package consensus

import (
	"bytes"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/google/btree"

	"github.com/luxfi/database"
	"github.com/luxfi/ids"
	"github.com/luxfi/log"
	"github.com/luxfi/utils/math"

	"github.com/luxfi/relay/authz"
)

const defaultTreeDegree = 2

var (
	ErrValidatorExists = errors.New("validator already registered")
	ErrZeroStake       = errors.New("validator stake must be non-zero")
	ErrStakeOverflow   = errors.New("stake overflow")

	// validatorSetKey holds the serialized validator set. Its length
	// differs from a transaction id, so it cannot collide with the
	// voting records sharing this keyspace.
	validatorSetKey = []byte("validator_set")
)

// Validator is one registered voter. Its stake weights every vote it
// submits.
type Validator struct {
	NodeID ids.NodeID `serialize:"true" json:"nodeID"`
	Stake  uint64     `serialize:"true" json:"stake"`
}

// Less implements btree ordering. Higher stake sorts first, with node
// id as the tie breaker so the order is total.
func (v *Validator) Less(than *Validator) bool {
	if v.Stake != than.Stake {
		return v.Stake > than.Stake
	}
	return bytes.Compare(v.NodeID[:], than.NodeID[:]) == -1
}

// validatorSet is the persisted registration-order list.
type validatorSet struct {
	Validators []*Validator `serialize:"true"`
}

// Registry is the append-only validator set. Registration order assigns
// each validator a stable canonical index, which voting records use to
// mark voters in a bitset.
type Registry struct {
	// mu protects concurrent access to the btree and maps
	mu sync.RWMutex

	db   database.Database
	gate authz.Gate
	log  log.Logger

	validators map[ids.NodeID]*Validator
	indices    map[ids.NodeID]int
	ordered    []*Validator
	tree       *btree.BTreeG[*Validator]
	totalStake uint64
}

// NewRegistry loads the persisted validator set, if any, from db.
func NewRegistry(db database.Database, gate authz.Gate, log log.Logger) (*Registry, error) {
	r := &Registry{
		db:         db,
		gate:       gate,
		log:        log,
		validators: make(map[ids.NodeID]*Validator),
		indices:    make(map[ids.NodeID]int),
		tree:       btree.NewG(defaultTreeDegree, (*Validator).Less),
	}

	setBytes, err := db.Get(validatorSetKey)
	if err == database.ErrNotFound {
		return r, nil
	}
	if err != nil {
		return nil, err
	}

	stored := &validatorSet{}
	if _, err := Codec.Unmarshal(setBytes, stored); err != nil {
		return nil, fmt.Errorf("failed to unmarshal validator set: %w", err)
	}
	for _, vdr := range stored.Validators {
		if err := r.insertLocked(vdr); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// AddValidator registers a validator with its stake. The caller must
// pass the authorization gate. The set is append-only, so the new
// validator's canonical index is its position in registration order.
func (r *Registry) AddValidator(caller ids.ShortID, nodeID ids.NodeID, stake uint64) error {
	if err := r.gate.CanAdminister(caller); err != nil {
		return err
	}
	if stake == 0 {
		return ErrZeroStake
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.validators[nodeID]; ok {
		return fmt.Errorf("%w: %s", ErrValidatorExists, nodeID)
	}
	if _, err := math.Add(r.totalStake, stake); err != nil {
		return fmt.Errorf("%w: %w", ErrStakeOverflow, err)
	}

	// Persist the appended set before mutating memory, so memory is
	// never ahead of disk.
	vdr := &Validator{NodeID: nodeID, Stake: stake}
	appended := append(slices.Clone(r.ordered), vdr)
	setBytes, err := Codec.Marshal(CodecVersion, &validatorSet{Validators: appended})
	if err != nil {
		return fmt.Errorf("failed to marshal validator set: %w", err)
	}
	if err := r.db.Put(validatorSetKey, setBytes); err != nil {
		return err
	}
	if err := r.insertLocked(vdr); err != nil {
		return err
	}

	r.log.Info("registered validator",
		log.Stringer("nodeID", nodeID),
		log.Uint64("stake", stake),
	)
	return nil
}

// GetValidator returns the registered validator and its canonical
// index, or database.ErrNotFound.
func (r *Registry) GetValidator(nodeID ids.NodeID) (*Validator, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	vdr, ok := r.validators[nodeID]
	if !ok {
		return nil, 0, database.ErrNotFound
	}
	return vdr, r.indices[nodeID], nil
}

// TotalStake returns the stake registered across all validators.
func (r *Registry) TotalStake() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.totalStake
}

// Len returns the number of registered validators.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.ordered)
}

// Ascend iterates validators from highest stake to lowest, stopping
// early if f returns false.
func (r *Registry) Ascend(f func(*Validator) bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	r.tree.Ascend(f)
}

func (r *Registry) insertLocked(vdr *Validator) error {
	total, err := math.Add(r.totalStake, vdr.Stake)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrStakeOverflow, err)
	}
	r.totalStake = total
	r.indices[vdr.NodeID] = len(r.ordered)
	r.ordered = append(r.ordered, vdr)
	r.validators[vdr.NodeID] = vdr
	r.tree.ReplaceOrInsert(vdr)
	return nil
}
