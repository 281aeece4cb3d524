// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package consensus

import (
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/luxfi/database"
	"github.com/luxfi/ids"
	"github.com/luxfi/log"
	"github.com/luxfi/math/set"
	"github.com/luxfi/utils/math"

	"github.com/luxfi/relay/state"
)

var (
	ErrNotAuthorizedValidator   = errors.New("not an authorized validator")
	ErrInsufficientStake        = errors.New("insufficient stake")
	ErrConsensusAlreadyComplete = errors.New("consensus already complete")
	ErrDuplicateVote            = errors.New("validator already voted")
	ErrInvalidQuorum            = errors.New("invalid quorum ratio")
)

// Contribution is one validator's recorded vote, identified by the
// validator's canonical index.
type Contribution struct {
	Index   uint32 `serialize:"true" json:"index"`
	Stake   uint64 `serialize:"true" json:"stake"`
	Approve bool   `serialize:"true" json:"approve"`
}

// Record is the voting state for one transaction id. TotalStake and
// ApprovalStake grow monotonically and Completion is set exactly once.
type Record struct {
	TotalStake    uint64 `serialize:"true" json:"totalStake"`
	ApprovalStake uint64 `serialize:"true" json:"approvalStake"`

	// Voters is a big-endian bitset over canonical validator indices,
	// marking who has voted.
	Voters        []byte         `serialize:"true" json:"voters"`
	Contributions []Contribution `serialize:"true" json:"contributions"`
	Completion    bool           `serialize:"true" json:"completion"`
}

// Outcome reports the effect of one accepted vote.
type Outcome struct {
	TotalStake    uint64
	ApprovalStake uint64

	// Completed is true only for the single vote that crossed the
	// quorum threshold.
	Completed bool
}

// Params bounds voter eligibility and the completion threshold.
type Params struct {
	// MinStake is the least registered stake allowed to vote.
	MinStake uint64

	// QuorumNum over QuorumDen is the approval ratio at which a record
	// completes.
	QuorumNum uint64
	QuorumDen uint64
}

func (p Params) Verify() error {
	if p.QuorumDen == 0 || p.QuorumNum > p.QuorumDen {
		return fmt.Errorf("%w: %d/%d", ErrInvalidQuorum, p.QuorumNum, p.QuorumDen)
	}
	return nil
}

// Engine accumulates stake-weighted votes per transaction id.
type Engine struct {
	mu sync.Mutex

	registry *Registry
	records  *state.Store[Record]
	params   Params
	log      log.Logger
}

func NewEngine(db database.Database, registry *Registry, params Params, log log.Logger) (*Engine, error) {
	if err := params.Verify(); err != nil {
		return nil, err
	}
	return &Engine{
		registry: registry,
		records:  state.NewStore[Record](db, Codec, CodecVersion),
		params:   params,
		log:      log,
	}, nil
}

// SubmitVote records one approve or reject vote, weighted by the
// validator's registered stake. The quorum check runs after every
// accepted vote; the single vote that crosses the threshold completes
// the record and is reported through Outcome.Completed.
func (e *Engine) SubmitVote(txID ids.ID, nodeID ids.NodeID, approve bool) (*Outcome, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	vdr, index, err := e.registry.GetValidator(nodeID)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrNotAuthorizedValidator, nodeID)
	}
	if vdr.Stake < e.params.MinStake {
		return nil, fmt.Errorf("%w: %d < %d", ErrInsufficientStake, vdr.Stake, e.params.MinStake)
	}

	record, err := e.records.Get(txID)
	if err == database.ErrNotFound {
		record = &Record{}
	} else if err != nil {
		return nil, err
	}
	if record.Completion {
		return nil, fmt.Errorf("%w: %s", ErrConsensusAlreadyComplete, txID)
	}

	voters := set.BitsFromBytes(record.Voters)
	if voters.Contains(index) {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateVote, nodeID)
	}
	voters.Add(index)
	record.Voters = voters.Bytes()

	record.TotalStake, err = math.Add(record.TotalStake, vdr.Stake)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStakeOverflow, err)
	}
	if approve {
		record.ApprovalStake, err = math.Add(record.ApprovalStake, vdr.Stake)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrStakeOverflow, err)
		}
	}
	record.Contributions = append(record.Contributions, Contribution{
		Index:   uint32(index),
		Stake:   vdr.Stake,
		Approve: approve,
	})

	// Completion was false on entry, so a reached quorum here is the
	// one and only completing vote.
	completed := e.quorumReached(record.TotalStake, record.ApprovalStake)
	record.Completion = completed

	if err := e.records.Put(txID, record); err != nil {
		return nil, err
	}

	e.log.Debug("recorded vote",
		log.Stringer("txID", txID),
		log.Stringer("nodeID", nodeID),
		log.Bool("approve", approve),
		log.Uint64("totalStake", record.TotalStake),
		log.Uint64("approvalStake", record.ApprovalStake),
		log.Bool("completed", completed),
	)
	return &Outcome{
		TotalStake:    record.TotalStake,
		ApprovalStake: record.ApprovalStake,
		Completed:     completed,
	}, nil
}

// GetRecord returns the voting record for txID, or database.ErrNotFound
// if no vote has been recorded yet.
func (e *Engine) GetRecord(txID ids.ID) (*Record, error) {
	return e.records.Get(txID)
}

// quorumReached reports whether approvalStake out of totalStake meets
// the quorum ratio. The comparison cross-multiplies in big integers to
// avoid overflow.
func (e *Engine) quorumReached(totalStake, approvalStake uint64) bool {
	if totalStake == 0 {
		return false
	}
	scaledTotalStake := new(big.Int).SetUint64(totalStake)
	scaledTotalStake.Mul(scaledTotalStake, new(big.Int).SetUint64(e.params.QuorumNum))
	scaledApprovalStake := new(big.Int).SetUint64(approvalStake)
	scaledApprovalStake.Mul(scaledApprovalStake, new(big.Int).SetUint64(e.params.QuorumDen))
	return scaledTotalStake.Cmp(scaledApprovalStake) != 1
}
