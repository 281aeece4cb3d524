// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package relay orchestrates the dual-track cross-chain transaction
// lifecycle: speculative admission with an RBF outcome projection, proof
// recording on the virtual and confirmable tracks, convergence
// validation, stake-weighted approval, state relay bookkeeping, and the
// final write-once emission to the destination chain.
package relay

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/holiman/uint256"

	"github.com/luxfi/database"
	"github.com/luxfi/database/prefixdb"
	"github.com/luxfi/database/versiondb"
	"github.com/luxfi/ids"
	"github.com/luxfi/log"
	"github.com/luxfi/metric"

	"github.com/luxfi/relay/authz"
	"github.com/luxfi/relay/config"
	"github.com/luxfi/relay/consensus"
	"github.com/luxfi/relay/event"
	"github.com/luxfi/relay/proofs"
	"github.com/luxfi/relay/rbf"
	"github.com/luxfi/relay/relayer"
	"github.com/luxfi/relay/state"
	"github.com/luxfi/relay/staterelay"
	"github.com/luxfi/relay/utils/timer/mockable"
	"github.com/luxfi/relay/validation"
)

var (
	ErrUnknownTransaction = errors.New("unknown transaction")

	healthProbeKey = []byte("health_probe")
)

// Relay wires the protocol components over one database and owns the
// serialization and atomicity model: a mutating operation runs under its
// transaction id's lock plus the shared commit lock, and either commits
// its whole write set or leaves no trace. Events are emitted only after
// the writes they describe are durable.
type Relay struct {
	cfg   config.Config
	log   log.Logger
	clock *mockable.Clock

	// commitLock isolates the versiondb write set of one operation.
	// Always acquired after the per-id lock, never before.
	commitLock sync.RWMutex
	vdb        *versiondb.Database
	locks      *lockTable

	sequence atomic.Uint64

	speculative *state.Store[state.SpeculativeTx]
	confirmable *state.Store[state.ConfirmableTx]

	rbf       *rbf.Engine
	ledger    *proofs.Ledger
	validator *validation.Validator
	registry  *consensus.Registry
	engine    *consensus.Engine
	updates   *staterelay.Manager
	finalizer *relayer.Finalizer
	receiver  *relayer.Receiver

	bus *event.Bus
}

// New builds a relay over db. A nil notifier marks chains notified
// without any outward call.
func New(
	cfg config.Config,
	db database.Database,
	notifier staterelay.Notifier,
	log log.Logger,
	registerer metric.Registerer,
) (*Relay, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	admins, err := cfg.AdminAddresses()
	if err != nil {
		return nil, err
	}
	vk, err := cfg.VerificationKey()
	if err != nil {
		return nil, err
	}
	payloadCipher, err := cfg.PayloadCipher()
	if err != nil {
		return nil, err
	}
	compressor, err := cfg.PayloadCompressor()
	if err != nil {
		return nil, err
	}

	var gate authz.Gate = authz.OpenGate{}
	if len(admins) > 0 {
		gate = authz.NewAllowList(admins)
	}

	vdb := versiondb.New(db)
	clock := &mockable.Clock{}

	ledger, err := proofs.NewLedger(
		prefixdb.New(state.VirtualProofPrefix, vdb),
		prefixdb.New(state.ConfirmableProofPrefix, vdb),
		vk,
		nil,
		clock,
		log,
	)
	if err != nil {
		return nil, err
	}

	registry, err := consensus.NewRegistry(prefixdb.New(state.ConsensusPrefix, vdb), gate, log)
	if err != nil {
		return nil, err
	}
	engine, err := consensus.NewEngine(
		prefixdb.New(state.ConsensusPrefix, vdb),
		registry,
		consensus.Params{
			MinStake:  cfg.MinStake,
			QuorumNum: cfg.QuorumNumerator,
			QuorumDen: cfg.QuorumDenominator,
		},
		log,
	)
	if err != nil {
		return nil, err
	}

	bus, err := event.NewBus(log, registerer)
	if err != nil {
		return nil, err
	}

	validator := validation.New(prefixdb.New(state.ValidationPrefix, vdb), ledger, clock, log)
	updates := staterelay.New(prefixdb.New(state.StateUpdatePrefix, vdb), notifier, log)
	finalizer := relayer.NewFinalizer(
		prefixdb.New(state.RelayedPrefix, vdb),
		validator,
		updates,
		payloadCipher,
		compressor,
		clock,
		log,
	)
	receiver := relayer.NewReceiver(prefixdb.New(state.ReceivedPrefix, vdb), clock, log)

	return &Relay{
		cfg:         cfg,
		log:         log,
		clock:       clock,
		vdb:         vdb,
		locks:       newLockTable(),
		speculative: state.NewStore[state.SpeculativeTx](prefixdb.New(state.SpeculativeTxPrefix, vdb), state.Codec, state.CodecVersion),
		confirmable: state.NewStore[state.ConfirmableTx](prefixdb.New(state.ConfirmableTxPrefix, vdb), state.Codec, state.CodecVersion),
		rbf:         rbf.NewEngine(prefixdb.New(state.RBFPointsPrefix, vdb), log),
		ledger:      ledger,
		validator:   validator,
		registry:    registry,
		engine:      engine,
		updates:     updates,
		finalizer:   finalizer,
		receiver:    receiver,
		bus:         bus,
	}, nil
}

// CreateSpeculativeTx admits a transaction before its on-chain
// confirmation exists. The RBF projection over points must converge to
// the observed outcomes within epsilon or the transaction is not
// admitted. Returns the derived transaction id.
func (r *Relay) CreateSpeculativeTx(
	sender ids.ShortID,
	receiver ids.ShortID,
	anticipatedTime uint64,
	dataHash []byte,
	isAssetTransfer bool,
	points []rbf.Point,
	beta *uint256.Int,
	epsilon *uint256.Int,
) (ids.ID, error) {
	now := r.clock.Unix()
	sequence := r.sequence.Add(1)
	txID := deriveTxID(sender, sequence, now)

	unlock := r.locks.Lock(txID)
	defer unlock()
	r.commitLock.Lock()
	defer r.commitLock.Unlock()
	defer r.vdb.Abort()

	// The convergence gate runs on the pure interpolation so a rejected
	// transaction leaves no stored projection and no cache entry.
	values, err := rbf.Interpolate(points, beta)
	if err != nil {
		return ids.Empty, err
	}
	references := make([]*uint256.Int, len(points))
	for i, point := range points {
		references[i] = point.Y
	}
	if err := rbf.MonitorConvergence(values, references, epsilon); err != nil {
		return ids.Empty, err
	}
	if _, err := r.rbf.Project(txID, points, beta); err != nil {
		return ids.Empty, err
	}

	tx := &state.SpeculativeTx{
		Sender:          sender,
		Receiver:        receiver,
		AnticipatedTime: anticipatedTime,
		DataHash:        dataHash,
		IsAssetTransfer: isAssetTransfer,
		Sequence:        sequence,
		CreatedAt:       now,
		RBF:             encodeRBFParams(points, beta, epsilon),
	}
	if err := r.speculative.Put(txID, tx); err != nil {
		return ids.Empty, err
	}
	if err := r.vdb.Commit(); err != nil {
		return ids.Empty, err
	}

	r.log.Info("created speculative transaction",
		log.Stringer("txID", txID),
		log.Stringer("sender", sender),
		log.Uint64("sequence", sequence),
	)
	return txID, nil
}

// RecordProof stores the proof for txID on the given track and verifies
// it. The first confirmable proof also creates the confirmable
// transaction record, confirming the speculative one.
func (r *Relay) RecordProof(txID ids.ID, input, witness []byte, role proofs.Role) (ids.ID, error) {
	unlock := r.locks.Lock(txID)
	defer unlock()
	r.commitLock.Lock()
	defer r.commitLock.Unlock()
	defer r.vdb.Abort()

	spec, err := r.speculative.Get(txID)
	if err == database.ErrNotFound {
		return ids.Empty, fmt.Errorf("%w: %s", ErrUnknownTransaction, txID)
	}
	if err != nil {
		return ids.Empty, err
	}

	if role == proofs.Confirmable {
		ok, err := r.confirmable.Has(txID)
		if err != nil {
			return ids.Empty, err
		}
		if !ok {
			confirmed := &state.ConfirmableTx{
				SpeculativeTxID:  txID,
				Sender:           spec.Sender,
				Receiver:         spec.Receiver,
				ConfirmationTime: r.clock.Unix(),
				DataHash:         spec.DataHash,
			}
			if err := r.confirmable.Put(txID, confirmed); err != nil {
				return ids.Empty, err
			}
		}
	}

	proofID, err := r.ledger.Record(txID, input, witness, role)
	if err != nil {
		return ids.Empty, err
	}
	valid, transitioned, err := r.ledger.Verify(txID, role)
	if err != nil {
		return ids.Empty, err
	}
	if err := r.vdb.Commit(); err != nil {
		return ids.Empty, err
	}

	if transitioned {
		r.bus.Emit(&event.Event{
			Type:    event.ProofVerified,
			TxID:    txID,
			ProofID: proofID,
			Role:    role.String(),
		})
	}
	if !valid {
		r.log.Warn("recorded proof failed verification",
			log.Stringer("txID", txID),
			log.Stringer("proofID", proofID),
			log.String("role", role.String()),
		)
	}
	return proofID, nil
}

// Validate runs convergence validation for txID and commits the verdict.
// Business rejections (timeout, mismatch, low confidence) are verdicts in
// the result, not errors.
func (r *Relay) Validate(txID ids.ID, metadata []byte) (*validation.Result, error) {
	unlock := r.locks.Lock(txID)
	defer unlock()
	r.commitLock.Lock()
	defer r.commitLock.Unlock()
	defer r.vdb.Abort()

	result, err := r.validator.Validate(txID, validation.Metadata(metadata))
	if err != nil {
		return nil, err
	}
	if err := r.vdb.Commit(); err != nil {
		return nil, err
	}

	switch {
	case result.Verdict == validation.TimedOut:
		r.bus.Emit(&event.Event{
			Type:      event.ValidationTimeout,
			TxID:      txID,
			Timestamp: r.clock.Unix(),
		})
	case result.ProofMismatch:
		r.bus.Emit(&event.Event{
			Type: event.ProofMismatch,
			TxID: txID,
		})
	}
	return result, nil
}

// SubmitVote records one validator's vote on txID.
func (r *Relay) SubmitVote(txID ids.ID, nodeID ids.NodeID, approve bool) (*consensus.Outcome, error) {
	unlock := r.locks.Lock(txID)
	defer unlock()
	r.commitLock.Lock()
	defer r.commitLock.Unlock()
	defer r.vdb.Abort()

	outcome, err := r.engine.SubmitVote(txID, nodeID, approve)
	if err != nil {
		return nil, err
	}
	if err := r.vdb.Commit(); err != nil {
		return nil, err
	}

	r.bus.Emit(&event.Event{
		Type:      event.VoteSubmitted,
		TxID:      txID,
		Validator: nodeID,
		Approve:   approve,
	})
	if outcome.Completed {
		r.bus.Emit(&event.Event{
			Type: event.ConsensusComplete,
			TxID: txID,
		})
	}
	return outcome, nil
}

// UpdateState anchors txData under a content root and marks the affected
// chains notified. A notification failure still commits and reports the
// progress made, so a retry resumes with the chains that remain.
func (r *Relay) UpdateState(ctx context.Context, txID ids.ID, affectedChains []ids.ID, txData [][]byte) (*staterelay.Outcome, error) {
	unlock := r.locks.Lock(txID)
	defer unlock()
	r.commitLock.Lock()
	defer r.commitLock.Unlock()
	defer r.vdb.Abort()

	outcome, notifyErr := r.updates.UpdateState(ctx, txID, affectedChains, txData)
	if outcome == nil {
		return nil, notifyErr
	}
	if err := r.vdb.Commit(); err != nil {
		return nil, err
	}

	if outcome.Initiated {
		r.bus.Emit(&event.Event{
			Type:        event.StateUpdateInitiated,
			TxID:        txID,
			ContentRoot: outcome.ContentRoot,
		})
	}
	for _, chain := range outcome.Notified {
		r.bus.Emit(&event.Event{
			Type:        event.ChainNotified,
			TxID:        txID,
			Chain:       chain,
			ContentRoot: outcome.ContentRoot,
		})
	}
	if outcome.Completed {
		r.bus.Emit(&event.Event{
			Type:        event.StateUpdateComplete,
			TxID:        txID,
			ContentRoot: outcome.ContentRoot,
		})
	}
	return outcome, notifyErr
}

// Relay emits txID to its destination chain. Requires a Validated
// verdict and a complete state update.
func (r *Relay) Relay(txID ids.ID, targetChain ids.ID, metadata, enrichedData []byte) (*relayer.RelayedTransaction, error) {
	unlock := r.locks.Lock(txID)
	defer unlock()
	r.commitLock.Lock()
	defer r.commitLock.Unlock()
	defer r.vdb.Abort()

	record, err := r.finalizer.Relay(txID, targetChain, metadata, enrichedData)
	if err != nil {
		return nil, err
	}
	if err := r.vdb.Commit(); err != nil {
		return nil, err
	}

	r.bus.Emit(&event.Event{
		Type:        event.TransactionRelayed,
		TxID:        txID,
		Chain:       targetChain,
		ContentRoot: record.ContentRoot,
	})
	return record, nil
}

// ReceiveTransaction ingests a relayed transaction on the destination
// side and marks it processed.
func (r *Relay) ReceiveTransaction(txID ids.ID, contentRoot ids.ID, metadata, enrichedData []byte) (*relayer.ReceivedTransaction, error) {
	unlock := r.locks.Lock(txID)
	defer unlock()
	r.commitLock.Lock()
	defer r.commitLock.Unlock()
	defer r.vdb.Abort()

	record, err := r.receiver.Receive(txID, contentRoot, metadata, enrichedData)
	if err != nil {
		return nil, err
	}
	if err := r.vdb.Commit(); err != nil {
		return nil, err
	}

	r.bus.Emit(&event.Event{
		Type:        event.TransactionReceived,
		TxID:        txID,
		ContentRoot: contentRoot,
	})
	r.bus.Emit(&event.Event{
		Type:        event.TransactionProcessed,
		TxID:        txID,
		ContentRoot: contentRoot,
	})
	return record, nil
}

// AddValidator registers a consensus validator. The caller must pass the
// configured admin gate.
func (r *Relay) AddValidator(caller ids.ShortID, nodeID ids.NodeID, stake uint64) error {
	r.commitLock.Lock()
	defer r.commitLock.Unlock()
	defer r.vdb.Abort()

	if err := r.registry.AddValidator(caller, nodeID, stake); err != nil {
		return err
	}
	return r.vdb.Commit()
}

func (r *Relay) GetSpeculativeTx(txID ids.ID) (*state.SpeculativeTx, error) {
	r.commitLock.RLock()
	defer r.commitLock.RUnlock()
	return r.speculative.Get(txID)
}

func (r *Relay) GetConfirmableTx(txID ids.ID) (*state.ConfirmableTx, error) {
	r.commitLock.RLock()
	defer r.commitLock.RUnlock()
	return r.confirmable.Get(txID)
}

func (r *Relay) GetProof(txID ids.ID, role proofs.Role) (*proofs.Proof, error) {
	r.commitLock.RLock()
	defer r.commitLock.RUnlock()
	return r.ledger.Get(txID, role)
}

func (r *Relay) GetVirtualPoints(txID ids.ID) ([]*uint256.Int, error) {
	r.commitLock.RLock()
	defer r.commitLock.RUnlock()
	return r.rbf.VirtualPoints(txID)
}

func (r *Relay) GetValidation(txID ids.ID) (*validation.Record, error) {
	r.commitLock.RLock()
	defer r.commitLock.RUnlock()
	return r.validator.GetRecord(txID)
}

func (r *Relay) GetConsensus(txID ids.ID) (*consensus.Record, error) {
	r.commitLock.RLock()
	defer r.commitLock.RUnlock()
	return r.engine.GetRecord(txID)
}

func (r *Relay) GetStateUpdate(txID ids.ID) (*staterelay.StateUpdate, error) {
	r.commitLock.RLock()
	defer r.commitLock.RUnlock()
	return r.updates.GetUpdate(txID)
}

func (r *Relay) GetRelayed(txID ids.ID) (*relayer.RelayedTransaction, error) {
	r.commitLock.RLock()
	defer r.commitLock.RUnlock()
	return r.finalizer.GetRelayed(txID)
}

func (r *Relay) GetReceived(txID ids.ID) (*relayer.ReceivedTransaction, error) {
	r.commitLock.RLock()
	defer r.commitLock.RUnlock()
	return r.receiver.GetReceived(txID)
}

// Registry returns the validator registry for membership queries.
func (r *Relay) Registry() *consensus.Registry {
	return r.registry
}

// HealthCheck probes the store and reports the validator set size.
func (r *Relay) HealthCheck(context.Context) (interface{}, error) {
	r.commitLock.RLock()
	defer r.commitLock.RUnlock()

	if _, err := r.vdb.Has(healthProbeKey); err != nil {
		return nil, fmt.Errorf("store unavailable: %w", err)
	}
	return map[string]interface{}{
		"healthy":    true,
		"validators": r.registry.Len(),
		"totalStake": r.registry.TotalStake(),
	}, nil
}

// Clock returns the injected clock. Tests drive it with Set.
func (r *Relay) Clock() *mockable.Clock {
	return r.clock
}

// EventsHandler returns the pubsub subscription endpoint.
func (r *Relay) EventsHandler() http.Handler {
	return r.bus.EventsHandler()
}

// deriveTxID derives a transaction id from the sender, the node-local
// sequence number, and the creation time.
func deriveTxID(sender ids.ShortID, sequence uint64, createdAt uint64) ids.ID {
	h := sha256.New()
	h.Write(sender[:])

	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], sequence)
	h.Write(buf[:])
	binary.BigEndian.PutUint64(buf[:], createdAt)
	h.Write(buf[:])

	var digest [sha256.Size]byte
	h.Sum(digest[:0])
	id, _ := ids.ToID(digest[:])
	return id
}

func encodeRBFParams(points []rbf.Point, beta, epsilon *uint256.Int) state.RBFParams {
	encoded := state.RBFParams{
		Beta:    beta.Bytes(),
		Epsilon: epsilon.Bytes(),
		Points:  make([]state.RBFPoint, len(points)),
	}
	for i, point := range points {
		xs := make([][]byte, len(point.X))
		for j, x := range point.X {
			xs[j] = x.Bytes()
		}
		encoded.Points[i] = state.RBFPoint{
			X:      xs,
			Y:      point.Y.Bytes(),
			Lambda: point.Lambda.Bytes(),
		}
	}
	return encoded
}
