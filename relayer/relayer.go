// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package relayer performs the final cross-chain emission of a
// transaction and the destination-side ingestion of one. Both sides are
// write-once per transaction id: a transaction relays exactly once and
// is processed exactly once.
package relayer

import (
	"errors"
	"fmt"
	"sync"

	"github.com/luxfi/database"
	"github.com/luxfi/ids"
	"github.com/luxfi/log"

	"github.com/luxfi/relay/cipher"
	"github.com/luxfi/relay/state"
	"github.com/luxfi/relay/staterelay"
	"github.com/luxfi/relay/utils/compression"
	"github.com/luxfi/relay/utils/timer/mockable"
	"github.com/luxfi/relay/validation"
)

var (
	ErrNotValidated          = errors.New("transaction not validated")
	ErrStateUpdateIncomplete = errors.New("state update incomplete")
	ErrAlreadyRelayed        = errors.New("transaction already relayed")
	ErrAlreadyProcessed      = errors.New("transaction already processed")
)

// ValidationSource reports committed validation verdicts.
type ValidationSource interface {
	GetRecord(txID ids.ID) (*validation.Record, error)
}

// UpdateSource reports state update bookkeeping.
type UpdateSource interface {
	GetUpdate(txID ids.ID) (*staterelay.StateUpdate, error)
}

// RelayedTransaction is the write-once record of one emission.
// EnrichedData is stored sealed and compressed.
type RelayedTransaction struct {
	TargetChain  ids.ID `serialize:"true" json:"targetChain"`
	ContentRoot  ids.ID `serialize:"true" json:"contentRoot"`
	Metadata     []byte `serialize:"true" json:"metadata"`
	EnrichedData []byte `serialize:"true" json:"enrichedData"`
	RelayTime    uint64 `serialize:"true" json:"relayTime"`
	Completion   bool   `serialize:"true" json:"completion"`
}

// ReceivedTransaction is the destination-side ingestion record. It is
// marked processed the moment it is stored; no separate asynchronous
// step exists at this boundary.
type ReceivedTransaction struct {
	ContentRoot  ids.ID `serialize:"true" json:"contentRoot"`
	Metadata     []byte `serialize:"true" json:"metadata"`
	EnrichedData []byte `serialize:"true" json:"enrichedData"`
	ReceiveTime  uint64 `serialize:"true" json:"receiveTime"`
	Processed    bool   `serialize:"true" json:"processed"`
}

// Finalizer emits a transaction to its destination chain once
// validation and state relay have both reached terminal success.
type Finalizer struct {
	mu sync.Mutex

	relayed     *state.Store[RelayedTransaction]
	validations ValidationSource
	updates     UpdateSource
	cipher      cipher.Cipher
	compressor  compression.Compressor
	clock       *mockable.Clock
	log         log.Logger
}

// NewFinalizer builds a finalizer over the relayed keyspace. A nil
// payloadCipher relays in the clear and a nil compressor stores
// payloads uncompressed.
func NewFinalizer(
	db database.Database,
	validations ValidationSource,
	updates UpdateSource,
	payloadCipher cipher.Cipher,
	compressor compression.Compressor,
	clock *mockable.Clock,
	log log.Logger,
) *Finalizer {
	if payloadCipher == nil {
		payloadCipher = cipher.Noop{}
	}
	if compressor == nil {
		compressor = compression.NewNoCompressor()
	}
	return &Finalizer{
		relayed:     state.NewStore[RelayedTransaction](db, Codec, CodecVersion),
		validations: validations,
		updates:     updates,
		cipher:      payloadCipher,
		compressor:  compressor,
		clock:       clock,
		log:         log,
	}
}

// Relay performs the single idempotent emission for txID. It requires a
// Validated verdict and a complete state update; enrichedData is sealed
// and compressed before storage. The stored record carries the content
// root for destination-side verification.
func (f *Finalizer) Relay(txID ids.ID, targetChain ids.ID, metadata, enrichedData []byte) (*RelayedTransaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, err := f.relayed.Get(txID); err == nil {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyRelayed, txID)
	} else if err != database.ErrNotFound {
		return nil, err
	}

	verdict, err := f.validations.GetRecord(txID)
	if err == database.ErrNotFound {
		return nil, fmt.Errorf("%w: no verdict committed for %s", ErrNotValidated, txID)
	}
	if err != nil {
		return nil, err
	}
	if !verdict.IsValidated() {
		return nil, fmt.Errorf("%w: verdict %s for %s", ErrNotValidated, verdict.Verdict, txID)
	}

	update, err := f.updates.GetUpdate(txID)
	if err == database.ErrNotFound {
		return nil, fmt.Errorf("%w: no state update initiated for %s", ErrStateUpdateIncomplete, txID)
	}
	if err != nil {
		return nil, err
	}
	if !update.Completion {
		return nil, fmt.Errorf("%w: %s", ErrStateUpdateIncomplete, txID)
	}

	sealed, err := f.cipher.Encrypt(enrichedData)
	if err != nil {
		return nil, fmt.Errorf("failed to seal enriched data: %w", err)
	}
	compressed, err := f.compressor.Compress(sealed)
	if err != nil {
		return nil, fmt.Errorf("failed to compress enriched data: %w", err)
	}

	record := &RelayedTransaction{
		TargetChain:  targetChain,
		ContentRoot:  update.ContentRoot,
		Metadata:     metadata,
		EnrichedData: compressed,
		RelayTime:    f.clock.Unix(),
		Completion:   true,
	}
	if err := f.relayed.Put(txID, record); err != nil {
		return nil, err
	}

	f.log.Info("relayed transaction",
		log.Stringer("txID", txID),
		log.Stringer("targetChain", targetChain),
		log.Stringer("contentRoot", record.ContentRoot),
	)
	return record, nil
}

// GetRelayed returns the emission record for txID, or
// database.ErrNotFound if the transaction has not been relayed.
func (f *Finalizer) GetRelayed(txID ids.ID) (*RelayedTransaction, error) {
	return f.relayed.Get(txID)
}

// Receiver ingests relayed transactions on the destination side.
type Receiver struct {
	mu sync.Mutex

	received *state.Store[ReceivedTransaction]
	clock    *mockable.Clock
	log      log.Logger
}

func NewReceiver(db database.Database, clock *mockable.Clock, log log.Logger) *Receiver {
	return &Receiver{
		received: state.NewStore[ReceivedTransaction](db, Codec, CodecVersion),
		clock:    clock,
		log:      log,
	}
}

// Receive ingests one relayed transaction. Re-processing a transaction
// id fails with ErrAlreadyProcessed and changes nothing.
func (r *Receiver) Receive(txID ids.ID, contentRoot ids.ID, metadata, enrichedData []byte) (*ReceivedTransaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, err := r.received.Get(txID); err == nil {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyProcessed, txID)
	} else if err != database.ErrNotFound {
		return nil, err
	}

	record := &ReceivedTransaction{
		ContentRoot:  contentRoot,
		Metadata:     metadata,
		EnrichedData: enrichedData,
		ReceiveTime:  r.clock.Unix(),
		Processed:    true,
	}
	if err := r.received.Put(txID, record); err != nil {
		return nil, err
	}

	r.log.Info("received transaction",
		log.Stringer("txID", txID),
		log.Stringer("contentRoot", contentRoot),
	)
	return record, nil
}

// GetReceived returns the ingestion record for txID, or
// database.ErrNotFound if the transaction has not arrived.
func (r *Receiver) GetReceived(txID ids.ID) (*ReceivedTransaction, error) {
	return r.received.Get(txID)
}
