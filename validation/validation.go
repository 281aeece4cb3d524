// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package validation drives a transaction's verdict state machine:
// Pending until both proofs exist, then exactly one of Validated,
// Rejected, or TimedOut, committed once and never revisited.
package validation

import (
	"errors"
	"fmt"
	"sync"

	"github.com/luxfi/database"
	"github.com/luxfi/ids"
	"github.com/luxfi/log"

	"github.com/luxfi/relay/confidence"
	"github.com/luxfi/relay/proofs"
	"github.com/luxfi/relay/state"
	"github.com/luxfi/relay/utils/timer/mockable"
)

// TimeoutSeconds is the validation deadline. A confirmable proof
// recorded more than this long after its virtual counterpart times the
// transaction out. The deadline is only detected when Validate runs; an
// external sweeper is responsible for proactive expiry.
const TimeoutSeconds uint64 = 3600

var (
	ErrAlreadyValidated = errors.New("transaction already validated")
	ErrMissingProofs    = errors.New("missing proofs")
)

// Verdict is a transaction's validation state. Every verdict other than
// Pending is terminal.
type Verdict uint8

const (
	Pending Verdict = iota
	Validated
	Rejected
	TimedOut
)

func (v Verdict) String() string {
	switch v {
	case Pending:
		return "pending"
	case Validated:
		return "validated"
	case Rejected:
		return "rejected"
	case TimedOut:
		return "timed_out"
	default:
		return "unknown"
	}
}

func (v Verdict) MarshalJSON() ([]byte, error) {
	return []byte(`"` + v.String() + `"`), nil
}

// Metadata is the caller-supplied transaction context. It is opaque to
// the validator; only its presence is scored.
type Metadata []byte

func (md Metadata) Valid() bool {
	return len(md) > 0
}

// Record is the committed terminal state for one transaction id.
type Record struct {
	Verdict         Verdict `serialize:"true" json:"verdict"`
	Score           uint64  `serialize:"true" json:"score"`
	Timestamp       uint64  `serialize:"true" json:"timestamp"`
	TimeoutOccurred bool    `serialize:"true" json:"timeoutOccurred"`
}

// IsValidated reports whether the transaction passed validation.
func (r *Record) IsValidated() bool {
	return r.Verdict == Validated
}

// Result reports a committed verdict and the cause behind it.
type Result struct {
	Verdict Verdict
	Score   uint64

	// ProofMismatch is true when the verdict is Rejected because the
	// commitment triples diverged rather than because the score fell
	// short.
	ProofMismatch bool
}

// Validator commits one terminal verdict per transaction id.
type Validator struct {
	mu sync.Mutex

	ledger  *proofs.Ledger
	records *state.Store[Record]
	clock   *mockable.Clock
	log     log.Logger
}

func New(db database.Database, ledger *proofs.Ledger, clock *mockable.Clock, log log.Logger) *Validator {
	return &Validator{
		ledger:  ledger,
		records: state.NewStore[Record](db, Codec, CodecVersion),
		clock:   clock,
		log:     log,
	}
}

// Validate runs the verdict state machine for txID. Business failures
// (timeout, proof mismatch, low confidence) are terminal verdicts, not
// errors; the returned error is reserved for guard violations and
// storage faults. The terminal guard makes re-validation fail with
// ErrAlreadyValidated and leave the committed verdict untouched.
func (v *Validator) Validate(txID ids.ID, md Metadata) (*Result, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if _, err := v.records.Get(txID); err == nil {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyValidated, txID)
	} else if err != database.ErrNotFound {
		return nil, err
	}

	virtual, err := v.ledger.Get(txID, proofs.Virtual)
	if err == database.ErrNotFound {
		return nil, fmt.Errorf("%w: no virtual proof for %s", ErrMissingProofs, txID)
	}
	if err != nil {
		return nil, err
	}
	confirmable, err := v.ledger.Get(txID, proofs.Confirmable)
	if err == database.ErrNotFound {
		return nil, fmt.Errorf("%w: no confirmable proof for %s", ErrMissingProofs, txID)
	}
	if err != nil {
		return nil, err
	}

	if confirmable.Timestamp > virtual.Timestamp+TimeoutSeconds {
		return v.commit(txID, &Record{
			Verdict:         TimedOut,
			Timestamp:       v.clock.Unix(),
			TimeoutOccurred: true,
		}, false)
	}

	if !proofs.Converge(virtual, confirmable) {
		return v.commit(txID, &Record{
			Verdict:   Rejected,
			Timestamp: v.clock.Unix(),
		}, true)
	}

	// A confirmation observed before its speculative proof scores full
	// timeliness.
	var diff uint64
	if confirmable.Timestamp > virtual.Timestamp {
		diff = confirmable.Timestamp - virtual.Timestamp
	}
	score := confidence.ValidationScore(diff, TimeoutSeconds, true, md.Valid())

	verdict := Validated
	if score < confidence.MinConfidence {
		verdict = Rejected
	}
	return v.commit(txID, &Record{
		Verdict:   verdict,
		Score:     score,
		Timestamp: v.clock.Unix(),
	}, false)
}

// GetRecord returns the committed record for txID, or
// database.ErrNotFound while the transaction is still pending.
func (v *Validator) GetRecord(txID ids.ID) (*Record, error) {
	return v.records.Get(txID)
}

func (v *Validator) commit(txID ids.ID, record *Record, mismatch bool) (*Result, error) {
	if err := v.records.Put(txID, record); err != nil {
		return nil, err
	}
	v.log.Debug("committed validation verdict",
		log.Stringer("txID", txID),
		log.Stringer("verdict", record.Verdict),
		log.Uint64("score", record.Score),
	)
	return &Result{
		Verdict:       record.Verdict,
		Score:         record.Score,
		ProofMismatch: mismatch,
	}, nil
}
