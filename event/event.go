// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package event defines the observable domain events of the relay protocol
// and the bus that publishes them to external subscribers.
package event

import (
	"github.com/luxfi/ids"
	"github.com/luxfi/pubsub"
)

// Type identifies one domain event kind.
type Type uint8

const (
	ProofVerified Type = iota + 1
	ProofMismatch
	ValidationTimeout
	VoteSubmitted
	ConsensusComplete
	StateUpdateInitiated
	ChainNotified
	StateUpdateComplete
	TransactionRelayed
	TransactionReceived
	TransactionProcessed
)

func (t Type) String() string {
	switch t {
	case ProofVerified:
		return "proof_verified"
	case ProofMismatch:
		return "proof_mismatch"
	case ValidationTimeout:
		return "validation_timeout"
	case VoteSubmitted:
		return "vote_submitted"
	case ConsensusComplete:
		return "consensus_complete"
	case StateUpdateInitiated:
		return "state_update_initiated"
	case ChainNotified:
		return "chain_notified"
	case StateUpdateComplete:
		return "state_update_complete"
	case TransactionRelayed:
		return "transaction_relayed"
	case TransactionReceived:
		return "transaction_received"
	case TransactionProcessed:
		return "transaction_processed"
	default:
		return "unknown"
	}
}

func (t Type) MarshalJSON() ([]byte, error) {
	return []byte(`"` + t.String() + `"`), nil
}

// Event is one emitted domain event. TxID is always set and is the
// subscription filter key; the remaining fields carry per-type context.
type Event struct {
	Type        Type       `json:"type"`
	TxID        ids.ID     `json:"txID"`
	ProofID     ids.ID     `json:"proofID"`
	Role        string     `json:"role,omitempty"`
	Validator   ids.NodeID `json:"validator"`
	Approve     bool       `json:"approve,omitempty"`
	Chain       ids.ID     `json:"chain"`
	ContentRoot ids.ID     `json:"contentRoot"`
	Score       uint64     `json:"score,omitempty"`
	Timestamp   uint64     `json:"timestamp,omitempty"`
}

// filterer adapts an event to the pubsub filter protocol. Subscribers
// filter on the transaction id bytes.
type filterer struct {
	event *Event
}

func NewFilterer(event *Event) pubsub.Filterer {
	return &filterer{event: event}
}

func (f *filterer) Filter(filters []pubsub.Filter) ([]bool, interface{}) {
	resp := make([]bool, len(filters))
	for i, filter := range filters {
		resp[i] = filter.Check(f.event.TxID[:])
	}
	return resp, f.event
}
