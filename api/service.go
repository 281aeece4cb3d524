// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package api exposes the relay operations over JSON-RPC.
package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gorilla/rpc/v2"
	"github.com/holiman/uint256"

	"github.com/luxfi/ids"
	"github.com/luxfi/log"
	"github.com/luxfi/metric"
	rpcjson "github.com/luxfi/utils/json"

	"github.com/luxfi/relay"
	"github.com/luxfi/relay/proofs"
	"github.com/luxfi/relay/rbf"
	"github.com/luxfi/relay/staterelay"
	"github.com/luxfi/relay/utils/formatting"
	avajson "github.com/luxfi/relay/utils/json"
	"github.com/luxfi/relay/validation"
)

// Name of the JSON-RPC service. Methods are invoked as "relay.<method>".
const Name = "relay"

var errInvalidRole = errors.New("invalid proof role")

// Service is the JSON-RPC front end over a relay instance.
type Service struct {
	log   log.Logger
	relay *relay.Relay
}

// NewHandler returns the relay service handler, instrumented with API
// request metrics.
func NewHandler(log log.Logger, r *relay.Relay, registry metric.Registry) (http.Handler, error) {
	server := rpc.NewServer()
	codec := rpcjson.NewCodec()
	server.RegisterCodec(codec, "application/json")
	server.RegisterCodec(codec, "application/json;charset=UTF-8")

	interceptor, err := metric.NewAPIInterceptor(registry)
	if err != nil {
		return nil, err
	}
	server.RegisterInterceptFunc(interceptor.InterceptRequest)
	server.RegisterAfterFunc(interceptor.AfterRequest)

	return server, server.RegisterService(&Service{log: log, relay: r}, Name)
}

// RBFPoint is the wire form of one interpolation point. Values are
// decimal strings of fixed-point integers.
type RBFPoint struct {
	X      []string `json:"x"`
	Y      string   `json:"y"`
	Lambda string   `json:"lambda"`
}

type CreateSpeculativeTxArgs struct {
	Sender          string              `json:"sender"`
	Receiver        string              `json:"receiver"`
	AnticipatedTime avajson.Uint64      `json:"anticipatedTime"`
	DataHash        string              `json:"dataHash"`
	IsAssetTransfer bool                `json:"isAssetTransfer"`
	Points          []RBFPoint          `json:"points"`
	Beta            string              `json:"beta"`
	Epsilon         string              `json:"epsilon"`
	Encoding        formatting.Encoding `json:"encoding"`
}

type CreateSpeculativeTxReply struct {
	TxID ids.ID `json:"txID"`
}

func (s *Service) CreateSpeculativeTx(_ *http.Request, args *CreateSpeculativeTxArgs, reply *CreateSpeculativeTxReply) error {
	s.log.Debug("API called",
		log.String("service", Name),
		log.String("method", "createSpeculativeTx"),
	)

	sender, err := ids.ShortFromString(args.Sender)
	if err != nil {
		return fmt.Errorf("couldn't parse sender: %w", err)
	}
	receiver, err := ids.ShortFromString(args.Receiver)
	if err != nil {
		return fmt.Errorf("couldn't parse receiver: %w", err)
	}
	dataHash, err := formatting.Decode(args.Encoding, args.DataHash)
	if err != nil {
		return fmt.Errorf("couldn't decode dataHash: %w", err)
	}
	points, err := parsePoints(args.Points)
	if err != nil {
		return err
	}
	beta, err := parseUint256("beta", args.Beta)
	if err != nil {
		return err
	}
	epsilon, err := parseUint256("epsilon", args.Epsilon)
	if err != nil {
		return err
	}

	txID, err := s.relay.CreateSpeculativeTx(
		sender,
		receiver,
		uint64(args.AnticipatedTime),
		dataHash,
		args.IsAssetTransfer,
		points,
		beta,
		epsilon,
	)
	if err != nil {
		return err
	}
	reply.TxID = txID
	return nil
}

type RecordProofArgs struct {
	TxID     ids.ID              `json:"txID"`
	Input    string              `json:"input"`
	Witness  string              `json:"witness"`
	Role     string              `json:"role"`
	Encoding formatting.Encoding `json:"encoding"`
}

type RecordProofReply struct {
	ProofID ids.ID `json:"proofID"`
}

func (s *Service) RecordProof(_ *http.Request, args *RecordProofArgs, reply *RecordProofReply) error {
	s.log.Debug("API called",
		log.String("service", Name),
		log.String("method", "recordProof"),
	)

	input, err := formatting.Decode(args.Encoding, args.Input)
	if err != nil {
		return fmt.Errorf("couldn't decode input: %w", err)
	}
	witness, err := formatting.Decode(args.Encoding, args.Witness)
	if err != nil {
		return fmt.Errorf("couldn't decode witness: %w", err)
	}
	role, err := parseRole(args.Role)
	if err != nil {
		return err
	}

	proofID, err := s.relay.RecordProof(args.TxID, input, witness, role)
	if err != nil {
		return err
	}
	reply.ProofID = proofID
	return nil
}

type ValidateArgs struct {
	TxID     ids.ID              `json:"txID"`
	Metadata string              `json:"metadata"`
	Encoding formatting.Encoding `json:"encoding"`
}

type ValidateReply struct {
	Verdict       validation.Verdict `json:"verdict"`
	Score         avajson.Uint64     `json:"score"`
	ProofMismatch bool               `json:"proofMismatch"`
}

func (s *Service) Validate(_ *http.Request, args *ValidateArgs, reply *ValidateReply) error {
	s.log.Debug("API called",
		log.String("service", Name),
		log.String("method", "validate"),
	)

	metadata, err := formatting.Decode(args.Encoding, args.Metadata)
	if err != nil {
		return fmt.Errorf("couldn't decode metadata: %w", err)
	}

	result, err := s.relay.Validate(args.TxID, metadata)
	if err != nil {
		return err
	}
	reply.Verdict = result.Verdict
	reply.Score = avajson.Uint64(result.Score)
	reply.ProofMismatch = result.ProofMismatch
	return nil
}

type SubmitVoteArgs struct {
	TxID    ids.ID `json:"txID"`
	NodeID  string `json:"nodeID"`
	Approve bool   `json:"approve"`
}

type SubmitVoteReply struct {
	TotalStake    avajson.Uint64 `json:"totalStake"`
	ApprovalStake avajson.Uint64 `json:"approvalStake"`
	Completed     bool           `json:"completed"`
}

func (s *Service) SubmitVote(_ *http.Request, args *SubmitVoteArgs, reply *SubmitVoteReply) error {
	s.log.Debug("API called",
		log.String("service", Name),
		log.String("method", "submitVote"),
	)

	nodeID, err := ids.NodeIDFromString(args.NodeID)
	if err != nil {
		return fmt.Errorf("couldn't parse nodeID: %w", err)
	}

	outcome, err := s.relay.SubmitVote(args.TxID, nodeID, args.Approve)
	if err != nil {
		return err
	}
	reply.TotalStake = avajson.Uint64(outcome.TotalStake)
	reply.ApprovalStake = avajson.Uint64(outcome.ApprovalStake)
	reply.Completed = outcome.Completed
	return nil
}

type UpdateStateArgs struct {
	TxID           ids.ID              `json:"txID"`
	AffectedChains []ids.ID            `json:"affectedChains"`
	TxData         []string            `json:"txData"`
	Encoding       formatting.Encoding `json:"encoding"`
}

type UpdateStateReply struct {
	ContentRoot ids.ID   `json:"contentRoot"`
	Initiated   bool     `json:"initiated"`
	Notified    []ids.ID `json:"notified"`
	Completed   bool     `json:"completed"`
}

func (s *Service) UpdateState(r *http.Request, args *UpdateStateArgs, reply *UpdateStateReply) error {
	s.log.Debug("API called",
		log.String("service", Name),
		log.String("method", "updateState"),
	)

	txData := make([][]byte, len(args.TxData))
	for i, data := range args.TxData {
		decoded, err := formatting.Decode(args.Encoding, data)
		if err != nil {
			return fmt.Errorf("couldn't decode txData[%d]: %w", i, err)
		}
		txData[i] = decoded
	}

	outcome, err := s.relay.UpdateState(r.Context(), args.TxID, args.AffectedChains, txData)
	if err != nil {
		return err
	}
	reply.ContentRoot = outcome.ContentRoot
	reply.Initiated = outcome.Initiated
	reply.Notified = outcome.Notified
	reply.Completed = outcome.Completed
	return nil
}

type RelayTransactionArgs struct {
	TxID         ids.ID              `json:"txID"`
	TargetChain  ids.ID              `json:"targetChain"`
	Metadata     string              `json:"metadata"`
	EnrichedData string              `json:"enrichedData"`
	Encoding     formatting.Encoding `json:"encoding"`
}

type RelayTransactionReply struct {
	ContentRoot ids.ID         `json:"contentRoot"`
	RelayTime   avajson.Uint64 `json:"relayTime"`
	Completion  bool           `json:"completion"`
}

func (s *Service) RelayTransaction(_ *http.Request, args *RelayTransactionArgs, reply *RelayTransactionReply) error {
	s.log.Debug("API called",
		log.String("service", Name),
		log.String("method", "relayTransaction"),
	)

	metadata, err := formatting.Decode(args.Encoding, args.Metadata)
	if err != nil {
		return fmt.Errorf("couldn't decode metadata: %w", err)
	}
	enrichedData, err := formatting.Decode(args.Encoding, args.EnrichedData)
	if err != nil {
		return fmt.Errorf("couldn't decode enrichedData: %w", err)
	}

	record, err := s.relay.Relay(args.TxID, args.TargetChain, metadata, enrichedData)
	if err != nil {
		return err
	}
	reply.ContentRoot = record.ContentRoot
	reply.RelayTime = avajson.Uint64(record.RelayTime)
	reply.Completion = record.Completion
	return nil
}

type ReceiveTransactionArgs struct {
	TxID         ids.ID              `json:"txID"`
	ContentRoot  ids.ID              `json:"contentRoot"`
	Metadata     string              `json:"metadata"`
	EnrichedData string              `json:"enrichedData"`
	Encoding     formatting.Encoding `json:"encoding"`
}

type ReceiveTransactionReply struct {
	ReceiveTime avajson.Uint64 `json:"receiveTime"`
	Processed   bool           `json:"processed"`
}

func (s *Service) ReceiveTransaction(_ *http.Request, args *ReceiveTransactionArgs, reply *ReceiveTransactionReply) error {
	s.log.Debug("API called",
		log.String("service", Name),
		log.String("method", "receiveTransaction"),
	)

	metadata, err := formatting.Decode(args.Encoding, args.Metadata)
	if err != nil {
		return fmt.Errorf("couldn't decode metadata: %w", err)
	}
	enrichedData, err := formatting.Decode(args.Encoding, args.EnrichedData)
	if err != nil {
		return fmt.Errorf("couldn't decode enrichedData: %w", err)
	}

	record, err := s.relay.ReceiveTransaction(args.TxID, args.ContentRoot, metadata, enrichedData)
	if err != nil {
		return err
	}
	reply.ReceiveTime = avajson.Uint64(record.ReceiveTime)
	reply.Processed = record.Processed
	return nil
}

type AddValidatorArgs struct {
	Caller string         `json:"caller"`
	NodeID string         `json:"nodeID"`
	Stake  avajson.Uint64 `json:"stake"`
}

type AddValidatorReply struct {
	TotalStake avajson.Uint64 `json:"totalStake"`
}

func (s *Service) AddValidator(_ *http.Request, args *AddValidatorArgs, reply *AddValidatorReply) error {
	s.log.Debug("API called",
		log.String("service", Name),
		log.String("method", "addValidator"),
	)

	caller, err := ids.ShortFromString(args.Caller)
	if err != nil {
		return fmt.Errorf("couldn't parse caller: %w", err)
	}
	nodeID, err := ids.NodeIDFromString(args.NodeID)
	if err != nil {
		return fmt.Errorf("couldn't parse nodeID: %w", err)
	}

	if err := s.relay.AddValidator(caller, nodeID, uint64(args.Stake)); err != nil {
		return err
	}
	reply.TotalStake = avajson.Uint64(s.relay.Registry().TotalStake())
	return nil
}

type GetTxArgs struct {
	TxID     ids.ID              `json:"txID"`
	Encoding formatting.Encoding `json:"encoding"`
}

type GetSpeculativeTxReply struct {
	Sender          string              `json:"sender"`
	Receiver        string              `json:"receiver"`
	AnticipatedTime avajson.Uint64      `json:"anticipatedTime"`
	DataHash        string              `json:"dataHash"`
	IsAssetTransfer bool                `json:"isAssetTransfer"`
	Sequence        avajson.Uint64      `json:"sequence"`
	CreatedAt       avajson.Uint64      `json:"createdAt"`
	Encoding        formatting.Encoding `json:"encoding"`
}

func (s *Service) GetSpeculativeTx(_ *http.Request, args *GetTxArgs, reply *GetSpeculativeTxReply) error {
	s.log.Debug("API called",
		log.String("service", Name),
		log.String("method", "getSpeculativeTx"),
	)

	tx, err := s.relay.GetSpeculativeTx(args.TxID)
	if err != nil {
		return err
	}
	dataHash, err := formatting.Encode(args.Encoding, tx.DataHash)
	if err != nil {
		return fmt.Errorf("couldn't encode dataHash: %w", err)
	}

	reply.Sender = tx.Sender.String()
	reply.Receiver = tx.Receiver.String()
	reply.AnticipatedTime = avajson.Uint64(tx.AnticipatedTime)
	reply.DataHash = dataHash
	reply.IsAssetTransfer = tx.IsAssetTransfer
	reply.Sequence = avajson.Uint64(tx.Sequence)
	reply.CreatedAt = avajson.Uint64(tx.CreatedAt)
	reply.Encoding = args.Encoding
	return nil
}

type GetConfirmableTxReply struct {
	SpeculativeTxID  ids.ID              `json:"speculativeTxID"`
	Sender           string              `json:"sender"`
	Receiver         string              `json:"receiver"`
	ConfirmationTime avajson.Uint64      `json:"confirmationTime"`
	DataHash         string              `json:"dataHash"`
	Encoding         formatting.Encoding `json:"encoding"`
}

func (s *Service) GetConfirmableTx(_ *http.Request, args *GetTxArgs, reply *GetConfirmableTxReply) error {
	s.log.Debug("API called",
		log.String("service", Name),
		log.String("method", "getConfirmableTx"),
	)

	tx, err := s.relay.GetConfirmableTx(args.TxID)
	if err != nil {
		return err
	}
	dataHash, err := formatting.Encode(args.Encoding, tx.DataHash)
	if err != nil {
		return fmt.Errorf("couldn't encode dataHash: %w", err)
	}

	reply.SpeculativeTxID = tx.SpeculativeTxID
	reply.Sender = tx.Sender.String()
	reply.Receiver = tx.Receiver.String()
	reply.ConfirmationTime = avajson.Uint64(tx.ConfirmationTime)
	reply.DataHash = dataHash
	reply.Encoding = args.Encoding
	return nil
}

type GetProofArgs struct {
	TxID     ids.ID              `json:"txID"`
	Role     string              `json:"role"`
	Encoding formatting.Encoding `json:"encoding"`
}

type GetProofReply struct {
	ProofID   ids.ID              `json:"proofID"`
	A         string              `json:"a"`
	B         string              `json:"b"`
	C         string              `json:"c"`
	Input     string              `json:"input"`
	Timestamp avajson.Uint64      `json:"timestamp"`
	Verified  bool                `json:"verified"`
	Encoding  formatting.Encoding `json:"encoding"`
}

func (s *Service) GetProof(_ *http.Request, args *GetProofArgs, reply *GetProofReply) error {
	s.log.Debug("API called",
		log.String("service", Name),
		log.String("method", "getProof"),
	)

	role, err := parseRole(args.Role)
	if err != nil {
		return err
	}
	proof, err := s.relay.GetProof(args.TxID, role)
	if err != nil {
		return err
	}

	for _, field := range []struct {
		name  string
		value []byte
		out   *string
	}{
		{"a", proof.A, &reply.A},
		{"b", proof.B, &reply.B},
		{"c", proof.C, &reply.C},
		{"input", proof.Input, &reply.Input},
	} {
		encoded, err := formatting.Encode(args.Encoding, field.value)
		if err != nil {
			return fmt.Errorf("couldn't encode %s: %w", field.name, err)
		}
		*field.out = encoded
	}

	reply.ProofID = proof.ID()
	reply.Timestamp = avajson.Uint64(proof.Timestamp)
	reply.Verified = proof.Verified
	reply.Encoding = args.Encoding
	return nil
}

type GetVirtualPointsReply struct {
	Values []string `json:"values"`
}

func (s *Service) GetVirtualPoints(_ *http.Request, args *GetTxArgs, reply *GetVirtualPointsReply) error {
	s.log.Debug("API called",
		log.String("service", Name),
		log.String("method", "getVirtualPoints"),
	)

	values, err := s.relay.GetVirtualPoints(args.TxID)
	if err != nil {
		return err
	}
	reply.Values = make([]string, len(values))
	for i, value := range values {
		reply.Values[i] = value.Dec()
	}
	return nil
}

type GetValidationReply struct {
	Verdict         validation.Verdict `json:"verdict"`
	Score           avajson.Uint64     `json:"score"`
	Timestamp       avajson.Uint64     `json:"timestamp"`
	TimeoutOccurred bool               `json:"timeoutOccurred"`
}

func (s *Service) GetValidation(_ *http.Request, args *GetTxArgs, reply *GetValidationReply) error {
	s.log.Debug("API called",
		log.String("service", Name),
		log.String("method", "getValidation"),
	)

	record, err := s.relay.GetValidation(args.TxID)
	if err != nil {
		return err
	}
	reply.Verdict = record.Verdict
	reply.Score = avajson.Uint64(record.Score)
	reply.Timestamp = avajson.Uint64(record.Timestamp)
	reply.TimeoutOccurred = record.TimeoutOccurred
	return nil
}

type GetConsensusReply struct {
	TotalStake    avajson.Uint64 `json:"totalStake"`
	ApprovalStake avajson.Uint64 `json:"approvalStake"`
	NumVotes      avajson.Uint64 `json:"numVotes"`
	Completion    bool           `json:"completion"`
}

func (s *Service) GetConsensus(_ *http.Request, args *GetTxArgs, reply *GetConsensusReply) error {
	s.log.Debug("API called",
		log.String("service", Name),
		log.String("method", "getConsensus"),
	)

	record, err := s.relay.GetConsensus(args.TxID)
	if err != nil {
		return err
	}
	reply.TotalStake = avajson.Uint64(record.TotalStake)
	reply.ApprovalStake = avajson.Uint64(record.ApprovalStake)
	reply.NumVotes = avajson.Uint64(len(record.Contributions))
	reply.Completion = record.Completion
	return nil
}

type GetStateUpdateReply struct {
	ContentRoot ids.ID                 `json:"contentRoot"`
	Marks       []staterelay.ChainMark `json:"marks"`
	Completion  bool                   `json:"completion"`
}

func (s *Service) GetStateUpdate(_ *http.Request, args *GetTxArgs, reply *GetStateUpdateReply) error {
	s.log.Debug("API called",
		log.String("service", Name),
		log.String("method", "getStateUpdate"),
	)

	update, err := s.relay.GetStateUpdate(args.TxID)
	if err != nil {
		return err
	}
	reply.ContentRoot = update.ContentRoot
	reply.Marks = update.Marks
	reply.Completion = update.Completion
	return nil
}

type GetRelayedReply struct {
	TargetChain  ids.ID              `json:"targetChain"`
	ContentRoot  ids.ID              `json:"contentRoot"`
	Metadata     string              `json:"metadata"`
	EnrichedData string              `json:"enrichedData"`
	RelayTime    avajson.Uint64      `json:"relayTime"`
	Completion   bool                `json:"completion"`
	Encoding     formatting.Encoding `json:"encoding"`
}

func (s *Service) GetRelayed(_ *http.Request, args *GetTxArgs, reply *GetRelayedReply) error {
	s.log.Debug("API called",
		log.String("service", Name),
		log.String("method", "getRelayed"),
	)

	record, err := s.relay.GetRelayed(args.TxID)
	if err != nil {
		return err
	}
	metadata, err := formatting.Encode(args.Encoding, record.Metadata)
	if err != nil {
		return fmt.Errorf("couldn't encode metadata: %w", err)
	}
	enrichedData, err := formatting.Encode(args.Encoding, record.EnrichedData)
	if err != nil {
		return fmt.Errorf("couldn't encode enrichedData: %w", err)
	}

	reply.TargetChain = record.TargetChain
	reply.ContentRoot = record.ContentRoot
	reply.Metadata = metadata
	reply.EnrichedData = enrichedData
	reply.RelayTime = avajson.Uint64(record.RelayTime)
	reply.Completion = record.Completion
	reply.Encoding = args.Encoding
	return nil
}

type GetReceivedReply struct {
	ContentRoot  ids.ID              `json:"contentRoot"`
	Metadata     string              `json:"metadata"`
	EnrichedData string              `json:"enrichedData"`
	ReceiveTime  avajson.Uint64      `json:"receiveTime"`
	Processed    bool                `json:"processed"`
	Encoding     formatting.Encoding `json:"encoding"`
}

func (s *Service) GetReceived(_ *http.Request, args *GetTxArgs, reply *GetReceivedReply) error {
	s.log.Debug("API called",
		log.String("service", Name),
		log.String("method", "getReceived"),
	)

	record, err := s.relay.GetReceived(args.TxID)
	if err != nil {
		return err
	}
	metadata, err := formatting.Encode(args.Encoding, record.Metadata)
	if err != nil {
		return fmt.Errorf("couldn't encode metadata: %w", err)
	}
	enrichedData, err := formatting.Encode(args.Encoding, record.EnrichedData)
	if err != nil {
		return fmt.Errorf("couldn't encode enrichedData: %w", err)
	}

	reply.ContentRoot = record.ContentRoot
	reply.Metadata = metadata
	reply.EnrichedData = enrichedData
	reply.ReceiveTime = avajson.Uint64(record.ReceiveTime)
	reply.Processed = record.Processed
	reply.Encoding = args.Encoding
	return nil
}

func parseRole(role string) (proofs.Role, error) {
	switch role {
	case proofs.Virtual.String():
		return proofs.Virtual, nil
	case proofs.Confirmable.String():
		return proofs.Confirmable, nil
	default:
		return proofs.Virtual, fmt.Errorf("%w: %q", errInvalidRole, role)
	}
}

func parseUint256(name, value string) (*uint256.Int, error) {
	parsed, err := uint256.FromDecimal(value)
	if err != nil {
		return nil, fmt.Errorf("couldn't parse %s: %w", name, err)
	}
	return parsed, nil
}

func parsePoints(wire []RBFPoint) ([]rbf.Point, error) {
	points := make([]rbf.Point, len(wire))
	for i, point := range wire {
		xs := make([]*uint256.Int, len(point.X))
		for j, x := range point.X {
			parsed, err := parseUint256(fmt.Sprintf("points[%d].x[%d]", i, j), x)
			if err != nil {
				return nil, err
			}
			xs[j] = parsed
		}
		y, err := parseUint256(fmt.Sprintf("points[%d].y", i), point.Y)
		if err != nil {
			return nil, err
		}
		lambda, err := parseUint256(fmt.Sprintf("points[%d].lambda", i), point.Lambda)
		if err != nil {
			return nil, err
		}
		points[i] = rbf.Point{X: xs, Y: y, Lambda: lambda}
	}
	return points, nil
}
