// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package consensus

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/luxfi/database"
	"github.com/luxfi/database/memdb"
	"github.com/luxfi/ids"
	"github.com/luxfi/log"
	"github.com/luxfi/math/set"

	"github.com/luxfi/relay/authz"
)

func testParams() Params {
	return Params{
		MinStake:  100,
		QuorumNum: 70,
		QuorumDen: 100,
	}
}

// newTestEngine registers one validator per stake, in order, so the
// canonical index of nodeIDs[i] is i.
func newTestEngine(t *testing.T, db database.Database, stakes ...uint64) (*Engine, []ids.NodeID) {
	t.Helper()
	require := require.New(t)

	registry, err := NewRegistry(db, authz.OpenGate{}, log.NoLog{})
	require.NoError(err)

	nodeIDs := make([]ids.NodeID, len(stakes))
	for i, stake := range stakes {
		nodeIDs[i] = ids.GenerateTestNodeID()
		require.NoError(registry.AddValidator(ids.ShortEmpty, nodeIDs[i], stake))
	}

	engine, err := NewEngine(db, registry, testParams(), log.NoLog{})
	require.NoError(err)
	return engine, nodeIDs
}

func TestParamsVerify(t *testing.T) {
	require := require.New(t)

	require.NoError(testParams().Verify())
	require.ErrorIs(Params{QuorumNum: 70, QuorumDen: 0}.Verify(), ErrInvalidQuorum)
	require.ErrorIs(Params{QuorumNum: 101, QuorumDen: 100}.Verify(), ErrInvalidQuorum)
}

func TestSubmitVoteUnknownValidator(t *testing.T) {
	require := require.New(t)

	engine, _ := newTestEngine(t, memdb.New(), 300)
	_, err := engine.SubmitVote(ids.GenerateTestID(), ids.GenerateTestNodeID(), true)
	require.ErrorIs(err, ErrNotAuthorizedValidator)
}

func TestSubmitVoteInsufficientStake(t *testing.T) {
	require := require.New(t)

	engine, nodeIDs := newTestEngine(t, memdb.New(), 99)
	_, err := engine.SubmitVote(ids.GenerateTestID(), nodeIDs[0], true)
	require.ErrorIs(err, ErrInsufficientStake)
}

func TestSubmitVoteDuplicate(t *testing.T) {
	require := require.New(t)

	engine, nodeIDs := newTestEngine(t, memdb.New(), 300, 300, 300)
	txID := ids.GenerateTestID()

	// A lone rejection keeps the record open
	outcome, err := engine.SubmitVote(txID, nodeIDs[0], false)
	require.NoError(err)
	require.False(outcome.Completed)

	_, err = engine.SubmitVote(txID, nodeIDs[0], true)
	require.ErrorIs(err, ErrDuplicateVote)

	// The duplicate left the record unchanged
	record, err := engine.GetRecord(txID)
	require.NoError(err)
	require.Equal(uint64(300), record.TotalStake)
	require.Zero(record.ApprovalStake)
	require.Len(record.Contributions, 1)
}

func TestConsensusQuorum(t *testing.T) {
	require := require.New(t)

	// 720 of 1000 approving is 72%, past the 70% threshold
	engine, nodeIDs := newTestEngine(t, memdb.New(), 280, 720)
	txID := ids.GenerateTestID()

	outcome, err := engine.SubmitVote(txID, nodeIDs[0], false)
	require.NoError(err)
	require.False(outcome.Completed)
	require.Equal(uint64(280), outcome.TotalStake)
	require.Zero(outcome.ApprovalStake)

	outcome, err = engine.SubmitVote(txID, nodeIDs[1], true)
	require.NoError(err)
	require.True(outcome.Completed)
	require.Equal(uint64(1000), outcome.TotalStake)
	require.Equal(uint64(720), outcome.ApprovalStake)

	record, err := engine.GetRecord(txID)
	require.NoError(err)
	require.True(record.Completion)
	require.Equal(uint64(1000), record.TotalStake)
	require.Equal(uint64(720), record.ApprovalStake)

	voters := set.BitsFromBytes(record.Voters)
	require.True(voters.Contains(0))
	require.True(voters.Contains(1))

	require.Equal([]Contribution{
		{Index: 0, Stake: 280, Approve: false},
		{Index: 1, Stake: 720, Approve: true},
	}, record.Contributions)
}

func TestSubmitVoteAfterComplete(t *testing.T) {
	require := require.New(t)

	engine, nodeIDs := newTestEngine(t, memdb.New(), 700, 300)
	txID := ids.GenerateTestID()

	outcome, err := engine.SubmitVote(txID, nodeIDs[0], true)
	require.NoError(err)
	require.True(outcome.Completed)

	_, err = engine.SubmitVote(txID, nodeIDs[1], true)
	require.ErrorIs(err, ErrConsensusAlreadyComplete)

	// Completion is terminal and the late vote left no trace
	record, err := engine.GetRecord(txID)
	require.NoError(err)
	require.True(record.Completion)
	require.Equal(uint64(700), record.TotalStake)
	require.Len(record.Contributions, 1)
}

func TestQuorumBoundary(t *testing.T) {
	require := require.New(t)

	// Exactly 70% completes
	engine, nodeIDs := newTestEngine(t, memdb.New(), 300, 700)
	txID := ids.GenerateTestID()

	outcome, err := engine.SubmitVote(txID, nodeIDs[0], false)
	require.NoError(err)
	require.False(outcome.Completed)

	outcome, err = engine.SubmitVote(txID, nodeIDs[1], true)
	require.NoError(err)
	require.True(outcome.Completed)

	// One unit short of 70% does not
	engine, nodeIDs = newTestEngine(t, memdb.New(), 301, 699)
	txID = ids.GenerateTestID()

	_, err = engine.SubmitVote(txID, nodeIDs[0], false)
	require.NoError(err)
	outcome, err = engine.SubmitVote(txID, nodeIDs[1], true)
	require.NoError(err)
	require.False(outcome.Completed)

	record, err := engine.GetRecord(txID)
	require.NoError(err)
	require.False(record.Completion)
}

func TestVotesIndependentPerTx(t *testing.T) {
	require := require.New(t)

	engine, nodeIDs := newTestEngine(t, memdb.New(), 700, 300)
	first := ids.GenerateTestID()
	second := ids.GenerateTestID()

	outcome, err := engine.SubmitVote(first, nodeIDs[0], true)
	require.NoError(err)
	require.True(outcome.Completed)

	// Completion of one transaction does not gate another, and the
	// same validator may vote once per transaction id.
	outcome, err = engine.SubmitVote(second, nodeIDs[0], false)
	require.NoError(err)
	require.False(outcome.Completed)

	_, err = engine.GetRecord(ids.GenerateTestID())
	require.ErrorIs(err, database.ErrNotFound)
}

func TestRecordPersistence(t *testing.T) {
	require := require.New(t)

	db := memdb.New()
	engine, nodeIDs := newTestEngine(t, db, 700, 300)
	txID := ids.GenerateTestID()

	outcome, err := engine.SubmitVote(txID, nodeIDs[0], true)
	require.NoError(err)
	require.True(outcome.Completed)

	// A restarted engine sees the completed record and still rejects
	// late votes.
	registry, err := NewRegistry(db, authz.OpenGate{}, log.NoLog{})
	require.NoError(err)
	restarted, err := NewEngine(db, registry, testParams(), log.NoLog{})
	require.NoError(err)

	record, err := restarted.GetRecord(txID)
	require.NoError(err)
	require.True(record.Completion)
	require.Equal(uint64(700), record.ApprovalStake)

	_, err = restarted.SubmitVote(txID, nodeIDs[1], true)
	require.ErrorIs(err, ErrConsensusAlreadyComplete)
}
