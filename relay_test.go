// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package relay

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/luxfi/database"
	"github.com/luxfi/database/memdb"
	"github.com/luxfi/ids"
	"github.com/luxfi/log"
	"github.com/luxfi/math/set"
	"github.com/luxfi/metric"

	"github.com/luxfi/relay/authz"
	"github.com/luxfi/relay/config"
	"github.com/luxfi/relay/consensus"
	"github.com/luxfi/relay/fixedpoint"
	"github.com/luxfi/relay/proofs"
	"github.com/luxfi/relay/rbf"
	"github.com/luxfi/relay/relayer"
	"github.com/luxfi/relay/staterelay"
	"github.com/luxfi/relay/validation"
)

const testStart uint64 = 100_000

var errChainDown = errors.New("chain down")

// failingNotifier fails notification for the chains in down. Notify runs
// from the relay manager's fan-out goroutines, so access is locked.
type failingNotifier struct {
	mu   sync.Mutex
	down set.Set[ids.ID]
}

func (n *failingNotifier) Notify(_ context.Context, _ ids.ID, chain ids.ID, _ ids.ID) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.down.Contains(chain) {
		return errChainDown
	}
	return nil
}

func (n *failingNotifier) restore(chain ids.ID) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.down.Remove(chain)
}

func newTestRelay(t *testing.T) *Relay {
	return newTestRelayOver(t, memdb.New(), nil)
}

func newTestRelayOver(t *testing.T, db database.Database, notifier staterelay.Notifier) *Relay {
	t.Helper()

	r, err := New(config.DefaultConfig(), db, notifier, log.NoLog{}, metric.NewNoOp().Registry())
	require.NoError(t, err)
	r.Clock().Set(time.Unix(int64(testStart), 0))
	return r
}

// convergentPoints returns a single point whose lambda equals its
// observed outcome, so the interpolation reproduces the outcome exactly.
func convergentPoints() []rbf.Point {
	return []rbf.Point{{
		X:      []*uint256.Int{fixedpoint.Scaled(1)},
		Y:      fixedpoint.Scaled(5),
		Lambda: fixedpoint.Scaled(5),
	}}
}

func createTestTx(t *testing.T, r *Relay, sender ids.ShortID) ids.ID {
	t.Helper()

	txID, err := r.CreateSpeculativeTx(
		sender,
		ids.ShortID{2},
		testStart+600,
		[]byte{0xde, 0xad},
		true,
		convergentPoints(),
		fixedpoint.Scaled(1),
		fixedpoint.Scaled(1),
	)
	require.NoError(t, err)
	return txID
}

// recordBothProofs records converging proofs on both tracks, spaced
// diffSeconds apart.
func recordBothProofs(t *testing.T, r *Relay, txID ids.ID, diffSeconds uint64) {
	t.Helper()
	require := require.New(t)

	_, err := r.RecordProof(txID, []byte("input"), []byte("witness"), proofs.Virtual)
	require.NoError(err)
	r.Clock().Set(time.Unix(int64(testStart+diffSeconds), 0))
	_, err = r.RecordProof(txID, []byte("input"), []byte("witness"), proofs.Confirmable)
	require.NoError(err)
}

func TestNewValidatesConfig(t *testing.T) {
	require := require.New(t)

	cfg := config.DefaultConfig()
	cfg.QuorumDenominator = 0
	_, err := New(cfg, memdb.New(), nil, log.NoLog{}, metric.NewNoOp().Registry())
	require.ErrorIs(err, config.ErrInvalidQuorum)
}

func TestCreateSpeculativeTx(t *testing.T) {
	require := require.New(t)

	r := newTestRelay(t)
	sender := ids.ShortID{1}
	txID := createTestTx(t, r, sender)
	require.NotEqual(ids.Empty, txID)

	tx, err := r.GetSpeculativeTx(txID)
	require.NoError(err)
	require.Equal(sender, tx.Sender)
	require.Equal(ids.ShortID{2}, tx.Receiver)
	require.Equal(testStart+600, tx.AnticipatedTime)
	require.Equal([]byte{0xde, 0xad}, tx.DataHash)
	require.True(tx.IsAssetTransfer)
	require.Equal(uint64(1), tx.Sequence)
	require.Equal(testStart, tx.CreatedAt)

	values, err := r.GetVirtualPoints(txID)
	require.NoError(err)
	require.Len(values, 1)
	require.Equal(fixedpoint.Scaled(5), values[0])

	// A second admission from the same sender at the same clock reading
	// still derives a distinct id from its sequence number.
	second := createTestTx(t, r, sender)
	require.NotEqual(txID, second)
}

func TestCreateSpeculativeTxNotConverged(t *testing.T) {
	require := require.New(t)

	r := newTestRelay(t)
	sender := ids.ShortID{1}
	divergent := []rbf.Point{{
		X:      []*uint256.Int{fixedpoint.Scaled(1)},
		Y:      fixedpoint.Scaled(5),
		Lambda: fixedpoint.Scaled(9),
	}}

	_, err := r.CreateSpeculativeTx(
		sender,
		ids.ShortID{2},
		testStart+600,
		[]byte{0xde, 0xad},
		true,
		divergent,
		fixedpoint.Scaled(1),
		fixedpoint.Scaled(1),
	)
	require.ErrorIs(err, rbf.ErrNotConverged)

	// The rejected admission consumed sequence 1 but left nothing
	// behind, not even the projected points.
	rejectedID := deriveTxID(sender, 1, testStart)
	_, err = r.GetSpeculativeTx(rejectedID)
	require.ErrorIs(err, database.ErrNotFound)
	_, err = r.GetVirtualPoints(rejectedID)
	require.ErrorIs(err, database.ErrNotFound)

	txID := createTestTx(t, r, sender)
	tx, err := r.GetSpeculativeTx(txID)
	require.NoError(err)
	require.Equal(uint64(2), tx.Sequence)
}

func TestRecordProofUnknownTransaction(t *testing.T) {
	require := require.New(t)

	r := newTestRelay(t)
	_, err := r.RecordProof(ids.GenerateTestID(), []byte("input"), []byte("witness"), proofs.Virtual)
	require.ErrorIs(err, ErrUnknownTransaction)
	_, err = r.RecordProof(ids.GenerateTestID(), []byte("input"), []byte("witness"), proofs.Confirmable)
	require.ErrorIs(err, ErrUnknownTransaction)
}

func TestRecordProofBothRoles(t *testing.T) {
	require := require.New(t)

	r := newTestRelay(t)
	txID := createTestTx(t, r, ids.ShortID{1})

	proofID, err := r.RecordProof(txID, []byte("input"), []byte("witness"), proofs.Virtual)
	require.NoError(err)
	require.NotEqual(ids.Empty, proofID)

	virtual, err := r.GetProof(txID, proofs.Virtual)
	require.NoError(err)
	require.True(virtual.Verified)
	require.Equal(testStart, virtual.Timestamp)

	// The virtual track does not confirm the transaction.
	_, err = r.GetConfirmableTx(txID)
	require.ErrorIs(err, database.ErrNotFound)

	r.Clock().Set(time.Unix(int64(testStart+10), 0))
	_, err = r.RecordProof(txID, []byte("input"), []byte("witness"), proofs.Confirmable)
	require.NoError(err)

	confirmed, err := r.GetConfirmableTx(txID)
	require.NoError(err)
	require.Equal(txID, confirmed.SpeculativeTxID)
	require.Equal(ids.ShortID{1}, confirmed.Sender)
	require.Equal([]byte{0xde, 0xad}, confirmed.DataHash)
	require.Equal(testStart+10, confirmed.ConfirmationTime)

	confirmable, err := r.GetProof(txID, proofs.Confirmable)
	require.NoError(err)
	require.True(confirmable.Verified)
	require.True(proofs.Converge(virtual, confirmable))
}

func TestRecordProofRejectsVerifiedOverwrite(t *testing.T) {
	require := require.New(t)

	r := newTestRelay(t)
	txID := createTestTx(t, r, ids.ShortID{1})

	_, err := r.RecordProof(txID, []byte("input"), []byte("witness"), proofs.Virtual)
	require.NoError(err)
	_, err = r.RecordProof(txID, []byte("other"), []byte("witness"), proofs.Virtual)
	require.ErrorIs(err, proofs.ErrAlreadyVerified)
}

func TestValidate(t *testing.T) {
	require := require.New(t)

	r := newTestRelay(t)
	txID := createTestTx(t, r, ids.ShortID{1})
	recordBothProofs(t, r, txID, 10)

	result, err := r.Validate(txID, []byte("metadata"))
	require.NoError(err)
	require.Equal(validation.Validated, result.Verdict)
	require.False(result.ProofMismatch)
	// 299 timeliness for the 10s spacing, 400 for converged proofs, 300
	// for metadata.
	require.Equal(uint64(999), result.Score)

	record, err := r.GetValidation(txID)
	require.NoError(err)
	require.True(record.IsValidated())
	require.Equal(uint64(999), record.Score)

	_, err = r.Validate(txID, []byte("metadata"))
	require.ErrorIs(err, validation.ErrAlreadyValidated)
}

func TestValidateMissingProofs(t *testing.T) {
	require := require.New(t)

	r := newTestRelay(t)
	txID := createTestTx(t, r, ids.ShortID{1})

	_, err := r.Validate(txID, []byte("metadata"))
	require.ErrorIs(err, validation.ErrMissingProofs)

	_, err = r.RecordProof(txID, []byte("input"), []byte("witness"), proofs.Virtual)
	require.NoError(err)
	_, err = r.Validate(txID, []byte("metadata"))
	require.ErrorIs(err, validation.ErrMissingProofs)

	// The guard failures committed no verdict.
	_, err = r.GetValidation(txID)
	require.ErrorIs(err, database.ErrNotFound)
}

func TestValidateTimeout(t *testing.T) {
	require := require.New(t)

	r := newTestRelay(t)
	txID := createTestTx(t, r, ids.ShortID{1})
	recordBothProofs(t, r, txID, validation.TimeoutSeconds+1)

	result, err := r.Validate(txID, []byte("metadata"))
	require.NoError(err)
	require.Equal(validation.TimedOut, result.Verdict)

	record, err := r.GetValidation(txID)
	require.NoError(err)
	require.True(record.TimeoutOccurred)
}

func TestValidateProofMismatch(t *testing.T) {
	require := require.New(t)

	r := newTestRelay(t)
	txID := createTestTx(t, r, ids.ShortID{1})

	_, err := r.RecordProof(txID, []byte("input"), []byte("witness"), proofs.Virtual)
	require.NoError(err)
	_, err = r.RecordProof(txID, []byte("input"), []byte("tampered"), proofs.Confirmable)
	require.NoError(err)

	result, err := r.Validate(txID, []byte("metadata"))
	require.NoError(err)
	require.Equal(validation.Rejected, result.Verdict)
	require.True(result.ProofMismatch)
}

func TestValidateLowConfidence(t *testing.T) {
	require := require.New(t)

	r := newTestRelay(t)
	txID := createTestTx(t, r, ids.ShortID{1})
	recordBothProofs(t, r, txID, 1800)

	// Half the deadline spent and no metadata: 150 + 400 falls short of
	// the 700 floor.
	result, err := r.Validate(txID, nil)
	require.NoError(err)
	require.Equal(validation.Rejected, result.Verdict)
	require.False(result.ProofMismatch)
	require.Equal(uint64(550), result.Score)
}

func TestAddValidatorGate(t *testing.T) {
	require := require.New(t)

	admin := ids.GenerateTestShortID()
	cfg := config.DefaultConfig()
	cfg.Admins = []string{admin.String()}

	r, err := New(cfg, memdb.New(), nil, log.NoLog{}, metric.NewNoOp().Registry())
	require.NoError(err)

	nodeID := ids.GenerateTestNodeID()
	err = r.AddValidator(ids.GenerateTestShortID(), nodeID, 100)
	require.ErrorIs(err, authz.ErrUnauthorized)
	require.NoError(r.AddValidator(admin, nodeID, 100))
}

func TestSubmitVoteQuorum(t *testing.T) {
	require := require.New(t)

	r := newTestRelay(t)
	txID := createTestTx(t, r, ids.ShortID{1})

	nodeA := ids.GenerateTestNodeID()
	nodeB := ids.GenerateTestNodeID()
	require.NoError(r.AddValidator(ids.ShortEmpty, nodeA, 280))
	require.NoError(r.AddValidator(ids.ShortEmpty, nodeB, 720))

	outcome, err := r.SubmitVote(txID, nodeA, false)
	require.NoError(err)
	require.Equal(uint64(280), outcome.TotalStake)
	require.Zero(outcome.ApprovalStake)
	require.False(outcome.Completed)

	// 720 of 1000 approving is 72%, past the 70% threshold
	outcome, err = r.SubmitVote(txID, nodeB, true)
	require.NoError(err)
	require.Equal(uint64(1000), outcome.TotalStake)
	require.Equal(uint64(720), outcome.ApprovalStake)
	require.True(outcome.Completed)

	record, err := r.GetConsensus(txID)
	require.NoError(err)
	require.True(record.Completion)

	// A validator registered after completion cannot reopen the record.
	nodeC := ids.GenerateTestNodeID()
	require.NoError(r.AddValidator(ids.ShortEmpty, nodeC, 100))
	_, err = r.SubmitVote(txID, nodeC, true)
	require.ErrorIs(err, consensus.ErrConsensusAlreadyComplete)
}

func TestUpdateState(t *testing.T) {
	require := require.New(t)

	r := newTestRelay(t)
	txID := ids.GenerateTestID()
	chains := []ids.ID{{1}, {2}}
	txData := [][]byte{[]byte("left"), []byte("right")}

	outcome, err := r.UpdateState(context.Background(), txID, chains, txData)
	require.NoError(err)
	require.True(outcome.Initiated)
	require.True(outcome.Completed)
	require.Len(outcome.Notified, 2)
	require.NotEqual(ids.Empty, outcome.ContentRoot)

	update, err := r.GetStateUpdate(txID)
	require.NoError(err)
	require.True(update.Completion)
	require.Equal(outcome.ContentRoot, update.ContentRoot)

	_, err = r.UpdateState(context.Background(), txID, chains, txData)
	require.ErrorIs(err, staterelay.ErrStateUpdateAlreadyComplete)
}

func TestUpdateStateResumesAfterNotifyFailure(t *testing.T) {
	require := require.New(t)

	chainUp := ids.ID{1}
	chainDown := ids.ID{2}
	notifier := &failingNotifier{down: set.Of(chainDown)}

	r := newTestRelayOver(t, memdb.New(), notifier)
	txID := ids.GenerateTestID()
	chains := []ids.ID{chainUp, chainDown}
	txData := [][]byte{[]byte("left"), []byte("right")}

	outcome, err := r.UpdateState(context.Background(), txID, chains, txData)
	require.ErrorIs(err, errChainDown)
	require.NotNil(outcome)
	require.True(outcome.Initiated)
	require.False(outcome.Completed)
	require.Equal([]ids.ID{chainUp}, outcome.Notified)

	// The partial progress is committed, so the retry only touches the
	// chain that failed.
	update, err := r.GetStateUpdate(txID)
	require.NoError(err)
	require.False(update.Completion)

	notifier.restore(chainDown)
	outcome, err = r.UpdateState(context.Background(), txID, chains, txData)
	require.NoError(err)
	require.False(outcome.Initiated)
	require.True(outcome.Completed)
	require.Equal([]ids.ID{chainDown}, outcome.Notified)
}

func TestRelayGates(t *testing.T) {
	require := require.New(t)

	r := newTestRelay(t)
	txID := createTestTx(t, r, ids.ShortID{1})
	targetChain := ids.ID{9}

	_, err := r.Relay(txID, targetChain, nil, []byte("payload"))
	require.ErrorIs(err, relayer.ErrNotValidated)

	recordBothProofs(t, r, txID, 10)
	_, err = r.Validate(txID, []byte("metadata"))
	require.NoError(err)

	_, err = r.Relay(txID, targetChain, nil, []byte("payload"))
	require.ErrorIs(err, relayer.ErrStateUpdateIncomplete)
}

func TestFullLifecycle(t *testing.T) {
	require := require.New(t)

	db := memdb.New()
	r := newTestRelayOver(t, db, nil)
	sender := ids.ShortID{1}
	targetChain := ids.ID{9}

	txID := createTestTx(t, r, sender)
	recordBothProofs(t, r, txID, 10)

	result, err := r.Validate(txID, []byte("metadata"))
	require.NoError(err)
	require.Equal(validation.Validated, result.Verdict)

	nodeA := ids.GenerateTestNodeID()
	nodeB := ids.GenerateTestNodeID()
	require.NoError(r.AddValidator(ids.ShortEmpty, nodeA, 280))
	require.NoError(r.AddValidator(ids.ShortEmpty, nodeB, 720))
	_, err = r.SubmitVote(txID, nodeA, false)
	require.NoError(err)
	outcome, err := r.SubmitVote(txID, nodeB, true)
	require.NoError(err)
	require.True(outcome.Completed)

	updateOutcome, err := r.UpdateState(
		context.Background(),
		txID,
		[]ids.ID{targetChain},
		[][]byte{[]byte("payload")},
	)
	require.NoError(err)
	require.True(updateOutcome.Completed)

	relayed, err := r.Relay(txID, targetChain, []byte("relay-meta"), []byte("enriched"))
	require.NoError(err)
	require.Equal(targetChain, relayed.TargetChain)
	require.Equal(updateOutcome.ContentRoot, relayed.ContentRoot)
	require.Equal(testStart+10, relayed.RelayTime)
	require.True(relayed.Completion)

	_, err = r.Relay(txID, targetChain, []byte("relay-meta"), []byte("enriched"))
	require.ErrorIs(err, relayer.ErrAlreadyRelayed)

	received, err := r.ReceiveTransaction(txID, relayed.ContentRoot, relayed.Metadata, relayed.EnrichedData)
	require.NoError(err)
	require.True(received.Processed)
	require.Equal(relayed.ContentRoot, received.ContentRoot)

	_, err = r.ReceiveTransaction(txID, relayed.ContentRoot, relayed.Metadata, relayed.EnrichedData)
	require.ErrorIs(err, relayer.ErrAlreadyProcessed)

	// Everything the lifecycle committed survives a restart, including
	// the terminal guards.
	restarted, err := New(config.DefaultConfig(), db, nil, log.NoLog{}, metric.NewNoOp().Registry())
	require.NoError(err)

	tx, err := restarted.GetSpeculativeTx(txID)
	require.NoError(err)
	require.Equal(sender, tx.Sender)
	record, err := restarted.GetRelayed(txID)
	require.NoError(err)
	require.Equal(relayed.ContentRoot, record.ContentRoot)

	_, err = restarted.Validate(txID, []byte("metadata"))
	require.ErrorIs(err, validation.ErrAlreadyValidated)
	_, err = restarted.Relay(txID, targetChain, []byte("relay-meta"), []byte("enriched"))
	require.ErrorIs(err, relayer.ErrAlreadyRelayed)
}

func TestConcurrentCreates(t *testing.T) {
	require := require.New(t)

	r := newTestRelay(t)

	const workers = 8
	txIDs := make([]ids.ID, workers)
	errs := make([]error, workers)
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func(i int) {
			defer wg.Done()
			txIDs[i], errs[i] = r.CreateSpeculativeTx(
				ids.ShortID{byte(i + 1)},
				ids.ShortID{2},
				testStart+600,
				[]byte{0xde, 0xad},
				true,
				convergentPoints(),
				fixedpoint.Scaled(1),
				fixedpoint.Scaled(1),
			)
		}(i)
	}
	wg.Wait()

	seen := set.NewSet[ids.ID](workers)
	for i, txID := range txIDs {
		require.NoError(errs[i])
		require.NotEqual(ids.Empty, txID)
		seen.Add(txID)

		_, err := r.GetSpeculativeTx(txID)
		require.NoError(err)
	}
	require.Equal(workers, seen.Len())
}

func TestHealthCheck(t *testing.T) {
	require := require.New(t)

	r := newTestRelay(t)
	require.NoError(r.AddValidator(ids.ShortID{9}, ids.GenerateTestNodeID(), 100))

	details, err := r.HealthCheck(context.Background())
	require.NoError(err)
	require.Equal(map[string]interface{}{
		"healthy":    true,
		"validators": 1,
		"totalStake": uint64(100),
	}, details)
}
