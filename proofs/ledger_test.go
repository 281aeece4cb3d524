// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package proofs

import (
	"crypto/sha256"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/luxfi/database"
	"github.com/luxfi/database/memdb"
	"github.com/luxfi/ids"
	"github.com/luxfi/log"

	"github.com/luxfi/relay/utils/timer/mockable"
)

func newTestLedger(t *testing.T) *Ledger {
	t.Helper()

	clock := &mockable.Clock{}
	clock.Set(time.Unix(12345, 0))
	ledger, err := NewLedger(
		memdb.New(),
		memdb.New(),
		[]byte("test verification key"),
		nil,
		clock,
		log.NoLog{},
	)
	require.NoError(t, err)
	return ledger
}

func TestLedgerRecordRoundTrip(t *testing.T) {
	require := require.New(t)

	ledger := newTestLedger(t)
	txID := ids.GenerateTestID()

	proofID, err := ledger.Record(txID, []byte("input"), []byte("witness"), Virtual)
	require.NoError(err)
	require.NotEqual(ids.Empty, proofID)

	proof, err := ledger.Get(txID, Virtual)
	require.NoError(err)
	require.Len(proof.A, sha256.Size)
	require.Len(proof.B, sha256.Size)
	require.Len(proof.C, sha256.Size)
	require.Equal([]byte("input"), proof.Input)
	require.Equal(uint64(12345), proof.Timestamp)
	require.False(proof.Verified)
	require.Equal(proofID, proof.ID())
}

func TestLedgerRolesConverge(t *testing.T) {
	require := require.New(t)

	ledger := newTestLedger(t)
	txID := ids.GenerateTestID()

	virtualID, err := ledger.Record(txID, []byte("input"), []byte("witness"), Virtual)
	require.NoError(err)
	confirmableID, err := ledger.Record(txID, []byte("input"), []byte("witness"), Confirmable)
	require.NoError(err)

	// Identical underlying data must yield identical triples in both roles.
	require.Equal(virtualID, confirmableID)

	virtual, err := ledger.Get(txID, Virtual)
	require.NoError(err)
	confirmable, err := ledger.Get(txID, Confirmable)
	require.NoError(err)
	require.True(Converge(virtual, confirmable))
}

func TestLedgerDivergentWitness(t *testing.T) {
	require := require.New(t)

	ledger := newTestLedger(t)
	txID := ids.GenerateTestID()

	_, err := ledger.Record(txID, []byte("input"), []byte("witness"), Virtual)
	require.NoError(err)
	_, err = ledger.Record(txID, []byte("input"), []byte("other witness"), Confirmable)
	require.NoError(err)

	virtual, err := ledger.Get(txID, Virtual)
	require.NoError(err)
	confirmable, err := ledger.Get(txID, Confirmable)
	require.NoError(err)
	require.False(Converge(virtual, confirmable))
}

func TestLedgerVerifyTransitionsOnce(t *testing.T) {
	require := require.New(t)

	ledger := newTestLedger(t)
	txID := ids.GenerateTestID()

	_, err := ledger.Record(txID, []byte("input"), []byte("witness"), Virtual)
	require.NoError(err)

	valid, transitioned, err := ledger.Verify(txID, Virtual)
	require.NoError(err)
	require.True(valid)
	require.True(transitioned)

	valid, transitioned, err = ledger.Verify(txID, Virtual)
	require.NoError(err)
	require.True(valid)
	require.False(transitioned)

	proof, err := ledger.Get(txID, Virtual)
	require.NoError(err)
	require.True(proof.Verified)
}

func TestLedgerVerifyUnknownTx(t *testing.T) {
	require := require.New(t)

	ledger := newTestLedger(t)

	_, _, err := ledger.Verify(ids.GenerateTestID(), Confirmable)
	require.ErrorIs(err, database.ErrNotFound)
}

func TestLedgerRecordAfterVerified(t *testing.T) {
	require := require.New(t)

	ledger := newTestLedger(t)
	txID := ids.GenerateTestID()

	_, err := ledger.Record(txID, []byte("input"), []byte("witness"), Virtual)
	require.NoError(err)
	_, _, err = ledger.Verify(txID, Virtual)
	require.NoError(err)

	_, err = ledger.Record(txID, []byte("input"), []byte("late witness"), Virtual)
	require.ErrorIs(err, ErrAlreadyVerified)

	_, err = ledger.RecordTriple(txID, []byte{1}, []byte{2}, []byte{3}, []byte{4}, Virtual)
	require.ErrorIs(err, ErrAlreadyVerified)

	// The confirmable slot is untouched by the virtual proof's finality.
	_, err = ledger.Record(txID, []byte("input"), []byte("witness"), Confirmable)
	require.NoError(err)
}

func TestLedgerRecordReplacesUnverified(t *testing.T) {
	require := require.New(t)

	ledger := newTestLedger(t)
	txID := ids.GenerateTestID()

	firstID, err := ledger.Record(txID, []byte("input"), []byte("witness"), Virtual)
	require.NoError(err)
	secondID, err := ledger.Record(txID, []byte("input"), []byte("better witness"), Virtual)
	require.NoError(err)
	require.NotEqual(firstID, secondID)

	proof, err := ledger.Get(txID, Virtual)
	require.NoError(err)
	require.Equal(secondID, proof.ID())
}

func TestLedgerRejectsForeignVerificationKey(t *testing.T) {
	require := require.New(t)

	virtualDB := memdb.New()
	confirmableDB := memdb.New()
	clock := &mockable.Clock{}
	clock.Set(time.Unix(12345, 0))

	ledger, err := NewLedger(virtualDB, confirmableDB, []byte("key one"), nil, clock, log.NoLog{})
	require.NoError(err)
	other, err := NewLedger(virtualDB, confirmableDB, []byte("key two"), nil, clock, log.NoLog{})
	require.NoError(err)

	txID := ids.GenerateTestID()
	_, err = ledger.Record(txID, []byte("input"), []byte("witness"), Virtual)
	require.NoError(err)

	// The triple's linkage commitment binds it to the recording key.
	valid, transitioned, err := other.Verify(txID, Virtual)
	require.NoError(err)
	require.False(valid)
	require.False(transitioned)

	valid, transitioned, err = ledger.Verify(txID, Virtual)
	require.NoError(err)
	require.True(valid)
	require.True(transitioned)
}

func TestLedgerRecordTripleRoundTrip(t *testing.T) {
	require := require.New(t)

	ledger := newTestLedger(t)
	txID := ids.GenerateTestID()

	a := []byte("commitment a")
	b := []byte("commitment b")
	c := []byte("commitment c")
	proofID, err := ledger.RecordTriple(txID, a, b, c, []byte("input"), Confirmable)
	require.NoError(err)

	proof, err := ledger.Get(txID, Confirmable)
	require.NoError(err)
	require.Equal(a, proof.A)
	require.Equal(b, proof.B)
	require.Equal(c, proof.C)
	require.Equal(uint64(12345), proof.Timestamp)
	require.Equal(proofID, proof.ID())

	// The digest checker refuses a triple it did not derive.
	valid, transitioned, err := ledger.Verify(txID, Confirmable)
	require.NoError(err)
	require.False(valid)
	require.False(transitioned)
}

func TestRoleString(t *testing.T) {
	require := require.New(t)

	require.Equal("virtual", Virtual.String())
	require.Equal("confirmable", Confirmable.String())
}
