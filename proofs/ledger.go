// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package proofs stores and compares the pair of cryptographic proofs
// backing a cross-chain transaction: one for the speculative instance and
// one for the confirmable instance. Proof convergence means the two
// commitment triples are bitwise identical.
package proofs

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru"

	"github.com/luxfi/database"
	"github.com/luxfi/ids"
	"github.com/luxfi/log"

	"github.com/luxfi/relay/utils/timer/mockable"
)

const verificationCacheSize = 1024

var (
	ErrAlreadyVerified = errors.New("proof already verified")

	// Commitment derivation is domain separated per component so the
	// three digests can never collide with each other.
	commitmentPrefixA = []byte("relay.proof.a")
	commitmentPrefixB = []byte("relay.proof.b")
)

// Role distinguishes the two proof instances of one transaction.
type Role bool

const (
	Virtual     Role = true
	Confirmable Role = false
)

func (r Role) String() string {
	if r == Virtual {
		return "virtual"
	}
	return "confirmable"
}

// Proof is one stored proof instance: a commitment triple, the time it was
// recorded, and whether verification has succeeded against the ledger's
// verification key.
type Proof struct {
	A         []byte `serialize:"true" json:"a"`
	B         []byte `serialize:"true" json:"b"`
	C         []byte `serialize:"true" json:"c"`
	Input     []byte `serialize:"true" json:"input"`
	Timestamp uint64 `serialize:"true" json:"timestamp"`
	Verified  bool   `serialize:"true" json:"verified"`
}

// ID returns the proof's content-derived identifier.
func (p *Proof) ID() ids.ID {
	h := sha256.New()
	h.Write(p.A)
	h.Write(p.B)
	h.Write(p.C)
	var digest [sha256.Size]byte
	h.Sum(digest[:0])
	id, _ := ids.ToID(digest[:])
	return id
}

// Checker is the substitutable verification seam. A check must be pure
// and deterministic given (verification key, triple, public inputs); the
// default digest checker can be swapped for a real pairing verifier.
type Checker interface {
	Check(vk []byte, a, b, c []byte, publicInputs [][]byte) (bool, error)
}

// digestChecker accepts a triple whose C component is the keyed linkage
// digest of A and B. It stands in for a pairing check while keeping the
// orchestration contract: same key and same triple always give the same
// answer.
type digestChecker struct{}

func (digestChecker) Check(vk []byte, a, b, c []byte, _ [][]byte) (bool, error) {
	return bytes.Equal(linkageDigest(vk, a, b), c), nil
}

func linkageDigest(vk, a, b []byte) []byte {
	h := sha256.New()
	h.Write(vk)
	h.Write(a)
	h.Write(b)
	return h.Sum(nil)
}

// Ledger persists the virtual and confirmable proof for each transaction
// id in separate keyspaces and verifies them against a single verification
// key. Verification results are memoized in an LRU keyed by proof id.
type Ledger struct {
	log     log.Logger
	virtual database.Database
	confirm database.Database
	clock   *mockable.Clock
	vk      []byte
	checker Checker

	verificationCache *lru.Cache

	mu sync.RWMutex
}

// NewLedger builds a ledger over the two proof keyspaces. A nil checker
// selects the digest checker.
func NewLedger(
	virtualDB database.Database,
	confirmableDB database.Database,
	vk []byte,
	checker Checker,
	clock *mockable.Clock,
	log log.Logger,
) (*Ledger, error) {
	cache, err := lru.New(verificationCacheSize)
	if err != nil {
		return nil, err
	}
	if checker == nil {
		checker = digestChecker{}
	}
	return &Ledger{
		log:               log,
		virtual:           virtualDB,
		confirm:           confirmableDB,
		clock:             clock,
		vk:                vk,
		checker:           checker,
		verificationCache: cache,
	}, nil
}

func (l *Ledger) db(role Role) database.Database {
	if role == Virtual {
		return l.virtual
	}
	return l.confirm
}

// Record derives the commitment triple for (input, witness) and stores it
// under txID in the role's keyspace, stamped with the current clock and
// not yet verified. The derivation ignores the role so that a speculative
// and a confirmable proof over identical data produce identical triples.
// Re-recording replaces an unverified proof; a verified proof is final.
func (l *Ledger) Record(txID ids.ID, input, witness []byte, role Role) (ids.ID, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	db := l.db(role)
	if existing, err := l.get(db, txID); err == nil && existing.Verified {
		return ids.Empty, fmt.Errorf("%w: %s proof for %s", ErrAlreadyVerified, role, txID)
	} else if err != nil && err != database.ErrNotFound {
		return ids.Empty, err
	}

	proof := &Proof{
		A:         digest(commitmentPrefixA, input, witness),
		B:         digest(commitmentPrefixB, input, witness),
		Input:     input,
		Timestamp: l.clock.Unix(),
	}
	proof.C = linkageDigest(l.vk, proof.A, proof.B)

	if err := l.put(db, txID, proof); err != nil {
		return ids.Empty, err
	}

	proofID := proof.ID()
	l.log.Debug("recorded proof",
		log.Stringer("txID", txID),
		log.Stringer("proofID", proofID),
		log.String("role", role.String()),
	)
	return proofID, nil
}

// RecordTriple stores a caller-supplied commitment triple, for deployments
// whose checker interprets the triple directly (curve points rather than
// derived digests). The same overwrite rules as Record apply.
func (l *Ledger) RecordTriple(txID ids.ID, a, b, c, input []byte, role Role) (ids.ID, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	db := l.db(role)
	if existing, err := l.get(db, txID); err == nil && existing.Verified {
		return ids.Empty, fmt.Errorf("%w: %s proof for %s", ErrAlreadyVerified, role, txID)
	} else if err != nil && err != database.ErrNotFound {
		return ids.Empty, err
	}

	proof := &Proof{
		A:         a,
		B:         b,
		C:         c,
		Input:     input,
		Timestamp: l.clock.Unix(),
	}
	if err := l.put(db, txID, proof); err != nil {
		return ids.Empty, err
	}
	return proof.ID(), nil
}

// Get returns the stored proof for txID in the given role, or
// database.ErrNotFound.
func (l *Ledger) Get(txID ids.ID, role Role) (*Proof, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.get(l.db(role), txID)
}

// Verify checks the stored proof against the ledger's verification key.
// The check itself is pure; Verify persists the outcome on first success
// and reports transitioned=true exactly once per proof so the caller can
// emit its verification event exactly once.
func (l *Ledger) Verify(txID ids.ID, role Role) (valid bool, transitioned bool, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	db := l.db(role)
	proof, err := l.get(db, txID)
	if err != nil {
		return false, false, err
	}

	proofID := proof.ID()
	if cached, ok := l.verificationCache.Get(proofID); ok {
		valid = cached.(bool)
	} else {
		valid, err = l.checker.Check(l.vk, proof.A, proof.B, proof.C, [][]byte{proof.Input})
		if err != nil {
			return false, false, err
		}
		l.verificationCache.Add(proofID, valid)
	}

	if valid && !proof.Verified {
		proof.Verified = true
		if err := l.put(db, txID, proof); err != nil {
			return false, false, err
		}
		transitioned = true
	}
	return valid, transitioned, nil
}

// Converge reports whether the two proofs carry bitwise-identical
// commitment triples.
func Converge(virtual, confirmable *Proof) bool {
	return bytes.Equal(virtual.A, confirmable.A) &&
		bytes.Equal(virtual.B, confirmable.B) &&
		bytes.Equal(virtual.C, confirmable.C)
}

func (*Ledger) get(db database.Database, txID ids.ID) (*Proof, error) {
	proofBytes, err := db.Get(txID[:])
	if err != nil {
		return nil, err
	}
	proof := &Proof{}
	if _, err := Codec.Unmarshal(proofBytes, proof); err != nil {
		return nil, fmt.Errorf("failed to deserialize proof: %w", err)
	}
	return proof, nil
}

func (*Ledger) put(db database.Database, txID ids.ID, proof *Proof) error {
	proofBytes, err := Codec.Marshal(codecVersion, proof)
	if err != nil {
		return fmt.Errorf("failed to serialize proof: %w", err)
	}
	return db.Put(txID[:], proofBytes)
}

func digest(prefix, input, witness []byte) []byte {
	h := sha256.New()
	h.Write(prefix)
	h.Write(input)
	h.Write(witness)
	return h.Sum(nil)
}
