// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package merkle

import (
	"bytes"
	"crypto/sha256"
	"errors"
)

var (
	ErrNoLeaves        = errors.New("merkle tree needs at least one leaf")
	ErrIndexOutOfRange = errors.New("leaf index out of range")
)

// Tree is a binary Merkle tree over an ordered list of leaves. Leaves are
// hashed with sha256, interior nodes hash the concatenation of their
// children, and an odd node at any level is promoted unchanged to the
// level above.
type Tree struct {
	// levels[0] holds the leaf hashes, the last level holds only the root.
	levels [][][]byte
}

// NewTree hashes the leaves and builds every interior level up to the root.
func NewTree(leaves [][]byte) (*Tree, error) {
	if len(leaves) == 0 {
		return nil, ErrNoLeaves
	}

	level := make([][]byte, len(leaves))
	for i, leaf := range leaves {
		leafHash := sha256.Sum256(leaf)
		level[i] = leafHash[:]
	}

	levels := [][][]byte{level}
	for len(level) > 1 {
		next := make([][]byte, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			if i+1 == len(level) {
				next = append(next, level[i])
				continue
			}
			next = append(next, hashPair(level[i], level[i+1]))
		}
		levels = append(levels, next)
		level = next
	}
	return &Tree{levels: levels}, nil
}

// Root returns the tree's root hash.
func (t *Tree) Root() []byte {
	top := t.levels[len(t.levels)-1]
	return top[0]
}

// Len returns the number of leaves.
func (t *Tree) Len() int {
	return len(t.levels[0])
}

// ProofStep is one sibling on the path from a leaf to the root. Left
// reports whether the sibling sits to the left of the running hash.
type ProofStep struct {
	Hash []byte `serialize:"true" json:"hash"`
	Left bool   `serialize:"true" json:"left"`
}

// InclusionProof returns the sibling path for the leaf at index. Levels
// where the node was promoted without a sibling contribute no step.
func (t *Tree) InclusionProof(index int) ([]ProofStep, error) {
	if index < 0 || index >= len(t.levels[0]) {
		return nil, ErrIndexOutOfRange
	}

	var proof []ProofStep
	for _, level := range t.levels[:len(t.levels)-1] {
		if index%2 == 0 {
			if index+1 < len(level) {
				proof = append(proof, ProofStep{Hash: level[index+1]})
			}
		} else {
			proof = append(proof, ProofStep{Hash: level[index-1], Left: true})
		}
		index /= 2
	}
	return proof, nil
}

// Verify recomputes the root from a raw leaf and its sibling path and
// compares it to the expected root.
func Verify(root, leaf []byte, proof []ProofStep) bool {
	leafHash := sha256.Sum256(leaf)
	current := leafHash[:]
	for _, step := range proof {
		if len(step.Hash) != sha256.Size {
			return false
		}
		if step.Left {
			current = hashPair(step.Hash, current)
		} else {
			current = hashPair(current, step.Hash)
		}
	}
	return bytes.Equal(current, root)
}

// hashPair hashes two nodes together using SHA-256.
func hashPair(left, right []byte) []byte {
	h := sha256.New()
	h.Write(left)
	h.Write(right)
	return h.Sum(nil)
}
