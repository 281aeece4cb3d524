// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package proofs

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/consensys/gnark-crypto/ecc/bn254"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
)

// Wire sizes of bn254 points in gnark's uncompressed encoding.
const (
	g1Len = 64
	g2Len = 128
)

var (
	ErrMalformedProof        = errors.New("malformed groth16 proof")
	ErrMalformedVerifyingKey = errors.New("malformed groth16 verifying key")
	ErrTooManyPublicInputs   = errors.New("too many public inputs for verifying key")
)

// Groth16Proof is a proof over bn254: the commitment triple maps onto the
// curve as A in G1, B in G2, C in G1.
type Groth16Proof struct {
	Ar  bn254.G1Affine
	Bs  bn254.G2Affine
	Krs bn254.G1Affine
}

// Groth16VerifyingKey carries the trusted-setup points needed to verify.
type Groth16VerifyingKey struct {
	Alpha bn254.G1Affine
	Beta  bn254.G2Affine
	Gamma bn254.G2Affine
	Delta bn254.G2Affine
	K     []bn254.G1Affine
}

// Groth16Checker is the production replacement for the digest checker: it
// interprets the commitment triple as curve points and performs the real
// pairing check. It satisfies the Checker contract of being pure and
// deterministic given (verification key, triple, public inputs).
type Groth16Checker struct{}

func (Groth16Checker) Check(vk []byte, a, b, c []byte, publicInputs [][]byte) (bool, error) {
	key, err := ParseVerifyingKey(vk)
	if err != nil {
		return false, err
	}
	if err := key.Validate(); err != nil {
		return false, err
	}

	proof := &Groth16Proof{}
	if err := proof.Ar.Unmarshal(a); err != nil {
		return false, fmt.Errorf("%w: A: %w", ErrMalformedProof, err)
	}
	if err := proof.Bs.Unmarshal(b); err != nil {
		return false, fmt.Errorf("%w: B: %w", ErrMalformedProof, err)
	}
	if err := proof.Krs.Unmarshal(c); err != nil {
		return false, fmt.Errorf("%w: C: %w", ErrMalformedProof, err)
	}

	witness := make([]fr.Element, len(publicInputs))
	for i, inputBytes := range publicInputs {
		witness[i].SetBytes(inputBytes)
	}

	return verifyGroth16Pairing(proof, key, witness)
}

// verifyGroth16Pairing checks e(A, B) == e(alpha, beta) * e(sum_i w_i*K_i, gamma) * e(C, delta).
func verifyGroth16Pairing(proof *Groth16Proof, vk *Groth16VerifyingKey, witness []fr.Element) (bool, error) {
	if len(vk.K) == 0 {
		return false, fmt.Errorf("%w: missing constant K point", ErrMalformedVerifyingKey)
	}
	if len(witness) > len(vk.K)-1 {
		return false, ErrTooManyPublicInputs
	}

	// Linear combination of the public inputs: K[0] is the constant term.
	var publicInputLC bn254.G1Affine
	publicInputLC.Set(&vk.K[0])
	for i, w := range witness {
		var term bn254.G1Affine
		term.ScalarMultiplication(&vk.K[i+1], w.BigInt(nil))
		publicInputLC.Add(&publicInputLC, &term)
	}

	leftSide, err := bn254.Pair([]bn254.G1Affine{proof.Ar}, []bn254.G2Affine{proof.Bs})
	if err != nil {
		return false, fmt.Errorf("pairing A*B failed: %w", err)
	}

	alphaBeta, err := bn254.Pair([]bn254.G1Affine{vk.Alpha}, []bn254.G2Affine{vk.Beta})
	if err != nil {
		return false, fmt.Errorf("pairing alpha*beta failed: %w", err)
	}

	pubGamma, err := bn254.Pair([]bn254.G1Affine{publicInputLC}, []bn254.G2Affine{vk.Gamma})
	if err != nil {
		return false, fmt.Errorf("pairing publicInput*gamma failed: %w", err)
	}

	cDelta, err := bn254.Pair([]bn254.G1Affine{proof.Krs}, []bn254.G2Affine{vk.Delta})
	if err != nil {
		return false, fmt.Errorf("pairing C*delta failed: %w", err)
	}

	var rightSide bn254.GT
	rightSide.Set(&alphaBeta)
	rightSide.Mul(&rightSide, &pubGamma)
	rightSide.Mul(&rightSide, &cDelta)

	return leftSide.Equal(&rightSide), nil
}

// Validate performs subgroup checks on every verifying key point. Keys
// from an untrusted setup must never skip this.
func (vk *Groth16VerifyingKey) Validate() error {
	if !vk.Alpha.IsInSubGroup() {
		return fmt.Errorf("%w: alpha not in G1 subgroup", ErrMalformedVerifyingKey)
	}
	if !vk.Beta.IsInSubGroup() {
		return fmt.Errorf("%w: beta not in G2 subgroup", ErrMalformedVerifyingKey)
	}
	if !vk.Gamma.IsInSubGroup() {
		return fmt.Errorf("%w: gamma not in G2 subgroup", ErrMalformedVerifyingKey)
	}
	if !vk.Delta.IsInSubGroup() {
		return fmt.Errorf("%w: delta not in G2 subgroup", ErrMalformedVerifyingKey)
	}
	for i := range vk.K {
		if !vk.K[i].IsInSubGroup() {
			return fmt.Errorf("%w: K[%d] not in G1 subgroup", ErrMalformedVerifyingKey, i)
		}
	}
	return nil
}

// Bytes serializes the key as Alpha | Beta | Gamma | Delta | numK | K...
func (vk *Groth16VerifyingKey) Bytes() []byte {
	out := make([]byte, 0, g1Len+3*g2Len+4+len(vk.K)*g1Len)
	out = append(out, vk.Alpha.Marshal()...)
	out = append(out, vk.Beta.Marshal()...)
	out = append(out, vk.Gamma.Marshal()...)
	out = append(out, vk.Delta.Marshal()...)
	out = binary.BigEndian.AppendUint32(out, uint32(len(vk.K)))
	for i := range vk.K {
		out = append(out, vk.K[i].Marshal()...)
	}
	return out
}

// ParseVerifyingKey reverses Bytes.
func ParseVerifyingKey(data []byte) (*Groth16VerifyingKey, error) {
	minSize := g1Len + 3*g2Len + 4
	if len(data) < minSize {
		return nil, fmt.Errorf("%w: %d bytes, need at least %d", ErrMalformedVerifyingKey, len(data), minSize)
	}

	vk := &Groth16VerifyingKey{}
	offset := 0

	if err := vk.Alpha.Unmarshal(data[offset : offset+g1Len]); err != nil {
		return nil, fmt.Errorf("%w: alpha: %w", ErrMalformedVerifyingKey, err)
	}
	offset += g1Len

	if err := vk.Beta.Unmarshal(data[offset : offset+g2Len]); err != nil {
		return nil, fmt.Errorf("%w: beta: %w", ErrMalformedVerifyingKey, err)
	}
	offset += g2Len

	if err := vk.Gamma.Unmarshal(data[offset : offset+g2Len]); err != nil {
		return nil, fmt.Errorf("%w: gamma: %w", ErrMalformedVerifyingKey, err)
	}
	offset += g2Len

	if err := vk.Delta.Unmarshal(data[offset : offset+g2Len]); err != nil {
		return nil, fmt.Errorf("%w: delta: %w", ErrMalformedVerifyingKey, err)
	}
	offset += g2Len

	numK := binary.BigEndian.Uint32(data[offset : offset+4])
	offset += 4
	if len(data) < offset+int(numK)*g1Len {
		return nil, fmt.Errorf("%w: truncated K points", ErrMalformedVerifyingKey)
	}

	vk.K = make([]bn254.G1Affine, numK)
	for i := uint32(0); i < numK; i++ {
		if err := vk.K[i].Unmarshal(data[offset : offset+g1Len]); err != nil {
			return nil, fmt.Errorf("%w: K[%d]: %w", ErrMalformedVerifyingKey, i, err)
		}
		offset += g1Len
	}
	return vk, nil
}
