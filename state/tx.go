// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package state

import (
	"github.com/luxfi/ids"
)

// SpeculativeTx is the origin-side record of a transaction admitted before
// on-chain confirmation. Immutable after creation except for proof linkage.
type SpeculativeTx struct {
	Sender          ids.ShortID `serialize:"true" json:"sender"`
	Receiver        ids.ShortID `serialize:"true" json:"receiver"`
	AnticipatedTime uint64      `serialize:"true" json:"anticipatedTime"`
	DataHash        []byte      `serialize:"true" json:"dataHash"`
	IsAssetTransfer bool        `serialize:"true" json:"isAssetTransfer"`
	Sequence        uint64      `serialize:"true" json:"sequence"`
	CreatedAt       uint64      `serialize:"true" json:"createdAt"`
	RBF             RBFParams   `serialize:"true" json:"rbf"`
}

// ConfirmableTx is the confirmed counterpart of a speculative transaction,
// created once the real confirmation is observed. It references exactly one
// speculative transaction.
type ConfirmableTx struct {
	SpeculativeTxID  ids.ID      `serialize:"true" json:"speculativeTxID"`
	Sender           ids.ShortID `serialize:"true" json:"sender"`
	Receiver         ids.ShortID `serialize:"true" json:"receiver"`
	ConfirmationTime uint64      `serialize:"true" json:"confirmationTime"`
	DataHash         []byte      `serialize:"true" json:"dataHash"`
}

// RBFParams carries the interpolation inputs submitted with a speculative
// transaction. Scaled uint256 values travel as big-endian bytes.
type RBFParams struct {
	Beta    []byte     `serialize:"true" json:"beta"`
	Epsilon []byte     `serialize:"true" json:"epsilon"`
	Points  []RBFPoint `serialize:"true" json:"points"`
}

// RBFPoint is one (x, y, lambda) interpolation point.
type RBFPoint struct {
	X      [][]byte `serialize:"true" json:"x"`
	Y      []byte   `serialize:"true" json:"y"`
	Lambda []byte   `serialize:"true" json:"lambda"`
}
