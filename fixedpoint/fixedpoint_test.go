// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package fixedpoint

import (
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"
)

func TestExpExactAtZero(t *testing.T) {
	require := require.New(t)

	zero := new(uint256.Int)
	require.Equal(*Scale(), *ExpDecay(zero))
	require.Equal(*Scale(), *ExpGrowth(zero))
}

func TestExpDecayKnownValue(t *testing.T) {
	require := require.New(t)

	// decay(1.0) = 1 - 1 + 1/2 - 1/6 + 1/24 = 0.375
	got := ExpDecay(Scale())
	require.Equal(uint64(375_000_000_000_000_000), got.Uint64())
}

func TestExpGrowthKnownValue(t *testing.T) {
	require := require.New(t)

	// growth(1.0) = 1 + 1 + 1/2 + 1/6 + 1/24 with floor division
	got := ExpGrowth(Scale())
	require.Equal(uint64(2_708_333_333_333_333_332), got.Uint64())
}

func TestExpDecayMonotonicDecreasing(t *testing.T) {
	require := require.New(t)

	step := new(uint256.Int).SetUint64(100_000_000_000_000_000) // 0.1
	prev := ExpDecay(new(uint256.Int))
	x := new(uint256.Int)
	for i := 0; i < 10; i++ {
		x = Add(x, step)
		cur := ExpDecay(x)
		require.Equal(-1, cur.Cmp(prev), "decay must strictly decrease at step %d", i)
		prev = cur
	}
}

func TestExpGrowthMonotonicIncreasing(t *testing.T) {
	require := require.New(t)

	step := new(uint256.Int).SetUint64(100_000_000_000_000_000) // 0.1
	prev := ExpGrowth(new(uint256.Int))
	x := new(uint256.Int)
	for i := 0; i < 10; i++ {
		x = Add(x, step)
		cur := ExpGrowth(x)
		require.Equal(1, cur.Cmp(prev), "growth must strictly increase at step %d", i)
		prev = cur
	}
}

func TestMul(t *testing.T) {
	require := require.New(t)

	require.Equal(*Scaled(6), *Mul(Scaled(3), Scaled(2)))
	require.Equal(*new(uint256.Int), *Mul(Scaled(3), new(uint256.Int)))

	// 0.5 * 0.5 = 0.25
	half := new(uint256.Int).SetUint64(500_000_000_000_000_000)
	require.Equal(uint64(250_000_000_000_000_000), Mul(half, half).Uint64())
}

func TestDiv(t *testing.T) {
	require := require.New(t)

	// 3 / 2 = 1.5
	require.Equal(uint64(1_500_000_000_000_000_000), Div(Scaled(3), Scaled(2)).Uint64())

	// division by zero is total and yields zero
	require.Equal(*new(uint256.Int), *Div(Scaled(3), new(uint256.Int)))
}

func TestRatio(t *testing.T) {
	require := require.New(t)

	// 3/4 = 0.75
	require.Equal(uint64(750_000_000_000_000_000), Ratio(3, 4).Uint64())
	require.Equal(*new(uint256.Int), *Ratio(3, 0))
	require.Equal(*Scale(), *Ratio(7, 7))
}

func TestAbsDiff(t *testing.T) {
	require := require.New(t)

	require.Equal(*Scaled(2), *AbsDiff(Scaled(5), Scaled(3)))
	require.Equal(*Scaled(2), *AbsDiff(Scaled(3), Scaled(5)))
	require.Equal(*new(uint256.Int), *AbsDiff(Scaled(4), Scaled(4)))
}

func TestSubClamp(t *testing.T) {
	require := require.New(t)

	require.Equal(*Scaled(1), *SubClamp(Scaled(3), Scaled(2)))
	require.Equal(*new(uint256.Int), *SubClamp(Scaled(2), Scaled(3)))
	require.Equal(*new(uint256.Int), *SubClamp(Scaled(2), Scaled(2)))
}

func TestMin(t *testing.T) {
	require := require.New(t)

	require.Equal(*Scaled(2), *Min(Scaled(2), Scaled(3)))
	require.Equal(*Scaled(2), *Min(Scaled(3), Scaled(2)))
}
