// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package fixedpoint implements deterministic scaled-integer arithmetic.
// Values are unsigned 256-bit integers scaled by Scale (10^18). All
// operations truncate toward zero, so results are identical across
// platforms and runs.
package fixedpoint

import (
	"github.com/holiman/uint256"
)

// Decimals is the number of base-10 digits of precision.
const Decimals = 18

var (
	scale = new(uint256.Int).SetUint64(1_000_000_000_000_000_000)

	two        = new(uint256.Int).SetUint64(2)
	six        = new(uint256.Int).SetUint64(6)
	twentyFour = new(uint256.Int).SetUint64(24)
)

// Scale returns 1.0 in the scaled representation.
func Scale() *uint256.Int {
	return new(uint256.Int).Set(scale)
}

// Scaled returns x * Scale, the scaled representation of the integer x.
func Scaled(x uint64) *uint256.Int {
	z := new(uint256.Int).SetUint64(x)
	return z.Mul(z, scale)
}

// FromUint64 returns x as an unscaled 256-bit integer.
func FromUint64(x uint64) *uint256.Int {
	return new(uint256.Int).SetUint64(x)
}

// Add returns a + b.
//
// Overflow is a caller contract: inputs must stay small enough that the
// sum fits in 256 bits.
func Add(a, b *uint256.Int) *uint256.Int {
	z := new(uint256.Int).Add(a, b)
	return z
}

// SubClamp returns a - b, or zero if b > a.
func SubClamp(a, b *uint256.Int) *uint256.Int {
	if b.Cmp(a) >= 0 {
		return new(uint256.Int)
	}
	return new(uint256.Int).Sub(a, b)
}

// AbsDiff returns |a - b| without a negative intermediate.
func AbsDiff(a, b *uint256.Int) *uint256.Int {
	if a.Cmp(b) >= 0 {
		return new(uint256.Int).Sub(a, b)
	}
	return new(uint256.Int).Sub(b, a)
}

// Min returns the smaller of a and b.
func Min(a, b *uint256.Int) *uint256.Int {
	if a.Cmp(b) <= 0 {
		return new(uint256.Int).Set(a)
	}
	return new(uint256.Int).Set(b)
}

// Mul returns a * b / Scale, the product of two scaled values.
//
// The intermediate product must fit in 256 bits; inputs bounded by a few
// thousand Scale are always safe.
func Mul(a, b *uint256.Int) *uint256.Int {
	z := new(uint256.Int).Mul(a, b)
	return z.Div(z, scale)
}

// Div returns a * Scale / b, the quotient of two scaled values. A zero
// divisor yields zero.
func Div(a, b *uint256.Int) *uint256.Int {
	if b.Sign() == 0 {
		return new(uint256.Int)
	}
	z := new(uint256.Int).Mul(a, scale)
	return z.Div(z, b)
}

// Ratio returns num * Scale / den for unscaled counts. A zero denominator
// yields zero.
func Ratio(num, den uint64) *uint256.Int {
	if den == 0 {
		return new(uint256.Int)
	}
	z := new(uint256.Int).SetUint64(num)
	z.Mul(z, scale)
	return z.Div(z, new(uint256.Int).SetUint64(den))
}

// ExpDecay approximates e^-x with the first five Taylor terms:
//
//	1 - x + x^2/2! - x^3/3! + x^4/4!
//
// The result is exact at x = 0 (it returns Scale) and is monotonically
// decreasing while x stays well below Scale, where truncation error is
// acceptable. Positive and negative terms accumulate separately so no
// intermediate value goes negative; if the negative terms ever exceed the
// positive ones the result saturates at zero.
func ExpDecay(x *uint256.Int) *uint256.Int {
	x2 := Mul(x, x)
	x3 := Mul(x2, x)
	x4 := Mul(x2, x2)

	pos := Scale()
	pos.Add(pos, new(uint256.Int).Div(x2, two))
	pos.Add(pos, new(uint256.Int).Div(x4, twentyFour))

	neg := new(uint256.Int).Set(x)
	neg.Add(neg, new(uint256.Int).Div(x3, six))

	if neg.Cmp(pos) >= 0 {
		return new(uint256.Int)
	}
	return pos.Sub(pos, neg)
}

// ExpGrowth approximates e^x with the first five Taylor terms:
//
//	1 + x + x^2/2! + x^3/3! + x^4/4!
//
// The result is exact at x = 0 (it returns Scale) and is monotonically
// increasing. Callers must bound x well below Scale to keep truncation
// error acceptable.
func ExpGrowth(x *uint256.Int) *uint256.Int {
	x2 := Mul(x, x)
	x3 := Mul(x2, x)
	x4 := Mul(x2, x2)

	z := Scale()
	z.Add(z, x)
	z.Add(z, new(uint256.Int).Div(x2, two))
	z.Add(z, new(uint256.Int).Div(x3, six))
	z.Add(z, new(uint256.Int).Div(x4, twentyFour))
	return z
}
