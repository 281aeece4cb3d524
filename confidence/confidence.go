// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package confidence combines sender reputation, transaction pattern
// regularity, proof verification outcome, and network load into one
// weighted score on a 0-1000 scale. The component formulas and constants
// here are normative; changing them breaks score parity with peers.
package confidence

import (
	"github.com/holiman/uint256"

	"github.com/luxfi/relay/fixedpoint"
)

// Weights of the composite score. They sum to 1000, the score ceiling.
const (
	WeightSender  = 300
	WeightPattern = 200
	WeightZK      = 300
	WeightNetwork = 200

	// MinConfidence is the admission floor applied by validation.
	MinConfidence = 700

	// ZKTimeThresholdSeconds is the verification latency under which the
	// time component of the zk score stays at 1.0.
	ZKTimeThresholdSeconds = 10
)

// Component constants, scaled by fixedpoint.Scale.
var (
	senderAlpha     = fixedpoint.FromUint64(600_000_000_000_000_000) // 0.6
	senderBeta      = fixedpoint.FromUint64(400_000_000_000_000_000) // 0.4
	senderDecayRate = fixedpoint.FromUint64(100_000_000_000_000_000) // 0.1

	patternGamma = fixedpoint.FromUint64(800_000_000_000_000_000) // 0.8

	zkDelta    = fixedpoint.FromUint64(800_000_000_000_000_000) // 0.8
	zkTimeRate = fixedpoint.FromUint64(100_000_000_000_000_000) // 0.1

	networkSensitivity = fixedpoint.FromUint64(50_000_000_000_000_000)  // 0.05
	networkOptimalLoad = fixedpoint.FromUint64(700_000_000_000_000_000) // 0.7
)

// SenderReputation scores a sender from its success ratio and an
// exponential decay over failed attempts:
//
//	0.6*(successes/total) + 0.4*expDecay(0.1*failedAttempts)
//
// A sender with no history scores zero.
func SenderReputation(successes, total, failedAttempts uint64) *uint256.Int {
	if total == 0 {
		return new(uint256.Int)
	}
	rate := fixedpoint.Ratio(successes, total)
	decay := fixedpoint.ExpDecay(fixedpoint.Mul(senderDecayRate, fixedpoint.Scaled(failedAttempts)))
	return fixedpoint.Add(
		fixedpoint.Mul(senderAlpha, rate),
		fixedpoint.Mul(senderBeta, decay),
	)
}

// TransactionPattern scores how closely a transaction frequency tracks the
// sender's historical distribution:
//
//	0.8*expDecay((freq-mean)^2 / (2*variance))
//
// Zero variance means there is no distribution to deviate from; the score
// is neutral (1.0).
func TransactionPattern(freq, mean, variance *uint256.Int) *uint256.Int {
	if variance.Sign() == 0 {
		return fixedpoint.Scale()
	}
	d := fixedpoint.AbsDiff(freq, mean)
	exponent := fixedpoint.Div(
		fixedpoint.Mul(d, d),
		fixedpoint.Mul(fixedpoint.Scaled(2), variance),
	)
	return fixedpoint.Mul(patternGamma, fixedpoint.ExpDecay(exponent))
}

// ZKScore scores the proof verification outcome. An invalid proof scores
// zero. A valid proof earns a 0.8 base plus a 0.2 share of a latency
// component that is 1.0 up to the 10s threshold and decays as
// 1/(1+expGrowth(0.1*(t-10))) beyond it.
func ZKScore(valid bool, verificationSeconds uint64) *uint256.Int {
	if !valid {
		return new(uint256.Int)
	}

	timeScore := fixedpoint.Scale()
	if verificationSeconds > ZKTimeThresholdSeconds {
		overrun := fixedpoint.Scaled(verificationSeconds - ZKTimeThresholdSeconds)
		growth := fixedpoint.ExpGrowth(fixedpoint.Mul(zkTimeRate, overrun))
		timeScore = fixedpoint.Div(
			fixedpoint.Scale(),
			fixedpoint.Add(fixedpoint.Scale(), growth),
		)
	}

	base := fixedpoint.Mul(zkDelta, fixedpoint.Scale())
	remainder := fixedpoint.SubClamp(fixedpoint.Scale(), zkDelta)
	return fixedpoint.Add(base, fixedpoint.Mul(remainder, timeScore))
}

// NetworkScore scores current network load. Saturated networks (load at or
// above 1.0) score zero; otherwise the remaining headroom is discounted by
// a factor that penalizes distance from the optimal load point:
//
//	min(1.0, (1.0-load) * 1/(1+expGrowth(0.05*|load-0.7|)))
func NetworkScore(load *uint256.Int) *uint256.Int {
	scale := fixedpoint.Scale()
	if load.Cmp(scale) >= 0 {
		return new(uint256.Int)
	}

	diff := fixedpoint.AbsDiff(load, networkOptimalLoad)
	growth := fixedpoint.ExpGrowth(fixedpoint.Mul(networkSensitivity, diff))
	loadFactor := fixedpoint.Div(scale, fixedpoint.Add(scale, growth))

	headroom := fixedpoint.SubClamp(scale, load)
	return fixedpoint.Min(scale, fixedpoint.Mul(headroom, loadFactor))
}

// Validation sub-score weights used by the transaction validator.
const (
	WeightTimeliness    = 300
	WeightProofMatch    = 400
	WeightValidMetadata = 300
)

// ValidationScore computes the validator's admission score. diffSeconds is
// the spacing between the confirmable and virtual proof timestamps,
// timeoutSeconds the validation deadline. Timeliness scales linearly from
// 300 at zero spacing down to 0 at the deadline; converged proofs add 400
// and valid metadata adds 300.
func ValidationScore(diffSeconds, timeoutSeconds uint64, proofsMatch, metadataValid bool) uint64 {
	var score uint64
	if timeoutSeconds > 0 && diffSeconds < timeoutSeconds {
		score = WeightTimeliness * (timeoutSeconds - diffSeconds) / timeoutSeconds
	}
	if proofsMatch {
		score += WeightProofMatch
	}
	if metadataValid {
		score += WeightValidMetadata
	}
	return score
}

// Composite folds the four component scores, each in [0, Scale], into the
// final 0-1000 admission score.
func Composite(sender, pattern, zk, network *uint256.Int) uint64 {
	acc := new(uint256.Int)
	acc.Add(acc, new(uint256.Int).Mul(sender, fixedpoint.FromUint64(WeightSender)))
	acc.Add(acc, new(uint256.Int).Mul(pattern, fixedpoint.FromUint64(WeightPattern)))
	acc.Add(acc, new(uint256.Int).Mul(zk, fixedpoint.FromUint64(WeightZK)))
	acc.Add(acc, new(uint256.Int).Mul(network, fixedpoint.FromUint64(WeightNetwork)))
	return acc.Div(acc, fixedpoint.Scale()).Uint64()
}
