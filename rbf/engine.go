// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package rbf projects a speculative transaction's expected outcome via
// Gaussian radial-basis-function interpolation over historical points and
// monitors convergence against an explicit tolerance.
package rbf

import (
	"errors"
	"fmt"

	"github.com/holiman/uint256"

	"github.com/luxfi/cache/lru"
	"github.com/luxfi/database"
	"github.com/luxfi/ids"
	"github.com/luxfi/log"

	"github.com/luxfi/relay/fixedpoint"
)

const virtualPointCacheSize = 256

var (
	ErrNoPoints            = errors.New("no interpolation points")
	ErrArrayLengthMismatch = errors.New("array length mismatch")
	ErrInvalidBeta         = errors.New("beta must be a scaled shape coefficient")
	ErrInvalidEpsilon      = errors.New("epsilon must be a positive explicit tolerance")
	ErrNotConverged        = errors.New("interpolation did not converge")
)

// Point is one historical observation: a coordinate vector X, the observed
// outcome Y, and the interpolation weight Lambda. All values are scaled by
// fixedpoint.Scale.
type Point struct {
	X      []*uint256.Int
	Y      *uint256.Int
	Lambda *uint256.Int
}

// NewPoints assembles points from parallel slices, rejecting length skew.
func NewPoints(xs [][]*uint256.Int, ys, lambdas []*uint256.Int) ([]Point, error) {
	if len(xs) != len(ys) || len(xs) != len(lambdas) {
		return nil, fmt.Errorf("%w: %d xs, %d ys, %d lambdas",
			ErrArrayLengthMismatch, len(xs), len(ys), len(lambdas),
		)
	}
	points := make([]Point, len(xs))
	for i := range xs {
		points[i] = Point{X: xs[i], Y: ys[i], Lambda: lambdas[i]}
	}
	return points, nil
}

// SquaredDistance returns sum over axes of |a-b|^2. The per-axis difference
// saturates at zero, so no intermediate value goes negative.
func SquaredDistance(a, b []*uint256.Int) (*uint256.Int, error) {
	if len(a) != len(b) {
		return nil, fmt.Errorf("%w: %d axes vs %d axes", ErrArrayLengthMismatch, len(a), len(b))
	}
	sum := new(uint256.Int)
	for i := range a {
		d := fixedpoint.AbsDiff(a[i], b[i])
		sum = fixedpoint.Add(sum, fixedpoint.Mul(d, d))
	}
	return sum, nil
}

// Interpolate computes, for every point i, the Gaussian RBF projection
//
//	F(x_i) = sum_j lambda_j * expDecay(beta * ||x_i - x_j||^2)
//
// and returns one interpolated value per input point.
func Interpolate(points []Point, beta *uint256.Int) ([]*uint256.Int, error) {
	if len(points) == 0 {
		return nil, ErrNoPoints
	}
	if beta == nil {
		return nil, ErrInvalidBeta
	}
	values := make([]*uint256.Int, len(points))
	for i := range points {
		sum := new(uint256.Int)
		for j := range points {
			d, err := SquaredDistance(points[i].X, points[j].X)
			if err != nil {
				return nil, err
			}
			kernel := fixedpoint.ExpDecay(fixedpoint.Mul(beta, d))
			sum = fixedpoint.Add(sum, fixedpoint.Mul(points[j].Lambda, kernel))
		}
		values[i] = sum
	}
	return values, nil
}

// MonitorConvergence checks every computed value against its reference.
// epsilon is a required explicit tolerance; a nil or zero epsilon is
// rejected rather than silently making convergence unsatisfiable. Returns
// ErrNotConverged as soon as a single point exceeds the tolerance.
func MonitorConvergence(computed, reference []*uint256.Int, epsilon *uint256.Int) error {
	if epsilon == nil || epsilon.Sign() == 0 {
		return ErrInvalidEpsilon
	}
	if len(computed) != len(reference) {
		return fmt.Errorf("%w: %d computed vs %d reference",
			ErrArrayLengthMismatch, len(computed), len(reference),
		)
	}
	for i := range computed {
		if diff := fixedpoint.AbsDiff(computed[i], reference[i]); diff.Cmp(epsilon) > 0 {
			return fmt.Errorf("%w: point %d off by %s", ErrNotConverged, i, diff)
		}
	}
	return nil
}

// Engine computes interpolations and keeps the resulting virtual points,
// keyed by transaction id, for later convergence comparison.
type Engine struct {
	log   log.Logger
	db    database.Database
	cache *lru.Cache[ids.ID, []*uint256.Int]
}

// NewEngine returns an engine persisting virtual points into db. The
// database is assumed to be a dedicated keyspace.
func NewEngine(db database.Database, log log.Logger) *Engine {
	return &Engine{
		log:   log,
		db:    db,
		cache: lru.NewCache[ids.ID, []*uint256.Int](virtualPointCacheSize),
	}
}

// Project interpolates the point set and stores the computed virtual
// points under txID.
func (e *Engine) Project(txID ids.ID, points []Point, beta *uint256.Int) ([]*uint256.Int, error) {
	values, err := Interpolate(points, beta)
	if err != nil {
		return nil, err
	}

	record := &virtualPoints{Values: make([][]byte, len(values))}
	for i, v := range values {
		record.Values[i] = v.Bytes()
	}
	recordBytes, err := Codec.Marshal(codecVersion, record)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize virtual points: %w", err)
	}
	if err := e.db.Put(txID[:], recordBytes); err != nil {
		return nil, err
	}

	e.cache.Put(txID, values)
	e.log.Debug("projected virtual points",
		log.Stringer("txID", txID),
		log.Int("points", len(values)),
	)
	return values, nil
}

// VirtualPoints returns the stored projection for txID, or
// database.ErrNotFound if none was computed.
func (e *Engine) VirtualPoints(txID ids.ID) ([]*uint256.Int, error) {
	if values, ok := e.cache.Get(txID); ok {
		return values, nil
	}

	recordBytes, err := e.db.Get(txID[:])
	if err != nil {
		return nil, err
	}
	record := &virtualPoints{}
	if _, err := Codec.Unmarshal(recordBytes, record); err != nil {
		return nil, fmt.Errorf("failed to deserialize virtual points: %w", err)
	}

	values := make([]*uint256.Int, len(record.Values))
	for i, raw := range record.Values {
		values[i] = new(uint256.Int).SetBytes(raw)
	}
	e.cache.Put(txID, values)
	return values, nil
}
