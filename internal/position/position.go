// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package position turns two anchor distances into a 2D tag position.
//
// Anchor 0 sits at the origin and anchor 1 at (Baseline, 0). Only the
// solution with y >= 0 is reported; a tag on the other side of the
// baseline is mirrored.
package position

import (
	"errors"
	"fmt"
	"math"
)

var (
	ErrDegenerateBaseline = errors.New("position: anchor baseline is zero")
	ErrNoIntersection     = errors.New("position: distance circles do not intersect")
	ErrAwaitingAnchor     = errors.New("position: waiting for both anchor distances")
)

// Geometry is the fixed anchor layout.
type Geometry struct {
	Baseline float64 // x of anchor 1, metres
}

// Fix is a solved tag position in metres.
type Fix struct {
	X, Y float64
}

// Solve intersects the circle of radius d1 around anchor 0 with the circle
// of radius d2 around anchor 1.
func (g Geometry) Solve(d1, d2 float64) (Fix, error) {
	xb := g.Baseline
	if xb == 0 || math.IsNaN(xb) || math.IsInf(xb, 0) {
		return Fix{}, ErrDegenerateBaseline
	}

	xc := (d1*d1 - d2*d2 + xb*xb) / (2 * xb)
	r := d1*d1 - xc*xc

	// Rounding can push a tangent pair slightly below zero.
	if r < 0 {
		if r < -1e-9*math.Max(1, d1*d1) {
			return Fix{}, fmt.Errorf("%w: d1=%.3f d2=%.3f baseline=%.3f", ErrNoIntersection, d1, d2, xb)
		}
		r = 0
	}
	if math.IsNaN(r) {
		return Fix{}, ErrNoIntersection
	}
	return Fix{X: xc, Y: math.Sqrt(r)}, nil
}
