// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package ranging

import (
	"errors"
	"fmt"
	"math"

	"github.com/relabs-tech/uwb_tag/internal/frame"
	"github.com/relabs-tech/uwb_tag/internal/radio"
)

// DefaultOutlierLimit is the largest believable |ToF| in timer ticks.
const DefaultOutlierLimit = 1000

var ErrOutlier = errors.New("ranging: time of flight out of range")

// Estimator turns the four exchange timestamps into a calibrated distance.
type Estimator struct {
	Unit         float64 // metres per tick of flight time
	OutlierLimit float64
	Calibration  Calibration
}

func DefaultEstimator() Estimator {
	return Estimator{
		Unit:         radio.RangingUnit,
		OutlierLimit: DefaultOutlierLimit,
		Calibration:  DefaultCalibration(),
	}
}

// ToF is the skew-corrected one-way flight time in ticks. skew is the ppm
// offset of the anchor clock measured on the last received frame.
func ToF(t1, t2, t3, t4 uint64, skew float64) float64 {
	d14 := float64(frame.Sub40(t4, t1))
	d23 := float64(frame.Sub40(t3, t2))
	return (d14 - (1+1e-6*skew)*d23) / 2
}

// Measurement is one accepted distance.
type Measurement struct {
	ToF      float64 // ticks
	Raw      float64 // metres, before calibration
	Distance float64 // metres, calibrated
}

// Estimate rejects |tof| >= OutlierLimit and otherwise converts and calibrates.
func (e Estimator) Estimate(tof float64) (Measurement, error) {
	if math.IsNaN(tof) || math.Abs(tof) >= e.OutlierLimit {
		return Measurement{}, fmt.Errorf("%w: %.1f ticks", ErrOutlier, tof)
	}
	raw := tof * e.Unit
	return Measurement{ToF: tof, Raw: raw, Distance: e.Calibration.Apply(raw)}, nil
}
