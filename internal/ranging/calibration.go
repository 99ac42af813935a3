// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package ranging

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"time"
)

// Calibration is the two-segment bias correction applied to every raw
// distance: above Threshold a fixed Offset is subtracted, at or below it the
// distance is multiplied by Scale.
type Calibration struct {
	Threshold float64 `json:"threshold"`
	Offset    float64 `json:"offset"`
	Scale     float64 `json:"scale"`
}

// DefaultCalibration is the fit measured on the reference bench.
func DefaultCalibration() Calibration {
	return Calibration{Threshold: 1.5, Offset: 0.2, Scale: 0.9}
}

func (c Calibration) Apply(d float64) float64 {
	if d > c.Threshold {
		return d - c.Offset
	}
	return d * c.Scale
}

// CalibrationPoint pairs a tape-measured distance with the raw
// (uncalibrated) distance the radio reported at that spot.
type CalibrationPoint struct {
	True float64 `json:"true_m"`
	Raw  float64 `json:"raw_m"`
}

var ErrNoCalibrationPoints = errors.New("ranging: no calibration points")

// FitCalibration fits Offset over points whose raw distance is above
// base.Threshold (mean of raw-true) and Scale over the rest (least squares
// through the origin). A segment with no points keeps base's value.
func FitCalibration(points []CalibrationPoint, base Calibration) (Calibration, error) {
	if len(points) == 0 {
		return base, ErrNoCalibrationPoints
	}

	out := base
	var (
		offSum float64
		offN   int
		tr, rr float64
		scaleN int
	)
	for _, p := range points {
		if math.IsNaN(p.Raw) || math.IsNaN(p.True) {
			continue
		}
		if p.Raw > base.Threshold {
			offSum += p.Raw - p.True
			offN++
			continue
		}
		tr += p.True * p.Raw
		rr += p.Raw * p.Raw
		scaleN++
	}

	if offN > 0 {
		out.Offset = offSum / float64(offN)
	}
	if scaleN > 0 && rr > 0 {
		out.Scale = tr / rr
	}
	if offN == 0 && scaleN == 0 {
		return base, ErrNoCalibrationPoints
	}
	return out, nil
}

// CalibrationFile is the on-disk form written by the guided calibration tool.
type CalibrationFile struct {
	SchemaVersion int                `json:"schema_version"`
	CalibrationAt string             `json:"calibration_at"` // RFC3339
	Calibration   Calibration        `json:"calibration"`
	Points        []CalibrationPoint `json:"points,omitempty"`
	Residual      float64            `json:"rms_residual_m"`
}

// NewCalibrationFile stamps c and its source points, computing the RMS error
// of the fitted curve over those points.
func NewCalibrationFile(c Calibration, points []CalibrationPoint, at time.Time) CalibrationFile {
	var sum float64
	for _, p := range points {
		e := c.Apply(p.Raw) - p.True
		sum += e * e
	}
	var rms float64
	if len(points) > 0 {
		rms = math.Sqrt(sum / float64(len(points)))
	}
	return CalibrationFile{
		SchemaVersion: 1,
		CalibrationAt: at.Format(time.RFC3339),
		Calibration:   c,
		Points:        points,
		Residual:      rms,
	}
}

// Save writes f as indented JSON.
func (f CalibrationFile) Save(path string) error {
	b, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return fmt.Errorf("write calibration %s: %w", path, err)
	}
	return nil
}

// LoadCalibration reads a file written by Save.
func LoadCalibration(path string) (Calibration, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Calibration{}, fmt.Errorf("read calibration %s: %w", path, err)
	}
	var f CalibrationFile
	if err := json.Unmarshal(b, &f); err != nil {
		return Calibration{}, fmt.Errorf("parse calibration %s: %w", path, err)
	}
	if f.Calibration.Scale <= 0 {
		return Calibration{}, fmt.Errorf("calibration %s: scale must be > 0, got %v", path, f.Calibration.Scale)
	}
	return f.Calibration, nil
}
