// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package config

import (
	"time"

	"github.com/relabs-tech/uwb_tag/internal/geo"
	"github.com/relabs-tech/uwb_tag/internal/position"
	"github.com/relabs-tech/uwb_tag/internal/radio"
	"github.com/relabs-tech/uwb_tag/internal/ranging"
)

func ms(v int) time.Duration { return time.Duration(v) * time.Millisecond }

// EngineConfig returns the exchange timeouts and cycle period.
func (c *Config) EngineConfig() ranging.Config {
	return ranging.Config{
		StartTimeout: ms(c.TimeoutStartSentMS),
		AckTimeout:   ms(c.TimeoutAckMS),
		ReplyTimeout: ms(c.TimeoutDataReplyMS),
		Period:       ms(c.RangingPeriodMS),
	}
}

func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalUS) * time.Microsecond
}

func (c *Config) StatsInterval() time.Duration { return ms(c.StatsIntervalMS) }

func (c *Config) DisplayInterval() time.Duration { return ms(c.DisplayUpdateInterval) }

func (c *Config) OriginGPSTimeout() time.Duration {
	return time.Duration(c.OriginGPSTimeoutS) * time.Second
}

// Calibration returns the calibration from CALIBRATION_FILE when set,
// otherwise the three CALIBRATION_* values.
func (c *Config) Calibration() (ranging.Calibration, error) {
	if c.CalibrationFile != "" {
		return ranging.LoadCalibration(c.CalibrationFile)
	}
	return ranging.Calibration{
		Threshold: c.CalibrationThreshold,
		Offset:    c.CalibrationOffset,
		Scale:     c.CalibrationScale,
	}, nil
}

func (c *Config) Estimator() (ranging.Estimator, error) {
	cal, err := c.Calibration()
	if err != nil {
		return ranging.Estimator{}, err
	}
	return ranging.Estimator{
		Unit:         c.RangingUnit,
		OutlierLimit: c.OutlierLimit,
		Calibration:  cal,
	}, nil
}

func (c *Config) Geometry() position.Geometry {
	return position.Geometry{Baseline: c.AnchorBaseline}
}

// Origin returns nil when ORIGIN_NMEA is empty.
func (c *Config) Origin() (*geo.Origin, error) {
	if c.OriginNMEA == "" {
		return nil, nil
	}
	o, err := geo.ParseOrigin(c.OriginNMEA, c.BaselineHeadingDeg)
	if err != nil {
		return nil, err
	}
	return &o, nil
}

// SimConfig places two simulated anchors on the configured baseline.
func (c *Config) SimConfig() radio.SimConfig {
	return radio.SimConfig{
		TagX:      c.SimTagX,
		TagY:      c.SimTagY,
		Anchors:   radio.DefaultAnchors(c.AnchorBaseline, c.SimAnchorSkewPPM),
		DropRate:  c.SimDropRate,
		NoiseRate: c.SimNoiseRate,
		Seed:      c.SimSeed,
	}
}
