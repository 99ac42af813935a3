// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"fmt"
	"io"
	"log"

	serial "github.com/jacobsa/go-serial/serial"

	"github.com/relabs-tech/uwb_tag/internal/config"
	"github.com/relabs-tech/uwb_tag/internal/geo"
)

// surveyOrigin opens the GPS receiver at anchor 0 and averages its fixes
// into the local frame origin.
func surveyOrigin(ctx context.Context, cfg *config.Config) (*geo.Origin, error) {
	// NOTE: adjust ORIGIN_GPS_PORT to match your setup: /dev/serial0, /dev/ttyAMA0, /dev/ttyUSB0, etc.
	serialOpts := serial.OpenOptions{
		PortName:              cfg.OriginGPSPort,
		BaudRate:              cfg.OriginGPSBaudRate,
		DataBits:              8,
		StopBits:              1,
		MinimumReadSize:       1,
		ParityMode:            serial.PARITY_NONE,
		InterCharacterTimeout: 0,
	}

	port, err := serial.Open(serialOpts)
	if err != nil {
		return nil, fmt.Errorf("open GPS %s: %w", serialOpts.PortName, err)
	}
	log.Printf("tag: GPS serial port opened on %s at %d baud, averaging %d fixes",
		serialOpts.PortName, serialOpts.BaudRate, cfg.OriginGPSFixes)

	ctx, cancel := context.WithTimeout(ctx, cfg.OriginGPSTimeout())
	defer cancel()
	return surveyFrom(ctx, port, cfg.BaselineHeadingDeg, cfg.OriginGPSFixes)
}

// surveyFrom reads fixes from rc until n are collected or ctx is done, and
// always closes rc.
func surveyFrom(ctx context.Context, rc io.ReadCloser, headingDeg float64, n int) (*geo.Origin, error) {
	type result struct {
		origin geo.Origin
		err    error
	}
	done := make(chan result, 1)
	go func() {
		o, err := geo.ReadOrigin(rc, headingDeg, n)
		done <- result{o, err}
	}()

	select {
	case r := <-done:
		_ = rc.Close()
		if r.err != nil {
			return nil, r.err
		}
		return &r.origin, nil
	case <-ctx.Done():
		// Closing unblocks the pending read.
		_ = rc.Close()
		return nil, fmt.Errorf("GPS survey: %w", ctx.Err())
	}
}
