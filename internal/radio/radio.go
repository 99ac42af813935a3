// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package radio defines what the ranging engine needs from a UWB transceiver
// and provides two implementations: a simulated pair of anchors and a serial
// bridge to a co-processor running the DW1000 firmware.
package radio

import "errors"

// TickRate is the DW1000 timestamp clock: 499.2 MHz * 128.
const TickRate = 499.2e6 * 128

// SpeedOfLight in m/s.
const SpeedOfLight = 299792458.0

// RangingUnit converts one DW1000 timestamp tick of flight time into metres.
const RangingUnit = SpeedOfLight / TickRate

var ErrClosed = errors.New("radio: closed")

// Radio is the transceiver contract used by the ranging engine.
// All methods must return immediately.
type Radio interface {
	// Transmit queues frame for sending. Completion is reported by HasTransmitSucceeded.
	Transmit(frame []byte) error
	// HasTransmitSucceeded reports and clears the transmit-done flag.
	HasTransmitSucceeded() bool
	// LastTransmitTimestamp is the 40-bit hardware timestamp of the last sent frame.
	LastTransmitTimestamp() uint64
	// LastReceiveTimestamp is the 40-bit hardware timestamp of the last received frame.
	LastReceiveTimestamp() uint64
	// LastReceiveSkew is the clock offset estimate of the last received frame, in ppm.
	LastReceiveSkew() float64

	EnableReceive()
	DisableReceive()

	// FrameAvailable reports and clears the frame-received flag. The receiver
	// stays off after a delivered frame until EnableReceive is called again.
	FrameAvailable() bool
	// Frame returns the bytes of the last received frame.
	Frame() []byte
}
