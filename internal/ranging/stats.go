// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package ranging

// Stats counts how exchanges ended since the engine was created.
type Stats struct {
	Started          uint64 `json:"started"`
	Completed        uint64 `json:"completed"`
	StartTimeouts    uint64 `json:"start_timeouts"`
	AckTimeouts      uint64 `json:"ack_timeouts"`
	ReplyTimeouts    uint64 `json:"reply_timeouts"`
	TransmitErrors   uint64 `json:"transmit_errors"`
	UnexpectedFrames uint64 `json:"unexpected_frames"`
	Outliers         uint64 `json:"outliers"`
	UnknownAnchors   uint64 `json:"unknown_anchors"`
	NoFix            uint64 `json:"no_fix"`
}

// Aborted is the number of exchanges that ended in a timeout or transmit error.
func (s Stats) Aborted() uint64 {
	return s.StartTimeouts + s.AckTimeouts + s.ReplyTimeouts + s.TransmitErrors
}
