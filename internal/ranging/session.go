// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package ranging

import "time"

// Session is the in-flight state of one exchange attempt. It is reset
// every time the engine returns to StateInit.
type Session struct {
	State    State
	T1, T2   uint64
	T3, T4   uint64
	AnchorID uint8
	Skew     float64 // ppm, from the DataReply reception
	Deadline time.Time
}

func (s *Session) reset() {
	*s = Session{}
}

func (s *Session) arm(now time.Time, budget time.Duration) {
	s.Deadline = now.Add(budget)
}

// expired is true once now has reached the deadline.
func (s *Session) expired(now time.Time) bool {
	return !now.Before(s.Deadline)
}
