// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package ranging

import "time"

// Scheduler holds the not-before time of the next Start. It never blocks;
// the caller keeps ticking until Ready says go.
type Scheduler struct {
	Period    time.Duration
	notBefore time.Time
	armed     bool
}

// Rearm starts a new idle period at now.
func (s *Scheduler) Rearm(now time.Time) {
	s.notBefore = now.Add(s.Period)
	s.armed = true
}

// Ready reports whether the idle period has elapsed. An unarmed scheduler
// arms itself on the first call, so the very first cycle also waits.
func (s *Scheduler) Ready(now time.Time) bool {
	if !s.armed {
		s.Rearm(now)
	}
	return !now.Before(s.notBefore)
}

// NotBefore is the earliest time the next Start may go out.
func (s *Scheduler) NotBefore() time.Time {
	return s.notBefore
}
