// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package ranging runs the tag side of UWB two-way ranging.
//
// The Engine is a cooperative state machine: every call to Tick performs at
// most one transition and returns immediately. The only wait is the idle
// period before each Start, expressed as a not-before time in the Scheduler.
// One anchor is ranged per cycle; the latest distance to each of the two
// anchors is kept across cycles and fed to the position solver.
//
// Failures never escape Tick. A timeout, transmit error, outlier or unknown
// anchor ends the cycle and is only visible in Stats and Dropped.
package ranging

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/relabs-tech/uwb_tag/internal/frame"
	"github.com/relabs-tech/uwb_tag/internal/position"
	"github.com/relabs-tech/uwb_tag/internal/radio"
)

// NumAnchors is the number of anchors a tag ranges against.
const NumAnchors = 2

// ErrUnknownAnchor marks a DataReply from an anchor id the tag does not track.
var ErrUnknownAnchor = errors.New("ranging: anchor id out of range")

// Config holds the per-state time budgets.
type Config struct {
	StartTimeout time.Duration
	AckTimeout   time.Duration
	ReplyTimeout time.Duration
	Period       time.Duration // idle time before every Start
}

// DefaultConfig returns the firmware timings: 5/10/20 ms timeouts, 500 ms period.
func DefaultConfig() Config {
	return Config{
		StartTimeout: 5 * time.Millisecond,
		AckTimeout:   10 * time.Millisecond,
		ReplyTimeout: 20 * time.Millisecond,
		Period:       500 * time.Millisecond,
	}
}

// Sample is the latest accepted distance to one anchor.
type Sample struct {
	Measurement
	At    time.Time
	Valid bool
}

// Result describes a cycle that stored a new distance.
type Result struct {
	At       time.Time
	AnchorID uint8
	Skew     float64
	Measurement

	// Samples is the distance table after the update, one entry per anchor.
	Samples [NumAnchors]Sample

	Fix    position.Fix
	FixErr error // non-nil when no position could be derived
}

// Engine runs the tag side of the exchange, one state transition per Tick.
type Engine struct {
	radio radio.Radio
	cfg   Config
	est   Estimator
	geo   position.Geometry

	sched   Scheduler
	sess    Session
	rx      []byte
	samples [NumAnchors]Sample
	fix     position.Fix
	fixErr  error
	dropped error
	stats   Stats
}

// NewEngine returns an engine in the INIT state.
func NewEngine(r radio.Radio, cfg Config, est Estimator, geo position.Geometry) *Engine {
	return &Engine{
		radio:  r,
		cfg:    cfg,
		est:    est,
		geo:    geo,
		sched:  Scheduler{Period: cfg.Period},
		fixErr: position.ErrAwaitingAnchor,
	}
}

func (e *Engine) State() State     { return e.sess.State }
func (e *Engine) Session() Session { return e.sess }
func (e *Engine) Stats() Stats     { return e.stats }

func (e *Engine) Samples() [NumAnchors]Sample { return e.samples }

// Dropped reports why the last exchange that reached extraction stored no
// distance, or nil if it stored one.
func (e *Engine) Dropped() error { return e.dropped }

// Position is the last solved fix, or the reason there is none.
func (e *Engine) Position() (position.Fix, error) {
	return e.fix, e.fixErr
}

// Tick advances the exchange by at most one step. It returns a Result only
// on the tick that stores a new distance.
func (e *Engine) Tick(now time.Time) *Result {
	switch e.sess.State {
	case StateInit:
		if !e.sched.Ready(now) {
			return nil
		}
		e.radio.DisableReceive()
		e.stats.Started++
		if err := e.radio.Transmit(frame.Encode(frame.Start{})); err != nil {
			e.stats.TransmitErrors++
			e.restart(now)
			return nil
		}
		e.sess.arm(now, e.cfg.StartTimeout)
		e.sess.State = StateWaitStartSent

	case StateWaitStartSent:
		if e.sess.expired(now) {
			e.stats.StartTimeouts++
			e.restart(now)
			return nil
		}
		if e.radio.HasTransmitSucceeded() {
			e.sess.State = StateMemoriseT1
		}

	case StateMemoriseT1:
		e.sess.T1 = e.radio.LastTransmitTimestamp() & frame.Mask40
		e.sess.arm(now, e.cfg.AckTimeout)
		e.radio.EnableReceive()
		e.sess.State = StateWaitAck

	case StateWaitAck:
		if e.sess.expired(now) {
			e.stats.AckTimeouts++
			e.restart(now)
			return nil
		}
		if !e.radio.FrameAvailable() {
			return nil
		}
		if frame.PeekType(e.radio.Frame()) == frame.TypeAck {
			e.sess.State = StateMemoriseT4
			return nil
		}
		e.stats.UnexpectedFrames++
		e.radio.EnableReceive()

	case StateMemoriseT4:
		e.sess.T4 = e.radio.LastReceiveTimestamp() & frame.Mask40
		e.sess.arm(now, e.cfg.ReplyTimeout)
		e.radio.EnableReceive()
		e.sess.State = StateWaitDataReply

	case StateWaitDataReply:
		if e.sess.expired(now) {
			e.stats.ReplyTimeouts++
			e.restart(now)
			return nil
		}
		if !e.radio.FrameAvailable() {
			return nil
		}
		b := e.radio.Frame()
		if frame.PeekType(b) == frame.TypeDataReply && len(b) >= frame.DataReplySize {
			e.rx = b
			e.sess.State = StateExtractT2T3
			return nil
		}
		e.stats.UnexpectedFrames++
		e.radio.EnableReceive()

	case StateExtractT2T3:
		res := e.extract(now)
		e.restart(now)
		return res

	default:
		e.restart(now)
	}
	return nil
}

func (e *Engine) extract(now time.Time) *Result {
	msg, err := frame.Decode(e.rx)
	if err != nil {
		e.stats.UnexpectedFrames++
		return nil
	}
	dr := msg.(frame.DataReply)
	e.sess.T2, e.sess.T3, e.sess.AnchorID = dr.T2, dr.T3, dr.AnchorID
	e.sess.Skew = e.radio.LastReceiveSkew()
	e.stats.Completed++

	if int(dr.AnchorID) >= NumAnchors {
		e.stats.UnknownAnchors++
		e.dropped = fmt.Errorf("%w: %d", ErrUnknownAnchor, dr.AnchorID)
		return nil
	}

	m, err := e.est.Estimate(ToF(e.sess.T1, e.sess.T2, e.sess.T3, e.sess.T4, e.sess.Skew))
	if err != nil {
		e.stats.Outliers++
		e.dropped = err
		return nil
	}
	e.dropped = nil
	e.samples[dr.AnchorID] = Sample{Measurement: m, At: now, Valid: true}

	fix, err := e.solve()
	if err != nil {
		e.stats.NoFix++
	} else {
		e.fix = fix
	}
	e.fixErr = err

	return &Result{
		At:          now,
		AnchorID:    dr.AnchorID,
		Skew:        e.sess.Skew,
		Measurement: m,
		Samples:     e.samples,
		Fix:         fix,
		FixErr:      err,
	}
}

func (e *Engine) solve() (position.Fix, error) {
	if !e.samples[0].Valid || !e.samples[1].Valid {
		return position.Fix{}, position.ErrAwaitingAnchor
	}
	return e.geo.Solve(e.samples[0].Distance, e.samples[1].Distance)
}

// restart drops the in-flight exchange and starts the idle period.
func (e *Engine) restart(now time.Time) {
	e.sess.reset()
	e.rx = nil
	e.sched.Rearm(now)
}

// Run ticks the engine every interval until ctx is done and hands each
// Result to emit. emit runs on the caller's goroutine between ticks.
func (e *Engine) Run(ctx context.Context, interval time.Duration, emit func(*Result)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if res := e.Tick(now); res != nil && emit != nil {
				emit(res)
			}
		}
	}
}
