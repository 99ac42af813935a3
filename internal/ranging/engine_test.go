// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package ranging

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/relabs-tech/uwb_tag/internal/frame"
	"github.com/relabs-tech/uwb_tag/internal/position"
	"github.com/relabs-tech/uwb_tag/internal/radio"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

type reply struct {
	data []byte
	ts   uint64
}

// fakeRadio confirms every transmit on the next poll and answers each Start
// with whatever respond returns. Frames are only delivered while the
// receiver is enabled, and delivery turns it off.
type fakeRadio struct {
	txTS     uint64
	noTxDone bool
	txErr    error
	skew     float64
	respond  func(start int) []reply

	starts    int
	txPending bool
	rxEnabled bool
	queue     []reply
	cur       reply
	disables  int
}

func (f *fakeRadio) Transmit(b []byte) error {
	if f.txErr != nil {
		return f.txErr
	}
	f.txPending = !f.noTxDone
	if frame.PeekType(b) == frame.TypeStart {
		if f.respond != nil {
			f.queue = append(f.queue, f.respond(f.starts)...)
		}
		f.starts++
	}
	return nil
}

func (f *fakeRadio) HasTransmitSucceeded() bool {
	ok := f.txPending
	f.txPending = false
	return ok
}

func (f *fakeRadio) LastTransmitTimestamp() uint64 { return f.txTS }
func (f *fakeRadio) LastReceiveTimestamp() uint64  { return f.cur.ts }
func (f *fakeRadio) LastReceiveSkew() float64      { return f.skew }
func (f *fakeRadio) EnableReceive()                { f.rxEnabled = true }

func (f *fakeRadio) DisableReceive() {
	f.rxEnabled = false
	f.queue = nil
	f.disables++
}

func (f *fakeRadio) FrameAvailable() bool {
	if !f.rxEnabled || len(f.queue) == 0 {
		return false
	}
	f.cur = f.queue[0]
	f.queue = f.queue[1:]
	f.rxEnabled = false
	return true
}

func (f *fakeRadio) Frame() []byte { return f.cur.data }

// exchangeReplies answers with an Ack at t4 and a DataReply carrying t2/t3.
func exchangeReplies(t4, t2, t3 uint64, anchor uint8) []reply {
	return []reply{
		{data: frame.Encode(frame.Ack{}), ts: t4},
		{data: frame.Encode(frame.DataReply{T2: t2, T3: t3, AnchorID: anchor}), ts: t4 + 1000},
	}
}

func identityEstimator(unit float64) Estimator {
	return Estimator{
		Unit:         unit,
		OutlierLimit: DefaultOutlierLimit,
		Calibration:  Calibration{Threshold: math.Inf(1), Scale: 1},
	}
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Period = 50 * time.Millisecond
	return cfg
}

// runFor ticks every step until d has elapsed and collects every Result and
// the state after each tick.
func runFor(e *Engine, clk *fakeClock, d, step time.Duration) ([]*Result, []State) {
	var results []*Result
	var states []State
	end := clk.Now().Add(d)
	for clk.Now().Before(end) {
		if res := e.Tick(clk.Now()); res != nil {
			results = append(results, res)
		}
		states = append(states, e.State())
		clk.Advance(step)
	}
	return results, states
}

func TestEngineLiveness(t *testing.T) {
	clk := &fakeClock{t: time.Unix(100, 0)}
	r := &fakeRadio{
		txTS: 100,
		respond: func(int) []reply {
			return exchangeReplies(250, 130, 190, 0)
		},
	}
	e := NewEngine(r, testConfig(), DefaultEstimator(), position.Geometry{Baseline: 1})

	results, states := runFor(e, clk, 170*time.Millisecond, time.Millisecond)

	var extracts int
	for _, s := range states {
		if s == StateExtractT2T3 {
			extracts++
		}
	}
	if extracts != 3 {
		t.Errorf("EXTRACT_T2_T3 seen %d times, want 3", extracts)
	}
	if len(results) != 3 {
		t.Errorf("got %d results, want 3", len(results))
	}
	st := e.Stats()
	if st.Started != 3 || st.Completed != 3 || st.Aborted() != 0 {
		t.Errorf("stats = %+v", st)
	}

	// One full cycle, in order, back to INIT.
	want := []State{
		StateWaitStartSent, StateMemoriseT1, StateWaitAck, StateMemoriseT4,
		StateWaitDataReply, StateExtractT2T3, StateInit,
	}
	start := -1
	for i, s := range states {
		if s == StateWaitStartSent {
			start = i
			break
		}
	}
	if start < 0 || start+len(want) > len(states) {
		t.Fatalf("no complete cycle in %v", states)
	}
	for i, w := range want {
		if got := states[start+i]; got != w {
			t.Errorf("step %d: state %v, want %v", i, got, w)
		}
	}
}

func TestEngineWaitsIdlePeriodBeforeFirstStart(t *testing.T) {
	clk := &fakeClock{t: time.Unix(0, 0)}
	r := &fakeRadio{}
	cfg := testConfig()
	e := NewEngine(r, cfg, DefaultEstimator(), position.Geometry{Baseline: 1})

	start := clk.Now()
	for r.starts == 0 {
		e.Tick(clk.Now())
		if r.starts > 0 {
			break
		}
		clk.Advance(time.Millisecond)
	}
	if elapsed := clk.Now().Sub(start); elapsed < cfg.Period {
		t.Errorf("first Start after %v, want >= %v", elapsed, cfg.Period)
	}
	if r.disables != 1 {
		t.Errorf("DisableReceive called %d times before Start, want 1", r.disables)
	}
}

func TestEngineEndToEnd(t *testing.T) {
	clk := &fakeClock{t: time.Unix(0, 0)}
	r := &fakeRadio{
		txTS: 100,
		respond: func(int) []reply {
			return exchangeReplies(250, 130, 190, 0)
		},
	}
	est := DefaultEstimator()
	est.Unit = 1.6 / 45
	e := NewEngine(r, testConfig(), est, position.Geometry{Baseline: 1})

	results, _ := runFor(e, clk, 60*time.Millisecond, time.Millisecond)
	if len(results) != 1 {
		t.Fatalf("got %d results, want 1", len(results))
	}
	res := results[0]
	if res.ToF != 45 {
		t.Errorf("ToF = %v, want 45", res.ToF)
	}
	if math.Abs(res.Distance-1.4) > 1e-12 {
		t.Errorf("Distance = %v, want 1.4", res.Distance)
	}
	if res.AnchorID != 0 || !res.Samples[0].Valid || res.Samples[1].Valid {
		t.Errorf("samples = %+v", res.Samples)
	}
	if !errors.Is(res.FixErr, position.ErrAwaitingAnchor) {
		t.Errorf("FixErr = %v, want ErrAwaitingAnchor", res.FixErr)
	}
	sess := e.Session()
	if sess.State != StateInit || sess.T1 != 0 {
		t.Errorf("session not reset after cycle: %+v", sess)
	}
}

func TestEngineStartTimeout(t *testing.T) {
	clk := &fakeClock{t: time.Unix(0, 0)}
	r := &fakeRadio{noTxDone: true}
	cfg := testConfig()
	e := NewEngine(r, cfg, DefaultEstimator(), position.Geometry{Baseline: 1})

	for r.starts == 0 {
		e.Tick(clk.Now())
		clk.Advance(100 * time.Microsecond)
	}
	sent := clk.Now().Add(-100 * time.Microsecond)
	if e.State() != StateWaitStartSent {
		t.Fatalf("state after Start = %v", e.State())
	}

	for e.State() == StateWaitStartSent {
		if clk.Now().Sub(sent) > cfg.StartTimeout {
			t.Fatalf("still waiting %v after Start", clk.Now().Sub(sent))
		}
		e.Tick(clk.Now())
		clk.Advance(100 * time.Microsecond)
	}
	if e.State() != StateInit {
		t.Errorf("state = %v, want INIT", e.State())
	}
	if e.Stats().StartTimeouts != 1 {
		t.Errorf("StartTimeouts = %d, want 1", e.Stats().StartTimeouts)
	}
}

func TestEngineAborts(t *testing.T) {
	tests := []struct {
		name  string
		radio *fakeRadio
		check func(Stats) uint64
	}{
		{
			name:  "no ack",
			radio: &fakeRadio{},
			check: func(s Stats) uint64 { return s.AckTimeouts },
		},
		{
			name: "no data reply",
			radio: &fakeRadio{respond: func(int) []reply {
				return []reply{{data: frame.Encode(frame.Ack{}), ts: 5}}
			}},
			check: func(s Stats) uint64 { return s.ReplyTimeouts },
		},
		{
			name:  "transmit error",
			radio: &fakeRadio{txErr: errors.New("spi busy")},
			check: func(s Stats) uint64 { return s.TransmitErrors },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clk := &fakeClock{t: time.Unix(0, 0)}
			e := NewEngine(tt.radio, testConfig(), DefaultEstimator(), position.Geometry{Baseline: 1})

			results, _ := runFor(e, clk, 90*time.Millisecond, time.Millisecond)
			if len(results) != 0 {
				t.Errorf("got %d results, want 0", len(results))
			}
			if got := tt.check(e.Stats()); got != 1 {
				t.Errorf("abort counter = %d, want 1 (stats %+v)", got, e.Stats())
			}
			if e.Stats().Completed != 0 {
				t.Errorf("Completed = %d", e.Stats().Completed)
			}
		})
	}
}

func TestEngineSkipsUnexpectedFrames(t *testing.T) {
	clk := &fakeClock{t: time.Unix(0, 0)}
	r := &fakeRadio{
		txTS: 100,
		respond: func(int) []reply {
			return []reply{
				{data: frame.Encode(frame.Start{}), ts: 1},
				{data: frame.Encode(frame.Ack{}), ts: 250},
				{data: frame.Encode(frame.Ack{}), ts: 2},
				{data: []byte{byte(frame.TypeDataReply), 1, 2}, ts: 3},
				{data: frame.Encode(frame.DataReply{T2: 130, T3: 190}), ts: 4},
			}
		},
	}
	est := DefaultEstimator()
	est.Unit = 1.6 / 45
	e := NewEngine(r, testConfig(), est, position.Geometry{Baseline: 1})

	results, _ := runFor(e, clk, 60*time.Millisecond, time.Millisecond)
	if len(results) != 1 {
		t.Fatalf("got %d results, want 1", len(results))
	}
	if results[0].ToF != 45 {
		t.Errorf("ToF = %v, want 45: t4 must come from the Ack", results[0].ToF)
	}
	if got := e.Stats().UnexpectedFrames; got != 3 {
		t.Errorf("UnexpectedFrames = %d, want 3", got)
	}
}

func TestEngineOutlierLeavesStateUnchanged(t *testing.T) {
	clk := &fakeClock{t: time.Unix(0, 0)}
	r := &fakeRadio{
		respond: func(n int) []reply {
			switch n {
			case 0:
				return exchangeReplies(1060, 0, 60, 0)
			case 1:
				return exchangeReplies(1060, 0, 60, 1)
			default:
				// d14 - d23 = 2000 ticks: tof = 1000, at the limit.
				return exchangeReplies(2060, 0, 60, 0)
			}
		},
	}
	e := NewEngine(r, testConfig(), identityEstimator(0.01), position.Geometry{Baseline: 6})

	results, _ := runFor(e, clk, 115*time.Millisecond, time.Millisecond)
	if len(results) != 2 {
		t.Fatalf("got %d results before outlier, want 2", len(results))
	}
	samples := e.Samples()
	fix, err := e.Position()

	runFor(e, clk, 60*time.Millisecond, time.Millisecond)
	if e.Stats().Outliers != 1 {
		t.Fatalf("Outliers = %d, want 1", e.Stats().Outliers)
	}
	if !errors.Is(e.Dropped(), ErrOutlier) {
		t.Errorf("Dropped() = %v, want %v", e.Dropped(), ErrOutlier)
	}
	if e.Samples() != samples {
		t.Errorf("samples changed by outlier: %+v -> %+v", samples, e.Samples())
	}
	fix2, err2 := e.Position()
	if fix2 != fix || err2 != err {
		t.Errorf("position changed by outlier: %+v/%v -> %+v/%v", fix, err, fix2, err2)
	}
}

func TestEnginePosition(t *testing.T) {
	clk := &fakeClock{t: time.Unix(0, 0)}
	r := &fakeRadio{
		respond: func(n int) []reply {
			// tof = 500 ticks = 5 m to both anchors.
			return exchangeReplies(1060, 0, 60, uint8(n%2))
		},
	}
	e := NewEngine(r, testConfig(), identityEstimator(0.01), position.Geometry{Baseline: 6})

	if _, err := e.Position(); !errors.Is(err, position.ErrAwaitingAnchor) {
		t.Errorf("Position() before any sample err=%v", err)
	}

	results, _ := runFor(e, clk, 115*time.Millisecond, time.Millisecond)
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	if !errors.Is(results[0].FixErr, position.ErrAwaitingAnchor) {
		t.Errorf("first result FixErr = %v", results[0].FixErr)
	}
	last := results[1]
	if last.FixErr != nil {
		t.Fatalf("second result FixErr = %v", last.FixErr)
	}
	if math.Abs(last.Fix.X-3) > 1e-9 || math.Abs(last.Fix.Y-4) > 1e-9 {
		t.Errorf("Fix = %+v, want (3, 4)", last.Fix)
	}
	if fix, err := e.Position(); err != nil || fix != last.Fix {
		t.Errorf("Position() = %+v, %v", fix, err)
	}
}

func TestEngineNoFixKeepsLastPosition(t *testing.T) {
	clk := &fakeClock{t: time.Unix(0, 0)}
	r := &fakeRadio{
		respond: func(n int) []reply {
			switch n {
			case 0:
				return exchangeReplies(1060, 0, 60, 0)
			case 1:
				return exchangeReplies(1060, 0, 60, 1)
			default:
				// 0.5 m to anchor 0 cannot reach the 5 m circle around anchor 1.
				return exchangeReplies(160, 0, 60, 0)
			}
		},
	}
	e := NewEngine(r, testConfig(), identityEstimator(0.01), position.Geometry{Baseline: 6})

	results, _ := runFor(e, clk, 170*time.Millisecond, time.Millisecond)
	if len(results) != 3 {
		t.Fatalf("got %d results, want 3", len(results))
	}
	if !errors.Is(results[2].FixErr, position.ErrNoIntersection) {
		t.Errorf("FixErr = %v, want ErrNoIntersection", results[2].FixErr)
	}
	fix, err := e.Position()
	if !errors.Is(err, position.ErrNoIntersection) || fix != results[1].Fix {
		t.Errorf("Position() = %+v, %v", fix, err)
	}
	if e.Stats().NoFix != 2 {
		t.Errorf("NoFix = %d, want 2", e.Stats().NoFix)
	}
}

func TestEngineUnknownAnchor(t *testing.T) {
	clk := &fakeClock{t: time.Unix(0, 0)}
	r := &fakeRadio{
		respond: func(int) []reply { return exchangeReplies(1060, 0, 60, 7) },
	}
	e := NewEngine(r, testConfig(), identityEstimator(0.01), position.Geometry{Baseline: 6})

	results, _ := runFor(e, clk, 60*time.Millisecond, time.Millisecond)
	if len(results) != 0 {
		t.Errorf("got %d results, want 0", len(results))
	}
	if e.Stats().UnknownAnchors != 1 {
		t.Errorf("UnknownAnchors = %d, want 1", e.Stats().UnknownAnchors)
	}
	if !errors.Is(e.Dropped(), ErrUnknownAnchor) {
		t.Errorf("Dropped() = %v, want %v", e.Dropped(), ErrUnknownAnchor)
	}
	for i, s := range e.Samples() {
		if s.Valid {
			t.Errorf("sample %d set by unknown anchor", i)
		}
	}
}

func TestEngineWithSimulatedAnchors(t *testing.T) {
	clk := &fakeClock{t: time.Unix(0, 0)}
	sim := radio.NewSim(radio.SimConfig{
		TagX:      0.6,
		TagY:      0.8,
		Anchors:   radio.DefaultAnchors(1.0, 15),
		NoiseRate: 0.2,
		Seed:      42,
		Now:       clk.Now,
	})
	est := DefaultEstimator()
	est.Calibration = Calibration{Threshold: math.Inf(1), Scale: 1}
	e := NewEngine(sim, testConfig(), est, position.Geometry{Baseline: 1})

	results, _ := runFor(e, clk, 2*time.Second, 100*time.Microsecond)
	if len(results) < 20 {
		t.Fatalf("got %d results in 2s, want >= 20 (stats %+v)", len(results), e.Stats())
	}

	last := results[len(results)-1]
	if math.Abs(last.Samples[0].Distance-1.0) > 0.01 {
		t.Errorf("d0 = %.4f, want 1.0", last.Samples[0].Distance)
	}
	if math.Abs(last.Samples[1].Distance-math.Hypot(0.4, 0.8)) > 0.01 {
		t.Errorf("d1 = %.4f, want %.4f", last.Samples[1].Distance, math.Hypot(0.4, 0.8))
	}
	if last.FixErr != nil {
		t.Fatalf("FixErr = %v", last.FixErr)
	}
	if math.Abs(last.Fix.X-0.6) > 0.05 || math.Abs(last.Fix.Y-0.8) > 0.05 {
		t.Errorf("Fix = %+v, want about (0.6, 0.8)", last.Fix)
	}
	if e.Stats().Aborted() != 0 {
		t.Errorf("aborted exchanges with a clean link: %+v", e.Stats())
	}
}

func TestEngineRunStopsOnCancel(t *testing.T) {
	r := &fakeRadio{}
	e := NewEngine(r, testConfig(), DefaultEstimator(), position.Geometry{Baseline: 1})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		e.Run(ctx, time.Millisecond, nil)
		close(done)
	}()
	time.Sleep(5 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
