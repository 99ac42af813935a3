// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package radio

import (
	"math"
	"testing"
	"time"

	"github.com/relabs-tech/uwb_tag/internal/frame"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestSim(clk *fakeClock, cfg SimConfig) *Sim {
	cfg.Now = clk.Now
	cfg.TxLatency = 200 * time.Microsecond
	cfg.ReplyDelay = time.Millisecond
	return NewSim(cfg)
}

// exchange walks one Start/Ack/DataReply round by hand and returns the
// distance implied by the timestamps.
func exchange(t *testing.T, clk *fakeClock, s *Sim) (float64, uint8) {
	t.Helper()

	s.DisableReceive()
	if err := s.Transmit(frame.Encode(frame.Start{})); err != nil {
		t.Fatalf("Transmit() err=%v", err)
	}
	if s.HasTransmitSucceeded() {
		t.Fatal("transmit done before latency elapsed")
	}
	clk.Advance(200 * time.Microsecond)
	if !s.HasTransmitSucceeded() {
		t.Fatal("transmit not done after latency")
	}
	t1 := s.LastTransmitTimestamp()

	s.EnableReceive()
	if s.FrameAvailable() {
		t.Fatal("ack delivered before reply delay")
	}
	clk.Advance(time.Millisecond)
	if !s.FrameAvailable() {
		t.Fatal("no ack after reply delay")
	}
	if got := frame.PeekType(s.Frame()); got != frame.TypeAck {
		t.Fatalf("first frame = %v, want ack", got)
	}
	t4 := s.LastReceiveTimestamp()
	skew := s.LastReceiveSkew()

	s.EnableReceive()
	clk.Advance(time.Millisecond)
	if !s.FrameAvailable() {
		t.Fatal("no data reply")
	}
	msg, err := frame.Decode(s.Frame())
	if err != nil {
		t.Fatalf("Decode() err=%v", err)
	}
	dr, ok := msg.(frame.DataReply)
	if !ok {
		t.Fatalf("second frame = %T, want DataReply", msg)
	}

	d14 := float64(frame.Sub40(t4, t1))
	d23 := float64(frame.Sub40(dr.T3, dr.T2))
	tof := (d14 - (1+1e-6*skew)*d23) / 2
	return tof * RangingUnit, dr.AnchorID
}

func TestSimExchangeDistances(t *testing.T) {
	clk := &fakeClock{t: time.Unix(1000, 0)}
	s := newTestSim(clk, SimConfig{
		TagX:    0.6,
		TagY:    0.8,
		Anchors: DefaultAnchors(1.0, 20),
		Seed:    7,
	})

	tests := []struct {
		name   string
		anchor uint8
		want   float64
	}{
		{name: "anchor 0", anchor: 0, want: 1.0},
		{name: "anchor 1", anchor: 1, want: math.Hypot(0.4, 0.8)},
		{name: "anchor 0 again", anchor: 0, want: 1.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, id := exchange(t, clk, s)
			if id != tt.anchor {
				t.Errorf("anchor id = %d, want %d", id, tt.anchor)
			}
			if math.Abs(got-tt.want) > 0.01 {
				t.Errorf("distance = %.4f, want %.4f", got, tt.want)
			}
		})
		clk.Advance(500 * time.Millisecond)
	}
}

func TestSimDisableReceiveFlushes(t *testing.T) {
	clk := &fakeClock{t: time.Unix(0, 0)}
	s := newTestSim(clk, SimConfig{Anchors: DefaultAnchors(1, 0)})

	_ = s.Transmit(frame.Encode(frame.Start{}))
	clk.Advance(10 * time.Millisecond)
	s.DisableReceive()
	s.EnableReceive()
	if s.FrameAvailable() {
		t.Error("frame survived DisableReceive")
	}
}

func TestSimDrop(t *testing.T) {
	clk := &fakeClock{t: time.Unix(0, 0)}
	s := newTestSim(clk, SimConfig{Anchors: DefaultAnchors(1, 0), DropRate: 1})

	_ = s.Transmit(frame.Encode(frame.Start{}))
	s.EnableReceive()
	clk.Advance(10 * time.Millisecond)
	if !s.HasTransmitSucceeded() {
		t.Error("dropped exchange must still complete the transmit")
	}
	if s.FrameAvailable() {
		t.Error("anchor answered despite DropRate=1")
	}
}

func TestSimNoisePrecedesReplies(t *testing.T) {
	clk := &fakeClock{t: time.Unix(0, 0)}
	s := newTestSim(clk, SimConfig{Anchors: DefaultAnchors(1, 0), NoiseRate: 1, Seed: 3})

	_ = s.Transmit(frame.Encode(frame.Start{}))
	clk.Advance(200 * time.Microsecond)
	s.EnableReceive()
	clk.Advance(600 * time.Microsecond)

	if !s.FrameAvailable() {
		t.Fatal("no noise frame")
	}
	if got := frame.PeekType(s.Frame()); got == frame.TypeAck || got == frame.TypeDataReply {
		t.Errorf("noise frame type = %v", got)
	}
	// Receiver is off until re-armed.
	clk.Advance(time.Millisecond)
	if s.FrameAvailable() {
		t.Error("frame delivered with receiver off")
	}
	s.EnableReceive()
	if !s.FrameAvailable() || frame.PeekType(s.Frame()) != frame.TypeAck {
		t.Error("ack not delivered after noise")
	}
}

func TestSimNonStartGetsNoAnswer(t *testing.T) {
	clk := &fakeClock{t: time.Unix(0, 0)}
	s := newTestSim(clk, SimConfig{Anchors: DefaultAnchors(1, 0)})

	_ = s.Transmit(frame.Encode(frame.Ack{}))
	s.EnableReceive()
	clk.Advance(10 * time.Millisecond)
	if s.FrameAvailable() {
		t.Error("anchor answered a non-Start frame")
	}
	if got := len(s.Sent()); got != 1 {
		t.Errorf("Sent() has %d frames, want 1", got)
	}
}
