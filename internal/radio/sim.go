// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package radio

import (
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/relabs-tech/uwb_tag/internal/frame"
)

// Anchor is one simulated fixed station.
type Anchor struct {
	ID      uint8
	X, Y    float64 // metres
	SkewPPM float64 // anchor clock runs fast by this much relative to the tag
}

// SimConfig describes the simulated world.
type SimConfig struct {
	TagX, TagY float64
	Anchors    []Anchor

	TxLatency  time.Duration // frame handed to the radio -> on air
	ReplyDelay time.Duration // anchor turnaround, Start -> Ack and Ack -> DataReply

	DropRate  float64 // probability that the addressed anchor ignores a Start
	NoiseRate float64 // probability that a stray frame precedes each reply
	Seed      uint64

	// Now is the time source. Defaults to time.Now.
	Now func() time.Time
}

// DefaultAnchors places anchor 0 at the origin and anchor 1 at (baseline, 0).
func DefaultAnchors(baseline, skewPPM float64) []Anchor {
	return []Anchor{
		{ID: 0, X: 0, Y: 0, SkewPPM: skewPPM},
		{ID: 1, X: baseline, Y: 0, SkewPPM: -skewPPM},
	}
}

type pendingFrame struct {
	at   time.Time
	data []byte
	rxTS uint64
	skew float64
}

// Sim is an in-memory Radio that answers every Start like a DW1000 anchor
// would. Anchors take turns, one per Start.
type Sim struct {
	mu  sync.Mutex
	cfg SimConfig
	now func() time.Time
	rng *rand.Rand

	epoch      time.Time
	anchorBase []uint64
	next       int

	txPending bool
	txDoneAt  time.Time
	lastTx    uint64
	lastRx    uint64
	lastSkew  float64

	rxEnabled bool
	queue     []pendingFrame
	frame     []byte

	sent [][]byte
}

// NewSim builds a simulated radio. Zero latencies get small realistic defaults.
func NewSim(cfg SimConfig) *Sim {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.TxLatency <= 0 {
		cfg.TxLatency = 200 * time.Microsecond
	}
	if cfg.ReplyDelay <= 0 {
		cfg.ReplyDelay = time.Millisecond
	}

	s := &Sim{
		cfg:   cfg,
		now:   cfg.Now,
		rng:   rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9E3779B97F4A7C15)),
		epoch: cfg.Now(),
	}
	for range cfg.Anchors {
		s.anchorBase = append(s.anchorBase, s.rng.Uint64()&frame.Mask40)
	}
	return s
}

// SetTag moves the simulated tag.
func (s *Sim) SetTag(x, y float64) {
	s.mu.Lock()
	s.cfg.TagX, s.cfg.TagY = x, y
	s.mu.Unlock()
}

// Sent returns a copy of every frame passed to Transmit.
func (s *Sim) Sent() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]byte, len(s.sent))
	for i, b := range s.sent {
		out[i] = append([]byte(nil), b...)
	}
	return out
}

func (s *Sim) ticks(t time.Time) float64 {
	return float64(t.Sub(s.epoch).Nanoseconds()) * TickRate / 1e9
}

func (s *Sim) Transmit(b []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sent = append(s.sent, append([]byte(nil), b...))

	now := s.now()
	s.txPending = true
	s.txDoneAt = now.Add(s.cfg.TxLatency)
	s.lastTx = uint64(s.ticks(s.txDoneAt)) & frame.Mask40

	if frame.PeekType(b) != frame.TypeStart || len(s.cfg.Anchors) == 0 {
		return nil
	}

	idx := s.next
	s.next = (s.next + 1) % len(s.cfg.Anchors)
	a := s.cfg.Anchors[idx]

	if s.rng.Float64() < s.cfg.DropRate {
		return nil
	}

	dist := math.Hypot(s.cfg.TagX-a.X, s.cfg.TagY-a.Y)
	tof := dist / RangingUnit
	reply := s.cfg.ReplyDelay.Seconds() * TickRate
	p := a.SkewPPM * 1e-6
	skew := -p / (1 + p) * 1e6

	t4 := (s.lastTx + uint64(math.Round(2*tof+reply))) & frame.Mask40
	t2 := (s.anchorBase[idx] + uint64(math.Round((s.ticks(s.txDoneAt)+tof)*(1+p)))) & frame.Mask40
	t3 := (t2 + uint64(math.Round(reply*(1+p)))) & frame.Mask40

	ackAt := s.txDoneAt.Add(s.cfg.ReplyDelay)
	replyAt := ackAt.Add(s.cfg.ReplyDelay)

	s.maybeNoise(ackAt.Add(-s.cfg.ReplyDelay / 2))
	s.queue = append(s.queue, pendingFrame{
		at:   ackAt,
		data: frame.Encode(frame.Ack{}),
		rxTS: t4,
		skew: skew,
	})
	s.maybeNoise(replyAt.Add(-s.cfg.ReplyDelay / 2))
	s.queue = append(s.queue, pendingFrame{
		at:   replyAt,
		data: frame.Encode(frame.DataReply{T2: t2, T3: t3, AnchorID: a.ID}),
		rxTS: uint64(s.ticks(replyAt)) & frame.Mask40,
		skew: skew,
	})
	return nil
}

// maybeNoise queues a stray frame: either another tag's Start or garbage.
func (s *Sim) maybeNoise(at time.Time) {
	if s.rng.Float64() >= s.cfg.NoiseRate {
		return
	}
	data := []byte{0x7E, 0x00, 0x00}
	if s.rng.IntN(2) == 0 {
		data = frame.Encode(frame.Start{})
	}
	s.queue = append(s.queue, pendingFrame{at: at, data: data, rxTS: uint64(s.ticks(at)) & frame.Mask40})
}

func (s *Sim) HasTransmitSucceeded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.txPending || s.now().Before(s.txDoneAt) {
		return false
	}
	s.txPending = false
	return true
}

func (s *Sim) LastTransmitTimestamp() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastTx
}

func (s *Sim) LastReceiveTimestamp() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastRx
}

func (s *Sim) LastReceiveSkew() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSkew
}

func (s *Sim) EnableReceive() {
	s.mu.Lock()
	s.rxEnabled = true
	s.mu.Unlock()
}

// DisableReceive turns the receiver off and drops anything still in flight.
func (s *Sim) DisableReceive() {
	s.mu.Lock()
	s.rxEnabled = false
	s.queue = nil
	s.mu.Unlock()
}

func (s *Sim) FrameAvailable() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.rxEnabled || len(s.queue) == 0 || s.now().Before(s.queue[0].at) {
		return false
	}
	f := s.queue[0]
	s.queue = s.queue[1:]
	s.frame = f.data
	s.lastRx = f.rxTS
	s.lastSkew = f.skew
	s.rxEnabled = false
	return true
}

func (s *Sim) Frame() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]byte(nil), s.frame...)
}
