// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package radio

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"log"
	"math"
	"sync"

	serial "github.com/jacobsa/go-serial/serial"

	"github.com/relabs-tech/uwb_tag/internal/frame"
)

// Host -> co-processor commands.
const (
	cmdTransmit      = 0x01
	cmdEnableReceive = 0x02
	cmdDisableRecv   = 0x03
)

// Co-processor -> host events.
const (
	evtTransmitDone = 0x81
	evtFrame        = 0x82
	evtLog          = 0x85
)

const (
	evtTransmitDoneSize = 1 + 5
	evtFrameHeaderSize  = 1 + 5 + 4
)

// Bridge drives a DW1000 attached to a microcontroller over a UART. The
// firmware on the other side does the radio work and reports timestamps;
// this side only keeps the latest state for the ranging engine to poll.
type Bridge struct {
	port io.ReadWriteCloser

	wmu sync.Mutex // serialises writes to port

	mu        sync.Mutex
	txDone    bool
	lastTx    uint64
	lastRx    uint64
	lastSkew  float64
	rxEnabled bool
	available bool
	frame     []byte
	err       error
	closed    bool

	done chan struct{}
}

// OpenSerialBridge opens the UART and starts the reader.
func OpenSerialBridge(portName string, baud uint) (*Bridge, error) {
	opts := serial.OpenOptions{
		PortName:              portName,
		BaudRate:              baud,
		DataBits:              8,
		StopBits:              1,
		MinimumReadSize:       1,
		ParityMode:            serial.PARITY_NONE,
		InterCharacterTimeout: 0,
	}
	port, err := serial.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open radio serial port %s: %w", portName, err)
	}
	log.Printf("radio: serial port opened on %s at %d baud", portName, baud)
	return NewBridge(port), nil
}

// NewBridge takes ownership of port and starts reading events from it.
func NewBridge(port io.ReadWriteCloser) *Bridge {
	b := &Bridge{
		port: port,
		done: make(chan struct{}),
	}
	go b.run()
	return b
}

func (b *Bridge) run() {
	defer close(b.done)
	reader := bufio.NewReader(b.port)
	for {
		raw, err := reader.ReadBytes(packetDelimiter)
		if err != nil {
			b.mu.Lock()
			if !b.closed {
				b.err = err
			}
			b.mu.Unlock()
			return
		}
		raw = raw[:len(raw)-1]
		if len(raw) == 0 {
			continue
		}

		// A bad frame is dropped whole; the next delimiter resynchronises.
		pkt, err := cobsDecode(raw)
		if err != nil {
			log.Printf("radio: dropping frame: %v", err)
			continue
		}
		if len(pkt) == 0 {
			continue
		}
		b.handlePacket(pkt)
	}
}

func (b *Bridge) handlePacket(pkt []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch pkt[0] {
	case evtTransmitDone:
		if len(pkt) < evtTransmitDoneSize {
			return
		}
		b.lastTx = frame.Uint40(pkt, 1)
		b.txDone = true
	case evtFrame:
		if len(pkt) < evtFrameHeaderSize || !b.rxEnabled {
			return
		}
		b.lastRx = frame.Uint40(pkt, 1)
		b.lastSkew = float64(math.Float32frombits(binary.LittleEndian.Uint32(pkt[6:10])))
		b.frame = append(b.frame[:0], pkt[evtFrameHeaderSize:]...)
		b.available = true
		b.rxEnabled = false
	case evtLog:
		log.Printf("radio: firmware: %s", pkt[1:])
	}
}

func (b *Bridge) send(cmd byte, payload []byte) error {
	b.mu.Lock()
	closed, rerr := b.closed, b.err
	b.mu.Unlock()
	if closed {
		return ErrClosed
	}
	if rerr != nil {
		return fmt.Errorf("radio link down: %w", rerr)
	}

	pkt := make([]byte, 0, 1+len(payload))
	pkt = append(pkt, cmd)
	pkt = append(pkt, payload...)

	b.wmu.Lock()
	defer b.wmu.Unlock()
	if _, err := b.port.Write(packetFrame(pkt)); err != nil {
		return fmt.Errorf("radio write: %w", err)
	}
	return nil
}

func (b *Bridge) Transmit(f []byte) error {
	b.mu.Lock()
	b.txDone = false
	b.mu.Unlock()
	return b.send(cmdTransmit, f)
}

func (b *Bridge) HasTransmitSucceeded() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	ok := b.txDone
	b.txDone = false
	return ok
}

func (b *Bridge) LastTransmitTimestamp() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastTx
}

func (b *Bridge) LastReceiveTimestamp() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastRx
}

func (b *Bridge) LastReceiveSkew() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastSkew
}

// EnableReceive arms the receiver. Write failures surface on the next Transmit.
func (b *Bridge) EnableReceive() {
	b.mu.Lock()
	b.rxEnabled = true
	b.mu.Unlock()
	if err := b.send(cmdEnableReceive, nil); err != nil {
		b.setErr(err)
	}
}

func (b *Bridge) DisableReceive() {
	b.mu.Lock()
	b.rxEnabled = false
	b.available = false
	b.mu.Unlock()
	if err := b.send(cmdDisableRecv, nil); err != nil {
		b.setErr(err)
	}
}

func (b *Bridge) setErr(err error) {
	b.mu.Lock()
	if b.err == nil && !b.closed {
		b.err = err
	}
	b.mu.Unlock()
}

func (b *Bridge) FrameAvailable() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	ok := b.available
	b.available = false
	return ok
}

func (b *Bridge) Frame() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]byte(nil), b.frame...)
}

// Err reports why the link went down, if it did.
func (b *Bridge) Err() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.err
}

// Close shuts the port and waits for the reader to exit.
func (b *Bridge) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	err := b.port.Close()
	<-b.done
	return err
}
