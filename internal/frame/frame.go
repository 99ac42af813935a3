// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package frame encodes and decodes the three TWR messages exchanged
// between the tag and an anchor.
//
// Layout (offsets from frame start):
//
//	Start     | type(1)=1
//	Ack       | type(1)=2
//	DataReply | type(1)=3 | t2(5) | t3(5) | anchorID(1)
//
// Timestamps are 40-bit little-endian counters, as produced by the DW1000.
package frame

import (
	"errors"
	"fmt"
)

// Type is the first byte of every TWR frame.
type Type byte

const (
	TypeUnknown   Type = 0
	TypeStart     Type = 1
	TypeAck       Type = 2
	TypeDataReply Type = 3
)

const (
	// DataReplySize is the length of an encoded DataReply.
	DataReplySize = 12

	offsetT2       = 1
	offsetT3       = 6
	offsetAnchorID = 11
)

var (
	ErrShortFrame  = errors.New("frame: too short")
	ErrUnknownType = errors.New("frame: unknown message type")
)

func (t Type) String() string {
	switch t {
	case TypeStart:
		return "start"
	case TypeAck:
		return "ack"
	case TypeDataReply:
		return "data_reply"
	default:
		return fmt.Sprintf("unknown(%d)", byte(t))
	}
}

// Message is one of Start, Ack or DataReply.
type Message interface {
	Type() Type
}

// Start opens a ranging exchange. Sent by the tag.
type Start struct{}

// Ack is the anchor's immediate answer to Start.
type Ack struct{}

// DataReply carries the anchor-side timestamps of the exchange.
type DataReply struct {
	T2       uint64 // Start received (anchor clock)
	T3       uint64 // Ack sent (anchor clock)
	AnchorID uint8
}

func (Start) Type() Type     { return TypeStart }
func (Ack) Type() Type       { return TypeAck }
func (DataReply) Type() Type { return TypeDataReply }

// Encode serializes m into a freshly allocated buffer.
func Encode(m Message) []byte {
	switch v := m.(type) {
	case DataReply:
		buf := make([]byte, DataReplySize)
		buf[0] = byte(TypeDataReply)
		PutUint40(buf[offsetT2:], v.T2)
		PutUint40(buf[offsetT3:], v.T3)
		buf[offsetAnchorID] = v.AnchorID
		return buf
	case nil:
		return nil
	default:
		return []byte{byte(m.Type())}
	}
}

// PeekType returns the message type byte without validating the rest of the frame.
func PeekType(b []byte) Type {
	if len(b) == 0 {
		return TypeUnknown
	}
	return Type(b[0])
}

// Decode parses a received frame. Trailing bytes after a known layout are ignored.
func Decode(b []byte) (Message, error) {
	if len(b) == 0 {
		return nil, ErrShortFrame
	}
	switch Type(b[0]) {
	case TypeStart:
		return Start{}, nil
	case TypeAck:
		return Ack{}, nil
	case TypeDataReply:
		if len(b) < DataReplySize {
			return nil, fmt.Errorf("%w: data reply has %d bytes, need %d", ErrShortFrame, len(b), DataReplySize)
		}
		return DataReply{
			T2:       Uint40(b, offsetT2),
			T3:       Uint40(b, offsetT3),
			AnchorID: b[offsetAnchorID],
		}, nil
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownType, b[0])
	}
}
