// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package radio

import (
	"errors"
	"fmt"
)

// Bridge packets are COBS encoded and terminated by packetDelimiter, so a
// zero byte on the wire always ends a frame.
const packetDelimiter = 0x00

var errBadFrame = errors.New("cobs: malformed frame")

// cobsEncode returns the COBS encoding of src without the delimiter.
func cobsEncode(src []byte) []byte {
	dst := make([]byte, 1, len(src)+len(src)/254+2)
	codeIdx, code := 0, byte(1)
	for _, b := range src {
		if b == 0 {
			dst[codeIdx] = code
			codeIdx, code = len(dst), 1
			dst = append(dst, 0)
			continue
		}
		dst = append(dst, b)
		code++
		if code == 0xFF {
			dst[codeIdx] = code
			codeIdx, code = len(dst), 1
			dst = append(dst, 0)
		}
	}
	dst[codeIdx] = code
	return dst
}

// cobsDecode reverses cobsEncode. src must not include the delimiter.
func cobsDecode(src []byte) ([]byte, error) {
	dst := make([]byte, 0, len(src))
	for i := 0; i < len(src); {
		code := int(src[i])
		if code == 0 {
			return nil, fmt.Errorf("%w: zero byte at %d", errBadFrame, i)
		}
		i++
		end := i + code - 1
		if end > len(src) {
			return nil, fmt.Errorf("%w: block of %d overruns %d bytes", errBadFrame, code, len(src))
		}
		for j, b := range src[i:end] {
			if b == 0 {
				return nil, fmt.Errorf("%w: zero byte at %d", errBadFrame, i+j)
			}
		}
		dst = append(dst, src[i:end]...)
		i = end
		if code != 0xFF && i < len(src) {
			dst = append(dst, 0)
		}
	}
	return dst, nil
}

// packetFrame encodes pkt for the wire, delimiter included.
func packetFrame(pkt []byte) []byte {
	return append(cobsEncode(pkt), packetDelimiter)
}
