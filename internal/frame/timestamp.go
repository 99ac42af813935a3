// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package frame

// Mask40 keeps the low 40 bits of a DW1000 timestamp.
const Mask40 uint64 = 1<<40 - 1

// Uint40 reads a 5-byte little-endian field at offset. Callers check bounds.
func Uint40(b []byte, offset int) uint64 {
	var v uint64
	for i := 4; i >= 0; i-- {
		v = v<<8 | uint64(b[offset+i])
	}
	return v
}

// PutUint40 writes the low 40 bits of v little-endian into b[0:5].
func PutUint40(b []byte, v uint64) {
	_ = b[4]
	for i := 0; i < 5; i++ {
		b[i] = byte(v >> (8 * i))
	}
}

// Sub40 returns (a - b) mod 2^40, so a counter that wrapped between b and a
// still yields the elapsed tick count.
func Sub40(a, b uint64) uint64 {
	return (a - b) & Mask40
}
