// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package geo

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
)

// ReadOrigin surveys the origin from a live NMEA stream, averaging the first
// n valid RMC or GGA fixes. Lines that do not parse or carry no fix are
// skipped. It returns ErrNoFix if the stream ends first.
func ReadOrigin(r io.Reader, headingDeg float64, n int) (Origin, error) {
	if n < 1 {
		n = 1
	}
	reader := bufio.NewReader(r)

	var sumLat, sumLon float64
	var got int
	for got < n {
		line, err := reader.ReadString('\n')
		if line = strings.TrimSpace(line); strings.HasPrefix(line, "$") {
			if o, perr := ParseOrigin(line, headingDeg); perr == nil {
				sumLat += o.Latitude
				sumLon += o.Longitude
				got++
				continue
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return Origin{}, fmt.Errorf("%w: stream ended after %d of %d fixes", ErrNoFix, got, n)
			}
			return Origin{}, fmt.Errorf("read NMEA: %w", err)
		}
	}
	return Origin{
		Latitude:   sumLat / float64(n),
		Longitude:  sumLon / float64(n),
		HeadingDeg: headingDeg,
	}, nil
}
