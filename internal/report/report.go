// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package report holds the JSON payloads published for every ranging
// result and the human-readable status table.
package report

import (
	"time"

	"github.com/relabs-tech/uwb_tag/internal/geo"
	"github.com/relabs-tech/uwb_tag/internal/ranging"
)

// Range is one accepted distance to one anchor.
type Range struct {
	Time     string  `json:"time"` // RFC3339Nano
	AnchorID uint8   `json:"anchor_id"`
	ToF      float64 `json:"tof_ticks"`
	Raw      float64 `json:"raw_m"`
	Distance float64 `json:"distance_m"`
	Skew     float64 `json:"skew_ppm"`
}

// Position is a solved tag position with the distances it came from.
type Position struct {
	Time     string  `json:"time"`
	AnchorID uint8   `json:"anchor_id"` // anchor updated by this cycle
	D0       float64 `json:"d0_m"`
	D1       float64 `json:"d1_m"`
	X        float64 `json:"x_m"`
	Y        float64 `json:"y_m"`
	AgeMS    int64   `json:"age_ms"` // age of the other anchor's distance

	Lat *float64 `json:"lat,omitempty"`
	Lon *float64 `json:"lon,omitempty"`
}

// Stats is the periodic counter snapshot.
type Stats struct {
	Time string `json:"time"`
	ranging.Stats
}

func NewRange(res *ranging.Result) Range {
	return Range{
		Time:     res.At.Format(time.RFC3339Nano),
		AnchorID: res.AnchorID,
		ToF:      res.ToF,
		Raw:      res.Raw,
		Distance: res.Distance,
		Skew:     res.Skew,
	}
}

// NewPosition returns false when res carries no fix. origin may be nil.
func NewPosition(res *ranging.Result, origin *geo.Origin) (Position, bool) {
	if res.FixErr != nil {
		return Position{}, false
	}

	other := res.Samples[1-res.AnchorID%2]
	p := Position{
		Time:     res.At.Format(time.RFC3339Nano),
		AnchorID: res.AnchorID,
		D0:       res.Samples[0].Distance,
		D1:       res.Samples[1].Distance,
		X:        res.Fix.X,
		Y:        res.Fix.Y,
		AgeMS:    res.At.Sub(other.At).Milliseconds(),
	}
	if origin != nil {
		g := origin.ToGeodetic(res.Fix.X, res.Fix.Y)
		p.Lat, p.Lon = &g.Latitude, &g.Longitude
	}
	return p, true
}

func NewStats(s ranging.Stats, at time.Time) Stats {
	return Stats{Time: at.Format(time.RFC3339), Stats: s}
}
