// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package geo places the local anchor frame on the globe.
//
// The origin is anchor 0, surveyed once with a GPS receiver and stored as
// the raw NMEA sentence. The heading is the compass bearing from anchor 0
// towards anchor 1. Local y points 90 degrees counter-clockwise from x.
package geo

import (
	"errors"
	"fmt"
	"math"
	"strings"

	nmea "github.com/adrianmo/go-nmea"
)

// EarthRadius is the mean Earth radius in metres.
const EarthRadius = 6371008.8

var ErrNoFix = errors.New("geo: origin sentence has no valid fix")

// Origin anchors the local frame at a geodetic point.
type Origin struct {
	Latitude   float64 // decimal degrees
	Longitude  float64 // decimal degrees
	HeadingDeg float64 // bearing of the anchor baseline, clockwise from north
}

// Point is a geodetic position in decimal degrees.
type Point struct {
	Latitude  float64 `json:"lat"`
	Longitude float64 `json:"lon"`
}

// ParseOrigin reads an RMC or GGA sentence. Sentences without a valid fix
// return ErrNoFix.
func ParseOrigin(sentence string, headingDeg float64) (Origin, error) {
	sentence = strings.TrimSpace(sentence)
	s, err := nmea.Parse(sentence)
	if err != nil {
		return Origin{}, fmt.Errorf("parse origin sentence: %w", err)
	}

	o := Origin{HeadingDeg: headingDeg}
	switch s.DataType() {
	case nmea.TypeRMC:
		m := s.(nmea.RMC)
		if string(m.Validity) != "A" {
			return Origin{}, ErrNoFix
		}
		o.Latitude, o.Longitude = m.Latitude, m.Longitude
	case nmea.TypeGGA:
		m := s.(nmea.GGA)
		if m.FixQuality == "" || m.FixQuality == "0" {
			return Origin{}, ErrNoFix
		}
		o.Latitude, o.Longitude = m.Latitude, m.Longitude
	default:
		return Origin{}, fmt.Errorf("origin sentence type %s: want RMC or GGA", s.DataType())
	}
	return o, nil
}

// ToGeodetic converts a local (x, y) in metres. The flat-earth approximation
// is exact to well under a centimetre over an indoor site.
func (o Origin) ToGeodetic(x, y float64) Point {
	h := o.HeadingDeg * math.Pi / 180
	east := x*math.Sin(h) - y*math.Cos(h)
	north := x*math.Cos(h) + y*math.Sin(h)

	lat0 := o.Latitude * math.Pi / 180
	return Point{
		Latitude:  o.Latitude + north/EarthRadius*180/math.Pi,
		Longitude: o.Longitude + east/(EarthRadius*math.Cos(lat0))*180/math.Pi,
	}
}
