// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package indicator drives the status LED: toggled once per ranging cycle,
// fast blink when the radio could not be brought up.
package indicator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

// FailBlinkPeriod is the on (and off) time of the init-failure blink.
const FailBlinkPeriod = 50 * time.Millisecond

// LED is a GPIO output. A nil *LED is valid and does nothing, so callers
// need not special-case a board without one.
type LED struct {
	mu  sync.Mutex
	pin gpio.PinOut
	on  bool
}

// Open looks the pin up by name (e.g. "GPIO17") and drives it low.
func Open(name string) (*LED, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("led: periph host init: %w", err)
	}
	p := gpioreg.ByName(name)
	if p == nil {
		return nil, fmt.Errorf("led: pin %q not found", name)
	}
	return New(p)
}

// New wraps an already opened pin and drives it low.
func New(pin gpio.PinOut) (*LED, error) {
	if err := pin.Out(gpio.Low); err != nil {
		return nil, fmt.Errorf("led: set %s low: %w", pin, err)
	}
	return &LED{pin: pin}, nil
}

func (l *LED) Set(on bool) error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.setLocked(on)
}

func (l *LED) Toggle() error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.setLocked(!l.on)
}

func (l *LED) setLocked(on bool) error {
	if err := l.pin.Out(gpio.Level(on)); err != nil {
		return err
	}
	l.on = on
	return nil
}

// Blink toggles the LED every period until ctx is done, then leaves it off.
func (l *LED) Blink(ctx context.Context, period time.Duration) {
	if l == nil {
		<-ctx.Done()
		return
	}
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			_ = l.Set(false)
			return
		case <-ticker.C:
			_ = l.Toggle()
		}
	}
}

// Close turns the LED off.
func (l *LED) Close() error {
	return l.Set(false)
}
