// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/relabs-tech/uwb_tag/internal/config"
	"github.com/relabs-tech/uwb_tag/internal/geo"
	"github.com/relabs-tech/uwb_tag/internal/indicator"
	"github.com/relabs-tech/uwb_tag/internal/radio"
	"github.com/relabs-tech/uwb_tag/internal/ranging"
	"github.com/relabs-tech/uwb_tag/internal/report"
)

// Sink receives the reports produced by the tag loop.
type Sink interface {
	Range(report.Range) error
	Position(report.Position) error
	Stats(report.Stats) error
}

// tagLoop polls the engine and fans every stored distance out to the table,
// the LED and the sink.
type tagLoop struct {
	engine     *ranging.Engine
	table      *report.Table
	led        *indicator.LED
	sink       Sink // may be nil
	origin     *geo.Origin
	poll       time.Duration
	statsEvery time.Duration

	// linkErr reports a dead radio link. nil for radios that cannot fail.
	linkErr func() error
}

func (l *tagLoop) run(ctx context.Context) error {
	if err := l.table.WriteHeader(); err != nil {
		log.Printf("tag: status table write error: %v", err)
	}

	poll := time.NewTicker(l.poll)
	defer poll.Stop()
	stats := time.NewTicker(l.statsEvery)
	defer stats.Stop()

	for {
		select {
		case <-ctx.Done():
			l.flushStats(time.Now())
			return nil

		case now := <-poll.C:
			if res := l.engine.Tick(now); res != nil {
				l.handle(res)
			}

		case now := <-stats.C:
			l.flushStats(now)
			if l.linkErr != nil {
				if err := l.linkErr(); err != nil {
					return err
				}
			}
		}
	}
}

func (l *tagLoop) handle(res *ranging.Result) {
	if err := l.table.Write(res); err != nil {
		log.Printf("tag: status table write error: %v", err)
	}
	if err := l.led.Toggle(); err != nil {
		log.Printf("tag: led error: %v", err)
	}
	if l.sink == nil {
		return
	}

	if err := l.sink.Range(report.NewRange(res)); err != nil {
		log.Printf("tag: publish error (range): %v", err)
	}
	if p, ok := report.NewPosition(res, l.origin); ok {
		if err := l.sink.Position(p); err != nil {
			log.Printf("tag: publish error (position): %v", err)
		}
	}
}

func (l *tagLoop) flushStats(now time.Time) {
	s := l.engine.Stats()
	log.Printf("tag: started=%d completed=%d aborted=%d outliers=%d unexpected=%d no_fix=%d",
		s.Started, s.Completed, s.Aborted(), s.Outliers, s.UnexpectedFrames, s.NoFix)
	if l.sink == nil {
		return
	}
	if err := l.sink.Stats(report.NewStats(s, now)); err != nil {
		log.Printf("tag: publish error (stats): %v", err)
	}
}

// mqttSink publishes reports as retained JSON messages.
type mqttSink struct {
	client mqtt.Client
	cfg    *config.Config
}

func (m *mqttSink) publish(topic string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("json marshal: %w", err)
	}
	if token := m.client.Publish(topic, 0, true, payload); token.Wait() && token.Error() != nil {
		return token.Error()
	}
	return nil
}

func (m *mqttSink) Range(r report.Range) error       { return m.publish(m.cfg.TopicRange, r) }
func (m *mqttSink) Position(p report.Position) error { return m.publish(m.cfg.TopicPosition, p) }
func (m *mqttSink) Stats(s report.Stats) error       { return m.publish(m.cfg.TopicStats, s) }

// openRadio returns the configured radio, its closer and, for links that
// can drop, a function reporting the link error.
func openRadio(cfg *config.Config) (radio.Radio, func() error, func() error, error) {
	switch cfg.Radio {
	case config.RadioSerial:
		b, err := radio.OpenSerialBridge(cfg.RadioSerialPort, cfg.RadioBaudRate)
		if err != nil {
			return nil, nil, nil, err
		}
		log.Printf("tag: radio bridge on %s at %d baud", cfg.RadioSerialPort, cfg.RadioBaudRate)
		return b, b.Close, b.Err, nil
	default:
		sim := radio.NewSim(cfg.SimConfig())
		log.Printf("tag: simulated anchors, tag at (%.2f, %.2f), baseline %.2f m",
			cfg.SimTagX, cfg.SimTagY, cfg.AnchorBaseline)
		return sim, func() error { return nil }, nil, nil
	}
}

// openLED returns nil when no pin is configured or the pin cannot be used.
func openLED(name string) *indicator.LED {
	if name == "" {
		return nil
	}
	led, err := indicator.Open(name)
	if err != nil {
		log.Printf("tag: status LED disabled: %v", err)
		return nil
	}
	return led
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		select {
		case <-sigCh:
			log.Println("shutting down")
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigCh)
	}()
	return ctx, cancel
}

func newTagLoop(cfg *config.Config, r radio.Radio, out io.Writer) (*tagLoop, error) {
	est, err := cfg.Estimator()
	if err != nil {
		return nil, err
	}
	origin, err := cfg.Origin()
	if err != nil {
		return nil, fmt.Errorf("origin: %w", err)
	}
	return &tagLoop{
		engine:     ranging.NewEngine(r, cfg.EngineConfig(), est, cfg.Geometry()),
		table:      report.NewTable(out),
		origin:     origin,
		poll:       cfg.PollInterval(),
		statsEvery: cfg.StatsInterval(),
	}, nil
}

// RunTag ranges against the configured radio, prints the status table on
// stdout and publishes every report over MQTT.
func RunTag() error {
	cfg := config.Get()
	log.Printf("tag: starting (radio=%s)", cfg.Radio)

	ctx, cancel := signalContext()
	defer cancel()

	led := openLED(cfg.LEDPin)
	defer led.Close()

	r, closeRadio, linkErr, err := openRadio(cfg)
	if err != nil {
		log.Printf("tag: radio init failed: %v", err)
		if led != nil {
			log.Println("tag: blinking status LED until terminated")
			led.Blink(ctx, indicator.FailBlinkPeriod)
		}
		return err
	}
	defer closeRadio()

	loop, err := newTagLoop(cfg, r, os.Stdout)
	if err != nil {
		return err
	}
	loop.led = led
	loop.linkErr = linkErr

	if loop.origin == nil && cfg.OriginGPSPort != "" {
		origin, err := surveyOrigin(ctx, cfg)
		if err != nil {
			log.Printf("tag: GPS origin survey failed, reporting local coordinates only: %v", err)
		} else {
			log.Printf("tag: origin surveyed at %.7f, %.7f", origin.Latitude, origin.Longitude)
			loop.origin = origin
		}
	}

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.MQTTBroker).
		SetClientID(cfg.MQTTClientIDTag)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("MQTT connect: %w", token.Error())
	}
	defer client.Disconnect(250)
	log.Printf("tag: connected to MQTT broker at %s", cfg.MQTTBroker)

	loop.sink = &mqttSink{client: client, cfg: cfg}
	return loop.run(ctx)
}
