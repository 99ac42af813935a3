// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"encoding/json"
	"fmt"
	"image"
	"log"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/devices/v3/ssd1306"
	"periph.io/x/devices/v3/ssd1306/image1bit"
	"periph.io/x/host/v3"

	"github.com/relabs-tech/uwb_tag/internal/config"
	"github.com/relabs-tech/uwb_tag/internal/ranging"
	"github.com/relabs-tech/uwb_tag/internal/report"
)

// DisplayData holds the latest ranging data for the display.
type DisplayData struct {
	mu sync.RWMutex

	dist     [ranging.NumAnchors]float64
	haveDist [ranging.NumAnchors]bool

	x, y    float64
	haveFix bool
}

func (d *DisplayData) setRange(r report.Range) {
	if int(r.AnchorID) >= ranging.NumAnchors {
		return
	}
	d.mu.Lock()
	d.dist[r.AnchorID] = r.Distance
	d.haveDist[r.AnchorID] = true
	d.mu.Unlock()
}

func (d *DisplayData) setPosition(p report.Position) {
	d.mu.Lock()
	d.dist = [ranging.NumAnchors]float64{p.D0, p.D1}
	d.haveDist = [ranging.NumAnchors]bool{true, true}
	d.x, d.y = p.X, p.Y
	d.haveFix = true
	d.mu.Unlock()
}

// lines returns the four text rows shown on the panel.
func (d *DisplayData) lines() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if !d.haveDist[0] && !d.haveDist[1] {
		return []string{"UWB tag", "Waiting..."}
	}

	out := make([]string, 0, 4)
	for i := range d.dist {
		if d.haveDist[i] {
			out = append(out, fmt.Sprintf("D%d: %7.3f m", i, d.dist[i]))
		} else {
			out = append(out, fmt.Sprintf("D%d:       -", i))
		}
	}
	if d.haveFix {
		out = append(out,
			fmt.Sprintf("X:  %7.3f m", d.x),
			fmt.Sprintf("Y:  %7.3f m", d.y))
	} else {
		out = append(out, "X:        -", "Y:        -")
	}
	return out
}

// render draws rows of Face7x13 text on a blank 128x64 frame.
func render(rows []string) *image1bit.VerticalLSB {
	img := image1bit.NewVerticalLSB(image.Rect(0, 0, 128, 64))

	drawer := &font.Drawer{
		Dst:  img,
		Src:  &image.Uniform{image1bit.On},
		Face: basicfont.Face7x13,
	}
	for i, row := range rows {
		drawer.Dot = fixed.P(0, 13*(i+1))
		drawer.DrawString(row)
	}
	return img
}

func subscribeJSON[T any](client mqtt.Client, topic string, apply func(T)) error {
	token := client.Subscribe(topic, 0, func(_ mqtt.Client, msg mqtt.Message) {
		var v T
		if err := json.Unmarshal(msg.Payload(), &v); err != nil {
			log.Printf("display: %s unmarshal error: %v", topic, err)
			return
		}
		apply(v)
	})
	token.Wait()
	if token.Error() != nil {
		return token.Error()
	}
	log.Printf("display: subscribed to %s", topic)
	return nil
}

func RunDisplay() error {
	cfg := config.Get()

	// Initialize periph
	if _, err := host.Init(); err != nil {
		return fmt.Errorf("failed to initialize periph: %w", err)
	}

	// Open I2C bus
	bus, err := i2creg.Open("")
	if err != nil {
		return fmt.Errorf("failed to open I2C bus: %w", err)
	}
	defer bus.Close()

	dev, err := ssd1306.NewI2C(bus, &ssd1306.DefaultOpts)
	if err != nil {
		return fmt.Errorf("failed to initialize display: %w", err)
	}
	defer dev.Halt()
	log.Println("display: initialized")

	if err := dev.Draw(dev.Bounds(), render([]string{"", "  UWB tag", "  ranging..."}), image.Point{}); err != nil {
		log.Printf("display: error showing splash: %v", err)
	}

	data := &DisplayData{}

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.MQTTBroker).
		SetClientID(cfg.MQTTClientIDDisplay)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return token.Error()
	}
	defer client.Disconnect(250)
	log.Printf("display: connected to MQTT broker at %s", cfg.MQTTBroker)

	if err := subscribeJSON(client, cfg.TopicRange, data.setRange); err != nil {
		return err
	}
	if err := subscribeJSON(client, cfg.TopicPosition, data.setPosition); err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	ticker := time.NewTicker(cfg.DisplayInterval())
	defer ticker.Stop()

	log.Println("display: starting update loop")
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := dev.Draw(dev.Bounds(), render(data.lines()), image.Point{}); err != nil {
				log.Printf("display: error updating display: %v", err)
			}
		}
	}
}
