// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"encoding/json"
	"fmt"
	"log"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/relabs-tech/uwb_tag/internal/config"
	"github.com/relabs-tech/uwb_tag/internal/report"
)

func formatRange(r report.Range) string {
	return fmt.Sprintf("[RANGE] anchor=%d  tof=%8.2f ticks  raw=%7.3f m  dist=%7.3f m  skew=%+6.2f ppm",
		r.AnchorID, r.ToF, r.Raw, r.Distance, r.Skew)
}

func formatPosition(p report.Position) string {
	s := fmt.Sprintf("[POS ] d0=%7.3f d1=%7.3f  x=%7.3f y=%7.3f  age=%dms",
		p.D0, p.D1, p.X, p.Y, p.AgeMS)
	if p.Lat != nil && p.Lon != nil {
		s += fmt.Sprintf("  lat=%.7f lon=%.7f", *p.Lat, *p.Lon)
	}
	return s
}

func formatStats(s report.Stats) string {
	return fmt.Sprintf("[STAT] started=%d completed=%d timeouts=%d/%d/%d tx_err=%d unexpected=%d outliers=%d unknown=%d no_fix=%d",
		s.Started, s.Completed, s.StartTimeouts, s.AckTimeouts, s.ReplyTimeouts,
		s.TransmitErrors, s.UnexpectedFrames, s.Outliers, s.UnknownAnchors, s.NoFix)
}

func subscribePrint[T any](client mqtt.Client, topic string, format func(T) string) error {
	token := client.Subscribe(topic, 0, func(_ mqtt.Client, msg mqtt.Message) {
		var v T
		if err := json.Unmarshal(msg.Payload(), &v); err != nil {
			log.Printf("console: %s unmarshal error: %v", topic, err)
			return
		}
		fmt.Println(format(v))
	})
	token.Wait()
	if token.Error() != nil {
		return token.Error()
	}
	log.Printf("console: subscribed to %s", topic)
	return nil
}

func RunConsoleMQTT() error {
	cfg := config.Get()

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.MQTTBroker).
		SetClientID(cfg.MQTTClientIDConsole)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return token.Error()
	}
	log.Printf("console: connected to MQTT broker at %s", cfg.MQTTBroker)

	if err := subscribePrint(client, cfg.TopicRange, formatRange); err != nil {
		return err
	}
	if err := subscribePrint(client, cfg.TopicPosition, formatPosition); err != nil {
		return err
	}
	if err := subscribePrint(client, cfg.TopicStats, formatStats); err != nil {
		return err
	}

	// Wait for Ctrl+C
	ctx, cancel := signalContext()
	defer cancel()
	<-ctx.Done()

	log.Println("console: shutting down")
	client.Disconnect(250)
	return nil
}
