// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"log"
	"os"

	"github.com/relabs-tech/uwb_tag/internal/config"
	"github.com/relabs-tech/uwb_tag/internal/radio"
	"github.com/relabs-tech/uwb_tag/internal/ranging"
	"github.com/relabs-tech/uwb_tag/internal/report"
)

// RunConsole ranges against simulated anchors and prints the status table,
// without MQTT or hardware.
func RunConsole() error {
	cfg := config.Get()

	est, err := cfg.Estimator()
	if err != nil {
		return err
	}

	sim := radio.NewSim(cfg.SimConfig())
	engine := ranging.NewEngine(sim, cfg.EngineConfig(), est, cfg.Geometry())
	table := report.NewTable(os.Stdout)

	log.Printf("console: simulated tag at (%.2f, %.2f), baseline %.2f m",
		cfg.SimTagX, cfg.SimTagY, cfg.AnchorBaseline)

	ctx, cancel := signalContext()
	defer cancel()

	if err := table.WriteHeader(); err != nil {
		log.Printf("console: write error: %v", err)
	}
	engine.Run(ctx, cfg.PollInterval(), func(res *ranging.Result) {
		if err := table.Write(res); err != nil {
			log.Printf("console: write error: %v", err)
		}
	})

	s := engine.Stats()
	log.Printf("console: %d cycles started, %d completed, %d aborted", s.Started, s.Completed, s.Aborted())
	return nil
}
