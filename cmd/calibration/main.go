// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// ./cmd/calibration/main.go
//
// Guided distance calibration for the UWB tag.
// For each tape-measured position the operator enters the true distance to one
// anchor; the tool ranges for a few seconds and records the mean raw
// (uncalibrated) distance. The two-segment curve is then fitted:
//  1. Above the threshold: constant offset, mean(raw - true)
//  2. At or below it:      scale through the origin, least squares
//
// Output:
//
//	Writes a JSON file loadable through CALIBRATION_FILE.
//
// Run:
//
//	go run ./cmd/calibration -config uwb_config.txt
//
// Notes / assumptions:
//   - With RADIO=sim the simulated tag is moved to the entered distance, which
//     makes the workflow usable without hardware.
//   - Use at least two points on each side of the threshold; a segment with no
//     points keeps the configured value.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/relabs-tech/uwb_tag/internal/config"
	"github.com/relabs-tech/uwb_tag/internal/radio"
	"github.com/relabs-tech/uwb_tag/internal/ranging"
)

const (
	captureDuration = 5 * time.Second
	minSamples      = 3

	// Raw spread above which a point is flagged as noisy (metres).
	noisyStd = 0.05
)

// PointStats describes one capture.
type PointStats struct {
	Samples int     `json:"samples"`
	Mean    float64 `json:"mean_m"`
	StdDev  float64 `json:"stddev_m"`
}

// ---------- Main ----------

func main() {
	in := bufio.NewReader(os.Stdin)

	// Parse command-line flags
	configPath := flag.String("config", "uwb_config.txt", "Path to configuration file")
	outPath := flag.String("out", "", "Output file (default ./uwb_calibration_<timestamp>.json)")
	anchorFlag := flag.Int("anchor", 0, "Anchor to calibrate against (0 or 1)")
	flag.Parse()

	fmt.Println("=== Guided Distance Calibration ===")
	fmt.Println("You will place the tag at known distances from one anchor and enter each distance.")
	fmt.Println()

	// Initialize configuration
	if err := config.InitGlobal(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: Failed to load config from %s: %v\n", *configPath, err)
		os.Exit(1)
	}
	cfg := config.Get()

	if *anchorFlag < 0 || *anchorFlag >= ranging.NumAnchors {
		fatal(fmt.Errorf("anchor must be 0..%d, got %d", ranging.NumAnchors-1, *anchorFlag))
	}
	anchor := uint8(*anchorFlag)

	r, sim, closeRadio, err := openRadio(cfg)
	if err != nil {
		fatal(err)
	}
	defer closeRadio()

	base := ranging.Calibration{
		Threshold: cfg.CalibrationThreshold,
		Offset:    cfg.CalibrationOffset,
		Scale:     cfg.CalibrationScale,
	}
	est := ranging.Estimator{Unit: cfg.RangingUnit, OutlierLimit: cfg.OutlierLimit, Calibration: base}
	engine := ranging.NewEngine(r, cfg.EngineConfig(), est, cfg.Geometry())

	fmt.Printf("Calibrating against anchor %d, threshold %.2f m\n\n", anchor, base.Threshold)

	var points []ranging.CalibrationPoint
	for step := 1; ; step++ {
		fmt.Printf("Step %d: place the tag and measure its distance to anchor %d.\n", step, anchor)
		d, ok, err := readDistance(in, "True distance in metres (ENTER to finish): ")
		if err != nil {
			fmt.Printf("  %v\n\n", err)
			step--
			continue
		}
		if !ok {
			break
		}

		if sim != nil {
			placeSimTag(sim, cfg, anchor, d)
		}

		fmt.Printf("  ranging for %s...\n", captureDuration)
		raws := capture(engine, anchor, cfg.PollInterval(), captureDuration)
		st := summarize(raws)
		if st.Samples < minSamples {
			fmt.Printf("  only %d samples, point skipped (check anchor %d is powered)\n\n", st.Samples, anchor)
			continue
		}

		points = append(points, ranging.CalibrationPoint{True: d, Raw: st.Mean})
		fmt.Printf("  raw=%.3f m  stddev=%.3f m  n=%d  error=%+.3f m\n", st.Mean, st.StdDev, st.Samples, st.Mean-d)
		if st.StdDev > noisyStd {
			fmt.Println("  WARNING: noisy capture, consider repeating this point")
		}
		fmt.Println()
	}

	cal, err := ranging.FitCalibration(points, base)
	if err != nil {
		fatal(err)
	}

	f := ranging.NewCalibrationFile(cal, points, time.Now())
	fmt.Println("=== Result ===")
	fmt.Printf("threshold=%.3f m  offset=%.4f m  scale=%.4f  rms residual=%.4f m\n",
		cal.Threshold, cal.Offset, cal.Scale, f.Residual)

	if err := writeResult(f, *outPath); err != nil {
		fatal(err)
	}

	s := engine.Stats()
	fmt.Printf("Exchanges: %d started, %d completed, %d aborted, %d outliers\n",
		s.Started, s.Completed, s.Aborted(), s.Outliers)
}

func openRadio(cfg *config.Config) (radio.Radio, *radio.Sim, func() error, error) {
	if cfg.Radio == config.RadioSerial {
		b, err := radio.OpenSerialBridge(cfg.RadioSerialPort, cfg.RadioBaudRate)
		if err != nil {
			return nil, nil, nil, err
		}
		return b, nil, b.Close, nil
	}
	sim := radio.NewSim(cfg.SimConfig())
	return sim, sim, func() error { return nil }, nil
}

// placeSimTag puts the simulated tag d metres from the anchor, perpendicular
// to the baseline.
func placeSimTag(sim *radio.Sim, cfg *config.Config, anchor uint8, d float64) {
	x := 0.0
	if anchor == 1 {
		x = cfg.AnchorBaseline
	}
	sim.SetTag(x, d)
}

// capture ranges for dur and returns the raw distances to anchor.
func capture(engine *ranging.Engine, anchor uint8, poll, dur time.Duration) []float64 {
	ctx, cancel := context.WithTimeout(context.Background(), dur)
	defer cancel()

	var raws []float64
	engine.Run(ctx, poll, func(res *ranging.Result) {
		if res.AnchorID == anchor {
			raws = append(raws, res.Raw)
		}
	})
	return raws
}

func summarize(xs []float64) PointStats {
	st := PointStats{Samples: len(xs)}
	if len(xs) == 0 {
		return st
	}
	for _, x := range xs {
		st.Mean += x
	}
	st.Mean /= float64(len(xs))
	if len(xs) > 1 {
		var s2 float64
		for _, x := range xs {
			s2 += (x - st.Mean) * (x - st.Mean)
		}
		st.StdDev = math.Sqrt(s2 / float64(len(xs)-1))
	}
	return st
}

// readDistance returns ok=false on an empty line or EOF.
func readDistance(in *bufio.Reader, prompt string) (float64, bool, error) {
	fmt.Print(prompt)
	line, err := in.ReadString('\n')
	if err != nil && line == "" {
		return 0, false, nil
	}
	line = strings.TrimSpace(line)
	if line == "" {
		return 0, false, nil
	}
	d, err := strconv.ParseFloat(line, 64)
	if err != nil || !(d > 0) || math.IsInf(d, 0) {
		return 0, false, fmt.Errorf("invalid distance %q", line)
	}
	return d, true, nil
}

func writeResult(f ranging.CalibrationFile, name string) error {
	if name == "" {
		ts := time.Now().Format("2006-01-02T15-04-05Z07-00")
		name = fmt.Sprintf("uwb_calibration_%s.json", ts)
	}
	if err := f.Save(name); err != nil {
		return err
	}
	fmt.Printf("\nWrote: %s\n", name)
	fmt.Printf("Set CALIBRATION_FILE=%s to use it.\n", name)
	return nil
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
	os.Exit(1)
}
