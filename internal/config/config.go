// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package config

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/relabs-tech/uwb_tag/internal/radio"
)

// Radio backends.
const (
	RadioSim    = "sim"
	RadioSerial = "serial"
)

// Config holds all application configuration values. Every field can be
// overridden from the environment with the TWR_ prefix, e.g. TWR_MQTT_BROKER.
type Config struct {
	// MQTT
	MQTTBroker          string `env:"TWR_MQTT_BROKER"`
	MQTTClientIDTag     string `env:"TWR_MQTT_CLIENT_ID_TAG"`
	MQTTClientIDConsole string `env:"TWR_MQTT_CLIENT_ID_CONSOLE"`
	MQTTClientIDWeb     string `env:"TWR_MQTT_CLIENT_ID_WEB"`
	MQTTClientIDDisplay string `env:"TWR_MQTT_CLIENT_ID_DISPLAY"`

	// Topics
	TopicRange    string `env:"TWR_TOPIC_RANGE"`
	TopicPosition string `env:"TWR_TOPIC_POSITION"`
	TopicStats    string `env:"TWR_TOPIC_STATS"`

	// Radio
	Radio           string `env:"TWR_RADIO"` // "sim" or "serial"
	RadioSerialPort string `env:"TWR_RADIO_SERIAL_PORT"`
	RadioBaudRate   uint   `env:"TWR_RADIO_BAUD_RATE"`
	LEDPin          string `env:"TWR_LED_PIN"` // empty: no status LED

	// Exchange timing
	TimeoutStartSentMS int `env:"TWR_TIMEOUT_START_SENT_MS"`
	TimeoutAckMS       int `env:"TWR_TIMEOUT_ACK_MS"`
	TimeoutDataReplyMS int `env:"TWR_TIMEOUT_DATA_REPLY_MS"`
	RangingPeriodMS    int `env:"TWR_RANGING_PERIOD_MS"`
	PollIntervalUS     int `env:"TWR_POLL_INTERVAL_US"`
	StatsIntervalMS    int `env:"TWR_STATS_INTERVAL_MS"`

	// Distance estimation
	OutlierLimit         float64 `env:"TWR_OUTLIER_LIMIT"` // ticks
	RangingUnit          float64 `env:"TWR_RANGING_UNIT"`  // metres per tick
	CalibrationThreshold float64 `env:"TWR_CALIBRATION_THRESHOLD"`
	CalibrationOffset    float64 `env:"TWR_CALIBRATION_OFFSET"`
	CalibrationScale     float64 `env:"TWR_CALIBRATION_SCALE"`
	CalibrationFile      string  `env:"TWR_CALIBRATION_FILE"` // overrides the three values above

	// Geometry
	AnchorBaseline     float64 `env:"TWR_ANCHOR_BASELINE"` // metres, anchor 1 at (baseline, 0)
	OriginNMEA         string  `env:"TWR_ORIGIN_NMEA"`     // RMC or GGA sentence for anchor 0
	BaselineHeadingDeg float64 `env:"TWR_BASELINE_HEADING_DEG"`

	// GPS origin survey, used when ORIGIN_NMEA is empty
	OriginGPSPort     string `env:"TWR_ORIGIN_GPS_PORT"`
	OriginGPSBaudRate uint   `env:"TWR_ORIGIN_GPS_BAUD_RATE"`
	OriginGPSFixes    int    `env:"TWR_ORIGIN_GPS_FIXES"`
	OriginGPSTimeoutS int    `env:"TWR_ORIGIN_GPS_TIMEOUT_S"`

	// Simulation (RADIO=sim)
	SimTagX          float64 `env:"TWR_SIM_TAG_X"`
	SimTagY          float64 `env:"TWR_SIM_TAG_Y"`
	SimAnchorSkewPPM float64 `env:"TWR_SIM_ANCHOR_SKEW_PPM"`
	SimDropRate      float64 `env:"TWR_SIM_DROP_RATE"`
	SimNoiseRate     float64 `env:"TWR_SIM_NOISE_RATE"`
	SimSeed          uint64  `env:"TWR_SIM_SEED"`

	// Web Server
	WebServerPort int `env:"TWR_WEB_SERVER_PORT"`

	// Display
	DisplayUpdateInterval int `env:"TWR_DISPLAY_UPDATE_INTERVAL"` // milliseconds
}

// Package-level unexported variables for singleton pattern:
//   - globalConfig: unexported so other packages cannot modify it without locking.
//   - configOnce: ensures InitGlobal() only runs once, even if called multiple times.
//   - configMu: write lock for initialization, read lock for Get().
var (
	globalConfig *Config
	configOnce   sync.Once
	configMu     sync.RWMutex
)

// Default returns the values used for keys absent from the file.
func Default() *Config {
	return &Config{
		MQTTBroker:          "tcp://localhost:1883",
		MQTTClientIDTag:     "uwb-tag-producer",
		MQTTClientIDConsole: "uwb-console-subscriber",
		MQTTClientIDWeb:     "uwb-web-subscriber",
		MQTTClientIDDisplay: "uwb-display-subscriber",

		TopicRange:    "uwb/range",
		TopicPosition: "uwb/position",
		TopicStats:    "uwb/stats",

		Radio:         RadioSim,
		RadioBaudRate: 115200,

		TimeoutStartSentMS: 5,
		TimeoutAckMS:       10,
		TimeoutDataReplyMS: 20,
		RangingPeriodMS:    500,
		PollIntervalUS:     200,
		StatsIntervalMS:    10000,

		OutlierLimit:         1000,
		RangingUnit:          radio.RangingUnit,
		CalibrationThreshold: 1.5,
		CalibrationOffset:    0.2,
		CalibrationScale:     0.9,

		AnchorBaseline: 1.0,

		OriginGPSBaudRate: 9600,
		OriginGPSFixes:    10,
		OriginGPSTimeoutS: 60,

		SimTagX:          0.5,
		SimTagY:          0.5,
		SimAnchorSkewPPM: 10,
		SimSeed:          1,

		WebServerPort:         8080,
		DisplayUpdateInterval: 500,
	}
}

// Load reads the configuration file, applies TWR_* environment overrides
// and validates the result. Files ending in .yaml or .yml hold a flat
// mapping of the same keys; anything else is KEY=VALUE text.
func Load(configPath string) (*Config, error) {
	cfg := Default()

	var err error
	switch strings.ToLower(filepath.Ext(configPath)) {
	case ".yaml", ".yml":
		err = cfg.loadYAML(configPath)
	default:
		err = cfg.loadText(configPath)
	}
	if err != nil {
		return nil, err
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("config environment: %w", err)
	}
	cfg.Radio = strings.ToLower(cfg.Radio)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadText(configPath string) error {
	file, err := os.Open(configPath)
	if err != nil {
		return fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		// Skip empty lines and comments
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		// Parse KEY=VALUE
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			return fmt.Errorf("invalid config line %d: %q", lineNum, line)
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		if err := c.setValue(key, value); err != nil {
			return fmt.Errorf("config line %d: %w", lineNum, err)
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("error reading config file: %w", err)
	}
	return nil
}

func (c *Config) loadYAML(configPath string) error {
	b, err := os.ReadFile(configPath)
	if err != nil {
		return fmt.Errorf("failed to open config file: %w", err)
	}

	var raw map[string]any
	if err := yaml.Unmarshal(b, &raw); err != nil {
		return fmt.Errorf("invalid yaml config: %w", err)
	}

	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		v := raw[k]
		if v == nil {
			continue
		}
		if err := c.setValue(strings.ToUpper(k), fmt.Sprint(v)); err != nil {
			return fmt.Errorf("config key %s: %w", k, err)
		}
	}
	return nil
}

// setValue sets a configuration value by key.
func (c *Config) setValue(key, value string) error {
	switch key {
	// MQTT
	case "MQTT_BROKER":
		c.MQTTBroker = value
	case "MQTT_CLIENT_ID_TAG":
		c.MQTTClientIDTag = value
	case "MQTT_CLIENT_ID_CONSOLE":
		c.MQTTClientIDConsole = value
	case "MQTT_CLIENT_ID_WEB":
		c.MQTTClientIDWeb = value
	case "MQTT_CLIENT_ID_DISPLAY":
		c.MQTTClientIDDisplay = value

	// Topics
	case "TOPIC_RANGE":
		c.TopicRange = value
	case "TOPIC_POSITION":
		c.TopicPosition = value
	case "TOPIC_STATS":
		c.TopicStats = value

	// Radio
	case "RADIO":
		c.Radio = strings.ToLower(value)
	case "RADIO_SERIAL_PORT":
		c.RadioSerialPort = value
	case "RADIO_BAUD_RATE":
		rate, err := strconv.ParseUint(value, 10, 32)
		if err != nil {
			return fmt.Errorf("invalid RADIO_BAUD_RATE %q: %w", value, err)
		}
		c.RadioBaudRate = uint(rate)
	case "LED_PIN":
		c.LEDPin = value

	// Exchange timing
	case "TIMEOUT_START_SENT_MS":
		return setInt(&c.TimeoutStartSentMS, key, value)
	case "TIMEOUT_ACK_MS":
		return setInt(&c.TimeoutAckMS, key, value)
	case "TIMEOUT_DATA_REPLY_MS":
		return setInt(&c.TimeoutDataReplyMS, key, value)
	case "RANGING_PERIOD_MS":
		return setInt(&c.RangingPeriodMS, key, value)
	case "POLL_INTERVAL_US":
		return setInt(&c.PollIntervalUS, key, value)
	case "STATS_INTERVAL_MS":
		return setInt(&c.StatsIntervalMS, key, value)

	// Distance estimation
	case "OUTLIER_LIMIT":
		return setFloat(&c.OutlierLimit, key, value)
	case "RANGING_UNIT":
		return setFloat(&c.RangingUnit, key, value)
	case "CALIBRATION_THRESHOLD":
		return setFloat(&c.CalibrationThreshold, key, value)
	case "CALIBRATION_OFFSET":
		return setFloat(&c.CalibrationOffset, key, value)
	case "CALIBRATION_SCALE":
		return setFloat(&c.CalibrationScale, key, value)
	case "CALIBRATION_FILE":
		c.CalibrationFile = value

	// Geometry
	case "ANCHOR_BASELINE":
		return setFloat(&c.AnchorBaseline, key, value)
	case "ORIGIN_NMEA":
		c.OriginNMEA = value
	case "BASELINE_HEADING_DEG":
		return setFloat(&c.BaselineHeadingDeg, key, value)

	// GPS origin survey
	case "ORIGIN_GPS_PORT":
		c.OriginGPSPort = value
	case "ORIGIN_GPS_BAUD_RATE":
		rate, err := strconv.ParseUint(value, 10, 32)
		if err != nil {
			return fmt.Errorf("invalid ORIGIN_GPS_BAUD_RATE %q: %w", value, err)
		}
		c.OriginGPSBaudRate = uint(rate)
	case "ORIGIN_GPS_FIXES":
		return setInt(&c.OriginGPSFixes, key, value)
	case "ORIGIN_GPS_TIMEOUT_S":
		return setInt(&c.OriginGPSTimeoutS, key, value)

	// Simulation
	case "SIM_TAG_X":
		return setFloat(&c.SimTagX, key, value)
	case "SIM_TAG_Y":
		return setFloat(&c.SimTagY, key, value)
	case "SIM_ANCHOR_SKEW_PPM":
		return setFloat(&c.SimAnchorSkewPPM, key, value)
	case "SIM_DROP_RATE":
		return setFloat(&c.SimDropRate, key, value)
	case "SIM_NOISE_RATE":
		return setFloat(&c.SimNoiseRate, key, value)
	case "SIM_SEED":
		seed, err := strconv.ParseUint(value, 0, 64)
		if err != nil {
			return fmt.Errorf("invalid SIM_SEED %q: %w", value, err)
		}
		c.SimSeed = seed

	// Web Server
	case "WEB_SERVER_PORT":
		return setInt(&c.WebServerPort, key, value)

	// Display
	case "DISPLAY_UPDATE_INTERVAL":
		return setInt(&c.DisplayUpdateInterval, key, value)

	default:
		return fmt.Errorf("unknown config key: %q", key)
	}

	return nil
}

func setInt(dst *int, key, value string) error {
	v, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	*dst = v
	return nil
}

func setFloat(dst *float64, key, value string) error {
	v, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	*dst = v
	return nil
}

// validate checks that all required fields are set and in range.
func (c *Config) validate() error {
	if c.MQTTBroker == "" {
		return fmt.Errorf("MQTT_BROKER is required")
	}
	switch c.Radio {
	case RadioSim:
	case RadioSerial:
		if c.RadioSerialPort == "" {
			return fmt.Errorf("RADIO_SERIAL_PORT is required when RADIO=serial")
		}
		if c.RadioBaudRate == 0 {
			return fmt.Errorf("RADIO_BAUD_RATE is required when RADIO=serial")
		}
	default:
		return fmt.Errorf("RADIO must be %q or %q, got %q", RadioSim, RadioSerial, c.Radio)
	}

	positive := []struct {
		key string
		val int
	}{
		{"TIMEOUT_START_SENT_MS", c.TimeoutStartSentMS},
		{"TIMEOUT_ACK_MS", c.TimeoutAckMS},
		{"TIMEOUT_DATA_REPLY_MS", c.TimeoutDataReplyMS},
		{"RANGING_PERIOD_MS", c.RangingPeriodMS},
		{"POLL_INTERVAL_US", c.PollIntervalUS},
		{"STATS_INTERVAL_MS", c.StatsIntervalMS},
	}
	for _, p := range positive {
		if p.val <= 0 {
			return fmt.Errorf("%s must be > 0, got %d", p.key, p.val)
		}
	}

	if c.OutlierLimit <= 0 {
		return fmt.Errorf("OUTLIER_LIMIT must be > 0, got %v", c.OutlierLimit)
	}
	if c.RangingUnit <= 0 {
		return fmt.Errorf("RANGING_UNIT must be > 0, got %v", c.RangingUnit)
	}
	if c.CalibrationScale <= 0 {
		return fmt.Errorf("CALIBRATION_SCALE must be > 0, got %v", c.CalibrationScale)
	}
	if c.AnchorBaseline == 0 {
		return fmt.Errorf("ANCHOR_BASELINE must not be 0")
	}
	if c.OriginGPSPort != "" && (c.OriginGPSFixes <= 0 || c.OriginGPSTimeoutS <= 0 || c.OriginGPSBaudRate == 0) {
		return fmt.Errorf("ORIGIN_GPS_FIXES, ORIGIN_GPS_TIMEOUT_S and ORIGIN_GPS_BAUD_RATE must be > 0 when ORIGIN_GPS_PORT is set")
	}
	if c.SimDropRate < 0 || c.SimDropRate > 1 {
		return fmt.Errorf("SIM_DROP_RATE must be 0-1, got %v", c.SimDropRate)
	}
	if c.SimNoiseRate < 0 || c.SimNoiseRate > 1 {
		return fmt.Errorf("SIM_NOISE_RATE must be 0-1, got %v", c.SimNoiseRate)
	}
	if c.WebServerPort <= 0 || c.WebServerPort > 65535 {
		return fmt.Errorf("WEB_SERVER_PORT must be 1-65535, got %d", c.WebServerPort)
	}
	return nil
}

// InitGlobal initializes the global configuration from file.
// Uses sync.Once to ensure this only runs once, even if called multiple times.
func InitGlobal(configPath string) error {
	var err error
	configOnce.Do(func() {
		configMu.Lock()
		defer configMu.Unlock()
		globalConfig, err = Load(configPath)
	})
	return err
}

// Get returns the global configuration instance.
// InitGlobal must be called first, or this will return nil.
func Get() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return globalConfig
}
