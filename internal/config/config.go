// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package config

import (
	"fmt"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/joho/godotenv"
)

// Config holds all application configuration values.
type Config struct {
	// Logging
	LogLevel  string
	LogFormat string // text or json

	// Ingestion
	IngestSource     string // tcp, mqtt, serial or websocket
	IMUListenAddr    string
	IMUWebsocketURL  string
	IMUSerialPort    string
	IMUSerialBaud    int
	GyroBiasFile     string
	CalibrationsPath string

	// MQTT
	MQTTBroker           string
	MQTTClientIDLive     string
	MQTTClientIDProducer string
	MQTTClientIDConsole  string

	// Topics
	TopicIMUSamples  string
	TopicOrientation string

	// Web Server
	WebServerPort int

	// Session
	RetentionSeconds        float64
	IntegrateIntervalMS     int
	LiveWindowMS            int
	SmoothingTimeConstantMS int
	ClockScale              float64
	ClockOffsetUS           float64

	// Render
	VideoFPS     float64
	QueryPreMS   float64
	QueryPostMS  float64
	CenterRatio  float64
	FallbackOK   bool
	FramePolicy  string // hold or skip
	RenderStream string // raw or smoothed

	// Queues
	SampleQueueCapacity int
	FrameQueueCapacity  int

	// Batch
	BatchWindowMS int
	BatchStepMS   int
}

// Keys lists every recognised configuration key.
var Keys = []string{
	"LOG_LEVEL", "LOG_FORMAT",
	"INGEST_SOURCE", "IMU_LISTEN_ADDR", "IMU_WEBSOCKET_URL", "IMU_SERIAL_PORT", "IMU_SERIAL_BAUD",
	"GYRO_BIAS_FILE", "CALIBRATIONS_PATH",
	"MQTT_BROKER", "MQTT_CLIENT_ID_LIVE", "MQTT_CLIENT_ID_PRODUCER", "MQTT_CLIENT_ID_CONSOLE",
	"TOPIC_IMU_SAMPLES", "TOPIC_ORIENTATION",
	"WEB_SERVER_PORT",
	"RETENTION_SECONDS", "INTEGRATE_INTERVAL_MS", "LIVE_WINDOW_MS", "SMOOTHING_TIME_CONSTANT_MS",
	"CLOCK_SCALE", "CLOCK_OFFSET_US",
	"VIDEO_FPS", "QUERY_PRE_MS", "QUERY_POST_MS", "CENTER_RATIO", "FALLBACK_OK", "FRAME_POLICY", "RENDER_STREAM",
	"SAMPLE_QUEUE_CAPACITY", "FRAME_QUEUE_CAPACITY",
	"BATCH_WINDOW_MS", "BATCH_STEP_MS",
}

// Default returns the configuration used when neither the file nor the
// environment sets a key.
func Default() *Config {
	return &Config{
		LogLevel:                "info",
		LogFormat:               "text",
		IngestSource:            "tcp",
		IMUListenAddr:           "127.0.0.1:7007",
		IMUSerialBaud:           115200,
		CalibrationsPath:        "calibrations",
		MQTTBroker:              "tcp://localhost:1883",
		MQTTClientIDLive:        "stabilizer-live",
		MQTTClientIDProducer:    "stabilizer-producer",
		MQTTClientIDConsole:     "stabilizer-console",
		TopicIMUSamples:         "stabilizer/imu",
		TopicOrientation:        "stabilizer/orientation",
		WebServerPort:           8080,
		RetentionSeconds:        3,
		IntegrateIntervalMS:     10,
		LiveWindowMS:            1000,
		SmoothingTimeConstantMS: 200,
		ClockScale:              1,
		VideoFPS:                30,
		QueryPreMS:              50,
		QueryPostMS:             50,
		CenterRatio:             0.5,
		FallbackOK:              true,
		FramePolicy:             "hold",
		RenderStream:            "smoothed",
		SampleQueueCapacity:     2048,
		FrameQueueCapacity:      64,
		BatchWindowMS:           3000,
		BatchStepMS:             1000,
	}
}

// Package-level unexported variables for singleton pattern:
//   - globalConfig: only reachable through InitGlobal and Get.
//   - configOnce: ensures InitGlobal() only runs once.
//   - configMu: write lock for initialization, read lock for Get().
var (
	globalConfig *Config
	configOnce   sync.Once
	configMu     sync.RWMutex
)

// Load builds a Config from defaults, then the KEY=VALUE file at
// configPath (skipped when empty), then process environment variables with
// the same names. Unknown keys in the file are an error.
func Load(configPath string) (*Config, error) {
	cfg := Default()

	if configPath != "" {
		file, err := os.Open(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open config file: %w", err)
		}
		values, err := godotenv.Parse(file)
		file.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", configPath, err)
		}

		keys := make([]string, 0, len(values))
		for k := range values {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if err := cfg.setValue(k, strings.TrimSpace(values[k])); err != nil {
				return nil, fmt.Errorf("config file %s: %w", configPath, err)
			}
		}
	}

	for _, k := range Keys {
		if v, ok := os.LookupEnv(k); ok && v != "" {
			if err := cfg.setValue(k, strings.TrimSpace(v)); err != nil {
				return nil, fmt.Errorf("environment: %w", err)
			}
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func parseInt(key, value string) (int, error) {
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	return n, nil
}

func parseFloat(key, value string) (float64, error) {
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("invalid %s %q: not a finite number", key, value)
	}
	return f, nil
}

// setValue sets a config value based on the key.
func (c *Config) setValue(key, value string) error {
	var err error
	switch key {
	// Logging
	case "LOG_LEVEL":
		c.LogLevel = value
	case "LOG_FORMAT":
		c.LogFormat = value

	// Ingestion
	case "INGEST_SOURCE":
		c.IngestSource = strings.ToLower(value)
	case "IMU_LISTEN_ADDR":
		c.IMUListenAddr = value
	case "IMU_WEBSOCKET_URL":
		c.IMUWebsocketURL = value
	case "IMU_SERIAL_PORT":
		c.IMUSerialPort = value
	case "IMU_SERIAL_BAUD":
		c.IMUSerialBaud, err = parseInt(key, value)
	case "GYRO_BIAS_FILE":
		c.GyroBiasFile = value
	case "CALIBRATIONS_PATH":
		c.CalibrationsPath = value

	// MQTT
	case "MQTT_BROKER":
		c.MQTTBroker = value
	case "MQTT_CLIENT_ID_LIVE":
		c.MQTTClientIDLive = value
	case "MQTT_CLIENT_ID_PRODUCER":
		c.MQTTClientIDProducer = value
	case "MQTT_CLIENT_ID_CONSOLE":
		c.MQTTClientIDConsole = value

	// Topics
	case "TOPIC_IMU_SAMPLES":
		c.TopicIMUSamples = value
	case "TOPIC_ORIENTATION":
		c.TopicOrientation = value

	// Web Server
	case "WEB_SERVER_PORT":
		c.WebServerPort, err = parseInt(key, value)

	// Session
	case "RETENTION_SECONDS":
		c.RetentionSeconds, err = parseFloat(key, value)
	case "INTEGRATE_INTERVAL_MS":
		c.IntegrateIntervalMS, err = parseInt(key, value)
	case "LIVE_WINDOW_MS":
		c.LiveWindowMS, err = parseInt(key, value)
	case "SMOOTHING_TIME_CONSTANT_MS":
		c.SmoothingTimeConstantMS, err = parseInt(key, value)
	case "CLOCK_SCALE":
		c.ClockScale, err = parseFloat(key, value)
	case "CLOCK_OFFSET_US":
		c.ClockOffsetUS, err = parseFloat(key, value)

	// Render
	case "VIDEO_FPS":
		c.VideoFPS, err = parseFloat(key, value)
	case "QUERY_PRE_MS":
		c.QueryPreMS, err = parseFloat(key, value)
	case "QUERY_POST_MS":
		c.QueryPostMS, err = parseFloat(key, value)
	case "CENTER_RATIO":
		c.CenterRatio, err = parseFloat(key, value)
	case "FALLBACK_OK":
		c.FallbackOK, err = strconv.ParseBool(value)
		if err != nil {
			err = fmt.Errorf("invalid %s %q: %w", key, value, err)
		}
	case "FRAME_POLICY":
		c.FramePolicy = strings.ToLower(value)
	case "RENDER_STREAM":
		c.RenderStream = strings.ToLower(value)

	// Queues
	case "SAMPLE_QUEUE_CAPACITY":
		c.SampleQueueCapacity, err = parseInt(key, value)
	case "FRAME_QUEUE_CAPACITY":
		c.FrameQueueCapacity, err = parseInt(key, value)

	// Batch
	case "BATCH_WINDOW_MS":
		c.BatchWindowMS, err = parseInt(key, value)
	case "BATCH_STEP_MS":
		c.BatchStepMS, err = parseInt(key, value)

	default:
		return fmt.Errorf("unknown config key: %q", key)
	}
	return err
}

// validate checks ranges and enumerations.
func (c *Config) validate() error {
	switch c.IngestSource {
	case "tcp", "mqtt", "serial", "websocket":
	default:
		return fmt.Errorf("INGEST_SOURCE must be tcp, mqtt, serial or websocket, got %q", c.IngestSource)
	}
	switch c.FramePolicy {
	case "hold", "skip":
	default:
		return fmt.Errorf("FRAME_POLICY must be hold or skip, got %q", c.FramePolicy)
	}
	switch c.RenderStream {
	case "raw", "smoothed":
	default:
		return fmt.Errorf("RENDER_STREAM must be raw or smoothed, got %q", c.RenderStream)
	}
	if c.IngestSource == "serial" && c.IMUSerialPort == "" {
		return fmt.Errorf("IMU_SERIAL_PORT is required for serial ingestion")
	}
	if c.IngestSource == "websocket" && c.IMUWebsocketURL == "" {
		return fmt.Errorf("IMU_WEBSOCKET_URL is required for websocket ingestion")
	}
	if c.RetentionSeconds <= 0 {
		return fmt.Errorf("RETENTION_SECONDS must be positive")
	}
	if c.IntegrateIntervalMS <= 0 {
		return fmt.Errorf("INTEGRATE_INTERVAL_MS must be positive")
	}
	if c.LiveWindowMS <= 0 {
		return fmt.Errorf("LIVE_WINDOW_MS must be positive")
	}
	if c.VideoFPS <= 0 {
		return fmt.Errorf("VIDEO_FPS must be positive")
	}
	if c.CenterRatio < 0 {
		return fmt.Errorf("CENTER_RATIO must not be negative")
	}
	if c.ClockScale == 0 {
		return fmt.Errorf("CLOCK_SCALE must not be zero")
	}
	if c.SampleQueueCapacity <= 0 || c.FrameQueueCapacity <= 0 {
		return fmt.Errorf("queue capacities must be positive")
	}
	if c.BatchWindowMS <= 0 || c.BatchStepMS <= 0 {
		return fmt.Errorf("BATCH_WINDOW_MS and BATCH_STEP_MS must be positive")
	}
	if c.WebServerPort <= 0 || c.WebServerPort > 65535 {
		return fmt.Errorf("WEB_SERVER_PORT out of range: %d", c.WebServerPort)
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
