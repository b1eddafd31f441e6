// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package config

import (
	"bufio"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"sync"
)

// Config holds all application configuration values.
type Config struct {
	// MQTT
	MQTTBroker           string
	MQTTUsername         string
	MQTTPassword         string
	MQTTClientIDViewer   string
	MQTTClientIDMotion   string
	MQTTClientIDProducer string
	MQTTClientIDGPS      string
	MQTTClientIDDisplay  string

	// Topics
	TopicMotion      string // raw motion events consumed by the RawMotionEvent backend
	TopicQR          string // decoded QR payloads
	TopicScanCommand string // "start" / "stop" for the external scanner
	TopicAlerts      string
	TopicSnapshot    string
	TopicGPS         string

	// Motion controller
	MotionBackends    []string // preference order: "fusion", "generic", "raw"
	MotionThreshold   float64  // m/s²
	MotionDamping     float64
	MotionEpsilon     float64
	MotionMaxSampleDT float64 // seconds

	// IMU Hardware (GenericSensor backend)
	IMUSPIDevice       string
	IMUCSPin           string
	IMUAccelRange      byte // 0=±2g, 1=±4g, 2=±8g, 3=±16g
	IMUSampleFrequency int  // Hz

	// Fusion service (FusionLibrary backend)
	FusionURL   string
	FusionToken string

	// Scene
	RenderFPS      int
	ModelPath      string
	CameraDistance float64 // metres between camera start and model

	// Target asset
	TargetAssetID    string
	AssetName        string
	AssetDescription string
	AssetLongitude   float64
	AssetLatitude    float64

	// Web Server
	WebServerPort int
	WebStaticDir  string

	// GPS
	GPSSerialPort string
	GPSBaudRate   int

	// Producer / Display
	ProducerMode           string // "mock" or "imu"
	ProducerSampleInterval int    // milliseconds
	DisplayUpdateInterval  int    // milliseconds
}

// Package-level singleton, guarded the same way for every binary:
// InitGlobal sets it exactly once, Get reads it under RLock.
var (
	globalConfig *Config
	configOnce   sync.Once
	configMu     sync.RWMutex
)

// Default returns a Config with the motion constants and topic names
// pre-filled. Load starts from these values.
func Default() *Config {
	return &Config{
		MQTTClientIDViewer:   "ar-walk-viewer",
		MQTTClientIDMotion:   "ar-walk-motion",
		MQTTClientIDProducer: "ar-walk-motion-producer",
		MQTTClientIDGPS:      "ar-walk-gps",
		MQTTClientIDDisplay:  "ar-walk-display",

		TopicMotion:      "arwalk/motion",
		TopicQR:          "arwalk/qr",
		TopicScanCommand: "arwalk/scan",
		TopicAlerts:      "arwalk/alerts",
		TopicSnapshot:    "arwalk/snapshot",
		TopicGPS:         "arwalk/gps",

		MotionBackends:    []string{"fusion", "generic", "raw"},
		MotionThreshold:   0.2,
		MotionDamping:     0.95,
		MotionEpsilon:     0.001,
		MotionMaxSampleDT: 0.25,

		IMUSPIDevice:       "/dev/spidev0.0",
		IMUCSPin:           "8",
		IMUSampleFrequency: 60,

		RenderFPS:      60,
		CameraDistance: 5,

		AssetName:        "Teste",
		AssetDescription: "Teste de entidade",
		AssetLongitude:   -47.8833,
		AssetLatitude:    -22.0167,

		WebServerPort: 8080,
		WebStaticDir:  "web",

		GPSSerialPort: "/dev/serial0",
		GPSBaudRate:   9600,

		ProducerMode:           "mock",
		ProducerSampleInterval: 16,
		DisplayUpdateInterval:  250,
	}
}

// Load reads the configuration file and returns a Config struct.
func Load(configPath string) (*Config, error) {
	file, err := os.Open(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	cfg := Default()
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
			return nil, fmt.Errorf("invalid config line %d: %q", lineNum, line)
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		if err := cfg.setValue(key, value); err != nil {
			return nil, fmt.Errorf("config line %d: %w", lineNum, err)
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// setValue sets a config value based on the key.
func (c *Config) setValue(key, value string) error {
	var err error

	switch key {
	// MQTT
	case "MQTT_BROKER":
		c.MQTTBroker = value
	case "MQTT_USERNAME":
		c.MQTTUsername = value
	case "MQTT_PASSWORD":
		c.MQTTPassword = value
	case "MQTT_CLIENT_ID_VIEWER":
		c.MQTTClientIDViewer = value
	case "MQTT_CLIENT_ID_MOTION":
		c.MQTTClientIDMotion = value
	case "MQTT_CLIENT_ID_PRODUCER":
		c.MQTTClientIDProducer = value
	case "MQTT_CLIENT_ID_GPS":
		c.MQTTClientIDGPS = value
	case "MQTT_CLIENT_ID_DISPLAY":
		c.MQTTClientIDDisplay = value

	// Topics
	case "TOPIC_MOTION":
		c.TopicMotion = value
	case "TOPIC_QR":
		c.TopicQR = value
	case "TOPIC_SCAN_COMMAND":
		c.TopicScanCommand = value
	case "TOPIC_ALERTS":
		c.TopicAlerts = value
	case "TOPIC_SNAPSHOT":
		c.TopicSnapshot = value
	case "TOPIC_GPS":
		c.TopicGPS = value

	// Motion controller
	case "MOTION_BACKENDS":
		backends, perr := parseBackends(value)
		if perr != nil {
			return perr
		}
		c.MotionBackends = backends
	case "MOTION_THRESHOLD":
		c.MotionThreshold, err = parseFloat(key, value)
		if err == nil && c.MotionThreshold < 0 {
			err = fmt.Errorf("MOTION_THRESHOLD must be >= 0, got %g", c.MotionThreshold)
		}
	case "MOTION_DAMPING":
		c.MotionDamping, err = parseFloat(key, value)
		if err == nil && (c.MotionDamping <= 0 || c.MotionDamping >= 1) {
			err = fmt.Errorf("MOTION_DAMPING must be in (0, 1), got %g", c.MotionDamping)
		}
	case "MOTION_EPSILON":
		c.MotionEpsilon, err = parseFloat(key, value)
		if err == nil && c.MotionEpsilon <= 0 {
			err = fmt.Errorf("MOTION_EPSILON must be > 0, got %g", c.MotionEpsilon)
		}
	case "MOTION_MAX_SAMPLE_DT":
		c.MotionMaxSampleDT, err = parseFloat(key, value)

	// IMU Hardware
	case "IMU_SPI_DEVICE":
		c.IMUSPIDevice = value
	case "IMU_CS_PIN":
		c.IMUCSPin = value
	case "IMU_ACCEL_RANGE":
		rangeVal, perr := strconv.Atoi(value)
		if perr != nil {
			return fmt.Errorf("invalid IMU_ACCEL_RANGE %q: %w", value, perr)
		}
		if rangeVal < 0 || rangeVal > 3 {
			return fmt.Errorf("IMU_ACCEL_RANGE must be 0-3 (0=±2g, 1=±4g, 2=±8g, 3=±16g), got %d", rangeVal)
		}
		c.IMUAccelRange = byte(rangeVal)
	case "IMU_SAMPLE_FREQUENCY":
		c.IMUSampleFrequency, err = parseInt(key, value)
		if err == nil && c.IMUSampleFrequency <= 0 {
			err = fmt.Errorf("IMU_SAMPLE_FREQUENCY must be > 0, got %d", c.IMUSampleFrequency)
		}

	// Fusion service
	case "FUSION_URL":
		c.FusionURL = value
	case "FUSION_TOKEN":
		c.FusionToken = value

	// Scene
	case "RENDER_FPS":
		c.RenderFPS, err = parseInt(key, value)
		if err == nil && c.RenderFPS <= 0 {
			err = fmt.Errorf("RENDER_FPS must be > 0, got %d", c.RenderFPS)
		}
	case "MODEL_PATH":
		c.ModelPath = value
	case "CAMERA_DISTANCE":
		c.CameraDistance, err = parseFloat(key, value)

	// Target asset
	case "TARGET_ASSET_ID":
		c.TargetAssetID = value
	case "ASSET_NAME":
		c.AssetName = value
	case "ASSET_DESCRIPTION":
		c.AssetDescription = value
	case "ASSET_LONGITUDE":
		c.AssetLongitude, err = parseFloat(key, value)
	case "ASSET_LATITUDE":
		c.AssetLatitude, err = parseFloat(key, value)

	// Web Server
	case "WEB_SERVER_PORT":
		c.WebServerPort, err = parseInt(key, value)
	case "WEB_STATIC_DIR":
		c.WebStaticDir = value

	// GPS
	case "GPS_SERIAL_PORT":
		c.GPSSerialPort = value
	case "GPS_BAUD_RATE":
		c.GPSBaudRate, err = parseInt(key, value)

	// Producer / Display
	case "PRODUCER_MODE":
		if value != "mock" && value != "imu" {
			return fmt.Errorf("PRODUCER_MODE must be mock or imu, got %q", value)
		}
		c.ProducerMode = value
	case "PRODUCER_SAMPLE_INTERVAL":
		c.ProducerSampleInterval, err = parseInt(key, value)
	case "DISPLAY_UPDATE_INTERVAL":
		c.DisplayUpdateInterval, err = parseInt(key, value)

	default:
		return fmt.Errorf("unknown config key: %q", key)
	}

	return err
}

func parseInt(key, value string) (int, error) {
	v, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	return v, nil
}

func parseFloat(key, value string) (float64, error) {
	v, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("invalid %s %q: must be finite", key, value)
	}
	return v, nil
}

func parseBackends(value string) ([]string, error) {
	var out []string
	for _, name := range strings.Split(value, ",") {
		name = strings.ToLower(strings.TrimSpace(name))
		if name == "" {
			continue
		}
		switch name {
		case "fusion", "generic", "raw":
			out = append(out, name)
		default:
			return nil, fmt.Errorf("unknown motion backend %q (want fusion, generic or raw)", name)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("MOTION_BACKENDS must name at least one backend")
	}
	return out, nil
}

// validate checks that all required fields are set.
func (c *Config) validate() error {
	if c.MQTTBroker == "" {
		return fmt.Errorf("MQTT_BROKER is required")
	}
	if c.TargetAssetID == "" {
		return fmt.Errorf("TARGET_ASSET_ID is required")
	}
	if c.WebServerPort <= 0 || c.WebServerPort > 65535 {
		return fmt.Errorf("WEB_SERVER_PORT must be 1-65535, got %d", c.WebServerPort)
	}
	if c.MotionMaxSampleDT <= 0 {
		return fmt.Errorf("MOTION_MAX_SAMPLE_DT must be > 0, got %g", c.MotionMaxSampleDT)
	}
	return nil
}

// InitGlobal initializes the global configuration from file.
// Only the first call loads; later calls are no-ops and return nil.
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
