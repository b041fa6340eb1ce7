package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// MaxConfigFileBytes bounds the size of a config file.
const MaxConfigFileBytes = 1 << 20

// CameraConfig describes how to reach the camera and what to ask of it.
// Type selects a concrete implementation ("osc" or "simulated").
type CameraConfig struct {
	Type                 string   `yaml:"type"`                  // "osc" or "simulated"
	Endpoint             string   `yaml:"endpoint"`              // OSC base URL, e.g. http://192.168.1.1
	RequestTimeoutMs     int      `yaml:"request_timeout_ms"`    // per HTTP request
	CaptureMode          string   `yaml:"capture_mode"`          // "image" or "video"
	ShutterVolume        *int     `yaml:"shutter_volume"`        // 0-100; nil = default 100
	ExposureDelayS       *int     `yaml:"exposure_delay_s"`      // self-timer 0-10s; nil = default 5
	ExposureCompensation *float64 `yaml:"exposure_compensation"` // EV in 1/3 steps, -2.0..2.0; nil = default +1.0
	PollIntervalMs       int      `yaml:"poll_interval_ms"`      // status query period
	PollMaxAttempts      int      `yaml:"poll_max_attempts"`     // status queries before timeout
	PollDeadlineMs       int      `yaml:"poll_deadline_ms"`      // overall wait limit; 0 = attempt cap only
	SimulatedFile        string   `yaml:"simulated_file"`        // locator returned by the simulated camera
	SimulatedPolls       int      `yaml:"simulated_polls"`       // polls before the simulated camera is done
}

// StorageConfig locates captured files on local storage.
type StorageConfig struct {
	DCIMRoot string `yaml:"dcim_root"`
}

// ConverterConfig selects the image to bitmap conversion.
type ConverterConfig struct {
	Width     int    `yaml:"width"`     // dots; default 384
	Layout    string `yaml:"layout"`    // "panorama" or "portrait"
	Recenter  string `yaml:"recenter"`  // "swap_halves", "square" or "none"
	Dither    string `yaml:"dither"`    // "floyd_steinberg", "ordered" or "threshold"
	Threshold *int   `yaml:"threshold"` // 0-255; nil = default 127
	Resample  string `yaml:"resample"`  // "nearest", "linear" or "lanczos"
}

// PrinterConfig describes the printer link.
type PrinterConfig struct {
	Transport      string `yaml:"transport"`        // "serial" or "mock"
	Port           string `yaml:"port"`             // e.g. /dev/ttyUSB0
	BaudRate       int    `yaml:"baud_rate"`        // default 38400
	ChunkSize      int    `yaml:"chunk_size"`       // bytes per write; default 16384
	MaxFrameBytes  int    `yaml:"max_frame_bytes"`  // raster bytes per print command; 0 = no limit below 0xFFFF rows
	WriteTimeoutMs int    `yaml:"write_timeout_ms"` // per chunk; default 10000
	FeedPixels     *int   `yaml:"feed_pixels"`      // 0-255 after every print; nil = default 255
	QRFooter       string `yaml:"qr_footer"`        // QR text under capture prints; {run} and {file} expand; "" = none
	QRLevel        string `yaml:"qr_level"`         // L, M, Q or H; default M
}

// ButtonsConfig wires the two trigger buttons (BCM pins, to GND).
// A pin of 0 disables that button.
type ButtonsConfig struct {
	CapturePin       int `yaml:"capture_pin"`
	TestPin          int `yaml:"test_pin"`
	SampleIntervalMs int `yaml:"sample_interval_ms"` // default 20
	StableSamples    int `yaml:"stable_samples"`     // default 3
}

// MQTTConfig enables the remote trigger bridge when Broker is set.
type MQTTConfig struct {
	Broker      string `yaml:"broker"` // e.g. tcp://localhost:1883; "" = disabled
	ClientID    string `yaml:"client_id"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	TopicPrefix string `yaml:"topic_prefix"` // default "instantprint"
	QoS         int    `yaml:"qos"`          // 0-2
}

// JournalConfig enables the run history when Path is set.
type JournalConfig struct {
	Path       string `yaml:"path"`
	MaxEntries int    `yaml:"max_entries"` // default 500
}

// DefaultsConfig contains generic parameters.
type DefaultsConfig struct {
	DebugLevel int  `yaml:"debug_level"` // debug level 0-4 (0=off, 1=info, 2=live, 3=verbose, 4=trace)
	MockGPIO   bool `yaml:"mock_gpio"`   // use mock GPIO (true=dev/test, false=real Raspberry Pi)
}

// Config aggregates all application configuration.
type Config struct {
	Camera    CameraConfig    `yaml:"camera"`
	Storage   StorageConfig   `yaml:"storage"`
	Converter ConverterConfig `yaml:"converter"`
	Printer   PrinterConfig   `yaml:"printer"`
	Buttons   ButtonsConfig   `yaml:"buttons"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	Journal   JournalConfig   `yaml:"journal"`
	Defaults  DefaultsConfig  `yaml:"defaults"`
}

// Environment variables that override the file. They may also come from a
// .env file in the working directory.
const (
	EnvSerialPort     = "INSTANTPRINT_SERIAL_PORT"
	EnvCameraEndpoint = "INSTANTPRINT_CAMERA_ENDPOINT"
	EnvDCIMRoot       = "INSTANTPRINT_DCIM_ROOT"
	EnvMQTTBroker     = "INSTANTPRINT_MQTT_BROKER"
	EnvDebugLevel     = "INSTANTPRINT_DEBUG_LEVEL"
)

// ValidateConfigPath accepts only <dir>/configs/<name>.yaml, without
// parent-directory segments.
func ValidateConfigPath(path string) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	for _, seg := range strings.Split(filepath.ToSlash(path), "/") {
		if seg == ".." {
			return fmt.Errorf("config path %q must not contain '..'", path)
		}
	}
	clean := filepath.Clean(path)
	if filepath.Ext(clean) != ".yaml" {
		return fmt.Errorf("config path %q must have a .yaml extension", path)
	}
	abs, err := filepath.Abs(clean)
	if err != nil {
		return fmt.Errorf("resolve config path %q: %w", path, err)
	}
	if filepath.Base(filepath.Dir(abs)) != "configs" {
		return fmt.Errorf("config path %q must be inside a configs/ directory", path)
	}
	return nil
}

// LoadEnv reads .env files into the process environment. Missing files
// are ignored; variables already set are kept.
func LoadEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

// Load reads a YAML file, applies environment overrides, fills defaults
// and validates the result.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, MaxConfigFileBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	if len(data) > MaxConfigFileBytes {
		return nil, fmt.Errorf("config file larger than %d bytes", MaxConfigFileBytes)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal yaml: %w", err)
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv(EnvSerialPort); v != "" {
		c.Printer.Port = v
	}
	if v := os.Getenv(EnvCameraEndpoint); v != "" {
		c.Camera.Endpoint = v
	}
	if v := os.Getenv(EnvDCIMRoot); v != "" {
		c.Storage.DCIMRoot = v
	}
	if v := os.Getenv(EnvMQTTBroker); v != "" {
		c.MQTT.Broker = v
	}
	if v := os.Getenv(EnvDebugLevel); v != "" {
		lvl, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvDebugLevel, err)
		}
		c.Defaults.DebugLevel = lvl
	}
	return nil
}

func intPtr(v int) *int           { return &v }
func floatPtr(v float64) *float64 { return &v }

func (c *Config) applyDefaults() {
	cam := &c.Camera
	if cam.Type == "" {
		cam.Type = "osc"
	}
	if cam.Endpoint == "" {
		cam.Endpoint = "http://192.168.1.1"
	}
	if cam.RequestTimeoutMs <= 0 {
		cam.RequestTimeoutMs = 5000
	}
	if cam.CaptureMode == "" {
		cam.CaptureMode = "image"
	}
	if cam.ShutterVolume == nil {
		cam.ShutterVolume = intPtr(100)
	}
	if cam.ExposureDelayS == nil {
		cam.ExposureDelayS = intPtr(5)
	}
	if cam.ExposureCompensation == nil {
		cam.ExposureCompensation = floatPtr(1.0)
	}
	if cam.PollIntervalMs <= 0 {
		cam.PollIntervalMs = 100
	}
	if cam.PollMaxAttempts <= 0 {
		cam.PollMaxAttempts = 600 // one minute at 100ms
	}
	if cam.SimulatedPolls <= 0 {
		cam.SimulatedPolls = 3
	}

	conv := &c.Converter
	if conv.Width <= 0 {
		conv.Width = 384
	}
	if conv.Layout == "" {
		conv.Layout = "panorama"
	}
	if conv.Recenter == "" {
		conv.Recenter = "swap_halves"
	}
	if conv.Dither == "" {
		conv.Dither = "floyd_steinberg"
	}
	if conv.Threshold == nil {
		conv.Threshold = intPtr(127)
	}
	if conv.Resample == "" {
		conv.Resample = "nearest"
	}

	p := &c.Printer
	if p.Transport == "" {
		p.Transport = "serial"
	}
	if p.BaudRate <= 0 {
		p.BaudRate = 38400
	}
	if p.ChunkSize <= 0 {
		p.ChunkSize = 16384
	}
	if p.WriteTimeoutMs <= 0 {
		p.WriteTimeoutMs = 10000
	}
	if p.FeedPixels == nil {
		p.FeedPixels = intPtr(255)
	}
	if p.QRLevel == "" {
		p.QRLevel = "M"
	}

	if c.Buttons.SampleIntervalMs <= 0 {
		c.Buttons.SampleIntervalMs = 20
	}
	if c.Buttons.StableSamples <= 0 {
		c.Buttons.StableSamples = 3
	}
	if c.MQTT.TopicPrefix == "" {
		c.MQTT.TopicPrefix = "instantprint"
	}
	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = "instantprint"
	}
	if c.Journal.MaxEntries <= 0 {
		c.Journal.MaxEntries = 500
	}
}

func (c *Config) validate() error {
	switch c.Camera.Type {
	case "osc", "simulated":
	default:
		return fmt.Errorf("camera.type must be osc or simulated, got %q", c.Camera.Type)
	}
	if c.Camera.Type == "simulated" && c.Camera.SimulatedFile == "" {
		return fmt.Errorf("camera.simulated_file is required for the simulated camera")
	}
	if c.Storage.DCIMRoot == "" {
		return fmt.Errorf("storage.dcim_root is required")
	}
	if c.Camera.PollDeadlineMs < 0 {
		return fmt.Errorf("camera.poll_deadline_ms must be >= 0, got %d", c.Camera.PollDeadlineMs)
	}
	switch c.Printer.Transport {
	case "serial":
		if c.Printer.Port == "" {
			return fmt.Errorf("printer.port is required for the serial transport")
		}
	case "mock":
	default:
		return fmt.Errorf("printer.transport must be serial or mock, got %q", c.Printer.Transport)
	}
	if fp := *c.Printer.FeedPixels; fp < 0 || fp > 255 {
		return fmt.Errorf("printer.feed_pixels must be between 0 and 255, got %d", fp)
	}
	if c.Printer.MaxFrameBytes < 0 {
		return fmt.Errorf("printer.max_frame_bytes must be >= 0, got %d", c.Printer.MaxFrameBytes)
	}
	if c.Buttons.CapturePin < 0 || c.Buttons.TestPin < 0 {
		return fmt.Errorf("button pins must be >= 0")
	}
	if c.Buttons.CapturePin != 0 && c.Buttons.CapturePin == c.Buttons.TestPin {
		return fmt.Errorf("buttons.capture_pin and buttons.test_pin must differ, both are %d", c.Buttons.CapturePin)
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		return fmt.Errorf("mqtt.qos must be 0, 1 or 2, got %d", c.MQTT.QoS)
	}
	if c.Defaults.DebugLevel < 0 || c.Defaults.DebugLevel > 4 {
		return fmt.Errorf("defaults.debug_level must be between 0 and 4, got %d", c.Defaults.DebugLevel)
	}
	return nil
}

// RequestTimeout returns the camera HTTP request timeout.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.Camera.RequestTimeoutMs) * time.Millisecond
}

// PollInterval returns the pause between camera status queries.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Camera.PollIntervalMs) * time.Millisecond
}

// PollDeadline returns the overall capture wait limit (0 = none).
func (c *Config) PollDeadline() time.Duration {
	return time.Duration(c.Camera.PollDeadlineMs) * time.Millisecond
}

// ExposureDelay returns the camera self-timer.
func (c *Config) ExposureDelay() time.Duration {
	return time.Duration(*c.Camera.ExposureDelayS) * time.Second
}

// WriteTimeout returns the bound on one printer chunk write.
func (c *Config) WriteTimeout() time.Duration {
	return time.Duration(c.Printer.WriteTimeoutMs) * time.Millisecond
}

// SampleInterval returns the button sampling period.
func (c *Config) SampleInterval() time.Duration {
	return time.Duration(c.Buttons.SampleIntervalMs) * time.Millisecond
}
