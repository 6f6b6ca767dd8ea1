package config

import (
	"encoding/json"
	"os"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

type SourceType string

const (
	SourceLocal  SourceType = "Local"
	SourceWebcam SourceType = "Web-Camera"
	SourceOpenCV SourceType = "OpenCV"

	DefaultConfigPath   string = "config.json"
	DefaultServerURL    string = "http://localhost:5000"
	DefaultDetectorHost string = "localhost:8080"
	DefaultModelAsset   string = "https://storage.googleapis.com/mediapipe-models/pose_landmarker/pose_landmarker_lite/float16/1/pose_landmarker_lite.task"

	DefaultFlushInterval = 5 * time.Second
)

// Environment variables that override values read from the config file.
const (
	EnvServerURL    = "POSE_SERVER_URL"
	EnvAPIToken     = "POSE_API_TOKEN"
	EnvUserName     = "POSE_USER_NAME"
	EnvDetectorHost = "POSE_DETECTOR_HOST"
)

var SourcesList = [...]string{
	string(SourceWebcam),
	string(SourceLocal),
	string(SourceOpenCV),
}

type LocalConfig struct {
	Path string `json:"path"`
}

type WebcamConfig struct {
	DeviceID string `json:"device_id"`
	Mirror   bool   `json:"mirror"`
}

type OpenCVConfig struct {
	DeviceIndex int `json:"device_index"`
}

type ServerConfig struct {
	URL      string `json:"server_url"`
	APIToken string `json:"api_token"`
	UserName string `json:"user_name"`

	FlushIntervalMs int  `json:"flush_interval_ms"`
	FlushOnEnd      bool `json:"flush_on_end"`
}

type DetectorConfig struct {
	Host           string  `json:"detector_host"`
	ModelAssetPath string  `json:"model_asset_path"`
	NumPoses       int     `json:"num_poses"`
	PoseLabel      string  `json:"pose_label"`
	PoseConfidence float64 `json:"pose_confidence"`
}

type Config struct {
	mu sync.RWMutex

	// path the config was loaded from and is saved back to
	path string
	// values from the environment or command line; never written to disk
	overrides Overrides

	ActiveSource SourceType `json:"active_source"`
	TargetFPS    uint       `json:"target_fps"`
	ScaledWitdh  int        `json:"scaled_witdh"`
	ScaledHeight int        `json:"scaled_height"`
	MetricsAddr  string     `json:"metrics_addr"`

	Local    LocalConfig    `json:"local"`
	Webcam   WebcamConfig   `json:"webcam"`
	OpenCV   OpenCVConfig   `json:"opencv"`
	Server   ServerConfig   `json:"server"`
	Detector DetectorConfig `json:"detector"`
}

func (c *Config) GetFPS() uint {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.TargetFPS
}

func (c *Config) SetFPS(fps uint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.TargetFPS = fps
}

func (c *Config) GetWidth() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ScaledWitdh
}

func (c *Config) SetWidth(width int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ScaledWitdh = width
}

func (c *Config) GetHeight() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ScaledHeight
}

func (c *Config) SetHeight(height int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ScaledHeight = height
}

func (c *Config) GetSource() SourceType {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ActiveSource
}

func (c *Config) SetSource(s SourceType) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ActiveSource = s
}

func (c *Config) GetUserName() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.overrides.UserName != "" {
		return c.overrides.UserName
	}
	return c.Server.UserName
}

// SetUserName stores a name chosen in the app; it replaces any override.
func (c *Config) SetUserName(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.overrides.UserName = ""
	c.Server.UserName = name
}

func (c *Config) GetLocalPath() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Local.Path
}

func (c *Config) SetLocalPath(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Local.Path = path
}

func (c *Config) GetWebcam() WebcamConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Webcam
}

func (c *Config) SetWebcamDevice(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Webcam.DeviceID = id
}

func (c *Config) SetMirror(mirror bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Webcam.Mirror = mirror
}

func (c *Config) GetOpenCVDevice() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.OpenCV.DeviceIndex
}

func (c *Config) SetOpenCVDevice(index int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.OpenCV.DeviceIndex = index
}

// GetFlushInterval falls back to DefaultFlushInterval for unset or negative values.
func (c *Config) GetFlushInterval() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.Server.FlushIntervalMs <= 0 {
		return DefaultFlushInterval
	}
	return time.Duration(c.Server.FlushIntervalMs) * time.Millisecond
}

func (c *Config) SetFlushInterval(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Server.FlushIntervalMs = int(d / time.Millisecond)
}

// GetServer returns the server settings with overrides applied.
func (c *Config) GetServer() ServerConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()

	srv := c.Server
	if c.overrides.ServerURL != "" {
		srv.URL = c.overrides.ServerURL
	}
	if c.overrides.APIToken != "" {
		srv.APIToken = c.overrides.APIToken
	}
	if c.overrides.UserName != "" {
		srv.UserName = c.overrides.UserName
	}
	return srv
}

// GetDetector returns the detector settings with overrides applied.
func (c *Config) GetDetector() DetectorConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()

	det := c.Detector
	if c.overrides.DetectorHost != "" {
		det.Host = c.overrides.DetectorHost
	}
	return det
}

// Path is where SaveByDefault writes.
func (c *Config) Path() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.path == "" {
		return DefaultConfigPath
	}
	return c.path
}

func (c *Config) Save(path string) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return errors.Wrap(err, "open config file")
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(c); err != nil {
		return errors.Wrap(err, "encode config")
	}
	return nil
}

// SaveByDefault writes the config back to the file it was loaded from.
// Overrides are not persisted.
func (c *Config) SaveByDefault() {
	path := c.Path()
	if err := c.Save(path); err != nil {
		log.Warn().Err(err).Str("path", path).Msg("saving config")
	}
}

// Overrides carries connection settings given outside the config file.
// They take precedence over file values but are kept apart from them, so
// Save never writes them. Empty fields leave the current value in place.
type Overrides struct {
	ServerURL    string
	APIToken     string
	UserName     string
	DetectorHost string
}

func (c *Config) ApplyOverrides(o Overrides) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if o.ServerURL != "" {
		c.overrides.ServerURL = o.ServerURL
	}
	if o.APIToken != "" {
		c.overrides.APIToken = o.APIToken
	}
	if o.UserName != "" {
		c.overrides.UserName = o.UserName
	}
	if o.DetectorHost != "" {
		c.overrides.DetectorHost = o.DetectorHost
	}
}

// ApplyEnv loads a .env file when present and overrides connection settings
// from the environment.
func (c *Config) ApplyEnv() {
	if err := godotenv.Load(); err == nil {
		log.Debug().Msg("loaded environment from .env")
	}

	c.ApplyOverrides(Overrides{
		ServerURL:    os.Getenv(EnvServerURL),
		APIToken:     os.Getenv(EnvAPIToken),
		UserName:     os.Getenv(EnvUserName),
		DetectorHost: os.Getenv(EnvDetectorHost),
	})
}

// LoadConfigFile returns the defaults when the file is missing or unreadable.
func LoadConfigFile(path string) *Config {
	var cfg *Config = NewDefaultConfig()
	cfg.path = path

	if _, err := os.Stat(path); err == nil {
		f, err := os.Open(path)
		if err != nil {
			log.Warn().Err(err).Str("path", path).Msg("opening config")
			return cfg
		}
		defer f.Close()

		dec := json.NewDecoder(f)
		if err := dec.Decode(cfg); err != nil {
			log.Warn().Err(err).Str("path", path).Msg("decoding config, using defaults")
			cfg = NewDefaultConfig()
			cfg.path = path
			return cfg
		}
	}

	return cfg
}

func NewDefaultConfig() *Config {
	return &Config{
		ActiveSource: SourceWebcam,
		Local:        LocalConfig{Path: "..."},
		Webcam:       WebcamConfig{DeviceID: "0", Mirror: true},
		OpenCV:       OpenCVConfig{DeviceIndex: 0},
		TargetFPS:    24,
		ScaledWitdh:  640,
		ScaledHeight: 480,
		Server: ServerConfig{
			URL:             DefaultServerURL,
			APIToken:        "YOUR_FIREBASE_ID_TOKEN",
			UserName:        "User",
			FlushIntervalMs: int(DefaultFlushInterval / time.Millisecond),
			FlushOnEnd:      true,
		},
		Detector: DetectorConfig{
			Host:           DefaultDetectorHost,
			ModelAssetPath: DefaultModelAsset,
			NumPoses:       1,
			PoseLabel:      "Unknown",
			PoseConfidence: 0.9,
		},
	}
}
