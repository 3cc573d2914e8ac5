// Package config provides configuration loading from YAML files.
package config

import (
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration.
type Config struct {
	DataDir  string         `yaml:"data_dir"`
	Store    StoreConfig    `yaml:"store"`
	Playback PlaybackConfig `yaml:"playback"`
	Audio    AudioConfig    `yaml:"audio"`
	Library  LibraryConfig  `yaml:"library"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// StoreConfig selects the persistence backend.
type StoreConfig struct {
	Type     string         `yaml:"type" default:"sqlite" validate:"oneof=sqlite redis memory"`
	Settings map[string]any `yaml:"settings"`
	Blobs    BlobsConfig    `yaml:"blobs"`
}

// BlobsConfig optionally routes audio blobs to an object store.
type BlobsConfig struct {
	Type     string         `yaml:"type" validate:"omitempty,oneof=minio"`
	Settings map[string]any `yaml:"settings"`
}

// PlaybackConfig represents playback control configuration.
type PlaybackConfig struct {
	StartPaused    bool `yaml:"start_paused"`
	SaveIntervalMs int  `yaml:"save_interval_ms" default:"1000" validate:"gte=0,lte=60000"`
}

// AudioConfig represents audio output configuration.
type AudioConfig struct {
	Mute       bool `yaml:"mute"`
	TickMs     int  `yaml:"tick_ms" default:"250" validate:"gte=10,lte=5000"`
	SampleRate int  `yaml:"sample_rate" default:"44100" validate:"oneof=22050 44100 48000 96000"`
	BufferMs   int  `yaml:"buffer_ms" default:"100" validate:"gte=10,lte=1000"`
}

// LibraryConfig represents the inbox importer configuration.
type LibraryConfig struct {
	InboxDir       string `yaml:"inbox_dir"`
	KeepInboxFiles bool   `yaml:"keep_inbox_files"`
	SettleMs       int    `yaml:"settle_ms" default:"500" validate:"gte=0,lte=10000"`
}

// MetricsConfig represents the prometheus endpoint configuration.
type MetricsConfig struct {
	Addr string `yaml:"addr" validate:"omitempty,hostname_port"`
}

// Load loads configuration from a YAML file.
// A missing file yields the default configuration.
// Environment variables take precedence over file values for sensitive fields.
func Load(path string) (*Config, error) {
	var cfg Config

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, errors.Wrap(err, "failed to read config file")
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, errors.Wrap(err, "failed to parse config file")
		}
	}

	cfg.overrideFromEnv()

	if err := defaults.Set(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to set defaults")
	}

	if cfg.DataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, errors.Wrap(err, "failed to resolve home directory")
		}
		cfg.DataDir = filepath.Join(home, ".tapedeck")
	}

	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "config validation failed")
	}

	return &cfg, nil
}

// overrideFromEnv overrides config values with environment variables.
func (c *Config) overrideFromEnv() {
	if v := os.Getenv("TAPEDECK_DATA_DIR"); v != "" {
		c.DataDir = v
	}
	if v := os.Getenv("TAPEDECK_REDIS_PASSWORD"); v != "" && c.Store.Type == "redis" {
		c.Store.Settings = setting(c.Store.Settings, "password", v)
	}
	if v := os.Getenv("TAPEDECK_MINIO_ACCESS_KEY"); v != "" && c.Store.Blobs.Type == "minio" {
		c.Store.Blobs.Settings = setting(c.Store.Blobs.Settings, "access_key", v)
	}
	if v := os.Getenv("TAPEDECK_MINIO_SECRET_KEY"); v != "" && c.Store.Blobs.Type == "minio" {
		c.Store.Blobs.Settings = setting(c.Store.Blobs.Settings, "secret_key", v)
	}
}

func setting(m map[string]any, key string, value any) map[string]any {
	if m == nil {
		m = map[string]any{}
	}
	m[key] = value
	return m
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return errors.Wrap(err, "struct validation failed")
	}
	return nil
}

// SaveInterval returns the minimum delay between position saves.
func (c *Config) SaveInterval() time.Duration {
	return time.Duration(c.Playback.SaveIntervalMs) * time.Millisecond
}

// LogFile returns the default log path used while the terminal UI is active.
func (c *Config) LogFile() string {
	return filepath.Join(c.DataDir, "tapedeck.log")
}

// InboxDir returns the inbox path, resolved against the data directory when relative.
// Empty means the importer is disabled.
func (c *Config) InboxDir() string {
	dir := c.Library.InboxDir
	if dir == "" || filepath.IsAbs(dir) {
		return dir
	}
	return filepath.Join(c.DataDir, dir)
}
