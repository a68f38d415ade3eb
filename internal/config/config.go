// Package config handles platform configuration
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/ini.v1"
	"gopkg.in/yaml.v3"

	apperrors "github.com/GriffinCanCode/boostmeter/internal/errors"
	"github.com/GriffinCanCode/boostmeter/internal/gauge"
)

// Section is the INI section read by LoadFile.
const Section = "boostmeter"

// Capture sources
const (
	SourceDisplay = "display"
	SourceFile    = "file"
)

type Config struct {
	HTTPAddr          string
	GRPCAddr          string
	LogLevel          string
	CaptureSource     string
	CaptureDisplay    int
	CapturePath       string
	CaptureRate       float64 // Hz
	UIScale           float64 // 0 derives the scale from the frame size
	ProfilePath       string
	MaxHashDistance   int // -1 disables similar-frame skipping
	StopTimeout       time.Duration
	TimelineSize      int
	HistoryDB         string
	HistoryBatchSize  int
	HistoryFlushDelay float64       // seconds
	HistoryRetention  time.Duration // 0 keeps every reading
	AlertEnabled      bool
	AlertThreshold    float64
	AlertCooldown     float64 // seconds
	AudioSampleRate   int
}

// lookup resolves a key; env always wins over the config file.
type lookup func(key string) (string, bool)

// Load reads configuration from the environment.
func Load() *Config {
	return build(envLookup(nil))
}

// LoadFile reads an INI file and layers the environment over it.
func LoadFile(path string) (*Config, error) {
	f, err := ini.Load(path)
	if err != nil {
		return nil, apperrors.Wrapf(err, apperrors.ConfigInvalid, "load config file %s", path)
	}
	return build(envLookup(f)), nil
}

// Resolve loads the file named by CONFIG_FILE when set, otherwise the
// environment alone, and validates the result.
func Resolve() (*Config, error) {
	cfg := Load()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		var err error
		if cfg, err = LoadFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func build(get lookup) *Config {
	return &Config{
		HTTPAddr:          getString(get, "HTTP_ADDR", ":8000"),
		GRPCAddr:          getString(get, "GRPC_ADDR", ":50051"),
		LogLevel:          getString(get, "LOG_LEVEL", "info"),
		CaptureSource:     getString(get, "CAPTURE_SOURCE", SourceDisplay),
		CaptureDisplay:    getInt(get, "CAPTURE_DISPLAY", 0),
		CapturePath:       getString(get, "CAPTURE_PATH", ""),
		CaptureRate:       getFloat(get, "CAPTURE_RATE", 30.0),
		UIScale:           getFloat(get, "UI_SCALE", 0),
		ProfilePath:       getString(get, "GAUGE_PROFILE", ""),
		MaxHashDistance:   getInt(get, "MAX_HASH_DISTANCE", -1),
		StopTimeout:       time.Duration(getFloat(get, "STOP_TIMEOUT", 1.0) * float64(time.Second)),
		TimelineSize:      getInt(get, "TIMELINE_SIZE", 600),
		HistoryDB:         getString(get, "HISTORY_DB", ""),
		HistoryBatchSize:  getInt(get, "HISTORY_BATCH_SIZE", 50),
		HistoryFlushDelay: getFloat(get, "HISTORY_FLUSH_DELAY", 2.0),
		HistoryRetention:  time.Duration(getFloat(get, "HISTORY_RETENTION_HOURS", 0) * float64(time.Hour)),
		AlertEnabled:      getBool(get, "ALERT_ENABLED", true),
		AlertThreshold:    getFloat(get, "ALERT_THRESHOLD", 1.0),
		AlertCooldown:     getFloat(get, "ALERT_COOLDOWN", 5.0),
		AudioSampleRate:   getInt(get, "AUDIO_SAMPLE_RATE", 44100),
	}
}

// Validate reports the first setting that cannot drive the service.
func (c *Config) Validate() error {
	switch c.CaptureSource {
	case SourceDisplay:
	case SourceFile:
		if c.CapturePath == "" {
			return apperrors.New(apperrors.ConfigMissing, "CAPTURE_PATH is required for the file source")
		}
	default:
		return apperrors.Newf(apperrors.ConfigInvalid, "unknown CAPTURE_SOURCE %q", c.CaptureSource)
	}
	if c.CaptureRate <= 0 {
		return apperrors.Newf(apperrors.ConfigInvalid, "CAPTURE_RATE must be positive, got %g", c.CaptureRate)
	}
	if c.UIScale < 0 {
		return apperrors.Newf(apperrors.ConfigInvalid, "UI_SCALE must be 0 (auto) or positive, got %g", c.UIScale)
	}
	if c.TimelineSize <= 0 {
		return apperrors.Newf(apperrors.ConfigInvalid, "TIMELINE_SIZE must be positive, got %d", c.TimelineSize)
	}
	if c.HistoryBatchSize <= 0 {
		return apperrors.Newf(apperrors.ConfigInvalid, "HISTORY_BATCH_SIZE must be positive, got %d", c.HistoryBatchSize)
	}
	if c.HistoryRetention < 0 {
		return apperrors.Newf(apperrors.ConfigInvalid, "HISTORY_RETENTION_HOURS must not be negative, got %s", c.HistoryRetention)
	}
	if c.AlertThreshold <= 0 || c.AlertThreshold > 1 {
		return apperrors.Newf(apperrors.ConfigInvalid, "ALERT_THRESHOLD must be in (0, 1], got %g", c.AlertThreshold)
	}
	if c.AudioSampleRate <= 0 {
		return apperrors.Newf(apperrors.ConfigInvalid, "AUDIO_SAMPLE_RATE must be positive, got %d", c.AudioSampleRate)
	}
	return nil
}

// LoadProfile reads a YAML gauge profile. Fields left out keep their defaults.
func LoadProfile(path string) (gauge.Profile, error) {
	p := gauge.DefaultProfile()
	if path == "" {
		return p, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return p, apperrors.Wrapf(err, apperrors.ConfigMissing, "read gauge profile %s", path)
	}
	if err := yaml.Unmarshal(data, &p); err != nil {
		return p, apperrors.Wrapf(err, apperrors.ProfileInvalid, "parse gauge profile %s", path)
	}
	if err := p.Validate(); err != nil {
		return p, apperrors.Wrap(err, apperrors.ProfileInvalid, path)
	}
	return p, nil
}

func envLookup(f *ini.File) lookup {
	return func(key string) (string, bool) {
		if v := os.Getenv(key); v != "" {
			return v, true
		}
		if f != nil {
			if k, err := f.Section(Section).GetKey(key); err == nil && k.String() != "" {
				return k.String(), true
			}
		}
		return "", false
	}
}

func getString(get lookup, key, def string) string {
	if v, ok := get(key); ok {
		return v
	}
	return def
}

func getInt(get lookup, key string, def int) int {
	if v, ok := get(key); ok {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getFloat(get lookup, key string, def float64) float64 {
	if v, ok := get(key); ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getBool(get lookup, key string, def bool) bool {
	if v, ok := get(key); ok {
		v = strings.ToLower(v)
		return v == "true" || v == "1"
	}
	return def
}
