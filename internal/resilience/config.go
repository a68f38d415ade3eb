package resilience

import "time"

const (
	DefaultThreshold         = 5
	DefaultResetTimeout      = 30 * time.Second
	DefaultHalfOpenSuccesses = 3

	DefaultMaxRetries   = 3
	DefaultBaseDelay    = 500 * time.Millisecond
	DefaultMaxDelay     = 10 * time.Second
	DefaultJitterFactor = 0.2
)

// Capture runs many times a second: its breaker trips on a longer streak but
// probes again within a couple of seconds, and its retries fit inside one tick.
const (
	CaptureThreshold         = 10
	CaptureResetTimeout      = 2 * time.Second
	CaptureHalfOpenSuccesses = 2

	CaptureMaxRetries = 2
	CaptureBaseDelay  = 5 * time.Millisecond
	CaptureMaxDelay   = 20 * time.Millisecond
)

// Config tunes a Breaker.
type Config struct {
	Threshold         int           // consecutive failures that open the breaker
	ResetTimeout      time.Duration // how long it stays open before a probe
	HalfOpenSuccesses int           // probe successes that close it again
}

func DefaultConfig() Config {
	return Config{DefaultThreshold, DefaultResetTimeout, DefaultHalfOpenSuccesses}
}

// CaptureConfig tunes the breaker around screen capture.
func CaptureConfig() Config {
	return Config{CaptureThreshold, CaptureResetTimeout, CaptureHalfOpenSuccesses}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	c.Threshold = orDefault(c.Threshold, d.Threshold)
	c.ResetTimeout = orDefault(c.ResetTimeout, d.ResetTimeout)
	c.HalfOpenSuccesses = orDefault(c.HalfOpenSuccesses, d.HalfOpenSuccesses)
	return c
}

// RetryConfig tunes Retry. JitterFactor spreads each delay by up to half the
// factor either way.
type RetryConfig struct {
	MaxRetries   int
	BaseDelay    time.Duration
	MaxDelay     time.Duration
	JitterFactor float64
	IsRetryable  func(error) bool
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:   DefaultMaxRetries,
		BaseDelay:    DefaultBaseDelay,
		MaxDelay:     DefaultMaxDelay,
		JitterFactor: DefaultJitterFactor,
		IsRetryable:  IsRetryable,
	}
}

// CaptureRetryConfig retries a single frame grab.
func CaptureRetryConfig() RetryConfig {
	cfg := DefaultRetryConfig()
	cfg.MaxRetries = CaptureMaxRetries
	cfg.BaseDelay = CaptureBaseDelay
	cfg.MaxDelay = CaptureMaxDelay
	return cfg
}

func (c RetryConfig) withDefaults() RetryConfig {
	d := DefaultRetryConfig()
	c.MaxRetries = orDefault(c.MaxRetries, d.MaxRetries)
	c.BaseDelay = orDefault(c.BaseDelay, d.BaseDelay)
	c.MaxDelay = orDefault(c.MaxDelay, d.MaxDelay)
	c.JitterFactor = orDefault(c.JitterFactor, d.JitterFactor)
	if c.IsRetryable == nil {
		c.IsRetryable = d.IsRetryable
	}
	return c
}

func orDefault[T int | float64 | time.Duration](v, def T) T {
	if v <= 0 {
		return def
	}
	return v
}
