// Package alert raises a cue when a meter bar fills up
package alert

import (
	"log/slog"
	"sync"
	"time"

	"github.com/GriffinCanCode/boostmeter/internal/gauge"
)

// Alert describes a bar that just reached the threshold.
type Alert struct {
	Bar   int       `json:"bar"`
	Value float64   `json:"value"`
	At    time.Time `json:"at"`
}

// Detector fires once per bar crossing, rate limited by a cooldown.
type Detector struct {
	mu        sync.Mutex
	enabled   bool
	threshold float64
	cooldown  time.Duration
	lastTime  time.Time
	full      [gauge.BarCount]bool
	now       func() time.Time
}

// NewDetector creates an alert detector
func NewDetector(threshold, cooldownSec float64, enabled bool) *Detector {
	return &Detector{
		enabled:   enabled,
		threshold: threshold,
		cooldown:  time.Duration(cooldownSec * float64(time.Second)),
		now:       time.Now,
	}
}

// Check records levels and reports the highest bar that crossed the threshold
// since the previous call.
func (d *Detector) Check(levels gauge.Levels) (Alert, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	crossed := -1
	for i, v := range levels {
		full := v >= d.threshold
		if full && !d.full[i] {
			crossed = i
		}
		d.full[i] = full
	}
	if crossed < 0 || !d.enabled {
		return Alert{}, false
	}

	now := d.now()
	if now.Sub(d.lastTime) < d.cooldown {
		return Alert{}, false
	}
	d.lastTime = now

	slog.Info("meter bar full", "bar", crossed+1, "value", levels[crossed])
	return Alert{Bar: crossed, Value: levels[crossed], At: now}, true
}

// SetEnabled enables/disables alerts
func (d *Detector) SetEnabled(enabled bool) {
	d.mu.Lock()
	d.enabled = enabled
	d.mu.Unlock()
	slog.Info("alert state changed", "enabled", enabled)
}

// IsEnabled returns current enabled state
func (d *Detector) IsEnabled() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.enabled
}
