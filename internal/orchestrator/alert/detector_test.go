package alert

import (
	"testing"
	"time"

	"github.com/GriffinCanCode/boostmeter/internal/gauge"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }

func newTestDetector(cooldown float64, enabled bool) (*Detector, *fakeClock) {
	clock := &fakeClock{t: time.Unix(1700000000, 0)}
	d := NewDetector(1.0, cooldown, enabled)
	d.now = clock.now
	return d, clock
}

func TestDetectorDisabled(t *testing.T) {
	d, _ := newTestDetector(10, false)

	if _, ok := d.Check(gauge.Levels{1, 0, 0}); ok {
		t.Error("disabled detector should not fire")
	}
}

func TestDetectorFiresOnCrossing(t *testing.T) {
	d, _ := newTestDetector(0, true)

	if _, ok := d.Check(gauge.Levels{0.9, 0, 0}); ok {
		t.Error("below threshold should not fire")
	}
	a, ok := d.Check(gauge.Levels{1, 0, 0})
	if !ok || a.Bar != 0 || a.Value != 1 {
		t.Fatalf("Check = %+v, %v, want bar 0", a, ok)
	}
	if _, ok := d.Check(gauge.Levels{1, 0.2, 0}); ok {
		t.Error("a bar that stays full should not fire again")
	}
}

func TestDetectorPicksHighestCrossedBar(t *testing.T) {
	d, _ := newTestDetector(0, true)

	a, ok := d.Check(gauge.Levels{1, 1, 0.5})
	if !ok || a.Bar != 1 {
		t.Errorf("Check = %+v, %v, want bar 1", a, ok)
	}
}

func TestDetectorRearmsAfterDrop(t *testing.T) {
	d, _ := newTestDetector(0, true)

	d.Check(gauge.Levels{1, 0, 0})
	d.Check(gauge.Levels{0.1, 0, 0})
	if _, ok := d.Check(gauge.Levels{1, 0, 0}); !ok {
		t.Error("bar refilling after a drop should fire")
	}
}

func TestDetectorCooldown(t *testing.T) {
	d, clock := newTestDetector(10, true)

	if _, ok := d.Check(gauge.Levels{1, 0, 0}); !ok {
		t.Fatal("first crossing should fire")
	}
	clock.t = clock.t.Add(time.Second)
	if _, ok := d.Check(gauge.Levels{1, 1, 0}); ok {
		t.Error("should be in cooldown")
	}
	clock.t = clock.t.Add(10 * time.Second)
	if _, ok := d.Check(gauge.Levels{1, 1, 1}); !ok {
		t.Error("should fire after cooldown")
	}
}

func TestDetectorTracksWhileDisabled(t *testing.T) {
	d, _ := newTestDetector(0, false)

	d.Check(gauge.Levels{1, 0, 0})
	d.SetEnabled(true)
	if _, ok := d.Check(gauge.Levels{1, 0, 0}); ok {
		t.Error("a bar already full while disabled should not fire on enable")
	}
	if !d.IsEnabled() {
		t.Error("IsEnabled should be true")
	}
}
