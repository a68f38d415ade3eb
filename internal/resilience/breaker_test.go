package resilience

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	apperrors "github.com/GriffinCanCode/boostmeter/internal/errors"
)

var errGrab = apperrors.New(apperrors.CaptureFailed, "grab failed")

func fail(context.Context) error { return errGrab }
func pass(context.Context) error { return nil }

func run(b *Breaker, fns ...func(context.Context) error) error {
	var err error
	for _, fn := range fns {
		err = b.Do(context.Background(), fn)
	}
	return err
}

func TestBreakerOpensAfterThreshold(t *testing.T) {
	b := New("test", Config{Threshold: 3, ResetTimeout: time.Hour, HalfOpenSuccesses: 2})
	if b.State() != Closed {
		t.Fatalf("initial state = %v, want Closed", b.State())
	}

	run(b, fail, fail, fail)
	if b.State() != Open || b.Trips() != 1 {
		t.Errorf("state = %v trips = %d, want Open after one trip", b.State(), b.Trips())
	}

	called := false
	err := b.Do(context.Background(), func(context.Context) error { called = true; return nil })
	if !errors.Is(err, ErrOpen) || called {
		t.Errorf("open breaker: err = %v called = %v, want ErrOpen without a call", err, called)
	}
}

func TestBreakerRecovery(t *testing.T) {
	tests := []struct {
		name  string
		probe []func(context.Context) error
		want  State
	}{
		{"closes after successes", []func(context.Context) error{pass, pass}, Closed},
		{"stays half-open below quota", []func(context.Context) error{pass}, HalfOpen},
		{"reopens on failure", []func(context.Context) error{pass, fail}, Open},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := New("test", Config{Threshold: 1, ResetTimeout: time.Millisecond, HalfOpenSuccesses: 2})
			run(b, fail)
			time.Sleep(5 * time.Millisecond)

			run(b, tt.probe...)
			if b.State() != tt.want {
				t.Errorf("state = %v, want %v", b.State(), tt.want)
			}
		})
	}
}

func TestBreakerIgnoresCancellation(t *testing.T) {
	b := New("test", Config{Threshold: 1, ResetTimeout: time.Hour, HalfOpenSuccesses: 1})

	run(b, func(context.Context) error { return context.Canceled })
	run(b, func(context.Context) error { return apperrors.New(apperrors.Cancelled, "stopped") })

	if b.State() != Closed || b.Failures() != 0 {
		t.Errorf("state = %v failures = %d, cancellation should not count", b.State(), b.Failures())
	}
}

func TestSuccessResetsFailures(t *testing.T) {
	b := New("test", Config{Threshold: 3, ResetTimeout: time.Hour, HalfOpenSuccesses: 1})

	run(b, fail, fail, pass, fail, fail)
	if b.State() != Closed || b.Failures() != 2 {
		t.Errorf("state = %v failures = %d, want Closed with 2", b.State(), b.Failures())
	}
}

func TestBreakerReset(t *testing.T) {
	b := New("test", Config{Threshold: 1, ResetTimeout: time.Hour, HalfOpenSuccesses: 1})
	run(b, fail)

	b.Reset()
	if b.State() != Closed || b.Failures() != 0 {
		t.Errorf("state = %v failures = %d after Reset", b.State(), b.Failures())
	}
	if b.Trips() != 1 {
		t.Errorf("Reset should keep the trip count, got %d", b.Trips())
	}
}

func TestCall(t *testing.T) {
	b := New("test", DefaultConfig())

	v, err := Call(context.Background(), b, func(context.Context) (int, error) { return 42, nil })
	if err != nil || v != 42 {
		t.Errorf("Call = (%d, %v), want (42, nil)", v, err)
	}
	v, err = Call(context.Background(), b, func(context.Context) (int, error) { return 7, errGrab })
	if !errors.Is(err, errGrab) || v != 0 {
		t.Errorf("failed Call = (%d, %v), want zero value and the error", v, err)
	}
}

func TestBreakerConcurrentSafety(t *testing.T) {
	b := New("test", Config{Threshold: 100, ResetTimeout: time.Second, HalfOpenSuccesses: 10})

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if i%2 == 0 {
				run(b, pass)
			} else {
				run(b, fail)
			}
		}()
	}
	wg.Wait()

	if s := b.State(); s != Closed && s != Open {
		t.Errorf("state = %v", s)
	}
}

func TestStateString(t *testing.T) {
	for s, want := range map[State]string{Closed: "closed", Open: "open", HalfOpen: "half-open"} {
		if got := s.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", s, got, want)
		}
	}
}

func TestCaptureConfig(t *testing.T) {
	cfg := CaptureConfig()
	if cfg.Threshold != CaptureThreshold || cfg.ResetTimeout != CaptureResetTimeout {
		t.Errorf("CaptureConfig() = %+v", cfg)
	}
	b := New("capture", cfg)
	for i := 0; i < CaptureThreshold-1; i++ {
		run(b, fail)
	}
	if b.State() != Closed || b.Failures() != CaptureThreshold-1 {
		t.Errorf("state = %v failures = %d, want closed with %d", b.State(), b.Failures(), CaptureThreshold-1)
	}
	run(b, fail)
	if b.State() != Open {
		t.Errorf("state = %v, want Open", b.State())
	}
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{}.withDefaults()
	if cfg != DefaultConfig() {
		t.Errorf("withDefaults = %+v, want %+v", cfg, DefaultConfig())
	}
}
