// Package resilience guards flaky frame sources with a circuit breaker and retries.
package resilience

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	apperrors "github.com/GriffinCanCode/boostmeter/internal/errors"
	"github.com/GriffinCanCode/boostmeter/internal/trace"
)

// State represents circuit breaker state
type State uint32

const (
	Closed   State = iota // Normal operation
	Open                  // Failing fast
	HalfOpen              // Probing the source again
)

func (s State) String() string {
	return [...]string{"closed", "open", "half-open"}[s]
}

// ErrOpen is returned while the breaker is failing fast.
var ErrOpen = errors.New("circuit breaker open")

// Breaker stops calling a source after repeated failures and probes it again
// once ResetTimeout has passed since it opened.
type Breaker struct {
	name      string
	cfg       Config
	state     atomic.Uint32
	failures  atomic.Int32
	successes atomic.Int32
	trips     atomic.Uint64
	openedAt  atomic.Int64 // unix nano
}

// New creates a breaker named for the source it guards
func New(name string, cfg Config) *Breaker {
	b := &Breaker{name: name, cfg: cfg.withDefaults()}
	b.state.Store(uint32(Closed))
	return b
}

// Do runs fn unless the breaker is open.
func (b *Breaker) Do(ctx context.Context, fn func(context.Context) error) error {
	_, err := Call(ctx, b, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// Call runs fn unless the breaker is open and returns its value. Cancellation
// is not held against the source.
func Call[T any](ctx context.Context, b *Breaker, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	if err := b.allow(ctx); err != nil {
		return zero, err
	}
	v, err := fn(ctx)
	switch {
	case err == nil:
		b.success(ctx)
		return v, nil
	case cancelled(err):
		return zero, err
	default:
		b.failure(ctx)
		return zero, err
	}
}

func cancelled(err error) bool {
	return errors.Is(err, context.Canceled) || apperrors.IsCode(err, apperrors.Cancelled)
}

func (b *Breaker) allow(ctx context.Context) error {
	if State(b.state.Load()) != Open {
		return nil
	}
	if time.Since(time.Unix(0, b.openedAt.Load())) <= b.cfg.ResetTimeout {
		return ErrOpen
	}
	b.transition(ctx, HalfOpen)
	return nil
}

func (b *Breaker) success(ctx context.Context) {
	switch State(b.state.Load()) {
	case HalfOpen:
		if b.successes.Add(1) >= int32(b.cfg.HalfOpenSuccesses) {
			b.transition(ctx, Closed)
		}
	case Closed:
		b.failures.Store(0)
	}
}

func (b *Breaker) failure(ctx context.Context) {
	count := b.failures.Add(1)
	switch State(b.state.Load()) {
	case HalfOpen:
		b.transition(ctx, Open)
	case Closed:
		if count >= int32(b.cfg.Threshold) {
			b.transition(ctx, Open)
		}
	}
}

// State returns current state
func (b *Breaker) State() State {
	return State(b.state.Load())
}

// Failures returns the consecutive failure count
func (b *Breaker) Failures() int {
	return int(b.failures.Load())
}

// Trips returns how many times the breaker has opened.
func (b *Breaker) Trips() uint64 {
	return b.trips.Load()
}

// Reset forces breaker to closed state
func (b *Breaker) Reset() {
	b.transition(context.Background(), Closed)
	b.failures.Store(0)
}

func (b *Breaker) transition(ctx context.Context, to State) {
	from := State(b.state.Swap(uint32(to)))
	if from == to {
		return
	}
	b.successes.Store(0)

	log := trace.Logger(ctx).With("name", b.name, "from", from.String())
	switch to {
	case Closed:
		b.failures.Store(0)
		log.Info("circuit breaker closed")
	case Open:
		b.openedAt.Store(time.Now().UnixNano())
		b.trips.Add(1)
		log.Warn("circuit breaker opened", "failures", b.failures.Load())
	case HalfOpen:
		log.Info("circuit breaker half-open")
	}
}
