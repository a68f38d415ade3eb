package resilience

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	apperrors "github.com/GriffinCanCode/boostmeter/internal/errors"
	"github.com/GriffinCanCode/boostmeter/internal/trace"
)

// IsRetryable decides from the application error code when there is one,
// otherwise from the gRPC status code. Cancellation and an open breaker never retry.
func IsRetryable(err error) bool {
	switch {
	case err == nil,
		errors.Is(err, ErrOpen),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return false
	}
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return apperrors.IsRetryable(err)
	}
	if s, ok := status.FromError(err); ok {
		switch s.Code() {
		case codes.Unavailable, codes.ResourceExhausted, codes.Aborted, codes.Internal, codes.DeadlineExceeded:
			return true
		}
		return false
	}
	// Plain errors from capture backends are usually transient.
	return true
}

// Retry calls fn until it succeeds, fails with a permanent error, or has been
// retried cfg.MaxRetries times. The last error is returned.
func Retry(ctx context.Context, cfg RetryConfig, fn func(context.Context) error) error {
	_, err := RetryValue(ctx, cfg, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// RetryValue is Retry for functions that produce a value.
func RetryValue[T any](ctx context.Context, cfg RetryConfig, fn func(context.Context) (T, error)) (T, error) {
	cfg = cfg.withDefaults()
	var zero T

	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		v, err := fn(ctx)
		switch {
		case err == nil:
			return v, nil
		case attempt == cfg.MaxRetries, !cfg.IsRetryable(err):
			return zero, err
		}

		wait := backoffDelay(cfg, attempt)
		trace.Logger(ctx).Debug("retrying after error",
			"attempt", attempt+1, "max", cfg.MaxRetries, "delay", wait, "error", err)

		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return zero, ctx.Err()
		case <-t.C:
		}
	}
}

// backoffDelay doubles BaseDelay per attempt up to MaxDelay, then applies jitter.
func backoffDelay(cfg RetryConfig, attempt int) time.Duration {
	d := min(cfg.BaseDelay<<min(attempt, 6), cfg.MaxDelay)
	if cfg.JitterFactor == 0 {
		return d
	}
	spread := cfg.JitterFactor * (rand.Float64() - 0.5)
	return d + time.Duration(float64(d)*spread)
}
