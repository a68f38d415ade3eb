// Package screen provides frame sources for the meter: the live desktop or replayed image files.
package screen

import (
	"context"
	"crypto/md5"
	"image"

	"github.com/GriffinCanCode/boostmeter/internal/config"
	apperrors "github.com/GriffinCanCode/boostmeter/internal/errors"
	"github.com/GriffinCanCode/boostmeter/internal/gauge"
)

// Capturer captures frames with change detection
type Capturer interface {
	// Capture returns the next frame and whether it differs from the previous one.
	Capture(ctx context.Context) (gauge.Frame, bool, error)
	CaptureAlways(ctx context.Context) (gauge.Frame, error)
	Close()
}

// backend implements source-specific raw capture
type backend interface {
	captureRaw(ctx context.Context) (*image.RGBA, error)
	cleanup()
}

// baseCapturer provides shared hash-based change detection
type baseCapturer struct {
	backend
	lastHash [16]byte
}

func newBase(b backend) *baseCapturer {
	return &baseCapturer{backend: b}
}

// New creates the capturer selected by cfg.CaptureSource.
func New(cfg *config.Config) (Capturer, error) {
	switch cfg.CaptureSource {
	case config.SourceDisplay:
		return newBase(&displayBackend{index: cfg.CaptureDisplay}), nil
	case config.SourceFile:
		b, err := newFileBackend(cfg.CapturePath)
		if err != nil {
			return nil, err
		}
		return newBase(b), nil
	default:
		return nil, apperrors.Newf(apperrors.ConfigInvalid, "unknown capture source %q", cfg.CaptureSource)
	}
}

func (c *baseCapturer) Capture(ctx context.Context) (gauge.Frame, bool, error) {
	f, err := c.grab(ctx)
	if err != nil {
		return gauge.Frame{}, false, err
	}
	hash := regionHash(f)
	if hash == c.lastHash {
		return f, false, nil
	}
	c.lastHash = hash
	return f, true, nil
}

func (c *baseCapturer) CaptureAlways(ctx context.Context) (gauge.Frame, error) {
	f, err := c.grab(ctx)
	if err != nil {
		return gauge.Frame{}, err
	}
	c.lastHash = regionHash(f)
	return f, nil
}

func (c *baseCapturer) Close() {
	c.cleanup()
}

func (c *baseCapturer) grab(ctx context.Context) (gauge.Frame, error) {
	if err := ctx.Err(); err != nil {
		return gauge.Frame{}, apperrors.Wrap(err, apperrors.Cancelled, "capture")
	}
	img, err := c.captureRaw(ctx)
	if err != nil {
		return gauge.Frame{}, err
	}
	f := gauge.FrameFromImage(img)
	if err := f.Validate(); err != nil {
		return gauge.Frame{}, apperrors.Wrap(err, apperrors.FrameInvalid, "captured frame")
	}
	return f, nil
}

// regionHash hashes only the lower-right quadrant the meter search covers.
func regionHash(f gauge.Frame) [16]byte {
	h := md5.New()
	x0 := int(float64(f.Width) * gauge.SearchRegionStart)
	y0 := int(float64(f.Height) * gauge.SearchRegionStart)
	row := f.Width * gauge.BytesPerPixel
	for y := y0; y < f.Height; y++ {
		start := y*row + x0*gauge.BytesPerPixel
		h.Write(f.Pix[start : (y+1)*row])
	}
	var sum [16]byte
	copy(sum[:], h.Sum(nil))
	return sum
}
