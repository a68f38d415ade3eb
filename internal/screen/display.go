package screen

import (
	"context"
	"image"

	"github.com/kbinani/screenshot"

	apperrors "github.com/GriffinCanCode/boostmeter/internal/errors"
)

// displayBackend grabs a whole monitor through the platform screenshot APIs.
type displayBackend struct{ index int }

func (d *displayBackend) captureRaw(_ context.Context) (*image.RGBA, error) {
	n := screenshot.NumActiveDisplays()
	if n == 0 {
		return nil, apperrors.New(apperrors.CaptureUnavailable, "no active displays")
	}
	if d.index < 0 || d.index >= n {
		return nil, apperrors.Newf(apperrors.CaptureUnavailable, "display %d not found (%d active)", d.index, n)
	}
	img, err := screenshot.CaptureRect(screenshot.GetDisplayBounds(d.index))
	if err != nil {
		return nil, apperrors.Wrapf(err, apperrors.CaptureFailed, "capture display %d", d.index)
	}
	return img, nil
}

func (d *displayBackend) cleanup() {}
