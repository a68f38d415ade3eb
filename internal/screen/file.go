package screen

import (
	"bytes"
	"context"
	"image"
	_ "image/jpeg" // JPEG decoder
	_ "image/png"  // PNG decoder
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"golang.org/x/image/draw"

	_ "golang.org/x/image/bmp"  // BMP decoder
	_ "golang.org/x/image/tiff" // TIFF decoder
	_ "golang.org/x/image/webp" // WebP decoder

	apperrors "github.com/GriffinCanCode/boostmeter/internal/errors"
	"github.com/GriffinCanCode/boostmeter/internal/gauge"
)

var imageExts = []string{".png", ".jpg", ".jpeg", ".bmp", ".tif", ".tiff", ".webp"}

// fileBackend replays image files in name order, looping at the end.
type fileBackend struct {
	mu    sync.Mutex
	paths []string
	cache map[string]*image.RGBA
	next  int
}

func newFileBackend(path string) (*fileBackend, error) {
	paths, err := listImages(path)
	if err != nil {
		return nil, err
	}
	slog.Info("file capture source", "path", path, "frames", len(paths))
	return &fileBackend{paths: paths, cache: make(map[string]*image.RGBA, len(paths))}, nil
}

func (b *fileBackend) captureRaw(_ context.Context) (*image.RGBA, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	path := b.paths[b.next]
	b.next = (b.next + 1) % len(b.paths)

	if img, ok := b.cache[path]; ok {
		return img, nil
	}
	img, err := LoadImage(path)
	if err != nil {
		return nil, err
	}
	b.cache[path] = img
	return img, nil
}

func (b *fileBackend) cleanup() {
	b.mu.Lock()
	b.cache = nil
	b.mu.Unlock()
}

func listImages(path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, apperrors.Wrapf(err, apperrors.CaptureUnavailable, "capture path %s", path)
	}
	if !info.IsDir() {
		return []string{path}, nil
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, apperrors.Wrapf(err, apperrors.CaptureUnavailable, "read capture dir %s", path)
	}
	var paths []string
	for _, e := range entries {
		if e.IsDir() || !slices.Contains(imageExts, strings.ToLower(filepath.Ext(e.Name()))) {
			continue
		}
		paths = append(paths, filepath.Join(path, e.Name()))
	}
	if len(paths) == 0 {
		return nil, apperrors.Newf(apperrors.CaptureUnavailable, "no images in %s", path)
	}
	slices.Sort(paths)
	return paths, nil
}

// LoadImage decodes an image file into RGBA.
func LoadImage(path string) (*image.RGBA, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, apperrors.Wrapf(err, apperrors.CaptureFailed, "open %s", path)
	}
	defer f.Close()
	img, err := Decode(f)
	if err != nil {
		return nil, apperrors.Wrapf(err, apperrors.FrameInvalid, "decode %s", path)
	}
	return img, nil
}

// Decode reads any registered image format and converts it to RGBA.
func Decode(r io.Reader) (*image.RGBA, error) {
	src, _, err := image.Decode(r)
	if err != nil {
		return nil, err
	}
	return ToRGBA(src), nil
}

// ToRGBA returns img as a zero-origin *image.RGBA, converting if needed.
func ToRGBA(img image.Image) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok && rgba.Bounds().Min == (image.Point{}) {
		return rgba
	}
	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
	return dst
}

// DecodeFrame decodes an image into a packed gauge frame.
func DecodeFrame(r io.Reader) (gauge.Frame, error) {
	img, err := Decode(r)
	if err != nil {
		return gauge.Frame{}, apperrors.Wrap(err, apperrors.FrameInvalid, "decode frame")
	}
	return gauge.FrameFromImage(img), nil
}

// DecodeFrameLimited is DecodeFrame for untrusted input. The header is read
// first and images over maxPixels are rejected before any pixel buffer is
// allocated.
func DecodeFrameLimited(r io.Reader, maxPixels int) (gauge.Frame, error) {
	var head bytes.Buffer
	cfg, _, err := image.DecodeConfig(io.TeeReader(r, &head))
	if err != nil {
		return gauge.Frame{}, apperrors.Wrap(err, apperrors.FrameInvalid, "decode frame header")
	}
	if cfg.Width <= 0 || cfg.Height <= 0 || int64(cfg.Width)*int64(cfg.Height) > int64(maxPixels) {
		return gauge.Frame{}, apperrors.Newf(apperrors.InvalidArgument,
			"image %dx%d exceeds %d pixels", cfg.Width, cfg.Height, maxPixels)
	}
	return DecodeFrame(io.MultiReader(&head, r))
}
