package gauge

import "errors"

var (
	ErrInvalidFrame   = errors.New("invalid frame")
	ErrInvalidScale   = errors.New("invalid ui scale")
	ErrShortBuffer    = errors.New("destination buffer too small")
	ErrInvalidProfile = errors.New("invalid gauge profile")
)
