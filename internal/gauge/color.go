package gauge

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// Class is the classification of a single pixel.
type Class uint8

const (
	Neither Class = iota
	Filled        // red part of a bar
	Empty         // gray part of a bar
)

func (c Class) String() string {
	return [...]string{"neither", "filled", "empty"}[c]
}

// RGB is an 8-bit colour. It marshals as a six digit hex string ("F50000").
type RGB struct {
	R, G, B uint8
}

// Default meter colours
var (
	FilledColor = RGB{R: 0xF5, G: 0x00, B: 0x00}
	EmptyColor  = RGB{R: 0x5F, G: 0x5E, B: 0x5F}
)

func (c RGB) String() string {
	return fmt.Sprintf("%02X%02X%02X", c.R, c.G, c.B)
}

// MarshalText implements encoding.TextMarshaler.
func (c RGB) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. A leading '#' is accepted.
func (c *RGB) UnmarshalText(text []byte) error {
	s := strings.TrimPrefix(strings.TrimSpace(string(text)), "#")
	if len(s) != 6 {
		return fmt.Errorf("colour %q: want 6 hex digits", string(text))
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return fmt.Errorf("colour %q: %w", string(text), err)
	}
	c.R, c.G, c.B = b[0], b[1], b[2]
	return nil
}

func (c RGB) matches(r, g, b byte) bool {
	return c.R == r && c.G == g && c.B == b
}

// Classify reports whether a pixel is part of a filled bar, an empty bar, or neither,
// using the default meter colours. Alpha is not checked; capture artifacts vary it.
func Classify(r, g, b, a byte) Class {
	return classify(FilledColor, EmptyColor, r, g, b, a)
}

func classify(filled, empty RGB, r, g, b, _ byte) Class {
	switch {
	case filled.matches(r, g, b):
		return Filled
	case empty.matches(r, g, b):
		return Empty
	default:
		return Neither
	}
}
