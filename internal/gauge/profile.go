package gauge

import (
	"fmt"
	"math"
)

// Profile describes what the meter looks like at the reference resolution.
type Profile struct {
	Filled    RGB               `yaml:"filled"`
	Empty     RGB               `yaml:"empty"`
	BarWidth  float64           `yaml:"bar_width"`
	BarHeight float64           `yaml:"bar_height"`
	Fractions [BarCount]float64 `yaml:"sample_fractions"`
	Tiers     Tiers             `yaml:"tiers"`
}

// DefaultProfile returns the stock meter description.
func DefaultProfile() Profile {
	return Profile{
		Filled:    FilledColor,
		Empty:     EmptyColor,
		BarWidth:  ReferenceBarWidth,
		BarHeight: ReferenceBarHeight,
		Fractions: SampleFractions,
		Tiers:     DefaultTiers(),
	}
}

// Validate checks the profile can drive a search.
func (p Profile) Validate() error {
	if p.Filled == p.Empty {
		return fmt.Errorf("%w: filled and empty colours are both %s", ErrInvalidProfile, p.Filled)
	}
	if !positive(p.BarWidth) || !positive(p.BarHeight) {
		return fmt.Errorf("%w: bar size %gx%g", ErrInvalidProfile, p.BarWidth, p.BarHeight)
	}
	for i, f := range p.Fractions {
		if math.IsNaN(f) || f < 0 || f >= 1 {
			return fmt.Errorf("%w: sample fraction %d = %g, want [0, 1)", ErrInvalidProfile, i, f)
		}
	}
	return p.Tiers.Validate()
}

// Classify classifies a pixel against the profile colours.
func (p Profile) Classify(r, g, b, a byte) Class {
	return classify(p.Filled, p.Empty, r, g, b, a)
}

// steps returns the coarse sampling step for a UI scale.
func (p Profile) steps(scale float64) (int, int, error) {
	if !positive(scale) {
		return 0, 0, fmt.Errorf("%w: %g", ErrInvalidScale, scale)
	}
	sx := int(math.Floor(p.BarWidth * scale * CoarseStepFraction))
	sy := int(math.Floor(p.BarHeight * scale * CoarseStepFraction))
	if sx < 1 || sy < 1 {
		return 0, 0, fmt.Errorf("%w: %g collapses the sampling step to %dx%d", ErrInvalidScale, scale, sx, sy)
	}
	return sx, sy, nil
}

func positive(v float64) bool {
	return v > 0 && !math.IsInf(v, 1)
}
