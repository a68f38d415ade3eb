package gauge

import "fmt"

// Tier buckets a fill ratio for display colouring.
type Tier uint8

const (
	TierLow Tier = iota
	TierCharged
	TierHot
	TierMax
)

const tierCount = 4

var tierNames = [tierCount]string{"low", "charged", "hot", "max"}

func (t Tier) String() string {
	if int(t) >= tierCount {
		return fmt.Sprintf("tier(%d)", t)
	}
	return tierNames[t]
}

// MarshalText encodes the tier by name.
func (t Tier) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText decodes a tier name.
func (t *Tier) UnmarshalText(text []byte) error {
	for i, name := range tierNames {
		if name == string(text) {
			*t = Tier(i)
			return nil
		}
	}
	return fmt.Errorf("unknown tier %q", text)
}

// Default tier colours: green, yellow, orange, red.
var TierColors = [tierCount]RGB{
	{R: 0x00, G: 0xFF, B: 0x00},
	{R: 0xFF, G: 0xD8, B: 0x00},
	{R: 0xFF, G: 0x6A, B: 0x00},
	{R: 0xFF, G: 0x00, B: 0x00},
}

// Tiers holds the fill ratios at which a bar changes tier and the colour of each tier.
type Tiers struct {
	Charged float64        `yaml:"charged"`
	Hot     float64        `yaml:"hot"`
	Max     float64        `yaml:"max"`
	Colors  [tierCount]RGB `yaml:"colors"`
}

func DefaultTiers() Tiers {
	return Tiers{Charged: ChargedThreshold, Hot: HotThreshold, Max: MaxThreshold, Colors: TierColors}
}

// Validate requires 0 < Charged <= Hot <= Max <= 1.
func (t Tiers) Validate() error {
	if !(t.Charged > 0 && t.Charged <= t.Hot && t.Hot <= t.Max && t.Max <= 1) {
		return fmt.Errorf("%w: tier thresholds %g/%g/%g must rise within (0, 1]", ErrInvalidProfile, t.Charged, t.Hot, t.Max)
	}
	return nil
}

// For returns the tier of a fill ratio.
func (t Tiers) For(v float64) Tier {
	switch {
	case v >= t.Max:
		return TierMax
	case v >= t.Hot:
		return TierHot
	case v >= t.Charged:
		return TierCharged
	default:
		return TierLow
	}
}

func (t Tiers) Color(tier Tier) RGB {
	return t.Colors[tier]
}

// TierFor returns the tier of a fill ratio under the default thresholds.
func TierFor(v float64) Tier {
	return DefaultTiers().For(v)
}
