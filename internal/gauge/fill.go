package gauge

import (
	"math"
)

// Levels holds the fill ratio of each bar, left to right.
type Levels [BarCount]float64

// Active returns the highest bar with a positive fill.
func (l Levels) Active() (int, float64, bool) {
	for i := len(l) - 1; i >= 0; i-- {
		if l[i] > 0 {
			return i, l[i], true
		}
	}
	return 0, 0, false
}

// BoundsObserver is told where the meter is before its bars are sampled.
type BoundsObserver interface {
	OnBoundsFound(Box)
}

// BoundsObserverFunc adapts a function to BoundsObserver.
type BoundsObserverFunc func(Box)

// OnBoundsFound calls fn(b).
func (fn BoundsObserverFunc) OnBoundsFound(b Box) { fn(b) }

// Estimator runs the bounds search and fill sampling for one profile.
// It holds no per-frame state and is safe for concurrent use.
type Estimator struct {
	profile Profile
}

var defaultEstimator = &Estimator{profile: DefaultProfile()}

// NewEstimator validates p and returns an estimator for it.
func NewEstimator(p Profile) (*Estimator, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &Estimator{profile: p}, nil
}

// Default returns the estimator for DefaultProfile.
func Default() *Estimator { return defaultEstimator }

// Profile returns the estimator's profile.
func (e *Estimator) Profile() Profile { return e.profile }

// Estimate samples the meter using the default profile.
func Estimate(f Frame, scale float64, obs BoundsObserver) (Levels, Search, error) {
	return defaultEstimator.Estimate(f, scale, obs)
}

// Estimate finds the meter and returns the fill ratio of each bar. When no meter is
// found the levels are all zero and obs is not called. Otherwise obs (if non-nil) is
// called exactly once with the final box before any column is sampled.
func (e *Estimator) Estimate(f Frame, scale float64, obs BoundsObserver) (Levels, Search, error) {
	var levels Levels
	s, err := e.FindBounds(f, scale)
	if err != nil {
		return levels, s, err
	}
	box := s.Box
	if !s.Found || box.Width() <= 0 || box.Height() <= 0 {
		return levels, s, nil
	}

	if obs != nil {
		obs.OnBoundsFound(box)
	}

	for i, frac := range e.profile.Fractions {
		x := box.Left + int(math.Floor(float64(box.Width())*frac))
		levels[i] = e.sampleColumn(f, x, box.Top, box.Height())
	}
	return levels, s, nil
}

// sampleColumn walks rows [top, top+rows) at column x. Anything that is not the empty
// colour counts as filled, which includes the black cut-off line at the fill edge.
func (e *Estimator) sampleColumn(f Frame, x, top, rows int) float64 {
	var filled, empty int
	for y := top; y < top+rows; y++ {
		i, ok := f.offset(x, y)
		if !ok {
			continue
		}
		if e.profile.Classify(f.Pix[i], f.Pix[i+1], f.Pix[i+2], f.Pix[i+3]) == Empty {
			empty++
		} else {
			filled++
		}
	}
	if filled+empty == 0 {
		return 0
	}
	return float64(filled) / float64(filled+empty)
}
