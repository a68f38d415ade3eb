// Package gauge locates the boost meter in a captured frame and samples its fill levels
package gauge

// Reference geometry and sampling constants
const (
	// Number of bars that make up the meter
	BarCount = 3

	// Coloured area of one bar at the reference resolution, minus one pixel for safety
	ReferenceBarWidth  = 27.0
	ReferenceBarHeight = 111.0

	// Resolution the reference bar size was measured at
	ReferenceWidth  = 1920
	ReferenceHeight = 1080

	// The meter lives in the lower-right quadrant; the search starts at this fraction of W and H
	SearchRegionStart = 0.5

	// Coarse sampling step as a fraction of the scaled bar size
	CoarseStepFraction = 0.5

	// Bytes per RGBA8 pixel
	BytesPerPixel = 4
)

// SampleFractions are the horizontal positions, relative to the meter width, of the three bars.
var SampleFractions = [BarCount]float64{0.1, 0.5, 0.9}

// Default tier thresholds. Charged is where a bar first holds a boost.
const (
	ChargedThreshold = 0.5
	HotThreshold     = 0.8
	MaxThreshold     = 0.95
)
