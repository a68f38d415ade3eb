package gauge

import (
	"fmt"
	"image"
)

// Box is an inclusive pixel rectangle.
type Box struct {
	Left   int `json:"left"`
	Top    int `json:"top"`
	Right  int `json:"right"`
	Bottom int `json:"bottom"`
}

// Width is Right-Left; the sampler treats it as the meter width.
func (b Box) Width() int { return b.Right - b.Left }

// Height is Bottom-Top; the sampler scans exactly this many rows.
func (b Box) Height() int { return b.Bottom - b.Top }

// Valid reports whether the box has positive width and height.
func (b Box) Valid() bool { return b.Left < b.Right && b.Top < b.Bottom }

// Rect converts the inclusive box to a half-open image.Rectangle.
func (b Box) Rect() image.Rectangle {
	return image.Rect(b.Left, b.Top, b.Right+1, b.Bottom+1)
}

func (b Box) String() string {
	return fmt.Sprintf("(%d,%d)-(%d,%d)", b.Left, b.Top, b.Right, b.Bottom)
}

// Search is the outcome of a bounds search. Box is only meaningful when Found is true.
type Search struct {
	Box   Box  `json:"box"`
	Found bool `json:"found"`
}

// extent accumulates the bounding box of classified pixels.
type extent struct {
	box Box
	hit bool
}

func (e *extent) add(x, y int) {
	if !e.hit {
		e.box = Box{Left: x, Top: y, Right: x, Bottom: y}
		e.hit = true
		return
	}
	e.box.Left = min(e.box.Left, x)
	e.box.Right = max(e.box.Right, x)
	e.box.Top = min(e.box.Top, y)
	e.box.Bottom = max(e.box.Bottom, y)
}

func (e *extent) merge(o extent) {
	if !o.hit {
		return
	}
	e.add(o.box.Left, o.box.Top)
	e.add(o.box.Right, o.box.Bottom)
}

func (e extent) search() Search {
	return Search{Box: e.box, Found: e.hit && e.box.Valid()}
}

// FindBounds locates the meter using the default profile.
func FindBounds(f Frame, scale float64) (Search, error) {
	return defaultEstimator.FindBounds(f, scale)
}

// FindBounds locates the smallest box enclosing every filled or empty pixel in the
// lower-right quadrant. A sparse pass at half the scaled bar size finds the rough
// area, then every pixel within one step of it is checked to tighten the edges.
func (e *Estimator) FindBounds(f Frame, scale float64) (Search, error) {
	if err := f.Validate(); err != nil {
		return Search{}, err
	}
	stepX, stepY, err := e.profile.steps(scale)
	if err != nil {
		return Search{}, err
	}

	left := int(float64(f.Width) * SearchRegionStart)
	top := int(float64(f.Height) * SearchRegionStart)

	coarse := e.scan(f, left, f.Width, stepX, top, f.Height, stepY)
	if s := coarse.search(); !s.Found {
		return s, nil
	}

	b := coarse.box
	refined := e.scan(f, b.Left-stepX, b.Right+stepX+1, 1, b.Top-stepY, b.Bottom+stepY+1, 1)
	coarse.merge(refined)
	return coarse.search(), nil
}

// scan visits [x0,x1) x [y0,y1) at the given steps. Coordinates outside the frame are skipped.
func (e *Estimator) scan(f Frame, x0, x1, dx, y0, y1, dy int) extent {
	var ext extent
	for x := x0; x < x1; x += dx {
		for y := y0; y < y1; y += dy {
			i, ok := f.offset(x, y)
			if !ok {
				continue
			}
			if e.profile.Classify(f.Pix[i], f.Pix[i+1], f.Pix[i+2], f.Pix[i+3]) != Neither {
				ext.add(x, y)
			}
		}
	}
	return ext
}
