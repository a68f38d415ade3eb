package gauge

// Display maps the reference resolution onto the current desktop and render target.
type Display struct {
	SystemWidth  int
	SystemHeight int
	RenderWidth  int
	RenderHeight int
}

// ScaleX is the horizontal UI scale for a viewport width.
func (d Display) ScaleX(viewportWidth float64) float64 {
	return uiScale(ReferenceWidth, d.SystemWidth, d.RenderWidth, viewportWidth)
}

// ScaleY is the vertical UI scale for a viewport height.
func (d Display) ScaleY(viewportHeight float64) float64 {
	return uiScale(ReferenceHeight, d.SystemHeight, d.RenderHeight, viewportHeight)
}

// Scale is the smaller of ScaleX and ScaleY so UI elements fit either axis.
func (d Display) Scale(viewportWidth, viewportHeight float64) float64 {
	return min(d.ScaleX(viewportWidth), d.ScaleY(viewportHeight))
}

// ScaleForFrame derives the UI scale when a frame is rendered at its native size.
func ScaleForFrame(width, height int) float64 {
	d := Display{SystemWidth: width, SystemHeight: height, RenderWidth: width, RenderHeight: height}
	return d.Scale(float64(width), float64(height))
}

func uiScale(base, system, render int, viewport float64) float64 {
	if render <= 0 {
		return 0
	}
	return float64(system) / float64(base) * (viewport / float64(render))
}
