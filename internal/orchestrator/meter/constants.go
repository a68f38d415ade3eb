// Package meter runs the capture loop that turns frames into meter readings.
package meter

import "time"

// Meter processing constants
const (
	// Frame timestamps kept for the FPS average
	FPSWindow = 60

	// Buffered events before Emit starts dropping
	EventBuffer = 64

	// Default wait for the loop to finish its frame after RequestStop
	DefaultStopTimeout = time.Second
)
