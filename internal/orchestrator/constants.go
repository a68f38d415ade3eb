// Package orchestrator wires capture, metering, history, and alerts together
package orchestrator

import "time"

// Orchestrator configuration constants
const (
	// Buffered manager events before Emit starts dropping
	EventBuffer = 100

	// Buffered tier changes from the timeline
	TimelineEventBuffer = 32

	// A reading older than this no longer counts as healthy
	HealthyWindow = 5 * time.Second
)
