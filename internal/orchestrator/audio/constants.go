// Package audio serialises alert cues onto a single player
package audio

import "time"

// Cue queue constants
const (
	// Pending cues before new ones are dropped
	QueueSize = 4

	// Upper bound on a single cue
	CueTimeout = 2 * time.Second
)
