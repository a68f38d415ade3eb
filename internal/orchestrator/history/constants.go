// Package history batches meter readings into the history store
package history

import "time"

// Batcher defaults
const (
	DefaultBatcherMaxSize    = 50
	DefaultBatcherFlushDelay = 2 * time.Second
)
