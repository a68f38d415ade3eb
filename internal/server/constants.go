// Package server provides HTTP and WebSocket handlers
package server

import "time"

// Server configuration constants
const (
	// Per-connection inbound message limit
	RateLimitMessages = 20
	RateLimitWindow   = time.Second

	// Bounds for GET /api/history
	DefaultHistoryLimit = 100
	MaxHistoryLimit     = 5000

	// Largest image accepted by POST /api/analyze
	MaxUploadBytes  = 32 << 20
	// Largest decoded size, checked from the image header (8K UHD)
	MaxUploadPixels = 7680 * 4320

	// Default window for GET /api/peak
	DefaultPeakWindow = 30 * time.Second

	// Per-message deadline for WebSocket broadcasts
	BroadcastWriteTimeout = 2 * time.Second
)
