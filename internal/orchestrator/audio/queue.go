package audio

import (
	"context"
	"sync/atomic"

	"github.com/GriffinCanCode/boostmeter/internal/trace"
)

// Player plays the cue for a bar index.
type Player interface {
	Cue(ctx context.Context, bar int) error
}

// Queue plays cues one at a time in the order they were requested.
type Queue struct {
	player  Player
	cues    chan int
	dropped atomic.Uint64
}

// NewQueue creates a cue queue. Run must be started for cues to play.
func NewQueue(player Player) *Queue {
	return &Queue{player: player, cues: make(chan int, QueueSize)}
}

// Enqueue schedules a cue without blocking. It reports false when the queue is full.
func (q *Queue) Enqueue(bar int) bool {
	select {
	case q.cues <- bar:
		return true
	default:
		q.dropped.Add(1)
		return false
	}
}

// Dropped returns the number of cues discarded because the queue was full.
func (q *Queue) Dropped() uint64 {
	return q.dropped.Load()
}

// Run plays queued cues until ctx is done or stopCh closes.
func (q *Queue) Run(ctx context.Context, stopCh <-chan struct{}) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case bar := <-q.cues:
			q.play(ctx, bar)
		}
	}
}

func (q *Queue) play(ctx context.Context, bar int) {
	ctx, cancel := context.WithTimeout(ctx, CueTimeout)
	defer cancel()
	ctx, span := trace.StartSpan(ctx, "play_cue")
	defer span.End()
	span.SetAttr("bar", bar)

	if err := q.player.Cue(ctx, bar); err != nil {
		span.SetError(err)
		trace.Logger(ctx).Warn("cue playback failed", "bar", bar, "error", err)
	}
}
