package history

import (
	"context"
	"sync"
	"time"

	historydb "github.com/GriffinCanCode/boostmeter/internal/history"
	"github.com/GriffinCanCode/boostmeter/internal/orchestrator/meter"
	"github.com/GriffinCanCode/boostmeter/internal/trace"
)

// Sink persists a batch of records.
type Sink interface {
	InsertReadings(ctx context.Context, records []historydb.Record) error
}

// Batcher accumulates readings and flushes them in batches.
type Batcher struct {
	sink       Sink
	maxSize    int
	flushDelay time.Duration
	mu         sync.Mutex
	items      []historydb.Record
	timer      *time.Timer
	stopped    bool
	wg         sync.WaitGroup
}

// NewBatcher creates a reading batcher.
func NewBatcher(sink Sink, maxSize int, flushDelay time.Duration) *Batcher {
	if maxSize <= 0 {
		maxSize = DefaultBatcherMaxSize
	}
	if flushDelay <= 0 {
		flushDelay = DefaultBatcherFlushDelay
	}
	return &Batcher{
		sink:       sink,
		maxSize:    maxSize,
		flushDelay: flushDelay,
		items:      make([]historydb.Record, 0, maxSize),
	}
}

// Add queues a reading for batched storage. Readings added after Stop are dropped.
func (b *Batcher) Add(r meter.Reading) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stopped {
		return
	}

	b.items = append(b.items, historydb.Record{
		At:     r.At,
		Seq:    r.Seq,
		Found:  r.Found,
		Levels: r.Levels,
		Box:    r.Box,
	})

	if len(b.items) >= b.maxSize {
		b.flushLocked()
		return
	}

	if b.timer == nil {
		b.timer = time.AfterFunc(b.flushDelay, b.timerFlush)
	} else {
		b.timer.Reset(b.flushDelay)
	}
}

func (b *Batcher) timerFlush() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.flushLocked()
}

func (b *Batcher) flushLocked() {
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	if len(b.items) == 0 {
		return
	}
	items := b.items
	b.items = make([]historydb.Record, 0, b.maxSize)

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		ctx, span := trace.StartSpan(context.Background(), "history_batch_flush")
		defer span.End()
		span.SetAttr("count", len(items))

		log := trace.Logger(ctx)
		if err := b.sink.InsertReadings(ctx, items); err != nil {
			span.SetError(err)
			log.Warn("history batch store failed", "error", err, "count", len(items))
			return
		}
		log.Debug("history batch stored", "count", len(items))
	}()
}

// Flush forces immediate flush of pending readings.
func (b *Batcher) Flush() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.flushLocked()
}

// Pending returns the number of readings waiting for a flush.
func (b *Batcher) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.items)
}

// Stop flushes remaining readings and waits for in-flight writes.
func (b *Batcher) Stop() {
	b.mu.Lock()
	b.stopped = true
	b.flushLocked()
	b.mu.Unlock()
	b.wg.Wait()
}
