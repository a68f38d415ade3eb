package history

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	historydb "github.com/GriffinCanCode/boostmeter/internal/history"
	"github.com/GriffinCanCode/boostmeter/internal/orchestrator/meter"
)

type mockSink struct {
	mu    sync.Mutex
	calls [][]historydb.Record
	err   error
}

func (m *mockSink) InsertReadings(_ context.Context, records []historydb.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, records)
	return m.err
}

func (m *mockSink) getCalls() [][]historydb.Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func waitForCalls(t *testing.T, m *mockSink, n int) [][]historydb.Record {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if calls := m.getCalls(); len(calls) >= n {
			return calls
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d flushes, got %d", n, len(m.getCalls()))
	return nil
}

func TestBatcher_FlushOnMaxSize(t *testing.T) {
	sink := &mockSink{}
	b := NewBatcher(sink, 3, time.Hour)
	defer b.Stop()

	for i := 1; i <= 3; i++ {
		b.Add(meter.Reading{Seq: uint64(i)})
	}

	calls := waitForCalls(t, sink, 1)
	if len(calls[0]) != 3 || calls[0][2].Seq != 3 {
		t.Errorf("batch = %+v, want seqs 1..3", calls[0])
	}
	if b.Pending() != 0 {
		t.Errorf("Pending = %d, want 0", b.Pending())
	}
}

func TestBatcher_FlushOnDelay(t *testing.T) {
	sink := &mockSink{}
	b := NewBatcher(sink, 100, 10*time.Millisecond)
	defer b.Stop()

	b.Add(meter.Reading{Seq: 1, Found: true})
	b.Add(meter.Reading{Seq: 2})

	calls := waitForCalls(t, sink, 1)
	if len(calls[0]) != 2 || !calls[0][0].Found {
		t.Errorf("batch = %+v", calls[0])
	}
}

func TestBatcher_StopFlushesRemaining(t *testing.T) {
	sink := &mockSink{}
	b := NewBatcher(sink, 100, time.Hour)

	b.Add(meter.Reading{Seq: 7})
	b.Stop()

	calls := sink.getCalls()
	if len(calls) != 1 || calls[0][0].Seq != 7 {
		t.Fatalf("calls = %+v, want the pending reading flushed", calls)
	}

	b.Add(meter.Reading{Seq: 8})
	if b.Pending() != 0 {
		t.Error("Add after Stop should be dropped")
	}
}

func TestBatcher_SinkErrorDoesNotBlock(t *testing.T) {
	sink := &mockSink{err: errors.New("disk full")}
	b := NewBatcher(sink, 1, time.Hour)

	b.Add(meter.Reading{Seq: 1})
	b.Add(meter.Reading{Seq: 2})
	b.Stop()

	if got := len(sink.getCalls()); got != 2 {
		t.Errorf("flushes = %d, want 2", got)
	}
}

func TestBatcher_Defaults(t *testing.T) {
	b := NewBatcher(&mockSink{}, 0, 0)
	if b.maxSize != DefaultBatcherMaxSize || b.flushDelay != DefaultBatcherFlushDelay {
		t.Errorf("defaults = %d, %v", b.maxSize, b.flushDelay)
	}
}
