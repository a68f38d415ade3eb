// Package timeline keeps a bounded window of recent meter readings.
package timeline

import (
	"sync"
	"time"

	"github.com/GriffinCanCode/boostmeter/internal/gauge"
	"github.com/GriffinCanCode/boostmeter/internal/orchestrator/meter"
)

// Event reports that the active bar or its tier changed.
type Event struct {
	At    time.Time  `json:"at"`
	Bar   int        `json:"bar"`
	Value float64    `json:"value"`
	Tier  gauge.Tier `json:"tier"`
	Color gauge.RGB  `json:"color"`
	Found bool       `json:"found"`
}

// Entry is one stored reading.
type Entry struct {
	At     time.Time    `json:"at"`
	Seq    uint64       `json:"seq"`
	Levels gauge.Levels `json:"levels"`
	Found  bool         `json:"found"`
}

// Store interface for timeline operations.
type Store interface {
	Add(r meter.Reading)
	Recent(window time.Duration) []Entry
	Peak(window time.Duration) gauge.Levels
	Events() <-chan Event
	Emit(event Event)
}

// MemoryStore implements Store with a fixed-size slice.
type MemoryStore struct {
	mu       sync.RWMutex
	entries  []Entry
	maxSize  int
	tiers    gauge.Tiers
	eventsCh chan Event
	last     Event
	seen     bool
}

// NewStore creates a new timeline store. Tier events are classified with tiers.
func NewStore(maxEntries, eventBuffer int, tiers gauge.Tiers) *MemoryStore {
	return &MemoryStore{
		entries:  make([]Entry, 0, maxEntries),
		maxSize:  maxEntries,
		tiers:    tiers,
		eventsCh: make(chan Event, eventBuffer),
	}
}

// Add stores a reading and emits an Event when the active bar or tier moves.
func (s *MemoryStore) Add(r meter.Reading) {
	at := r.At
	if at.IsZero() {
		at = time.Now()
	}

	s.mu.Lock()
	s.entries = append(s.entries, Entry{At: at, Seq: r.Seq, Levels: r.Levels, Found: r.Found})
	if len(s.entries) > s.maxSize {
		s.entries = s.entries[len(s.entries)-s.maxSize:]
	}

	bar, value, _ := r.Levels.Active()
	tier := s.tiers.For(value)
	ev := Event{At: at, Bar: bar, Value: value, Tier: tier, Color: s.tiers.Color(tier), Found: r.Found}
	changed := !s.seen || ev.Bar != s.last.Bar || ev.Tier != s.last.Tier || ev.Found != s.last.Found
	s.last, s.seen = ev, true
	s.mu.Unlock()

	if changed {
		s.Emit(ev)
	}
}

// Recent returns the entries no older than window, oldest first.
func (s *MemoryStore) Recent(window time.Duration) []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cutoff := time.Now().Add(-window)
	var result []Entry
	for _, e := range s.entries {
		if !e.At.Before(cutoff) {
			result = append(result, e)
		}
	}
	return result
}

// Peak returns the highest level each bar reached within window.
func (s *MemoryStore) Peak(window time.Duration) gauge.Levels {
	var peak gauge.Levels
	for _, e := range s.Recent(window) {
		for i, v := range e.Levels {
			peak[i] = max(peak[i], v)
		}
	}
	return peak
}

// Events returns the channel for tier change events.
func (s *MemoryStore) Events() <-chan Event {
	return s.eventsCh
}

// Emit sends an event (non-blocking).
func (s *MemoryStore) Emit(event Event) {
	select {
	case s.eventsCh <- event:
	default:
	}
}

// Entries returns a copy of all entries.
func (s *MemoryStore) Entries() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]Entry, len(s.entries))
	copy(result, s.entries)
	return result
}
